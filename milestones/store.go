// Copyright (c) 2024-2025 The CrowdLift developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package milestones

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"

	"github.com/crowdlift/crowdlift/util"
	"github.com/marcopeereboom/sbox"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
)

// encryptionKeyFilename is the filename of the proof store encryption key
// created in the store data directory.
const encryptionKeyFilename = "proofs-sbox.key"

// Store is the off-chain content-addressed proof store. The pointer returned
// by Put is the hex SHA-256 of the payload; Get verifies the retrieved
// payload still hashes to its pointer.
type Store interface {
	Put(payload []byte) (pointer string, err error)
	Get(pointer string) ([]byte, error)
}

// ErrProofMismatch is returned when retrieved proof content does not hash to
// its storage pointer.
var ErrProofMismatch = errors.New("proof content does not match pointer")

// localStore implements Store using leveldb with sbox encryption at rest. A
// random secretbox key is created on first startup and saved alongside the
// database.
type localStore struct {
	sync.Mutex
	db  *leveldb.DB
	key *[32]byte
}

var _ Store = (*localStore)(nil)

// NewStore returns a leveldb-backed proof store rooted at the provided
// directory.
func NewStore(dataDir string) (Store, error) {
	err := os.MkdirAll(dataDir, 0700)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	key, err := loadEncryptionKey(filepath.Join(dataDir, encryptionKeyFilename))
	if err != nil {
		return nil, err
	}
	db, err := leveldb.OpenFile(filepath.Join(dataDir, "proofs"), nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &localStore{
		db:  db,
		key: key,
	}, nil
}

// loadEncryptionKey loads the sbox key from disk, generating and saving a
// new one if it does not exist yet.
func loadEncryptionKey(path string) (*[32]byte, error) {
	var key [32]byte
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(b) != len(key) {
			return nil, errors.Errorf("corrupt encryption key %v", path)
		}
		copy(key[:], b)
		return &key, nil
	case os.IsNotExist(err):
		// Generate below.
	default:
		return nil, errors.WithStack(err)
	}

	b, err = util.Random(len(key))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	copy(key[:], b)
	if err := os.WriteFile(path, key[:], 0600); err != nil {
		return nil, errors.WithStack(err)
	}
	log.Infof("Proof store encryption key saved to %v", path)
	return &key, nil
}

// Put saves a payload and returns its content hash pointer.
func (s *localStore) Put(payload []byte) (string, error) {
	s.Lock()
	defer s.Unlock()

	h := sha256.Sum256(payload)
	pointer := hex.EncodeToString(h[:])
	e, err := sbox.Encrypt(0, s.key, payload)
	if err != nil {
		return "", errors.WithStack(err)
	}
	if err := s.db.Put([]byte(pointer), e, nil); err != nil {
		return "", errors.WithStack(err)
	}
	return pointer, nil
}

// Get retrieves a payload by pointer and verifies its content hash.
func (s *localStore) Get(pointer string) ([]byte, error) {
	s.Lock()
	defer s.Unlock()

	b, err := s.db.Get([]byte(pointer), nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	payload, _, err := sbox.Decrypt(s.key, b)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	h := sha256.Sum256(payload)
	if hex.EncodeToString(h[:]) != pointer {
		return nil, errors.Wrapf(ErrProofMismatch, "pointer %v", pointer)
	}
	return payload, nil
}
