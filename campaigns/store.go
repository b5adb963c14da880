// Copyright (c) 2024-2025 The CrowdLift developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package campaigns

import (
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
)

// collectionKey is the leveldb key the whole campaign collection is stored
// under. The collection is loaded and saved as a unit; concurrent writers go
// through the store mutex so every write is a read-merge-write of the full
// collection.
const collectionKey = "campaigns"

// Store is the durable campaign collection, backed by leveldb.
type Store struct {
	sync.Mutex
	db *leveldb.DB
}

// NewStore opens the campaign store at the provided path, creating it if it
// does not exist.
func NewStore(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &Store{db: db}, nil
}

// Close closes the store.
func (s *Store) Close() error {
	s.Lock()
	defer s.Unlock()
	return s.db.Close()
}

// All returns every campaign in the collection. A store that has never been
// written returns an empty collection, not an error.
func (s *Store) All() ([]Campaign, error) {
	s.Lock()
	defer s.Unlock()
	return s.allLocked()
}

func (s *Store) allLocked() ([]Campaign, error) {
	b, err := s.db.Get([]byte(collectionKey), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return []Campaign{}, nil
		}
		return nil, errors.WithStack(err)
	}
	var cs []Campaign
	if err := json.Unmarshal(b, &cs); err != nil {
		return nil, errors.WithStack(err)
	}
	return cs, nil
}

func (s *Store) saveLocked(cs []Campaign) error {
	b, err := json.Marshal(cs)
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(s.db.Put([]byte(collectionKey), b, nil))
}

// Get returns the campaign with the provided id.
func (s *Store) Get(id string) (*Campaign, error) {
	s.Lock()
	defer s.Unlock()
	cs, err := s.allLocked()
	if err != nil {
		return nil, err
	}
	for i := range cs {
		if cs[i].ID == id {
			return &cs[i], nil
		}
	}
	return nil, errors.Errorf("campaign %v not found", id)
}

// Put inserts or replaces a campaign in the collection.
func (s *Store) Put(c Campaign) error {
	s.Lock()
	defer s.Unlock()
	cs, err := s.allLocked()
	if err != nil {
		return err
	}
	replaced := false
	for i := range cs {
		if cs[i].ID == c.ID {
			cs[i] = c
			replaced = true
			break
		}
	}
	if !replaced {
		cs = append(cs, c)
	}
	return s.saveLocked(cs)
}

// launchKeyPrefix prefixes the leveldb keys launch bookkeeping is stored
// under. Launch state lives outside the campaign collection so a campaign
// that failed mid-launch never appears in a durable listing.
const launchKeyPrefix = "launch:"

// LaunchState records which provisioning steps of a campaign launch have
// completed, so a retry resumes instead of re-running steps that are not
// idempotent.
type LaunchState struct {
	Campaign        Campaign `json:"campaign"`
	IdentityRef     string   `json:"identityref,omitempty"`
	RipplingEnabled bool     `json:"ripplingenabled,omitempty"`
	CurrencyCode    string   `json:"currencycode,omitempty"`
	PoolAccount     string   `json:"poolaccount,omitempty"`
}

// GetLaunch returns the launch state for a campaign, or nil if no launch is
// in progress.
func (s *Store) GetLaunch(campaignID string) (*LaunchState, error) {
	s.Lock()
	defer s.Unlock()
	b, err := s.db.Get([]byte(launchKeyPrefix+campaignID), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, nil
		}
		return nil, errors.WithStack(err)
	}
	var ls LaunchState
	if err := json.Unmarshal(b, &ls); err != nil {
		return nil, errors.WithStack(err)
	}
	return &ls, nil
}

// PutLaunch saves launch state.
func (s *Store) PutLaunch(ls *LaunchState) error {
	s.Lock()
	defer s.Unlock()
	b, err := json.Marshal(ls)
	if err != nil {
		return errors.WithStack(err)
	}
	key := []byte(launchKeyPrefix + ls.Campaign.ID)
	return errors.WithStack(s.db.Put(key, b, nil))
}

// DelLaunch removes launch state once a launch has fully completed.
func (s *Store) DelLaunch(campaignID string) error {
	s.Lock()
	defer s.Unlock()
	key := []byte(launchKeyPrefix + campaignID)
	return errors.WithStack(s.db.Delete(key, nil))
}

// Update applies fn to the campaign with the provided id and saves the
// merged collection.
func (s *Store) Update(id string, fn func(*Campaign) error) error {
	s.Lock()
	defer s.Unlock()
	cs, err := s.allLocked()
	if err != nil {
		return err
	}
	for i := range cs {
		if cs[i].ID == id {
			if err := fn(&cs[i]); err != nil {
				return err
			}
			return s.saveLocked(cs)
		}
	}
	return errors.Errorf("campaign %v not found", id)
}
