// Copyright (c) 2024-2025 The CrowdLift developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/crowdlift/crowdlift/ledger"
	"github.com/pkg/errors"
)

// Signing roles. Key material never enters this process; each role maps to
// an account whose keys are held by the external signing service.
const (
	roleTreasury   = "treasury"
	roleSafetyFund = "safetyfund"
)

// signerRoles is the on-disk mapping of signing roles to ledger accounts,
// loaded from the signers file in the application home directory.
type signerRoles map[string]string

// loadSignerRoles loads and validates the signers file.
func loadSignerRoles(path string) (signerRoles, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var roles signerRoles
	if err := json.Unmarshal(b, &roles); err != nil {
		return nil, errors.Wrapf(err, "parse %v", path)
	}
	for _, role := range []string{roleTreasury, roleSafetyFund} {
		addr, ok := roles[role]
		if !ok {
			return nil, errors.Errorf("%v: missing role %v", path, role)
		}
		if !ledger.ValidAddress(addr) {
			return nil, errors.Errorf("%v: invalid account %v for "+
				"role %v", path, addr, role)
		}
	}
	return roles, nil
}

// remoteSigner signs transactions through the external signing service. The
// service holds the seeds; this process only ever sees prepared transaction
// JSON going out and signed blobs coming back.
type remoteSigner struct {
	address string
	url     string
	client  *http.Client
}

var _ ledger.Signer = (*remoteSigner)(nil)

// newRemoteSigner returns a signer for the provided account backed by the
// signing service at host.
func newRemoteSigner(host, address string) *remoteSigner {
	return &remoteSigner{
		address: address,
		url:     fmt.Sprintf("http://%v/v1/sign", host),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Address satisfies the ledger Signer interface.
func (s *remoteSigner) Address() string {
	return s.address
}

type signRequest struct {
	Account string          `json:"account"`
	Tx      json.RawMessage `json:"tx"`
}

type signReply struct {
	Blob  string `json:"blob"`
	Hash  string `json:"hash"`
	Error string `json:"error,omitempty"`
}

// Sign satisfies the ledger Signer interface.
func (s *remoteSigner) Sign(txJSON []byte) (string, string, error) {
	body, err := json.Marshal(signRequest{
		Account: s.address,
		Tx:      txJSON,
	})
	if err != nil {
		return "", "", err
	}
	resp, err := s.client.Post(s.url, "application/json",
		bytes.NewReader(body))
	if err != nil {
		return "", "", errors.Wrapf(err, "signing service")
	}
	defer resp.Body.Close()

	var reply signReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return "", "", errors.Wrapf(err, "signing service reply")
	}
	if resp.StatusCode != http.StatusOK || reply.Error != "" {
		return "", "", errors.Errorf("signing service: %v %v",
			resp.StatusCode, reply.Error)
	}
	if reply.Blob == "" || reply.Hash == "" {
		return "", "", errors.New("signing service returned empty blob")
	}
	return reply.Blob, reply.Hash, nil
}
