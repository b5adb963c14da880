// Copyright (c) 2024-2025 The CrowdLift developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package milestones verifies milestone photo proofs and anchors them on the
// ledger. A proof is validated locally (geotag range, freshness, optional
// haversine radius), stored off-chain in a content-addressed store, and
// anchored on-chain by its content hash. An approved proof releases the
// milestone's escrow.
package milestones

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/crowdlift/crowdlift/escrow"
	"github.com/crowdlift/crowdlift/ledger"
)

// proofFreshnessWindow bounds how old a proof's capture timestamp may be.
const proofFreshnessWindow = 24 * time.Hour

// Proof record statuses.
const (
	ProofPending  = "pending"
	ProofApproved = "approved"
	ProofRejected = "rejected"
)

var (
	// ErrInvalidGeotag is returned for out-of-range coordinates.
	ErrInvalidGeotag = errors.New("geotag out of range")

	// ErrStaleProof is returned when the capture timestamp falls outside
	// the freshness window.
	ErrStaleProof = errors.New("proof capture timestamp too old")

	// ErrOutsideRadius is returned when the proof's geotag is farther
	// from the expected location than the allowed radius.
	ErrOutsideRadius = errors.New("proof captured outside allowed radius")
)

// Geotag is the capture location and time embedded in a photo proof.
type Geotag struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
	Accuracy  float64   `json:"accuracy,omitempty"` // Meters, optional
}

// Location is an expected capture location with an allowed radius.
type Location struct {
	Latitude  float64
	Longitude float64
	RadiusKM  float64
}

// PhotoProof is the ephemeral proof submission. The raw image is stored
// off-chain only; it never touches the ledger.
type PhotoProof struct {
	CampaignID  string
	MilestoneID string
	Image       []byte
	Description string
	Geotag      Geotag
}

// ProofRecord is the permanent record produced from a photo proof.
type ProofRecord struct {
	CampaignID     string `json:"campaignid"`
	MilestoneID    string `json:"milestoneid"`
	ProofHash      string `json:"proofhash"`
	StoragePointer string `json:"storagepointer"`
	AnchorTx       string `json:"anchortx"`
	Geotag         Geotag `json:"geotag"`
	Status         string `json:"status"`
}

// haversineKM returns the great-circle distance between two coordinates in
// kilometers.
func haversineKM(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKM = 6371
	rad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := rad(lat2 - lat1)
	dLon := rad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKM * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// Verifier validates, stores, and anchors milestone proofs.
type Verifier struct {
	gateway   *ledger.Gateway
	store     Store
	scheduler *escrow.Scheduler
	now       func() time.Time
}

// NewVerifier returns a new milestone Verifier.
func NewVerifier(g *ledger.Gateway, store Store, scheduler *escrow.Scheduler) *Verifier {
	return &Verifier{
		gateway:   g,
		store:     store,
		scheduler: scheduler,
		now:       time.Now,
	}
}

// ValidateProof verifies a proof's geotag and freshness before any network
// or storage interaction. The expected location is optional; when provided,
// the capture point must fall within its radius.
func (v *Verifier) ValidateProof(p *PhotoProof, expected *Location) error {
	if len(p.Image) == 0 {
		return errors.New("missing proof image")
	}
	g := p.Geotag
	if g.Latitude < -90 || g.Latitude > 90 ||
		g.Longitude < -180 || g.Longitude > 180 {
		return fmt.Errorf("%w: %v,%v", ErrInvalidGeotag, g.Latitude,
			g.Longitude)
	}
	now := v.now()
	if g.Timestamp.Before(now.Add(-proofFreshnessWindow)) {
		return fmt.Errorf("%w: captured %v", ErrStaleProof, g.Timestamp)
	}
	if g.Timestamp.After(now.Add(time.Hour)) {
		return fmt.Errorf("%w: captured in the future", ErrInvalidGeotag)
	}
	if expected != nil {
		d := haversineKM(g.Latitude, g.Longitude,
			expected.Latitude, expected.Longitude)
		if d > expected.RadiusKM {
			return fmt.Errorf("%w: %.2fkm from expected location",
				ErrOutsideRadius, d)
		}
	}
	return nil
}

// AnchorProof validates the proof, stores the image in the content-addressed
// store, and anchors the proof metadata on the ledger in a memo on a minimal
// self-referential transaction.
func (v *Verifier) AnchorProof(ctx context.Context, p *PhotoProof, expected *Location, signer ledger.Signer) (*ProofRecord, error) {
	if err := v.ValidateProof(p, expected); err != nil {
		return nil, err
	}

	h := sha256.Sum256(p.Image)
	proofHash := hex.EncodeToString(h[:])
	pointer, err := v.store.Put(p.Image)
	if err != nil {
		return nil, fmt.Errorf("store proof: %w", err)
	}

	memo, err := ledger.JSONMemo("crowdlift/proof", map[string]interface{}{
		"milestoneId":    p.MilestoneID,
		"campaignId":     p.CampaignID,
		"proofHash":      proofHash,
		"storagePointer": pointer,
		"geotag":         p.Geotag,
	})
	if err != nil {
		return nil, err
	}
	receipt, err := v.gateway.Submit(ctx, ledger.AccountSet{
		Account: signer.Address(),
		Memos:   []ledger.Memo{memo},
	}, signer)
	if err != nil {
		return nil, fmt.Errorf("anchor proof: %w", err)
	}
	if !receipt.Succeeded() {
		return nil, fmt.Errorf("anchor proof: %v", receipt.Result)
	}

	log.Infof("Proof %v anchored for milestone %v (tx %v)", proofHash,
		p.MilestoneID, receipt.Hash)
	return &ProofRecord{
		CampaignID:     p.CampaignID,
		MilestoneID:    p.MilestoneID,
		ProofHash:      proofHash,
		StoragePointer: pointer,
		AnchorTx:       receipt.Hash,
		Geotag:         p.Geotag,
		Status:         ProofPending,
	}, nil
}

// RetrieveProof fetches the stored proof payload and verifies it still
// hashes to the record's proof hash. A mismatch invalidates the proof.
func (v *Verifier) RetrieveProof(rec *ProofRecord) ([]byte, error) {
	payload, err := v.store.Get(rec.StoragePointer)
	if err != nil {
		return nil, err
	}
	h := sha256.Sum256(payload)
	if hex.EncodeToString(h[:]) != rec.ProofHash {
		return nil, fmt.Errorf("proof %v: %w", rec.ProofHash,
			ErrProofMismatch)
	}
	return payload, nil
}

// Fulfillment returns the escrow fulfillment for a verified proof record.
// The derivation is shared with the escrow scheduler's condition derivation,
// so the fulfillment can be regenerated from the record without any stored
// secret.
func Fulfillment(rec *ProofRecord) string {
	return escrow.Fulfillment(rec.MilestoneID)
}

// Judge records an auditor's decision on a proof as another anchored record.
// On approval the milestone's escrow is finished, releasing the locked funds
// to the campaign founder.
func (v *Verifier) Judge(ctx context.Context, rec *ProofRecord, approved bool, ref escrow.Ref, signer ledger.Signer) error {
	memo, err := ledger.JSONMemo("crowdlift/judgement", map[string]interface{}{
		"milestoneId": rec.MilestoneID,
		"proofHash":   rec.ProofHash,
		"approved":    approved,
	})
	if err != nil {
		return err
	}
	receipt, err := v.gateway.Submit(ctx, ledger.AccountSet{
		Account: signer.Address(),
		Memos:   []ledger.Memo{memo},
	}, signer)
	if err != nil {
		return fmt.Errorf("anchor judgement: %w", err)
	}
	if !receipt.Succeeded() {
		return fmt.Errorf("anchor judgement: %v", receipt.Result)
	}

	if !approved {
		rec.Status = ProofRejected
		log.Infof("Proof %v rejected for milestone %v", rec.ProofHash,
			rec.MilestoneID)
		return nil
	}

	if err := v.scheduler.Finish(ctx, ref, rec.MilestoneID, signer); err != nil {
		return fmt.Errorf("release escrow for milestone %v: %w",
			rec.MilestoneID, err)
	}
	rec.Status = ProofApproved
	log.Infof("Proof %v approved for milestone %v; escrow %v released",
		rec.ProofHash, rec.MilestoneID, ref)
	return nil
}
