// Copyright (c) 2024-2025 The CrowdLift developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package campaigns defines the campaign aggregate and its durable store, and
// provides the orchestrator that provisions a campaign's on-ledger footprint.
package campaigns

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Campaign statuses.
const (
	StatusDraft     = "draft"
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Milestone statuses.
const (
	MilestonePending    = "pending"
	MilestoneInProgress = "in-progress"
	MilestoneCompleted  = "completed"
	MilestoneFailed     = "failed"
)

// ProofSite is the expected capture location for a milestone's photo proofs.
// Optional; when set, proof geotags must fall within the radius.
type ProofSite struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	RadiusKM  float64 `json:"radiuskm"`
}

// Milestone is a planned campaign deliverable. Each milestone is backed by
// exactly one conditioned escrow once the campaign has launched.
type Milestone struct {
	ID                string     `json:"id"`
	Title             string     `json:"title"`
	Description       string     `json:"description,omitempty"`
	TargetDate        time.Time  `json:"targetdate"`
	FundingPercentage float64    `json:"fundingpercentage"`
	Status            string     `json:"status"`
	Site              *ProofSite `json:"site,omitempty"`
	EscrowAmount      float64    `json:"escrowamount,omitempty"`
	EscrowRef         string     `json:"escrowref,omitempty"`
	ProofHash         string     `json:"proofhash,omitempty"`
}

// Pool is the campaign's liquidity pool reference with the most recently
// observed depth snapshot. Advisory; the pool account is authoritative.
type Pool struct {
	Account       string  `json:"account"`
	ReserveToken  float64 `json:"reservetoken"`
	ReserveStable float64 `json:"reservestable"`
	TradingFee    uint16  `json:"tradingfee"`
}

// Campaign is the aggregate root. A campaign is never deleted; it only
// transitions to completed or failed.
type Campaign struct {
	ID                string      `json:"id"`
	Name              string      `json:"name"`
	FundingGoal       float64     `json:"fundinggoal"`
	CurrentFunding    float64     `json:"currentfunding"`
	TokenSymbol       string      `json:"tokensymbol"`
	TokenPrice        float64     `json:"tokenprice,omitempty"`
	TotalSupply       float64     `json:"totalsupply"`
	CirculatingSupply float64     `json:"circulatingsupply"`
	Status            string      `json:"status"`
	FounderAccount    string      `json:"founderaccount"`
	LaunchedAt        time.Time   `json:"launchedat"`
	EndDate           time.Time   `json:"enddate"`
	Milestones        []Milestone `json:"milestones"`
	Pool              *Pool       `json:"pool,omitempty"`
	IdentityRef       string      `json:"identityref,omitempty"`
	CurrencyCode      string      `json:"currencycode,omitempty"`

	// Refunded is the cumulative safety-fund amount paid toward backer
	// refunds for a failed campaign. Persisted so a daemon restart never
	// re-pays a refund already made.
	Refunded float64 `json:"refunded,omitempty"`

	// NeedsReview is set when the verification oracle flags the founder
	// identity. Advisory; it never blocks a launch on its own.
	NeedsReview bool `json:"needsreview,omitempty"`
}

// Milestone returns the campaign milestone with the provided id.
func (c *Campaign) Milestone(id string) (*Milestone, error) {
	for i := range c.Milestones {
		if c.Milestones[i].ID == id {
			return &c.Milestones[i], nil
		}
	}
	return nil, fmt.Errorf("campaign %v: milestone %v not found", c.ID, id)
}

// Validate verifies the campaign is structurally sound for launch. Milestone
// funding percentages must not allocate more than the funding goal.
func (c *Campaign) Validate() error {
	if c.Name == "" {
		return errors.New("missing campaign name")
	}
	if c.FundingGoal <= 0 {
		return errors.New("funding goal must be positive")
	}
	if c.TokenSymbol == "" {
		return errors.New("missing token symbol")
	}
	if c.FounderAccount == "" {
		return errors.New("missing founder account")
	}
	if !c.EndDate.After(time.Now()) {
		return errors.New("end date must be in the future")
	}
	if len(c.Milestones) == 0 {
		return errors.New("campaign requires at least one milestone")
	}
	var pct float64
	for _, m := range c.Milestones {
		if m.FundingPercentage <= 0 {
			return fmt.Errorf("milestone %v: funding percentage "+
				"must be positive", m.Title)
		}
		if !m.TargetDate.Before(c.EndDate) {
			return fmt.Errorf("milestone %v: target date must "+
				"precede the campaign end date", m.Title)
		}
		pct += m.FundingPercentage
	}
	if pct > 100 {
		return fmt.Errorf("milestone funding percentages sum to %v%%", pct)
	}
	return nil
}

// NewID returns a new campaign or milestone identifier.
func NewID() string {
	return uuid.New().String()
}
