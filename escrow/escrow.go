// Copyright (c) 2024-2025 The CrowdLift developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package escrow creates and settles the conditioned escrows backing
// campaign milestones. Each milestone is backed by exactly one escrow whose
// condition is derived deterministically from the milestone id.
package escrow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/crowdlift/crowdlift/ledger"
)

var (
	// ErrPreconditionFailed is returned when an escrow's time bound or
	// condition is not yet satisfied.
	ErrPreconditionFailed = errors.New("escrow precondition not satisfied")

	// ErrAlreadySettled is returned on an attempt to finish or cancel an
	// escrow this scheduler has already settled. The ledger enforces
	// single release; this guard keeps the second attempt off the
	// network entirely.
	ErrAlreadySettled = errors.New("escrow already settled")
)

// Ref identifies an escrow object on the ledger by its owner and the
// sequence number of the transaction that created it.
type Ref struct {
	Owner    string
	Sequence uint32
}

// String returns the canonical owner:sequence encoding.
func (r Ref) String() string {
	return fmt.Sprintf("%v:%v", r.Owner, r.Sequence)
}

// ParseRef parses a canonical owner:sequence escrow reference.
func ParseRef(s string) (Ref, error) {
	i := strings.LastIndex(s, ":")
	if i < 1 || i == len(s)-1 {
		return Ref{}, fmt.Errorf("malformed escrow ref %q", s)
	}
	seq, err := strconv.ParseUint(s[i+1:], 10, 32)
	if err != nil {
		return Ref{}, fmt.Errorf("malformed escrow ref %q: %v", s, err)
	}
	return Ref{
		Owner:    s[:i],
		Sequence: uint32(seq),
	}, nil
}

// Scheduler creates, finishes, and cancels milestone escrows.
type Scheduler struct {
	gateway *ledger.Gateway
	now     func() time.Time

	mtx     sync.Mutex
	settled map[string]struct{}
}

// NewScheduler returns a new escrow Scheduler.
func NewScheduler(g *ledger.Gateway) *Scheduler {
	return &Scheduler{
		gateway: g,
		now:     time.Now,
		settled: make(map[string]struct{}),
	}
}

// MilestonePlan describes one milestone's escrow to be created.
type MilestonePlan struct {
	ID                string
	TargetDate        time.Time
	FundingPercentage float64

	// ExistingRef is the escrow reference from a previous partially
	// completed run. Milestones that already carry one are skipped.
	ExistingRef string
}

// Plan describes a campaign's full set of milestone escrows.
type Plan struct {
	CampaignID     string
	FounderAccount string
	FundingGoal    float64
	EndDate        time.Time
	Milestones     []MilestonePlan
}

// CreateMilestoneEscrows locks each milestone's funding share in a
// conditioned escrow. The amount is fundingPercentage of the campaign
// funding goal; FinishAfter is the milestone target date and CancelAfter is
// the campaign end date. The returned refs align with the plan's milestones
// by index.
//
// Each escrow is a separate transaction, so campaign-level atomicity is not
// guaranteed by the ledger. Milestones that already carry an escrow
// reference are skipped, which lets a partially completed run resume from
// where it failed. On error the refs created so far are returned alongside
// it so the caller can persist the partial progress.
func (s *Scheduler) CreateMilestoneEscrows(ctx context.Context, p Plan, signer ledger.Signer) ([]Ref, error) {
	refs := make([]Ref, 0, len(p.Milestones))
	for _, m := range p.Milestones {
		if m.ExistingRef != "" {
			// Created by a previous run.
			r, err := ParseRef(m.ExistingRef)
			if err != nil {
				return refs, err
			}
			refs = append(refs, r)
			continue
		}

		amount := m.FundingPercentage / 100 * p.FundingGoal
		memo, err := ledger.JSONMemo("crowdlift/escrow", map[string]string{
			"campaignId":  p.CampaignID,
			"milestoneId": m.ID,
		})
		if err != nil {
			return refs, err
		}
		receipt, err := s.gateway.Submit(ctx, ledger.EscrowCreate{
			Account:     signer.Address(),
			Destination: p.FounderAccount,
			Amount:      ledger.NativeAmount(amount),
			FinishAfter: ledger.RippleTime(m.TargetDate),
			CancelAfter: ledger.RippleTime(p.EndDate),
			Condition:   Condition(m.ID),
			Memos:       []ledger.Memo{memo},
		}, signer)
		if err != nil {
			return refs, fmt.Errorf("create escrow for milestone "+
				"%v: %w", m.ID, err)
		}
		if !receipt.Succeeded() {
			return refs, fmt.Errorf("create escrow for milestone "+
				"%v: %v", m.ID, receipt.Result)
		}

		r := Ref{
			Owner:    signer.Address(),
			Sequence: receipt.Sequence,
		}
		refs = append(refs, r)

		log.Infof("Escrow %v created for milestone %v (%v locked)",
			r, m.ID, amount)
	}
	return refs, nil
}

// object is the subset of an on-ledger escrow object the scheduler reads.
type object struct {
	Destination string        `json:"Destination"`
	Amount      ledger.Amount `json:"Amount"`
	FinishAfter uint32        `json:"FinishAfter"`
	CancelAfter uint32        `json:"CancelAfter"`
	Condition   string        `json:"Condition"`
}

// findEscrow locates the owner's live escrow carrying the provided
// condition. ledger.ErrNotFound is returned if no such escrow exists, which
// covers both never-created and already-settled escrows.
func (s *Scheduler) findEscrow(ctx context.Context, owner, condition string) (*object, error) {
	raws, err := s.gateway.AccountObjects(ctx, owner, "escrow")
	if err != nil {
		return nil, err
	}
	for _, raw := range raws {
		var o object
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("decode escrow object: %v", err)
		}
		if strings.EqualFold(o.Condition, condition) {
			return &o, nil
		}
	}
	return nil, ledger.ErrNotFound
}

// Finish releases a milestone escrow to its destination. The fulfillment is
// derived from the milestone id; it satisfies the condition only for the
// milestone the escrow was created for. ErrPreconditionFailed is returned
// when the finish time has not been reached.
func (s *Scheduler) Finish(ctx context.Context, ref Ref, milestoneID string, signer ledger.Signer) error {
	if err := s.markSettled(ref); err != nil {
		return err
	}

	condition := Condition(milestoneID)
	o, err := s.findEscrow(ctx, ref.Owner, condition)
	if err != nil {
		s.unmarkSettled(ref)
		return fmt.Errorf("finish escrow %v: %w", ref, err)
	}
	if now := ledger.RippleTime(s.now()); now < o.FinishAfter {
		s.unmarkSettled(ref)
		return fmt.Errorf("finish escrow %v before FinishAfter: %w",
			ref, ErrPreconditionFailed)
	}

	receipt, err := s.gateway.Submit(ctx, ledger.EscrowFinish{
		Account:       signer.Address(),
		Owner:         ref.Owner,
		OfferSequence: ref.Sequence,
		Condition:     condition,
		Fulfillment:   Fulfillment(milestoneID),
	}, signer)
	if err != nil {
		s.unmarkSettled(ref)
		return settlementErr("finish", ref, err)
	}
	if !receipt.Succeeded() {
		s.unmarkSettled(ref)
		return fmt.Errorf("finish escrow %v: %v", ref, receipt.Result)
	}

	log.Infof("Escrow %v finished for milestone %v", ref, milestoneID)
	return nil
}

// Cancel returns a milestone escrow's funds to their owner. Used for both
// founder-side abandonment and watch-tower default handling.
// ErrPreconditionFailed is returned when the cancel time has not been
// reached.
func (s *Scheduler) Cancel(ctx context.Context, ref Ref, milestoneID string, signer ledger.Signer) error {
	if err := s.markSettled(ref); err != nil {
		return err
	}

	o, err := s.findEscrow(ctx, ref.Owner, Condition(milestoneID))
	if err != nil {
		s.unmarkSettled(ref)
		return fmt.Errorf("cancel escrow %v: %w", ref, err)
	}
	if now := ledger.RippleTime(s.now()); o.CancelAfter == 0 || now < o.CancelAfter {
		s.unmarkSettled(ref)
		return fmt.Errorf("cancel escrow %v before CancelAfter: %w",
			ref, ErrPreconditionFailed)
	}

	receipt, err := s.gateway.Submit(ctx, ledger.EscrowCancel{
		Account:       signer.Address(),
		Owner:         ref.Owner,
		OfferSequence: ref.Sequence,
	}, signer)
	if err != nil {
		s.unmarkSettled(ref)
		return settlementErr("cancel", ref, err)
	}
	if !receipt.Succeeded() {
		s.unmarkSettled(ref)
		return fmt.Errorf("cancel escrow %v: %v", ref, receipt.Result)
	}

	log.Infof("Escrow %v cancelled", ref)
	return nil
}

// markSettled reserves the escrow for settlement. The second settlement
// attempt for the same escrow fails without touching the network.
func (s *Scheduler) markSettled(ref Ref) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	key := ref.String()
	if _, ok := s.settled[key]; ok {
		return fmt.Errorf("escrow %v: %w", ref, ErrAlreadySettled)
	}
	s.settled[key] = struct{}{}
	return nil
}

func (s *Scheduler) unmarkSettled(ref Ref) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	delete(s.settled, ref.String())
}

// settlementErr normalizes ledger rejections of a settlement attempt. A
// tecNO_PERMISSION means a time bound is not satisfied on-ledger.
func settlementErr(op string, ref Ref, err error) error {
	var rejected ledger.RejectedError
	if errors.As(err, &rejected) && rejected.Code == "tecNO_PERMISSION" {
		return fmt.Errorf("%v escrow %v: %w", op, ref, ErrPreconditionFailed)
	}
	return fmt.Errorf("%v escrow %v: %w", op, ref, err)
}
