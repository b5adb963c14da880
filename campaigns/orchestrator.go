// Copyright (c) 2024-2025 The CrowdLift developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package campaigns

import (
	"context"
	"fmt"
	"time"

	"github.com/crowdlift/crowdlift/escrow"
	"github.com/crowdlift/crowdlift/identity"
	"github.com/crowdlift/crowdlift/ledger"
	"github.com/crowdlift/crowdlift/tokens"
)

// Orchestrator provisions a campaign's on-ledger footprint. The steps run in
// strict order because each depends on the previous step's on-chain effect:
// identity, rippling, currency code, liquidity pool, milestone escrows.
//
// Completion of each step is persisted in launch state before the next step
// runs, so a retry after a mid-sequence failure resumes where it stopped and
// never re-runs a step that is not idempotent (pool creation in particular).
// A campaign enters the durable listing only after every step has completed;
// a failed launch leaves no half-created campaign visible.
type Orchestrator struct {
	store    *Store
	identity *identity.Issuer
	tokens   *tokens.Issuer
	escrow   *escrow.Scheduler
	oracle   identity.Oracle // Optional
	now      func() time.Time
}

// NewOrchestrator returns a new campaign Orchestrator. The oracle may be
// nil, in which case founder verification is skipped.
func NewOrchestrator(store *Store, ident *identity.Issuer, tok *tokens.Issuer, sched *escrow.Scheduler, oracle identity.Oracle) *Orchestrator {
	return &Orchestrator{
		store:    store,
		identity: ident,
		tokens:   tok,
		escrow:   sched,
		oracle:   oracle,
		now:      time.Now,
	}
}

// LaunchParams carry everything a campaign launch needs beyond the campaign
// itself.
type LaunchParams struct {
	Campaign Campaign
	KYC      *identity.KYC
	Company  *identity.CompanyCheck // Optional oracle input

	// FounderSigner signs for the founder account: the identity anchor,
	// the token issuance, and the pool.
	FounderSigner ledger.Signer

	// TreasurySigner signs for the treasury account holding the raised
	// funds; it owns the milestone escrows.
	TreasurySigner ledger.Signer

	// Initial pool reserves.
	PoolTokenAmount  float64
	PoolStableAmount float64
}

// Launch provisions a campaign end to end. Calling Launch again with the
// same campaign id after a failure resumes from the first incomplete step.
func (o *Orchestrator) Launch(ctx context.Context, p LaunchParams) (*Campaign, error) {
	c := p.Campaign
	if c.ID == "" {
		c.ID = NewID()
	}
	for i := range c.Milestones {
		if c.Milestones[i].ID == "" {
			c.Milestones[i].ID = NewID()
		}
		if c.Milestones[i].Status == "" {
			c.Milestones[i].Status = MilestonePending
		}
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid campaign: %w", err)
	}

	ls, err := o.store.GetLaunch(c.ID)
	if err != nil {
		return nil, err
	}
	if ls == nil {
		ls = &LaunchState{Campaign: c}
		log.Infof("Launching campaign %v (%v)", c.ID, c.Name)
	} else {
		log.Infof("Resuming launch of campaign %v", c.ID)
	}

	// Advisory founder verification. A rejection flags the campaign for
	// manual review; it never blocks the launch on its own.
	if o.oracle != nil && p.Company != nil {
		res, err := o.oracle.VerifyCompany(ctx, *p.Company)
		if err != nil {
			log.Warnf("Campaign %v: oracle unavailable: %v", c.ID, err)
		} else if identity.NeedsReview(res) {
			log.Warnf("Campaign %v flagged for review: %v", c.ID,
				res.Explanation)
			ls.Campaign.NeedsReview = true
		}
	}

	if ls.IdentityRef == "" {
		ref, err := o.identity.AnchorIdentity(ctx, p.KYC, p.FounderSigner)
		if err != nil {
			return nil, o.stepFailed(ls, "identity", err)
		}
		ls.IdentityRef = ref
		ls.Campaign.IdentityRef = ref
		if err := o.store.PutLaunch(ls); err != nil {
			return nil, err
		}
	}

	if !ls.RipplingEnabled {
		err := o.tokens.EnableRippling(ctx, p.FounderSigner)
		if err != nil {
			return nil, o.stepFailed(ls, "rippling", err)
		}
		ls.RipplingEnabled = true
		if err := o.store.PutLaunch(ls); err != nil {
			return nil, err
		}
	}

	if ls.CurrencyCode == "" {
		code, err := o.tokens.IssueCurrency(c.TokenSymbol)
		if err != nil {
			return nil, o.stepFailed(ls, "currency", err)
		}
		ls.CurrencyCode = code
		ls.Campaign.CurrencyCode = code
		if err := o.store.PutLaunch(ls); err != nil {
			return nil, err
		}
	}

	if ls.PoolAccount == "" {
		pool, err := o.tokens.EstablishPoolLiquidity(ctx,
			p.FounderSigner, c.TokenSymbol, p.PoolTokenAmount,
			p.PoolStableAmount)
		if err != nil {
			return nil, o.stepFailed(ls, "pool", err)
		}
		reserveToken, _ := pool.Amount.Float()
		reserveStable, _ := pool.Amount2.Float()
		ls.PoolAccount = pool.Account
		ls.Campaign.Pool = &Pool{
			Account:       pool.Account,
			ReserveToken:  reserveToken,
			ReserveStable: reserveStable,
			TradingFee:    pool.TradingFee,
		}
		if err := o.store.PutLaunch(ls); err != nil {
			return nil, err
		}
	}

	// Escrows: the plan carries refs from any previous partial run so
	// already created escrows are skipped. Partial progress is persisted
	// even when the step fails.
	plan := escrow.Plan{
		CampaignID:     ls.Campaign.ID,
		FounderAccount: ls.Campaign.FounderAccount,
		FundingGoal:    ls.Campaign.FundingGoal,
		EndDate:        ls.Campaign.EndDate,
	}
	for _, m := range ls.Campaign.Milestones {
		plan.Milestones = append(plan.Milestones, escrow.MilestonePlan{
			ID:                m.ID,
			TargetDate:        m.TargetDate,
			FundingPercentage: m.FundingPercentage,
			ExistingRef:       m.EscrowRef,
		})
	}
	refs, escrowErr := o.escrow.CreateMilestoneEscrows(ctx, plan,
		p.TreasurySigner)
	for i := range refs {
		m := &ls.Campaign.Milestones[i]
		m.EscrowRef = refs[i].String()
		m.EscrowAmount = m.FundingPercentage / 100 * ls.Campaign.FundingGoal
	}
	if escrowErr != nil {
		return nil, o.stepFailed(ls, "escrows", escrowErr)
	}

	// Every step completed; the campaign becomes durable and the launch
	// bookkeeping is dropped.
	ls.Campaign.Status = StatusActive
	ls.Campaign.LaunchedAt = o.now()
	if err := o.store.Put(ls.Campaign); err != nil {
		return nil, err
	}
	if err := o.store.DelLaunch(ls.Campaign.ID); err != nil {
		return nil, err
	}
	log.Infof("Campaign %v launched with %v milestones", ls.Campaign.ID,
		len(ls.Campaign.Milestones))
	launched := ls.Campaign
	return &launched, nil
}

// stepFailed persists the launch progress made so far and wraps the error
// with the failed step's name so the caller knows exactly where the launch
// stopped.
func (o *Orchestrator) stepFailed(ls *LaunchState, step string, err error) error {
	if perr := o.store.PutLaunch(ls); perr != nil {
		log.Errorf("Persist launch state for %v: %v", ls.Campaign.ID, perr)
	}
	log.Errorf("Campaign %v launch failed at step %v: %v", ls.Campaign.ID,
		step, err)
	return fmt.Errorf("launch step %v: %w", step, err)
}
