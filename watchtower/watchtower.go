// Copyright (c) 2024-2025 The CrowdLift developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package watchtower monitors launched campaigns from the outside. The
// ledger has no push notifications for account dormancy, so the watch tower
// is a cooperative polling loop: every cycle it scans for dormant founders,
// missed milestone deadlines, and owed safety-fund refunds. Sweep errors are
// logged and never propagated; the loop has no caller to report to.
package watchtower

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/crowdlift/crowdlift/campaigns"
	"github.com/crowdlift/crowdlift/escrow"
	"github.com/crowdlift/crowdlift/ledger"
	"github.com/crowdlift/crowdlift/tokens"
	"github.com/robfig/cron"
	"golang.org/x/sync/errgroup"
)

const (
	// dormancyThreshold is how long a founder account may go without
	// on-ledger activity before its campaign is classified dormant. The
	// comparison is strict: activity exactly at the threshold is still
	// active.
	dormancyThreshold = 7 * 24 * time.Hour

	// sweepSchedule is the cron spec of the scan cycle.
	sweepSchedule = "@every 10m"

	// sweepTimeout bounds a single sweep cycle.
	sweepTimeout = 5 * time.Minute

	// safetyFundRate is the share of realized trading fees accrued to
	// the shared safety fund.
	safetyFundRate = 0.10
)

// Monitoring statuses. Dormant is a one-way door: once a campaign defaults
// there is no path back to active.
const (
	StatusActive    = "active"
	StatusDormant   = "dormant"
	StatusDefaulted = "defaulted"
	StatusCompleted = "completed"
)

// Notifier delivers campaign event notifications to stakeholders. Delivery
// is external; the watch tower only reports.
type Notifier interface {
	Notify(campaignID, event, message string)
}

// Config is the watch tower configuration.
type Config struct {
	Store     *campaigns.Store
	Gateway   *ledger.Gateway
	Scheduler *escrow.Scheduler
	Notifier  Notifier
	Stable    tokens.Stablecoin

	// TreasurySigner owns the milestone escrows and signs their
	// cancellation on default.
	TreasurySigner ledger.Signer

	// SafetyFundSigner pays refunds out of the shared reserve.
	SafetyFundSigner ledger.Signer

	// RefundAccount receives safety-fund payouts for distribution to
	// backers. Distribution itself is external.
	RefundAccount string
}

// WatchTower is the campaign monitoring loop.
type WatchTower struct {
	cfg  Config
	now  func() time.Time
	cron *cron.Cron

	mtx     sync.Mutex
	running bool
	accrued float64 // Stablecoin fees owed to the safety fund
}

// New returns a new WatchTower.
func New(cfg Config) *WatchTower {
	return &WatchTower{
		cfg: cfg,
		now: time.Now,
	}
}

// Start begins the scan loop. Starting a running watch tower is a no-op.
func (w *WatchTower) Start() {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	if w.running {
		return
	}
	w.cron = cron.New()
	w.cron.AddFunc(sweepSchedule, w.Sweep)
	w.cron.Start()
	w.running = true
	log.Infof("Watch tower started (%v)", sweepSchedule)
}

// Stop halts the scan loop. A sweep in flight runs to completion.
func (w *WatchTower) Stop() {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	if !w.running {
		return
	}
	w.cron.Stop()
	w.running = false
	log.Infof("Watch tower stopped")
}

// CollectTradingFees accrues the safety fund's share of a realized trading
// fee. Satisfies the trading engine's fee hook. Only stablecoin-denominated
// fees accrue on-ledger value; fees realized in other assets are logged and
// reconciled externally.
//
// Realized fees accumulate inside the pools, so settlement of the accrued
// share into the safety-fund account is an operator action against pool
// revenue, outside this process. AccruedFees reports the outstanding total
// for that reconciliation.
func (w *WatchTower) CollectTradingFees(asset ledger.Asset, fee float64) {
	share := fee * safetyFundRate
	if asset != w.cfg.Stable.Asset() {
		log.Debugf("Trading fee %v %v not stablecoin denominated; "+
			"skipping accrual", fee, asset.Currency)
		return
	}
	w.mtx.Lock()
	w.accrued += share
	w.mtx.Unlock()
	log.Debugf("Accrued %v %v for safety fund", share, w.cfg.Stable.Symbol)
}

// AccruedFees returns the stablecoin fees accrued for the safety fund and
// not yet settled externally.
func (w *WatchTower) AccruedFees() float64 {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	return w.accrued
}

// Sweep runs one scan cycle: dormancy, milestone deadlines, then the safety
// fund. Each sweep's errors are logged and swallowed so one bad campaign or
// a transient network error never stops the loop.
func (w *WatchTower) Sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	cs, err := w.cfg.Store.All()
	if err != nil {
		log.Errorf("Sweep: load campaigns: %v", err)
		return
	}

	w.sweepDormancy(ctx, cs)
	w.sweepDeadlines(ctx, cs)
	w.sweepSafetyFund(ctx, cs)
}

// Classify computes a campaign's monitoring status from its founder's last
// observed on-ledger activity. A founder with no transaction history at all
// is treated as dormant.
func (w *WatchTower) Classify(ctx context.Context, c *campaigns.Campaign) (string, time.Time, error) {
	if c.Status == campaigns.StatusCompleted {
		return StatusCompleted, time.Time{}, nil
	}
	txs, err := w.cfg.Gateway.AccountTxs(ctx, c.FounderAccount, 1)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("account activity %v: %w",
			c.FounderAccount, err)
	}
	if len(txs) == 0 {
		return StatusDormant, time.Time{}, nil
	}
	last := ledger.RippleTimeToTime(txs[0].Date)
	if w.now().Sub(last) > dormancyThreshold {
		return StatusDormant, last, nil
	}
	return StatusActive, last, nil
}

// sweepDormancy scans active campaigns for dormant founders in parallel.
// Campaigns are independent, so one campaign's scan failure only skips that
// campaign.
func (w *WatchTower) sweepDormancy(ctx context.Context, cs []campaigns.Campaign) {
	var eg errgroup.Group
	for i := range cs {
		c := cs[i]
		if c.Status != campaigns.StatusActive {
			continue
		}
		eg.Go(func() error {
			status, last, err := w.Classify(ctx, &c)
			if err != nil {
				log.Errorf("Dormancy scan %v: %v", c.ID, err)
				return nil
			}
			if status != StatusDormant {
				return nil
			}
			log.Warnf("Campaign %v dormant; founder %v last active %v",
				c.ID, c.FounderAccount, last)
			w.handleDefault(ctx, c.ID, "founder account dormant")
			return nil
		})
	}
	eg.Wait()
}

// handleDefault cancels a defaulted campaign's outstanding escrows, marks it
// failed, and notifies stakeholders. The dormant to defaulted transition is
// implicit in the refund trigger and is one-way.
func (w *WatchTower) handleDefault(ctx context.Context, campaignID, reason string) {
	err := w.cfg.Store.Update(campaignID, func(c *campaigns.Campaign) error {
		for i := range c.Milestones {
			m := &c.Milestones[i]
			if m.Status == campaigns.MilestoneCompleted ||
				m.EscrowRef == "" {
				continue
			}
			ref, err := escrow.ParseRef(m.EscrowRef)
			if err != nil {
				log.Errorf("Default %v: %v", campaignID, err)
				continue
			}
			err = w.cfg.Scheduler.Cancel(ctx, ref, m.ID,
				w.cfg.TreasurySigner)
			switch {
			case errors.Is(err, escrow.ErrAlreadySettled):
				// A previous cycle got here first.
			case errors.Is(err, escrow.ErrPreconditionFailed):
				log.Warnf("Default %v: escrow %v not yet "+
					"cancellable", campaignID, ref)
				continue
			case err != nil:
				log.Errorf("Default %v: cancel escrow %v: %v",
					campaignID, ref, err)
				continue
			}
			m.Status = campaigns.MilestoneFailed
		}
		c.Status = campaigns.StatusFailed
		return nil
	})
	if err != nil {
		log.Errorf("Default %v: %v", campaignID, err)
		return
	}
	if w.cfg.Notifier != nil {
		w.cfg.Notifier.Notify(campaignID, StatusDefaulted, reason)
	}
}

// sweepDeadlines flags milestones whose target date passed without a
// completed proof and cancels their escrows.
func (w *WatchTower) sweepDeadlines(ctx context.Context, cs []campaigns.Campaign) {
	now := w.now()
	for i := range cs {
		c := &cs[i]
		if c.Status != campaigns.StatusActive {
			continue
		}
		for _, m := range c.Milestones {
			if m.Status == campaigns.MilestoneCompleted ||
				m.Status == campaigns.MilestoneFailed {
				continue
			}
			if !now.After(m.TargetDate) || m.ProofHash != "" {
				continue
			}
			log.Warnf("Milestone %v of campaign %v missed its "+
				"deadline %v", m.ID, c.ID, m.TargetDate)
			w.failMilestone(ctx, c.ID, m.ID)
		}
	}
}

// failMilestone cancels a missed milestone's escrow and records the failure.
func (w *WatchTower) failMilestone(ctx context.Context, campaignID, milestoneID string) {
	err := w.cfg.Store.Update(campaignID, func(c *campaigns.Campaign) error {
		m, err := c.Milestone(milestoneID)
		if err != nil {
			return err
		}
		if m.EscrowRef != "" {
			ref, err := escrow.ParseRef(m.EscrowRef)
			if err != nil {
				return err
			}
			err = w.cfg.Scheduler.Cancel(ctx, ref, m.ID,
				w.cfg.TreasurySigner)
			switch {
			case errors.Is(err, escrow.ErrAlreadySettled):
			case errors.Is(err, escrow.ErrPreconditionFailed):
				// CancelAfter is the campaign end date; the
				// milestone stays flagged until then.
				return fmt.Errorf("escrow %v not yet "+
					"cancellable", ref)
			case err != nil:
				return err
			}
		}
		m.Status = campaigns.MilestoneFailed
		return nil
	})
	if err != nil {
		log.Errorf("Deadline sweep %v/%v: %v", campaignID, milestoneID, err)
		return
	}
	if w.cfg.Notifier != nil {
		w.cfg.Notifier.Notify(campaignID, "milestone-missed", milestoneID)
	}
}

// sweepSafetyFund pays owed refunds for failed campaigns out of the shared
// reserve. If the reserve cannot cover a refund it pays what it can and
// reports the shortfall; insufficient funds is a reportable condition, not
// an error.
func (w *WatchTower) sweepSafetyFund(ctx context.Context, cs []campaigns.Campaign) {
	if w.cfg.SafetyFundSigner == nil || w.cfg.RefundAccount == "" {
		return
	}
	available, err := w.stableBalance(ctx, w.cfg.SafetyFundSigner.Address())
	if err != nil {
		log.Errorf("Safety fund sweep: %v", err)
		return
	}

	for i := range cs {
		c := &cs[i]
		if c.Status != campaigns.StatusFailed || c.CurrentFunding <= 0 {
			continue
		}

		paid := c.Refunded
		owed := c.CurrentFunding - paid
		if owed <= 0 {
			continue
		}

		payout := owed
		if available < owed {
			log.Warnf("Safety fund short for campaign %v: owe %v "+
				"%v, have %v", c.ID, owed, w.cfg.Stable.Symbol,
				available)
			payout = available
		}
		if payout <= 0 {
			continue
		}

		receipt, err := w.cfg.Gateway.Submit(ctx, ledger.Payment{
			Account:     w.cfg.SafetyFundSigner.Address(),
			Destination: w.cfg.RefundAccount,
			Amount: ledger.IssuedAmount(w.cfg.Stable.Symbol,
				w.cfg.Stable.Issuer, payout),
		}, w.cfg.SafetyFundSigner)
		if err != nil {
			log.Errorf("Safety fund payout for %v: %v", c.ID, err)
			continue
		}
		if !receipt.Succeeded() {
			log.Errorf("Safety fund payout for %v: %v", c.ID,
				receipt.Result)
			continue
		}

		available -= payout
		// The payout is on the ledger; record it before anything else
		// so a crash here surfaces as a loud log line, not a double
		// payment on the next cycle.
		err = w.cfg.Store.Update(c.ID, func(c *campaigns.Campaign) error {
			c.Refunded += payout
			return nil
		})
		if err != nil {
			log.Errorf("Safety fund payout for %v not recorded "+
				"(%v %v paid): %v", c.ID, payout,
				w.cfg.Stable.Symbol, err)
			continue
		}
		log.Infof("Safety fund paid %v %v toward campaign %v (%v "+
			"still owed)", payout, w.cfg.Stable.Symbol, c.ID,
			owed-payout)
		if w.cfg.Notifier != nil {
			w.cfg.Notifier.Notify(c.ID, "refund",
				fmt.Sprintf("%v %v refunded", payout,
					w.cfg.Stable.Symbol))
		}
	}
}

// stableBalance reads an account's reference stablecoin balance.
func (w *WatchTower) stableBalance(ctx context.Context, address string) (float64, error) {
	lines, err := w.cfg.Gateway.AccountLines(ctx, address)
	if err != nil {
		return 0, err
	}
	code := ledger.CurrencyCode(w.cfg.Stable.Symbol)
	for _, l := range lines {
		if l.Currency == code && l.Account == w.cfg.Stable.Issuer {
			return strconv.ParseFloat(l.Balance, 64)
		}
	}
	return 0, nil
}
