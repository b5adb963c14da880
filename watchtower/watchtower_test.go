// Copyright (c) 2024-2025 The CrowdLift developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package watchtower

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/crowdlift/crowdlift/campaigns"
	"github.com/crowdlift/crowdlift/escrow"
	"github.com/crowdlift/crowdlift/ledger"
	"github.com/crowdlift/crowdlift/ledger/ledgertest"
	"github.com/crowdlift/crowdlift/tokens"
)

const (
	founder      = "rFounder11111111111111111111"
	treasury     = "rTreasury2222222222222222222"
	safetyFund   = "rSafetyFund55555555555555555"
	refundAcct   = "rRefund666666666666666666666"
	stableIssuer = "rStableIssuer444444444444444"
)

var stable = tokens.Stablecoin{Symbol: "RLUSD", Issuer: stableIssuer}

// recordingNotifier captures notifications for assertions.
type recordingNotifier struct {
	mtx    sync.Mutex
	events []string
}

func (n *recordingNotifier) Notify(campaignID, event, message string) {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	n.events = append(n.events, campaignID+"/"+event)
}

func (n *recordingNotifier) has(event string) bool {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	for _, e := range n.events {
		if e == event {
			return true
		}
	}
	return false
}

func TestClassify(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	srv := ledgertest.New()
	g := srv.Gateway()
	defer g.Shutdown()
	w := New(Config{Gateway: g})
	w.now = func() time.Time { return now }

	c := &campaigns.Campaign{
		ID:             "c1",
		Status:         campaigns.StatusActive,
		FounderAccount: founder,
	}

	// A completed campaign never touches the network.
	done := &campaigns.Campaign{ID: "c2", Status: campaigns.StatusCompleted}
	status, _, err := w.Classify(context.Background(), done)
	if err != nil {
		t.Fatal(err)
	}
	if status != StatusCompleted {
		t.Errorf("completed campaign: got %v", status)
	}

	// No transaction history at all counts as dormant.
	srv.FundAccount(founder, 10)
	status, _, err = w.Classify(context.Background(), c)
	if err != nil {
		t.Fatal(err)
	}
	if status != StatusDormant {
		t.Errorf("no history: got %v, want dormant", status)
	}

	// Activity exactly at the threshold is still active; the comparison
	// is strict.
	srv.SetLastActivity(founder, now.Add(-dormancyThreshold))
	status, last, err := w.Classify(context.Background(), c)
	if err != nil {
		t.Fatal(err)
	}
	if status != StatusActive {
		t.Errorf("at threshold: got %v, want active", status)
	}
	if !last.Equal(now.Add(-dormancyThreshold)) {
		t.Errorf("last activity: got %v", last)
	}

	// One second past the threshold tips the campaign dormant.
	srv.SetLastActivity(founder, now.Add(-dormancyThreshold-time.Second))
	status, _, err = w.Classify(context.Background(), c)
	if err != nil {
		t.Fatal(err)
	}
	if status != StatusDormant {
		t.Errorf("past threshold: got %v, want dormant", status)
	}

	// An unknown founder account is an error, not a classification.
	unknown := &campaigns.Campaign{
		ID:             "c3",
		Status:         campaigns.StatusActive,
		FounderAccount: "rUnknown77777777777777777777",
	}
	if _, _, err := w.Classify(context.Background(), unknown); err == nil {
		t.Error("expected error for unknown account")
	}
}

func TestCollectTradingFees(t *testing.T) {
	w := New(Config{Stable: stable})

	w.CollectTradingFees(stable.Asset(), 100)
	if got := w.AccruedFees(); got != 100*safetyFundRate {
		t.Errorf("accrued: got %v, want %v", got, 100*safetyFundRate)
	}

	// Fees realized in other assets do not accrue.
	other := ledger.Asset{
		Currency: ledger.CurrencyCode("SOLAR"),
		Issuer:   founder,
	}
	w.CollectTradingFees(other, 50)
	if got := w.AccruedFees(); got != 100*safetyFundRate {
		t.Errorf("accrued after non-stable fee: got %v", got)
	}

	w.CollectTradingFees(stable.Asset(), 100)
	if got := w.AccruedFees(); got != 200*safetyFundRate {
		t.Errorf("accrued: got %v, want %v", got, 200*safetyFundRate)
	}
}

func TestSweepDormantDefault(t *testing.T) {
	now := time.Now()
	srv := ledgertest.New()
	srv.FundAccount(founder, 10)
	srv.FundAccount(treasury, 2000)
	srv.SetLastActivity(founder, now)
	g := srv.Gateway()
	defer g.Shutdown()
	scheduler := escrow.NewScheduler(g)
	treasurySigner := ledgertest.NewSigner(treasury)

	refs, err := scheduler.CreateMilestoneEscrows(context.Background(),
		escrow.Plan{
			CampaignID:     "c1",
			FounderAccount: founder,
			FundingGoal:    1000,
			EndDate:        now.Add(90 * 24 * time.Hour),
			Milestones: []escrow.MilestonePlan{{
				ID:                "m1",
				TargetDate:        now.Add(30 * 24 * time.Hour),
				FundingPercentage: 60,
			}},
		}, treasurySigner)
	if err != nil {
		t.Fatal(err)
	}

	store, err := campaigns.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	err = store.Put(campaigns.Campaign{
		ID:             "c1",
		Name:           "Solar Farm",
		Status:         campaigns.StatusActive,
		FounderAccount: founder,
		FundingGoal:    1000,
		EndDate:        now.Add(90 * 24 * time.Hour),
		Milestones: []campaigns.Milestone{{
			ID:                "m1",
			Title:             "Foundation",
			TargetDate:        now.Add(30 * 24 * time.Hour),
			FundingPercentage: 60,
			Status:            campaigns.MilestonePending,
			EscrowRef:         refs[0].String(),
			EscrowAmount:      600,
		}},
	})
	if err != nil {
		t.Fatal(err)
	}

	notifier := &recordingNotifier{}
	w := New(Config{
		Store:          store,
		Gateway:        g,
		Scheduler:      scheduler,
		Notifier:       notifier,
		Stable:         stable,
		TreasurySigner: treasurySigner,
	})

	// Jump past the campaign end date. The founder's last activity is now
	// months stale and the escrow's cancel bound has passed.
	later := now.Add(91 * 24 * time.Hour)
	w.now = func() time.Time { return later }
	srv.SetNow(func() time.Time { return later })

	w.Sweep()

	c, err := store.Get("c1")
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != campaigns.StatusFailed {
		t.Errorf("campaign status: got %v, want failed", c.Status)
	}
	if c.Milestones[0].Status != campaigns.MilestoneFailed {
		t.Errorf("milestone status: got %v, want failed",
			c.Milestones[0].Status)
	}
	if !notifier.has("c1/" + StatusDefaulted) {
		t.Errorf("missing default notification; got %v", notifier.events)
	}

	// The cancelled escrow returned the locked funds to the treasury.
	if got := srv.Balance(treasury); got != 2000 {
		t.Errorf("treasury balance: got %v, want 2000", got)
	}
	if n := srv.EscrowCount(treasury); n != 0 {
		t.Errorf("escrow count: got %v, want 0", n)
	}
}

func TestSweepMissedDeadline(t *testing.T) {
	now := time.Now()
	srv := ledgertest.New()
	srv.FundAccount(founder, 10)
	srv.FundAccount(treasury, 2000)
	g := srv.Gateway()
	defer g.Shutdown()
	scheduler := escrow.NewScheduler(g)
	treasurySigner := ledgertest.NewSigner(treasury)

	refs, err := scheduler.CreateMilestoneEscrows(context.Background(),
		escrow.Plan{
			CampaignID:     "c1",
			FounderAccount: founder,
			FundingGoal:    1000,
			EndDate:        now.Add(90 * 24 * time.Hour),
			Milestones: []escrow.MilestonePlan{{
				ID:                "m1",
				TargetDate:        now.Add(30 * 24 * time.Hour),
				FundingPercentage: 60,
			}},
		}, treasurySigner)
	if err != nil {
		t.Fatal(err)
	}

	store, err := campaigns.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	err = store.Put(campaigns.Campaign{
		ID:             "c1",
		Status:         campaigns.StatusActive,
		FounderAccount: founder,
		FundingGoal:    1000,
		EndDate:        now.Add(90 * 24 * time.Hour),
		Milestones: []campaigns.Milestone{{
			ID:                "m1",
			TargetDate:        now.Add(30 * 24 * time.Hour),
			FundingPercentage: 60,
			Status:            campaigns.MilestonePending,
			EscrowRef:         refs[0].String(),
			EscrowAmount:      600,
		}},
	})
	if err != nil {
		t.Fatal(err)
	}

	notifier := &recordingNotifier{}
	w := New(Config{
		Store:          store,
		Gateway:        g,
		Scheduler:      scheduler,
		Notifier:       notifier,
		Stable:         stable,
		TreasurySigner: treasurySigner,
	})

	// Jump past the end date but keep the founder recently active so the
	// dormancy sweep leaves the campaign alone.
	later := now.Add(91 * 24 * time.Hour)
	srv.SetLastActivity(founder, later.Add(-time.Hour))
	w.now = func() time.Time { return later }
	srv.SetNow(func() time.Time { return later })

	w.Sweep()

	c, err := store.Get("c1")
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != campaigns.StatusActive {
		t.Errorf("campaign status: got %v, want active", c.Status)
	}
	if c.Milestones[0].Status != campaigns.MilestoneFailed {
		t.Errorf("milestone status: got %v, want failed",
			c.Milestones[0].Status)
	}
	if !notifier.has("c1/milestone-missed") {
		t.Errorf("missing deadline notification; got %v", notifier.events)
	}
	if n := srv.EscrowCount(treasury); n != 0 {
		t.Errorf("escrow count: got %v, want 0", n)
	}
}

func TestSweepDeadlineWithProofPending(t *testing.T) {
	now := time.Now()
	srv := ledgertest.New()
	srv.FundAccount(founder, 10)
	g := srv.Gateway()
	defer g.Shutdown()
	srv.SetLastActivity(founder, now)

	store, err := campaigns.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	err = store.Put(campaigns.Campaign{
		ID:             "c1",
		Status:         campaigns.StatusActive,
		FounderAccount: founder,
		Milestones: []campaigns.Milestone{{
			ID:         "m1",
			TargetDate: now.Add(-time.Hour),
			Status:     campaigns.MilestoneInProgress,
			ProofHash:  "abc123",
		}},
	})
	if err != nil {
		t.Fatal(err)
	}

	notifier := &recordingNotifier{}
	w := New(Config{
		Store:    store,
		Gateway:  g,
		Notifier: notifier,
		Stable:   stable,
	})
	w.Sweep()

	// A submitted proof shields the milestone from the deadline sweep
	// while it awaits judgement.
	c, err := store.Get("c1")
	if err != nil {
		t.Fatal(err)
	}
	if c.Milestones[0].Status != campaigns.MilestoneInProgress {
		t.Errorf("milestone status: got %v, want in-progress",
			c.Milestones[0].Status)
	}
	if notifier.has("c1/milestone-missed") {
		t.Error("unexpected deadline notification")
	}
}

func TestSweepSafetyFund(t *testing.T) {
	srv := ledgertest.New()
	srv.FundAccount(safetyFund, 10)
	srv.FundAccount(refundAcct, 10)
	srv.SetTrustLine(safetyFund, "RLUSD", stableIssuer, 300, 1e9)
	srv.SetTrustLine(refundAcct, "RLUSD", stableIssuer, 0, 1e9)
	g := srv.Gateway()
	defer g.Shutdown()

	store, err := campaigns.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	err = store.Put(campaigns.Campaign{
		ID:             "c1",
		Status:         campaigns.StatusFailed,
		FounderAccount: founder,
		FundingGoal:    1000,
		CurrentFunding: 500,
	})
	if err != nil {
		t.Fatal(err)
	}

	notifier := &recordingNotifier{}
	w := New(Config{
		Store:            store,
		Gateway:          g,
		Notifier:         notifier,
		Stable:           stable,
		SafetyFundSigner: ledgertest.NewSigner(safetyFund),
		RefundAccount:    refundAcct,
	})

	// The reserve cannot cover the full refund; it pays what it has.
	w.Sweep()
	if got := srv.LineBalance(refundAcct, "RLUSD", stableIssuer); got != 300 {
		t.Errorf("refund balance: got %v, want 300", got)
	}
	if !notifier.has("c1/refund") {
		t.Errorf("missing refund notification; got %v", notifier.events)
	}

	// An empty reserve is a no-op, never an error.
	w.Sweep()
	if got := srv.LineBalance(refundAcct, "RLUSD", stableIssuer); got != 300 {
		t.Errorf("refund balance after empty sweep: got %v", got)
	}

	// Topping up the reserve pays the remainder and nothing more.
	srv.SetTrustLine(safetyFund, "RLUSD", stableIssuer, 400, 1e9)
	w.Sweep()
	if got := srv.LineBalance(refundAcct, "RLUSD", stableIssuer); got != 500 {
		t.Errorf("refund balance: got %v, want 500", got)
	}
	w.Sweep()
	if got := srv.LineBalance(refundAcct, "RLUSD", stableIssuer); got != 500 {
		t.Errorf("overpaid refund: got %v", got)
	}

	// The paid amount lives on the campaign record, not in the watch tower.
	c, err := store.Get("c1")
	if err != nil {
		t.Fatal(err)
	}
	if c.Refunded != 500 {
		t.Errorf("recorded refund: got %v, want 500", c.Refunded)
	}

	// A watch tower brought up fresh over the same store, as after a daemon
	// restart, must not pay the refund again.
	srv.SetTrustLine(safetyFund, "RLUSD", stableIssuer, 1000, 1e9)
	restarted := New(Config{
		Store:            store,
		Gateway:          g,
		Notifier:         notifier,
		Stable:           stable,
		SafetyFundSigner: ledgertest.NewSigner(safetyFund),
		RefundAccount:    refundAcct,
	})
	restarted.Sweep()
	if got := srv.LineBalance(refundAcct, "RLUSD", stableIssuer); got != 500 {
		t.Errorf("refund balance after restart: got %v, want 500", got)
	}
}

func TestStartStopIdempotent(t *testing.T) {
	w := New(Config{})
	w.Start()
	w.Start()
	w.Stop()
	w.Stop()
}
