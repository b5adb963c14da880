// Copyright (c) 2024-2025 The CrowdLift developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package escrow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/crowdlift/crowdlift/ledger"
	"github.com/crowdlift/crowdlift/ledger/ledgertest"
)

const (
	founder  = "rFounder11111111111111111111"
	treasury = "rTreasury2222222222222222222"
)

func TestConditionDerivation(t *testing.T) {
	milestoneID := "f47ac10b-58cc-4372-a567-0e02b2c3d479"

	condition := Condition(milestoneID)
	fulfillment := Fulfillment(milestoneID)

	// The fulfillment's embedded preimage must hash to the digest embedded
	// in the condition.
	preimage, err := hex.DecodeString(
		strings.TrimPrefix(fulfillment, fulfillmentPrefix))
	if err != nil {
		t.Fatal(err)
	}
	digest := sha256.Sum256(preimage)
	want := conditionPrefix +
		strings.ToUpper(hex.EncodeToString(digest[:])) +
		conditionSuffix
	if condition != want {
		t.Errorf("condition does not match fulfillment:\n%v\n%v",
			condition, want)
	}

	// Derivation is deterministic and milestone-specific.
	if Condition(milestoneID) != condition {
		t.Error("condition derivation not deterministic")
	}
	if Condition("another-milestone") == condition {
		t.Error("distinct milestones must derive distinct conditions")
	}
}

func TestParseRef(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Ref
		wantErr bool
	}{
		{"valid", treasury + ":42", Ref{treasury, 42}, false},
		{"missing sequence", treasury + ":", Ref{}, true},
		{"missing owner", ":42", Ref{}, true},
		{"no separator", treasury, Ref{}, true},
		{"non-numeric sequence", treasury + ":abc", Ref{}, true},
	}
	for _, v := range tests {
		t.Run(v.name, func(t *testing.T) {
			got, err := ParseRef(v.in)
			if v.wantErr {
				if err == nil {
					t.Fatal("expected parse error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != v.want {
				t.Errorf("got %v, want %v", got, v.want)
			}
			if got.String() != v.in {
				t.Errorf("round trip: got %v, want %v",
					got.String(), v.in)
			}
		})
	}
}

func testPlan(now time.Time) Plan {
	return Plan{
		CampaignID:     "campaign-1",
		FounderAccount: founder,
		FundingGoal:    1000,
		EndDate:        now.Add(90 * 24 * time.Hour),
		Milestones: []MilestonePlan{
			{ID: "m1", TargetDate: now.Add(30 * 24 * time.Hour),
				FundingPercentage: 60},
			{ID: "m2", TargetDate: now.Add(60 * 24 * time.Hour),
				FundingPercentage: 40},
		},
	}
}

func TestCreateMilestoneEscrows(t *testing.T) {
	srv := ledgertest.New()
	srv.FundAccount(treasury, 2000)
	srv.FundAccount(founder, 10)
	g := srv.Gateway()
	defer g.Shutdown()
	s := NewScheduler(g)

	refs, err := s.CreateMilestoneEscrows(context.Background(),
		testPlan(time.Now()), ledgertest.NewSigner(treasury))
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 2 {
		t.Fatalf("got %v refs, want 2", len(refs))
	}
	for _, r := range refs {
		if r.Owner != treasury || r.Sequence == 0 {
			t.Errorf("malformed ref %v", r)
		}
	}
	if n := srv.EscrowCount(treasury); n != 2 {
		t.Errorf("escrow count: got %v, want 2", n)
	}
	// The full funding goal is locked: 60% + 40%.
	if got := srv.Balance(treasury); got != 1000 {
		t.Errorf("treasury balance: got %v, want 1000", got)
	}
}

func TestCreateMilestoneEscrowsResume(t *testing.T) {
	srv := ledgertest.New()
	srv.FundAccount(treasury, 2000)
	srv.FundAccount(founder, 10)
	g := srv.Gateway()
	defer g.Shutdown()
	s := NewScheduler(g)

	plan := testPlan(time.Now())
	refs, err := s.CreateMilestoneEscrows(context.Background(), plan,
		ledgertest.NewSigner(treasury))
	if err != nil {
		t.Fatal(err)
	}

	// A rerun with existing refs creates nothing new.
	plan.Milestones[0].ExistingRef = refs[0].String()
	plan.Milestones[1].ExistingRef = refs[1].String()
	again, err := s.CreateMilestoneEscrows(context.Background(), plan,
		ledgertest.NewSigner(treasury))
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 2 || again[0] != refs[0] || again[1] != refs[1] {
		t.Errorf("resume refs: got %v, want %v", again, refs)
	}
	if n := srv.EscrowCount(treasury); n != 2 {
		t.Errorf("escrow count after resume: got %v, want 2", n)
	}
}

func TestFinishSingleRelease(t *testing.T) {
	srv := ledgertest.New()
	srv.FundAccount(treasury, 2000)
	srv.FundAccount(founder, 0)
	g := srv.Gateway()
	defer g.Shutdown()
	s := NewScheduler(g)

	// A target date in the past makes the escrow immediately finishable.
	now := time.Now()
	plan := testPlan(now)
	plan.Milestones = plan.Milestones[:1]
	plan.Milestones[0].TargetDate = now.Add(-time.Hour)
	refs, err := s.CreateMilestoneEscrows(context.Background(), plan,
		ledgertest.NewSigner(treasury))
	if err != nil {
		t.Fatal(err)
	}

	signer := ledgertest.NewSigner(treasury)
	err = s.Finish(context.Background(), refs[0], "m1", signer)
	if err != nil {
		t.Fatal(err)
	}
	if got := srv.Balance(founder); got != 600 {
		t.Errorf("destination balance: got %v, want 600", got)
	}

	// The second attempt must not reach the network.
	err = s.Finish(context.Background(), refs[0], "m1", signer)
	if !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("expected ErrAlreadySettled, got %v", err)
	}

	// A fresh scheduler has no settlement memory; the ledger itself
	// rejects the double release because the escrow object is gone.
	err = NewScheduler(g).Finish(context.Background(), refs[0], "m1", signer)
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for settled escrow, got %v", err)
	}
}

func TestFinishBeforeFinishAfter(t *testing.T) {
	srv := ledgertest.New()
	srv.FundAccount(treasury, 2000)
	srv.FundAccount(founder, 0)
	g := srv.Gateway()
	defer g.Shutdown()
	s := NewScheduler(g)

	refs, err := s.CreateMilestoneEscrows(context.Background(),
		testPlan(time.Now()), ledgertest.NewSigner(treasury))
	if err != nil {
		t.Fatal(err)
	}

	err = s.Finish(context.Background(), refs[0], "m1",
		ledgertest.NewSigner(treasury))
	if !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected ErrPreconditionFailed, got %v", err)
	}

	// The failed attempt must not poison the settlement guard.
	if err := s.markSettled(refs[0]); err != nil {
		t.Errorf("escrow still marked settled after failed finish: %v",
			err)
	}
}

func TestCancel(t *testing.T) {
	srv := ledgertest.New()
	srv.FundAccount(treasury, 2000)
	srv.FundAccount(founder, 0)
	g := srv.Gateway()
	defer g.Shutdown()
	s := NewScheduler(g)

	now := time.Now()
	refs, err := s.CreateMilestoneEscrows(context.Background(),
		testPlan(now), ledgertest.NewSigner(treasury))
	if err != nil {
		t.Fatal(err)
	}

	// CancelAfter is the campaign end date, 90 days out.
	signer := ledgertest.NewSigner(treasury)
	err = s.Cancel(context.Background(), refs[0], "m1", signer)
	if !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected ErrPreconditionFailed, got %v", err)
	}

	// Jump both clocks past the end date; the funds return to the owner.
	after := now.Add(91 * 24 * time.Hour)
	s.now = func() time.Time { return after }
	srv.SetNow(func() time.Time { return after })

	if err := s.Cancel(context.Background(), refs[0], "m1", signer); err != nil {
		t.Fatal(err)
	}
	if got := srv.Balance(treasury); got != 1600 {
		t.Errorf("owner balance after cancel: got %v, want 1600", got)
	}
	if got := srv.Balance(founder); got != 0 {
		t.Errorf("destination balance: got %v, want 0", got)
	}
}
