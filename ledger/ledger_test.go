// Copyright (c) 2024-2025 The CrowdLift developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ledger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/crowdlift/crowdlift/ledger"
	"github.com/crowdlift/crowdlift/ledger/ledgertest"
)

const (
	alice = "rAlice1111111111111111111111"
	bob   = "rBob222222222222222222222222"
)

func TestSubmitPayment(t *testing.T) {
	srv := ledgertest.New()
	srv.FundAccount(alice, 1000)
	srv.FundAccount(bob, 100)
	g := srv.Gateway()
	defer g.Shutdown()

	receipt, err := g.Submit(context.Background(), ledger.Payment{
		Account:     alice,
		Destination: bob,
		Amount:      ledger.NativeAmount(250),
	}, ledgertest.NewSigner(alice))
	if err != nil {
		t.Fatal(err)
	}
	if !receipt.Succeeded() {
		t.Fatalf("payment result %v", receipt.Result)
	}
	if receipt.Sequence == 0 {
		t.Error("receipt is missing the consumed sequence")
	}
	if got := srv.Balance(alice); got != 750 {
		t.Errorf("sender balance: got %v, want 750", got)
	}
	if got := srv.Balance(bob); got != 350 {
		t.Errorf("destination balance: got %v, want 350", got)
	}
}

func TestSubmitRejected(t *testing.T) {
	srv := ledgertest.New()
	srv.FundAccount(alice, 10)
	g := srv.Gateway()
	defer g.Shutdown()

	_, err := g.Submit(context.Background(), ledger.Payment{
		Account:     alice,
		Destination: bob,
		Amount:      ledger.NativeAmount(5000),
	}, ledgertest.NewSigner(alice))
	if err == nil {
		t.Fatal("expected rejection for unfunded payment")
	}

	var rejected ledger.RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected RejectedError, got %T: %v", err, err)
	}
	if rejected.Code != "tecUNFUNDED_PAYMENT" {
		t.Errorf("rejection code: got %v", rejected.Code)
	}
	if rejected.IsRetryable() {
		t.Error("tec rejection must not be retryable as-is")
	}

	// No balance changed.
	if got := srv.Balance(alice); got != 10 {
		t.Errorf("sender balance: got %v, want 10", got)
	}
}

func TestSubmitSignerMismatch(t *testing.T) {
	srv := ledgertest.New()
	srv.FundAccount(alice, 100)
	g := srv.Gateway()
	defer g.Shutdown()

	_, err := g.Submit(context.Background(), ledger.Payment{
		Account:     alice,
		Destination: bob,
		Amount:      ledger.NativeAmount(1),
	}, ledgertest.NewSigner(bob))
	if err == nil {
		t.Fatal("expected error for signer/account mismatch")
	}
}

func TestRejectedRetryable(t *testing.T) {
	tests := []struct {
		code      string
		retryable bool
	}{
		{"terQUEUED", true},
		{"terPRE_SEQ", true},
		{"tecUNFUNDED", false},
		{"tefPAST_SEQ", false},
		{"temMALFORMED", false},
	}
	for _, v := range tests {
		err := ledger.RejectedError{Code: v.code}
		if err.IsRetryable() != v.retryable {
			t.Errorf("%v: retryable should be %v", v.code, v.retryable)
		}
	}
}

func TestUnknownOutcomeResolution(t *testing.T) {
	srv := ledgertest.New()
	srv.FundAccount(alice, 1000)
	srv.FundAccount(bob, 0)
	g := srv.Gateway()
	defer g.Shutdown()

	// Withhold validation so the submission's wait expires.
	srv.HoldValidation()
	receipt, err := g.Submit(context.Background(), ledger.Payment{
		Account:     alice,
		Destination: bob,
		Amount:      ledger.NativeAmount(100),
	}, ledgertest.NewSigner(alice))
	if !errors.Is(err, ledger.ErrUnknownOutcome) {
		t.Fatalf("expected ErrUnknownOutcome, got %v", err)
	}
	if receipt == nil || receipt.Hash == "" {
		t.Fatal("partial receipt must carry the transaction hash")
	}

	// Still unvalidated: resolution reports the outcome as unknown.
	_, err = g.ResolveOutcome(context.Background(), receipt.Hash)
	if !errors.Is(err, ledger.ErrUnknownOutcome) {
		t.Fatalf("expected ErrUnknownOutcome, got %v", err)
	}

	// Once validated, resolution yields the final receipt.
	srv.ReleaseHeld()
	resolved, err := g.ResolveOutcome(context.Background(), receipt.Hash)
	if err != nil {
		t.Fatal(err)
	}
	if !resolved.Succeeded() {
		t.Errorf("resolved result %v", resolved.Result)
	}
	if got := srv.Balance(bob); got != 100 {
		t.Errorf("destination balance: got %v, want 100", got)
	}
}

func TestResolveOutcomeUnknownHash(t *testing.T) {
	srv := ledgertest.New()
	g := srv.Gateway()
	defer g.Shutdown()

	_, err := g.ResolveOutcome(context.Background(), "DEADBEEF")
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestQueryNotFound(t *testing.T) {
	srv := ledgertest.New()
	g := srv.Gateway()
	defer g.Shutdown()

	_, err := g.AccountInfo(context.Background(), alice)
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
