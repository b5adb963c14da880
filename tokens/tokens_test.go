// Copyright (c) 2024-2025 The CrowdLift developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package tokens

import (
	"context"
	"errors"
	"testing"

	"github.com/crowdlift/crowdlift/ledger"
	"github.com/crowdlift/crowdlift/ledger/ledgertest"
)

const (
	founder      = "rFounder11111111111111111111"
	backer       = "rBacker333333333333333333333"
	stableIssuer = "rStableIssuer444444444444444"
)

var stable = Stablecoin{Symbol: "RLUSD", Issuer: stableIssuer}

func TestEnableRipplingIdempotent(t *testing.T) {
	srv := ledgertest.New()
	srv.FundAccount(founder, 100)
	g := srv.Gateway()
	defer g.Shutdown()
	issuer := NewIssuer(g, stable)
	signer := ledgertest.NewSigner(founder)

	if err := issuer.EnableRippling(context.Background(), signer); err != nil {
		t.Fatal(err)
	}
	ai, err := g.AccountInfo(context.Background(), founder)
	if err != nil {
		t.Fatal(err)
	}
	if ai.Flags&ledger.AccountFlagDefaultRipple == 0 {
		t.Fatal("rippling flag not set")
	}

	// The second call must not submit another transaction.
	if err := issuer.EnableRippling(context.Background(), signer); err != nil {
		t.Fatal(err)
	}
	txs, err := g.AccountTxs(context.Background(), founder, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) != 1 {
		t.Errorf("expected 1 transaction, got %v", len(txs))
	}
}

func TestIssueCurrency(t *testing.T) {
	issuer := NewIssuer(nil, stable)

	code, err := issuer.IssueCurrency("SOLAR")
	if err != nil {
		t.Fatal(err)
	}
	if code != ledger.CurrencyCode("SOLAR") {
		t.Errorf("currency code: got %v", code)
	}

	if _, err := issuer.IssueCurrency(""); err == nil {
		t.Error("expected error for empty symbol")
	}
}

func TestEstablishPoolLiquidity(t *testing.T) {
	srv := ledgertest.New()
	srv.FundAccount(founder, 100)
	g := srv.Gateway()
	defer g.Shutdown()
	issuer := NewIssuer(g, stable)
	signer := ledgertest.NewSigner(founder)

	// Underfunded issuer: rejected before anything reaches the network.
	srv.SetTrustLine(founder, "RLUSD", stableIssuer, 100, 1e9)
	_, err := issuer.EstablishPoolLiquidity(context.Background(), signer,
		"SOLAR", 100000, 50000)
	if !errors.Is(err, ErrInsufficientPoolLiquidity) {
		t.Fatalf("expected ErrInsufficientPoolLiquidity, got %v", err)
	}

	srv.SetTrustLine(founder, "RLUSD", stableIssuer, 60000, 1e9)
	pool, err := issuer.EstablishPoolLiquidity(context.Background(), signer,
		"SOLAR", 100000, 50000)
	if err != nil {
		t.Fatal(err)
	}
	if pool.Account == "" {
		t.Fatal("pool has no account")
	}
	if pool.TradingFee != poolTradingFee {
		t.Errorf("trading fee: got %v, want %v", pool.TradingFee,
			poolTradingFee)
	}
	if got := srv.LineBalance(founder, "RLUSD", stableIssuer); got != 10000 {
		t.Errorf("stablecoin reserve not debited: balance %v", got)
	}

	// A second call is satisfied by the existing pool; a duplicate pool
	// would fragment liquidity.
	again, err := issuer.EstablishPoolLiquidity(context.Background(), signer,
		"SOLAR", 100000, 50000)
	if err != nil {
		t.Fatal(err)
	}
	if again.Account != pool.Account {
		t.Errorf("expected existing pool %v, got %v", pool.Account,
			again.Account)
	}
	if got := srv.LineBalance(founder, "RLUSD", stableIssuer); got != 10000 {
		t.Errorf("second call spent reserves: balance %v", got)
	}
}

func TestContribute(t *testing.T) {
	srv := ledgertest.New()
	srv.FundAccount(founder, 100)
	srv.FundAccount(backer, 100)
	// The token issuer receives stablecoin on its own trust line.
	srv.SetTrustLine(founder, "RLUSD", stableIssuer, 0, 1e9)
	srv.SetTrustLine(backer, "RLUSD", stableIssuer, 500, 1e9)
	g := srv.Gateway()
	defer g.Shutdown()
	issuer := NewIssuer(g, stable)

	founderSigner := ledgertest.NewSigner(founder)
	backerSigner := ledgertest.NewSigner(backer)

	err := issuer.SetupTrustLine(context.Background(), backerSigner,
		"SOLAR", founder, 1e9)
	if err != nil {
		t.Fatal(err)
	}

	err = issuer.Contribute(context.Background(), founderSigner,
		backerSigner, "SOLAR", 1000, 250)
	if err != nil {
		t.Fatal(err)
	}

	if got := srv.LineBalance(backer, "RLUSD", stableIssuer); got != 250 {
		t.Errorf("backer stablecoin: got %v, want 250", got)
	}
	if got := srv.LineBalance(founder, "RLUSD", stableIssuer); got != 250 {
		t.Errorf("issuer stablecoin: got %v, want 250", got)
	}
	if got := srv.LineBalance(backer, "SOLAR", founder); got != 1000 {
		t.Errorf("backer tokens: got %v, want 1000", got)
	}
}

func TestContributeUnfundedBacker(t *testing.T) {
	srv := ledgertest.New()
	srv.FundAccount(founder, 100)
	srv.FundAccount(backer, 100)
	srv.SetTrustLine(founder, "RLUSD", stableIssuer, 0, 1e9)
	srv.SetTrustLine(backer, "RLUSD", stableIssuer, 10, 1e9)
	g := srv.Gateway()
	defer g.Shutdown()
	issuer := NewIssuer(g, stable)

	err := issuer.Contribute(context.Background(),
		ledgertest.NewSigner(founder), ledgertest.NewSigner(backer),
		"SOLAR", 1000, 250)
	if err == nil {
		t.Fatal("expected error for unfunded contribution")
	}
	// The stablecoin leg failed, so no tokens were distributed.
	if got := srv.LineBalance(backer, "SOLAR", founder); got != 0 {
		t.Errorf("tokens distributed unpaid: %v", got)
	}
}
