// Copyright (c) 2024-2025 The CrowdLift developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package trading

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/crowdlift/crowdlift/ledger"
	"github.com/crowdlift/crowdlift/ledger/ledgertest"
)

// newHopServer stands up a ledger with ALPH/XRP and XRP/BETA pools and no
// direct ALPH/BETA pool.
func newHopServer(t *testing.T) *ledgertest.Server {
	t.Helper()
	srv := ledgertest.New()
	srv.FundAccount(founder, 50000)
	g := srv.Gateway()
	defer g.Shutdown()
	signer := ledgertest.NewSigner(founder)

	for _, symbol := range []string{"ALPH", "BETA"} {
		_, err := g.Submit(context.Background(), ledger.AMMCreate{
			Account:    signer.Address(),
			Amount:     ledger.IssuedAmount(symbol, founder, 100000),
			Amount2:    ledger.NativeAmount(10000),
			TradingFee: 500,
		}, signer)
		if err != nil {
			t.Fatal(err)
		}
	}
	return srv
}

func TestBestRouteDirect(t *testing.T) {
	srv := newPoolServer(t, 100000, 50000)
	g := srv.Gateway()
	defer g.Shutdown()
	e := NewEngine(g, stable, nil)

	route, err := e.BestRoute(context.Background(), tokenAsset("SOLAR"),
		stable.Asset(), 1000)
	if err != nil {
		t.Fatal(err)
	}
	if len(route.Hops) != 1 {
		t.Fatalf("expected direct route, got %v hops", len(route.Hops))
	}
	want := QuoteOut(100000, 50000, 1000, 0.005)
	if math.Abs(route.AmountOut-want) > 1e-9 {
		t.Errorf("amount out: got %v, want %v", route.AmountOut, want)
	}
	if route.Impact != route.Hops[0].Impact {
		t.Errorf("direct route impact must equal the hop impact")
	}
}

func TestBestRouteTwoHop(t *testing.T) {
	srv := newHopServer(t)
	g := srv.Gateway()
	defer g.Shutdown()
	e := NewEngine(g, stable, nil)

	route, err := e.BestRoute(context.Background(), tokenAsset("ALPH"),
		tokenAsset("BETA"), 1000)
	if err != nil {
		t.Fatal(err)
	}
	if len(route.Hops) != 2 {
		t.Fatalf("expected two-hop route, got %v hops", len(route.Hops))
	}
	if route.Hops[0].To != ledger.NativeAsset ||
		route.Hops[1].From != ledger.NativeAsset {
		t.Error("two-hop route must pass through the native currency")
	}

	// The second hop's input is the first hop's output.
	if route.Hops[1].AmountIn != route.Hops[0].AmountOut {
		t.Errorf("hop chaining: %v != %v", route.Hops[1].AmountIn,
			route.Hops[0].AmountOut)
	}
	if route.AmountOut != route.Hops[1].AmountOut {
		t.Errorf("route output: %v != %v", route.AmountOut,
			route.Hops[1].AmountOut)
	}
	if route.Impact != route.Hops[0].Impact+route.Hops[1].Impact {
		t.Error("route impact must be the sum of hop impacts")
	}
}

func TestBestRouteNoRoute(t *testing.T) {
	srv := ledgertest.New()
	srv.FundAccount(founder, 100)
	g := srv.Gateway()
	defer g.Shutdown()
	e := NewEngine(g, stable, nil)

	_, err := e.BestRoute(context.Background(), tokenAsset("ALPH"),
		tokenAsset("BETA"), 100)
	if !errors.Is(err, ErrNoRoute) {
		t.Fatalf("expected ErrNoRoute, got %v", err)
	}

	// A native-currency pair has no intermediate to route through.
	_, err = e.BestRoute(context.Background(), ledger.NativeAsset,
		tokenAsset("ALPH"), 100)
	if !errors.Is(err, ErrNoRoute) {
		t.Fatalf("expected ErrNoRoute, got %v", err)
	}
}

func TestExecuteRoute(t *testing.T) {
	srv := newHopServer(t)
	srv.FundAccount(backer, 100)
	srv.SetTrustLine(backer, "ALPH", founder, 2000, 1e9)
	g := srv.Gateway()
	defer g.Shutdown()
	e := NewEngine(g, stable, nil)

	route, err := e.BestRoute(context.Background(), tokenAsset("ALPH"),
		tokenAsset("BETA"), 1000)
	if err != nil {
		t.Fatal(err)
	}

	delivered, err := e.ExecuteRoute(context.Background(),
		ledgertest.NewSigner(backer), route, 0.01)
	if err != nil {
		t.Fatal(err)
	}
	if delivered <= 0 {
		t.Fatalf("delivered %v", delivered)
	}
	// Realized output lands below the quote because each hop applies the
	// slippage discount.
	if delivered >= route.AmountOut {
		t.Errorf("delivered %v above quote %v", delivered,
			route.AmountOut)
	}
	if got := srv.LineBalance(backer, "BETA", founder); math.Abs(got-delivered) > 1e-9 {
		t.Errorf("tokens received: got %v, want %v", got, delivered)
	}
}
