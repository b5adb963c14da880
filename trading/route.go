// Copyright (c) 2024-2025 The CrowdLift developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package trading

import (
	"context"
	"errors"
	"fmt"

	"github.com/crowdlift/crowdlift/ledger"
)

// Hop is one pool traversal within a route.
type Hop struct {
	From      ledger.Asset
	To        ledger.Asset
	AmountIn  float64
	AmountOut float64
	Impact    float64 // Percent
	Pool      *ledger.AMMInfo
}

// Route is a quoted trade path. A route has one hop when a direct pool
// exists, or two hops through the native currency otherwise.
type Route struct {
	Hops      []Hop
	AmountOut float64

	// Impact is the sum of the per-hop price impacts. For a multi-hop
	// route this is an approximation: impacts compound rather than add,
	// so the true combined impact is slightly below the sum. Reported
	// as-is rather than pretending to be exact.
	Impact float64
}

// quoteHop quotes a single pool traversal.
func (e *Engine) quoteHop(ctx context.Context, from, to ledger.Asset, amountIn float64) (*Hop, error) {
	pool, err := e.gateway.AMMInfo(ctx, from, to)
	if err != nil {
		return nil, err
	}
	rIn, rOut, err := reserves(pool, from)
	if err != nil {
		return nil, err
	}
	fee := feeRate(pool.TradingFee)
	return &Hop{
		From:      from,
		To:        to,
		AmountIn:  amountIn,
		AmountOut: QuoteOut(rIn, rOut, amountIn, fee),
		Impact:    PriceImpact(rIn, rOut, amountIn, fee),
		Pool:      pool,
	}, nil
}

// BestRoute quotes the route for a pair. The direct pool is always preferred;
// a two-hop route through the native currency is attempted only when no
// direct pool exists. ErrNoRoute is returned when neither is available.
func (e *Engine) BestRoute(ctx context.Context, from, to ledger.Asset, amountIn float64) (*Route, error) {
	if amountIn <= 0 {
		return nil, errors.New("amount must be positive")
	}

	direct, err := e.quoteHop(ctx, from, to, amountIn)
	switch {
	case err == nil:
		return &Route{
			Hops:      []Hop{*direct},
			AmountOut: direct.AmountOut,
			Impact:    direct.Impact,
		}, nil
	case !errors.Is(err, ledger.ErrNotFound):
		return nil, fmt.Errorf("route %v/%v: %w", from.Currency,
			to.Currency, err)
	}

	if from == ledger.NativeAsset || to == ledger.NativeAsset {
		return nil, fmt.Errorf("%v/%v: %w", from.Currency, to.Currency,
			ErrNoRoute)
	}

	first, err := e.quoteHop(ctx, from, ledger.NativeAsset, amountIn)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			err = ErrNoRoute
		}
		return nil, fmt.Errorf("route %v/%v: %w", from.Currency,
			to.Currency, err)
	}
	second, err := e.quoteHop(ctx, ledger.NativeAsset, to, first.AmountOut)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			err = ErrNoRoute
		}
		return nil, fmt.Errorf("route %v/%v: %w", from.Currency,
			to.Currency, err)
	}

	return &Route{
		Hops:      []Hop{*first, *second},
		AmountOut: second.AmountOut,
		Impact:    first.Impact + second.Impact,
	}, nil
}

// ExecuteRoute executes each hop of a route in order, feeding the realized
// output of one hop into the next. The final delivered amount is returned.
func (e *Engine) ExecuteRoute(ctx context.Context, signer ledger.Signer, r *Route, slippage float64) (float64, error) {
	if len(r.Hops) == 0 {
		return 0, errors.New("empty route")
	}
	amountIn := r.Hops[0].AmountIn
	var delivered float64
	for _, hop := range r.Hops {
		var err error
		delivered, err = e.ExecuteSwap(ctx, signer, SwapParams{
			From:     hop.From,
			To:       hop.To,
			AmountIn: amountIn,
			Slippage: slippage,
		})
		if err != nil {
			return 0, fmt.Errorf("hop %v->%v: %w", hop.From.Currency,
				hop.To.Currency, err)
		}
		amountIn = delivered
	}
	return delivered, nil
}
