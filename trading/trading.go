// Copyright (c) 2024-2025 The CrowdLift developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package trading quotes and executes trades against campaign liquidity
// pools. Quote math mirrors on-chain constant-product execution exactly;
// a quote that diverged from execution would systematically mislead users.
package trading

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/crowdlift/crowdlift/ledger"
	"github.com/crowdlift/crowdlift/tokens"
)

// defaultSlippage is the slippage tolerance applied when the caller does not
// provide one.
const defaultSlippage = 0.01

var (
	// ErrInvalidPercent is returned when a partial exit percentage is
	// outside (0, 100].
	ErrInvalidPercent = errors.New("percent must be in (0, 100]")

	// ErrNoRoute is returned when neither a direct pool nor a two-hop
	// route through the native currency exists for a pair.
	ErrNoRoute = errors.New("no trading route for pair")
)

// QuoteOut returns the constant-product output for a given input, with the
// fee deducted from the input side:
//
//	out = reserveOut * in*(1-fee) / (reserveIn + in*(1-fee))
//
// The fee is a fraction in [0, 1).
func QuoteOut(reserveIn, reserveOut, amountIn, fee float64) float64 {
	e := amountIn * (1 - fee)
	return reserveOut * e / (reserveIn + e)
}

// PriceImpact returns the relative change of the pool price
// (reserveOut/reserveIn) caused by a hypothetical trade, as a percentage.
func PriceImpact(reserveIn, reserveOut, amountIn, fee float64) float64 {
	out := QuoteOut(reserveIn, reserveOut, amountIn, fee)
	before := reserveOut / reserveIn
	after := (reserveOut - out) / (reserveIn + amountIn)
	return (before - after) / before * 100
}

// feeRate converts an on-ledger trading fee (units of 1/100,000) to a
// fraction.
func feeRate(tradingFee uint16) float64 {
	return float64(tradingFee) / 100000
}

// FeeHook observes the realized trading fee of each executed swap,
// denominated in the input asset. Used to accrue the safety fund.
type FeeHook func(asset ledger.Asset, fee float64)

// Engine executes trades through the gateway.
type Engine struct {
	gateway *ledger.Gateway
	stable  tokens.Stablecoin
	feeHook FeeHook
}

// NewEngine returns a new trading Engine. The fee hook may be nil.
func NewEngine(g *ledger.Gateway, stable tokens.Stablecoin, hook FeeHook) *Engine {
	return &Engine{
		gateway: g,
		stable:  stable,
		feeHook: hook,
	}
}

// assetAmount builds an Amount for an asset whose currency is already in
// wire form.
func assetAmount(a ledger.Asset, v float64) ledger.Amount {
	if a == ledger.NativeAsset {
		return ledger.NativeAmount(v)
	}
	return ledger.Amount{
		Currency: a.Currency,
		Issuer:   a.Issuer,
		Value:    strconv.FormatFloat(v, 'f', -1, 64),
	}
}

// reserves returns the pool reserves ordered input side first.
func reserves(pool *ledger.AMMInfo, in ledger.Asset) (float64, float64, error) {
	v1, err := pool.Amount.Float()
	if err != nil {
		return 0, 0, err
	}
	v2, err := pool.Amount2.Float()
	if err != nil {
		return 0, 0, err
	}
	if ledger.AssetFor(pool.Amount) == in {
		return v1, v2, nil
	}
	return v2, v1, nil
}

// Quote returns the output amount a swap of amountIn would deliver on the
// direct pool for the pair, along with the pool it was quoted against.
func (e *Engine) Quote(ctx context.Context, from, to ledger.Asset, amountIn float64) (float64, *ledger.AMMInfo, error) {
	if amountIn <= 0 {
		return 0, nil, errors.New("amount must be positive")
	}
	pool, err := e.gateway.AMMInfo(ctx, from, to)
	if err != nil {
		return 0, nil, fmt.Errorf("quote %v/%v: %w", from.Currency,
			to.Currency, err)
	}
	rIn, rOut, err := reserves(pool, from)
	if err != nil {
		return 0, nil, err
	}
	return QuoteOut(rIn, rOut, amountIn, feeRate(pool.TradingFee)), pool, nil
}

// SwapParams describe a swap.
type SwapParams struct {
	From     ledger.Asset
	To       ledger.Asset
	AmountIn float64

	// Slippage is the tolerated shortfall of the delivered amount below
	// the quote, as a fraction. Zero selects the default.
	Slippage float64
}

func (p *SwapParams) validate() error {
	if p.AmountIn <= 0 {
		return errors.New("amount must be positive")
	}
	if p.From == p.To {
		return errors.New("swap assets must differ")
	}
	if p.Slippage < 0 || p.Slippage >= 1 {
		return fmt.Errorf("invalid slippage %v", p.Slippage)
	}
	return nil
}

// ExecuteSwap swaps AmountIn of the source asset through the direct pool as
// a pay-to-self payment. The delivered amount is the quote discounted by the
// slippage tolerance and SendMax bounds the spend, so if the realized price
// moves past the bound the ledger rejects the payment outright rather than
// overpaying.
func (e *Engine) ExecuteSwap(ctx context.Context, signer ledger.Signer, p SwapParams) (float64, error) {
	if err := p.validate(); err != nil {
		return 0, err
	}
	slippage := p.Slippage
	if slippage == 0 {
		slippage = defaultSlippage
	}

	quote, pool, err := e.Quote(ctx, p.From, p.To, p.AmountIn)
	if err != nil {
		return 0, err
	}
	deliver := quote * (1 - slippage)

	receipt, err := e.gateway.Submit(ctx, ledger.Payment{
		Account:     signer.Address(),
		Destination: signer.Address(),
		Amount:      assetAmount(p.To, deliver),
		SendMax:     assetAmount(p.From, p.AmountIn),
	}, signer)
	if err != nil {
		return 0, fmt.Errorf("swap %v->%v: %w", p.From.Currency,
			p.To.Currency, err)
	}
	if !receipt.Succeeded() {
		return 0, fmt.Errorf("swap %v->%v: %v", p.From.Currency,
			p.To.Currency, receipt.Result)
	}

	if e.feeHook != nil {
		e.feeHook(p.From, p.AmountIn*feeRate(pool.TradingFee))
	}
	log.Infof("Swapped %v %v for %v %v (pool %v)", p.AmountIn,
		p.From.Currency, deliver, p.To.Currency, pool.Account)
	return deliver, nil
}

// ExecutePartialExit sells a percentage of the account's holding of a
// campaign token back into the reference stablecoin. The percentage must be
// in (0, 100]; 100 sells the entire balance.
func (e *Engine) ExecutePartialExit(ctx context.Context, signer ledger.Signer, tokenSymbol, issuerAddress string, percent float64) (float64, error) {
	if percent <= 0 || percent > 100 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPercent, percent)
	}

	code := ledger.CurrencyCode(tokenSymbol)
	lines, err := e.gateway.AccountLines(ctx, signer.Address())
	if err != nil {
		return 0, fmt.Errorf("partial exit: %w", err)
	}
	var balance float64
	for _, l := range lines {
		if l.Currency == code && l.Account == issuerAddress {
			balance, err = strconv.ParseFloat(l.Balance, 64)
			if err != nil {
				return 0, fmt.Errorf("partial exit: %v", err)
			}
			break
		}
	}
	if balance <= 0 {
		return 0, fmt.Errorf("partial exit: no %v balance", tokenSymbol)
	}

	return e.ExecuteSwap(ctx, signer, SwapParams{
		From:     ledger.Asset{Currency: code, Issuer: issuerAddress},
		To:       e.stable.Asset(),
		AmountIn: balance * percent / 100,
	})
}

// AddLiquidity deposits both assets into an existing pool.
func (e *Engine) AddLiquidity(ctx context.Context, signer ledger.Signer, amount, amount2 ledger.Amount) error {
	receipt, err := e.gateway.Submit(ctx, ledger.AMMDeposit{
		Account: signer.Address(),
		Amount:  amount,
		Amount2: amount2,
	}, signer)
	if err != nil {
		return fmt.Errorf("add liquidity: %w", err)
	}
	if !receipt.Succeeded() {
		return fmt.Errorf("add liquidity: %v", receipt.Result)
	}
	return nil
}

// RemoveLiquidity redeems LP tokens for a proportional share of both pool
// assets.
func (e *Engine) RemoveLiquidity(ctx context.Context, signer ledger.Signer, asset, asset2 ledger.Asset, lpTokens float64) error {
	pool, err := e.gateway.AMMInfo(ctx, asset, asset2)
	if err != nil {
		return fmt.Errorf("remove liquidity: %w", err)
	}
	receipt, err := e.gateway.Submit(ctx, ledger.AMMWithdraw{
		Account: signer.Address(),
		Asset:   assetAmount(asset, 1),
		Asset2:  assetAmount(asset2, 1),
		LPTokenIn: ledger.Amount{
			Currency: "LPT",
			Issuer:   pool.Account,
			Value:    strconv.FormatFloat(lpTokens, 'f', -1, 64),
		},
	}, signer)
	if err != nil {
		return fmt.Errorf("remove liquidity: %w", err)
	}
	if !receipt.Succeeded() {
		return fmt.Errorf("remove liquidity: %v", receipt.Result)
	}
	return nil
}

// PoolStats is a point-in-time snapshot of a campaign token pool.
type PoolStats struct {
	Account       string
	ReserveToken  float64
	ReserveStable float64
	Price         float64 // Stablecoin per token
	TradingFee    uint16
	ObservedAt    time.Time
}

// Stats reads a depth snapshot of the pool pairing the token with the
// reference stablecoin.
func (e *Engine) Stats(ctx context.Context, token ledger.Asset) (*PoolStats, error) {
	pool, err := e.gateway.AMMInfo(ctx, token, e.stable.Asset())
	if err != nil {
		return nil, fmt.Errorf("pool stats: %w", err)
	}
	rToken, rStable, err := reserves(pool, token)
	if err != nil {
		return nil, err
	}
	if rToken == 0 {
		return nil, fmt.Errorf("pool %v has no token reserve", pool.Account)
	}
	return &PoolStats{
		Account:       pool.Account,
		ReserveToken:  rToken,
		ReserveStable: rStable,
		Price:         rStable / rToken,
		TradingFee:    pool.TradingFee,
		ObservedAt:    time.Now(),
	}, nil
}
