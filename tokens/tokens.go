// Copyright (c) 2024-2025 The CrowdLift developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package tokens provisions a campaign's issued token: the issuer account
// rippling flag, the currency code, the bootstrap liquidity pool against the
// reference stablecoin, and backer-side distribution.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/crowdlift/crowdlift/ledger"
)

// poolTradingFee is the trading fee attached to every campaign pool, in
// units of 1/100,000 (500 = 0.5%).
const poolTradingFee = 500

// ErrInsufficientPoolLiquidity is returned when pool creation is attempted
// before the issuer holds enough reference stablecoin. Checked before
// submission so no fee is burned on a doomed transaction.
var ErrInsufficientPoolLiquidity = errors.New("insufficient stablecoin " +
	"balance for pool creation")

// Stablecoin identifies the reference stablecoin every campaign pool pairs
// against.
type Stablecoin struct {
	Symbol string
	Issuer string
}

// Asset returns the stablecoin's pool asset identity.
func (s Stablecoin) Asset() ledger.Asset {
	return ledger.Asset{
		Currency: ledger.CurrencyCode(s.Symbol),
		Issuer:   s.Issuer,
	}
}

// Issuer provisions campaign tokens.
type Issuer struct {
	gateway *ledger.Gateway
	stable  Stablecoin
}

// NewIssuer returns a new token Issuer.
func NewIssuer(g *ledger.Gateway, stable Stablecoin) *Issuer {
	return &Issuer{
		gateway: g,
		stable:  stable,
	}
}

// EnableRippling sets the default rippling flag on the issuer account so the
// issued currency can flow through trust line paths. Idempotent: an account
// that already carries the flag is left untouched.
func (t *Issuer) EnableRippling(ctx context.Context, signer ledger.Signer) error {
	ai, err := t.gateway.AccountInfo(ctx, signer.Address())
	if err != nil {
		return fmt.Errorf("enable rippling: %w", err)
	}
	if ai.Flags&ledger.AccountFlagDefaultRipple != 0 {
		log.Debugf("Rippling already enabled on %v", signer.Address())
		return nil
	}

	receipt, err := t.gateway.Submit(ctx, ledger.AccountSet{
		Account: signer.Address(),
		SetFlag: ledger.AccountSetFlagDefaultRipple,
	}, signer)
	if err != nil {
		return fmt.Errorf("enable rippling: %w", err)
	}
	if !receipt.Succeeded() {
		return fmt.Errorf("enable rippling: %v", receipt.Result)
	}
	log.Infof("Rippling enabled on %v", signer.Address())
	return nil
}

// IssueCurrency derives the wire currency code for a token symbol. No ledger
// object is created; issuance is implicit in the first payment out of the
// issuer account.
func (t *Issuer) IssueCurrency(symbol string) (string, error) {
	if symbol == "" {
		return "", errors.New("missing token symbol")
	}
	return ledger.CurrencyCode(symbol), nil
}

// stableBalance returns the issuer's reference stablecoin trust line
// balance.
func (t *Issuer) stableBalance(ctx context.Context, address string) (float64, error) {
	lines, err := t.gateway.AccountLines(ctx, address)
	if err != nil {
		return 0, err
	}
	code := ledger.CurrencyCode(t.stable.Symbol)
	for _, l := range lines {
		if l.Currency == code && l.Account == t.stable.Issuer {
			return strconv.ParseFloat(l.Balance, 64)
		}
	}
	return 0, nil
}

// EstablishPoolLiquidity creates the campaign token's liquidity pool with
// both initial reserves. Not idempotent on the ledger: a second AMMCreate
// for the same pair creates a second, unwanted pool, so an existing pool is
// detected first and returned as-is. The issuer must already hold the
// stablecoin reserve; ErrInsufficientPoolLiquidity is returned before any
// fee is spent otherwise.
func (t *Issuer) EstablishPoolLiquidity(ctx context.Context, signer ledger.Signer, tokenSymbol string, tokenAmount, stableAmount float64) (*ledger.AMMInfo, error) {
	tokenAsset := ledger.Asset{
		Currency: ledger.CurrencyCode(tokenSymbol),
		Issuer:   signer.Address(),
	}

	// A pool from a previous attempt satisfies the call.
	pool, err := t.gateway.AMMInfo(ctx, tokenAsset, t.stable.Asset())
	switch {
	case err == nil:
		log.Infof("Pool %v already exists for %v/%v", pool.Account,
			tokenSymbol, t.stable.Symbol)
		return pool, nil
	case !errors.Is(err, ledger.ErrNotFound):
		return nil, fmt.Errorf("pool lookup: %w", err)
	}

	balance, err := t.stableBalance(ctx, signer.Address())
	if err != nil {
		return nil, fmt.Errorf("stablecoin balance: %w", err)
	}
	if balance < stableAmount {
		return nil, fmt.Errorf("have %v %v, pool requires %v: %w",
			balance, t.stable.Symbol, stableAmount,
			ErrInsufficientPoolLiquidity)
	}

	receipt, err := t.gateway.Submit(ctx, ledger.AMMCreate{
		Account:    signer.Address(),
		Amount:     ledger.IssuedAmount(tokenSymbol, signer.Address(), tokenAmount),
		Amount2:    ledger.IssuedAmount(t.stable.Symbol, t.stable.Issuer, stableAmount),
		TradingFee: poolTradingFee,
	}, signer)
	if err != nil {
		return nil, fmt.Errorf("pool creation failed: %w", err)
	}
	if !receipt.Succeeded() {
		return nil, fmt.Errorf("pool creation failed: %v", receipt.Result)
	}

	pool, err = t.gateway.AMMInfo(ctx, tokenAsset, t.stable.Asset())
	if err != nil {
		return nil, fmt.Errorf("pool lookup after creation: %w", err)
	}
	log.Infof("Pool %v created for %v/%v (%v/%v reserves)", pool.Account,
		tokenSymbol, t.stable.Symbol, tokenAmount, stableAmount)
	return pool, nil
}

// SetupTrustLine opens a backer's trust line to the issuer so the backer can
// receive the campaign token, up to the provided limit.
func (t *Issuer) SetupTrustLine(ctx context.Context, signer ledger.Signer, tokenSymbol, issuerAddress string, limit float64) error {
	receipt, err := t.gateway.Submit(ctx, ledger.TrustSet{
		Account:     signer.Address(),
		LimitAmount: ledger.IssuedAmount(tokenSymbol, issuerAddress, limit),
	}, signer)
	if err != nil {
		return fmt.Errorf("trust line %v to %v: %w", tokenSymbol,
			issuerAddress, err)
	}
	if !receipt.Succeeded() {
		return fmt.Errorf("trust line %v to %v: %v", tokenSymbol,
			issuerAddress, receipt.Result)
	}
	return nil
}

// Contribute executes a funding contribution: the backer pays stablecoin to
// the issuer and the issuer distributes campaign tokens back. Both payments
// route through the single per-account submission path; the stablecoin leg
// goes first so tokens are never distributed unpaid.
func (t *Issuer) Contribute(ctx context.Context, issuerSigner, backerSigner ledger.Signer, tokenSymbol string, tokenAmount, stableAmount float64) error {
	receipt, err := t.gateway.Submit(ctx, ledger.Payment{
		Account:     backerSigner.Address(),
		Destination: issuerSigner.Address(),
		Amount: ledger.IssuedAmount(t.stable.Symbol, t.stable.Issuer,
			stableAmount),
	}, backerSigner)
	if err != nil {
		return fmt.Errorf("contribution payment: %w", err)
	}
	if !receipt.Succeeded() {
		return fmt.Errorf("contribution payment: %v", receipt.Result)
	}

	receipt, err = t.gateway.Submit(ctx, ledger.Payment{
		Account:     issuerSigner.Address(),
		Destination: backerSigner.Address(),
		Amount: ledger.IssuedAmount(tokenSymbol, issuerSigner.Address(),
			tokenAmount),
	}, issuerSigner)
	if err != nil {
		return fmt.Errorf("token distribution: %w", err)
	}
	if !receipt.Succeeded() {
		return fmt.Errorf("token distribution: %v", receipt.Result)
	}

	log.Infof("Contribution settled: %v %v from %v, %v %v to %v",
		stableAmount, t.stable.Symbol, backerSigner.Address(),
		tokenAmount, tokenSymbol, backerSigner.Address())
	return nil
}
