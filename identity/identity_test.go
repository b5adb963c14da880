// Copyright (c) 2024-2025 The CrowdLift developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package identity

import (
	"context"
	"testing"
	"time"

	"github.com/crowdlift/crowdlift/ledger/ledgertest"
)

const founder = "rFounder11111111111111111111"

func validKYC() *KYC {
	return &KYC{
		CompanyName:        "Solar Farms Ltd",
		RegistrationNumber: "REG-12345",
		Address:            "1 Main St",
		ContactEmail:       "founder@solarfarms.example",
		ContactPhone:       "+1-555-0100",
		BusinessType:       "renewable-energy",
	}
}

func TestKYCValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*KYC)
		wantErr bool
	}{
		{"valid", func(k *KYC) {}, false},
		{"missing company name", func(k *KYC) { k.CompanyName = "" }, true},
		{"missing registration", func(k *KYC) { k.RegistrationNumber = "" }, true},
		{"missing business type", func(k *KYC) { k.BusinessType = "" }, true},
		{"missing email", func(k *KYC) { k.ContactEmail = "" }, true},
		{"malformed email", func(k *KYC) { k.ContactEmail = "not-an-email" }, true},
	}
	for _, v := range tests {
		t.Run(v.name, func(t *testing.T) {
			k := validKYC()
			v.mutate(k)
			err := k.Validate()
			if v.wantErr && err == nil {
				t.Error("expected validation error")
			}
			if !v.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestKYCHashDailyGranularity(t *testing.T) {
	k := validKYC()
	morning := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	evening := time.Date(2025, 6, 1, 22, 0, 0, 0, time.UTC)
	nextDay := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)

	if k.Hash(morning) != k.Hash(evening) {
		t.Error("hash must be stable within a day")
	}
	if k.Hash(morning) == k.Hash(nextDay) {
		t.Error("hash must differ across days")
	}

	// Contact details do not participate in the hash.
	other := validKYC()
	other.ContactEmail = "other@solarfarms.example"
	other.ContactPhone = "+1-555-0199"
	if k.Hash(morning) != other.Hash(morning) {
		t.Error("contact details must not affect the hash")
	}

	// Business-identifying fields do.
	other = validKYC()
	other.RegistrationNumber = "REG-99999"
	if k.Hash(morning) == other.Hash(morning) {
		t.Error("registration number must affect the hash")
	}
}

func TestCreditScore(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		f    Financials
		want int
	}{
		{
			"all caps met",
			Financials{
				Revenue:        1e6,
				CashFlow:       1e5,
				Assets:         5e5,
				Liabilities:    0,
				PaymentHistory: 100,
				BusinessAge:    10,
			},
			1000,
		},
		{
			"zero financials",
			Financials{},
			0,
		},
		{
			"mixed",
			Financials{
				Revenue:        5e5,
				CashFlow:       -1e5,
				Assets:         2.5e5,
				Liabilities:    2.5e5,
				PaymentHistory: 80,
				BusinessAge:    5,
			},
			225,
		},
		{
			"negative clamps to zero",
			Financials{CashFlow: -1e6},
			0,
		},
		{
			"caps bound overlarge inputs",
			Financials{
				Revenue:        1e9,
				CashFlow:       1e9,
				Assets:         1e9,
				PaymentHistory: 100,
				BusinessAge:    50,
			},
			1000,
		},
	}
	for _, v := range tests {
		t.Run(v.name, func(t *testing.T) {
			score, hash := CreditScore(v.f, now)
			if score != v.want {
				t.Errorf("score: got %v, want %v", score, v.want)
			}
			if hash == "" {
				t.Error("missing financials hash")
			}
		})
	}

	// Hash has daily granularity like the identity hash.
	_, h1 := CreditScore(Financials{Revenue: 100}, now)
	_, h2 := CreditScore(Financials{Revenue: 100}, now.Add(2*time.Hour))
	_, h3 := CreditScore(Financials{Revenue: 100}, now.Add(24*time.Hour))
	if h1 != h2 {
		t.Error("hash must be stable within a day")
	}
	if h1 == h3 {
		t.Error("hash must differ across days")
	}
}

func TestAnchorIdentity(t *testing.T) {
	srv := ledgertest.New()
	srv.FundAccount(founder, 100)
	g := srv.Gateway()
	defer g.Shutdown()
	issuer := NewIssuer(g)

	ref, err := issuer.AnchorIdentity(context.Background(), validKYC(),
		ledgertest.NewSigner(founder))
	if err != nil {
		t.Fatal(err)
	}
	if ref != "did:xrpl:"+founder {
		t.Errorf("identity ref: got %v", ref)
	}

	// The anchor memo is on-ledger and typed.
	txs, err := g.AccountTxs(context.Background(), founder, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) != 1 || len(txs[0].Memos) != 1 {
		t.Fatal("expected one anchored transaction with one memo")
	}
	if string(txs[0].Memos[0].Type) != "crowdlift/identity" {
		t.Errorf("memo type: got %q", txs[0].Memos[0].Type)
	}
}

func TestAnchorIdentityInvalidKYC(t *testing.T) {
	srv := ledgertest.New()
	srv.FundAccount(founder, 100)
	g := srv.Gateway()
	defer g.Shutdown()

	k := validKYC()
	k.CompanyName = ""
	_, err := NewIssuer(g).AnchorIdentity(context.Background(), k,
		ledgertest.NewSigner(founder))
	if err == nil {
		t.Fatal("expected error for invalid payload")
	}
	// Nothing reached the ledger.
	txs, err := g.AccountTxs(context.Background(), founder, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) != 0 {
		t.Errorf("expected no transactions, got %v", len(txs))
	}
}
