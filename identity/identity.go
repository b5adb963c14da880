// Copyright (c) 2024-2025 The CrowdLift developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package identity anchors founder identity attestations on the ledger. The
// KYC payload itself never leaves the platform; only a salted-by-day hash of
// the business-identifying fields is anchored, attached to a minimal
// self-referential transaction.
package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/crowdlift/crowdlift/ledger"
)

// Documents are the supporting document references of a KYC payload. Values
// are storage pointers, not document contents.
type Documents struct {
	RegistrationCertificate string `json:"registrationcertificate"`
	TaxCertificate          string `json:"taxcertificate"`
	BankStatement           string `json:"bankstatement"`
}

// KYC is a founder's know-your-customer payload.
type KYC struct {
	CompanyName        string    `json:"companyname"`
	RegistrationNumber string    `json:"registrationnumber"`
	Address            string    `json:"address"`
	ContactEmail       string    `json:"contactemail"`
	ContactPhone       string    `json:"contactphone"`
	BusinessType       string    `json:"businesstype"`
	Documents          Documents `json:"documents"`
}

// Validate verifies the payload is structurally complete. Called before any
// network interaction so a malformed payload fails fast.
func (k *KYC) Validate() error {
	switch {
	case k.CompanyName == "":
		return errors.New("missing company name")
	case k.RegistrationNumber == "":
		return errors.New("missing registration number")
	case k.BusinessType == "":
		return errors.New("missing business type")
	case k.ContactEmail == "" || !strings.Contains(k.ContactEmail, "@"):
		return fmt.Errorf("invalid contact email %q", k.ContactEmail)
	}
	return nil
}

// kycDigest is the hashed subset of a KYC payload. Only business-identifying
// fields participate; contact details and document pointers do not. The day
// stamp makes repeated hashing deterministic within a day.
type kycDigest struct {
	CompanyName        string `json:"companyname"`
	RegistrationNumber string `json:"registrationnumber"`
	BusinessType       string `json:"businesstype"`
	Day                int64  `json:"day"`
}

// Hash returns the daily-granularity attestation hash of the payload.
func (k *KYC) Hash(now time.Time) string {
	b, err := json.Marshal(kycDigest{
		CompanyName:        k.CompanyName,
		RegistrationNumber: k.RegistrationNumber,
		BusinessType:       k.BusinessType,
		Day:                now.Unix() / 86400,
	})
	if err != nil {
		// Marshaling a flat struct cannot fail.
		panic(err)
	}
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

// Issuer anchors identity attestations.
type Issuer struct {
	gateway *ledger.Gateway
	now     func() time.Time
}

// NewIssuer returns a new identity Issuer.
func NewIssuer(g *ledger.Gateway) *Issuer {
	return &Issuer{
		gateway: g,
		now:     time.Now,
	}
}

// DID returns the logical identity reference for an account.
func DID(address string) string {
	return "did:xrpl:" + address
}

// AnchorIdentity validates the KYC payload, hashes its business-identifying
// fields, and anchors the hash in a memo on a minimal self-referential
// transaction. The returned reference is derived from the signing account.
func (i *Issuer) AnchorIdentity(ctx context.Context, kyc *KYC, signer ledger.Signer) (string, error) {
	if err := kyc.Validate(); err != nil {
		return "", fmt.Errorf("invalid kyc payload: %w", err)
	}

	memo, err := ledger.JSONMemo("crowdlift/identity", map[string]string{
		"kycHash": kyc.Hash(i.now()),
		"version": "1.0",
	})
	if err != nil {
		return "", err
	}

	// An AccountSet with no flag is the cheapest self-referential
	// transaction that carries memos.
	receipt, err := i.gateway.Submit(ctx, ledger.AccountSet{
		Account: signer.Address(),
		Memos:   []ledger.Memo{memo},
	}, signer)
	if err != nil {
		return "", fmt.Errorf("identity anchor failed: %w", err)
	}
	if !receipt.Succeeded() {
		return "", fmt.Errorf("identity anchor failed: %v", receipt.Result)
	}

	ref := DID(signer.Address())
	log.Infof("Identity anchored for %v (tx %v)", ref, receipt.Hash)
	return ref, nil
}

// Financials are the inputs to credit scoring.
type Financials struct {
	Revenue        float64 `json:"revenue"`
	CashFlow       float64 `json:"cashflow"`
	Assets         float64 `json:"assets"`
	Liabilities    float64 `json:"liabilities"`
	PaymentHistory float64 `json:"paymenthistory"` // Percentage 0-100
	BusinessAge    float64 `json:"businessage"`    // Years
}

// CreditScore computes a weighted credit score on a 0-1000 scale along with
// the daily-granularity hash of the underlying financials. The financials
// are normalized against fixed caps before weighting.
func CreditScore(f Financials, now time.Time) (int, string) {
	clamp := func(v, lo, hi float64) float64 {
		return math.Max(lo, math.Min(hi, v))
	}
	score := clamp(f.Revenue/1e6, 0, 1)*0.25 +
		clamp(f.CashFlow/1e5, -1, 1)*0.20 +
		clamp(f.Assets/5e5, 0, 1)*0.15 -
		clamp(f.Liabilities/5e5, 0, 1)*0.10 +
		f.PaymentHistory/100*0.25 +
		clamp(f.BusinessAge/10, 0, 1)*0.15

	final := int(clamp(math.Round(score*1000), 0, 1000))

	type digest struct {
		Financials
		Day int64 `json:"day"`
	}
	b, err := json.Marshal(digest{
		Financials: f,
		Day:        now.Unix() / 86400,
	})
	if err != nil {
		panic(err)
	}
	h := sha256.Sum256(b)
	return final, hex.EncodeToString(h[:])
}

// AnchorCreditScore anchors an updated credit score hash against an existing
// identity.
func (i *Issuer) AnchorCreditScore(ctx context.Context, scoreHash string, signer ledger.Signer) error {
	memo, err := ledger.JSONMemo("crowdlift/credit", map[string]string{
		"creditScoreHash": scoreHash,
		"version":         "1.1",
	})
	if err != nil {
		return err
	}
	receipt, err := i.gateway.Submit(ctx, ledger.AccountSet{
		Account: signer.Address(),
		Memos:   []ledger.Memo{memo},
	}, signer)
	if err != nil {
		return fmt.Errorf("credit score anchor failed: %w", err)
	}
	if !receipt.Succeeded() {
		return fmt.Errorf("credit score anchor failed: %v", receipt.Result)
	}
	log.Debugf("Credit score update anchored for %v", signer.Address())
	return nil
}
