// Copyright (c) 2024-2025 The CrowdLift developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ledger

import (
	"errors"
	"fmt"
)

// Account set flags.
const (
	// AccountSetFlagDefaultRipple permits issued balances to ripple
	// through the account's trust lines. Required on an issuer before
	// its currency can be traded through paths.
	AccountSetFlagDefaultRipple = 8

	// AccountFlagDefaultRipple is the corresponding bit in the account
	// root flags field.
	AccountFlagDefaultRipple = 0x00800000
)

// Transaction flags.
const (
	// AMMDepositFlagTwoAsset deposits both assets into the pool.
	AMMDepositFlagTwoAsset = 0x00100000

	// AMMWithdrawFlagLPToken redeems the given amount of LP tokens for
	// a proportional share of both pool assets.
	AMMWithdrawFlagLPToken = 0x00010000
)

var (
	errMissingAccount = errors.New("missing account")
	errInvalidAccount = errors.New("invalid account address")
)

// Transaction is a ledger transaction. Exactly one concrete variant exists
// per wire transaction type. A variant validates its own fields so that a
// malformed transaction fails before it is ever signed or submitted.
type Transaction interface {
	// TxType returns the wire transaction type.
	TxType() string

	// TxAccount returns the sending account.
	TxAccount() string

	// Validate verifies the transaction fields. It is called by the
	// gateway before any network interaction.
	Validate() error

	// wire returns the wire encoding of the transaction with the
	// provided autofilled fields merged in.
	wire(f autofill) map[string]interface{}
}

// autofill holds the network-dependent fields the gateway computes at
// submission time.
type autofill struct {
	fee                string
	sequence           uint32
	lastLedgerSequence uint32
}

// ValidAddress returns whether the provided string is plausibly a ledger
// account address.
func ValidAddress(addr string) bool {
	return len(addr) >= 25 && len(addr) <= 35 && addr[0] == 'r'
}

func validateAccount(addr string) error {
	if addr == "" {
		return errMissingAccount
	}
	if !ValidAddress(addr) {
		return fmt.Errorf("%w: %v", errInvalidAccount, addr)
	}
	return nil
}

func validateAmount(field string, a Amount) error {
	v, err := a.Float()
	if err != nil {
		return fmt.Errorf("%v: %v", field, err)
	}
	if v <= 0 {
		return fmt.Errorf("%v: amount must be positive", field)
	}
	return nil
}

// baseWire returns the wire fields common to every transaction type.
func baseWire(txType, account string, memos []Memo, f autofill) map[string]interface{} {
	m := map[string]interface{}{
		"TransactionType":    txType,
		"Account":            account,
		"Fee":                f.fee,
		"Sequence":           f.sequence,
		"LastLedgerSequence": f.lastLedgerSequence,
	}
	if len(memos) > 0 {
		m["Memos"] = memos
	}
	return m
}

// Payment delivers an amount to a destination account. A self-payment with
// differing SendMax and Amount currencies executes a swap through the AMM.
type Payment struct {
	Account     string
	Destination string
	Amount      Amount // Amount to deliver
	SendMax     Amount // Optional bound on the amount spent
	Memos       []Memo
}

func (t Payment) TxType() string    { return "Payment" }
func (t Payment) TxAccount() string { return t.Account }

func (t Payment) Validate() error {
	if err := validateAccount(t.Account); err != nil {
		return err
	}
	if err := validateAccount(t.Destination); err != nil {
		return fmt.Errorf("destination: %w", err)
	}
	if err := validateAmount("Amount", t.Amount); err != nil {
		return err
	}
	if t.SendMax.Value != "" {
		if err := validateAmount("SendMax", t.SendMax); err != nil {
			return err
		}
	}
	return nil
}

func (t Payment) wire(f autofill) map[string]interface{} {
	m := baseWire(t.TxType(), t.Account, t.Memos, f)
	m["Destination"] = t.Destination
	m["Amount"] = t.Amount
	if t.SendMax.Value != "" {
		m["SendMax"] = t.SendMax
	}
	return m
}

// TrustSet creates or updates a trust line from the account to an issuer so
// the account can hold the issued currency up to the given limit.
type TrustSet struct {
	Account     string
	LimitAmount Amount // Currency, issuer, and maximum balance
	Memos       []Memo
}

func (t TrustSet) TxType() string    { return "TrustSet" }
func (t TrustSet) TxAccount() string { return t.Account }

func (t TrustSet) Validate() error {
	if err := validateAccount(t.Account); err != nil {
		return err
	}
	if t.LimitAmount.IsNative() {
		return errors.New("trust line cannot be set for the native currency")
	}
	if err := validateAccount(t.LimitAmount.Issuer); err != nil {
		return fmt.Errorf("issuer: %w", err)
	}
	return validateAmount("LimitAmount", t.LimitAmount)
}

func (t TrustSet) wire(f autofill) map[string]interface{} {
	m := baseWire(t.TxType(), t.Account, t.Memos, f)
	m["LimitAmount"] = t.LimitAmount
	return m
}

// AccountSet sets or clears an account-level flag.
type AccountSet struct {
	Account string
	SetFlag uint32
	Memos   []Memo
}

func (t AccountSet) TxType() string    { return "AccountSet" }
func (t AccountSet) TxAccount() string { return t.Account }

func (t AccountSet) Validate() error {
	return validateAccount(t.Account)
}

func (t AccountSet) wire(f autofill) map[string]interface{} {
	m := baseWire(t.TxType(), t.Account, t.Memos, f)
	if t.SetFlag != 0 {
		m["SetFlag"] = t.SetFlag
	}
	return m
}

// AMMCreate creates a liquidity pool funded with both initial reserves. The
// trading fee is in units of 1/100,000 (500 = 0.5%).
type AMMCreate struct {
	Account    string
	Amount     Amount
	Amount2    Amount
	TradingFee uint16
}

func (t AMMCreate) TxType() string    { return "AMMCreate" }
func (t AMMCreate) TxAccount() string { return t.Account }

func (t AMMCreate) Validate() error {
	if err := validateAccount(t.Account); err != nil {
		return err
	}
	if err := validateAmount("Amount", t.Amount); err != nil {
		return err
	}
	if err := validateAmount("Amount2", t.Amount2); err != nil {
		return err
	}
	if t.Amount.Currency == t.Amount2.Currency &&
		t.Amount.Issuer == t.Amount2.Issuer {
		return errors.New("pool assets must differ")
	}
	if t.TradingFee > 1000 {
		return fmt.Errorf("trading fee %v exceeds maximum of 1000", t.TradingFee)
	}
	return nil
}

func (t AMMCreate) wire(f autofill) map[string]interface{} {
	m := baseWire(t.TxType(), t.Account, nil, f)
	m["Amount"] = t.Amount
	m["Amount2"] = t.Amount2
	m["TradingFee"] = t.TradingFee
	return m
}

// Asset is the currency/issuer pair identifying one side of a pool.
type Asset struct {
	Currency string `json:"currency"`
	Issuer   string `json:"issuer,omitempty"`
}

// NativeAsset is the native currency side of a pool.
var NativeAsset = Asset{Currency: "XRP"}

// AssetFor returns the Asset identifying the amount's currency.
func AssetFor(a Amount) Asset {
	if a.IsNative() {
		return NativeAsset
	}
	return Asset{Currency: a.Currency, Issuer: a.Issuer}
}

// AMMDeposit adds liquidity to an existing pool.
type AMMDeposit struct {
	Account string
	Amount  Amount
	Amount2 Amount
}

func (t AMMDeposit) TxType() string    { return "AMMDeposit" }
func (t AMMDeposit) TxAccount() string { return t.Account }

func (t AMMDeposit) Validate() error {
	if err := validateAccount(t.Account); err != nil {
		return err
	}
	if err := validateAmount("Amount", t.Amount); err != nil {
		return err
	}
	return validateAmount("Amount2", t.Amount2)
}

func (t AMMDeposit) wire(f autofill) map[string]interface{} {
	m := baseWire(t.TxType(), t.Account, nil, f)
	m["Asset"] = AssetFor(t.Amount)
	m["Asset2"] = AssetFor(t.Amount2)
	m["Amount"] = t.Amount
	m["Amount2"] = t.Amount2
	m["Flags"] = AMMDepositFlagTwoAsset
	return m
}

// AMMWithdraw removes liquidity from a pool by redeeming LP tokens.
type AMMWithdraw struct {
	Account   string
	Asset     Amount // Identifies one side of the pool; value ignored
	Asset2    Amount // Identifies the other side; value ignored
	LPTokenIn Amount
}

func (t AMMWithdraw) TxType() string    { return "AMMWithdraw" }
func (t AMMWithdraw) TxAccount() string { return t.Account }

func (t AMMWithdraw) Validate() error {
	if err := validateAccount(t.Account); err != nil {
		return err
	}
	return validateAmount("LPTokenIn", t.LPTokenIn)
}

func (t AMMWithdraw) wire(f autofill) map[string]interface{} {
	m := baseWire(t.TxType(), t.Account, nil, f)
	m["Asset"] = AssetFor(t.Asset)
	m["Asset2"] = AssetFor(t.Asset2)
	m["LPTokenIn"] = t.LPTokenIn
	m["Flags"] = AMMWithdrawFlagLPToken
	return m
}

// EscrowCreate locks a native currency amount until a time and cryptographic
// condition are both satisfied.
type EscrowCreate struct {
	Account     string
	Destination string
	Amount      Amount // Native only
	FinishAfter uint32 // Ledger epoch seconds
	CancelAfter uint32 // Ledger epoch seconds
	Condition   string // Hex encoded crypto-condition
	Memos       []Memo
}

func (t EscrowCreate) TxType() string    { return "EscrowCreate" }
func (t EscrowCreate) TxAccount() string { return t.Account }

func (t EscrowCreate) Validate() error {
	if err := validateAccount(t.Account); err != nil {
		return err
	}
	if err := validateAccount(t.Destination); err != nil {
		return fmt.Errorf("destination: %w", err)
	}
	if !t.Amount.IsNative() {
		return errors.New("escrow amount must be native currency")
	}
	if err := validateAmount("Amount", t.Amount); err != nil {
		return err
	}
	if t.CancelAfter != 0 && t.FinishAfter != 0 &&
		t.CancelAfter <= t.FinishAfter {
		return errors.New("CancelAfter must be after FinishAfter")
	}
	if t.Condition == "" && t.FinishAfter == 0 {
		return errors.New("escrow requires a condition or FinishAfter")
	}
	return nil
}

func (t EscrowCreate) wire(f autofill) map[string]interface{} {
	m := baseWire(t.TxType(), t.Account, t.Memos, f)
	m["Destination"] = t.Destination
	m["Amount"] = t.Amount
	if t.FinishAfter != 0 {
		m["FinishAfter"] = t.FinishAfter
	}
	if t.CancelAfter != 0 {
		m["CancelAfter"] = t.CancelAfter
	}
	if t.Condition != "" {
		m["Condition"] = t.Condition
	}
	return m
}

// EscrowFinish releases an escrow to its destination. The fulfillment must
// be the preimage matching the escrow's condition.
type EscrowFinish struct {
	Account       string
	Owner         string // Account that created the escrow
	OfferSequence uint32 // Sequence of the EscrowCreate transaction
	Condition     string
	Fulfillment   string
}

func (t EscrowFinish) TxType() string    { return "EscrowFinish" }
func (t EscrowFinish) TxAccount() string { return t.Account }

func (t EscrowFinish) Validate() error {
	if err := validateAccount(t.Account); err != nil {
		return err
	}
	if err := validateAccount(t.Owner); err != nil {
		return fmt.Errorf("owner: %w", err)
	}
	if t.OfferSequence == 0 {
		return errors.New("missing offer sequence")
	}
	if t.Condition != "" && t.Fulfillment == "" {
		return errors.New("conditioned escrow requires a fulfillment")
	}
	return nil
}

func (t EscrowFinish) wire(f autofill) map[string]interface{} {
	m := baseWire(t.TxType(), t.Account, nil, f)
	m["Owner"] = t.Owner
	m["OfferSequence"] = t.OfferSequence
	if t.Condition != "" {
		m["Condition"] = t.Condition
		m["Fulfillment"] = t.Fulfillment
	}
	return m
}

// EscrowCancel returns escrowed funds to their owner after the escrow's
// CancelAfter time has passed.
type EscrowCancel struct {
	Account       string
	Owner         string
	OfferSequence uint32
}

func (t EscrowCancel) TxType() string    { return "EscrowCancel" }
func (t EscrowCancel) TxAccount() string { return t.Account }

func (t EscrowCancel) Validate() error {
	if err := validateAccount(t.Account); err != nil {
		return err
	}
	if err := validateAccount(t.Owner); err != nil {
		return fmt.Errorf("owner: %w", err)
	}
	if t.OfferSequence == 0 {
		return errors.New("missing offer sequence")
	}
	return nil
}

func (t EscrowCancel) wire(f autofill) map[string]interface{} {
	m := baseWire(t.TxType(), t.Account, nil, f)
	m["Owner"] = t.Owner
	m["OfferSequence"] = t.OfferSequence
	return m
}
