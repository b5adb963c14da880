// Copyright (c) 2024-2025 The CrowdLift developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ledgertest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/crowdlift/crowdlift/ledger"
)

// Signer is a test signer. The signed blob is the transaction JSON itself and
// the hash is the uppercase hex SHA-256 of the JSON, which lets the server
// recover the transaction from a submitted blob without real serialization.
type Signer struct {
	address string
}

// NewSigner returns a test signer for the provided address.
func NewSigner(address string) *Signer {
	return &Signer{address: address}
}

// Address satisfies the gateway Signer interface.
func (s *Signer) Address() string {
	return s.address
}

// Sign satisfies the gateway Signer interface.
func (s *Signer) Sign(txJSON []byte) (string, string, error) {
	return string(txJSON), txHash(txJSON), nil
}

func txHash(txJSON []byte) string {
	h := sha256.Sum256(txJSON)
	return strings.ToUpper(hex.EncodeToString(h[:]))
}

// wireTx is the union of all transaction wire fields the server applies.
type wireTx struct {
	TransactionType    string        `json:"TransactionType"`
	Account            string        `json:"Account"`
	Sequence           uint32        `json:"Sequence"`
	LastLedgerSequence uint32        `json:"LastLedgerSequence"`
	Destination        string        `json:"Destination"`
	Amount             ledger.Amount `json:"Amount"`
	SendMax            ledger.Amount `json:"SendMax"`
	LimitAmount        ledger.Amount `json:"LimitAmount"`
	SetFlag            uint32        `json:"SetFlag"`
	Amount2            ledger.Amount `json:"Amount2"`
	TradingFee         uint16        `json:"TradingFee"`
	Asset              ledger.Asset  `json:"Asset"`
	Asset2             ledger.Asset  `json:"Asset2"`
	LPTokenIn          ledger.Amount `json:"LPTokenIn"`
	FinishAfter        uint32        `json:"FinishAfter"`
	CancelAfter        uint32        `json:"CancelAfter"`
	Condition          string        `json:"Condition"`
	Fulfillment        string        `json:"Fulfillment"`
	Owner              string        `json:"Owner"`
	OfferSequence      uint32        `json:"OfferSequence"`
	Memos              []ledger.Memo `json:"Memos"`
}

func (s *Server) handleSubmit(req map[string]interface{}) (interface{}, string) {
	blob, _ := req["tx_blob"].(string)
	var tx wireTx
	if err := json.Unmarshal([]byte(blob), &tx); err != nil {
		return submitResult("temMALFORMED", err.Error()), ""
	}

	a, ok := s.accounts[tx.Account]
	if !ok {
		return submitResult("terNO_ACCOUNT", "source account not found"), ""
	}
	if tx.Sequence != a.sequence {
		return submitResult("tefPAST_SEQ", "sequence mismatch"), ""
	}
	if tx.LastLedgerSequence != 0 && tx.LastLedgerSequence <= s.ledgerIndex {
		return submitResult("tefMAX_LEDGER", "expiry ledger already passed"), ""
	}

	result, msg := s.applyLocked(a, &tx)
	if result != "tesSUCCESS" {
		return submitResult(result, msg), ""
	}

	a.sequence++
	s.ledgerIndex++
	rec := &txRecord{
		hash:        txHash([]byte(blob)),
		txType:      tx.TransactionType,
		account:     tx.Account,
		sequence:    tx.Sequence,
		result:      result,
		validated:   !s.holdValidation,
		ledgerIndex: s.ledgerIndex,
		date:        s.now().Unix() - rippleEpoch,
		memos:       tx.Memos,
	}
	if s.holdValidation {
		s.held = append(s.held, rec.hash)
	}
	s.txs[rec.hash] = rec
	s.history[tx.Account] = append([]*txRecord{rec}, s.history[tx.Account]...)
	return submitResult(result, ""), ""
}

func submitResult(code, msg string) map[string]interface{} {
	return map[string]interface{}{
		"engine_result":         code,
		"engine_result_message": msg,
	}
}

// applyLocked applies a decoded transaction against ledger state, returning
// the engine result. State is only mutated on tesSUCCESS.
func (s *Server) applyLocked(a *account, tx *wireTx) (string, string) {
	switch tx.TransactionType {
	case "Payment":
		return s.applyPayment(a, tx)
	case "TrustSet":
		return s.applyTrustSet(a, tx)
	case "AccountSet":
		if tx.SetFlag == ledger.AccountSetFlagDefaultRipple {
			a.flags |= ledger.AccountFlagDefaultRipple
		}
		return "tesSUCCESS", ""
	case "AMMCreate":
		return s.applyAMMCreate(a, tx)
	case "AMMDeposit":
		return s.applyAMMDeposit(a, tx)
	case "AMMWithdraw":
		return s.applyAMMWithdraw(a, tx)
	case "EscrowCreate":
		return s.applyEscrowCreate(a, tx)
	case "EscrowFinish":
		return s.applyEscrowFinish(tx)
	case "EscrowCancel":
		return s.applyEscrowCancel(tx)
	}
	return "temUNKNOWN", fmt.Sprintf("unhandled type %v", tx.TransactionType)
}

func (s *Server) applyPayment(a *account, tx *wireTx) (string, string) {
	// A cross-currency payment routes through the AMM.
	if tx.SendMax.Value != "" &&
		!sameAsset(ledger.AssetFor(tx.SendMax), ledger.AssetFor(tx.Amount)) {
		return s.applySwap(a, tx)
	}

	if tx.Amount.IsNative() {
		drops, err := strconv.ParseInt(tx.Amount.Value, 10, 64)
		if err != nil {
			return "temBAD_AMOUNT", err.Error()
		}
		if a.balance < drops {
			return "tecUNFUNDED_PAYMENT", "insufficient balance"
		}
		a.balance -= drops
		s.accountLocked(tx.Destination).balance += drops
		return "tesSUCCESS", ""
	}

	v, err := tx.Amount.Float()
	if err != nil {
		return "temBAD_AMOUNT", err.Error()
	}
	// The issuer mints on send and burns on receive; everyone else needs
	// a funded line on the sending side and any line on the receiving
	// side.
	if a.address != tx.Amount.Issuer {
		l := a.line(tx.Amount.Currency, tx.Amount.Issuer)
		if l == nil || l.balance < v {
			return "tecPATH_DRY", "sender line unfunded"
		}
		l.balance -= v
	}
	if tx.Destination != tx.Amount.Issuer {
		dest := s.accountLocked(tx.Destination)
		dl := dest.line(tx.Amount.Currency, tx.Amount.Issuer)
		if dl == nil {
			return "tecPATH_DRY", "destination has no trust line"
		}
		if dl.limit != 0 && dl.balance+v > dl.limit {
			return "tecPATH_DRY", "destination limit exceeded"
		}
		dl.balance += v
	}
	return "tesSUCCESS", ""
}

// applySwap executes a cross-currency self-payment through the pool for the
// pair, constant product with the pool's trading fee. The delivered amount is
// fixed; if the required input exceeds SendMax the payment fails outright.
func (s *Server) applySwap(a *account, tx *wireTx) (string, string) {
	in := ledger.AssetFor(tx.SendMax)
	out := ledger.AssetFor(tx.Amount)
	p := s.poolFor(in, out)
	if p == nil {
		return "tecPATH_DRY", "no pool for pair"
	}

	rIn, rOut := p.reserves(in)
	deliver, err := tx.Amount.Float()
	if err != nil {
		return "temBAD_AMOUNT", err.Error()
	}
	sendMax, err := tx.SendMax.Float()
	if err != nil {
		return "temBAD_AMOUNT", err.Error()
	}
	if deliver >= rOut {
		return "tecPATH_DRY", "delivery exceeds pool reserve"
	}

	// Invert out = rOut*e/(rIn+e) with e the fee-discounted input.
	fee := float64(p.tradingFee) / 100000
	required := rIn * deliver / ((rOut - deliver) * (1 - fee))
	if required > sendMax {
		return "tecPATH_PARTIAL", "send max exceeded"
	}

	if code, msg := s.debit(a, tx.SendMax, required); code != "" {
		return code, msg
	}
	s.credit(a, tx.Amount, deliver)
	p.setReserves(in, rIn+required, rOut-deliver)
	return "tesSUCCESS", ""
}

func (s *Server) applyTrustSet(a *account, tx *wireTx) (string, string) {
	limit, err := tx.LimitAmount.Float()
	if err != nil {
		return "temBAD_LIMIT", err.Error()
	}
	l := a.line(tx.LimitAmount.Currency, tx.LimitAmount.Issuer)
	if l == nil {
		l = &line{
			currency: tx.LimitAmount.Currency,
			issuer:   tx.LimitAmount.Issuer,
		}
		a.lines = append(a.lines, l)
	}
	l.limit = limit
	return "tesSUCCESS", ""
}

func (s *Server) applyAMMCreate(a *account, tx *wireTx) (string, string) {
	a1 := ledger.AssetFor(tx.Amount)
	a2 := ledger.AssetFor(tx.Amount2)
	if s.poolFor(a1, a2) != nil {
		return "tecDUPLICATE", "pool exists"
	}
	v1, err := tx.Amount.Float()
	if err != nil {
		return "temBAD_AMOUNT", err.Error()
	}
	v2, err := tx.Amount2.Float()
	if err != nil {
		return "temBAD_AMOUNT", err.Error()
	}
	if !s.canDebit(a, tx.Amount, v1) || !s.canDebit(a, tx.Amount2, v2) {
		return "tecUNFUNDED_AMM", "insufficient funding"
	}
	s.debit(a, tx.Amount, v1)
	s.debit(a, tx.Amount2, v2)
	p := &pool{
		account:    fmt.Sprintf("rAMMPool%032d", len(s.pools)+1),
		amount:     tx.Amount,
		amount2:    tx.Amount2,
		tradingFee: tx.TradingFee,
		lpSupply:   100,
		holders:    map[string]float64{a.address: 100},
	}
	s.pools = append(s.pools, p)
	return "tesSUCCESS", ""
}

func (s *Server) applyAMMDeposit(a *account, tx *wireTx) (string, string) {
	p := s.poolFor(tx.Asset, tx.Asset2)
	if p == nil {
		return "tecNO_ENTRY", "no pool for pair"
	}
	v1, err := tx.Amount.Float()
	if err != nil {
		return "temBAD_AMOUNT", err.Error()
	}
	v2, err := tx.Amount2.Float()
	if err != nil {
		return "temBAD_AMOUNT", err.Error()
	}
	if !s.canDebit(a, tx.Amount, v1) || !s.canDebit(a, tx.Amount2, v2) {
		return "tecUNFUNDED_AMM", "insufficient funding"
	}
	s.debit(a, tx.Amount, v1)
	s.debit(a, tx.Amount2, v2)

	in := ledger.AssetFor(tx.Amount)
	rIn, rOut := p.reserves(in)
	minted := p.lpSupply * v1 / rIn
	p.setReserves(in, rIn+v1, rOut+v2)
	p.lpSupply += minted
	p.holders[a.address] += minted
	return "tesSUCCESS", ""
}

func (s *Server) applyAMMWithdraw(a *account, tx *wireTx) (string, string) {
	p := s.poolFor(tx.Asset, tx.Asset2)
	if p == nil {
		return "tecNO_ENTRY", "no pool for pair"
	}
	lp, err := tx.LPTokenIn.Float()
	if err != nil {
		return "temBAD_AMOUNT", err.Error()
	}
	if lp <= 0 || lp > p.holders[a.address] {
		return "tecAMM_BALANCE", "insufficient lp tokens"
	}

	frac := lp / p.lpSupply
	r1, r2 := p.reserves(tx.Asset)
	s.credit(a, p.side(tx.Asset), r1*frac)
	s.credit(a, p.side(tx.Asset2), r2*frac)
	p.setReserves(tx.Asset, r1*(1-frac), r2*(1-frac))
	p.lpSupply -= lp
	p.holders[a.address] -= lp
	return "tesSUCCESS", ""
}

func (s *Server) applyEscrowCreate(a *account, tx *wireTx) (string, string) {
	drops, err := strconv.ParseInt(tx.Amount.Value, 10, 64)
	if err != nil {
		return "temBAD_AMOUNT", err.Error()
	}
	if a.balance < drops {
		return "tecUNFUNDED", "insufficient balance"
	}
	a.balance -= drops
	s.escrows = append(s.escrows, &escrowEntry{
		owner:       tx.Account,
		destination: tx.Destination,
		drops:       drops,
		finishAfter: tx.FinishAfter,
		cancelAfter: tx.CancelAfter,
		condition:   tx.Condition,
		sequence:    tx.Sequence,
	})
	return "tesSUCCESS", ""
}

func (s *Server) applyEscrowFinish(tx *wireTx) (string, string) {
	i, e := s.escrow(tx.Owner, tx.OfferSequence)
	if e == nil {
		// Already finished, cancelled, or never created.
		return "tecNO_ENTRY", "no such escrow"
	}
	now := uint32(s.now().Unix() - rippleEpoch)
	if e.finishAfter != 0 && now < e.finishAfter {
		return "tecNO_PERMISSION", "finish time not reached"
	}
	if e.condition != "" {
		derived, err := conditionFromFulfillment(tx.Fulfillment)
		if err != nil {
			return "temMALFORMED", err.Error()
		}
		if derived != strings.ToUpper(e.condition) {
			return "tecCRYPTOCONDITION_ERROR", "fulfillment does not match condition"
		}
	}
	s.accountLocked(e.destination).balance += e.drops
	s.escrows = append(s.escrows[:i], s.escrows[i+1:]...)
	return "tesSUCCESS", ""
}

func (s *Server) applyEscrowCancel(tx *wireTx) (string, string) {
	i, e := s.escrow(tx.Owner, tx.OfferSequence)
	if e == nil {
		return "tecNO_ENTRY", "no such escrow"
	}
	now := uint32(s.now().Unix() - rippleEpoch)
	if e.cancelAfter == 0 || now < e.cancelAfter {
		return "tecNO_PERMISSION", "cancel time not reached"
	}
	s.accountLocked(e.owner).balance += e.drops
	s.escrows = append(s.escrows[:i], s.escrows[i+1:]...)
	return "tesSUCCESS", ""
}

func (s *Server) escrow(owner string, sequence uint32) (int, *escrowEntry) {
	for i, e := range s.escrows {
		if e.owner == owner && e.sequence == sequence {
			return i, e
		}
	}
	return -1, nil
}

func (s *Server) poolFor(a, b ledger.Asset) *pool {
	for _, p := range s.pools {
		if p.matches(a, b) {
			return p
		}
	}
	return nil
}

// reserves returns the pool reserves ordered so the reserve of the provided
// asset comes first.
func (p *pool) reserves(a ledger.Asset) (float64, float64) {
	v1, _ := p.amount.Float()
	v2, _ := p.amount2.Float()
	if sameAsset(ledger.AssetFor(p.amount), a) {
		return v1, v2
	}
	return v2, v1
}

// side returns the pool amount denominated in the provided asset.
func (p *pool) side(a ledger.Asset) ledger.Amount {
	if sameAsset(ledger.AssetFor(p.amount), a) {
		return p.amount
	}
	return p.amount2
}

func (p *pool) setReserves(a ledger.Asset, rA, rOther float64) {
	if sameAsset(ledger.AssetFor(p.amount), a) {
		p.amount = withValue(p.amount, rA)
		p.amount2 = withValue(p.amount2, rOther)
		return
	}
	p.amount2 = withValue(p.amount2, rA)
	p.amount = withValue(p.amount, rOther)
}

func withValue(a ledger.Amount, v float64) ledger.Amount {
	if a.IsNative() {
		return ledger.NativeAmount(v)
	}
	a.Value = strconv.FormatFloat(v, 'f', -1, 64)
	return a
}

func sameAsset(a, b ledger.Asset) bool {
	return a.Currency == b.Currency && a.Issuer == b.Issuer
}

// canDebit returns whether the account holds enough of the amount's currency
// to cover a debit of v.
func (s *Server) canDebit(a *account, amt ledger.Amount, v float64) bool {
	if amt.IsNative() {
		return a.balance >= int64(v*1e6)
	}
	if a.address == amt.Issuer {
		return true
	}
	l := a.line(amt.Currency, amt.Issuer)
	return l != nil && l.balance >= v
}

// debit removes value denominated by the amount from the account. A returned
// empty code means success.
func (s *Server) debit(a *account, amt ledger.Amount, v float64) (string, string) {
	if amt.IsNative() {
		drops := int64(v * 1e6)
		if a.balance < drops {
			return "tecUNFUNDED", "insufficient balance"
		}
		a.balance -= drops
		return "", ""
	}
	if a.address == amt.Issuer {
		return "", ""
	}
	l := a.line(amt.Currency, amt.Issuer)
	if l == nil || l.balance < v {
		return "tecUNFUNDED", "insufficient issued balance"
	}
	l.balance -= v
	return "", ""
}

// credit adds value denominated by the amount to the account, creating the
// trust line if needed.
func (s *Server) credit(a *account, amt ledger.Amount, v float64) {
	if amt.IsNative() {
		a.balance += int64(v * 1e6)
		return
	}
	if a.address == amt.Issuer {
		return
	}
	l := a.line(amt.Currency, amt.Issuer)
	if l == nil {
		l = &line{currency: amt.Currency, issuer: amt.Issuer}
		a.lines = append(a.lines, l)
	}
	l.balance += v
}

// conditionFromFulfillment derives the PREIMAGE-SHA-256 condition that the
// provided fulfillment satisfies.
func conditionFromFulfillment(fulfillment string) (string, error) {
	f := strings.ToUpper(fulfillment)
	const prefix = "A0228020"
	if !strings.HasPrefix(f, prefix) {
		return "", fmt.Errorf("malformed fulfillment %q", fulfillment)
	}
	preimage, err := hex.DecodeString(f[len(prefix):])
	if err != nil {
		return "", fmt.Errorf("malformed fulfillment: %v", err)
	}
	digest := sha256.Sum256(preimage)
	return "A0258020" + strings.ToUpper(hex.EncodeToString(digest[:])) +
		"810120", nil
}
