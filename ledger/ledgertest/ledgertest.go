// Copyright (c) 2024-2025 The CrowdLift developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package ledgertest provides an in-process ledger double for testing. It
// implements the gateway Conn interface and applies submitted transactions
// against an in-memory ledger that enforces the same invariants the real
// network does: per-account sequence numbers, escrow single-release,
// crypto-condition checks, time bounds, and AMM constant-product swaps.
package ledgertest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/crowdlift/crowdlift/ledger"
)

const rippleEpoch = 946684800

// line is one side of a trust line balance.
type line struct {
	currency string
	issuer   string
	balance  float64
	limit    float64
}

// account is an in-memory account root.
type account struct {
	address  string
	balance  int64 // Drops
	sequence uint32
	flags    uint32
	lines    []*line
}

func (a *account) line(currency, issuer string) *line {
	for _, l := range a.lines {
		if l.currency == currency && l.issuer == issuer {
			return l
		}
	}
	return nil
}

// escrowEntry is an escrow ledger object.
type escrowEntry struct {
	owner       string
	destination string
	drops       int64
	finishAfter uint32
	cancelAfter uint32
	condition   string
	sequence    uint32 // Sequence of the EscrowCreate transaction
}

// pool is an AMM instance. LP token accounting is simplified to a supply
// counter and per-holder balances.
type pool struct {
	account    string
	amount     ledger.Amount
	amount2    ledger.Amount
	tradingFee uint16
	lpSupply   float64
	holders    map[string]float64
}

func (p *pool) matches(a, b ledger.Asset) bool {
	pa := ledger.AssetFor(p.amount)
	pb := ledger.AssetFor(p.amount2)
	return (pa == a && pb == b) || (pa == b && pb == a)
}

// txRecord is a submitted transaction and its outcome.
type txRecord struct {
	hash        string
	txType      string
	account     string
	sequence    uint32
	result      string
	validated   bool
	ledgerIndex uint32
	date        int64
	memos       []ledger.Memo
}

// Server is the in-memory ledger.
type Server struct {
	mtx         sync.Mutex
	now         func() time.Time
	ledgerIndex uint32
	accounts    map[string]*account
	escrows     []*escrowEntry
	pools       []*pool
	txs         map[string]*txRecord
	history     map[string][]*txRecord

	// holdValidation withholds validation from subsequently submitted
	// transactions until ReleaseHeld is called. Used to exercise the
	// ambiguous-outcome path.
	holdValidation bool
	held           []string
}

// New returns a new Server.
func New() *Server {
	return &Server{
		now:         time.Now,
		ledgerIndex: 1000,
		accounts:    make(map[string]*account),
		txs:         make(map[string]*txRecord),
		history:     make(map[string][]*txRecord),
	}
}

// SetNow overrides the server clock.
func (s *Server) SetNow(now func() time.Time) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.now = now
}

// FundAccount creates the account if needed and sets its native balance.
func (s *Server) FundAccount(address string, xrp float64) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	a := s.accountLocked(address)
	a.balance = int64(xrp * 1e6)
}

// SetTrustLine sets an issued currency balance and limit on an account. The
// symbol is converted to its wire currency code.
func (s *Server) SetTrustLine(address, symbol, issuer string, balance, limit float64) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	a := s.accountLocked(address)
	code := ledger.CurrencyCode(symbol)
	l := a.line(code, issuer)
	if l == nil {
		l = &line{currency: code, issuer: issuer}
		a.lines = append(a.lines, l)
	}
	l.balance = balance
	l.limit = limit
}

// SetLastActivity records a synthetic historical transaction for the account
// dated at the provided time. Used to drive dormancy classification.
func (s *Server) SetLastActivity(address string, at time.Time) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.accountLocked(address)
	rec := &txRecord{
		hash:      fmt.Sprintf("ACTIVITY-%v-%v", address, at.Unix()),
		txType:    "Payment",
		account:   address,
		result:    "tesSUCCESS",
		validated: true,
		date:      at.Unix() - rippleEpoch,
	}
	s.history[address] = append([]*txRecord{rec}, s.history[address]...)
}

// HoldValidation withholds validation from all subsequently submitted
// transactions until ReleaseHeld is called.
func (s *Server) HoldValidation() {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.holdValidation = true
}

// ReleaseHeld validates all held transactions.
func (s *Server) ReleaseHeld() {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.holdValidation = false
	for _, hash := range s.held {
		if rec, ok := s.txs[hash]; ok {
			rec.validated = true
		}
	}
	s.held = nil
}

// EscrowCount returns the number of live escrows owned by the account.
func (s *Server) EscrowCount(owner string) int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	var n int
	for _, e := range s.escrows {
		if e.owner == owner {
			n++
		}
	}
	return n
}

// Balance returns the native balance of an account in whole units.
func (s *Server) Balance(address string) float64 {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	a, ok := s.accounts[address]
	if !ok {
		return 0
	}
	return float64(a.balance) / 1e6
}

// LineBalance returns an issued currency balance held by the account.
func (s *Server) LineBalance(address, symbol, issuer string) float64 {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	a, ok := s.accounts[address]
	if !ok {
		return 0
	}
	l := a.line(ledger.CurrencyCode(symbol), issuer)
	if l == nil {
		return 0
	}
	return l.balance
}

func (s *Server) accountLocked(address string) *account {
	a, ok := s.accounts[address]
	if !ok {
		a = &account{address: address, sequence: 1}
		s.accounts[address] = a
	}
	return a
}

// conn implements the gateway Conn interface. WriteJSON records the request
// and ReadJSON serves the response, so a request/response pair behaves like
// a synchronous round trip.
type conn struct {
	s       *Server
	pending []byte
	closed  bool
}

// Dial returns a gateway dialer that connects to this server.
func (s *Server) Dial() func(url string) (ledger.Conn, error) {
	return func(url string) (ledger.Conn, error) {
		return &conn{s: s}, nil
	}
}

// Gateway returns a gateway wired to this server with short timeouts
// suitable for tests.
func (s *Server) Gateway() *ledger.Gateway {
	return ledger.New("ws://ledgertest", &ledger.Opts{
		Dial:              s.Dial(),
		ValidationTimeout: 2 * time.Second,
	})
}

func (c *conn) WriteJSON(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.pending = b
	return nil
}

func (c *conn) ReadJSON(v interface{}) error {
	if c.pending == nil {
		return fmt.Errorf("no pending request")
	}
	resp := c.s.handle(c.pending)
	c.pending = nil
	b, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

func (c *conn) Close() error {
	c.closed = true
	return nil
}

// response is the JSON-RPC reply envelope.
type response struct {
	ID           uint64      `json:"id"`
	Status       string      `json:"status"`
	Result       interface{} `json:"result,omitempty"`
	Error        string      `json:"error,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
}

func (s *Server) handle(reqJSON []byte) response {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	var req map[string]interface{}
	if err := json.Unmarshal(reqJSON, &req); err != nil {
		return response{Error: "invalidRequest", ErrorMessage: err.Error()}
	}
	id, _ := req["id"].(float64)
	command, _ := req["command"].(string)

	resp := response{ID: uint64(id), Status: "success"}
	var result interface{}
	var errCode string

	switch command {
	case "account_info":
		result, errCode = s.handleAccountInfo(req)
	case "account_lines":
		result, errCode = s.handleAccountLines(req)
	case "account_objects":
		result, errCode = s.handleAccountObjects(req)
	case "account_tx":
		result, errCode = s.handleAccountTx(req)
	case "tx":
		result, errCode = s.handleTx(req)
	case "amm_info":
		result, errCode = s.handleAMMInfo(req)
	case "ledger":
		result = map[string]interface{}{"ledger_index": s.ledgerIndex}
	case "submit":
		result, errCode = s.handleSubmit(req)
	default:
		errCode = "unknownCmd"
	}

	if errCode != "" {
		resp.Status = "error"
		resp.Error = errCode
		return resp
	}
	resp.Result = result
	return resp
}

func (s *Server) handleAccountInfo(req map[string]interface{}) (interface{}, string) {
	address, _ := req["account"].(string)
	a, ok := s.accounts[address]
	if !ok {
		return nil, "actNotFound"
	}
	return map[string]interface{}{
		"account_data": map[string]interface{}{
			"Account":  a.address,
			"Balance":  strconv.FormatInt(a.balance, 10),
			"Sequence": a.sequence,
			"Flags":    a.flags,
		},
	}, ""
}

func (s *Server) handleAccountLines(req map[string]interface{}) (interface{}, string) {
	address, _ := req["account"].(string)
	a, ok := s.accounts[address]
	if !ok {
		return nil, "actNotFound"
	}
	lines := make([]map[string]interface{}, 0, len(a.lines))
	for _, l := range a.lines {
		lines = append(lines, map[string]interface{}{
			"account":  l.issuer,
			"currency": l.currency,
			"balance":  strconv.FormatFloat(l.balance, 'f', -1, 64),
			"limit":    strconv.FormatFloat(l.limit, 'f', -1, 64),
		})
	}
	return map[string]interface{}{"lines": lines}, ""
}

func (s *Server) handleAccountObjects(req map[string]interface{}) (interface{}, string) {
	address, _ := req["account"].(string)
	if _, ok := s.accounts[address]; !ok {
		return nil, "actNotFound"
	}
	objType, _ := req["type"].(string)
	objs := make([]map[string]interface{}, 0)
	if objType == "" || objType == "escrow" {
		for _, e := range s.escrows {
			if e.owner != address {
				continue
			}
			objs = append(objs, map[string]interface{}{
				"LedgerEntryType": "Escrow",
				"Account":         e.owner,
				"Destination":     e.destination,
				"Amount":          strconv.FormatInt(e.drops, 10),
				"FinishAfter":     e.finishAfter,
				"CancelAfter":     e.cancelAfter,
				"Condition":       e.condition,
			})
		}
	}
	return map[string]interface{}{"account_objects": objs}, ""
}

func (s *Server) handleAccountTx(req map[string]interface{}) (interface{}, string) {
	address, _ := req["account"].(string)
	if _, ok := s.accounts[address]; !ok {
		return nil, "actNotFound"
	}
	limit := len(s.history[address])
	if l, ok := req["limit"].(float64); ok && int(l) < limit {
		limit = int(l)
	}
	txs := make([]map[string]interface{}, 0, limit)
	for _, rec := range s.history[address][:limit] {
		txs = append(txs, map[string]interface{}{
			"tx": map[string]interface{}{
				"hash":            rec.hash,
				"TransactionType": rec.txType,
				"date":            rec.date,
				"Memos":           rec.memos,
			},
		})
	}
	return map[string]interface{}{"transactions": txs}, ""
}

func (s *Server) handleTx(req map[string]interface{}) (interface{}, string) {
	hash, _ := req["transaction"].(string)
	rec, ok := s.txs[hash]
	if !ok {
		return nil, "txnNotFound"
	}
	return map[string]interface{}{
		"hash":         rec.hash,
		"validated":    rec.validated,
		"Sequence":     rec.sequence,
		"ledger_index": rec.ledgerIndex,
		"meta": map[string]interface{}{
			"TransactionResult": rec.result,
		},
	}, ""
}

func (s *Server) handleAMMInfo(req map[string]interface{}) (interface{}, string) {
	var a1, a2 ledger.Asset
	if b, err := json.Marshal(req["asset"]); err == nil {
		json.Unmarshal(b, &a1)
	}
	if b, err := json.Marshal(req["asset2"]); err == nil {
		json.Unmarshal(b, &a2)
	}
	for _, p := range s.pools {
		if p.matches(a1, a2) {
			return map[string]interface{}{
				"amm": map[string]interface{}{
					"account":     p.account,
					"amount":      p.amount,
					"amount2":     p.amount2,
					"trading_fee": p.tradingFee,
				},
			}, ""
		}
	}
	return nil, "actNotFound"
}
