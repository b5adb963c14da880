// Copyright (c) 2024-2025 The CrowdLift developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package ledger provides the single point of contact with the distributed
// ledger network. It owns one persistent websocket connection, submits
// signed transactions, polls for validation, and normalizes success and
// failure into a fixed error taxonomy. Every other component performs pure
// computation plus calls through this package.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

const (
	// defaultLedgerOffset is added to the current validated ledger
	// index to compute a transaction's expiry bound. Computed here
	// rather than trusting a server autofill, which can set a bound
	// that expires prematurely under a slow link.
	defaultLedgerOffset = 20

	// defaultFee is the transaction fee in drops.
	defaultFee = "12"

	// defaultValidationTimeout bounds how long Submit waits for a
	// transaction to appear in a validated ledger.
	defaultValidationTimeout = 60 * time.Second

	// validationPollInterval is the delay between validation polls.
	validationPollInterval = time.Second
)

// Conn is a single websocket connection to a ledger node. It exists as an
// interface so tests can stand in an in-process fake.
type Conn interface {
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
	Close() error
}

// Dialer opens a Conn to the provided websocket URL.
type Dialer func(url string) (Conn, error)

// wsDial is the production dialer.
func wsDial(url string) (Conn, error) {
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return c, nil
}

// Signer signs a prepared transaction. Key material is sourced through an
// external secret-management collaborator; this package never sees a seed.
type Signer interface {
	// Address returns the classic address of the signing account.
	Address() string

	// Sign serializes and signs the prepared transaction JSON,
	// returning the signed blob and its transaction hash.
	Sign(txJSON []byte) (blob string, hash string, err error)
}

// Receipt is the normalized outcome of a validated transaction.
type Receipt struct {
	Hash        string
	Result      string // Machine-readable engine result
	Sequence    uint32 // Sequence the transaction consumed
	LedgerIndex uint32 // Ledger the transaction was validated in
}

// Succeeded returns whether the transaction applied successfully.
func (r *Receipt) Succeeded() bool {
	return r.Result == "tesSUCCESS"
}

// Opts configures optional gateway behavior. The zero value selects
// defaults.
type Opts struct {
	LedgerOffset      uint32        // Expiry offset in ledgers
	Fee               string        // Fee in drops
	ValidationTimeout time.Duration // Per-submission validation wait
	Dial              Dialer        // Test hook
}

// Gateway is the connection to the ledger network. A single Gateway is
// constructed at startup and injected into every component that needs it.
//
// Calls are serialized on the connection; the node serializes requests per
// connection so no additional coordination is required. Submissions are
// additionally serialized per signing account, since two in-flight
// transactions from the same account would race on sequence numbers.
type Gateway struct {
	sync.Mutex
	url       string
	dial      Dialer
	conn      Conn
	connected bool
	shutdown  bool
	reqID     uint64

	offset            uint32
	fee               string
	validationTimeout time.Duration

	// accounts serializes submissions per signing account. One
	// outstanding transaction per account at a time.
	accountsMtx sync.Mutex
	accounts    map[string]*sync.Mutex
}

// New returns a new Gateway for the provided websocket URL. The connection
// is established lazily on first use.
func New(url string, opts *Opts) *Gateway {
	g := &Gateway{
		url:               url,
		dial:              wsDial,
		offset:            defaultLedgerOffset,
		fee:               defaultFee,
		validationTimeout: defaultValidationTimeout,
		accounts:          make(map[string]*sync.Mutex),
	}
	if opts != nil {
		if opts.LedgerOffset != 0 {
			g.offset = opts.LedgerOffset
		}
		if opts.Fee != "" {
			g.fee = opts.Fee
		}
		if opts.ValidationTimeout != 0 {
			g.validationTimeout = opts.ValidationTimeout
		}
		if opts.Dial != nil {
			g.dial = opts.Dial
		}
	}
	return g
}

// Connect establishes the websocket connection. Connecting an already
// connected gateway is a no-op, so it is safe to call from any component.
func (g *Gateway) Connect() error {
	g.Lock()
	defer g.Unlock()
	return g.connectLocked()
}

func (g *Gateway) connectLocked() error {
	if g.shutdown {
		return ErrShutdown
	}
	if g.connected {
		return nil
	}
	c, err := g.dial(g.url)
	if err != nil {
		return fmt.Errorf("connect %v: %w", g.url, err)
	}
	g.conn = c
	g.connected = true
	log.Infof("Connected to ledger node %v", g.url)
	return nil
}

// Disconnect closes the websocket connection. Disconnecting an already
// disconnected gateway is a no-op.
func (g *Gateway) Disconnect() error {
	g.Lock()
	defer g.Unlock()
	if !g.connected {
		return nil
	}
	g.connected = false
	err := g.conn.Close()
	log.Infof("Disconnected from ledger node %v", g.url)
	return err
}

// Shutdown disconnects and permanently disables the gateway.
func (g *Gateway) Shutdown() {
	g.Lock()
	defer g.Unlock()
	if g.connected {
		g.conn.Close()
		g.connected = false
	}
	g.shutdown = true
}

// request is the JSON-RPC request envelope.
type request map[string]interface{}

// response is the JSON-RPC response envelope.
type response struct {
	ID           uint64          `json:"id"`
	Status       string          `json:"status"`
	Result       json.RawMessage `json:"result"`
	Error        string          `json:"error"`
	ErrorMessage string          `json:"error_message"`
}

// call performs a single command round trip and decodes the result into
// reply. Server-side error codes for missing objects are normalized to
// ErrNotFound; everything else surfaces as a RejectedError carrying the
// machine-readable code.
func (g *Gateway) call(ctx context.Context, command string, params map[string]interface{}, reply interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	g.Lock()
	defer g.Unlock()

	if err := g.connectLocked(); err != nil {
		return err
	}

	g.reqID++
	req := request{
		"id":      g.reqID,
		"command": command,
	}
	for k, v := range params {
		req[k] = v
	}

	if err := g.conn.WriteJSON(req); err != nil {
		g.dropConnLocked()
		return errors.Wrapf(err, "write %v", command)
	}

	// Responses arrive in submission order on this connection; skip
	// anything that does not match the request id (e.g. stream
	// messages from stale subscriptions).
	var r response
	for {
		if err := g.conn.ReadJSON(&r); err != nil {
			g.dropConnLocked()
			return errors.Wrapf(err, "read %v", command)
		}
		if r.ID == g.reqID {
			break
		}
	}

	switch r.Error {
	case "":
		// Success
	case "actNotFound", "entryNotFound", "txnNotFound", "ammNotFound":
		return ErrNotFound
	default:
		return RejectedError{
			Code:    r.Error,
			Message: r.ErrorMessage,
		}
	}

	if reply != nil {
		if err := json.Unmarshal(r.Result, reply); err != nil {
			return fmt.Errorf("decode %v reply: %v", command, err)
		}
	}
	return nil
}

// dropConnLocked discards a connection after a transport error so the next
// call reconnects.
func (g *Gateway) dropConnLocked() {
	g.conn.Close()
	g.connected = false
}

// accountLock returns the submission lock for an account.
func (g *Gateway) accountLock(account string) *sync.Mutex {
	g.accountsMtx.Lock()
	defer g.accountsMtx.Unlock()
	m, ok := g.accounts[account]
	if !ok {
		m = &sync.Mutex{}
		g.accounts[account] = m
	}
	return m
}

type submitReply struct {
	EngineResult        string `json:"engine_result"`
	EngineResultMessage string `json:"engine_result_message"`
}

// Submit fills in the network-dependent fields of the transaction, signs it
// with the provided signer, submits it, and waits for it to appear in a
// validated ledger. A submission acknowledgement only means the network
// accepted the transaction for relay; the returned receipt reflects the
// validated outcome.
//
// On validation timeout, ErrUnknownOutcome is returned along with the
// transaction hash in a partial receipt. The caller must re-query the
// transaction by hash (ResolveOutcome) before assuming failure.
func (g *Gateway) Submit(ctx context.Context, tx Transaction, signer Signer) (*Receipt, error) {
	if err := tx.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %v: %w", tx.TxType(), err)
	}
	if tx.TxAccount() != signer.Address() {
		return nil, fmt.Errorf("transaction account %v does not match "+
			"signer %v", tx.TxAccount(), signer.Address())
	}

	// One outstanding transaction per account at a time.
	l := g.accountLock(tx.TxAccount())
	l.Lock()
	defer l.Unlock()

	// Autofill sequence and expiry from validated ledger state.
	ai, err := g.AccountInfo(ctx, tx.TxAccount())
	if err != nil {
		return nil, fmt.Errorf("account sequence %v: %w",
			tx.TxAccount(), err)
	}
	idx, err := g.ValidatedLedgerIndex(ctx)
	if err != nil {
		return nil, err
	}
	txJSON, err := json.Marshal(tx.wire(autofill{
		fee:                g.fee,
		sequence:           ai.Sequence,
		lastLedgerSequence: idx + g.offset,
	}))
	if err != nil {
		return nil, err
	}

	blob, hash, err := signer.Sign(txJSON)
	if err != nil {
		return nil, fmt.Errorf("sign %v: %w", tx.TxType(), err)
	}

	log.Infof("Submitting %v for %v (hash %v)", tx.TxType(),
		tx.TxAccount(), hash)

	var reply submitReply
	err = g.call(ctx, "submit", map[string]interface{}{
		"tx_blob": blob,
	}, &reply)
	if err != nil {
		return nil, fmt.Errorf("submit %v: %w", tx.TxType(), err)
	}
	if !resultSuccessful(reply.EngineResult) {
		// Rejected by local validation rules. Not retryable as-is.
		return nil, RejectedError{
			Code:    reply.EngineResult,
			Message: reply.EngineResultMessage,
		}
	}

	r, err := g.WaitForValidation(ctx, hash, g.validationTimeout)
	if err != nil {
		return &Receipt{Hash: hash}, err
	}
	log.Debugf("%v for %v validated in ledger %v with %v", tx.TxType(),
		tx.TxAccount(), r.LedgerIndex, r.Result)
	return r, nil
}

// WaitForValidation polls the transaction by hash until it is observed in a
// validated ledger, the timeout expires, or the context is cancelled. Expiry
// yields ErrUnknownOutcome, not failure; the transaction may still validate.
func (g *Gateway) WaitForValidation(ctx context.Context, hash string, timeout time.Duration) (*Receipt, error) {
	deadline := time.Now().Add(timeout)
	for {
		ts, err := g.Tx(ctx, hash)
		switch {
		case err == nil && ts.Validated:
			return &Receipt{
				Hash:        ts.Hash,
				Result:      ts.Result,
				Sequence:    ts.Sequence,
				LedgerIndex: ts.LedgerIndex,
			}, nil
		case err == nil || errors.Is(err, ErrNotFound):
			// Not validated yet; keep polling.
		default:
			return nil, err
		}

		if time.Now().After(deadline) {
			log.Warnf("Transaction %v not validated within %v",
				hash, timeout)
			return nil, ErrUnknownOutcome
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(validationPollInterval):
		}
	}
}

// ResolveOutcome re-queries a transaction whose validation wait previously
// expired. It returns the receipt if the transaction did validate,
// ErrNotFound if it is not known to the server, and ErrUnknownOutcome if it
// is known but still unvalidated.
func (g *Gateway) ResolveOutcome(ctx context.Context, hash string) (*Receipt, error) {
	ts, err := g.Tx(ctx, hash)
	if err != nil {
		return nil, err
	}
	if !ts.Validated {
		return nil, ErrUnknownOutcome
	}
	return &Receipt{
		Hash:        ts.Hash,
		Result:      ts.Result,
		Sequence:    ts.Sequence,
		LedgerIndex: ts.LedgerIndex,
	}, nil
}
