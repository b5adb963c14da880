// Copyright (c) 2024-2025 The CrowdLift developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ledger

import (
	"context"
	"encoding/json"
	"fmt"
)

// AccountInfo describes the state of an account root object.
type AccountInfo struct {
	Account  string
	Balance  string // Drops
	Sequence uint32
	Flags    uint32
}

type accountInfoReply struct {
	AccountData struct {
		Account  string `json:"Account"`
		Balance  string `json:"Balance"`
		Sequence uint32 `json:"Sequence"`
		Flags    uint32 `json:"Flags"`
	} `json:"account_data"`
}

// AccountInfo returns the account root for the provided address, read from
// the most recently validated ledger.
func (g *Gateway) AccountInfo(ctx context.Context, address string) (*AccountInfo, error) {
	var reply accountInfoReply
	err := g.call(ctx, "account_info", map[string]interface{}{
		"account":      address,
		"ledger_index": "validated",
	}, &reply)
	if err != nil {
		return nil, err
	}
	return &AccountInfo{
		Account:  reply.AccountData.Account,
		Balance:  reply.AccountData.Balance,
		Sequence: reply.AccountData.Sequence,
		Flags:    reply.AccountData.Flags,
	}, nil
}

// AccountBalance returns the native currency balance of an account in whole
// units.
func (g *Gateway) AccountBalance(ctx context.Context, address string) (float64, error) {
	ai, err := g.AccountInfo(ctx, address)
	if err != nil {
		return 0, err
	}
	return DropsToXRP(ai.Balance)
}

// TrustLine is a single trust line held by an account.
type TrustLine struct {
	Account  string `json:"account"` // Issuer side of the line
	Currency string `json:"currency"`
	Balance  string `json:"balance"`
	Limit    string `json:"limit"`
}

type accountLinesReply struct {
	Lines []TrustLine `json:"lines"`
}

// AccountLines returns all trust lines held by an account.
func (g *Gateway) AccountLines(ctx context.Context, address string) ([]TrustLine, error) {
	var reply accountLinesReply
	err := g.call(ctx, "account_lines", map[string]interface{}{
		"account": address,
	}, &reply)
	if err != nil {
		return nil, err
	}
	return reply.Lines, nil
}

type accountObjectsReply struct {
	AccountObjects []json.RawMessage `json:"account_objects"`
}

// AccountObjects returns the raw ledger objects owned by an account,
// optionally filtered by object type (e.g. "escrow").
func (g *Gateway) AccountObjects(ctx context.Context, address, objType string) ([]json.RawMessage, error) {
	params := map[string]interface{}{
		"account": address,
	}
	if objType != "" {
		params["type"] = objType
	}
	var reply accountObjectsReply
	err := g.call(ctx, "account_objects", params, &reply)
	if err != nil {
		return nil, err
	}
	return reply.AccountObjects, nil
}

// AccountTx is a single historical transaction affecting an account.
type AccountTx struct {
	Hash   string
	TxType string
	Date   int64 // Ledger epoch seconds
	Memos  []Memo
}

type accountTxReply struct {
	Transactions []struct {
		Tx struct {
			Hash            string `json:"hash"`
			TransactionType string `json:"TransactionType"`
			Date            int64  `json:"date"`
			Memos           []Memo `json:"Memos"`
		} `json:"tx"`
	} `json:"transactions"`
}

// AccountTxs returns the most recent transactions affecting an account,
// newest first.
func (g *Gateway) AccountTxs(ctx context.Context, address string, limit int) ([]AccountTx, error) {
	params := map[string]interface{}{
		"account":          address,
		"ledger_index_min": -1,
		"ledger_index_max": -1,
	}
	if limit > 0 {
		params["limit"] = limit
	}
	var reply accountTxReply
	err := g.call(ctx, "account_tx", params, &reply)
	if err != nil {
		return nil, err
	}
	txs := make([]AccountTx, 0, len(reply.Transactions))
	for _, t := range reply.Transactions {
		txs = append(txs, AccountTx{
			Hash:   t.Tx.Hash,
			TxType: t.Tx.TransactionType,
			Date:   t.Tx.Date,
			Memos:  t.Tx.Memos,
		})
	}
	return txs, nil
}

// TxStatus is the state of a previously submitted transaction.
type TxStatus struct {
	Hash        string
	Validated   bool
	Result      string // Engine result from transaction metadata
	Sequence    uint32
	LedgerIndex uint32
}

type txReply struct {
	Hash        string `json:"hash"`
	Validated   bool   `json:"validated"`
	Sequence    uint32 `json:"Sequence"`
	LedgerIndex uint32 `json:"ledger_index"`
	Meta        struct {
		TransactionResult string `json:"TransactionResult"`
	} `json:"meta"`
}

// Tx returns the status of a transaction by hash. ErrNotFound is returned if
// the transaction is not known to the server.
func (g *Gateway) Tx(ctx context.Context, hash string) (*TxStatus, error) {
	var reply txReply
	err := g.call(ctx, "tx", map[string]interface{}{
		"transaction": hash,
	}, &reply)
	if err != nil {
		return nil, err
	}
	return &TxStatus{
		Hash:        reply.Hash,
		Validated:   reply.Validated,
		Result:      reply.Meta.TransactionResult,
		Sequence:    reply.Sequence,
		LedgerIndex: reply.LedgerIndex,
	}, nil
}

// AMMInfo describes a liquidity pool.
type AMMInfo struct {
	Account    string // Pool account, used as the pool reference
	Amount     Amount
	Amount2    Amount
	TradingFee uint16 // Units of 1/100,000
}

type ammInfoReply struct {
	AMM struct {
		Account    string `json:"account"`
		Amount     Amount `json:"amount"`
		Amount2    Amount `json:"amount2"`
		TradingFee uint16 `json:"trading_fee"`
	} `json:"amm"`
}

// AMMInfo returns the pool for the provided asset pair. ErrNotFound is
// returned if no pool exists.
func (g *Gateway) AMMInfo(ctx context.Context, asset, asset2 Asset) (*AMMInfo, error) {
	var reply ammInfoReply
	err := g.call(ctx, "amm_info", map[string]interface{}{
		"asset":  asset,
		"asset2": asset2,
	}, &reply)
	if err != nil {
		return nil, err
	}
	return &AMMInfo{
		Account:    reply.AMM.Account,
		Amount:     reply.AMM.Amount,
		Amount2:    reply.AMM.Amount2,
		TradingFee: reply.AMM.TradingFee,
	}, nil
}

type ledgerReply struct {
	LedgerIndex uint32 `json:"ledger_index"`
}

// ValidatedLedgerIndex returns the sequence height of the most recently
// validated ledger. Transaction expiry bounds are computed from this value
// rather than trusting a server-side autofill.
func (g *Gateway) ValidatedLedgerIndex(ctx context.Context) (uint32, error) {
	var reply ledgerReply
	err := g.call(ctx, "ledger", map[string]interface{}{
		"ledger_index": "validated",
	}, &reply)
	if err != nil {
		return 0, fmt.Errorf("validated ledger index: %w", err)
	}
	return reply.LedgerIndex, nil
}
