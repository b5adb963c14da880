// Copyright (c) 2024-2025 The CrowdLift developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ledger

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrShutdown is returned when the gateway is used after it has
	// been shut down.
	ErrShutdown = errors.New("gateway is shutdown")

	// ErrUnknownOutcome is returned when a submitted transaction was
	// not observed in a validated ledger before the validation wait
	// expired. The transaction may still validate. The caller must
	// re-query the transaction by hash before taking any corrective
	// action; resubmitting a different transaction with the same
	// sequence number would invalidate the original.
	ErrUnknownOutcome = errors.New("transaction outcome unknown; " +
		"re-query before retrying")

	// ErrNotFound is returned by query commands when the requested
	// object does not exist on the ledger.
	ErrNotFound = errors.New("not found")
)

// RejectedError is returned when a transaction is rejected before it is
// relayed to the network, or when the server replies to a command with an
// error. The machine-readable code is always preserved.
type RejectedError struct {
	Code    string // Engine result or server error code
	Message string // Human readable message from the server
}

// Error satisfies the error interface.
func (e RejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("rejected: %v", e.Code)
	}
	return fmt.Sprintf("rejected: %v: %v", e.Code, e.Message)
}

// IsRetryable returns whether the rejection is worth retrying as-is.
// Malformed (tem) and failed (tef) results are permanent. A ter result
// means the transaction could not be applied yet but may succeed later.
func (e RejectedError) IsRetryable() bool {
	return strings.HasPrefix(e.Code, "ter")
}

// resultSuccessful returns whether an engine result code indicates the
// transaction was accepted for relay. terQUEUED is treated as accepted
// since the transaction remains in the open ledger queue.
func resultSuccessful(code string) bool {
	return strings.HasPrefix(code, "tes") || code == "terQUEUED"
}
