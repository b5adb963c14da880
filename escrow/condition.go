// Copyright (c) 2024-2025 The CrowdLift developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package escrow

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// PREIMAGE-SHA-256 crypto-condition DER framing. A condition is the DER
// wrapped SHA-256 digest of the preimage; a fulfillment is the DER wrapped
// preimage itself.
const (
	conditionPrefix   = "A0258020"
	conditionSuffix   = "810120"
	fulfillmentPrefix = "A0228020"
)

// Preimage returns the 32 byte escrow preimage for a milestone. The preimage
// is derived deterministically from the milestone id so the fulfillment can
// be regenerated at proof time without any stored secret.
func Preimage(milestoneID string) []byte {
	h := sha256.Sum256([]byte("milestone_" + milestoneID))
	return h[:]
}

// Condition returns the hex encoded PREIMAGE-SHA-256 condition for a
// milestone. Attached to the milestone's escrow at creation time.
func Condition(milestoneID string) string {
	digest := sha256.Sum256(Preimage(milestoneID))
	return conditionPrefix +
		strings.ToUpper(hex.EncodeToString(digest[:])) +
		conditionSuffix
}

// Fulfillment returns the hex encoded fulfillment satisfying the milestone's
// condition.
func Fulfillment(milestoneID string) string {
	return fulfillmentPrefix +
		strings.ToUpper(hex.EncodeToString(Preimage(milestoneID)))
}
