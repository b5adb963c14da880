// Copyright (c) 2024-2025 The CrowdLift developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ledger

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	// dropsPerXRP is the number of drops in one unit of the native
	// currency. All native amounts cross the wire denominated in drops.
	dropsPerXRP = 1e6

	// rippleEpoch is the unix timestamp of the ledger epoch
	// (2000-01-01 00:00 UTC). All on-ledger timestamps, escrow time
	// bounds included, are seconds since this epoch.
	rippleEpoch = 946684800

	// currencyCodeLen is the length of a hex encoded non-standard
	// currency code.
	currencyCodeLen = 40
)

// XRPToDrops converts a native currency amount to a drops string.
func XRPToDrops(xrp float64) string {
	return strconv.FormatInt(int64(math.Round(xrp*dropsPerXRP)), 10)
}

// DropsToXRP converts a drops string to a native currency amount.
func DropsToXRP(drops string) (float64, error) {
	d, err := strconv.ParseInt(drops, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid drops amount %q: %v", drops, err)
	}
	return float64(d) / dropsPerXRP, nil
}

// RippleTime converts a time.Time to seconds since the ledger epoch.
func RippleTime(t time.Time) uint32 {
	return uint32(t.Unix() - rippleEpoch)
}

// RippleTimeToTime converts seconds since the ledger epoch to a time.Time.
func RippleTimeToTime(rt int64) time.Time {
	return time.Unix(rt+rippleEpoch, 0).UTC()
}

// CurrencyCode converts a token symbol to its wire representation. Symbols of
// exactly three ASCII characters are used as-is. Anything else is hex encoded
// and right padded with zeros to 40 characters.
func CurrencyCode(symbol string) string {
	if len(symbol) == 3 && isASCII(symbol) {
		return strings.ToUpper(symbol)
	}
	h := strings.ToUpper(hex.EncodeToString([]byte(symbol)))
	if len(h) > currencyCodeLen {
		h = h[:currencyCodeLen]
	}
	return h + strings.Repeat("0", currencyCodeLen-len(h))
}

// DecodeCurrencyCode converts a wire currency code back to a symbol. Standard
// three character codes pass through unchanged. Hex codes are decoded with
// trailing zero bytes stripped. Undecodable input is returned verbatim.
func DecodeCurrencyCode(code string) string {
	if len(code) != currencyCodeLen {
		return code
	}
	b, err := hex.DecodeString(code)
	if err != nil {
		return code
	}
	return strings.TrimRight(string(b), "\x00")
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x21 || s[i] > 0x7e {
			return false
		}
	}
	return true
}

// Amount represents a ledger amount. Native amounts are encoded on the wire
// as a drops string. Issued currency amounts are encoded as an object with
// currency, issuer, and decimal value.
type Amount struct {
	Currency string `json:"currency"`
	Issuer   string `json:"issuer,omitempty"`
	Value    string `json:"value"`
}

// NativeAmount returns an Amount for the given number of native currency
// units.
func NativeAmount(xrp float64) Amount {
	return Amount{
		Currency: "XRP",
		Value:    XRPToDrops(xrp),
	}
}

// IssuedAmount returns an Amount for an issued currency. The symbol is
// converted to its wire currency code.
func IssuedAmount(symbol, issuer string, value float64) Amount {
	return Amount{
		Currency: CurrencyCode(symbol),
		Issuer:   issuer,
		Value:    strconv.FormatFloat(value, 'f', -1, 64),
	}
}

// IsNative returns whether the amount is denominated in the native currency.
func (a Amount) IsNative() bool {
	return a.Currency == "XRP" || a.Currency == ""
}

// Float returns the amount value as a float64, denominated in whole units for
// both native and issued amounts.
func (a Amount) Float() (float64, error) {
	if a.IsNative() {
		return DropsToXRP(a.Value)
	}
	return strconv.ParseFloat(a.Value, 64)
}

// MarshalJSON satisfies the json.Marshaler interface. Native amounts collapse
// to a bare drops string.
func (a Amount) MarshalJSON() ([]byte, error) {
	if a.IsNative() {
		return json.Marshal(a.Value)
	}
	type amt Amount
	return json.Marshal(amt(a))
}

// UnmarshalJSON satisfies the json.Unmarshaler interface. A bare string is a
// native drops amount.
func (a *Amount) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var drops string
		if err := json.Unmarshal(b, &drops); err != nil {
			return err
		}
		a.Currency = "XRP"
		a.Issuer = ""
		a.Value = drops
		return nil
	}
	type amt Amount
	var v amt
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*a = Amount(v)
	return nil
}

// Memo is an on-ledger memo. Both fields are hex encoded on the wire.
type Memo struct {
	Type []byte
	Data []byte
}

type wireMemo struct {
	Memo struct {
		MemoType string `json:"MemoType,omitempty"`
		MemoData string `json:"MemoData,omitempty"`
	} `json:"Memo"`
}

// MarshalJSON satisfies the json.Marshaler interface.
func (m Memo) MarshalJSON() ([]byte, error) {
	var w wireMemo
	w.Memo.MemoType = strings.ToUpper(hex.EncodeToString(m.Type))
	w.Memo.MemoData = strings.ToUpper(hex.EncodeToString(m.Data))
	return json.Marshal(w)
}

// UnmarshalJSON satisfies the json.Unmarshaler interface.
func (m *Memo) UnmarshalJSON(b []byte) error {
	var w wireMemo
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	t, err := hex.DecodeString(w.Memo.MemoType)
	if err != nil {
		return fmt.Errorf("invalid memo type: %v", err)
	}
	d, err := hex.DecodeString(w.Memo.MemoData)
	if err != nil {
		return fmt.Errorf("invalid memo data: %v", err)
	}
	m.Type = t
	m.Data = d
	return nil
}

// JSONMemo returns a memo whose data is the JSON encoding of v.
func JSONMemo(memoType string, v interface{}) (Memo, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Memo{}, err
	}
	return Memo{
		Type: []byte(memoType),
		Data: b,
	}, nil
}
