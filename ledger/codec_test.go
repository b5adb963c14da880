// Copyright (c) 2024-2025 The CrowdLift developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ledger

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/go-test/deep"
)

func TestDropsConversion(t *testing.T) {
	tests := []struct {
		name  string
		xrp   float64
		drops string
	}{
		{"one unit", 1, "1000000"},
		{"fractional", 0.5, "500000"},
		{"smallest", 0.000001, "1"},
		{"zero", 0, "0"},
		{"large", 100000, "100000000000"},
	}
	for _, v := range tests {
		t.Run(v.name, func(t *testing.T) {
			drops := XRPToDrops(v.xrp)
			if drops != v.drops {
				t.Errorf("XRPToDrops(%v): got %v, want %v",
					v.xrp, drops, v.drops)
			}
			xrp, err := DropsToXRP(v.drops)
			if err != nil {
				t.Fatal(err)
			}
			if xrp != v.xrp {
				t.Errorf("DropsToXRP(%v): got %v, want %v",
					v.drops, xrp, v.xrp)
			}
		})
	}

	if _, err := DropsToXRP("not a number"); err == nil {
		t.Error("expected error for malformed drops string")
	}
}

func TestRippleTime(t *testing.T) {
	// The ledger epoch itself.
	epoch := time.Unix(946684800, 0).UTC()
	if got := RippleTime(epoch); got != 0 {
		t.Errorf("RippleTime(epoch): got %v, want 0", got)
	}

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rt := RippleTime(at)
	back := RippleTimeToTime(int64(rt))
	if !back.Equal(at) {
		t.Errorf("round trip: got %v, want %v", back, at)
	}
}

func TestCurrencyCode(t *testing.T) {
	tests := []struct {
		name   string
		symbol string
		code   string
	}{
		{"standard three char", "USD", "USD"},
		{"lowercase normalized", "usd", "USD"},
		{
			"long symbol hex padded",
			"SOLAR",
			"534F4C4152000000000000000000000000000000",
		},
		{
			"four char symbol",
			"GOLD",
			"474F4C4400000000000000000000000000000000",
		},
	}
	for _, v := range tests {
		t.Run(v.name, func(t *testing.T) {
			code := CurrencyCode(v.symbol)
			if code != v.code {
				t.Fatalf("got %v, want %v", code, v.code)
			}
			if len(v.code) == currencyCodeLen {
				decoded := DecodeCurrencyCode(code)
				if decoded != v.symbol {
					t.Errorf("decode: got %v, want %v",
						decoded, v.symbol)
				}
			}
		})
	}
}

func TestAmountJSON(t *testing.T) {
	// Native amounts collapse to a bare drops string on the wire.
	b, err := json.Marshal(NativeAmount(2.5))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `"2500000"` {
		t.Fatalf("native wire form: got %s", b)
	}

	issued := IssuedAmount("SOLAR", "rIssuer11111111111111111111", 150.25)
	b, err = json.Marshal(issued)
	if err != nil {
		t.Fatal(err)
	}

	var decoded Amount
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatal(err)
	}
	if diff := deep.Equal(decoded, issued); diff != nil {
		t.Error(diff)
	}

	var native Amount
	if err := json.Unmarshal([]byte(`"2500000"`), &native); err != nil {
		t.Fatal(err)
	}
	if !native.IsNative() {
		t.Error("bare string should decode as native")
	}
	v, err := native.Float()
	if err != nil {
		t.Fatal(err)
	}
	if v != 2.5 {
		t.Errorf("native value: got %v, want 2.5", v)
	}
}

func TestMemoWireCodec(t *testing.T) {
	memo, err := JSONMemo("crowdlift/test", map[string]string{"k": "v"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := json.Marshal(memo)
	if err != nil {
		t.Fatal(err)
	}

	// Wire form carries hex encoded type and data.
	var w struct {
		Memo struct {
			MemoType string
			MemoData string
		}
	}
	if err := json.Unmarshal(b, &w); err != nil {
		t.Fatal(err)
	}
	if w.Memo.MemoType != "63726F77646C6966742F74657374" {
		t.Errorf("memo type wire form: got %v", w.Memo.MemoType)
	}

	var decoded Memo
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatal(err)
	}
	if diff := deep.Equal(decoded, memo); diff != nil {
		t.Error(diff)
	}
}
