package types

import (
	"encoding/json"
	"math/big"
	"testing"
)

const maxUint256 = "115792089237316195423570985008687907853269984665640564039457584007913129639935"

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"zero", "0", "0", false},
		{"small", "100", "100", false},
		{"padded", "  42 ", "42", false},
		{"max", maxUint256, maxUint256, false},
		{"empty", "", "", true},
		{"negative", "-1", "", true},
		{"fraction", "1.5", "", true},
		{"hex", "0x10", "", true},
		{"too wide", maxUint256 + "0", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %s", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.String() != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestAmountArithmetic(t *testing.T) {
	sum, overflow := Units(100).Add(Units(200))
	if overflow || !sum.Equal(Units(300)) {
		t.Errorf("100+200 = %s (overflow=%v)", sum, overflow)
	}

	_, overflow = MustParseAmount(maxUint256).Add(Units(1))
	if !overflow {
		t.Error("expected overflow adding 1 to max")
	}

	_, overflow = MustParseAmount(maxUint256).Add(ZeroAmount())
	if overflow {
		t.Error("adding zero to max must not overflow")
	}

	diff, underflow := Units(5).Sub(Units(3))
	if underflow || !diff.Equal(Units(2)) {
		t.Errorf("5-3 = %s (underflow=%v)", diff, underflow)
	}
	if _, underflow = Units(3).Sub(Units(5)); !underflow {
		t.Error("expected underflow for 3-5")
	}
}

func TestAmountComparison(t *testing.T) {
	tests := []struct {
		name string
		a, b Amount
		cmp  int
	}{
		{"less", Units(1), Units(2), -1},
		{"equal", Units(7), Units(7), 0},
		{"greater", MustParseAmount(maxUint256), Units(1), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Cmp(tt.b); got != tt.cmp {
				t.Errorf("Cmp = %d, want %d", got, tt.cmp)
			}
			if tt.a.Equal(tt.b) != (tt.cmp == 0) {
				t.Errorf("Equal disagrees with Cmp")
			}
		})
	}

	if !ZeroAmount().IsZero() || Units(1).IsZero() {
		t.Error("IsZero mismatch")
	}
}

func TestAmountUint64(t *testing.T) {
	v, ok := Units(12345).Uint64()
	if !ok || v != 12345 {
		t.Errorf("Uint64 = %d, %v", v, ok)
	}
	if _, ok := MustParseAmount(maxUint256).Uint64(); ok {
		t.Error("max uint256 should not fit in uint64")
	}
}

func TestAmountFromBig(t *testing.T) {
	a, err := AmountFromBig(big.NewInt(99))
	if err != nil || !a.Equal(Units(99)) {
		t.Fatalf("AmountFromBig(99) = %s, %v", a, err)
	}
	if _, err := AmountFromBig(big.NewInt(-1)); err == nil {
		t.Error("expected error for negative")
	}
	tooWide := new(big.Int).Lsh(big.NewInt(1), 256)
	if _, err := AmountFromBig(tooWide); err == nil {
		t.Error("expected error for 2^256")
	}
	if a.Big().Cmp(big.NewInt(99)) != 0 {
		t.Errorf("Big() = %s", a.Big())
	}
}

func TestAmountFormatUnits(t *testing.T) {
	tests := []struct {
		amount   Amount
		decimals int
		want     string
	}{
		{Units(1500), 3, "1.5"},
		{Units(1000), 3, "1"},
		{Units(1), NativeDecimals, "0.000000000000000001"},
		{MustParseAmount("2500000000000000000"), NativeDecimals, "2.5"},
		{Units(42), 0, "42"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.amount.FormatUnits(tt.decimals); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestAmountJSON(t *testing.T) {
	type wrapper struct {
		Price Amount `json:"price"`
	}

	data, err := json.Marshal(wrapper{Price: MustParseAmount(maxUint256)})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"price":"`+maxUint256+`"}` {
		t.Errorf("unexpected JSON: %s", data)
	}

	var w wrapper
	if err := json.Unmarshal(data, &w); err != nil {
		t.Fatal(err)
	}
	if w.Price.String() != maxUint256 {
		t.Errorf("round trip: %s", w.Price)
	}

	if err := json.Unmarshal([]byte(`{"price":17}`), &w); err != nil {
		t.Fatalf("bare number: %v", err)
	}
	if !w.Price.Equal(Units(17)) {
		t.Errorf("bare number decoded to %s", w.Price)
	}

	if err := json.Unmarshal([]byte(`{"price":"-3"}`), &w); err == nil {
		t.Error("expected error for negative price")
	}
}

func TestAmountScan(t *testing.T) {
	var a Amount
	for _, src := range []any{"250", []byte("250"), int64(250)} {
		if err := a.Scan(src); err != nil {
			t.Fatalf("Scan(%T): %v", src, err)
		}
		if !a.Equal(Units(250)) {
			t.Errorf("Scan(%T) = %s", src, a)
		}
	}
	if err := a.Scan(int64(-1)); err == nil {
		t.Error("expected error scanning negative")
	}
	if err := a.Scan(3.5); err == nil {
		t.Error("expected error scanning float")
	}

	v, err := Units(9).Value()
	if err != nil || v != "9" {
		t.Errorf("Value = %v, %v", v, err)
	}
}
