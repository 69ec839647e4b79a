package util

import (
	"encoding/json"
	"errors"
	"math/big"
	"testing"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"0", "0", false},
		{"", "0", false},
		{"1000000000", "1000000000", false},
		{" -42 ", "-42", false},
		{"170141183460469231731687303715884105727", "170141183460469231731687303715884105727", false},
		{"-170141183460469231731687303715884105728", "-170141183460469231731687303715884105728", false},
		{"170141183460469231731687303715884105728", "", true},
		{"12.5", "", true},
		{"abc", "", true},
	}

	for _, tt := range tests {
		got, err := ParseAmount(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseAmount(%q) should fail", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseAmount(%q) error = %v", tt.in, err)
			continue
		}
		if got.String() != tt.want {
			t.Errorf("ParseAmount(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestAmountZeroValue(t *testing.T) {
	var a Amount
	if !a.IsZero() || a.String() != "0" {
		t.Errorf("zero Amount = %s, want 0", a)
	}
	sum, err := a.Add(NewAmount(5))
	if err != nil || sum.String() != "5" {
		t.Errorf("0 + 5 = %s (%v), want 5", sum, err)
	}
}

func TestAmountAddOverflow(t *testing.T) {
	max, _ := AmountFromBig(MaxInt128)
	if _, err := max.Add(NewAmount(1)); !errors.Is(err, ErrInt128Overflow) {
		t.Errorf("MaxInt128 + 1 error = %v, want ErrInt128Overflow", err)
	}
	min, _ := AmountFromBig(MinInt128)
	if _, err := min.Add(NewAmount(-1)); !errors.Is(err, ErrInt128Overflow) {
		t.Errorf("MinInt128 - 1 error = %v, want ErrInt128Overflow", err)
	}
}

func TestAmountMulDiv(t *testing.T) {
	tests := []struct {
		a        int64
		num, den int64
		want     string
	}{
		{2_000_000_000, 150, 100, "3000000000"},
		{2_000_000_000, 75, 100, "1500000000"},
		{-7, 1, 2, "-3"},
		{7, 1, 2, "3"},
		{0, 10, 3, "0"},
	}

	for _, tt := range tests {
		got, err := NewAmount(tt.a).MulDiv(tt.num, tt.den)
		if err != nil {
			t.Fatalf("MulDiv error = %v", err)
		}
		if got.String() != tt.want {
			t.Errorf("%d*%d/%d = %s, want %s", tt.a, tt.num, tt.den, got, tt.want)
		}
	}

	if _, err := NewAmount(1).MulDiv(1, 0); !errors.Is(err, ErrDivisionByZero) {
		t.Errorf("MulDiv by zero error = %v, want ErrDivisionByZero", err)
	}
}

func TestAmountMulDivLargeIntermediate(t *testing.T) {
	// The product exceeds int128 but the quotient does not.
	max, _ := AmountFromBig(MaxInt128)
	got, err := max.MulDiv(120, 120)
	if err != nil {
		t.Fatalf("MulDiv error = %v", err)
	}
	if !got.Equal(max) {
		t.Errorf("MaxInt128*120/120 = %s, want %s", got, max)
	}
}

func TestAmountQuo(t *testing.T) {
	got, err := NewAmount(-9).Quo(NewAmount(2))
	if err != nil || got.String() != "-4" {
		t.Errorf("-9/2 = %s (%v), want -4", got, err)
	}
	if _, err := NewAmount(1).Quo(Amount{}); !errors.Is(err, ErrDivisionByZero) {
		t.Errorf("Quo by zero error = %v, want ErrDivisionByZero", err)
	}
}

func TestAmountImmutable(t *testing.T) {
	b := big.NewInt(10)
	a, _ := AmountFromBig(b)
	b.SetInt64(99)
	if a.String() != "10" {
		t.Errorf("Amount changed with its source: %s", a)
	}
	a.Big().SetInt64(77)
	if a.String() != "10" {
		t.Errorf("Amount changed through Big(): %s", a)
	}
}

func TestAmountJSON(t *testing.T) {
	data, err := json.Marshal(Units(100))
	if err != nil {
		t.Fatalf("Marshal error = %v", err)
	}
	if string(data) != `"1000000000"` {
		t.Errorf("Marshal = %s, want \"1000000000\"", data)
	}

	var fromString, fromNumber Amount
	if err := json.Unmarshal([]byte(`"1000000000"`), &fromString); err != nil {
		t.Fatalf("Unmarshal string error = %v", err)
	}
	if err := json.Unmarshal([]byte(`1000000000`), &fromNumber); err != nil {
		t.Fatalf("Unmarshal number error = %v", err)
	}
	if !fromString.Equal(Units(100)) || !fromNumber.Equal(Units(100)) {
		t.Errorf("Unmarshal = %s / %s, want 1000000000", fromString, fromNumber)
	}
	if err := json.Unmarshal([]byte(`1.5`), &fromNumber); err == nil {
		t.Error("Unmarshal of a fraction should fail")
	}
}

func TestMinAmount(t *testing.T) {
	if got := MinAmount(NewAmount(3), NewAmount(-1)); got.String() != "-1" {
		t.Errorf("MinAmount(3, -1) = %s, want -1", got)
	}
}

func TestAmountDecimal(t *testing.T) {
	tests := []struct {
		in   Amount
		want string
	}{
		{Amount{}, "0"},
		{Units(100), "100"},
		{NewAmount(12_500_000), "1.25"},
		{NewAmount(1), "0.0000001"},
		{NewAmount(-15_000_000), "-1.5"},
	}

	for _, tt := range tests {
		if got := tt.in.Decimal(); got != tt.want {
			t.Errorf("Decimal(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
