package core

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseDecimal(t *testing.T) {
	cases := []struct {
		in  string
		out string
		ok  bool
	}{
		{"1 234,56", "1234.56", true},
		{"12.34.56", "12.3456", true},
		{"1.234.56", "1.23456", true},
		{"1,23", "1.23", true},
		{"0.01", "0.01", true},
		{" 2.50 zł", "2.5", true},
		{"€1.005", "1.005", true},
		{"-7", "7", true},
		{"0", "0", true},
		{".5", "0.5", true},
		{"abc", "", false},
		{"", "", false},
		{".", "", false},
		{",,", "", false},
	}
	for _, tc := range cases {
		got, err := ParseDecimal(tc.in)
		if !tc.ok {
			if !errors.Is(err, ErrInvalidAmount) {
				t.Fatalf("%q expected ErrInvalidAmount, got %v (value %s)", tc.in, err, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q unexpected error: %v", tc.in, err)
		}
		if !got.Equal(decimal.RequireFromString(tc.out)) {
			t.Fatalf("%q expected %s, got %s", tc.in, tc.out, got)
		}
	}
}

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in    string
		cents int64
		ok    bool
	}{
		{"0.01", 1, true},
		{"100", 10000, true},
		{"1.005", 101, true}, // half-up rounding
		{"1,994", 199, true},
		{"9999999999.99", 999999999999, true},
		{"0", 0, false},
		{"0.00", 0, false},
		{"0.004", 0, false},
		{"0.005", 0, false},
		{"0,005", 0, false},
		{"0.0099", 0, false},
		{"10000000000", 0, false},
		{"abc", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if tc.ok {
			if err != nil || got.Cents() != tc.cents {
				t.Fatalf("%q expected %d cents, got %d (err=%v)", tc.in, tc.cents, got.Cents(), err)
			}
			continue
		}
		if !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("%q expected ErrInvalidAmount, got %v", tc.in, err)
		}
	}
}

func TestMoneyArithmeticIsExact(t *testing.T) {
	total := ZeroMoney()
	for i := 0; i < 1000; i++ {
		total = total.Add(MustMoney("0.10"))
	}
	if total.String() != "100.00" {
		t.Fatalf("expected 100.00, got %s", total)
	}
	for i := 0; i < 1000; i++ {
		total = total.Sub(MustMoney("0.10"))
	}
	if !total.IsZero() {
		t.Fatalf("expected exact zero, got %s", total)
	}
}

func TestMoneyCentsRoundTrip(t *testing.T) {
	for _, c := range []int64{0, 1, 99, 100, 123456789} {
		if got := MoneyFromCents(c).Cents(); got != c {
			t.Fatalf("expected %d, got %d", c, got)
		}
	}
	if MoneyFromCents(1050).String() != "10.50" {
		t.Fatalf("unexpected rendering %s", MoneyFromCents(1050))
	}
}

func TestMoneyJSON(t *testing.T) {
	b, err := MustMoney("12.5").MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `"12.50"` {
		t.Fatalf("unexpected json %s", b)
	}

	var m Money
	if err := m.UnmarshalJSON([]byte(`12.34`)); err != nil {
		t.Fatal(err)
	}
	if m.Cents() != 1234 {
		t.Fatalf("expected 1234 cents, got %d", m.Cents())
	}
	if err := m.UnmarshalJSON([]byte(`"x"`)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}
