package instrument

import (
	"errors"
	"strings"
	"testing"
)

func TestNormalizeKey(t *testing.T) {
	k, err := NormalizeKey("  STOCK_A \t")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if k != "STOCK_A" {
		t.Errorf("expected STOCK_A, got %q", k)
	}

	for _, bad := range []string{"", "   ", strings.Repeat("x", 65)} {
		if _, err := NormalizeKey(bad); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("NormalizeKey(%q): expected ErrInvalidKey, got %v", bad, err)
		}
	}
}

func TestNormalizeTicker(t *testing.T) {
	tests := map[string]string{
		"aapl":   "AAPL",
		" msft ": "MSFT",
		"":       DefaultTicker,
		"  ":     DefaultTicker,
		"005930": "005930",
	}
	for in, want := range tests {
		if got := NormalizeTicker(in); got != want {
			t.Errorf("NormalizeTicker(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseTicker_Valid(t *testing.T) {
	for _, s := range []string{"AAPL", "brk.b", "005930", "GOOG", ""} {
		if _, err := ParseTicker(s); err != nil {
			t.Errorf("ParseTicker(%q): unexpected error %v", s, err)
		}
	}
}

func TestParseTicker_Invalid(t *testing.T) {
	tests := []string{
		"STOCK_A",
		"TOOLONGTICKER",
		"AA PL",
		"$TSLA",
	}
	for _, s := range tests {
		_, err := ParseTicker(s)
		if !errors.Is(err, ErrInvalidTicker) {
			t.Errorf("ParseTicker(%q): expected ErrInvalidTicker, got %v", s, err)
		}
	}
}

func TestIsTicker(t *testing.T) {
	if !IsTicker("NVDA") {
		t.Error("NVDA should be a ticker")
	}
	if IsTicker("nvda") {
		t.Error("lower-case keys are not tickers as given")
	}
	if IsTicker("A-1") {
		t.Error("A-1 is not a ticker")
	}
}
