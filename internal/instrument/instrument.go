// Package instrument handles instrument-key and ticker normalization and
// validation. Instrument keys are opaque per-challenge identifiers; tickers
// are the real market symbols they map to.
package instrument

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// DefaultTicker is the sentinel ticker used when no symbol can be derived
// from the input. The reference price table always carries an entry for it.
const DefaultTicker = "DEFAULT"

// tickerRegex matches exchange symbols: US tickers (AAPL, BRK.B) and
// numeric KRX codes (005930).
var tickerRegex = regexp.MustCompile(`^[A-Z0-9.]{1,10}$`)

var (
	ErrInvalidKey    = errors.New("instrument: invalid instrument key")
	ErrInvalidTicker = errors.New("instrument: invalid ticker format")
)

// NormalizeKey trims surrounding whitespace from an instrument key.
// Keys are otherwise case-sensitive and opaque.
func NormalizeKey(key string) (string, error) {
	k := strings.TrimSpace(key)
	if k == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if len(k) > 64 {
		return "", fmt.Errorf("%w: %q longer than 64 characters", ErrInvalidKey, k)
	}
	return k, nil
}

// NormalizeTicker upper-cases and trims s. An empty result becomes
// DefaultTicker rather than an error.
func NormalizeTicker(s string) string {
	t := strings.ToUpper(strings.TrimSpace(s))
	if t == "" {
		return DefaultTicker
	}
	return t
}

// ParseTicker normalizes s and validates it as an exchange symbol.
func ParseTicker(s string) (string, error) {
	t := NormalizeTicker(s)
	if !tickerRegex.MatchString(t) {
		return "", fmt.Errorf("%w: %s (expected 1-10 of A-Z, 0-9 or '.')", ErrInvalidTicker, s)
	}
	return t, nil
}

// IsTicker reports whether s, as given, already looks like an exchange
// symbol. Mappers use it to accept an unmapped key as its own ticker.
func IsTicker(s string) bool {
	return tickerRegex.MatchString(s)
}
