package pricing

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/stockquest/trading-engine/internal/instrument"
)

// defaultReferencePrices are the base prices used when no market data is
// available. KRX codes are quoted in KRW.
var defaultReferencePrices = map[string]string{
	"AAPL":   "180.00",
	"MSFT":   "420.00",
	"GOOGL":  "140.00",
	"GOOG":   "140.00",
	"AMZN":   "150.00",
	"TSLA":   "250.00",
	"NVDA":   "450.00",
	"META":   "350.00",
	"NFLX":   "400.00",
	"AMD":    "120.00",
	"INTC":   "35.00",
	"GME":    "20.00",
	"AMC":    "10.00",
	"BB":     "8.00",
	"NOK":    "5.00",
	"KOSS":   "15.00",
	"JNJ":    "165.00",
	"PG":     "150.00",
	"KO":     "62.00",
	"005930": "70000.00",
	"000660": "120000.00",
	"035720": "95000.00",

	instrument.DefaultTicker: "100.00",
}

// ReferenceTable maps tickers to base prices. Unknown tickers resolve to the
// DEFAULT entry. It is read-only after construction.
type ReferenceTable struct {
	prices map[string]decimal.Decimal
}

// referenceFile is the YAML layout accepted by LoadReferenceFile:
//
//	default: 100
//	prices:
//	  AAPL: 185.5
//	  005930: 71000
type referenceFile struct {
	Default string            `yaml:"default"`
	Prices  map[string]string `yaml:"prices"`
}

// DefaultReferenceTable returns the built-in table.
func DefaultReferenceTable() *ReferenceTable {
	t, err := newReferenceTable(defaultReferencePrices)
	if err != nil {
		panic(err)
	}
	return t
}

// LoadReferenceFile returns the built-in table overlaid with the entries of
// the YAML file at path.
func LoadReferenceFile(path string) (*ReferenceTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read reference prices: %w", err)
	}
	var f referenceFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse reference prices %s: %w", path, err)
	}

	merged := make(map[string]string, len(defaultReferencePrices)+len(f.Prices))
	for k, v := range defaultReferencePrices {
		merged[k] = v
	}
	for k, v := range f.Prices {
		merged[instrument.NormalizeTicker(k)] = v
	}
	if f.Default != "" {
		merged[instrument.DefaultTicker] = f.Default
	}
	return newReferenceTable(merged)
}

func newReferenceTable(raw map[string]string) (*ReferenceTable, error) {
	prices := make(map[string]decimal.Decimal, len(raw))
	for ticker, s := range raw {
		p, err := decimal.NewFromString(s)
		if err != nil {
			return nil, fmt.Errorf("reference price for %s: %w", ticker, err)
		}
		if !p.IsPositive() {
			return nil, fmt.Errorf("reference price for %s must be positive, got %s", ticker, p)
		}
		prices[ticker] = p
	}
	if _, ok := prices[instrument.DefaultTicker]; !ok {
		return nil, fmt.Errorf("reference table has no %s entry", instrument.DefaultTicker)
	}
	return &ReferenceTable{prices: prices}, nil
}

// Base returns the base price for ticker, or the DEFAULT price when the
// ticker is not listed. The bool reports whether the ticker was listed.
func (t *ReferenceTable) Base(ticker string) (decimal.Decimal, bool) {
	if p, ok := t.prices[instrument.NormalizeTicker(ticker)]; ok {
		return p, true
	}
	return t.prices[instrument.DefaultTicker], false
}

// Len returns the number of listed tickers, DEFAULT included.
func (t *ReferenceTable) Len() int {
	return len(t.prices)
}
