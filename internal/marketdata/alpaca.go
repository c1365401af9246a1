package marketdata

import (
	"context"
	"fmt"
	"log/slog"

	alpacamd "github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"
)

// AlpacaSource reads the latest daily bar close from the Alpaca market
// data API.
type AlpacaSource struct {
	client *alpacamd.Client
	feed   alpacamd.Feed
	log    *slog.Logger
}

// AlpacaConfig carries credentials and endpoint overrides.
type AlpacaConfig struct {
	APIKey    string
	APISecret string
	DataURL   string // empty for the default endpoint
	Feed      string // "iex" or "sip"
}

// NewAlpacaSource creates a source using the given Alpaca credentials.
func NewAlpacaSource(cfg AlpacaConfig) *AlpacaSource {
	opts := alpacamd.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
	}
	if cfg.DataURL != "" {
		opts.BaseURL = cfg.DataURL
	}
	feed := alpacamd.IEX
	if cfg.Feed != "" {
		feed = alpacamd.Feed(cfg.Feed)
	}
	return &AlpacaSource{
		client: alpacamd.NewClient(opts),
		feed:   feed,
		log:    slog.Default().With("source", "alpaca"),
	}
}

type barResult struct {
	bar *alpacamd.Bar
	err error
}

// LatestPrice returns the close of the latest bar for ticker. The client
// call does not take a context, so it runs in its own goroutine and is
// abandoned when ctx ends.
func (s *AlpacaSource) LatestPrice(ctx context.Context, ticker string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}

	done := make(chan barResult, 1)
	go func() {
		bar, err := s.client.GetLatestBar(ticker, alpacamd.GetLatestBarRequest{Feed: s.feed})
		done <- barResult{bar: bar, err: err}
	}()

	select {
	case <-ctx.Done():
		return decimal.Zero, ctx.Err()
	case res := <-done:
		if res.err != nil {
			return decimal.Zero, fmt.Errorf("GetLatestBar %s: %w", ticker, res.err)
		}
		if res.bar == nil || res.bar.Close <= 0 {
			return decimal.Zero, fmt.Errorf("%w: alpaca has no bar for %s", ErrNoData, ticker)
		}
		s.log.Debug("latest bar", "ticker", ticker, "close", res.bar.Close, "at", res.bar.Timestamp)
		return decimal.NewFromFloat(res.bar.Close), nil
	}
}
