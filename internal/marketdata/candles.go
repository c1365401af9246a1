package marketdata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Candle is one daily OHLC bar. Prices are kept as decimals end to end.
type Candle struct {
	Ticker string
	Date   time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume int64
}

const candleSchema = `
CREATE TABLE IF NOT EXISTS candles (
	ticker TEXT    NOT NULL,
	day    TEXT    NOT NULL,
	open   TEXT    NOT NULL,
	high   TEXT    NOT NULL,
	low    TEXT    NOT NULL,
	close  TEXT    NOT NULL,
	volume INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (ticker, day)
);`

// CandleStore serves historical closes from a SQLite database. Challenges
// replaying a past period read prices from here instead of a live feed.
type CandleStore struct {
	db   *sql.DB
	asOf time.Time
}

// NewCandleStore opens (or creates) a SQLite database at dbPath. When asOf
// is non-zero, LatestPrice ignores candles after that day.
func NewCandleStore(dbPath string, asOf time.Time) (*CandleStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open candle db: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(candleSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create candle schema: %w", err)
	}
	return &CandleStore{db: db, asOf: asOf}, nil
}

// Close closes the underlying database connection.
func (s *CandleStore) Close() error {
	return s.db.Close()
}

// SaveCandles upserts candles in one transaction.
func (s *CandleStore) SaveCandles(ctx context.Context, candles []Candle) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin candle tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO candles (ticker, day, open, high, low, close, volume)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (ticker, day) DO UPDATE SET
		   open = excluded.open, high = excluded.high, low = excluded.low,
		   close = excluded.close, volume = excluded.volume`)
	if err != nil {
		return fmt.Errorf("prepare candle upsert: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, c.Ticker, c.Date.UTC().Format(time.DateOnly),
			c.Open.String(), c.High.String(), c.Low.String(), c.Close.String(), c.Volume); err != nil {
			return fmt.Errorf("upsert candle %s %s: %w", c.Ticker, c.Date.Format(time.DateOnly), err)
		}
	}
	return tx.Commit()
}

// LatestPrice returns the most recent close for ticker, bounded by asOf.
func (s *CandleStore) LatestPrice(ctx context.Context, ticker string) (decimal.Decimal, error) {
	query := `SELECT close FROM candles WHERE ticker = ? ORDER BY day DESC LIMIT 1`
	args := []any{ticker}
	if !s.asOf.IsZero() {
		query = `SELECT close FROM candles WHERE ticker = ? AND day <= ? ORDER BY day DESC LIMIT 1`
		args = append(args, s.asOf.UTC().Format(time.DateOnly))
	}

	var raw string
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("%w: no candle for %s", ErrNoData, ticker)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("query candle %s: %w", ticker, err)
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse close %q for %s: %w", raw, ticker, err)
	}
	return price, nil
}
