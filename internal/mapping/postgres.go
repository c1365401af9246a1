package mapping

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stockquest/trading-engine/internal/instrument"
)

// PostgresMapper reads mappings from the challenge_instruments table.
type PostgresMapper struct {
	pool *pgxpool.Pool
}

// NewPostgresMapper creates a mapper on an existing pool.
func NewPostgresMapper(pool *pgxpool.Pool) *PostgresMapper {
	return &PostgresMapper{pool: pool}
}

func (m *PostgresMapper) ResolveActualTicker(ctx context.Context, challengeID, instrumentKey string) (string, error) {
	var ticker string
	err := m.pool.QueryRow(ctx,
		`SELECT ticker FROM challenge_instruments WHERE challenge_id = $1 AND instrument_key = $2`,
		challengeID, instrumentKey,
	).Scan(&ticker)
	if errors.Is(err, pgx.ErrNoRows) {
		return keyAsTicker(challengeID, instrumentKey)
	}
	if err != nil {
		return "", fmt.Errorf("resolve ticker %s/%s: %w", challengeID, instrumentKey, err)
	}
	return ticker, nil
}

// Put upserts a mapping.
func (m *PostgresMapper) Put(ctx context.Context, challengeID, key, ticker string) error {
	t, err := instrument.ParseTicker(ticker)
	if err != nil {
		return err
	}
	_, err = m.pool.Exec(ctx,
		`INSERT INTO challenge_instruments (challenge_id, instrument_key, ticker)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (challenge_id, instrument_key) DO UPDATE SET ticker = EXCLUDED.ticker`,
		challengeID, key, t,
	)
	if err != nil {
		return fmt.Errorf("put mapping %s/%s: %w", challengeID, key, err)
	}
	return nil
}
