package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/stockquest/trading-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// NewPool parses databaseURL, sizes the pool and verifies connectivity.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const sessionColumns = `id, user_id, challenge_id,
	seed_balance::TEXT, current_balance::TEXT, status,
	created_at, started_at, completed_at,
	final_balance::TEXT, return_rate::TEXT`

func (s *PostgresStore) CreateSession(ctx context.Context, sess *model.Session) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (id, user_id, challenge_id, seed_balance, current_balance, status,
		                       created_at, started_at, completed_at, final_balance, return_rate)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, $7, $8, $9, $10::NUMERIC, $11::NUMERIC)`,
		sess.ID, sess.UserID, sess.ChallengeID,
		sess.SeedBalance.String(), sess.CurrentBalance.String(), sess.Status,
		sess.CreatedAt, sess.StartedAt, sess.CompletedAt,
		decimalText(sess.FinalBalance), decimalText(sess.ReturnRate),
	)
	if err != nil {
		return classify(fmt.Errorf("create session %s: %w", sess.ID, err))
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	return getSession(ctx, s.pool, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
}

func (s *PostgresStore) FindActiveSession(ctx context.Context, userID, challengeID string) (*model.Session, error) {
	return getSession(ctx, s.pool,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE user_id = $1 AND challenge_id = $2 AND status = 'ACTIVE'`,
		userID, challengeID)
}

func getSession(ctx context.Context, q querier, sql string, args ...any) (*model.Session, error) {
	var sess model.Session
	var seed, current string
	var final, rate *string

	err := q.QueryRow(ctx, sql, args...).
		Scan(&sess.ID, &sess.UserID, &sess.ChallengeID,
			&seed, &current, &sess.Status,
			&sess.CreatedAt, &sess.StartedAt, &sess.CompletedAt,
			&final, &rate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: session %v", model.ErrNotFound, args)
	}
	if err != nil {
		return nil, fmt.Errorf("get session %v: %w", args, err)
	}

	if sess.SeedBalance, err = decimal.NewFromString(seed); err != nil {
		return nil, fmt.Errorf("session %s seed balance: %w", sess.ID, err)
	}
	if sess.CurrentBalance, err = decimal.NewFromString(current); err != nil {
		return nil, fmt.Errorf("session %s current balance: %w", sess.ID, err)
	}
	if sess.FinalBalance, err = parseDecimalPtr(final); err != nil {
		return nil, fmt.Errorf("session %s final balance: %w", sess.ID, err)
	}
	if sess.ReturnRate, err = parseDecimalPtr(rate); err != nil {
		return nil, fmt.Errorf("session %s return rate: %w", sess.ID, err)
	}
	return &sess, nil
}

func (s *PostgresStore) ListOrders(ctx context.Context, sessionID string) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, instrument_key, side, quantity::TEXT, category, limit_price::TEXT,
		        status, executed_price::TEXT, slippage_rate::TEXT, reject_reason, ordered_at, executed_at
		 FROM orders WHERE session_id = $1
		 ORDER BY ordered_at DESC, id DESC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list orders %s: %w", sessionID, err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		var o model.Order
		var qty string
		var limit, executed, slippage *string
		if err := rows.Scan(&o.ID, &o.SessionID, &o.InstrumentKey, &o.Side, &qty, &o.Category, &limit,
			&o.Status, &executed, &slippage, &o.RejectReason, &o.OrderedAt, &o.ExecutedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		if o.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, fmt.Errorf("order %s quantity: %w", o.ID, err)
		}
		if o.LimitPrice, err = parseDecimalPtr(limit); err != nil {
			return nil, fmt.Errorf("order %s limit price: %w", o.ID, err)
		}
		if o.ExecutedPrice, err = parseDecimalPtr(executed); err != nil {
			return nil, fmt.Errorf("order %s executed price: %w", o.ID, err)
		}
		if o.SlippageRate, err = parseDecimalPtr(slippage); err != nil {
			return nil, fmt.Errorf("order %s slippage rate: %w", o.ID, err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

const positionColumns = `session_id, instrument_key, quantity::TEXT, average_price::TEXT,
	total_cost::TEXT, realized_pnl::TEXT, state, updated_at`

func (s *PostgresStore) ListPositions(ctx context.Context, sessionID string) ([]model.Position, error) {
	return listPositions(ctx, s.pool, sessionID)
}

func listPositions(ctx context.Context, q querier, sessionID string) ([]model.Position, error) {
	rows, err := q.Query(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE session_id = $1 ORDER BY instrument_key`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("list positions %s: %w", sessionID, err)
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

func scanPosition(row pgx.Row) (*model.Position, error) {
	var p model.Position
	var qty, avg, cost, realized string
	if err := row.Scan(&p.SessionID, &p.InstrumentKey, &qty, &avg, &cost, &realized, &p.State, &p.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if p.Quantity, err = decimal.NewFromString(qty); err != nil {
		return nil, fmt.Errorf("position %s quantity: %w", p.InstrumentKey, err)
	}
	if p.AveragePrice, err = decimal.NewFromString(avg); err != nil {
		return nil, fmt.Errorf("position %s average price: %w", p.InstrumentKey, err)
	}
	if p.TotalCost, err = decimal.NewFromString(cost); err != nil {
		return nil, fmt.Errorf("position %s total cost: %w", p.InstrumentKey, err)
	}
	if p.RealizedPnL, err = decimal.NewFromString(realized); err != nil {
		return nil, fmt.Errorf("position %s realized pnl: %w", p.InstrumentKey, err)
	}
	return &p, nil
}

// WithSessionTx locks the session row with SELECT ... FOR UPDATE for the
// lifetime of the transaction. Concurrent callers on the same session queue
// on the row lock.
func (s *PostgresStore) WithSessionTx(ctx context.Context, sessionID string, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	sess, err := getSession(ctx, tx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1 FOR UPDATE`, sessionID)
	if err != nil {
		return err
	}

	if err := fn(&pgTx{tx: tx, session: sess}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("commit session %s: %w", sessionID, err))
	}
	return nil
}

type pgTx struct {
	tx      pgx.Tx
	session *model.Session
}

func (t *pgTx) Session() *model.Session {
	return t.session
}

func (t *pgTx) FindPosition(ctx context.Context, instrumentKey string) (*model.Position, error) {
	p, err := scanPosition(t.tx.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE session_id = $1 AND instrument_key = $2`,
		t.session.ID, instrumentKey))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: position %s/%s", model.ErrNotFound, t.session.ID, instrumentKey)
	}
	if err != nil {
		return nil, fmt.Errorf("find position %s/%s: %w", t.session.ID, instrumentKey, err)
	}
	return p, nil
}

func (t *pgTx) ListPositions(ctx context.Context) ([]model.Position, error) {
	return listPositions(ctx, t.tx, t.session.ID)
}

func (t *pgTx) SaveSession(ctx context.Context, sess *model.Session) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE sessions
		 SET current_balance = $2::NUMERIC, status = $3, started_at = $4, completed_at = $5,
		     final_balance = $6::NUMERIC, return_rate = $7::NUMERIC
		 WHERE id = $1`,
		sess.ID, sess.CurrentBalance.String(), sess.Status, sess.StartedAt, sess.CompletedAt,
		decimalText(sess.FinalBalance), decimalText(sess.ReturnRate),
	)
	if err != nil {
		return classify(fmt.Errorf("save session %s: %w", sess.ID, err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: session %s", model.ErrNotFound, sess.ID)
	}
	t.session = sess
	return nil
}

func (t *pgTx) SaveOrder(ctx context.Context, o *model.Order) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO orders (id, session_id, instrument_key, side, quantity, category, limit_price,
		                     status, executed_price, slippage_rate, reject_reason, ordered_at, executed_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7::NUMERIC, $8, $9::NUMERIC, $10::NUMERIC, $11, $12, $13)
		 ON CONFLICT (id) DO UPDATE SET
		     status = EXCLUDED.status, executed_price = EXCLUDED.executed_price,
		     slippage_rate = EXCLUDED.slippage_rate, reject_reason = EXCLUDED.reject_reason,
		     executed_at = EXCLUDED.executed_at`,
		o.ID, o.SessionID, o.InstrumentKey, o.Side, o.Quantity.String(), o.Category, decimalText(o.LimitPrice),
		o.Status, decimalText(o.ExecutedPrice), decimalText(o.SlippageRate), o.RejectReason, o.OrderedAt, o.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("save order %s: %w", o.ID, err)
	}
	return nil
}

func (t *pgTx) SavePosition(ctx context.Context, p *model.Position) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO positions (session_id, instrument_key, quantity, average_price, total_cost,
		                        realized_pnl, state, updated_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7, $8)
		 ON CONFLICT (session_id, instrument_key) DO UPDATE SET
		     quantity = EXCLUDED.quantity, average_price = EXCLUDED.average_price,
		     total_cost = EXCLUDED.total_cost, realized_pnl = EXCLUDED.realized_pnl,
		     state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`,
		p.SessionID, p.InstrumentKey, p.Quantity.String(), p.AveragePrice.String(), p.TotalCost.String(),
		p.RealizedPnL.String(), p.State, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save position %s/%s: %w", p.SessionID, p.InstrumentKey, err)
	}
	return nil
}

// classify maps the one-active-session unique violation to ErrInvalidState.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "sessions_one_active" {
		return fmt.Errorf("%w: %v", model.ErrInvalidState, err)
	}
	return err
}

func decimalText(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func parseDecimalPtr(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
