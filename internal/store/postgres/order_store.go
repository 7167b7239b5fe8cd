package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/alanyoungcy/auctionrfq/internal/domain"
)

// Querier is the subset of *pgxpool.Pool the stores use.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	db Querier
}

// NewOrderStore creates a new OrderStore backed by the given pool.
func NewOrderStore(db Querier) *OrderStore {
	return &OrderStore{db: db}
}

// Upsert inserts a resting order or replaces an existing one with the same ID.
func (s *OrderStore) Upsert(ctx context.Context, o domain.Order) error {
	selections, err := json.Marshal(nonNilSelections(o.ConditionSelections))
	if err != nil {
		return fmt.Errorf("postgres: marshal selections %s: %w", o.ID, err)
	}
	var maxWager *string
	if o.MaxWager != nil {
		v := o.MaxWager.String()
		maxWager = &v
	}

	const query = `
		INSERT INTO resting_orders (
			id, strategy, condition_selections, odds, max_wager,
			status, expiration, auto_paused_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, NOW()), NOW())
		ON CONFLICT (id) DO UPDATE SET
			strategy             = EXCLUDED.strategy,
			condition_selections = EXCLUDED.condition_selections,
			odds                 = EXCLUDED.odds,
			max_wager            = EXCLUDED.max_wager,
			status               = EXCLUDED.status,
			expiration           = EXCLUDED.expiration,
			auto_paused_at       = EXCLUDED.auto_paused_at,
			updated_at           = NOW()`

	var createdAt *time.Time
	if !o.CreatedAt.IsZero() {
		createdAt = &o.CreatedAt
	}

	_, err = s.db.Exec(ctx, query,
		o.ID, string(o.Strategy), selections, domain.ClampOdds(o.Odds), maxWager,
		string(o.Status), o.Expiration, o.AutoPausedAt, createdAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert order %s: %w", o.ID, err)
	}
	return nil
}

const orderSelectCols = `id, strategy, condition_selections, odds, max_wager::text,
	status, expiration, auto_paused_at, created_at, updated_at`

func scanOrder(scanner interface{ Scan(dest ...any) error }) (domain.Order, error) {
	var (
		o                domain.Order
		strategy, status string
		selections       []byte
		odds             int32
		maxWager         *string
	)
	err := scanner.Scan(
		&o.ID, &strategy, &selections, &odds, &maxWager,
		&status, &o.Expiration, &o.AutoPausedAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}

	o.Strategy = domain.OrderStrategy(strategy)
	o.Status = domain.OrderStatus(status)
	o.Odds = domain.ClampOdds(int(odds))
	if len(selections) > 0 {
		if err := json.Unmarshal(selections, &o.ConditionSelections); err != nil {
			return domain.Order{}, fmt.Errorf("decode selections: %w", err)
		}
	}
	if maxWager != nil {
		if v, ok := new(big.Int).SetString(*maxWager, 10); ok {
			o.MaxWager = v
		}
	}
	return o, nil
}

// GetByID retrieves a single order by ID.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	row := s.db.QueryRow(ctx, `SELECT `+orderSelectCols+` FROM resting_orders WHERE id = $1`, id)

	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

// ListActive returns every order with status active, oldest first. Expired
// orders are included so the caller can auto-pause them.
func (s *OrderStore) ListActive(ctx context.Context) ([]domain.Order, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+orderSelectCols+` FROM resting_orders
		 WHERE status = 'active'
		 ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan active order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list active orders: %w", err)
	}
	return orders, nil
}

// AutoPause marks an order paused and records when it happened.
func (s *OrderStore) AutoPause(ctx context.Context, id string, at time.Time) error {
	const query = `
		UPDATE resting_orders
		SET status = 'paused', auto_paused_at = $2, updated_at = NOW()
		WHERE id = $1`

	tag, err := s.db.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("postgres: auto-pause order %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func nonNilSelections(s []domain.ConditionSelection) []domain.ConditionSelection {
	if s == nil {
		return []domain.ConditionSelection{}
	}
	return s
}

// Compile-time interface check.
var _ domain.OrderStore = (*OrderStore)(nil)
