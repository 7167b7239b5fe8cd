package postgres

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/auctionrfq/internal/domain"
)

// DecisionStore implements domain.DecisionStore using PostgreSQL. It records
// the bids this process decided to make, keyed by (order, auction).
type DecisionStore struct {
	db Querier
}

// NewDecisionStore creates a new DecisionStore backed by the given pool.
func NewDecisionStore(db Querier) *DecisionStore {
	return &DecisionStore{db: db}
}

// Record inserts d. It reports false without error when a decision for the
// same order and auction already exists.
func (s *DecisionStore) Record(ctx context.Context, d domain.BidDecision) (bool, error) {
	const query = `
		INSERT INTO bid_decisions (
			id, order_id, auction_id, inverted, maker, maker_wager,
			maker_deadline, maker_nonce, maker_signature, created_at
		) VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8::numeric, $9, $10)
		ON CONFLICT (order_id, auction_id) DO NOTHING`

	tag, err := s.db.Exec(ctx, query,
		d.ID, d.OrderID, d.AuctionID, d.Match.Inverted, d.Maker, d.MakerWager,
		d.MakerDeadline, d.MakerNonce, d.MakerSignature, d.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: record decision %s/%s: %w", d.OrderID, d.AuctionID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListRecent returns the newest decisions first, at most limit of them.
func (s *DecisionStore) ListRecent(ctx context.Context, limit int) ([]domain.BidDecision, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT id::text, order_id, auction_id, inverted, maker, maker_wager::text,
		       maker_deadline, maker_nonce::text, maker_signature, created_at
		FROM bid_decisions
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list decisions: %w", err)
	}
	defer rows.Close()

	var out []domain.BidDecision
	for rows.Next() {
		var d domain.BidDecision
		if err := rows.Scan(
			&d.ID, &d.OrderID, &d.AuctionID, &d.Match.Inverted, &d.Maker, &d.MakerWager,
			&d.MakerDeadline, &d.MakerNonce, &d.MakerSignature, &d.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan decision: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list decisions: %w", err)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.DecisionStore = (*DecisionStore)(nil)
