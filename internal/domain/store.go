package domain

import (
	"context"
	"time"
)

// OrderStore persists resting auto-bid orders.
type OrderStore interface {
	Upsert(ctx context.Context, order Order) error
	GetByID(ctx context.Context, id string) (Order, error)
	ListActive(ctx context.Context) ([]Order, error)
	AutoPause(ctx context.Context, id string, at time.Time) error
}

// DecisionStore records auto-bid decisions. Record reports false when the
// (order, auction) pair was already decided.
type DecisionStore interface {
	Record(ctx context.Context, d BidDecision) (bool, error)
	ListRecent(ctx context.Context, limit int) ([]BidDecision, error)
}
