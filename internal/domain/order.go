package domain

import (
	"math/big"
	"strings"
	"time"
)

// Outcome is the side a resting order wants to take on one condition.
type Outcome string

const (
	OutcomeYes Outcome = "yes"
	OutcomeNo  Outcome = "no"
)

// IsYes reports whether the outcome is "yes". Anything else counts as "no".
func (o Outcome) IsYes() bool {
	return strings.EqualFold(string(o), string(OutcomeYes))
}

// OrderStrategy selects how a resting order decides to respond to auctions.
type OrderStrategy string

const (
	OrderStrategyConditions OrderStrategy = "conditions"
	OrderStrategyCopyTrade  OrderStrategy = "copy_trade"
)

// OrderStatus tracks whether a resting order is eligible to bid.
type OrderStatus string

const (
	OrderStatusActive OrderStatus = "active"
	OrderStatusPaused OrderStatus = "paused"
)

// ConditionSelection is one leg of a resting order's target.
type ConditionSelection struct {
	ID      string  `json:"id"`
	Outcome Outcome `json:"outcome"`
}

// Order is a resting auto-bid configuration. Orders are owned by the auto-bid
// subsystem; the matching engine only reads them.
type Order struct {
	ID                  string
	Strategy            OrderStrategy
	ConditionSelections []ConditionSelection
	Odds                int      // 0-100, see ClampOdds
	MaxWager            *big.Int // optional cap on the maker wager, nil = uncapped
	Status              OrderStatus
	Expiration          *time.Time
	AutoPausedAt        *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// ClampOdds bounds odds to the inclusive range [0, 100].
func ClampOdds(odds int) int {
	switch {
	case odds < 0:
		return 0
	case odds > 100:
		return 100
	default:
		return odds
	}
}

// Expired reports whether the order has an expiration at or before now.
func (o Order) Expired(now time.Time) bool {
	return o.Expiration != nil && !o.Expiration.After(now)
}

// Eligible reports whether the order should be considered for matching at
// all: active, unexpired, condition-driven and with at least one selection.
func (o Order) Eligible(now time.Time) bool {
	if o.Status != OrderStatusActive || o.Expired(now) {
		return false
	}
	return o.Strategy == OrderStrategyConditions && len(o.ConditionSelections) > 0
}
