// Package matching decides whether a resting order should answer an auction
// and with which polarity. Everything here is pure: no I/O, no shared state.
package matching

import (
	"strings"

	"github.com/alanyoungcy/auctionrfq/internal/domain"
)

// Match compares a resting order's selections with an auction's decoded legs.
//
// Each leg's Prediction is the auction creator's side; the side a bidder
// takes is its complement. A direct match requires every selection to be
// present among the legs with the selection's side opposite to the
// creator's prediction. A single-selection order whose side equals the
// creator's prediction still matches, inverted. Multi-selection orders
// never match inverted.
func Match(order domain.Order, legs []domain.PredictedLeg) (domain.MatchResult, bool) {
	if len(order.ConditionSelections) == 0 {
		return domain.MatchResult{}, false
	}

	creator := legIndex(legs)
	if len(creator) == 0 {
		return domain.MatchResult{}, false
	}

	if directMatch(order.ConditionSelections, creator) {
		return domain.MatchResult{Inverted: false}, true
	}

	if len(order.ConditionSelections) == 1 {
		sel := order.ConditionSelections[0]
		prediction, ok := creator[normalizeID(sel.ID)]
		if ok && prediction == sel.Outcome.IsYes() {
			return domain.MatchResult{Inverted: true}, true
		}
	}

	return domain.MatchResult{}, false
}

// directMatch is the all-legs-opposite conjunction.
func directMatch(selections []domain.ConditionSelection, creator map[string]bool) bool {
	for _, sel := range selections {
		prediction, ok := creator[normalizeID(sel.ID)]
		if !ok {
			return false
		}
		if prediction == sel.Outcome.IsYes() {
			return false
		}
	}
	return true
}

// legIndex maps lower-cased market id to the creator's prediction. A repeated
// market id keeps the last prediction seen.
func legIndex(legs []domain.PredictedLeg) map[string]bool {
	idx := make(map[string]bool, len(legs))
	for _, l := range legs {
		id := normalizeID(l.MarketID)
		if id == "" {
			continue
		}
		idx[id] = l.Prediction
	}
	return idx
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
