package autobid

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/auctionrfq/internal/domain"
)

// ErrUnpriceable is returned when no positive maker wager can be derived.
var ErrUnpriceable = errors.New("autobid: unpriceable")

var hundred = decimal.NewFromInt(100)

// MakerWager derives the maker's stake from the taker's wager and the
// order's odds (the maker's implied probability, in percent):
//
//	maker = floor(taker * odds / (100 - odds))
//
// The result is capped by maxWager when it is non-nil. Odds at or beyond
// either end of the range cannot be priced.
func MakerWager(takerWager string, odds int, maxWager *big.Int) (*big.Int, error) {
	odds = domain.ClampOdds(odds)
	if odds <= 0 || odds >= 100 {
		return nil, fmt.Errorf("%w: odds %d", ErrUnpriceable, odds)
	}

	taker, err := decimal.NewFromString(takerWager)
	if err != nil {
		return nil, fmt.Errorf("%w: taker wager %q: %v", ErrUnpriceable, takerWager, err)
	}
	if !taker.IsPositive() || !taker.Equal(taker.Truncate(0)) {
		return nil, fmt.Errorf("%w: taker wager %q", ErrUnpriceable, takerWager)
	}

	p := decimal.NewFromInt(int64(odds))
	maker := taker.Mul(p).Div(hundred.Sub(p)).Floor().BigInt()

	if maxWager != nil && maker.Cmp(maxWager) > 0 {
		maker = new(big.Int).Set(maxWager)
	}
	if maker.Sign() <= 0 {
		return nil, fmt.Errorf("%w: maker wager %s", ErrUnpriceable, maker)
	}
	return maker, nil
}
