package domain

import (
	"time"
)

// AuctionParams is an outbound auction request. It is built by the caller once
// per wager change and never mutated after it has been sent.
//
// Collateral and nonce values are decimal integer strings so amounts beyond
// 2^53 survive the JSON boundary intact.
type AuctionParams struct {
	Wager             string   `json:"wager" validate:"required,number"`
	Resolver          string   `json:"resolver" validate:"required,eth_addr"`
	PredictedOutcomes []string `json:"predictedOutcomes" validate:"required,min=1,dive,hexadecimal"`
	Taker             string   `json:"taker" validate:"required,eth_addr"`
	TakerNonce        string   `json:"takerNonce" validate:"required,number"`
	ChainID           int64    `json:"chainId" validate:"required,gt=0"`
	TakerSignature    string   `json:"takerSignature,omitempty"`
	TakerSignedAt     string   `json:"takerSignedAt,omitempty"`
}

// QuoteBid is one competing offer for an auction. Bids are ephemeral: every
// auction.bids message replaces the full set.
type QuoteBid struct {
	AuctionID      string `json:"auctionId"`
	Maker          string `json:"maker"`
	MakerWager     string `json:"makerWager"`
	MakerDeadline  int64  `json:"makerDeadline"` // unix seconds
	MakerSignature string `json:"makerSignature"`
	MakerNonce     string `json:"makerNonce"`
}

// Expired reports whether the bid deadline has passed at now.
func (b QuoteBid) Expired(now time.Time) bool {
	return now.UnixMilli() >= b.MakerDeadline*1000
}

// PredictedLeg is one decoded auction leg. Prediction is the auction
// creator's stated side, never the bidder's.
type PredictedLeg struct {
	MarketID   string `json:"marketId"`
	Prediction bool   `json:"prediction"`
}

// MatchResult describes a positive match between a resting order and an
// auction. Inverted is set when the order's side equals the creator's
// prediction (single-leg fallback only).
type MatchResult struct {
	Inverted bool `json:"inverted"`
}

// BidStatus distinguishes "nothing received yet" from "everything expired".
type BidStatus int

const (
	BidStatusNone BidStatus = iota
	BidStatusExpired
	BidStatusAvailable
)

// String implements fmt.Stringer.
func (s BidStatus) String() string {
	switch s {
	case BidStatusExpired:
		return "expired"
	case BidStatusAvailable:
		return "available"
	default:
		return "none"
	}
}

// AuctionAnnouncement is a newly started auction as seen by bidders.
type AuctionAnnouncement struct {
	AuctionID         string
	Wager             string
	Resolver          string
	PredictedOutcomes []string
	Taker             string
	TakerNonce        string
	ChainID           int64
	ReceivedAt        time.Time
}
