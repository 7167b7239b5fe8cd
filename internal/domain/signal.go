package domain

import "time"

// BidDecision is emitted by the auto-bid loop when a resting order decides to
// answer an auction.
type BidDecision struct {
	ID             string      `json:"id"` // UUID for dedup
	OrderID        string      `json:"orderId"`
	AuctionID      string      `json:"auctionId"`
	Match          MatchResult `json:"match"`
	Maker          string      `json:"maker"`
	MakerWager     string      `json:"makerWager"`
	MakerDeadline  int64       `json:"makerDeadline"`
	MakerNonce     string      `json:"makerNonce"`
	MakerSignature string      `json:"makerSignature"`
	CreatedAt      time.Time   `json:"createdAt"`
}

// QuoteStatus is a point-in-time summary of the auction session, published
// for observers that are not in-process.
type QuoteStatus struct {
	AuctionID     string    `json:"auctionId"`
	AwaitingAck   bool      `json:"awaitingAck"`
	BidCount      int       `json:"bidCount"`
	BestBid       *QuoteBid `json:"bestBid,omitempty"`
	BestBidStatus string    `json:"bestBidStatus"`
	UpdatedAt     time.Time `json:"updatedAt"`
}
