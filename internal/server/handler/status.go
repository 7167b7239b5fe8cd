package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/auctionrfq/internal/auction"
	"github.com/alanyoungcy/auctionrfq/internal/domain"
	"github.com/alanyoungcy/auctionrfq/internal/transport"
)

// TransportView is the read side of the relayer connection.
type TransportView interface {
	Stats() transport.Stats
}

// SessionView is the read side of the quote session.
type SessionView interface {
	Snapshot() auction.Snapshot
	BestBid(now time.Time) (*domain.QuoteBid, domain.BidStatus)
	Status(now time.Time) domain.QuoteStatus
}

// StatusHandler serves the run mode, connection and session state.
type StatusHandler struct {
	mode      string
	transport TransportView
	session   SessionView // nil when no quote session runs
	now       func() time.Time
}

// NewStatusHandler creates a StatusHandler. session may be nil.
func NewStatusHandler(mode string, tr TransportView, session SessionView) *StatusHandler {
	return &StatusHandler{mode: mode, transport: tr, session: session, now: time.Now}
}

// GetStatus responds with transport stats and, when quoting, the session
// summary.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"mode": h.mode}
	if h.transport != nil {
		body["transport"] = h.transport.Stats()
	}
	if h.session != nil {
		body["session"] = h.session.Status(h.now())
	}
	writeJSON(w, http.StatusOK, body)
}

type quotesResponse struct {
	AuctionID     string                `json:"auctionId"`
	AwaitingAck   bool                  `json:"awaitingAck"`
	Bids          []domain.QuoteBid     `json:"bids"`
	BestBid       *domain.QuoteBid      `json:"bestBid,omitempty"`
	BestBidStatus string                `json:"bestBidStatus"`
	LastSent      *domain.AuctionParams `json:"lastSent,omitempty"`
	UpdatedAt     time.Time             `json:"updatedAt"`
}

// GetQuotes responds with the current bid snapshot.
// GET /api/quotes
func (h *StatusHandler) GetQuotes(w http.ResponseWriter, r *http.Request) {
	if h.session == nil {
		writeError(w, http.StatusNotFound, "no quote session in mode "+h.mode)
		return
	}
	snap := h.session.Snapshot()
	best, status := h.session.BestBid(h.now())

	bids := snap.Bids
	if bids == nil {
		bids = []domain.QuoteBid{}
	}
	writeJSON(w, http.StatusOK, quotesResponse{
		AuctionID:     snap.AuctionID,
		AwaitingAck:   snap.AwaitingAck,
		Bids:          bids,
		BestBid:       best,
		BestBidStatus: status.String(),
		LastSent:      snap.LastSent,
		UpdatedAt:     snap.UpdatedAt,
	})
}
