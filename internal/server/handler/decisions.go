package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/auctionrfq/internal/domain"
)

// DecisionHandler serves recorded auto-bid decisions.
type DecisionHandler struct {
	store  domain.DecisionStore
	logger *slog.Logger
}

// NewDecisionHandler creates a DecisionHandler.
func NewDecisionHandler(store domain.DecisionStore, logger *slog.Logger) *DecisionHandler {
	return &DecisionHandler{store: store, logger: logger}
}

// ListRecent returns the newest decisions.
// GET /api/decisions?limit=N
func (h *DecisionHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	decisions, err := h.store.ListRecent(r.Context(), parseLimit(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list decisions failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list decisions")
		return
	}
	if decisions == nil {
		decisions = []domain.BidDecision{}
	}
	writeJSON(w, http.StatusOK, decisions)
}
