package handler

import (
	"log/slog"
	"net/http"
)

// EnvironmentControl flips the transport's visibility and network signals.
type EnvironmentControl interface {
	Visible() bool
	Online() bool
	SetVisible(v bool)
	SetOnline(v bool)
}

// EnvironmentHandler lets an operator pause, resume, or simulate network
// loss on the relayer connection.
type EnvironmentHandler struct {
	env    EnvironmentControl
	logger *slog.Logger
}

// NewEnvironmentHandler creates an EnvironmentHandler.
func NewEnvironmentHandler(env EnvironmentControl, logger *slog.Logger) *EnvironmentHandler {
	return &EnvironmentHandler{env: env, logger: logger}
}

// Pause hides the session: pending reconnects are deferred.
// POST /api/transport/pause
func (h *EnvironmentHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.env.SetVisible(false)
	h.respond(w, r, "pause")
}

// Resume makes the session visible again.
// POST /api/transport/resume
func (h *EnvironmentHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.env.SetVisible(true)
	h.respond(w, r, "resume")
}

// Offline drops the connection as if the network went away.
// POST /api/transport/offline
func (h *EnvironmentHandler) Offline(w http.ResponseWriter, r *http.Request) {
	h.env.SetOnline(false)
	h.respond(w, r, "offline")
}

// Online restores the network signal.
// POST /api/transport/online
func (h *EnvironmentHandler) Online(w http.ResponseWriter, r *http.Request) {
	h.env.SetOnline(true)
	h.respond(w, r, "online")
}

func (h *EnvironmentHandler) respond(w http.ResponseWriter, r *http.Request, action string) {
	h.logger.InfoContext(r.Context(), "transport environment changed", slog.String("action", action))
	writeJSON(w, http.StatusOK, map[string]bool{
		"visible": h.env.Visible(),
		"online":  h.env.Online(),
	})
}
