package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/codehound/reviewhub/internal/auth"
	"github.com/codehound/reviewhub/internal/core"
	"github.com/codehound/reviewhub/internal/hub"
)

// WSHandler authenticates websocket subscriptions and attaches them to the
// fan-out hub. Authentication happens at handshake time via a token query
// parameter; the browser websocket API cannot set headers.
type WSHandler struct {
	hub    *hub.Hub
	tokens *auth.TokenManager
	logger *slog.Logger
}

// NewWSHandler wires the websocket endpoints.
func NewWSHandler(h *hub.Hub, tokens *auth.TokenManager, logger *slog.Logger) *WSHandler {
	return &WSHandler{hub: h, tokens: tokens, logger: logger}
}

// Review subscribes the caller to a review's update stream.
func (h *WSHandler) Review(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	reviewID, err := strconv.ParseInt(chi.URLParam(r, "reviewID"), 10, 64)
	if err != nil {
		h.hub.Refuse(w, r, "invalid review id")
		return
	}

	if err := h.hub.Attach(w, r, core.ReviewGroup(reviewID), *identity); err != nil {
		h.logger.Error("websocket attach failed", "group", core.ReviewGroup(reviewID), "error", err)
	}
}

// User subscribes the caller to their personal notification stream. The path
// id must match the authenticated identity.
func (h *WSHandler) User(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID != identity.UserID {
		h.hub.Refuse(w, r, "forbidden")
		return
	}

	if err := h.hub.Attach(w, r, core.UserGroup(userID), *identity); err != nil {
		h.logger.Error("websocket attach failed", "group", core.UserGroup(userID), "error", err)
	}
}

// authenticate verifies the handshake token. Refusal completes the upgrade
// first so the client receives a proper close frame with code 4003.
func (h *WSHandler) authenticate(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	identity, err := h.tokens.Verify(r.URL.Query().Get("token"))
	if err != nil {
		h.logger.Debug("websocket handshake rejected", "error", err)
		h.hub.Refuse(w, r, "authentication failed")
		return nil, false
	}
	return identity, true
}
