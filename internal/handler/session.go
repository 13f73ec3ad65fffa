package handler

import (
	"log/slog"
	"net/http"

	"cartsync/internal/identity"
	"cartsync/internal/model"
)

type sessionResponse struct {
	UserID      string           `json:"userId,omitempty"`
	Active      bool             `json:"active"`
	Collections []CollectionView `json:"collections"`
}

func (h *Handler) sessionResponse() sessionResponse {
	id := h.session.Current()
	resp := sessionResponse{UserID: id.UserID, Active: id.Present(), Collections: []CollectionView{}}
	for _, kind := range []model.Kind{model.KindCart, model.KindWishlist} {
		if c, ok := h.controllers[kind]; ok {
			resp.Collections = append(resp.Collections, h.view(c))
		}
	}
	return resp
}

// handleGetSession returns the current identity.
// GET /session
func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.sessionResponse())
}

// handlePutSession starts a session from the Storefront-Session header. The
// collections bootstrap against the remote service before this returns.
// PUT /session
func (h *Handler) handlePutSession(w http.ResponseWriter, r *http.Request) {
	id := identity.FromContext(r.Context())
	if !id.Present() {
		parsed, err := identity.ParseSessionHeader(r.Header.Get(identity.SessionHeader))
		if err != nil {
			h.writeError(w, r, model.NewInvalidItemError(identity.SessionHeader, err.Error()))
			return
		}
		id = parsed
	}

	h.logger.InfoContext(r.Context(), "session started", slog.String("user_id", id.UserID))
	h.session.Set(id)
	h.writeJSON(w, http.StatusOK, h.sessionResponse())
}

// handleDeleteSession ends the session; local collections are reset.
// DELETE /session
func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if prev := h.session.Current(); prev.Present() {
		h.logger.InfoContext(r.Context(), "session ended", slog.String("user_id", prev.UserID))
	}
	h.session.Clear()
	h.writeJSON(w, http.StatusOK, h.sessionResponse())
}
