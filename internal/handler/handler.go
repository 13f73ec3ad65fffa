// Package handler provides the HTTP and MCP surface of the cartsync daemon.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"cartsync/internal/identity"
	"cartsync/internal/model"
	"cartsync/internal/syncer"
	"cartsync/internal/totals"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	controllers map[model.Kind]*syncer.Controller
	session     *identity.Signal
	pricing     totals.Rules
	logger      *slog.Logger
}

// New creates a Handler serving the given collection controllers.
// session is the identity signal the controllers watch.
func New(session *identity.Signal, pricing totals.Rules, logger *slog.Logger, controllers ...*syncer.Controller) *Handler {
	byKind := make(map[model.Kind]*syncer.Controller, len(controllers))
	for _, c := range controllers {
		byKind[c.Kind()] = c
	}
	return &Handler{
		controllers: byKind,
		session:     session,
		pricing:     pricing,
		logger:      logger,
	}
}

// RegisterRoutes registers all HTTP routes with the given ServeMux.
// Uses Go 1.22+ method routing patterns.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /collections/{kind}", h.handleGetCollection)
	mux.HandleFunc("DELETE /collections/{kind}", h.handleClearCollection)
	mux.HandleFunc("POST /collections/{kind}/refresh", h.handleRefresh)
	mux.HandleFunc("POST /collections/{kind}/items", h.handleAddItem)
	mux.HandleFunc("PATCH /collections/{kind}/items/{entryId}", h.handleUpdateItem)
	mux.HandleFunc("DELETE /collections/{kind}/items/{entryId}", h.handleRemoveItem)

	mux.HandleFunc("GET /session", h.handleGetSession)
	mux.HandleFunc("PUT /session", h.handlePutSession)
	mux.HandleFunc("DELETE /session", h.handleDeleteSession)

	// MCP transport - JSON-RPC endpoint using official MCP SDK
	mux.Handle("/mcp", h.NewMCPHandler())

	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /healthz", h.handleHealth)
}

// controller resolves a collection kind from the path.
func (h *Handler) controller(kind string) (*syncer.Controller, error) {
	c, ok := h.controllers[model.Kind(kind)]
	if !ok {
		return nil, model.NewNotFoundError(fmt.Sprintf("collection %q", kind))
	}
	return c, nil
}

// handleHealth reports the lifecycle state of every collection.
// GET /health, GET /healthz
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Collections: make(map[string]string, len(h.controllers))}
	for kind, c := range h.controllers {
		state := c.State()
		resp.Collections[string(kind)] = state.String()
		if state != syncer.Ready {
			resp.Status = "starting"
		}
	}
	h.writeJSON(w, http.StatusOK, resp)
}

type healthResponse struct {
	Status      string            `json:"status"`
	Collections map[string]string `json:"collections"`
}

// === Response Helpers ===

// writeJSON sends a JSON response with the given status code.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeError sends an error response with the status and user-facing message
// for the error's kind. Uses errors.As() to unwrap error chains.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	view := h.errorView(err)
	status := statusFor(model.ErrorKind(view.Kind))
	if status >= http.StatusInternalServerError {
		h.logger.WarnContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	h.writeJSON(w, status, errorResponse{Error: view})
}

// errorResponse is the JSON structure for error responses.
type errorResponse struct {
	Error ErrorView `json:"error"`
}

// ErrorView is an error as shown to shoppers.
type ErrorView struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Key     string `json:"key,omitempty"`
}

// errorView maps an error to its kind and user-facing message. Errors that
// carry no kind are reported as internal without leaking details.
func (h *Handler) errorView(err error) ErrorView {
	var me *model.Error
	if !errors.As(err, &me) {
		h.logger.Error("internal error", slog.String("error", err.Error()))
		return ErrorView{Kind: "internal", Message: "Something went wrong. Please try again."}
	}
	return ErrorView{Kind: string(me.Kind), Message: userMessage(me), Key: me.Key}
}

// userMessage is the text shown for each error kind.
func userMessage(e *model.Error) string {
	switch e.Kind {
	case model.KindInvalidItem:
		return "Please check the item details and try again (" + e.Message + ")."
	case model.KindAvailability:
		return "This item is unavailable: " + e.Message + "."
	case model.KindNotFound:
		return "That item is no longer there (" + e.Message + ")."
	case model.KindNetwork:
		return "We could not reach the server. Your changes were undone; please try again."
	case model.KindSyncConflict:
		return "This item changed in the meantime. Please review it."
	case model.KindServer:
		return "The server could not save this change. Your changes were undone; please try again."
	default:
		return "Something went wrong. Please try again."
	}
}

func statusFor(kind model.ErrorKind) int {
	switch kind {
	case model.KindInvalidItem:
		return http.StatusBadRequest
	case model.KindAvailability, model.KindSyncConflict:
		return http.StatusConflict
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindNetwork:
		return http.StatusServiceUnavailable
	case model.KindServer:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// MaxRequestBodySize limits JSON request bodies to 1MB to prevent DoS.
const MaxRequestBodySize = 1 << 20 // 1MB

// decodeJSON reads JSON from request body into v.
// Limits body size to MaxRequestBodySize to prevent memory exhaustion.
// Returns an invalid-item error if decoding fails.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		// Don't expose internal error details to client
		return model.NewInvalidItemError("body", "invalid JSON")
	}
	return nil
}
