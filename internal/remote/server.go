package remote

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"cartsync/internal/identity"
	"cartsync/internal/model"
)

// Server exposes a Service over the same REST protocol Client speaks. cartsyncd
// mounts it in development so a Client can run against a Memory service.
type Server struct {
	svc    Service
	logger *slog.Logger
	mux    *http.ServeMux
}

// NewServer creates a protocol server for svc.
func NewServer(svc Service, logger *slog.Logger) *Server {
	s := &Server{svc: svc, logger: logger, mux: http.NewServeMux()}
	s.RegisterRoutes(s.mux)
	return s
}

// RegisterRoutes registers the collection API on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/{kind}", s.handleFetch)
	mux.HandleFunc("DELETE /api/{kind}", s.handleClear)
	mux.HandleFunc("POST /api/{kind}/items", s.handleAdd)
	mux.HandleFunc("PUT /api/{kind}/items/{entryId}", s.handleUpdate)
	mux.HandleFunc("DELETE /api/{kind}/items/{entryId}", s.handleRemove)
}

// ServeHTTP lets a Server be used directly as a handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.kind(w, r)
	if !ok {
		return
	}
	c, err := s.svc.Fetch(withCaller(r), kind)
	s.respond(w, c, err)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.kind(w, r)
	if !ok {
		return
	}
	c, err := s.svc.Clear(withCaller(r), kind)
	s.respond(w, c, err)
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.kind(w, r)
	if !ok {
		return
	}
	var req AddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "validation", "invalid JSON: "+err.Error())
		return
	}
	c, err := s.svc.AddItem(withCaller(r), kind, req)
	s.respond(w, c, err)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.kind(w, r)
	if !ok {
		return
	}
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "validation", "invalid JSON: "+err.Error())
		return
	}
	key := model.NewKey(req.ProductID, req.VariantKey)
	c, err := s.svc.UpdateQuantity(withCaller(r), kind, entryParam(r), key, req.Quantity)
	s.respond(w, c, err)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.kind(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	key := model.NewKey(q.Get("productId"), q.Get("variantKey"))
	c, err := s.svc.RemoveItem(withCaller(r), kind, entryParam(r), key)
	s.respond(w, c, err)
}

func (s *Server) kind(w http.ResponseWriter, r *http.Request) (model.Kind, bool) {
	kind := model.Kind(r.PathValue("kind"))
	if !kind.Valid() {
		s.writeError(w, http.StatusNotFound, "not_found", "unknown collection "+string(kind))
		return "", false
	}
	return kind, true
}

func entryParam(r *http.Request) string {
	id := r.PathValue("entryId")
	if id == "-" {
		return ""
	}
	return id
}

// withCaller attaches the identity sent by Client.
func withCaller(r *http.Request) context.Context {
	id := identity.Identity{
		UserID: r.Header.Get("X-User-ID"),
		Token:  strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "),
	}
	return identity.WithIdentity(r.Context(), id)
}

func (s *Server) respond(w http.ResponseWriter, c model.Collection, err error) {
	if err == nil {
		s.writeJSON(w, http.StatusOK, c)
		return
	}
	var me *model.Error
	if !errors.As(err, &me) {
		s.logger.Error("collection service error", slog.String("error", err.Error()))
		s.writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	switch me.Kind {
	case model.KindInvalidItem:
		s.writeError(w, http.StatusBadRequest, "validation", me.Message)
	case model.KindAvailability:
		s.writeError(w, http.StatusConflict, "availability_restriction", me.Message)
	case model.KindNotFound:
		s.writeError(w, http.StatusNotFound, "not_found", me.Message)
	case model.KindNetwork:
		s.writeError(w, http.StatusServiceUnavailable, "unavailable", me.Message)
	default:
		s.writeError(w, http.StatusInternalServerError, "server_error", me.Message)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, kind, message string) {
	var body errorResponse
	body.Error.Kind = kind
	body.Error.Message = message
	s.writeJSON(w, status, body)
}
