// Package identity carries the "current user" signal consumed by the sync
// controller. The identity is opaque: the engine only cares whether a
// remote-backed session exists and forwards its credentials to the remote service.
package identity

import (
	"context"
	"sync"
)

// Identity is the current storefront session. The zero value means anonymous.
type Identity struct {
	UserID string `json:"userId,omitempty"`
	Token  string `json:"-"`
}

// Present reports whether a remote-backed session exists.
func (id Identity) Present() bool {
	return id.UserID != ""
}

// contextKey is the type for context values to avoid collisions
type contextKey string

const identityContextKey contextKey = "cartsync.identity"

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

// FromContext returns the identity stored in ctx, or the anonymous identity.
func FromContext(ctx context.Context) Identity {
	id, _ := ctx.Value(identityContextKey).(Identity)
	return id
}

// Signal holds the current identity and notifies watchers on transitions.
// It is safe for concurrent use.
type Signal struct {
	mu       sync.Mutex
	current  Identity
	watchers map[int]func(prev, next Identity)
	nextID   int
}

// NewSignal creates a signal starting at initial.
func NewSignal(initial Identity) *Signal {
	return &Signal{current: initial, watchers: make(map[int]func(prev, next Identity))}
}

// Current returns the current identity.
func (s *Signal) Current() Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Set replaces the identity. Watchers run synchronously, only when the identity
// actually changed.
func (s *Signal) Set(id Identity) {
	s.mu.Lock()
	prev := s.current
	if prev == id {
		s.mu.Unlock()
		return
	}
	s.current = id
	fns := make([]func(prev, next Identity), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(prev, id)
	}
}

// Clear ends the session.
func (s *Signal) Clear() {
	s.Set(Identity{})
}

// Watch registers fn for identity transitions.
func (s *Signal) Watch(fn func(prev, next Identity)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.watchers, id)
	}
}
