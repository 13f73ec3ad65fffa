// Package persist keeps a serialized copy of a collection in a local durable
// store. It owns no business logic beyond structural validation: entries that
// fail the item invariants are dropped on load instead of failing the load.
package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/mod/semver"

	"cartsync/internal/model"
)

// SchemaVersion is written into every stored envelope. A cache whose major
// version differs is treated as absent.
const SchemaVersion = "v1.0.0"

// ErrAbsent is returned by a Backend when no entry is stored under a key.
var ErrAbsent = errors.New("persist: entry absent")

// Backend is a raw key/value store for serialized collections.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Read returns the stored bytes, or ErrAbsent.
	Read(ctx context.Context, key string) ([]byte, error)

	// Write replaces the stored bytes.
	Write(ctx context.Context, key string, data []byte) error

	// Remove deletes the entry. Removing an absent entry is not an error.
	Remove(ctx context.Context, key string) error

	// Subscribe calls fn after the entry under key may have changed, including
	// changes made through this backend. The returned func cancels the subscription.
	Subscribe(key string, fn func()) (cancel func())

	// Close releases resources held by the backend.
	Close() error
}

// Report describes what Load found. It is meant for logs and diagnostics,
// never for end users.
type Report struct {
	Dropped      int  // entries removed by Validate
	Absent       bool // nothing stored
	Incompatible bool // stored data unreadable or from another schema major version
}

// envelope is the stored document.
type envelope struct {
	Schema       string            `json:"schema"`
	Kind         model.Kind        `json:"kind"`
	SavedAt      time.Time         `json:"savedAt"`
	LastSyncedAt time.Time         `json:"lastSyncedAt,omitzero"`
	Items        []json.RawMessage `json:"items"`
}

// Adapter reads and writes one collection through a Backend.
type Adapter struct {
	backend Backend
	key     string
	kind    model.Kind
	logger  *slog.Logger
	now     func() time.Time

	mu          sync.Mutex
	lastWritten []byte // bytes of our most recent write; nil after a remove
	wroteAny    bool
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithNamespace prefixes the storage key, e.g. with a storefront id.
func WithNamespace(ns string) Option {
	return func(a *Adapter) {
		if ns != "" {
			a.key = ns + "/" + a.key
		}
	}
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) { a.logger = logger }
}

// WithClock overrides time.Now for SavedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) { a.now = now }
}

// NewAdapter creates an adapter for the collection of the given kind.
func NewAdapter(backend Backend, kind model.Kind, opts ...Option) *Adapter {
	a := &Adapter{
		backend: backend,
		key:     "cartsync:" + string(kind),
		kind:    kind,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Key returns the backend key this adapter stores under.
func (a *Adapter) Key() string {
	return a.key
}

// Save writes the collection. An empty collection is stored as absence, not as
// an empty list, so "never initialized" and "emptied" stay distinguishable.
func (a *Adapter) Save(ctx context.Context, c model.Collection) error {
	if c.IsEmpty() {
		return a.Clear(ctx)
	}

	env := envelope{
		Schema:       SchemaVersion,
		Kind:         a.kind,
		SavedAt:      a.now().UTC(),
		LastSyncedAt: c.LastSyncedAt,
		Items:        make([]json.RawMessage, 0, len(c.Items)),
	}
	for _, it := range c.Items {
		it.Pending = false
		raw, err := json.Marshal(it)
		if err != nil {
			return fmt.Errorf("marshaling item %s: %w", it.Key(), err)
		}
		env.Items = append(env.Items, raw)
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshaling %s cache: %w", a.kind, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.backend.Write(ctx, a.key, data); err != nil {
		return fmt.Errorf("writing %s cache: %w", a.kind, err)
	}
	a.lastWritten = data
	a.wroteAny = true
	return nil
}

// Clear removes the stored entry.
func (a *Adapter) Clear(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.backend.Remove(ctx, a.key); err != nil {
		return fmt.Errorf("clearing %s cache: %w", a.kind, err)
	}
	a.lastWritten = nil
	a.wroteAny = true
	return nil
}

// Load reads and cleans the stored collection. Corrupted entries and unreadable
// documents never fail the load; they are counted in the Report instead.
// Only backend failures are returned as errors.
func (a *Adapter) Load(ctx context.Context) (model.Collection, Report, error) {
	data, err := a.backend.Read(ctx, a.key)
	if errors.Is(err, ErrAbsent) {
		return model.Collection{Kind: a.kind}, Report{Absent: true}, nil
	}
	if err != nil {
		return model.Collection{Kind: a.kind}, Report{}, fmt.Errorf("reading %s cache: %w", a.kind, err)
	}
	c, report := a.decode(data)
	if report.Dropped > 0 || report.Incompatible {
		a.logger.Warn("cache cleaned on load",
			slog.String("kind", string(a.kind)),
			slog.Int("dropped", report.Dropped),
			slog.Bool("incompatible", report.Incompatible),
		)
	}
	return c, report, nil
}

// decode parses either the current envelope or a bare legacy item array.
func (a *Adapter) decode(data []byte) (model.Collection, Report) {
	out := model.Collection{Kind: a.kind}
	trimmed := bytes.TrimSpace(data)

	if len(trimmed) > 0 && trimmed[0] == '[' {
		var raw []json.RawMessage
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return out, Report{Incompatible: true}
		}
		items, dropped := Validate(raw)
		out.Items = items
		return out, Report{Dropped: dropped}
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return out, Report{Incompatible: true}
	}
	if !compatible(env.Schema) || (env.Kind != "" && env.Kind != a.kind) {
		return out, Report{Incompatible: true}
	}

	items, dropped := Validate(env.Items)
	out.Items = items
	out.LastSyncedAt = env.LastSyncedAt
	return out, Report{Dropped: dropped}
}

func compatible(schema string) bool {
	return semver.IsValid(schema) && semver.Major(schema) == semver.Major(SchemaVersion)
}

// OnExternalChange calls fn with the freshly loaded collection whenever another
// writer (another tab, another process) changes the stored entry. Changes made
// through this adapter are not reported.
func (a *Adapter) OnExternalChange(fn func(model.Collection, Report)) (cancel func()) {
	return a.backend.Subscribe(a.key, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		data, err := a.backend.Read(ctx, a.key)
		absent := errors.Is(err, ErrAbsent)
		if err != nil && !absent {
			a.logger.Warn("reading cache after change notification",
				slog.String("kind", string(a.kind)),
				slog.String("error", err.Error()),
			)
			return
		}
		if a.isOwnState(data, absent) {
			return
		}

		if absent {
			fn(model.Collection{Kind: a.kind}, Report{Absent: true})
			return
		}
		c, report := a.decode(data)
		fn(c, report)
	})
}

// isOwnState reports whether the stored state is exactly what this adapter wrote last.
func (a *Adapter) isOwnState(data []byte, absent bool) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.wroteAny {
		return false
	}
	if absent {
		return a.lastWritten == nil
	}
	return a.lastWritten != nil && bytes.Equal(a.lastWritten, data)
}
