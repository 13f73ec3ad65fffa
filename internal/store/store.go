// Package store holds the authoritative in-memory state of one collection.
//
// Every mutation is applied optimistically and synchronously, and returns a
// Mutation ticket. The caller later settles the ticket with Confirm (optionally
// carrying the server's snapshot) or Rollback. Settled state and in-flight
// state are kept apart: the settled view is what gets persisted, the visible
// view is what gets rendered.
package store

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"cartsync/internal/model"
)

// ErrPending is returned when a mutation targets a key (or, for Clear, any key)
// that still has an unsettled mutation. Callers serialize through a Gate.
var ErrPending = errors.New("store: mutation pending")

// maxQuantity bounds an item's quantity; larger values do not survive the cache.
const maxQuantity = math.MaxInt32

// Store is one cart or wishlist. The zero value is not usable; use New.
type Store struct {
	kind  model.Kind
	clock func() time.Time

	mu           sync.Mutex
	order        []model.Key
	confirmed    map[model.Key]model.Item
	pending      map[model.Key]Optimistic
	clearing     *Optimistic
	version      uint64
	// settled counts changes to confirmed state. A server snapshot taken
	// before the latest change is older than what the store already holds.
	settled      uint64
	lastErr      error
	lastSyncedAt time.Time

	// notifyMu is taken before mu is released so listeners observe settled
	// snapshots in mutation order.
	notifyMu     sync.Mutex
	listeners    map[int]func(model.Collection)
	nextListener int
	lastNotified *model.Collection
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now, used for temporary ids.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.clock = now }
}

// New creates an empty store for the given collection kind.
func New(kind model.Kind, opts ...Option) *Store {
	s := &Store{
		kind:      kind,
		clock:     time.Now,
		confirmed: make(map[model.Key]model.Item),
		pending:   make(map[model.Key]Optimistic),
		listeners: make(map[int]func(model.Collection)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Kind returns the collection kind.
func (s *Store) Kind() model.Kind {
	return s.kind
}

// Add inserts a new item or increments the quantity of an existing one.
// An existing item keeps its price snapshot.
func (s *Store) Add(productID, variant string, quantity int, snap model.PriceSnapshot) (*Mutation, error) {
	key := model.NewKey(productID, variant)
	if key.IsZero() {
		return nil, model.NewInvalidItemError("productId", "required")
	}
	if quantity < 1 {
		return nil, model.NewInvalidItemError("quantity", "must be at least 1").WithKey(key)
	}
	if quantity > maxQuantity {
		return nil, model.NewInvalidItemError("quantity", "too large").WithKey(key)
	}
	if err := snap.Validate(); err != nil {
		var me *model.Error
		if errors.As(err, &me) {
			return nil, me.WithKey(key)
		}
		return nil, err
	}

	s.mu.Lock()
	if err := s.checkFree(key); err != nil {
		s.mu.Unlock()
		return nil, err
	}

	var item model.Item
	base, exists := s.confirmed[key]
	if exists {
		if base.Quantity > maxQuantity-quantity {
			s.mu.Unlock()
			return nil, model.NewInvalidItemError("quantity", "too large").WithKey(key)
		}
		item = base
		item.Quantity += quantity
	} else {
		item = model.Item{
			EntryID:    model.NewTempID(s.clock()),
			ProductID:  key.ProductID,
			VariantKey: key.VariantKey,
			Quantity:   quantity,
		}.WithSnapshot(snap)
		s.order = append(s.order, key)
	}

	m := s.begin(OpAdd, key, &item, basePtr(base, exists))
	m.Delta = quantity
	s.mu.Unlock()
	return m, nil
}

// UpdateQuantity replaces the quantity of an existing item. A quantity of zero
// or less removes the item instead.
func (s *Store) UpdateQuantity(key model.Key, quantity int) (*Mutation, error) {
	if quantity <= 0 {
		return s.Remove(key)
	}
	if quantity > maxQuantity {
		return nil, model.NewInvalidItemError("quantity", "too large").WithKey(key)
	}

	s.mu.Lock()
	if err := s.checkFree(key); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	base, exists := s.confirmed[key]
	if !exists {
		s.mu.Unlock()
		return nil, model.NewNotFoundError("item " + key.String()).WithKey(key)
	}

	item := base
	item.Quantity = quantity
	m := s.begin(OpUpdate, key, &item, &base)
	s.mu.Unlock()
	return m, nil
}

// Remove deletes an item. Removing an absent item is a no-op ticket.
func (s *Store) Remove(key model.Key) (*Mutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkFree(key); err != nil {
		return nil, err
	}
	base, exists := s.confirmed[key]
	if !exists {
		return &Mutation{Op: OpRemove, Key: key, Noop: true}, nil
	}
	return s.begin(OpRemove, key, nil, &base), nil
}

// Clear empties the collection. It fails with ErrPending while any key is in flight.
func (s *Store) Clear() (*Mutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) > 0 || s.clearing != nil {
		return nil, ErrPending
	}

	s.version++
	s.clearing = &Optimistic{Op: OpClear, Version: s.version}
	return &Mutation{Op: OpClear, Version: s.version, Settled: s.settled, Bases: s.settledItemsLocked()}, nil
}

// KeyForEntry resolves an entry id (server or temporary) to its identity key.
func (s *Store) KeyForEntry(entryID string) (model.Key, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range s.order {
		if p, ok := s.pending[key]; ok && p.Item != nil && p.Item.EntryID == entryID {
			return key, true
		}
		if it, ok := s.confirmed[key]; ok && it.EntryID == entryID {
			return key, true
		}
	}
	return model.Key{}, false
}

// Commit settles a mutation that has no server to confirm it (local-only mode).
func (s *Store) Commit(m *Mutation) error {
	return s.Confirm(m, nil)
}

// Confirm settles m. With a server snapshot the store is reconciled against it;
// without one the optimistic value itself becomes confirmed. When settled
// state changed after m began, the snapshot may predate that change and only
// its entry for m's key is applied. A ticket that no longer matches the
// in-flight mutation for its key yields a SyncConflictError and changes nothing.
func (s *Store) Confirm(m *Mutation, server *model.Collection) error {
	if m == nil || m.Noop {
		if server != nil {
			s.Reconcile(*server)
		}
		return nil
	}

	s.mu.Lock()
	if !s.matchesLocked(m) {
		s.mu.Unlock()
		return model.NewSyncConflictError(m.Key)
	}

	if m.Op == OpClear {
		s.clearing = nil
		clear(s.confirmed)
		s.order = s.pendingOrderLocked()
	} else {
		p := s.pending[m.Key]
		delete(s.pending, m.Key)
		if p.Item != nil {
			it := *p.Item
			it.Pending = false
			s.confirmed[m.Key] = it
		} else {
			delete(s.confirmed, m.Key)
			s.dropKeyLocked(m.Key)
		}
	}

	switch {
	case server == nil:
	case s.settled == m.Settled:
		s.reconcileLocked(*server)
	case m.Op != OpClear:
		s.applyEntryLocked(m.Key, *server)
	}
	s.settled++
	s.unlockAndNotify()
	return nil
}

// Rollback discards m and restores the key's confirmed state (or absence).
// cause, when non-nil, becomes the store's last error. Rolling back a stale or
// already-settled ticket does nothing.
func (s *Store) Rollback(m *Mutation, cause error) {
	if m == nil || m.Noop {
		return
	}

	s.mu.Lock()
	if !s.matchesLocked(m) {
		s.mu.Unlock()
		return
	}
	if m.Op == OpClear {
		s.clearing = nil
	} else {
		delete(s.pending, m.Key)
		if _, ok := s.confirmed[m.Key]; !ok {
			s.dropKeyLocked(m.Key)
		}
	}
	if cause != nil {
		s.lastErr = cause
	}
	s.unlockAndNotify()
}

// Reconcile replaces all settled state with c. Keys with an in-flight mutation
// keep their optimistic value. Existing keys keep their position; keys new to
// the store are appended in c's order.
func (s *Store) Reconcile(c model.Collection) {
	s.mu.Lock()
	s.reconcileLocked(c)
	s.settled++
	s.unlockAndNotify()
}

// SettledVersion identifies the current settled state. Pass it to
// ReconcileSince to apply a snapshot fetched afterwards.
func (s *Store) SettledVersion() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settled
}

// ReconcileSince reconciles with c only if settled state is still at version.
// It reports whether c was applied.
func (s *Store) ReconcileSince(c model.Collection, version uint64) bool {
	s.mu.Lock()
	if s.settled != version {
		s.mu.Unlock()
		return false
	}
	s.reconcileLocked(c)
	s.settled++
	s.unlockAndNotify()
	return true
}

// applyEntryLocked takes only key's entry from c. Other keys keep their
// settled state.
func (s *Store) applyEntryLocked(key model.Key, c model.Collection) {
	for _, it := range c.Items {
		if it.Key() != key {
			continue
		}
		it.Pending = false
		if !s.hasKeyLocked(key) {
			s.order = append(s.order, key)
		}
		s.confirmed[key] = it
		return
	}
	delete(s.confirmed, key)
	if _, inFlight := s.pending[key]; !inFlight {
		s.dropKeyLocked(key)
	}
}

func (s *Store) hasKeyLocked(key model.Key) bool {
	for _, k := range s.order {
		if k == key {
			return true
		}
	}
	return false
}

func (s *Store) reconcileLocked(c model.Collection) {
	next := make(map[model.Key]model.Item, len(c.Items))
	var incoming []model.Key
	for _, it := range c.Items {
		key := it.Key()
		if _, dup := next[key]; dup {
			continue
		}
		it.Pending = false
		next[key] = it
		incoming = append(incoming, key)
	}

	order := make([]model.Key, 0, len(s.order)+len(incoming))
	known := make(map[model.Key]bool, len(s.order))
	for _, key := range s.order {
		_, inNext := next[key]
		_, inFlight := s.pending[key]
		if inNext || inFlight {
			order = append(order, key)
			known[key] = true
		}
	}
	for _, key := range incoming {
		if !known[key] {
			order = append(order, key)
		}
	}

	s.order = order
	s.confirmed = next
	if !c.LastSyncedAt.IsZero() {
		s.lastSyncedAt = c.LastSyncedAt
	}
}

// Reset drops everything, including in-flight mutations, whose tickets become stale.
func (s *Store) Reset() {
	s.mu.Lock()
	s.version++
	s.settled++
	s.order = nil
	s.confirmed = make(map[model.Key]model.Item)
	s.pending = make(map[model.Key]Optimistic)
	s.clearing = nil
	s.lastErr = nil
	s.lastSyncedAt = time.Time{}
	s.unlockAndNotify()
}

// MarkSynced records a successful full reconciliation with the server.
func (s *Store) MarkSynced(t time.Time) {
	s.mu.Lock()
	s.lastSyncedAt = t
	s.unlockAndNotify()
}

// SetError records err as the last error without touching items.
func (s *Store) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err
}

// Subscribe registers fn to receive the settled collection after every change
// to it. Calls are made in mutation order from the goroutine that made the
// change. fn must not mutate the store.
func (s *Store) Subscribe(fn func(model.Collection)) (cancel func()) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	return func() {
		s.notifyMu.Lock()
		defer s.notifyMu.Unlock()
		delete(s.listeners, id)
	}
}

// Items returns the visible items, optimistic values included and flagged Pending.
func (s *Store) Items() []model.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visibleItemsLocked()
}

// Snapshot returns the visible collection.
func (s *Store) Snapshot() model.Collection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.Collection{Kind: s.kind, Items: s.visibleItemsLocked(), LastSyncedAt: s.lastSyncedAt}
}

// Settled returns the collection without any in-flight mutation applied.
func (s *Store) Settled() model.Collection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settledLocked()
}

// TotalQuantity is the sum of visible quantities.
func (s *Store) TotalQuantity() int {
	return s.Snapshot().TotalQuantity()
}

// TotalAmount is the sum of visible line totals.
func (s *Store) TotalAmount() decimal.Decimal {
	return s.Snapshot().TotalAmount()
}

// IsPending reports whether key has an in-flight mutation.
func (s *Store) IsPending(key model.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[key]
	return ok || s.clearing != nil
}

// HasPending reports whether any mutation is in flight.
func (s *Store) HasPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) > 0 || s.clearing != nil
}

// Phase returns the lifecycle phase of key, or false if the key is unknown.
func (s *Store) Phase(key model.Key) (Phase, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pending[key]; ok {
		return p, true
	}
	if it, ok := s.confirmed[key]; ok {
		if s.clearing != nil {
			return *s.clearing, true
		}
		return Confirmed{Item: it}, true
	}
	return nil, false
}

// LastError returns the error of the most recent rolled-back mutation.
func (s *Store) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// LastSyncedAt returns the time of the last full reconciliation with the server.
func (s *Store) LastSyncedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSyncedAt
}

func (s *Store) checkFree(key model.Key) error {
	if _, ok := s.pending[key]; ok || s.clearing != nil {
		return ErrPending
	}
	return nil
}

func (s *Store) begin(op Op, key model.Key, item, base *model.Item) *Mutation {
	s.version++
	if item != nil {
		item.Pending = true
	}
	s.pending[key] = Optimistic{Op: op, Version: s.version, Item: item, Base: base}

	m := &Mutation{Op: op, Key: key, Version: s.version, Settled: s.settled, Base: base}
	if item != nil {
		cp := *item
		m.Item = &cp
	}
	return m
}

func (s *Store) matchesLocked(m *Mutation) bool {
	if m.Op == OpClear {
		return s.clearing != nil && s.clearing.Version == m.Version
	}
	p, ok := s.pending[m.Key]
	return ok && p.Version == m.Version
}

func (s *Store) dropKeyLocked(key model.Key) {
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			return
		}
	}
}

func (s *Store) pendingOrderLocked() []model.Key {
	var out []model.Key
	for _, key := range s.order {
		if _, ok := s.pending[key]; ok {
			out = append(out, key)
		}
	}
	return out
}

func (s *Store) visibleItemsLocked() []model.Item {
	if s.clearing != nil {
		return []model.Item{}
	}
	items := make([]model.Item, 0, len(s.order))
	for _, key := range s.order {
		if p, ok := s.pending[key]; ok {
			if p.Item != nil {
				items = append(items, *p.Item)
			}
			continue
		}
		if it, ok := s.confirmed[key]; ok {
			items = append(items, it)
		}
	}
	return items
}

func (s *Store) settledItemsLocked() []model.Item {
	items := make([]model.Item, 0, len(s.confirmed))
	for _, key := range s.order {
		if it, ok := s.confirmed[key]; ok {
			items = append(items, it)
		}
	}
	return items
}

func (s *Store) settledLocked() model.Collection {
	return model.Collection{Kind: s.kind, Items: s.settledItemsLocked(), LastSyncedAt: s.lastSyncedAt}
}

// unlockAndNotify releases mu and delivers the settled snapshot if it changed.
func (s *Store) unlockAndNotify() {
	settled := s.settledLocked()
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()

	if last := s.lastNotified; last != nil && last.Equal(settled) && last.LastSyncedAt.Equal(settled.LastSyncedAt) {
		return
	}
	s.lastNotified = &settled
	for _, fn := range s.listeners {
		fn(settled.Clone())
	}
}

func basePtr(it model.Item, ok bool) *model.Item {
	if !ok {
		return nil
	}
	return &it
}
