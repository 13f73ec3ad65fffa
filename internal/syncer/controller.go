// Package syncer orchestrates one collection: it bootstraps the store from the
// local cache and the remote service, routes every mutation through an
// optimistic apply / network call / confirm-or-rollback cycle, and keeps the
// cache current.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"cartsync/internal/catalog"
	"cartsync/internal/identity"
	"cartsync/internal/model"
	"cartsync/internal/persist"
	"cartsync/internal/reconcile"
	"cartsync/internal/remote"
	"cartsync/internal/store"
)

// State is the controller lifecycle state.
type State int32

const (
	Uninitialized State = iota
	Loading
	Ready
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// KeyState is the sub-state of one identity key while Ready.
type KeyState string

const (
	Idle    KeyState = "idle"
	Syncing KeyState = "syncing"
)

// bootstrapTimeout bounds a bootstrap triggered by an identity transition.
const bootstrapTimeout = 30 * time.Second

// Options configures a Controller. Store, Cache and Identity are required.
type Options struct {
	Store    *store.Store
	Cache    *persist.Adapter
	Writer   *persist.Writer // default: synchronous writer on Cache
	Remote   remote.Service  // nil = always local-only
	Identity *identity.Signal
	Catalog  catalog.Checker // default: catalog.AllowAll

	// CacheWindow skips a Refresh when the last full sync is younger than this.
	CacheWindow time.Duration

	Logger *slog.Logger
	Clock  func() time.Time
}

// Controller is the synchronization state machine of one collection.
type Controller struct {
	kind    model.Kind
	store   *store.Store
	cache   *persist.Adapter
	writer  *persist.Writer
	remote  remote.Service
	ident   *identity.Signal
	catalog catalog.Checker
	window  time.Duration
	logger  *slog.Logger
	now     func() time.Time

	gate    *store.Gate
	refresh singleflight.Group

	mu       sync.Mutex
	state    State
	ready    chan struct{}
	report   persist.Report
	syncing  map[model.Key]int
	clearing bool
	cancels  []func()
}

// New creates a controller. Call Start before issuing mutations.
func New(opts Options) (*Controller, error) {
	if opts.Store == nil || opts.Cache == nil || opts.Identity == nil {
		return nil, errors.New("syncer: store, cache and identity are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	writer := opts.Writer
	if writer == nil {
		writer = persist.NewWriter(opts.Cache, 0, logger)
	}
	checker := opts.Catalog
	if checker == nil {
		checker = catalog.AllowAll
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	kind := opts.Store.Kind()
	return &Controller{
		kind:    kind,
		store:   opts.Store,
		cache:   opts.Cache,
		writer:  writer,
		remote:  opts.Remote,
		ident:   opts.Identity,
		catalog: checker,
		window:  opts.CacheWindow,
		logger:  logger.With(slog.String("kind", string(kind))),
		now:     now,
		gate:    store.NewGate(),
		ready:   make(chan struct{}),
		syncing: make(map[model.Key]int),
	}, nil
}

// Start wires persistence, cross-tab notifications and identity transitions,
// then bootstraps. It returns once the controller is Ready.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Uninitialized {
		c.mu.Unlock()
		return errors.New("syncer: already started")
	}
	c.cancels = append(c.cancels,
		c.store.Subscribe(c.writer.Schedule),
		c.cache.OnExternalChange(c.onExternalChange),
		c.ident.Watch(c.onIdentityChange),
	)
	c.mu.Unlock()

	return c.bootstrap(ctx)
}

// Stop detaches the controller and flushes pending cache writes.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancels := c.cancels
	c.cancels = nil
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	return c.writer.Close(ctx)
}

// Kind returns the collection kind.
func (c *Controller) Kind() model.Kind {
	return c.kind
}

// Store returns the store the controller drives, for read selectors.
func (c *Controller) Store() *store.Store {
	return c.store
}

// State returns the lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// KeyState returns Syncing while a network request for key is in flight.
func (c *Controller) KeyState(key model.Key) KeyState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.syncing[key] > 0 || c.clearing {
		return Syncing
	}
	return Idle
}

// LoadReport returns what the last cache load found.
func (c *Controller) LoadReport() persist.Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.report
}

// RemoteEnabled reports whether mutations are sent to the remote service.
func (c *Controller) RemoteEnabled() bool {
	return c.remote != nil && c.ident.Current().Present()
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == s {
		return
	}
	c.logger.Debug("state change", slog.String("from", c.state.String()), slog.String("state", s.String()))
	c.state = s
	if s == Ready {
		select {
		case <-c.ready:
		default:
			close(c.ready)
		}
	}
}

// waitReady blocks mutations issued before the first bootstrap completes.
func (c *Controller) waitReady(ctx context.Context) error {
	c.mu.Lock()
	ready := c.ready
	c.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return model.NewNetworkError("sync controller", fmt.Errorf("not ready: %w", ctx.Err()))
	}
}

// bootstrap loads the cache and, with an identity, the remote collection in
// parallel, merges them and pushes the result where needed.
func (c *Controller) bootstrap(ctx context.Context) error {
	unlock, err := c.gate.LockAll(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap %s: %w", c.kind, err)
	}
	defer unlock()

	c.setState(Loading)
	if err := c.writer.Flush(ctx); err != nil {
		c.logger.Warn("flushing cache before load", slog.String("error", err.Error()))
	}
	id := c.ident.Current()
	online := c.remote != nil && id.Present()
	rctx := identity.WithIdentity(ctx, id)

	var (
		local     model.Collection
		report    persist.Report
		remoteC   model.Collection
		remoteErr error
	)
	var g errgroup.Group
	g.Go(func() error {
		var err error
		local, report, err = c.cache.Load(ctx)
		return err
	})
	if online {
		g.Go(func() error {
			remoteC, remoteErr = c.remote.Fetch(rctx, c.kind)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.logger.Error("cache load failed, starting empty", slog.String("error", err.Error()))
		local = model.Collection{Kind: c.kind}
	}

	c.mu.Lock()
	c.report = report
	c.mu.Unlock()

	switch {
	case !online:
		c.store.Reconcile(local)
	case remoteErr != nil:
		c.logger.Warn("remote fetch failed during bootstrap, keeping local state",
			slog.String("error", remoteErr.Error()))
		c.store.Reconcile(local)
	default:
		merged := reconcile.Merge(local, remoteC)
		merged.LastSyncedAt = c.now()
		c.store.Reconcile(merged)
		if reconcile.Changed(remoteC, merged) {
			if err := c.push(rctx, remoteC, merged); err != nil {
				c.logger.Warn("pushing merged collection failed",
					slog.String("error", err.Error()))
			}
		}
	}

	c.logger.Info("bootstrap complete",
		slog.Bool("remote", online && remoteErr == nil),
		slog.Int("items", len(c.store.Items())),
		slog.Int("dropped", report.Dropped),
	)
	c.setState(Ready)
	return nil
}

// push applies the diff between the remote collection and merged through
// per-item calls, then reconciles with the final server snapshot.
func (c *Controller) push(ctx context.Context, current, merged model.Collection) error {
	diff := reconcile.DiffItems(current.Items, merged.Items)
	last := current
	var err error

	for _, rm := range diff.ToRemove {
		next, err := c.remote.RemoveItem(ctx, c.kind, rm.EntryID, rm.Key)
		if errors.Is(err, model.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("removing %s: %w", rm.Key, err)
		}
		last = next
	}
	for _, up := range diff.ToUpdate {
		if last, err = c.remote.UpdateQuantity(ctx, c.kind, up.EntryID, up.Key, up.NewQuantity); err != nil {
			return fmt.Errorf("updating %s: %w", up.Key, err)
		}
	}
	for _, add := range diff.ToAdd {
		req := remote.NewAddRequest(add.Key, add.Item.Quantity, add.Item.Snapshot())
		if last, err = c.remote.AddItem(ctx, c.kind, req); err != nil {
			return fmt.Errorf("adding %s: %w", add.Key, err)
		}
	}

	last.LastSyncedAt = c.now()
	c.store.Reconcile(last)
	return nil
}

// Refresh re-fetches the remote collection and reconciles the store with it.
// Without force, a fetch is skipped while the last sync is within the cache
// window. Concurrent refreshes share one fetch.
func (c *Controller) Refresh(ctx context.Context, force bool) error {
	if err := c.waitReady(ctx); err != nil {
		return err
	}
	if !c.RemoteEnabled() {
		return nil
	}
	if !force && c.window > 0 {
		if last := c.store.LastSyncedAt(); !last.IsZero() && c.now().Sub(last) < c.window {
			return nil
		}
	}

	_, err, _ := c.refresh.Do("refresh", func() (interface{}, error) {
		since := c.store.SettledVersion()
		server, err := c.remote.Fetch(identity.WithIdentity(ctx, c.ident.Current()), c.kind)
		if err != nil {
			return nil, err
		}
		server.LastSyncedAt = c.now()
		if !c.store.ReconcileSince(server, since) {
			// a confirmation settled during the fetch and carried a newer snapshot
			c.logger.Debug("stale refresh discarded", slog.String("kind", string(c.kind)))
		}
		return nil, nil
	})
	return err
}

// Add adds quantity units of a product variant. The availability check runs
// before anything is applied; a denied add leaves no trace in the store.
func (c *Controller) Add(ctx context.Context, productID, variant string, quantity int, snap model.PriceSnapshot) error {
	key := model.NewKey(productID, variant)
	if err := validateAdd(key, quantity, &snap); err != nil {
		return err
	}
	if err := c.waitReady(ctx); err != nil {
		return err
	}
	unlock, err := c.gate.Lock(ctx, key)
	if err != nil {
		return model.NewNetworkError("sync controller", err).WithKey(key)
	}
	defer unlock()

	total := quantity
	if it, _, ok := c.store.Snapshot().Find(key); ok {
		total += it.Quantity
	}
	decision, err := c.catalog.Check(ctx, key, total)
	if err != nil {
		return model.NewNetworkError("catalog", err).WithKey(key)
	}
	if !decision.Allowed {
		return model.NewAvailabilityError(key, decision.Reason)
	}

	m, err := c.store.Add(productID, variant, quantity, snap)
	if err != nil {
		return err
	}
	return c.settle(ctx, m, func(rctx context.Context) (model.Collection, error) {
		return c.remote.AddItem(rctx, c.kind, remote.NewAddRequest(key, quantity, snap))
	})
}

// UpdateQuantity sets the quantity of the item with the given key. A quantity
// of zero or less removes it.
func (c *Controller) UpdateQuantity(ctx context.Context, key model.Key, quantity int) error {
	if err := c.waitReady(ctx); err != nil {
		return err
	}
	unlock, err := c.gate.Lock(ctx, key)
	if err != nil {
		return model.NewNetworkError("sync controller", err).WithKey(key)
	}
	defer unlock()

	m, err := c.store.UpdateQuantity(key, quantity)
	if err != nil {
		return err
	}
	return c.settle(ctx, m, c.itemCall(m, quantity))
}

// UpdateQuantityByEntry resolves entryID (server or temporary) and updates it.
func (c *Controller) UpdateQuantityByEntry(ctx context.Context, entryID string, quantity int) error {
	if err := c.waitReady(ctx); err != nil {
		return err
	}
	key, ok := c.store.KeyForEntry(entryID)
	if !ok {
		return model.NewNotFoundError("entry " + entryID)
	}
	return c.UpdateQuantity(ctx, key, quantity)
}

// Remove deletes the item with the given key. Removing an absent item succeeds.
func (c *Controller) Remove(ctx context.Context, key model.Key) error {
	if err := c.waitReady(ctx); err != nil {
		return err
	}
	unlock, err := c.gate.Lock(ctx, key)
	if err != nil {
		return model.NewNetworkError("sync controller", err).WithKey(key)
	}
	defer unlock()

	m, err := c.store.Remove(key)
	if err != nil {
		return err
	}
	return c.settle(ctx, m, c.itemCall(m, 0))
}

// Clear empties the collection once every in-flight mutation has settled.
func (c *Controller) Clear(ctx context.Context) error {
	if err := c.waitReady(ctx); err != nil {
		return err
	}
	unlock, err := c.gate.LockAll(ctx)
	if err != nil {
		return model.NewNetworkError("sync controller", err)
	}
	defer unlock()

	m, err := c.store.Clear()
	if err != nil {
		return err
	}
	return c.settle(ctx, m, func(rctx context.Context) (model.Collection, error) {
		return c.remote.Clear(rctx, c.kind)
	})
}

// itemCall picks the remote call for an update or remove ticket.
func (c *Controller) itemCall(m *store.Mutation, quantity int) func(context.Context) (model.Collection, error) {
	entryID := ""
	if m.Base != nil {
		entryID = m.Base.EntryID
	}
	if m.Op == store.OpRemove {
		return func(rctx context.Context) (model.Collection, error) {
			return c.remote.RemoveItem(rctx, c.kind, entryID, m.Key)
		}
	}
	return func(rctx context.Context) (model.Collection, error) {
		return c.remote.UpdateQuantity(rctx, c.kind, entryID, m.Key, quantity)
	}
}

// settle sends the remote call for m and confirms or rolls back. In local-only
// mode the ticket is committed without a call.
func (c *Controller) settle(ctx context.Context, m *store.Mutation, call func(context.Context) (model.Collection, error)) error {
	if m.Noop {
		return nil
	}
	log := c.logger.With(slog.String("op", string(m.Op)), slog.String("key", m.Key.String()))

	if !c.RemoteEnabled() {
		if err := c.store.Commit(m); err != nil {
			log.Warn("local commit superseded", slog.String("error", err.Error()))
		}
		return nil
	}

	c.markSyncing(m, 1)
	defer c.markSyncing(m, -1)

	server, err := call(identity.WithIdentity(ctx, c.ident.Current()))
	if err != nil {
		if m.Op == store.OpRemove && errors.Is(err, model.ErrNotFound) {
			// already gone on the server
			if cerr := c.store.Commit(m); cerr != nil {
				log.Debug("stale remove confirmation discarded", slog.String("error", cerr.Error()))
			}
			return nil
		}
		err = classify(err, m.Key)
		c.store.Rollback(m, err)
		log.Warn("mutation rolled back", slog.String("error", err.Error()))
		return err
	}

	server.LastSyncedAt = c.now()
	if err := c.store.Confirm(m, &server); err != nil {
		if errors.Is(err, model.ErrSyncConflict) {
			log.Debug("stale confirmation discarded", slog.String("error", err.Error()))
			return nil
		}
		return err
	}
	return nil
}

func (c *Controller) markSyncing(m *store.Mutation, delta int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m.Op == store.OpClear {
		c.clearing = delta > 0
		return
	}
	c.syncing[m.Key] += delta
	if c.syncing[m.Key] <= 0 {
		delete(c.syncing, m.Key)
	}
}

// onExternalChange adopts another tab's cache write as local truth.
func (c *Controller) onExternalChange(col model.Collection, report persist.Report) {
	if c.State() != Ready {
		return
	}
	c.logger.Info("collection changed in another session",
		slog.Int("items", len(col.Items)),
		slog.Int("dropped", report.Dropped),
	)
	c.store.Reconcile(col)
}

// onIdentityChange runs on the goroutine that changed the identity.
func (c *Controller) onIdentityChange(prev, next identity.Identity) {
	ctx, cancel := context.WithTimeout(context.Background(), bootstrapTimeout)
	defer cancel()

	if prev.Present() {
		if err := c.resetLocal(ctx); err != nil {
			c.logger.Error("logout reset failed", slog.String("error", err.Error()))
		}
	}
	if next.Present() && c.State() != Uninitialized {
		if err := c.bootstrap(ctx); err != nil {
			c.logger.Error("bootstrap after login failed", slog.String("error", err.Error()))
		}
	}
}

// resetLocal clears the store and the cache after the session ended.
func (c *Controller) resetLocal(ctx context.Context) error {
	unlock, err := c.gate.LockAll(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	c.store.Reset()
	if err := c.writer.Flush(ctx); err != nil {
		c.logger.Warn("flushing cache before reset", slog.String("error", err.Error()))
	}
	if err := c.cache.Clear(ctx); err != nil {
		return fmt.Errorf("clearing cache: %w", err)
	}
	c.logger.Info("session ended, collection reset")
	return nil
}

// validateAdd rejects malformed adds before the availability check.
func validateAdd(key model.Key, quantity int, snap *model.PriceSnapshot) error {
	if key.IsZero() {
		return model.NewInvalidItemError("productId", "required")
	}
	if quantity < 1 {
		return model.NewInvalidItemError("quantity", "must be at least 1").WithKey(key)
	}
	if err := snap.Validate(); err != nil {
		var me *model.Error
		if errors.As(err, &me) {
			return me.WithKey(key)
		}
		return err
	}
	return nil
}

// classify makes sure callers always receive a *model.Error carrying the key.
func classify(err error, key model.Key) error {
	var me *model.Error
	if errors.As(err, &me) {
		if me.Key == "" && !key.IsZero() {
			return me.WithKey(key)
		}
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return model.NewNetworkError("collection service", err).WithKey(key)
	}
	return model.NewServerError(err.Error()).WithKey(key)
}
