package remote

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"cartsync/internal/identity"
	"cartsync/internal/model"
)

// Memory is an in-process collection service keyed by the user id found in
// the request context. It backs development mode and tests.
type Memory struct {
	mu    sync.Mutex
	data  map[string]map[model.Kind][]model.Item
	newID func() string

	// Hook, when set, runs before every operation; a non-nil error fails it.
	// op is one of "fetch", "add", "update", "remove", "clear".
	Hook func(ctx context.Context, op string, kind model.Kind) error
}

// NewMemory creates an empty in-process service.
func NewMemory() *Memory {
	return &Memory{
		data:  make(map[string]map[model.Kind][]model.Item),
		newID: uuid.NewString,
	}
}

// Seed replaces a user's collection.
func (m *Memory) Seed(userID string, kind model.Kind, items []model.Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]model.Item, len(items))
	copy(cp, items)
	for i := range cp {
		if cp[i].EntryID == "" || model.IsTemporaryID(cp[i].EntryID) {
			cp[i].EntryID = m.newID()
		}
		cp[i].Pending = false
	}
	m.userLocked(userID)[kind] = cp
}

// Items returns a copy of a user's collection.
func (m *Memory) Items(userID string, kind model.Kind) []model.Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.userLocked(userID)[kind]
	out := make([]model.Item, len(items))
	copy(out, items)
	return out
}

// Fetch implements Service.
func (m *Memory) Fetch(ctx context.Context, kind model.Kind) (model.Collection, error) {
	if err := m.hook(ctx, "fetch", kind); err != nil {
		return model.Collection{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked(ctx, kind), nil
}

// AddItem implements Service. An existing key gets its quantity increased and
// keeps its stored snapshot.
func (m *Memory) AddItem(ctx context.Context, kind model.Kind, req AddRequest) (model.Collection, error) {
	if err := m.hook(ctx, "add", kind); err != nil {
		return model.Collection{}, err
	}
	key := req.Key()
	if key.IsZero() || req.Quantity < 1 {
		return model.Collection{}, model.NewInvalidItemError("request", "productId and a positive quantity are required").WithKey(key)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	user := m.userLocked(identity.FromContext(ctx).UserID)
	items := user[kind]
	if i := indexOf(items, key, ""); i >= 0 {
		items[i].Quantity += req.Quantity
	} else {
		items = append(items, model.Item{
			EntryID:           m.newID(),
			ProductID:         key.ProductID,
			VariantKey:        key.VariantKey,
			Name:              req.Name,
			Image:             req.Image,
			Quantity:          req.Quantity,
			UnitPrice:         req.UnitPrice,
			OriginalUnitPrice: req.OriginalUnitPrice,
		})
	}
	user[kind] = items
	return m.snapshotLocked(ctx, kind), nil
}

// UpdateQuantity implements Service. A quantity of zero or less removes the entry.
func (m *Memory) UpdateQuantity(ctx context.Context, kind model.Kind, entryID string, key model.Key, quantity int) (model.Collection, error) {
	if err := m.hook(ctx, "update", kind); err != nil {
		return model.Collection{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	user := m.userLocked(identity.FromContext(ctx).UserID)
	items := user[kind]
	i := indexOf(items, key, entryID)
	if i < 0 {
		return model.Collection{}, model.NewNotFoundError("entry").WithKey(key)
	}
	if quantity <= 0 {
		user[kind] = append(items[:i:i], items[i+1:]...)
	} else {
		items[i].Quantity = quantity
	}
	return m.snapshotLocked(ctx, kind), nil
}

// RemoveItem implements Service.
func (m *Memory) RemoveItem(ctx context.Context, kind model.Kind, entryID string, key model.Key) (model.Collection, error) {
	if err := m.hook(ctx, "remove", kind); err != nil {
		return model.Collection{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	user := m.userLocked(identity.FromContext(ctx).UserID)
	items := user[kind]
	i := indexOf(items, key, entryID)
	if i < 0 {
		return model.Collection{}, model.NewNotFoundError("entry").WithKey(key)
	}
	user[kind] = append(items[:i:i], items[i+1:]...)
	return m.snapshotLocked(ctx, kind), nil
}

// Clear implements Service.
func (m *Memory) Clear(ctx context.Context, kind model.Kind) (model.Collection, error) {
	if err := m.hook(ctx, "clear", kind); err != nil {
		return model.Collection{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.userLocked(identity.FromContext(ctx).UserID), kind)
	return m.snapshotLocked(ctx, kind), nil
}

func (m *Memory) hook(ctx context.Context, op string, kind model.Kind) error {
	if err := ctx.Err(); err != nil {
		return model.NewNetworkError(serviceName, err)
	}
	if m.Hook != nil {
		return m.Hook(ctx, op, kind)
	}
	return nil
}

func (m *Memory) userLocked(userID string) map[model.Kind][]model.Item {
	u, ok := m.data[userID]
	if !ok {
		u = make(map[model.Kind][]model.Item)
		m.data[userID] = u
	}
	return u
}

func (m *Memory) snapshotLocked(ctx context.Context, kind model.Kind) model.Collection {
	items := m.userLocked(identity.FromContext(ctx).UserID)[kind]
	out := model.Collection{Kind: kind, Items: make([]model.Item, len(items))}
	copy(out.Items, items)
	return out
}

// indexOf finds an entry by server id, falling back to the identity key.
func indexOf(items []model.Item, key model.Key, entryID string) int {
	if entryID != "" && !model.IsTemporaryID(entryID) {
		for i, it := range items {
			if it.EntryID == entryID {
				return i
			}
		}
	}
	if key.IsZero() {
		return -1
	}
	for i, it := range items {
		if it.Key() == key {
			return i
		}
	}
	return -1
}

var _ Service = (*Memory)(nil)
