package remote

import (
	"context"

	"cartsync/internal/model"
)

// Mock implements Service for testing.
// Each method can be configured via function fields.
type Mock struct {
	FetchFunc          func(ctx context.Context, kind model.Kind) (model.Collection, error)
	AddItemFunc        func(ctx context.Context, kind model.Kind, req AddRequest) (model.Collection, error)
	UpdateQuantityFunc func(ctx context.Context, kind model.Kind, entryID string, key model.Key, quantity int) (model.Collection, error)
	RemoveItemFunc     func(ctx context.Context, kind model.Kind, entryID string, key model.Key) (model.Collection, error)
	ClearFunc          func(ctx context.Context, kind model.Kind) (model.Collection, error)
}

// Fetch calls the configured FetchFunc or returns an empty collection.
func (m *Mock) Fetch(ctx context.Context, kind model.Kind) (model.Collection, error) {
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, kind)
	}
	return model.Collection{Kind: kind}, nil
}

// AddItem calls the configured AddItemFunc or returns a server error.
func (m *Mock) AddItem(ctx context.Context, kind model.Kind, req AddRequest) (model.Collection, error) {
	if m.AddItemFunc != nil {
		return m.AddItemFunc(ctx, kind, req)
	}
	return model.Collection{}, model.NewServerError("")
}

// UpdateQuantity calls the configured UpdateQuantityFunc or returns not found.
func (m *Mock) UpdateQuantity(ctx context.Context, kind model.Kind, entryID string, key model.Key, quantity int) (model.Collection, error) {
	if m.UpdateQuantityFunc != nil {
		return m.UpdateQuantityFunc(ctx, kind, entryID, key, quantity)
	}
	return model.Collection{}, model.NewNotFoundError("entry")
}

// RemoveItem calls the configured RemoveItemFunc or returns not found.
func (m *Mock) RemoveItem(ctx context.Context, kind model.Kind, entryID string, key model.Key) (model.Collection, error) {
	if m.RemoveItemFunc != nil {
		return m.RemoveItemFunc(ctx, kind, entryID, key)
	}
	return model.Collection{}, model.NewNotFoundError("entry")
}

// Clear calls the configured ClearFunc or returns an empty collection.
func (m *Mock) Clear(ctx context.Context, kind model.Kind) (model.Collection, error) {
	if m.ClearFunc != nil {
		return m.ClearFunc(ctx, kind)
	}
	return model.Collection{Kind: kind}, nil
}

var _ Service = (*Mock)(nil)
