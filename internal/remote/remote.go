// Package remote talks to the authoritative Cart/Wishlist service.
package remote

import (
	"context"

	"github.com/shopspring/decimal"

	"cartsync/internal/model"
)

// AddRequest adds quantity units of a product variant with its display snapshot.
type AddRequest struct {
	ProductID         string          `json:"productId"`
	VariantKey        string          `json:"variantKey"`
	Quantity          int             `json:"quantity"`
	Name              string          `json:"name"`
	Image             string          `json:"image,omitempty"`
	UnitPrice         decimal.Decimal `json:"unitPrice"`
	OriginalUnitPrice decimal.Decimal `json:"originalUnitPrice"`
}

// Key returns the identity key of the requested item.
func (r AddRequest) Key() model.Key {
	return model.NewKey(r.ProductID, r.VariantKey)
}

// NewAddRequest builds an AddRequest for key from a price snapshot.
func NewAddRequest(key model.Key, quantity int, snap model.PriceSnapshot) AddRequest {
	return AddRequest{
		ProductID:         key.ProductID,
		VariantKey:        key.VariantKey,
		Quantity:          quantity,
		Name:              snap.Name,
		Image:             snap.Image,
		UnitPrice:         snap.UnitPrice,
		OriginalUnitPrice: snap.OriginalUnitPrice,
	}
}

// Service is the remote Cart/Wishlist API. Every call returns the full
// collection as the server sees it after the operation. Errors are *model.Error
// values classified by kind.
type Service interface {
	Fetch(ctx context.Context, kind model.Kind) (model.Collection, error)
	AddItem(ctx context.Context, kind model.Kind, req AddRequest) (model.Collection, error)
	UpdateQuantity(ctx context.Context, kind model.Kind, entryID string, key model.Key, quantity int) (model.Collection, error)
	RemoveItem(ctx context.Context, kind model.Kind, entryID string, key model.Key) (model.Collection, error)
	Clear(ctx context.Context, kind model.Kind) (model.Collection, error)
}
