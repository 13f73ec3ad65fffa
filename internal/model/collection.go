// Package model defines the collection data structures shared by the store,
// the persistence layer and the remote service client.
package model

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

// Kind names a collection.
type Kind string

const (
	KindCart     Kind = "cart"
	KindWishlist Kind = "wishlist"
)

// Valid reports whether k is a known collection kind.
func (k Kind) Valid() bool {
	return k == KindCart || k == KindWishlist
}

// TempIDPrefix marks entry ids generated on the client before server confirmation.
const TempIDPrefix = "temp_"

// NewTempID returns a temporary entry id for an optimistic item.
func NewTempID(now time.Time) string {
	return TempIDPrefix + strconv.FormatInt(now.UnixNano(), 10)
}

// IsTemporaryID reports whether id was generated by NewTempID.
func IsTemporaryID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// Key is the identity of a collection entry: a product plus its normalized variant.
// The server-assigned entry id is never used for identity since optimistic
// entries do not have one yet.
type Key struct {
	ProductID  string
	VariantKey string
}

// NewKey builds a Key, normalizing the variant so "500 G" and "500g" match.
func NewKey(productID, variant string) Key {
	return Key{
		ProductID:  strings.TrimSpace(productID),
		VariantKey: NormalizeVariant(variant),
	}
}

// NormalizeVariant lower-cases a variant and strips all whitespace.
func NormalizeVariant(variant string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(variant) {
		if !unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// String returns productID alone without a variant, productID:variant otherwise.
func (k Key) String() string {
	if k.VariantKey == "" {
		return k.ProductID
	}
	return k.ProductID + ":" + k.VariantKey
}

// IsZero reports whether the key has no product.
func (k Key) IsZero() bool {
	return k.ProductID == ""
}

// Item is one entry of a cart or wishlist.
// Name, Image and prices are a display snapshot taken when the item was added.
type Item struct {
	EntryID           string          `json:"entryId"`
	ProductID         string          `json:"productId"`
	VariantKey        string          `json:"variantKey"`
	Name              string          `json:"name"`
	Image             string          `json:"image,omitempty"`
	Quantity          int             `json:"quantity"`
	UnitPrice         decimal.Decimal `json:"unitPrice"`
	OriginalUnitPrice decimal.Decimal `json:"originalUnitPrice"`
	Pending           bool            `json:"pending,omitempty"`
}

// Key returns the identity key of the item.
func (i Item) Key() Key {
	return NewKey(i.ProductID, i.VariantKey)
}

// LineTotal returns unit price times quantity.
func (i Item) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Snapshot returns the display snapshot of the item.
func (i Item) Snapshot() PriceSnapshot {
	return PriceSnapshot{
		Name:              i.Name,
		Image:             i.Image,
		UnitPrice:         i.UnitPrice,
		OriginalUnitPrice: i.OriginalUnitPrice,
	}
}

// WithSnapshot returns a copy of i carrying snap's display fields.
func (i Item) WithSnapshot(snap PriceSnapshot) Item {
	i.Name = snap.Name
	i.Image = snap.Image
	i.UnitPrice = snap.UnitPrice
	i.OriginalUnitPrice = snap.OriginalUnitPrice
	return i
}

// Equal compares items structurally. Decimal fields compare by value.
func (i Item) Equal(o Item) bool {
	return i.EntryID == o.EntryID &&
		i.ProductID == o.ProductID &&
		i.VariantKey == o.VariantKey &&
		i.Name == o.Name &&
		i.Image == o.Image &&
		i.Quantity == o.Quantity &&
		i.UnitPrice.Equal(o.UnitPrice) &&
		i.OriginalUnitPrice.Equal(o.OriginalUnitPrice) &&
		i.Pending == o.Pending
}

// PriceSnapshot is the denormalized catalog data captured on add.
type PriceSnapshot struct {
	Name              string          `json:"name"`
	Image             string          `json:"image,omitempty"`
	UnitPrice         decimal.Decimal `json:"unitPrice"`
	OriginalUnitPrice decimal.Decimal `json:"originalUnitPrice"`
}

// Validate checks the snapshot and fills OriginalUnitPrice from UnitPrice when unset.
func (p *PriceSnapshot) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return NewInvalidItemError("name", "required")
	}
	if p.UnitPrice.IsNegative() {
		return NewInvalidItemError("unitPrice", "must not be negative")
	}
	if p.OriginalUnitPrice.IsNegative() {
		return NewInvalidItemError("originalUnitPrice", "must not be negative")
	}
	if p.OriginalUnitPrice.IsZero() {
		p.OriginalUnitPrice = p.UnitPrice
	}
	return nil
}

// Collection is an ordered set of items unique by identity key.
type Collection struct {
	Kind         Kind      `json:"kind"`
	Items        []Item    `json:"items"`
	LastSyncedAt time.Time `json:"lastSyncedAt,omitzero"`
}

// TotalQuantity is the sum of item quantities.
func (c Collection) TotalQuantity() int {
	total := 0
	for _, it := range c.Items {
		total += it.Quantity
	}
	return total
}

// TotalAmount is the sum of unit price times quantity, recomputed on every call.
func (c Collection) TotalAmount() decimal.Decimal {
	total := decimal.Zero
	for _, it := range c.Items {
		total = total.Add(it.LineTotal())
	}
	return total
}

// IsEmpty reports whether the collection holds no items.
func (c Collection) IsEmpty() bool {
	return len(c.Items) == 0
}

// Find returns the item with the given key and its index.
func (c Collection) Find(key Key) (Item, int, bool) {
	for i, it := range c.Items {
		if it.Key() == key {
			return it, i, true
		}
	}
	return Item{}, -1, false
}

// Clone returns a deep copy of the collection.
func (c Collection) Clone() Collection {
	out := c
	if c.Items != nil {
		out.Items = make([]Item, len(c.Items))
		copy(out.Items, c.Items)
	}
	return out
}

// Equal compares kind and items in order. LastSyncedAt is bookkeeping and ignored.
func (c Collection) Equal(o Collection) bool {
	if c.Kind != o.Kind || len(c.Items) != len(o.Items) {
		return false
	}
	for i := range c.Items {
		if !c.Items[i].Equal(o.Items[i]) {
			return false
		}
	}
	return true
}
