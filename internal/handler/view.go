package handler

import (
	"errors"
	"time"

	"cartsync/internal/model"
	"cartsync/internal/syncer"
	"cartsync/internal/totals"
)

// CollectionView is the read model returned by every collection endpoint and
// MCP tool. Amounts are decimal strings with two places.
type CollectionView struct {
	Kind         string     `json:"kind"`
	State        string     `json:"state"`
	Remote       bool       `json:"remote"`
	Items        []ItemView `json:"items"`
	Totals       TotalsView `json:"totals"`
	Pending      bool       `json:"pending"`
	LastSyncedAt string     `json:"lastSyncedAt,omitempty"`
	LastError    *ErrorView `json:"lastError,omitempty"`
}

// ItemView is one line of a CollectionView.
type ItemView struct {
	EntryID           string `json:"entryId"`
	ProductID         string `json:"productId"`
	VariantKey        string `json:"variantKey,omitempty"`
	Name              string `json:"name"`
	Image             string `json:"image,omitempty"`
	Quantity          int    `json:"quantity"`
	UnitPrice         string `json:"unitPrice"`
	OriginalUnitPrice string `json:"originalUnitPrice"`
	LineTotal         string `json:"lineTotal"`
	Pending           bool   `json:"pending"`
	Syncing           bool   `json:"syncing"`
}

// TotalsView mirrors totals.Totals with string amounts.
type TotalsView struct {
	Subtotal  string `json:"subtotal"`
	Shipping  string `json:"shipping"`
	Tax       string `json:"tax"`
	Total     string `json:"total"`
	ItemCount int    `json:"itemCount"`
}

// view builds the read model of c from its store selectors.
func (h *Handler) view(c *syncer.Controller) CollectionView {
	s := c.Store()
	snap := s.Snapshot()
	t := totals.ForCollection(snap, h.pricing)

	v := CollectionView{
		Kind:   string(c.Kind()),
		State:  c.State().String(),
		Remote: c.RemoteEnabled(),
		Items:  make([]ItemView, 0, len(snap.Items)),
		Totals: TotalsView{
			Subtotal:  t.Subtotal.StringFixed(2),
			Shipping:  t.Shipping.StringFixed(2),
			Tax:       t.Tax.StringFixed(2),
			Total:     t.Total.StringFixed(2),
			ItemCount: t.ItemCount,
		},
		Pending: s.HasPending(),
	}
	for _, it := range snap.Items {
		v.Items = append(v.Items, ItemView{
			EntryID:           it.EntryID,
			ProductID:         it.ProductID,
			VariantKey:        it.VariantKey,
			Name:              it.Name,
			Image:             it.Image,
			Quantity:          it.Quantity,
			UnitPrice:         it.UnitPrice.StringFixed(2),
			OriginalUnitPrice: it.OriginalUnitPrice.StringFixed(2),
			LineTotal:         model.RoundHalfUp(it.LineTotal(), 2).StringFixed(2),
			Pending:           it.Pending,
			Syncing:           c.KeyState(it.Key()) == syncer.Syncing,
		})
	}
	if last := s.LastSyncedAt(); !last.IsZero() {
		v.LastSyncedAt = last.UTC().Format(time.RFC3339)
	}
	if err := s.LastError(); err != nil {
		var me *model.Error
		if errors.As(err, &me) {
			v.LastError = &ErrorView{Kind: string(me.Kind), Message: userMessage(me), Key: me.Key}
		}
	}
	return v
}
