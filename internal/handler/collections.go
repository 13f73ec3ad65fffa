package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"cartsync/internal/model"
)

// addItemRequest is the body of POST /collections/{kind}/items.
type addItemRequest struct {
	ProductID         string `json:"productId"`
	VariantKey        string `json:"variantKey"`
	Quantity          int    `json:"quantity"`
	Name              string `json:"name"`
	Image             string `json:"image"`
	UnitPrice         string `json:"unitPrice"`
	OriginalUnitPrice string `json:"originalUnitPrice"`
}

// snapshot validates the price strings and builds the display snapshot.
func (req addItemRequest) snapshot() (model.PriceSnapshot, error) {
	unit, ok := model.ParseAmount(req.UnitPrice)
	if !ok {
		return model.PriceSnapshot{}, model.NewInvalidItemError("unitPrice", "must be a decimal amount")
	}
	snap := model.PriceSnapshot{Name: req.Name, Image: req.Image, UnitPrice: unit}
	if req.OriginalUnitPrice != "" {
		orig, ok := model.ParseAmount(req.OriginalUnitPrice)
		if !ok {
			return model.PriceSnapshot{}, model.NewInvalidItemError("originalUnitPrice", "must be a decimal amount")
		}
		snap.OriginalUnitPrice = orig
	}
	return snap, nil
}

type updateItemRequest struct {
	Quantity *int `json:"quantity"`
}

// handleGetCollection returns the current view of a collection.
// GET /collections/{kind}
func (h *Handler) handleGetCollection(w http.ResponseWriter, r *http.Request) {
	c, err := h.controller(r.PathValue("kind"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.view(c))
}

// handleAddItem adds units of a product variant.
// POST /collections/{kind}/items
func (h *Handler) handleAddItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, err := h.controller(r.PathValue("kind"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req addItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	snap, err := req.snapshot()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "adding item",
		slog.String("kind", string(c.Kind())),
		slog.String("key", model.NewKey(req.ProductID, req.VariantKey).String()),
		slog.Int("quantity", req.Quantity),
	)

	if err := c.Add(ctx, req.ProductID, req.VariantKey, req.Quantity, snap); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, h.view(c))
}

// handleUpdateItem sets the quantity of an entry. Zero removes it.
// PATCH /collections/{kind}/items/{entryId}
func (h *Handler) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, err := h.controller(r.PathValue("kind"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req updateItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Quantity == nil {
		h.writeError(w, r, model.NewInvalidItemError("quantity", "required"))
		return
	}

	if err := c.UpdateQuantityByEntry(ctx, r.PathValue("entryId"), *req.Quantity); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.view(c))
}

// handleRemoveItem removes an entry. An entry id of "-" addresses the item by
// the productId and variantKey query parameters. Removing an absent item succeeds.
// DELETE /collections/{kind}/items/{entryId}
func (h *Handler) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, err := h.controller(r.PathValue("kind"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var key model.Key
	if entryID := r.PathValue("entryId"); entryID == "-" {
		key = model.NewKey(r.URL.Query().Get("productId"), r.URL.Query().Get("variantKey"))
		if key.IsZero() {
			h.writeError(w, r, model.NewInvalidItemError("productId", "required"))
			return
		}
	} else if k, ok := c.Store().KeyForEntry(entryID); ok {
		key = k
	} else {
		h.writeJSON(w, http.StatusOK, h.view(c))
		return
	}

	if err := c.Remove(ctx, key); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.view(c))
}

// handleClearCollection empties a collection.
// DELETE /collections/{kind}
func (h *Handler) handleClearCollection(w http.ResponseWriter, r *http.Request) {
	c, err := h.controller(r.PathValue("kind"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := c.Clear(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.view(c))
}

// handleRefresh re-fetches the remote collection.
// POST /collections/{kind}/refresh?force=true
func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	c, err := h.controller(r.PathValue("kind"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	if err := c.Refresh(r.Context(), force); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.view(c))
}
