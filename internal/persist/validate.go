package persist

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"cartsync/internal/model"
)

// Validate cleans raw stored entries. Any entry failing the item invariants
// (missing product, non-numeric or negative price, non-positive or fractional
// quantity, duplicate identity key) is dropped; the number of dropped entries is
// returned alongside the surviving items in their original order.
func Validate(raw []json.RawMessage) ([]model.Item, int) {
	items := make([]model.Item, 0, len(raw))
	seen := make(map[model.Key]bool, len(raw))
	dropped := 0

	for _, entry := range raw {
		it, ok := cleanEntry(entry)
		if !ok || seen[it.Key()] {
			dropped++
			continue
		}
		seen[it.Key()] = true
		items = append(items, it)
	}
	return items, dropped
}

func cleanEntry(entry json.RawMessage) (model.Item, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(entry, &fields); err != nil || fields == nil {
		return model.Item{}, false
	}

	productID, ok := stringField(fields, "productId")
	if !ok || strings.TrimSpace(productID) == "" {
		return model.Item{}, false
	}

	qty, ok := quantityField(fields["quantity"])
	if !ok {
		return model.Item{}, false
	}

	// "price" is the field name used by caches written before unitPrice existed.
	priceRaw := fields["unitPrice"]
	if priceRaw == nil {
		priceRaw = fields["price"]
	}
	price, ok := amountField(priceRaw)
	if !ok {
		return model.Item{}, false
	}

	original := price
	if raw, present := fields["originalUnitPrice"]; present && !isNull(raw) {
		if original, ok = amountField(raw); !ok {
			return model.Item{}, false
		}
	}

	entryID, _ := stringField(fields, "entryId")
	variant, _ := stringField(fields, "variantKey")
	name, _ := stringField(fields, "name")
	image, _ := stringField(fields, "image")

	key := model.NewKey(productID, variant)
	return model.Item{
		EntryID:           entryID,
		ProductID:         key.ProductID,
		VariantKey:        key.VariantKey,
		Name:              name,
		Image:             image,
		Quantity:          qty,
		UnitPrice:         price,
		OriginalUnitPrice: original,
	}, true
}

// stringField accepts JSON strings and, for ids written by older clients, numbers.
func stringField(fields map[string]json.RawMessage, name string) (string, bool) {
	raw, ok := fields[name]
	if !ok || isNull(raw) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), true
	}
	return "", false
}

func quantityField(raw json.RawMessage) (int, bool) {
	if raw == nil || isNull(raw) {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	if f < 1 || f != math.Trunc(f) || f > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

// amountField accepts a JSON number or a numeric string.
func amountField(raw json.RawMessage) (decimal.Decimal, bool) {
	if raw == nil || isNull(raw) {
		return decimal.Zero, false
	}
	var d decimal.Decimal
	if err := d.UnmarshalJSON(raw); err != nil {
		return decimal.Zero, false
	}
	if d.IsNegative() {
		return decimal.Zero, false
	}
	return d, true
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
