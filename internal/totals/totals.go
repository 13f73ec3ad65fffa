// Package totals computes the price breakdown of a collection snapshot.
package totals

import (
	"github.com/shopspring/decimal"

	"cartsync/internal/model"
)

// Rules holds the storefront pricing rules applied on top of item prices.
type Rules struct {
	FreeShippingThreshold decimal.Decimal `json:"free_shipping_threshold" toml:"free_shipping_threshold"`
	FlatShippingFee       decimal.Decimal `json:"flat_shipping_fee" toml:"flat_shipping_fee"`
	TaxRate               decimal.Decimal `json:"tax_rate" toml:"tax_rate"` // fraction, 0.05 = 5%
}

// DefaultRules returns the storefront defaults: free shipping above 500,
// otherwise a flat fee of 50, and 5% tax.
func DefaultRules() Rules {
	return Rules{
		FreeShippingThreshold: decimal.NewFromInt(500),
		FlatShippingFee:       decimal.NewFromInt(50),
		TaxRate:               decimal.RequireFromString("0.05"),
	}
}

// Totals is the derived price breakdown of a collection.
type Totals struct {
	Subtotal  decimal.Decimal `json:"subtotal"`
	Shipping  decimal.Decimal `json:"shipping"`
	Tax       decimal.Decimal `json:"tax"`
	Total     decimal.Decimal `json:"total"`
	ItemCount int             `json:"itemCount"`
}

// Calculate derives totals from items. It is a pure function of its inputs.
//
// Each derived field is rounded half-up to 2 places exactly once, from
// unrounded inputs:
//   - subtotal = Σ(unitPrice × quantity)
//   - shipping = 0 when subtotal > threshold (exclusive), else the flat fee;
//     an empty collection ships nothing
//   - tax = round(subtotal × taxRate)
//   - total = round(subtotal + shipping + tax)
func Calculate(items []model.Item, rules Rules) Totals {
	subtotal := decimal.Zero
	count := 0
	for _, it := range items {
		subtotal = subtotal.Add(it.LineTotal())
		count += it.Quantity
	}

	shipping := decimal.Zero
	if count > 0 && !subtotal.GreaterThan(rules.FreeShippingThreshold) {
		shipping = rules.FlatShippingFee
	}

	tax := model.RoundHalfUp(subtotal.Mul(rules.TaxRate), 2)

	return Totals{
		Subtotal:  model.RoundHalfUp(subtotal, 2),
		Shipping:  model.RoundHalfUp(shipping, 2),
		Tax:       tax,
		Total:     model.RoundHalfUp(subtotal.Add(shipping).Add(tax), 2),
		ItemCount: count,
	}
}

// ForCollection is Calculate over a collection snapshot.
func ForCollection(c model.Collection, rules Rules) Totals {
	return Calculate(c.Items, rules)
}
