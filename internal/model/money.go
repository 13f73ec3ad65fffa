package model

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount converts a decimal string amount in major units to a Decimal.
// Shared by the persisted cache cleaner and the remote client for consistent money handling.
// Empty or non-numeric strings report ok=false instead of silently becoming zero.
// Examples: "99.00" → 99, "1234.5" → 1234.5, "abc" → (0, false)
func ParseAmount(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// RoundHalfUp rounds d to the given number of decimal places, halves away from zero.
// All amounts handled here are non-negative, so this is plain round-half-up.
func RoundHalfUp(d decimal.Decimal, places int32) decimal.Decimal {
	return d.Round(places)
}
