// Package catalog answers whether a product variant may be added right now.
package catalog

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"cartsync/internal/model"
)

// Decision is the answer of an availability check.
type Decision struct {
	Allowed bool
	Reason  string // human-readable, set when not allowed
}

// Checker decides whether quantity units of key may be added.
type Checker interface {
	Check(ctx context.Context, key model.Key, quantity int) (Decision, error)
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context, key model.Key, quantity int) (Decision, error)

// Check implements Checker.
func (f CheckerFunc) Check(ctx context.Context, key model.Key, quantity int) (Decision, error) {
	return f(ctx, key, quantity)
}

// AllowAll permits everything.
var AllowAll Checker = CheckerFunc(func(context.Context, model.Key, int) (Decision, error) {
	return Decision{Allowed: true}, nil
})

// Window is a daily time-of-day range, in minutes since midnight. A window
// whose end is before its start wraps past midnight (e.g. 22:00-02:00).
type Window struct {
	Start int
	End   int
}

// ParseWindow parses "HH:MM-HH:MM".
func ParseWindow(s string) (Window, error) {
	from, to, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return Window{}, fmt.Errorf("invalid window %q: want HH:MM-HH:MM", s)
	}
	start, err := parseClock(from)
	if err != nil {
		return Window{}, fmt.Errorf("invalid window %q: %w", s, err)
	}
	end, err := parseClock(to)
	if err != nil {
		return Window{}, fmt.Errorf("invalid window %q: %w", s, err)
	}
	return Window{Start: start, End: end}, nil
}

func parseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 24 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// Contains reports whether t's local time of day falls inside the window.
func (w Window) Contains(t time.Time) bool {
	minute := t.Hour()*60 + t.Minute()
	if w.Start <= w.End {
		return minute >= w.Start && minute < w.End
	}
	return minute >= w.Start || minute < w.End
}

func (w Window) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", w.Start/60, w.Start%60, w.End/60, w.End%60)
}

// Rules is a Checker driven by configuration: ordering windows per product,
// blocked variants, and stock levels. Stock is adjusted with SetStock as the
// catalog changes. Products without rules are always available.
type Rules struct {
	now func() time.Time
	loc *time.Location

	mu      sync.RWMutex
	windows map[string][]Window
	blocked map[model.Key]bool
	stock   map[model.Key]int
}

// RulesConfig is the static part of Rules, as loaded from configuration.
type RulesConfig struct {
	Windows  map[string][]string `json:"windows" toml:"windows"`   // productId → ["HH:MM-HH:MM"]
	Blocked  []string            `json:"blocked" toml:"blocked"`   // "productId" or "productId:variant"
	Timezone string              `json:"timezone" toml:"timezone"` // IANA name, default UTC
}

// NewRules builds a rule checker. now may be nil to use time.Now.
func NewRules(cfg RulesConfig, now func() time.Time) (*Rules, error) {
	if now == nil {
		now = time.Now
	}
	loc := time.UTC
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("loading timezone %q: %w", cfg.Timezone, err)
		}
		loc = l
	}

	r := &Rules{
		now:     now,
		loc:     loc,
		windows: make(map[string][]Window),
		blocked: make(map[model.Key]bool),
		stock:   make(map[model.Key]int),
	}
	for productID, specs := range cfg.Windows {
		for _, spec := range specs {
			w, err := ParseWindow(spec)
			if err != nil {
				return nil, fmt.Errorf("product %s: %w", productID, err)
			}
			r.windows[productID] = append(r.windows[productID], w)
		}
	}
	for _, b := range cfg.Blocked {
		productID, variant, _ := strings.Cut(b, ":")
		r.blocked[model.NewKey(productID, variant)] = true
	}
	return r, nil
}

// SetStock records the units available for key. A negative value removes the limit.
func (r *Rules) SetStock(key model.Key, units int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if units < 0 {
		delete(r.stock, key)
		return
	}
	r.stock[key] = units
}

// Check implements Checker.
func (r *Rules) Check(_ context.Context, key model.Key, quantity int) (Decision, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.blocked[key] || r.blocked[model.Key{ProductID: key.ProductID}] {
		return Decision{Reason: "this item cannot be ordered"}, nil
	}

	if windows := r.windows[key.ProductID]; len(windows) > 0 {
		now := r.now().In(r.loc)
		open := false
		for _, w := range windows {
			if w.Contains(now) {
				open = true
				break
			}
		}
		if !open {
			return Decision{Reason: fmt.Sprintf("available only during %s", windowList(windows))}, nil
		}
	}

	if units, limited := r.stock[key]; limited && quantity > units {
		if units == 0 {
			return Decision{Reason: "out of stock"}, nil
		}
		return Decision{Reason: fmt.Sprintf("only %d left in stock", units)}, nil
	}
	return Decision{Allowed: true}, nil
}

func windowList(ws []Window) string {
	parts := make([]string, len(ws))
	for i, w := range ws {
		parts[i] = w.String()
	}
	return strings.Join(parts, ", ")
}
