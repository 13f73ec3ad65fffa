package remote

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"cartsync/internal/identity"
	"cartsync/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestClient serves svc over the REST protocol and returns a Client for it.
func newTestClient(t *testing.T, svc Service) *Client {
	t.Helper()
	srv := httptest.NewServer(NewServer(svc, testLogger()))
	t.Cleanup(srv.Close)

	c, err := New(Config{BaseURL: srv.URL, APIKey: "k", HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func userCtx(userID string) context.Context {
	return identity.WithIdentity(context.Background(), identity.Identity{UserID: userID, Token: "tok"})
}

func TestNew_RequiresBaseURL(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New() error = nil, want error")
	}
}

func TestClient_RoundTripAgainstMemory(t *testing.T) {
	mem := NewMemory()
	c := newTestClient(t, mem)
	ctx := userCtx("u1")
	key := model.NewKey("p1", "500g")

	got, err := c.AddItem(ctx, model.KindCart, NewAddRequest(key, 2, model.PriceSnapshot{
		Name:              "Almonds",
		UnitPrice:         decimal.RequireFromString("12.50"),
		OriginalUnitPrice: decimal.RequireFromString("15"),
	}))
	if err != nil {
		t.Fatalf("AddItem() error = %v", err)
	}
	if len(got.Items) != 1 || got.Items[0].Quantity != 2 {
		t.Fatalf("AddItem() = %+v, want one item x2", got)
	}
	entryID := got.Items[0].EntryID
	if entryID == "" || model.IsTemporaryID(entryID) {
		t.Errorf("EntryID = %q, want server id", entryID)
	}
	if !got.Items[0].UnitPrice.Equal(decimal.RequireFromString("12.5")) {
		t.Errorf("UnitPrice = %s, want 12.5", got.Items[0].UnitPrice)
	}

	got, err = c.UpdateQuantity(ctx, model.KindCart, entryID, key, 5)
	if err != nil {
		t.Fatalf("UpdateQuantity() error = %v", err)
	}
	if got.Items[0].Quantity != 5 {
		t.Errorf("Quantity = %d, want 5", got.Items[0].Quantity)
	}

	fetched, err := c.Fetch(ctx, model.KindCart)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if !fetched.Equal(got) {
		t.Errorf("Fetch() = %+v, want %+v", fetched, got)
	}

	// other users see their own collection
	other, err := c.Fetch(userCtx("u2"), model.KindCart)
	if err != nil {
		t.Fatal(err)
	}
	if !other.IsEmpty() {
		t.Errorf("u2 cart = %+v, want empty", other)
	}

	got, err = c.RemoveItem(ctx, model.KindCart, entryID, key)
	if err != nil {
		t.Fatalf("RemoveItem() error = %v", err)
	}
	if !got.IsEmpty() {
		t.Errorf("after RemoveItem = %+v, want empty", got)
	}
}

func TestClient_TemporaryEntryAddressedByKey(t *testing.T) {
	mem := NewMemory()
	mem.Seed("u1", model.KindWishlist, []model.Item{{ProductID: "p1", Name: "A", Quantity: 1}})
	c := newTestClient(t, mem)

	got, err := c.UpdateQuantity(userCtx("u1"), model.KindWishlist, "temp_123", model.NewKey("p1", ""), 3)
	if err != nil {
		t.Fatalf("UpdateQuantity() error = %v", err)
	}
	if got.Items[0].Quantity != 3 {
		t.Errorf("Quantity = %d, want 3", got.Items[0].Quantity)
	}
}

func TestClient_Clear(t *testing.T) {
	mem := NewMemory()
	mem.Seed("u1", model.KindCart, []model.Item{{ProductID: "a", Name: "A", Quantity: 1}})
	c := newTestClient(t, mem)

	got, err := c.Clear(userCtx("u1"), model.KindCart)
	if err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if !got.IsEmpty() || got.Kind != model.KindCart {
		t.Errorf("Clear() = %+v, want empty cart", got)
	}
	if len(mem.Items("u1", model.KindCart)) != 0 {
		t.Error("memory service still holds items")
	}
}

func TestClient_ErrorKinds(t *testing.T) {
	tests := []struct {
		name     string
		hookErr  error
		wantKind model.ErrorKind
		wantIs   error
	}{
		{"availability", model.NewAvailabilityError(model.Key{}, "sold out"), model.KindAvailability, model.ErrAvailabilityRestricted},
		{"validation", model.NewInvalidItemError("quantity", "too many"), model.KindInvalidItem, model.ErrInvalidItem},
		{"not found", model.NewNotFoundError("entry"), model.KindNotFound, model.ErrNotFound},
		{"server", model.NewServerError("boom"), model.KindServer, model.ErrServer},
		{"unavailable", model.NewNetworkError("db", errors.New("down")), model.KindNetwork, model.ErrNetwork},
		{"untyped", errors.New("panic-ish"), model.KindServer, model.ErrServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := NewMemory()
			mem.Hook = func(context.Context, string, model.Kind) error { return tt.hookErr }
			c := newTestClient(t, mem)

			key := model.NewKey("p1", "")
			_, err := c.AddItem(userCtx("u1"), model.KindCart, NewAddRequest(key, 1, model.PriceSnapshot{Name: "A"}))
			if err == nil {
				t.Fatal("AddItem() error = nil")
			}
			if got := model.KindOf(err); got != tt.wantKind {
				t.Errorf("KindOf() = %s, want %s", got, tt.wantKind)
			}
			if !errors.Is(err, tt.wantIs) {
				t.Errorf("errors.Is(%v, %v) = false", err, tt.wantIs)
			}
		})
	}
}

func TestClient_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(Config{BaseURL: url})
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Fetch(context.Background(), model.KindCart)
	if !errors.Is(err, model.ErrNetwork) {
		t.Errorf("Fetch() error = %v, want ErrNetwork", err)
	}
}

func TestClient_Headers(t *testing.T) {
	var got http.Header
	var method string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		method = r.Method
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"kind":"cart","items":[]}`))
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL + "/", APIKey: "secret"})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := c.Fetch(userCtx("u7"), model.KindCart); err != nil {
		t.Fatal(err)
	}
	if got.Get("Idempotency-Key") != "" {
		t.Errorf("GET carried Idempotency-Key %q", got.Get("Idempotency-Key"))
	}
	if got.Get("X-User-ID") != "u7" || got.Get("Authorization") != "Bearer tok" {
		t.Errorf("identity headers = %q / %q", got.Get("X-User-ID"), got.Get("Authorization"))
	}
	if got.Get("X-API-Key") != "secret" {
		t.Errorf("X-API-Key = %q, want secret", got.Get("X-API-Key"))
	}

	if _, err := c.Clear(userCtx("u7"), model.KindCart); err != nil {
		t.Fatal(err)
	}
	if method != http.MethodDelete {
		t.Errorf("method = %s, want DELETE", method)
	}
	if got.Get("Idempotency-Key") == "" {
		t.Error("DELETE missing Idempotency-Key")
	}
}

func TestParseErrorResponse_StatusFallback(t *testing.T) {
	tests := []struct {
		status int
		want   model.ErrorKind
	}{
		{http.StatusNotFound, model.KindNotFound},
		{http.StatusBadRequest, model.KindInvalidItem},
		{http.StatusUnprocessableEntity, model.KindInvalidItem},
		{http.StatusTooManyRequests, model.KindNetwork},
		{http.StatusBadGateway, model.KindNetwork},
		{http.StatusInternalServerError, model.KindServer},
	}
	for _, tt := range tests {
		err := parseErrorResponse(tt.status, []byte(`not json`), model.Key{})
		if got := model.KindOf(err); got != tt.want {
			t.Errorf("status %d: kind = %s, want %s", tt.status, got, tt.want)
		}
	}
}
