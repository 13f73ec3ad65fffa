package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"cartsync/internal/catalog"
	"cartsync/internal/identity"
	"cartsync/internal/model"
	"cartsync/internal/persist"
	"cartsync/internal/remote"
	"cartsync/internal/store"
	"cartsync/internal/syncer"
	"cartsync/internal/totals"
)

type testEnv struct {
	h       *Handler
	mux     *http.ServeMux
	session *identity.Signal
	remote  *remote.Memory
	cart    *syncer.Controller
}

// newTestEnv starts cart and wishlist controllers over in-memory backends.
func newTestEnv(t *testing.T, checker catalog.Checker) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	backend := persist.NewMemory()
	svc := remote.NewMemory()
	session := identity.NewSignal(identity.Identity{})

	var ctls []*syncer.Controller
	for _, kind := range []model.Kind{model.KindCart, model.KindWishlist} {
		c, err := syncer.New(syncer.Options{
			Store:    store.New(kind),
			Cache:    persist.NewAdapter(backend, kind, persist.WithLogger(logger)),
			Remote:   svc,
			Identity: session,
			Catalog:  checker,
			Logger:   logger,
		})
		if err != nil {
			t.Fatal(err)
		}
		if err := c.Start(context.Background()); err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { _ = c.Stop(context.Background()) })
		ctls = append(ctls, c)
	}

	h := New(session, totals.DefaultRules(), logger, ctls...)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return &testEnv{h: h, mux: mux, session: session, remote: svc, cart: ctls[0]}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	e.mux.ServeHTTP(w, req)
	return w
}

func decodeView(t *testing.T, w *httptest.ResponseRecorder) CollectionView {
	t.Helper()
	var v CollectionView
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decoding view: %v", err)
	}
	return v
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorView {
	t.Helper()
	var resp errorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding error: %v", err)
	}
	return resp.Error
}

var soup = addItemRequest{
	ProductID:  "soup",
	VariantKey: "500 G",
	Quantity:   2,
	Name:       "Tomato soup",
	UnitPrice:  "12.50",
}

func TestHandleHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, "GET", "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp healthResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Status != "ok" {
		t.Errorf("Status = %s, want ok", resp.Status)
	}
	if resp.Collections["cart"] != "ready" || resp.Collections["wishlist"] != "ready" {
		t.Errorf("Collections = %v, want both ready", resp.Collections)
	}
}

func TestHandleGetCollectionEmpty(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, "GET", "/collections/cart", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}
	v := decodeView(t, w)
	if v.Kind != "cart" || len(v.Items) != 0 {
		t.Errorf("view = %+v, want empty cart", v)
	}
	if v.Totals.Shipping != "0.00" || v.Totals.Total != "0.00" {
		t.Errorf("Totals = %+v, want zero", v.Totals)
	}
	if v.Remote {
		t.Error("Remote = true without a session")
	}
}

func TestHandleUnknownCollection(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, "GET", "/collections/basket", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if got := decodeError(t, w).Kind; got != string(model.KindNotFound) {
		t.Errorf("Kind = %s, want not_found", got)
	}
}

func TestHandleAddItem(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, "POST", "/collections/cart/items", soup)
	if w.Code != http.StatusCreated {
		t.Fatalf("Status = %d, want %d\nBody: %s", w.Code, http.StatusCreated, w.Body.String())
	}
	v := decodeView(t, w)
	if len(v.Items) != 1 {
		t.Fatalf("Items = %+v, want 1", v.Items)
	}
	it := v.Items[0]
	if it.VariantKey != "500g" || it.Quantity != 2 || it.UnitPrice != "12.50" || it.OriginalUnitPrice != "12.50" {
		t.Errorf("item = %+v", it)
	}
	if it.LineTotal != "25.00" {
		t.Errorf("LineTotal = %s, want 25.00", it.LineTotal)
	}
	// 25 subtotal, 50 shipping, 1.25 tax
	if v.Totals.Subtotal != "25.00" || v.Totals.Shipping != "50.00" || v.Totals.Tax != "1.25" || v.Totals.Total != "76.25" {
		t.Errorf("Totals = %+v", v.Totals)
	}

	// same key, different spelling of the variant
	again := soup
	again.VariantKey = "500g"
	again.Quantity = 3
	v = decodeView(t, env.do(t, "POST", "/collections/cart/items", again))
	if len(v.Items) != 1 || v.Items[0].Quantity != 5 {
		t.Errorf("Items = %+v, want one item x5", v.Items)
	}
}

func TestHandleAddItemErrors(t *testing.T) {
	closed := catalog.CheckerFunc(func(_ context.Context, key model.Key, _ int) (catalog.Decision, error) {
		if key.ProductID == "breakfast" {
			return catalog.Decision{Reason: "available only during 06:00-11:00"}, nil
		}
		return catalog.Decision{Allowed: true}, nil
	})
	env := newTestEnv(t, closed)

	tests := []struct {
		name       string
		body       interface{}
		wantStatus int
		wantKind   model.ErrorKind
	}{
		{"zero quantity", addItemRequest{ProductID: "p", Quantity: 0, Name: "P", UnitPrice: "1"}, http.StatusBadRequest, model.KindInvalidItem},
		{"missing name", addItemRequest{ProductID: "p", Quantity: 1, UnitPrice: "1"}, http.StatusBadRequest, model.KindInvalidItem},
		{"bad price", addItemRequest{ProductID: "p", Quantity: 1, Name: "P", UnitPrice: "abc"}, http.StatusBadRequest, model.KindInvalidItem},
		{"negative price", addItemRequest{ProductID: "p", Quantity: 1, Name: "P", UnitPrice: "-1"}, http.StatusBadRequest, model.KindInvalidItem},
		{"not json", "nope", http.StatusBadRequest, model.KindInvalidItem},
		{"restricted", addItemRequest{ProductID: "breakfast", Quantity: 1, Name: "Eggs", UnitPrice: "4"}, http.StatusConflict, model.KindAvailability},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, "POST", "/collections/cart/items", tt.body)
			if w.Code != tt.wantStatus {
				t.Errorf("Status = %d, want %d\nBody: %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if got := decodeError(t, w); got.Kind != string(tt.wantKind) {
				t.Errorf("Kind = %s, want %s", got.Kind, tt.wantKind)
			}
		})
	}

	if n := len(env.cart.Store().Items()); n != 0 {
		t.Errorf("cart items = %d after rejected adds, want 0", n)
	}
}

func TestHandleUpdateAndRemoveItem(t *testing.T) {
	env := newTestEnv(t, nil)
	v := decodeView(t, env.do(t, "POST", "/collections/cart/items", soup))
	entryID := v.Items[0].EntryID

	w := env.do(t, "PATCH", "/collections/cart/items/"+entryID, map[string]int{"quantity": 7})
	if w.Code != http.StatusOK {
		t.Fatalf("PATCH Status = %d\nBody: %s", w.Code, w.Body.String())
	}
	if v := decodeView(t, w); v.Items[0].Quantity != 7 {
		t.Errorf("Quantity = %d, want 7", v.Items[0].Quantity)
	}

	w = env.do(t, "PATCH", "/collections/cart/items/"+entryID, map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("PATCH without quantity Status = %d, want 400", w.Code)
	}

	w = env.do(t, "PATCH", "/collections/cart/items/unknown", map[string]int{"quantity": 1})
	if w.Code != http.StatusNotFound {
		t.Errorf("PATCH unknown Status = %d, want 404", w.Code)
	}

	w = env.do(t, "DELETE", "/collections/cart/items/"+entryID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("DELETE Status = %d", w.Code)
	}
	if v := decodeView(t, w); len(v.Items) != 0 {
		t.Errorf("Items = %+v, want empty", v.Items)
	}

	// removing again is still a success
	w = env.do(t, "DELETE", "/collections/cart/items/"+entryID, nil)
	if w.Code != http.StatusOK {
		t.Errorf("second DELETE Status = %d, want 200", w.Code)
	}
}

func TestHandleRemoveItemByKey(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, "POST", "/collections/wishlist/items", soup)

	w := env.do(t, "DELETE", "/collections/wishlist/items/-?productId=soup&variantKey=500%20G", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d\nBody: %s", w.Code, w.Body.String())
	}
	if v := decodeView(t, w); len(v.Items) != 0 {
		t.Errorf("Items = %+v, want empty", v.Items)
	}

	w = env.do(t, "DELETE", "/collections/wishlist/items/-", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Status without productId = %d, want 400", w.Code)
	}
}

func TestHandleClearCollection(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, "POST", "/collections/cart/items", soup)

	w := env.do(t, "DELETE", "/collections/cart", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d", w.Code)
	}
	v := decodeView(t, w)
	if len(v.Items) != 0 || v.Totals.ItemCount != 0 {
		t.Errorf("view = %+v, want empty", v)
	}
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)
	env.remote.Seed("u-1", model.KindCart, []model.Item{{
		ProductID: "bread", Name: "Bread", Quantity: 1,
		UnitPrice: decimal.RequireFromString("3.20"), OriginalUnitPrice: decimal.RequireFromString("3.20"),
	}})
	env.do(t, "POST", "/collections/cart/items", soup)

	req := httptest.NewRequest("PUT", "/session", nil)
	req.Header.Set(identity.SessionHeader, `user="u-1", token="tok"`)
	w := httptest.NewRecorder()
	env.mux.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("PUT /session Status = %d\nBody: %s", w.Code, w.Body.String())
	}

	var resp sessionResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Active || resp.UserID != "u-1" {
		t.Errorf("session = %+v", resp)
	}
	cart := resp.Collections[0]
	if !cart.Remote || len(cart.Items) != 2 || cart.LastSyncedAt == "" {
		t.Errorf("cart after login = %+v, want merged remote + local", cart)
	}
	if n := len(env.remote.Items("u-1", model.KindCart)); n != 2 {
		t.Errorf("remote items = %d, want local item pushed", n)
	}

	w = env.do(t, "DELETE", "/session", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("DELETE /session Status = %d", w.Code)
	}
	if v := decodeView(t, env.do(t, "GET", "/collections/cart", nil)); len(v.Items) != 0 {
		t.Errorf("cart after logout = %+v, want empty", v.Items)
	}
}

func TestPutSessionRequiresHeader(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, "PUT", "/session", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400", w.Code)
	}
}

func TestHandleRefresh(t *testing.T) {
	env := newTestEnv(t, nil)
	env.session.Set(identity.Identity{UserID: "u-2"})
	env.remote.Seed("u-2", model.KindWishlist, []model.Item{{
		ProductID: "tea", Name: "Tea", Quantity: 1,
		UnitPrice: decimal.RequireFromString("5"), OriginalUnitPrice: decimal.RequireFromString("5"),
	}})

	w := env.do(t, "POST", "/collections/wishlist/refresh?force=true", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d\nBody: %s", w.Code, w.Body.String())
	}
	if v := decodeView(t, w); len(v.Items) != 1 || v.Items[0].ProductID != "tea" {
		t.Errorf("Items = %+v, want tea", v.Items)
	}
}

func TestNetworkFailureShownAndRolledBack(t *testing.T) {
	env := newTestEnv(t, nil)
	env.session.Set(identity.Identity{UserID: "u-3"})
	env.remote.Hook = func(_ context.Context, op string, _ model.Kind) error {
		if op == "add" {
			return model.NewNetworkError("collection service", errors.New("timeout"))
		}
		return nil
	}

	w := env.do(t, "POST", "/collections/cart/items", soup)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("Status = %d, want 503", w.Code)
	}
	if got := decodeError(t, w); got.Kind != string(model.KindNetwork) || got.Key != "soup:500g" {
		t.Errorf("error = %+v", got)
	}

	v := decodeView(t, env.do(t, "GET", "/collections/cart", nil))
	if len(v.Items) != 0 {
		t.Errorf("Items = %+v, want rolled back", v.Items)
	}
	if v.LastError == nil || v.LastError.Kind != string(model.KindNetwork) {
		t.Errorf("LastError = %+v, want network", v.LastError)
	}
}

func TestServerFailureShownAsUndone(t *testing.T) {
	env := newTestEnv(t, nil)
	env.session.Set(identity.Identity{UserID: "u-4"})
	env.remote.Hook = func(_ context.Context, op string, _ model.Kind) error {
		if op == "add" {
			return model.NewServerError("internal error")
		}
		return nil
	}

	w := env.do(t, "POST", "/collections/cart/items", soup)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("Status = %d, want 502", w.Code)
	}
	got := decodeError(t, w)
	if got.Kind != string(model.KindServer) || !strings.Contains(got.Message, "undone") {
		t.Errorf("error = %+v, want server error saying the change was undone", got)
	}

	v := decodeView(t, env.do(t, "GET", "/collections/cart", nil))
	if len(v.Items) != 0 {
		t.Errorf("Items = %+v, want rolled back", v.Items)
	}
}

func TestUserMessageForRevertedKinds(t *testing.T) {
	for _, kind := range []model.ErrorKind{model.KindNetwork, model.KindServer} {
		msg := userMessage(&model.Error{Kind: kind})
		if !strings.Contains(msg, "Your changes were undone") {
			t.Errorf("userMessage(%s) = %q, want it to say the change was undone", kind, msg)
		}
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind model.ErrorKind
		want int
	}{
		{model.KindInvalidItem, http.StatusBadRequest},
		{model.KindAvailability, http.StatusConflict},
		{model.KindSyncConflict, http.StatusConflict},
		{model.KindNotFound, http.StatusNotFound},
		{model.KindNetwork, http.StatusServiceUnavailable},
		{model.KindServer, http.StatusBadGateway},
		{"internal", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.kind); got != tt.want {
			t.Errorf("statusFor(%s) = %d, want %d", tt.kind, got, tt.want)
		}
	}
}
