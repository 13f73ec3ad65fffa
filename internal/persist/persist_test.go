package persist

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"cartsync/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleCollection() model.Collection {
	return model.Collection{
		Kind: model.KindCart,
		Items: []model.Item{
			{
				EntryID:           "e1",
				ProductID:         "p1",
				VariantKey:        "500g",
				Name:              "Almonds",
				Quantity:          2,
				UnitPrice:         decimal.RequireFromString("12.50"),
				OriginalUnitPrice: decimal.RequireFromString("15.00"),
			},
			{
				EntryID:           "e2",
				ProductID:         "p2",
				Name:              "Cashews",
				Image:             "https://img.example/cashew.png",
				Quantity:          1,
				UnitPrice:         decimal.RequireFromString("20"),
				OriginalUnitPrice: decimal.RequireFromString("20"),
			},
		},
		LastSyncedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestAdapter_SaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	a := NewAdapter(NewMemory(), model.KindCart, WithLogger(testLogger()))

	want := sampleCollection()
	if err := a.Save(ctx, want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, report, err := a.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if report != (Report{}) {
		t.Errorf("Load() report = %+v, want zero", report)
	}
	if !got.Equal(want) {
		t.Errorf("Load() = %+v, want %+v", got, want)
	}
	if !got.LastSyncedAt.Equal(want.LastSyncedAt) {
		t.Errorf("LastSyncedAt = %v, want %v", got.LastSyncedAt, want.LastSyncedAt)
	}
}

func TestAdapter_SaveStripsPending(t *testing.T) {
	ctx := context.Background()
	a := NewAdapter(NewMemory(), model.KindCart)

	c := sampleCollection()
	c.Items[0].Pending = true
	if err := a.Save(ctx, c); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, _, err := a.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Items[0].Pending {
		t.Error("loaded item is pending, want pending flag dropped on save")
	}
}

func TestAdapter_EmptyIsAbsence(t *testing.T) {
	ctx := context.Background()
	backend := NewMemory()
	a := NewAdapter(backend, model.KindWishlist)

	_, report, err := a.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !report.Absent {
		t.Error("fresh Load() Absent = false, want true")
	}

	if err := a.Save(ctx, sampleCollection()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := a.Save(ctx, model.Collection{Kind: model.KindWishlist}); err != nil {
		t.Fatalf("Save(empty) error = %v", err)
	}
	if _, err := backend.Read(ctx, a.Key()); err != ErrAbsent {
		t.Errorf("backend after empty save err = %v, want ErrAbsent", err)
	}

	got, report, err := a.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !report.Absent || !got.IsEmpty() {
		t.Errorf("Load() = %+v, %+v; want empty and absent", got, report)
	}
}

func TestAdapter_Clear(t *testing.T) {
	ctx := context.Background()
	backend := NewMemory()
	a := NewAdapter(backend, model.KindCart)

	if err := a.Save(ctx, sampleCollection()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := a.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if _, err := backend.Read(ctx, a.Key()); err != ErrAbsent {
		t.Errorf("backend after Clear err = %v, want ErrAbsent", err)
	}
	// clearing twice is fine
	if err := a.Clear(ctx); err != nil {
		t.Errorf("second Clear() error = %v", err)
	}
}

func TestAdapter_LegacyArrayWithCorruptEntry(t *testing.T) {
	ctx := context.Background()
	backend := NewMemory()
	a := NewAdapter(backend, model.KindCart, WithLogger(testLogger()))

	legacy := `[{"productId":"a","price":"abc","quantity":1},{"productId":"b","price":10,"quantity":2}]`
	if err := backend.Write(ctx, a.Key(), []byte(legacy)); err != nil {
		t.Fatal(err)
	}

	got, report, err := a.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if report.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", report.Dropped)
	}
	if len(got.Items) != 1 {
		t.Fatalf("len(Items) = %d, want 1", len(got.Items))
	}
	it := got.Items[0]
	if it.ProductID != "b" || it.Quantity != 2 || !it.UnitPrice.Equal(decimal.NewFromInt(10)) {
		t.Errorf("item = %+v, want product b x2 at 10", it)
	}
}

func TestAdapter_Incompatible(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"garbage", `not json at all`},
		{"truncated array", `[{"productId":"a"`},
		{"future major", `{"schema":"v2.0.0","kind":"cart","items":[]}`},
		{"invalid schema", `{"schema":"one","kind":"cart","items":[]}`},
		{"other kind", `{"schema":"v1.0.0","kind":"wishlist","items":[]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			backend := NewMemory()
			a := NewAdapter(backend, model.KindCart, WithLogger(testLogger()))
			if err := backend.Write(ctx, a.Key(), []byte(tt.data)); err != nil {
				t.Fatal(err)
			}

			got, report, err := a.Load(ctx)
			if err != nil {
				t.Fatalf("Load() error = %v, want nil", err)
			}
			if !report.Incompatible {
				t.Error("Incompatible = false, want true")
			}
			if !got.IsEmpty() {
				t.Errorf("Items = %v, want empty", got.Items)
			}
		})
	}
}

func TestAdapter_MinorSchemaAccepted(t *testing.T) {
	ctx := context.Background()
	backend := NewMemory()
	a := NewAdapter(backend, model.KindCart)

	doc := `{"schema":"v1.3.0","kind":"cart","items":[{"productId":"x","quantity":1,"unitPrice":"3.5","name":"X"}]}`
	if err := backend.Write(ctx, a.Key(), []byte(doc)); err != nil {
		t.Fatal(err)
	}
	got, report, err := a.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if report.Incompatible || len(got.Items) != 1 {
		t.Errorf("Load() = %+v, %+v; want one item", got, report)
	}
}

func TestAdapter_Namespace(t *testing.T) {
	a := NewAdapter(NewMemory(), model.KindCart, WithNamespace("store-7"))
	if got, want := a.Key(), "store-7/cartsync:cart"; got != want {
		t.Errorf("Key() = %q, want %q", got, want)
	}
}

func TestAdapter_EnvelopeFormat(t *testing.T) {
	ctx := context.Background()
	backend := NewMemory()
	saved := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	a := NewAdapter(backend, model.KindCart, WithClock(func() time.Time { return saved }))

	if err := a.Save(ctx, sampleCollection()); err != nil {
		t.Fatal(err)
	}
	data, err := backend.Read(ctx, a.Key())
	if err != nil {
		t.Fatal(err)
	}
	var env struct {
		Schema  string            `json:"schema"`
		Kind    string            `json:"kind"`
		SavedAt time.Time         `json:"savedAt"`
		Items   []json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("stored document is not JSON: %v", err)
	}
	if env.Schema != SchemaVersion {
		t.Errorf("schema = %q, want %q", env.Schema, SchemaVersion)
	}
	if env.Kind != "cart" {
		t.Errorf("kind = %q, want cart", env.Kind)
	}
	if !env.SavedAt.Equal(saved) {
		t.Errorf("savedAt = %v, want %v", env.SavedAt, saved)
	}
	if len(env.Items) != 2 {
		t.Errorf("len(items) = %d, want 2", len(env.Items))
	}
}

func TestAdapter_OnExternalChange(t *testing.T) {
	ctx := context.Background()
	backend := NewMemory()
	tab1 := NewAdapter(backend, model.KindCart)
	tab2 := NewAdapter(backend, model.KindCart)

	changes := make(chan model.Collection, 4)
	cancel := tab1.OnExternalChange(func(c model.Collection, _ Report) {
		changes <- c
	})
	defer cancel()

	// tab1's own write is not reported back to tab1
	if err := tab1.Save(ctx, sampleCollection()); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-changes:
		t.Fatalf("own write reported as external change: %+v", c)
	case <-time.After(50 * time.Millisecond):
	}

	other := sampleCollection()
	other.Items = other.Items[:1]
	other.Items[0].Quantity = 9
	if err := tab2.Save(ctx, other); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-changes:
		if len(c.Items) != 1 || c.Items[0].Quantity != 9 {
			t.Errorf("external change = %+v, want tab2's collection", c)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for external change")
	}

	if err := tab2.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-changes:
		if !c.IsEmpty() {
			t.Errorf("external clear = %+v, want empty", c)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for external clear")
	}
}

func TestAdapter_OnExternalChangeCancel(t *testing.T) {
	ctx := context.Background()
	backend := NewMemory()
	tab1 := NewAdapter(backend, model.KindCart)
	tab2 := NewAdapter(backend, model.KindCart)

	changes := make(chan struct{}, 1)
	cancel := tab1.OnExternalChange(func(model.Collection, Report) { changes <- struct{}{} })
	cancel()

	if err := tab2.Save(ctx, sampleCollection()); err != nil {
		t.Fatal(err)
	}
	select {
	case <-changes:
		t.Fatal("callback ran after cancel")
	case <-time.After(50 * time.Millisecond):
	}
}
