package reconcile

import (
	"testing"

	"cartsync/internal/model"
)

func line(productID, variant, entryID string, qty int) model.Item {
	return model.Item{ProductID: productID, VariantKey: variant, EntryID: entryID, Quantity: qty}
}

func TestDiffItems_EmptyToItems(t *testing.T) {
	// Empty current, items in desired → all adds
	desired := []model.Item{line("prod-1", "", "", 2), line("prod-2", "", "", 1)}

	diff := DiffItems(nil, desired)

	if len(diff.ToAdd) != 2 {
		t.Errorf("ToAdd = %d, want 2", len(diff.ToAdd))
	}
	if len(diff.ToRemove) != 0 {
		t.Errorf("ToRemove = %d, want 0", len(diff.ToRemove))
	}
	if len(diff.ToUpdate) != 0 {
		t.Errorf("ToUpdate = %d, want 0", len(diff.ToUpdate))
	}
	if diff.ToAdd[0].Key.ProductID != "prod-1" {
		t.Errorf("ToAdd order not preserved: first = %s", diff.ToAdd[0].Key)
	}
}

func TestDiffItems_ItemsToEmpty(t *testing.T) {
	// Items in current, empty desired → all removes
	current := []model.Item{line("prod-1", "", "e-1", 2), line("prod-2", "", "e-2", 1)}

	diff := DiffItems(current, nil)

	if len(diff.ToRemove) != 2 {
		t.Fatalf("ToRemove = %d, want 2", len(diff.ToRemove))
	}
	for _, it := range diff.ToRemove {
		if it.EntryID == "" {
			t.Error("ToRemove item missing EntryID")
		}
	}
}

func TestDiffItems_QuantityUpdate(t *testing.T) {
	current := []model.Item{line("prod-1", "", "e-1", 2)}
	desired := []model.Item{line("prod-1", "", "temp_1", 5)}

	diff := DiffItems(current, desired)

	if len(diff.ToUpdate) != 1 {
		t.Fatalf("ToUpdate = %d, want 1", len(diff.ToUpdate))
	}
	up := diff.ToUpdate[0]
	if up.OldQuantity != 2 || up.NewQuantity != 5 {
		t.Errorf("update = %d→%d, want 2→5", up.OldQuantity, up.NewQuantity)
	}
	if up.EntryID != "e-1" {
		t.Errorf("EntryID = %s, want e-1 (remote id, not the desired temp id)", up.EntryID)
	}
}

func TestDiffItems_NoChange(t *testing.T) {
	current := []model.Item{line("prod-1", "", "e-1", 2)}
	desired := []model.Item{line("prod-1", "", "e-1", 2)}

	if diff := DiffItems(current, desired); !diff.IsEmpty() {
		t.Error("Expected empty diff for identical items")
	}
}

func TestDiffItems_WithVariants(t *testing.T) {
	// Same product, different variants = different items
	current := []model.Item{line("prod-1", "250g", "e-1", 1)}
	desired := []model.Item{
		line("prod-1", "250 G", "", 1), // no change, variant normalizes equal
		line("prod-1", "1kg", "", 2),   // add (different variant)
	}

	diff := DiffItems(current, desired)

	if len(diff.ToAdd) != 1 {
		t.Fatalf("ToAdd = %d, want 1", len(diff.ToAdd))
	}
	if diff.ToAdd[0].Key.VariantKey != "1kg" {
		t.Errorf("ToAdd VariantKey = %s, want 1kg", diff.ToAdd[0].Key.VariantKey)
	}
	if len(diff.ToRemove) != 0 || len(diff.ToUpdate) != 0 {
		t.Errorf("unexpected diff: %+v", diff)
	}
}

func TestDiffItems_MixedOperations(t *testing.T) {
	current := []model.Item{
		line("prod-1", "", "e-1", 2), // will be removed
		line("prod-2", "", "e-2", 1), // will be updated
		line("prod-3", "", "e-3", 3), // unchanged
	}
	desired := []model.Item{
		line("prod-2", "", "", 5),
		line("prod-3", "", "", 3),
		line("prod-4", "", "", 1),
	}

	diff := DiffItems(current, desired)

	if len(diff.ToAdd) != 1 || diff.ToAdd[0].Key.ProductID != "prod-4" {
		t.Errorf("ToAdd = %+v, want prod-4", diff.ToAdd)
	}
	if len(diff.ToRemove) != 1 || diff.ToRemove[0].EntryID != "e-1" {
		t.Errorf("ToRemove = %+v, want e-1", diff.ToRemove)
	}
	if len(diff.ToUpdate) != 1 || diff.ToUpdate[0].Key.ProductID != "prod-2" {
		t.Errorf("ToUpdate = %+v, want prod-2", diff.ToUpdate)
	}
}
