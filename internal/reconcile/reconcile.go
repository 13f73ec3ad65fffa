// Package reconcile merges independently-evolved collections and computes the
// delta between two collection states.
//
// The diff lets the sync controller push a merged collection to a remote service
// that only understands per-item add/update/remove calls: it fetches the current
// remote state, diffs, and executes only the necessary mutations.
package reconcile

import "cartsync/internal/model"

// ItemDiff describes the mutations needed to turn one collection into another.
// Operations should be applied in order: Remove → Update → Add
// to prevent conflicts (e.g., updating a removed item).
type ItemDiff struct {
	ToAdd    []ItemToAdd    // Keys in desired but not current
	ToRemove []ItemToRemove // Keys in current but not desired
	ToUpdate []ItemToUpdate // Keys in both with different quantities
}

// ItemToAdd specifies a new item to add.
type ItemToAdd struct {
	Key  model.Key
	Item model.Item // Desired item, carries the display snapshot for the add call
}

// ItemToRemove specifies an item to remove.
type ItemToRemove struct {
	Key     model.Key
	EntryID string // Remote entry id needed for the removal call
}

// ItemToUpdate specifies a quantity change for an existing item.
type ItemToUpdate struct {
	Key         model.Key
	EntryID     string // Remote entry id needed for the update call
	OldQuantity int    // Current quantity (informational)
	NewQuantity int    // Desired quantity
}

// IsEmpty returns true if no changes are needed.
func (d *ItemDiff) IsEmpty() bool {
	return len(d.ToAdd) == 0 && len(d.ToRemove) == 0 && len(d.ToUpdate) == 0
}

// DiffItems computes the delta between current and desired items.
// Matching is by identity key, never by entry id.
//
// Results follow the order of the input slices so the calls a caller issues
// are deterministic.
func DiffItems(current, desired []model.Item) *ItemDiff {
	diff := &ItemDiff{}

	currentByKey := make(map[model.Key]model.Item, len(current))
	for _, it := range current {
		currentByKey[it.Key()] = it
	}
	desiredKeys := make(map[model.Key]bool, len(desired))

	for _, want := range desired {
		key := want.Key()
		desiredKeys[key] = true
		have, exists := currentByKey[key]
		if !exists {
			diff.ToAdd = append(diff.ToAdd, ItemToAdd{Key: key, Item: want})
			continue
		}
		if have.Quantity != want.Quantity {
			diff.ToUpdate = append(diff.ToUpdate, ItemToUpdate{
				Key:         key,
				EntryID:     have.EntryID, // Use current's entry id for the remote call
				OldQuantity: have.Quantity,
				NewQuantity: want.Quantity,
			})
		}
	}

	for _, have := range current {
		key := have.Key()
		if !desiredKeys[key] {
			diff.ToRemove = append(diff.ToRemove, ItemToRemove{Key: key, EntryID: have.EntryID})
		}
	}

	return diff
}
