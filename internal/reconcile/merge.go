package reconcile

import "cartsync/internal/model"

// Merge combines a locally cached collection with the remote one by identity key.
//
//   - keys on both sides: quantity = max(local, remote); the remote item wins for
//     entry id, name, image and prices since the server is authoritative for display
//   - keys on one side only: carried through unchanged
//
// Remote order comes first, followed by local-only items in local order. Pending
// flags are cleared: the result is a settled collection.
//
// A stale local snapshot of an add that was already synced can be counted twice
// when its quantity exceeds the remote one; max() does not guard against that.
func Merge(local, remote model.Collection) model.Collection {
	localByKey := make(map[model.Key]model.Item, len(local.Items))
	for _, it := range local.Items {
		localByKey[it.Key()] = it
	}

	kind := remote.Kind
	if kind == "" {
		kind = local.Kind
	}
	merged := model.Collection{
		Kind:         kind,
		Items:        make([]model.Item, 0, len(local.Items)+len(remote.Items)),
		LastSyncedAt: remote.LastSyncedAt,
	}

	seen := make(map[model.Key]bool, len(remote.Items))
	for _, r := range remote.Items {
		key := r.Key()
		seen[key] = true
		out := r
		if l, ok := localByKey[key]; ok && l.Quantity > out.Quantity {
			out.Quantity = l.Quantity
		}
		out.Pending = false
		merged.Items = append(merged.Items, out)
	}

	for _, l := range local.Items {
		if seen[l.Key()] {
			continue
		}
		l.Pending = false
		merged.Items = append(merged.Items, l)
	}

	return merged
}

// Changed reports whether merged differs from what the remote already holds,
// i.e. whether the merge result has to be pushed.
func Changed(remote, merged model.Collection) bool {
	return !DiffItems(remote.Items, merged.Items).IsEmpty()
}
