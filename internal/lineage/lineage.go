// Package lineage tracks the cross-version identity of annotations and text edits.
//
// Every physical copy of a logical item carries the identifier of the first
// copy (its lineage root). Two rows from different versions describe the same
// logical item when their roots are equal.
package lineage

// Item is implemented by every versioned row that participates in lineage tracking.
type Item interface {
	RowID() string
	OriginalRowID() string
}

// ResolveRoot returns the lineage root of the item: its original id when set, otherwise its own id.
func ResolveRoot(item Item) string {
	if original := item.OriginalRowID(); original != "" {
		return original
	}
	return item.RowID()
}

// SameItem reports whether both rows are copies of one logical item.
func SameItem(left, right Item) bool {
	return ResolveRoot(left) == ResolveRoot(right)
}

// Duplicate describes a lineage root that appears on more than one row of a single version.
type Duplicate struct {
	Root       string
	KeptRowID  string
	DroppedIDs []string
}

// Index maps lineage roots to rows. When a root repeats the first row wins and the
// collision is reported in the returned duplicates, in first-seen order.
func Index[T Item](items []T) (map[string]T, []Duplicate) {
	byRoot := make(map[string]T, len(items))
	var duplicates []Duplicate
	positions := map[string]int{}
	for _, item := range items {
		root := ResolveRoot(item)
		kept, exists := byRoot[root]
		if !exists {
			byRoot[root] = item
			continue
		}
		position, seen := positions[root]
		if !seen {
			duplicates = append(duplicates, Duplicate{Root: root, KeptRowID: kept.RowID()})
			position = len(duplicates) - 1
			positions[root] = position
		}
		duplicates[position].DroppedIDs = append(duplicates[position].DroppedIDs, item.RowID())
	}
	return byRoot, duplicates
}
