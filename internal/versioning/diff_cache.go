package versioning

import (
	"sync"

	"github.com/MarcoPoloResearchLab/marginalia/internal/records"
	"golang.org/x/sync/singleflight"
)

const (
	diffSourceComputed = "computed"
	diffSourceCached   = "cached"
	diffSourceShared   = "shared"
)

type diffKey struct {
	oldVersionID string
	newVersionID string
}

func (k diffKey) String() string {
	return k.oldVersionID + "\x00" + k.newVersionID
}

type cachedDiff struct {
	documentID string
	diff       VersionDiff
}

// diffCache memoises diffs of superseded version pairs and collapses
// concurrent requests for the same pair into one computation.
// Entries are evicted oldest first once capacity is reached.
type diffCache struct {
	capacity int
	group    singleflight.Group

	mu      sync.Mutex
	entries map[diffKey]cachedDiff
	order   []diffKey
}

func newDiffCache(capacity int) *diffCache {
	return &diffCache{
		capacity: capacity,
		entries:  make(map[diffKey]cachedDiff),
	}
}

func (c *diffCache) do(oldVersionID, newVersionID, documentID string, cacheable bool, compute func() (VersionDiff, error)) (VersionDiff, string, error) {
	key := diffKey{oldVersionID: oldVersionID, newVersionID: newVersionID}
	if cacheable {
		if diff, ok := c.lookup(key); ok {
			return diff, diffSourceCached, nil
		}
	}

	value, err, shared := c.group.Do(key.String(), func() (any, error) {
		diff, err := compute()
		if err != nil {
			return VersionDiff{}, err
		}
		if cacheable {
			c.store(key, documentID, diff)
		}
		return diff, nil
	})
	if err != nil {
		return VersionDiff{}, "", err
	}
	source := diffSourceComputed
	if shared {
		source = diffSourceShared
	}
	return copyDiff(value.(VersionDiff)), source, nil
}

func (c *diffCache) lookup(key diffKey) (VersionDiff, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return VersionDiff{}, false
	}
	return copyDiff(entry.diff), true
}

func (c *diffCache) store(key diffKey, documentID string, diff VersionDiff) {
	if c.capacity <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; exists {
		return
	}
	for len(c.order) >= c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[key] = cachedDiff{documentID: documentID, diff: diff}
	c.order = append(c.order, key)
}

// purgeDocument drops every memoised pair of the document.
func (c *diffCache) purgeDocument(documentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.order[:0]
	for _, key := range c.order {
		if c.entries[key].documentID == documentID {
			delete(c.entries, key)
			continue
		}
		kept = append(kept, key)
	}
	c.order = kept
}

func (c *diffCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func copyDiff(diff VersionDiff) VersionDiff {
	diff.AnnotationDiffs = copyEntries(diff.AnnotationDiffs, records.Annotation.Copy)
	diff.TextEditDiffs = copyEntries(diff.TextEditDiffs, records.TextEdit.Copy)
	return diff
}

// copyEntries detaches every row and previous snapshot from the cached value.
func copyEntries[T any](entries []DiffEntry[T], copyRow func(T) T) []DiffEntry[T] {
	if entries == nil {
		return nil
	}
	copied := make([]DiffEntry[T], len(entries))
	for index, entry := range entries {
		copied[index] = DiffEntry[T]{Kind: entry.Kind, Current: copyRow(entry.Current)}
		if entry.Previous != nil {
			previous := copyRow(*entry.Previous)
			copied[index].Previous = &previous
		}
	}
	return copied
}
