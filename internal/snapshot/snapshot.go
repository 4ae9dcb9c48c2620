// Package snapshot projects an order's item list into a comparable,
// order-independent fingerprint. It answers two questions for the
// synchronization controller: has the working order diverged from its
// confirmed baseline, and does a freshly fetched server order already match
// what is visible locally.
package snapshot

import (
	"sort"
	"strings"

	"pos-terminal/internal/models"
)

// Entry is the per-item projection. Selected extras are deliberately not part
// of it: price and extras never change after a line is created, so they carry
// no dirtiness signal. They do participate in merge equality, which lives in
// the merge package.
type Entry struct {
	Quantity int
	Comment  string
	Excluded []string // sorted
}

type Snapshot struct {
	entries map[string]Entry
}

func (s Snapshot) Len() int { return len(s.entries) }

// Take builds a snapshot from an item list. Item order and
// excluded-ingredient order are ignored; comments are trimmed so that an
// absent comment and a whitespace-only one compare equal. Cancelled rows are
// skipped, matching the totals computation.
func Take(items []models.OrderItem) Snapshot {
	entries := make(map[string]Entry, len(items))
	for _, it := range items {
		if it.Status == models.ItemStatusCancelled {
			continue
		}
		excluded := append([]string(nil), it.ExcludedIngredients...)
		sort.Strings(excluded)
		entries[it.ID] = Entry{
			Quantity: it.Quantity,
			Comment:  strings.TrimSpace(it.Comment),
			Excluded: excluded,
		}
	}
	return Snapshot{entries: entries}
}

// Equal reports whether both snapshots contain the same set of
// (identity, quantity, comment, excluded set) tuples.
func (s Snapshot) Equal(other Snapshot) bool {
	if len(s.entries) != len(other.entries) {
		return false
	}
	for id, e := range s.entries {
		oe, ok := other.entries[id]
		if !ok {
			return false
		}
		if e.Quantity != oe.Quantity || e.Comment != oe.Comment {
			return false
		}
		if len(e.Excluded) != len(oe.Excluded) {
			return false
		}
		for i := range e.Excluded {
			if e.Excluded[i] != oe.Excluded[i] {
				return false
			}
		}
	}
	return true
}

// Cache memoizes the last snapshot computed for a given item slice. As long
// as the slice reference is unchanged the cached snapshot is reused, which
// keeps the per-render dirtiness check cheap.
type Cache struct {
	items []models.OrderItem
	snap  Snapshot
	valid bool
}

func (c *Cache) Take(items []models.OrderItem) Snapshot {
	if c.valid && sameSlice(c.items, items) {
		return c.snap
	}
	c.items = items
	c.snap = Take(items)
	c.valid = true
	return c.snap
}

// Invalidate must be called after the slice is mutated in place, since the
// reference check cannot see element-level changes.
func (c *Cache) Invalidate() { c.valid = false }

func sameSlice(a, b []models.OrderItem) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) == 0 {
		return true
	}
	return &a[0] == &b[0]
}
