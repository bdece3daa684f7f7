package snapshot

import (
	"reflect"
	"sort"
)

// Change is the before/after pair of a modified attribute.
type Change struct {
	From any `json:"from"`
	To   any `json:"to"`
}

// DiffResult classifies the attributes of two snapshots. It is computed on
// demand and never stored. The three maps are never nil.
type DiffResult struct {
	Added    map[string]any    `json:"added"`
	Modified map[string]Change `json:"modified"`
	Removed  map[string]any    `json:"removed"`
}

// Diff compares the attribute mappings a (source) and b (target).
//
// A key only in b is added, a key only in a is removed, a key in both with
// values that are not strictly equal is modified. Nested maps and lists are
// compared as whole values; a difference inside them yields one modified
// entry for the top-level key.
func Diff(a, b map[string]any) *DiffResult {
	d := &DiffResult{
		Added:    make(map[string]any),
		Modified: make(map[string]Change),
		Removed:  make(map[string]any),
	}
	for k, bv := range b {
		av, ok := a[k]
		switch {
		case !ok:
			d.Added[k] = bv
		case !Equal(av, bv):
			d.Modified[k] = Change{From: av, To: bv}
		}
	}
	for k, av := range a {
		if _, ok := b[k]; !ok {
			d.Removed[k] = av
		}
	}
	return d
}

// Equal is the strict value equality used by Diff: same dynamic type and
// same value, no numeric coercion.
func Equal(x, y any) bool {
	return reflect.DeepEqual(x, y)
}

// Empty reports whether nothing changed.
func (d *DiffResult) Empty() bool {
	return d.Count() == 0
}

// Count returns the number of changed attributes.
func (d *DiffResult) Count() int {
	return len(d.Added) + len(d.Modified) + len(d.Removed)
}

// Fields returns the names of all changed attributes, sorted.
func (d *DiffResult) Fields() []string {
	out := make([]string, 0, d.Count())
	for k := range d.Added {
		out = append(out, k)
	}
	for k := range d.Modified {
		out = append(out, k)
	}
	for k := range d.Removed {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
