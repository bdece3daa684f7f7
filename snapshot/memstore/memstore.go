// Package memstore is the process-local snapshot backend used by tests.
//
// Reads are lock-free: they see an immutable map published through an
// atomic pointer. Writers are serialized by a mutex and publish a fresh copy.
// Nothing survives a restart.
package memstore

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"
	"weak"

	"github.com/hazyhaar/recsnap/snapshot"
)

// Name is the backend identity reported in errors.
const Name = "memory"

type table = map[string]*snapshot.Snapshot

// Store keeps snapshots in memory. The zero value is not usable; call New.
type Store struct {
	mu   sync.Mutex // serializes writers
	data atomic.Pointer[table]
}

var (
	registryMu sync.Mutex
	registry   []weak.Pointer[Store]

	shared = New()
)

// New creates an empty Store and registers it for ResetAll.
func New() *Store {
	s := &Store{}
	empty := make(table)
	s.data.Store(&empty)

	registryMu.Lock()
	live := registry[:0]
	for _, p := range registry {
		if p.Value() != nil {
			live = append(live, p)
		}
	}
	registry = append(live, weak.Make(s))
	registryMu.Unlock()
	return s
}

// Shared returns the process-wide Store.
func Shared() *Store { return shared }

// ResetAll empties every live Store, including Shared, and returns the
// number of snapshots removed. Tests call it between cases.
func ResetAll() int {
	registryMu.Lock()
	stores := make([]*Store, 0, len(registry))
	for _, p := range registry {
		if s := p.Value(); s != nil {
			stores = append(stores, s)
		}
	}
	registryMu.Unlock()

	removed := 0
	for _, s := range stores {
		removed += s.reset()
	}
	return removed
}

func (s *Store) Name() string { return Name }

func (s *Store) Save(_ context.Context, label string, snap *snapshot.Snapshot) (*snapshot.Snapshot, error) {
	if label == "" {
		return nil, snapshot.NewStorageError(Name, "save", label, snapshot.ErrEmptyLabel)
	}
	c := snap.Clone()
	c.Label = label

	s.mu.Lock()
	next := maps.Clone(*s.data.Load())
	next[label] = c
	s.data.Store(&next)
	s.mu.Unlock()

	return c.Clone(), nil
}

func (s *Store) Load(_ context.Context, label string) (*snapshot.Snapshot, error) {
	snap, ok := (*s.data.Load())[label]
	if !ok {
		return nil, nil
	}
	return snap.Clone(), nil
}

func (s *Store) List(_ context.Context) ([]snapshot.Summary, error) {
	m := *s.data.Load()
	out := make([]snapshot.Summary, 0, len(m))
	for _, snap := range m {
		out = append(out, snap.Summary())
	}
	snapshot.SortSummaries(out)
	return out, nil
}

func (s *Store) Delete(_ context.Context, label string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := *s.data.Load()
	if _, ok := cur[label]; !ok {
		return false, nil
	}
	next := maps.Clone(cur)
	delete(next, label)
	s.data.Store(&next)
	return true, nil
}

func (s *Store) Clear(_ context.Context, recordType string) (int, error) {
	if recordType == "" {
		return s.reset(), nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := maps.Clone(*s.data.Load())
	removed := 0
	for label, snap := range next {
		if snap.RecordType == recordType {
			delete(next, label)
			removed++
		}
	}
	s.data.Store(&next)
	return removed, nil
}

// Len returns the number of stored snapshots.
func (s *Store) Len() int {
	return len(*s.data.Load())
}

func (s *Store) reset() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(*s.data.Load())
	empty := make(table)
	s.data.Store(&empty)
	return n
}
