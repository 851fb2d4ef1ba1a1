// Package store implements the per-resource concurrent key-value fabric.
//
// Each resource type owns one Store. Reads run concurrently under a shared
// lock; writes for a single store are totally ordered under the exclusive
// lock; writes to different stores proceed in parallel. Snapshots returned
// by reads are deep copies, so handlers can mutate them freely.
package store

import (
	"sync"
)

// Store is the concurrent backing for one resource type.
type Store struct {
	mu     sync.RWMutex
	table  string // plural table name, e.g. "customers"
	object string // object tag, e.g. "customer"
	prefix string // id prefix, e.g. "cus"
	items  map[string]Resource

	// global holds pre-seeded well-known fixtures (card-brand tokens and
	// payment methods) shared across isolated test namespaces. Lookups fall
	// back to it when the id is not in items. Nil for most stores.
	global map[string]Resource
}

// New creates an empty store for a resource type.
func New(table, object, prefix string) *Store {
	return &Store{
		table:  table,
		object: object,
		prefix: prefix,
		items:  make(map[string]Resource),
	}
}

// TableName returns the plural table name.
func (s *Store) TableName() string { return s.table }

// ObjectName returns the object tag echoed in responses.
func (s *Store) ObjectName() string { return s.object }

// IDPrefix returns the id prefix for this resource type.
func (s *Store) IDPrefix() string { return s.prefix }

// Get returns a snapshot of the resource, falling back to the global
// namespace for well-known fixtures.
func (s *Store) Get(id string) (Resource, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if res, ok := s.items[id]; ok {
		return res.Clone(), true
	}
	if res, ok := s.global[id]; ok {
		return res.Clone(), true
	}
	return nil, false
}

// Insert stores a copy of the resource, replacing any existing entry with
// the same id. It returns a snapshot of what was stored.
func (s *Store) Insert(res Resource) Resource {
	stored := res.Clone()

	s.mu.Lock()
	s.items[stored.ID()] = stored
	s.mu.Unlock()

	return stored.Clone()
}

// Update is Insert with update semantics; merge rules are imposed by
// callers before the write reaches the store.
func (s *Store) Update(res Resource) Resource {
	return s.Insert(res)
}

// Delete removes the resource. Global fixtures cannot be deleted.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return false
	}
	delete(s.items, id)
	return true
}

// Clear removes all entries, leaving global fixtures intact.
func (s *Store) Clear() {
	s.mu.Lock()
	s.items = make(map[string]Resource)
	s.mu.Unlock()
}

// Count returns the number of stored entries, excluding global fixtures.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// SeedGlobal installs a well-known fixture into the shared namespace.
func (s *Store) SeedGlobal(res Resource) {
	stored := res.Clone()

	s.mu.Lock()
	if s.global == nil {
		s.global = make(map[string]Resource)
	}
	s.global[stored.ID()] = stored
	s.mu.Unlock()
}

// snapshot copies out all current values for listing and dumps.
func (s *Store) snapshot() []Resource {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Resource, 0, len(s.items))
	for _, res := range s.items {
		out = append(out, res.Clone())
	}
	return out
}

// Snapshot returns copies of every stored resource in unspecified order.
func (s *Store) Snapshot() []Resource {
	return s.snapshot()
}
