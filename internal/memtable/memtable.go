// Package memtable implements the in-memory ordered map that holds the
// most recently written keys before they are flushed to a segment.
package memtable

import "lsmdb/internal/ordmap"

// Memtable is the in-memory sorted map of pending writes. It carries a
// TotalBytes counter (len(key)+len(value) for every distinct key), which
// the engine maintains, so the engine can compare it against the flush
// threshold without re-walking the tree on every write.
type Memtable struct {
	tree       *ordmap.Tree[string]
	TotalBytes int
}

// New returns an empty memtable.
func New() *Memtable {
	return &Memtable{tree: ordmap.New[string]()}
}

// Add inserts or overwrites key with value. It does not touch TotalBytes;
// callers are responsible for that bookkeeping (the engine knows whether
// this is a fresh key or an in-place update, which changes whether the
// byte count moves).
func (m *Memtable) Add(key, value string) {
	m.tree.Add(key, value)
}

// Find returns the value for key, if present.
func (m *Memtable) Find(key string) (string, bool) {
	return m.tree.Find(key)
}

// Contains reports whether key is present in the memtable.
func (m *Memtable) Contains(key string) bool {
	return m.tree.Contains(key)
}

// Floor returns the greatest key less than or equal to key.
func (m *Memtable) Floor(key string) (string, string, bool) {
	return m.tree.Floor(key)
}

// InOrder calls fn for every (key, value) pair in ascending key order.
// Traversal stops early if fn returns false.
func (m *Memtable) InOrder(fn func(key, value string) bool) {
	m.tree.Walk(fn)
}

// Len reports the number of distinct keys currently held.
func (m *Memtable) Len() int {
	return m.tree.Len()
}
