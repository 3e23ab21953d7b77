// Package sparseindex implements the engine's sparse index: an ordered
// map from a sampled subset of keys to the (segment, byte offset) pair
// where that key's record line begins on disk.
package sparseindex

import (
	"lsmdb/internal/ordmap"
	"lsmdb/internal/segment"
)

// Pointer locates a record line inside a specific segment file.
type Pointer struct {
	Segment segment.ID
	Offset  int64
}

// Index is the sparse index. It holds only keys that actually reside on
// disk, and is rebuilt wholesale after every compaction.
type Index struct {
	tree *ordmap.Tree[Pointer]
}

// New returns an empty sparse index.
func New() *Index {
	return &Index{tree: ordmap.New[Pointer]()}
}

// Add records that key's record line starts at offset within segmentID.
func (idx *Index) Add(key string, segmentID segment.ID, offset int64) {
	idx.tree.Add(key, Pointer{Segment: segmentID, Offset: offset})
}

// Find returns the pointer stored for key, if the index sampled it.
func (idx *Index) Find(key string) (Pointer, bool) {
	return idx.tree.Find(key)
}

// Floor returns the greatest sampled key less than or equal to key, and its pointer.
func (idx *Index) Floor(key string) (string, Pointer, bool) {
	return idx.tree.Floor(key)
}

// InOrder calls fn for every (key, pointer) pair in ascending key order.
func (idx *Index) InOrder(fn func(key string, p Pointer) bool) {
	idx.tree.Walk(fn)
}

// Clear discards all entries, preparing the index to be rebuilt from scratch.
func (idx *Index) Clear() {
	idx.tree = ordmap.New[Pointer]()
}

// Len reports how many keys are currently sampled.
func (idx *Index) Len() int {
	return idx.tree.Len()
}
