package segment

import "sort"

// Dedupe reads id sequentially, retaining only the last-seen value for
// each key regardless of whether id was already sorted, and rewrites it
// in ascending key order via a temp file and an atomic rename. This is
// compaction phase 1: it establishes sortedness unconditionally.
func (s *Store) Dedupe(id ID) error {
	last := make(map[string]string)
	var keys []string
	if err := s.Scan(id, func(e ScanEntry) bool {
		if _, ok := last[e.Key]; !ok {
			keys = append(keys, e.Key)
		}
		last[e.Key] = e.Value
		return true
	}); err != nil {
		return err
	}

	sort.Strings(keys)
	entries := make([]Entry, len(keys))
	for i, k := range keys {
		entries[i] = Entry{Key: k, Value: last[k]}
	}

	return s.RewriteAtomic(id, entries)
}
