package lsmdb

// Error defines lsmdb's sentinel error values: no error-code registry,
// just comparable constants that call sites wrap with
// fmt.Errorf("...: %w", err) and that callers unwrap with errors.Is.
type Error string

func (e Error) Error() string {
	return string(e)
}

const (
	// ErrKeyNotFound is returned by Get when no value for the key is found
	// in the memtable or in any segment. Not-found is not
	// an error condition; it is returned, not propagated as a failure,
	// but modeled as a sentinel so callers can use errors.Is.
	ErrKeyNotFound = Error("lsmdb: key not found")

	// ErrInvalidKeyValue classifies an input validation failure: an empty
	// key, or a key/value containing a reserved delimiter.
	ErrInvalidKeyValue = Error("lsmdb: key or value is empty or contains a reserved delimiter")

	// ErrInvalidConfig classifies a configuration failure: a non-positive
	// threshold or sparsity factor, or a filter configuration rejected by
	// the filter package.
	ErrInvalidConfig = Error("lsmdb: invalid configuration")

	// ErrCorrupt classifies an integrity failure: an unparseable metadata
	// file, a segment record that cannot be split on its delimiter, or a
	// segment listed in metadata but missing on disk. The engine refuses
	// to open when this occurs at startup.
	ErrCorrupt = Error("lsmdb: database is corrupt")
)
