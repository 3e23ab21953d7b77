// Package lsmdb implements an embedded, single-process key-value store
// backed by a log-structured merge tree: writes land in an in-memory
// memtable and a write-ahead log, and are periodically flushed to
// immutable, sorted segment files on disk which a background-free,
// caller-invoked Compact pass later dedupes and merges.
package lsmdb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"lsmdb/internal/filter"
	"lsmdb/internal/memtable"
	"lsmdb/internal/segment"
	"lsmdb/internal/sparseindex"
	"lsmdb/internal/walfile"

	"go.uber.org/zap"
)

// Engine is a single open database. It is not safe for concurrent use
// from multiple goroutines without external synchronization: it is a
// single synchronous writer, and every exported method has unrestricted
// access to shared state.
type Engine struct {
	dir string
	cfg Config
	log *zap.SugaredLogger

	mt     *memtable.Memtable
	wal    *walfile.WAL
	filt   *filter.Filter
	store  *segment.Store
	index  *sparseindex.Index

	segments       []segment.ID // oldest first, persisted order
	currentSegment segment.ID   // not yet flushed

	lock *os.File
}

// Open opens (creating if necessary) the database rooted at dir: take the
// directory lock, load or initialize database_metadata, reconcile the
// persisted segment list against what's actually on disk, replay the WAL
// into a fresh memtable, and rebuild the sparse index by re-scanning
// every segment.
func Open(dir string, opts ...ConfigOption) (*Engine, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	log := cfg.logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	lock, err := lockDir(dir)
	if err != nil {
		return nil, err
	}
	closeOnErr := func(err error) (*Engine, error) {
		unlockDir(lock)
		return nil, err
	}

	meta, found, err := loadMetadata(dir)
	if err != nil {
		return closeOnErr(err)
	}
	if !found {
		meta = persistedMetadata{
			CurrentSegment:          segment.NewID(cfg.segmentBasename, 1),
			FilterActive:            cfg.filter.Active,
			FilterExpectedItems:     cfg.filter.ExpectedItems,
			FilterFalsePositiveProb: cfg.filter.FalsePositiveProb,
		}
	}

	store := segment.NewStore(dir)
	if err := reconcileSegments(log, store, dir, meta.Segments, cfg.walBasename); err != nil {
		return closeOnErr(err)
	}

	var filt *filter.Filter
	if found {
		filtCfg := filter.Config{
			ExpectedItems:     meta.FilterExpectedItems,
			FalsePositiveProb: meta.FilterFalsePositiveProb,
			Active:            meta.FilterActive,
		}
		filt, err = filter.Restore(filtCfg, meta.FilterState)
	} else {
		filt, err = filter.New(cfg.filter)
	}
	if err != nil {
		return closeOnErr(err)
	}

	mt := memtable.New()
	walPath := filepath.Join(dir, cfg.walBasename)
	if _, err := walfile.Replay(walPath, func(line string) error {
		key, value, err := splitRecordLine(line)
		if err != nil {
			return err
		}
		mt.Add(key, value)
		return nil
	}); err != nil {
		return closeOnErr(err)
	}
	var totalBytes int
	mt.InOrder(func(key, value string) bool {
		totalBytes += len(key) + len(value)
		return true
	})
	mt.TotalBytes = totalBytes

	wal, err := walfile.Open(walPath)
	if err != nil {
		return closeOnErr(err)
	}

	idx := sparseindex.New()
	for _, id := range meta.Segments {
		sp := newSampler(cfg.stride())
		if err := store.Scan(id, func(e segment.ScanEntry) bool {
			if sp.sample() {
				idx.Add(e.Key, id, e.Offset)
			}
			return true
		}); err != nil {
			wal.Close()
			return closeOnErr(fmt.Errorf("%w: %v", ErrCorrupt, err))
		}
	}

	e := &Engine{
		dir:            dir,
		cfg:            cfg,
		log:            log,
		mt:             mt,
		wal:            wal,
		filt:           filt,
		store:          store,
		index:          idx,
		segments:       meta.Segments,
		currentSegment: meta.CurrentSegment,
		lock:           lock,
	}
	e.log.Infow("database opened", "dir", dir, "segments", len(e.segments), "memtable_entries", mt.Len())
	return e, nil
}

// Set writes key=value. The WAL record is fsynced before the memtable or
// filter is touched, so a crash between the two never loses an
// acknowledged write. If key is already present in the memtable its
// value is updated in place and the call returns immediately, without
// touching total_bytes or the filter again.
func (e *Engine) Set(key, value string) error {
	if err := validateKeyValue(key, value); err != nil {
		return err
	}

	if e.mt.Contains(key) {
		if err := e.wal.Append(recordLine(key, value)); err != nil {
			return fmt.Errorf("failed to make write durable: %w", err)
		}
		e.mt.Add(key, value)
		return nil
	}

	additional := len(key) + len(value)
	if e.mt.TotalBytes+additional > e.cfg.threshold {
		if err := e.flush(); err != nil {
			return err
		}
	}

	if err := e.wal.Append(recordLine(key, value)); err != nil {
		return fmt.Errorf("failed to make write durable: %w", err)
	}
	e.mt.Add(key, value)
	e.mt.TotalBytes += additional
	e.filt.Add(key)
	return nil
}

// Get returns the value last written for key. It returns ErrKeyNotFound
// when no value for key is found in the memtable or any segment: absence
// is not a failure.
func (e *Engine) Get(key string) (string, error) {
	if e.filt.Active() && !e.filt.Check(key) {
		return "", ErrKeyNotFound
	}

	if v, ok := e.mt.Find(key); ok {
		return v, nil
	}

	if _, ptr, ok := e.index.Floor(key); ok {
		v, found, err := e.scanFromPointer(ptr, key)
		if err != nil {
			return "", err
		}
		if found {
			return v, nil
		}
	}

	for i := len(e.segments) - 1; i >= 0; i-- {
		v, found, err := e.scanSegment(e.segments[i], key)
		if err != nil {
			return "", err
		}
		if found {
			return v, nil
		}
	}
	return "", ErrKeyNotFound
}

// scanFromPointer resumes a scan at a sparse index pointer and stops as
// soon as a key greater than target is seen: since segments are sorted,
// that is a safe early exit, key found or not.
func (e *Engine) scanFromPointer(ptr sparseindex.Pointer, key string) (string, bool, error) {
	var value string
	var found bool
	err := e.store.ScanFrom(ptr.Segment, ptr.Offset, func(se segment.ScanEntry) bool {
		switch {
		case se.Key == key:
			value, found = se.Value, true
			return false
		case se.Key > key:
			return false
		default:
			return true
		}
	})
	return value, found, err
}

func (e *Engine) scanSegment(id segment.ID, key string) (string, bool, error) {
	var value string
	var found bool
	err := e.store.Scan(id, func(se segment.ScanEntry) bool {
		if se.Key == key {
			value, found = se.Value, true
			return false
		}
		return true
	})
	return value, found, err
}

// flush drops memtable keys that supersede existing segment records from
// those segments before writing the new one, writes the memtable out as
// a new sorted segment, samples it into the sparse index, then resets
// the memtable and WAL.
func (e *Engine) flush() error {
	if err := e.preFlushCompact(); err != nil {
		return fmt.Errorf("pre-flush compaction failed: %w", err)
	}

	var entries []segment.Entry
	e.mt.InOrder(func(key, value string) bool {
		entries = append(entries, segment.Entry{Key: key, Value: value})
		return true
	})

	offsets, err := e.store.WriteSorted(e.currentSegment, entries)
	if err != nil {
		return fmt.Errorf("failed to flush memtable to segment %q: %w", e.currentSegment, err)
	}

	sp := newSampler(e.cfg.stride())
	for i, en := range entries {
		if sp.sample() {
			e.index.Add(en.Key, e.currentSegment, offsets[i])
		}
	}

	e.segments = append(e.segments, e.currentSegment)
	next, err := e.currentSegment.Increment()
	if err != nil {
		return err
	}
	e.currentSegment = next

	e.mt = memtable.New()
	if err := e.wal.Clear(); err != nil {
		return fmt.Errorf("failed to clear WAL after flush: %w", err)
	}

	e.log.Infow("memtable flushed", "segment", e.segments[len(e.segments)-1], "entries", len(entries))
	return e.saveMetadata()
}

// preFlushCompact removes, from every existing segment, each memtable
// key that the membership filter reports as possibly on disk: that key's
// value in the new segment will supersede the old one, so the stale copy
// would only be dead weight until the next full compaction. Keys the
// filter reports as absent are skipped. This rewrite does not re-sort or
// re-dedupe the segment; it only drops lines. Dropping lines shifts the
// byte offsets of the lines after them, so the sparse index is rebuilt
// from the rewritten segments afterwards.
func (e *Engine) preFlushCompact() error {
	if len(e.segments) == 0 {
		return nil
	}

	drop := make(map[string]bool)
	e.mt.InOrder(func(key, _ string) bool {
		if e.filt.Check(key) {
			drop[key] = true
		}
		return true
	})
	if len(drop) == 0 {
		return nil
	}

	for _, id := range e.segments {
		if err := e.store.DropKeys(id, drop); err != nil {
			return fmt.Errorf("failed to drop superseded keys from segment %q: %w", id, err)
		}
	}

	e.index.Clear()
	for _, id := range e.segments {
		sp := newSampler(e.cfg.stride())
		if err := e.store.Scan(id, func(se segment.ScanEntry) bool {
			if sp.sample() {
				e.index.Add(se.Key, id, se.Offset)
			}
			return true
		}); err != nil {
			return fmt.Errorf("failed to rebuild sparse index from segment %q: %w", id, err)
		}
	}
	return nil
}

// Compact runs the three-phase compaction engine: dedupe each segment to
// its last-written value per key, merge adjacent segments whose combined
// size stays within the threshold, renormalise the surviving segment
// names, and rebuild the sparse index from scratch against the new
// layout.
func (e *Engine) Compact() error {
	for _, id := range e.segments {
		if err := e.store.Dedupe(id); err != nil {
			return fmt.Errorf("%w: dedupe of segment %q failed: %v", ErrCorrupt, id, err)
		}
	}

	remaining := append([]segment.ID(nil), e.segments...)
	var merged []segment.ID
	for len(remaining) > 1 {
		left, right := remaining[0], remaining[1]
		leftSize, err := e.store.Size(left)
		if err != nil {
			return err
		}
		rightSize, err := e.store.Size(right)
		if err != nil {
			return err
		}

		if leftSize+rightSize > int64(e.cfg.threshold) {
			merged = append(merged, left)
			remaining = remaining[1:]
			continue
		}

		if err := e.store.MergeAdjacent(left, right); err != nil {
			return fmt.Errorf("failed to merge segments %q and %q: %w", left, right, err)
		}
		remaining = append([]segment.ID{left}, remaining[2:]...)
	}
	result := append(merged, remaining...)

	renamed, err := segment.Renormalise(result)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	for i := range result {
		if result[i] != renamed[i] {
			if err := e.store.Rename(result[i], renamed[i]); err != nil {
				return err
			}
		}
	}
	e.segments = renamed

	e.index.Clear()
	for _, id := range e.segments {
		sp := newSampler(e.cfg.stride())
		if err := e.store.Scan(id, func(se segment.ScanEntry) bool {
			if sp.sample() {
				e.index.Add(se.Key, id, se.Offset)
			}
			return true
		}); err != nil {
			return fmt.Errorf("failed to rebuild sparse index from segment %q: %w", id, err)
		}
	}

	e.log.Infow("compaction complete", "segments", len(e.segments))
	return e.saveMetadata()
}

// SetThreshold reconfigures the memtable flush threshold, in bytes, for
// subsequent writes.
func (e *Engine) SetThreshold(threshold int) error {
	if threshold <= 0 {
		return fmt.Errorf("%w: threshold must be positive, got %d", ErrInvalidConfig, threshold)
	}
	e.cfg.threshold = threshold
	return nil
}

// SetSparsityFactor reconfigures the divisor used to derive the sparse
// index's sampling stride from the threshold. It only affects entries
// sampled after this call; existing sparse index entries are untouched
// until the next flush or compaction resamples them.
func (e *Engine) SetSparsityFactor(factor int) error {
	if factor <= 0 {
		return fmt.Errorf("%w: sparsity factor must be positive, got %d", ErrInvalidConfig, factor)
	}
	e.cfg.sparsityFactor = factor
	return nil
}

// SetFilter replaces the membership filter with a freshly sized, empty
// one. Per the open question recorded in DESIGN.md, this deliberately
// does not replay existing keys into the new filter: a reconfiguration
// immediately after Open, before any Set calls, is sound; doing it
// later reopens a window where Get can return ErrKeyNotFound for a key
// that is genuinely on disk, until that key is rewritten.
func (e *Engine) SetFilter(expectedItems int, falsePositiveProb float64, active bool) error {
	cfg := filter.Config{
		ExpectedItems:     expectedItems,
		FalsePositiveProb: falsePositiveProb,
		Active:            active,
	}
	f, err := filter.New(cfg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	e.filt = f
	e.cfg.filter = cfg
	return nil
}

// Close persists metadata, closes the WAL, and releases the directory
// lock. It is safe to call once; the Engine must not be used afterward.
func (e *Engine) Close() error {
	var errs []error
	if err := e.saveMetadata(); err != nil {
		errs = append(errs, err)
	}
	if err := e.wal.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close WAL: %w", err))
	}
	if err := unlockDir(e.lock); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		e.log.Errorw("database close failed", "dir", e.dir, "error", err)
		return err
	}
	e.log.Infow("database closed", "dir", e.dir, "segments", len(e.segments))
	return nil
}

func (e *Engine) saveMetadata() error {
	m := persistedMetadata{
		CurrentSegment:          e.currentSegment,
		Segments:                e.segments,
		FilterActive:            e.filt.Active(),
		FilterExpectedItems:     e.filt.Config().ExpectedItems,
		FilterFalsePositiveProb: e.filt.Config().FalsePositiveProb,
		FilterState:             e.filt.State(),
	}
	if err := m.save(e.dir); err != nil {
		return fmt.Errorf("failed to persist database metadata: %w", err)
	}
	return nil
}
