// Package walfile implements the write-ahead log that makes memtable
// mutations durable before they are acknowledged to the caller.
package walfile

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

// WAL is an append-only, fsync-on-write log of pending memtable mutations.
// Only one WAL exists per engine lifetime.
type WAL struct {
	path string
	f    *os.File
}

// Replay reads every line of the WAL at path in order, calling fn for each
// one. It is used at startup, before Open, to reconstruct the memtable. If
// path does not exist, Replay returns (false, nil): there is nothing to
// recover from.
func Replay(path string, fn func(line string) error) (found bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to open WAL file for replay: %w", err)
	}
	defer f.Close()

	s := bufio.NewScanner(f)
	for s.Scan() {
		if err := fn(s.Text()); err != nil {
			return true, err
		}
	}
	if err := s.Err(); err != nil {
		return true, fmt.Errorf("failed to read WAL file during replay: %w", err)
	}
	return true, nil
}

// Open opens (creating if necessary) the WAL file at path for appending.
// Replay must be called, if at all, before Open: Open does not truncate an
// existing file, it only positions the write cursor at the end.
func Open(path string) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}
	return &WAL{path: path, f: f}, nil
}

// Append appends line (without a trailing newline; Append adds one) to the
// WAL and fsyncs it before returning, so a subsequent read by another
// handle observes it.
func (w *WAL) Append(line string) error {
	if _, err := io.WriteString(w.f, line+"\n"); err != nil {
		return fmt.Errorf("failed to append to WAL file: %w", err)
	}
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("failed to fsync WAL file: %w", err)
	}
	return nil
}

// Clear truncates the WAL to zero length. Called exactly when the
// memtable has been successfully persisted to a new segment.
func (w *WAL) Clear() error {
	if err := w.f.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate WAL file: %w", err)
	}
	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek WAL file after truncate: %w", err)
	}
	return nil
}

// Close closes the WAL file.
func (w *WAL) Close() error {
	return w.f.Close()
}
