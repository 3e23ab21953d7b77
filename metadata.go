package lsmdb

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"lsmdb/internal/segment"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const metadataFilename = "database_metadata"

// persistedMetadata is the self-describing record written to
// database_metadata. gob is used because it is Go's own self-describing
// encoding, and no third-party serialization library fits this role
// better (see DESIGN.md).
type persistedMetadata struct {
	CurrentSegment          segment.ID
	Segments                []segment.ID
	FilterActive            bool
	FilterExpectedItems     int
	FilterFalsePositiveProb float64
	FilterState             []byte
}

func metadataPath(dir string) string {
	return filepath.Join(dir, metadataFilename)
}

// loadMetadata reads database_metadata, if present. found is false when
// no metadata file exists yet (a brand new database).
func loadMetadata(dir string) (m persistedMetadata, found bool, err error) {
	data, err := os.ReadFile(metadataPath(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return persistedMetadata{}, false, nil
		}
		return persistedMetadata{}, false, fmt.Errorf("failed to read metadata file: %w", err)
	}

	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&m); err != nil {
		return persistedMetadata{}, false, fmt.Errorf("%w: metadata file is unparseable: %v", ErrCorrupt, err)
	}
	return m, true, nil
}

// save rewrites database_metadata atomically via a temp file and a rename.
func (m persistedMetadata) save(dir string) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	tmp := metadataPath(dir) + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write metadata temp file: %w", err)
	}
	if err := os.Rename(tmp, metadataPath(dir)); err != nil {
		return fmt.Errorf("failed to rename metadata into place: %w", err)
	}
	return nil
}

// reconcileSegments implements crash recovery: a segment file present on
// disk but absent from the persisted segment list is an orphan from a
// partial flush or compaction and is deleted; a segment listed in
// metadata but missing on disk is a corruption and is fatal. Orphan temp
// files left by an interrupted compaction are also swept.
//
// Listed segments are stat'd concurrently with errgroup: this is pure
// read-only fan-out performed during Open, before the engine accepts any
// writer, so it does not violate the single-writer model the rest of the
// engine relies on.
func reconcileSegments(log *zap.SugaredLogger, store *segment.Store, dir string, listed []segment.ID, walBasename string) error {
	g := new(errgroup.Group)
	for _, id := range listed {
		id := id
		g.Go(func() error {
			if !store.Exists(id) {
				return fmt.Errorf("%w: segment %q is listed in metadata but missing on disk", ErrCorrupt, id)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	wanted := make(map[segment.ID]bool, len(listed))
	for _, id := range listed {
		wanted[id] = true
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to list segments directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		switch {
		case name == metadataFilename, name == walBasename:
			continue
		case strings.HasSuffix(name, ".tmp"):
			if err := os.Remove(filepath.Join(dir, name)); err == nil {
				log.Warnw("orphan temp file deleted", "file", name)
			}
			continue
		}
		if wanted[segment.ID(name)] {
			continue
		}
		// Any other file that looks like a segment (has a "-<n>" suffix)
		// but isn't in the persisted list is an orphan from a crash
		// between a flush/merge's write and its metadata update.
		if _, err := segment.ID(name).Increment(); err == nil {
			if err := os.Remove(filepath.Join(dir, name)); err == nil {
				log.Warnw("orphan segment deleted", "segment", name)
			}
		}
	}
	return nil
}
