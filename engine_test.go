package lsmdb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"lsmdb/internal/segment"
)

func TestEngine_SetGetBasic(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	if err := e.Set("alpha", "1"); err != nil {
		t.Fatal(err)
	}
	got, err := e.Get("alpha")
	if err != nil {
		t.Fatal(err)
	}
	if got != "1" {
		t.Errorf("Get(alpha) = %q, want %q", got, "1")
	}

	if _, err := e.Get("missing"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrKeyNotFound", err)
	}
}

func TestEngine_OverwriteInMemtable(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	if err := e.Set("k", "v1"); err != nil {
		t.Fatal(err)
	}
	if err := e.Set("k", "v2"); err != nil {
		t.Fatal(err)
	}
	if e.mt.Len() != 1 {
		t.Fatalf("memtable has %d keys, want 1 (overwrite must not grow it)", e.mt.Len())
	}
	got, err := e.Get("k")
	if err != nil {
		t.Fatal(err)
	}
	if got != "v2" {
		t.Errorf("Get(k) = %q, want %q", got, "v2")
	}
}

func TestEngine_InvalidKeyValueRejected(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	cases := map[string]struct {
		key, value string
	}{
		"empty key":        {"", "v"},
		"comma in key":     {"a,b", "v"},
		"newline in value": {"k", "v\nv"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if err := e.Set(tc.key, tc.value); !errors.Is(err, ErrInvalidKeyValue) {
				t.Errorf("Set(%q, %q) error = %v, want ErrInvalidKeyValue", tc.key, tc.value, err)
			}
		})
	}
}

func TestEngine_ThresholdTriggersFlush(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, WithThreshold(10))
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	if err := e.Set("aaaa", "bbbb"); err != nil {
		t.Fatal(err)
	}
	if len(e.segments) != 0 {
		t.Fatalf("segments = %v, want none yet", e.segments)
	}

	if err := e.Set("cccc", "dddd"); err != nil {
		t.Fatal(err)
	}
	if len(e.segments) != 1 {
		t.Fatalf("segments = %v, want exactly one flushed segment", e.segments)
	}

	for _, key := range []string{"aaaa", "cccc"} {
		if _, err := e.Get(key); err != nil {
			t.Errorf("Get(%q) after flush: %v", key, err)
		}
	}
}

func TestEngine_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, WithThreshold(10))
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Set("aaaa", "bbbb"); err != nil {
		t.Fatal(err)
	}
	if err := e.Set("cccc", "dddd"); err != nil {
		t.Fatal(err)
	}
	if err := e.Set("pending", "v"); err != nil {
		t.Fatal(err)
	}
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(dir, WithThreshold(10))
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	for _, key := range []string{"aaaa", "cccc", "pending"} {
		if _, err := reopened.Get(key); err != nil {
			t.Errorf("Get(%q) after reopen: %v", key, err)
		}
	}
	if reopened.mt.Len() != 1 {
		t.Errorf("reopened memtable has %d keys, want 1 (only the WAL-replayed pending write)", reopened.mt.Len())
	}
}

func TestEngine_CompactDedupesAndMerges(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, WithThreshold(8))
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	for i := 0; i < 3; i++ {
		if err := e.Set("1", fmt.Sprintf("t%d", i*3+1)); err != nil {
			t.Fatal(err)
		}
		if err := e.Set("2", fmt.Sprintf("t%d", i*3+2)); err != nil {
			t.Fatal(err)
		}
		if err := e.Set("3", fmt.Sprintf("t%d", i*3+3)); err != nil {
			t.Fatal(err)
		}
	}
	// Flush whatever remains so every write lands in a segment.
	if err := e.flush(); err != nil {
		t.Fatal(err)
	}

	if err := e.Compact(); err != nil {
		t.Fatal(err)
	}

	for _, key := range []string{"1", "2", "3"} {
		if _, err := e.Get(key); err != nil {
			t.Errorf("Get(%q) after compact: %v", key, err)
		}
	}
}

// TestEngine_FlushDropsSupersededKeysWithoutCompact drives two
// threshold-triggered flushes so the second one's pre-flush compaction
// drops keys out of the first segment, then inspects the raw segment
// file on disk before Compact ever runs. TestEngine_CompactDedupesAndMerges
// can't catch a bug here: it always finishes with a Compact() call, which
// would dedupe and re-sort right over a broken DropKeys.
func TestEngine_FlushDropsSupersededKeysWithoutCompact(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, WithThreshold(9))
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	for _, kv := range [][2]string{{"1", "aa"}, {"2", "bb"}, {"3", "cc"}, {"4", "dd"}} {
		if err := e.Set(kv[0], kv[1]); err != nil {
			t.Fatal(err)
		}
	}
	if len(e.segments) != 1 {
		t.Fatalf("segments = %v, want exactly one flushed segment", e.segments)
	}
	firstSegment := e.segments[0]

	// Re-set "2" (superseding it) and add two brand new keys; the third
	// Set below overflows the threshold and forces a second flush, whose
	// preFlushCompact must drop "2" from firstSegment.
	for _, kv := range [][2]string{{"2", "BB"}, {"5", "ee"}, {"6", "ff"}} {
		if err := e.Set(kv[0], kv[1]); err != nil {
			t.Fatal(err)
		}
	}
	if len(e.segments) != 2 {
		t.Fatalf("segments = %v, want exactly two flushed segments", e.segments)
	}

	got, err := os.ReadFile(filepath.Join(dir, string(firstSegment)))
	if err != nil {
		t.Fatal(err)
	}
	want := "1,aa\n3,cc\n"
	if string(got) != want {
		t.Errorf("first segment after pre-flush compaction = %q, want %q (only the superseded key dropped, remainder untouched and in its original order)", got, want)
	}

	secondSegment := e.segments[1]
	got2, err := os.ReadFile(filepath.Join(dir, string(secondSegment)))
	if err != nil {
		t.Fatal(err)
	}
	want2 := "2,BB\n4,dd\n5,ee\n"
	if string(got2) != want2 {
		t.Errorf("second segment = %q, want %q", got2, want2)
	}
}

// TestEngine_CompactRespectsThresholdAcrossSegments mirrors the documented
// three-segment compaction scenario: the first two segments merge because
// their deduped sizes stay within the threshold, but pulling in the third
// would exceed it, so it survives as its own segment.
func TestEngine_CompactRespectsThresholdAcrossSegments(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, WithThreshold(28))
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	seed := func(id segment.ID, entries []segment.Entry) {
		if _, err := e.store.WriteSorted(id, entries); err != nil {
			t.Fatal(err)
		}
	}
	seed("db-1", []segment.Entry{
		{Key: "1", Value: "four"}, {Key: "2", Value: "bomb"},
		{Key: "1", Value: "john"}, {Key: "2", Value: "long"},
	})
	seed("db-2", []segment.Entry{
		{Key: "3", Value: "gone"}, {Key: "4", Value: "girl"},
		{Key: "3", Value: "woot"}, {Key: "4", Value: "chew"},
	})
	seed("db-3", []segment.Entry{
		{Key: "5", Value: "noob"}, {Key: "6", Value: "fear"},
		{Key: "5", Value: "love"}, {Key: "6", Value: "osrs"},
	})
	e.segments = []segment.ID{"db-1", "db-2", "db-3"}
	e.currentSegment = "db-4"

	if err := e.Compact(); err != nil {
		t.Fatal(err)
	}

	if len(e.segments) != 2 {
		t.Fatalf("segments after compact = %v, want exactly 2", e.segments)
	}

	first, err := os.ReadFile(filepath.Join(dir, string(e.segments[0])))
	if err != nil {
		t.Fatal(err)
	}
	wantFirst := "1,john\n2,long\n3,woot\n4,chew\n"
	if string(first) != wantFirst {
		t.Errorf("first surviving segment = %q, want %q", first, wantFirst)
	}

	second, err := os.ReadFile(filepath.Join(dir, string(e.segments[1])))
	if err != nil {
		t.Fatal(err)
	}
	wantSecond := "5,love\n6,osrs\n"
	if string(second) != wantSecond {
		t.Errorf("second surviving segment = %q, want %q", second, wantSecond)
	}

	if e.store.Exists("db-3") {
		t.Error("db-3 should no longer exist after compaction renamed it to db-2")
	}
}

func TestEngine_ReconfigureThresholdAndSparsity(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	if err := e.SetThreshold(0); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("SetThreshold(0) error = %v, want ErrInvalidConfig", err)
	}
	if err := e.SetThreshold(100); err != nil {
		t.Fatal(err)
	}
	if e.cfg.threshold != 100 {
		t.Errorf("threshold = %d, want 100", e.cfg.threshold)
	}

	if err := e.SetSparsityFactor(-1); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("SetSparsityFactor(-1) error = %v, want ErrInvalidConfig", err)
	}
	if err := e.SetSparsityFactor(5); err != nil {
		t.Fatal(err)
	}
}

func TestEngine_SetFilterReplacesFilter(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	if err := e.SetFilter(100, 0.01, true); err != nil {
		t.Fatal(err)
	}
	if !e.filt.Active() {
		t.Fatal("filter should be active after SetFilter")
	}

	if err := e.Set("k", "v"); err != nil {
		t.Fatal(err)
	}
	if !e.filt.Check("k") {
		t.Error("filter should report k as possibly present after Set")
	}
}
