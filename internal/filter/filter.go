// Package filter implements the engine's membership filter: a bit-array
// predicate, sized from an expected cardinality and a false-positive
// probability, that answers "might key be on disk" with no false
// negatives.
package filter

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
)

// Config controls the filter's sizing and whether it is consulted at all.
type Config struct {
	ExpectedItems     int
	FalsePositiveProb float64
	Active            bool
}

// Validate reports a configuration failure without touching any state.
func (c Config) Validate() error {
	if c.ExpectedItems <= 0 {
		return fmt.Errorf("%w: expected_items must be positive, got %d", ErrInvalidConfig, c.ExpectedItems)
	}
	if c.FalsePositiveProb <= 0 || c.FalsePositiveProb >= 1 {
		return fmt.Errorf("%w: false_positive_prob must be in (0,1), got %v", ErrInvalidConfig, c.FalsePositiveProb)
	}
	return nil
}

// ErrInvalidConfig classifies a configuration failure.
var ErrInvalidConfig = fmt.Errorf("invalid filter configuration")

// Filter is the engine's membership predicate. It accumulates across the
// entire engine lifetime: neither flush nor compaction ever clears it.
type Filter struct {
	cfg  Config
	bits []uint64
	m    uint64 // bit array size
	k    int    // number of hash seeds
}

// New builds a fresh, empty filter from cfg. If cfg.Active is false the
// filter is a pass-through: Check always reports true and Add is a no-op.
func New(cfg Config) (*Filter, error) {
	if !cfg.Active {
		return &Filter{cfg: cfg}, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := sizeBits(cfg.ExpectedItems, cfg.FalsePositiveProb)
	k := hashCount(m, cfg.ExpectedItems)

	return &Filter{
		cfg:  cfg,
		bits: make([]uint64, (m+63)/64),
		m:    m,
		k:    k,
	}, nil
}

// sizeBits computes m = ceil(-n*ln(p) / (ln 2)^2).
func sizeBits(n int, p float64) uint64 {
	m := -(float64(n) * math.Log(p)) / (math.Ln2 * math.Ln2)
	return uint64(math.Ceil(m))
}

// hashCount computes k = max(1, floor((m/n) * ln 2)).
func hashCount(m uint64, n int) int {
	k := int(math.Floor((float64(m) / float64(n)) * math.Ln2))
	if k < 1 {
		k = 1
	}
	return k
}

// Add records key as present. A no-op if the filter is inactive.
func (f *Filter) Add(key string) {
	if !f.cfg.Active {
		return
	}
	for seed := 0; seed < f.k; seed++ {
		idx := f.hash(key, seed) % f.m
		f.bits[idx/64] |= 1 << (idx % 64)
	}
}

// Check reports whether key may be present. It returns false only if
// every one of the k bits for key is unset; it never returns a false
// negative for a key that was actually Add-ed. If the filter is
// inactive, Check always returns true (the filter is bypassed).
func (f *Filter) Check(key string) bool {
	if !f.cfg.Active {
		return true
	}
	for seed := 0; seed < f.k; seed++ {
		idx := f.hash(key, seed) % f.m
		if f.bits[idx/64]&(1<<(idx%64)) == 0 {
			return false
		}
	}
	return true
}

// hash is the filter's single keyed hash family: xxhash of key prefixed
// with an 8-byte seed, so every seed produces an independent digest of
// the same underlying algorithm.
func (f *Filter) hash(key string, seed int) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(seed))

	d := xxhash.New()
	d.Write(buf[:])
	d.Write([]byte(key))
	return d.Sum64()
}

// Active reports whether the filter is currently consulted by reads.
func (f *Filter) Active() bool {
	return f.cfg.Active
}

// Config returns the filter's current configuration.
func (f *Filter) Config() Config {
	return f.cfg
}

// State serializes the filter's bit array and sizing parameters so it can
// be restored verbatim from the database_metadata file.
func (f *Filter) State() []byte {
	if !f.cfg.Active {
		return nil
	}
	buf := make([]byte, 8+len(f.bits)*8)
	binary.LittleEndian.PutUint64(buf[0:8], f.m)
	for i, w := range f.bits {
		binary.LittleEndian.PutUint64(buf[8+i*8:8+(i+1)*8], w)
	}
	return buf
}

// Restore rebuilds a filter from cfg and a State() blob produced by a
// previous instance with the same cfg.
func Restore(cfg Config, state []byte) (*Filter, error) {
	if !cfg.Active || len(state) == 0 {
		return New(cfg)
	}
	if len(state) < 8 {
		return nil, fmt.Errorf("%w: filter state too short", ErrCorruptState)
	}

	m := binary.LittleEndian.Uint64(state[0:8])
	k := hashCount(m, cfg.ExpectedItems)
	words := state[8:]
	if len(words)%8 != 0 {
		return nil, fmt.Errorf("%w: filter state not word-aligned", ErrCorruptState)
	}

	bits := make([]uint64, len(words)/8)
	for i := range bits {
		bits[i] = binary.LittleEndian.Uint64(words[i*8 : (i+1)*8])
	}

	return &Filter{cfg: cfg, bits: bits, m: m, k: k}, nil
}

// ErrCorruptState classifies an integrity failure in persisted filter state.
var ErrCorruptState = fmt.Errorf("corrupt filter state")
