package lsmdb

import (
	"fmt"

	"lsmdb/internal/filter"

	"go.uber.org/zap"
)

const (
	// DefaultThreshold is the default memtable flush threshold in bytes.
	DefaultThreshold = 1_000_000

	// DefaultSparsityFactor is the default sparse-index sampling divisor.
	DefaultSparsityFactor = 100

	// DefaultSegmentBasename names the first segment "<basename>-1" when no metadata exists yet.
	DefaultSegmentBasename = "db"

	// DefaultWALBasename names the write-ahead log file when none is configured.
	DefaultWALBasename = "wal"
)

// Config contains database settings, updated with ConfigOption functions.
type Config struct {
	threshold       int
	sparsityFactor  int
	filter          filter.Config
	segmentBasename string
	walBasename     string
	logger          *zap.SugaredLogger
}

func defaultConfig() Config {
	return Config{
		threshold:       DefaultThreshold,
		sparsityFactor:  DefaultSparsityFactor,
		filter:          filter.Config{Active: false},
		segmentBasename: DefaultSegmentBasename,
		walBasename:     DefaultWALBasename,
	}
}

// ConfigOption changes a default database setting.
type ConfigOption func(*Config)

// WithThreshold sets the memtable flush threshold in bytes.
func WithThreshold(threshold int) ConfigOption {
	return func(c *Config) {
		c.threshold = threshold
	}
}

// WithSparsityFactor sets the divisor used to derive the sparse index's
// sampling stride from the threshold.
func WithSparsityFactor(factor int) ConfigOption {
	return func(c *Config) {
		c.sparsityFactor = factor
	}
}

// WithFilter configures the membership filter of a new database. It only
// takes effect when no metadata file exists yet: an existing database
// restores its filter configuration and state from database_metadata and
// ignores this option. Use SetFilter to reconfigure the filter after Open.
func WithFilter(expectedItems int, falsePositiveProb float64, active bool) ConfigOption {
	return func(c *Config) {
		c.filter = filter.Config{
			ExpectedItems:     expectedItems,
			FalsePositiveProb: falsePositiveProb,
			Active:            active,
		}
	}
}

// WithSegmentBasename sets the basename used to mint new segment ids
// when no metadata file exists yet.
func WithSegmentBasename(basename string) ConfigOption {
	return func(c *Config) {
		c.segmentBasename = basename
	}
}

// WithWALBasename sets the filename of the write-ahead log.
func WithWALBasename(basename string) ConfigOption {
	return func(c *Config) {
		c.walBasename = basename
	}
}

// WithLogger attaches a structured logger. If unset, Open uses a no-op logger.
func WithLogger(logger *zap.SugaredLogger) ConfigOption {
	return func(c *Config) {
		c.logger = logger
	}
}

// validate reports a configuration failure without touching any state.
func (c Config) validate() error {
	if c.threshold <= 0 {
		return fmt.Errorf("%w: threshold must be positive, got %d", ErrInvalidConfig, c.threshold)
	}
	if c.sparsityFactor <= 0 {
		return fmt.Errorf("%w: sparsity factor must be positive, got %d", ErrInvalidConfig, c.sparsityFactor)
	}
	if c.filter.Active {
		if err := c.filter.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	return nil
}
