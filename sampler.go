package lsmdb

// sampler decides, one call at a time, which entries of an ascending
// traversal land in the sparse index. Flushing a memtable and rebuilding
// the index after compaction both walk entries in key order and sample
// every stride-th one, so they share this counter.
type sampler struct {
	stride  int
	counter int
}

func newSampler(stride int) *sampler {
	if stride < 1 {
		stride = 1
	}
	return &sampler{stride: stride, counter: stride}
}

// sample reports whether the current entry should be indexed. It counts
// down and resets on every hit rather than using a modulo check, so the
// sampled phase restarts relative to the last indexed entry.
func (s *sampler) sample() bool {
	hit := s.counter == 1
	if hit {
		s.counter = s.stride + 1
	}
	s.counter--
	return hit
}

// stride derives the sparse index's sampling interval from the current
// threshold and sparsity factor.
func (c Config) stride() int {
	n := c.threshold / c.sparsityFactor
	if n < 1 {
		n = 1
	}
	return n
}
