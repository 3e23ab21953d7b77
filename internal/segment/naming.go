package segment

import (
	"fmt"
	"strconv"
	"strings"
)

// ID is a segment name of the form "<basename>-<n>", n >= 1.
type ID string

// NewID builds the id for the n-th segment of basename.
func NewID(basename string, n int) ID {
	return ID(fmt.Sprintf("%s-%d", basename, n))
}

// split parses id into its basename and positive integer suffix.
func (id ID) split() (basename string, n int, err error) {
	s := string(id)
	i := strings.LastIndexByte(s, '-')
	if i < 0 {
		return "", 0, fmt.Errorf("%w: %q has no \"-<n>\" suffix", ErrInvalidID, s)
	}
	n, err = strconv.Atoi(s[i+1:])
	if err != nil || n < 1 {
		return "", 0, fmt.Errorf("%w: %q has a non-positive-integer suffix", ErrInvalidID, s)
	}
	return s[:i], n, nil
}

// ErrInvalidID classifies a malformed segment id.
var ErrInvalidID = fmt.Errorf("invalid segment id")

// Increment returns the id of the next segment after id: the same
// basename with its integer suffix incremented by one.
func (id ID) Increment() (ID, error) {
	basename, n, err := id.split()
	if err != nil {
		return "", err
	}
	return NewID(basename, n+1), nil
}

// Renormalise returns ids renumbered so their suffixes are 1..len(ids) in
// order, preserving each id's basename and the relative ordering of the
// input slice. It does not touch the filesystem; callers must Rename
// each changed file to match.
func Renormalise(ids []ID) ([]ID, error) {
	out := make([]ID, len(ids))
	for i, id := range ids {
		basename, _, err := id.split()
		if err != nil {
			return nil, err
		}
		out[i] = NewID(basename, i+1)
	}
	return out, nil
}
