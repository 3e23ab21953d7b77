package lsmdb

import (
	"fmt"
	"strings"
)

// validateKeyValue rejects an empty key, or a key/value containing
// either reserved delimiter. It never touches disk.
func validateKeyValue(key, value string) error {
	if key == "" {
		return fmt.Errorf("%w: key must not be empty", ErrInvalidKeyValue)
	}
	if strings.ContainsAny(key, ",\n") {
		return fmt.Errorf("%w: key %q contains a reserved delimiter", ErrInvalidKeyValue, key)
	}
	if strings.ContainsAny(value, ",\n") {
		return fmt.Errorf("%w: value for key %q contains a reserved delimiter", ErrInvalidKeyValue, key)
	}
	return nil
}

// recordLine renders key and value as the "key,value" line the WAL and
// segment files share, without a trailing newline (writers that need one
// add it themselves).
func recordLine(key, value string) string {
	return key + "," + value
}

// splitRecordLine parses a "key,value" line read back from the WAL
// during replay. A line with no delimiter is a corrupt WAL, not a
// validation failure: it was already validated once, by Set, before
// ever reaching disk.
func splitRecordLine(line string) (key, value string, err error) {
	i := strings.IndexByte(line, ',')
	if i < 0 {
		return "", "", fmt.Errorf("%w: WAL line %q has no delimiter", ErrCorrupt, line)
	}
	return line[:i], line[i+1:], nil
}
