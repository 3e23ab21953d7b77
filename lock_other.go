//go:build !darwin && !linux

package lsmdb

import "os"

// lockDir is a no-op on platforms without flock; the engine still works,
// it just can't detect a second process opening the same directory.
func lockDir(dir string) (*os.File, error) {
	return nil, nil
}

func unlockDir(f *os.File) error {
	return nil
}
