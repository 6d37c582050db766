package fs

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedOS is returned when free space cannot be read on this operating system.
	ErrUnsupportedOS = errors.New("unsupported operating system for disk space check")
	// ErrInsufficientSpace is returned by EnsureSpace when the filesystem is too full.
	ErrInsufficientSpace = errors.New("insufficient disk space")
)

// EnsureSpace returns ErrInsufficientSpace if fewer than need bytes are free at path.
func EnsureSpace(path string, need uint64) error {
	free, err := Available(path)
	if err != nil {
		if errors.Is(err, ErrUnsupportedOS) {
			return err
		}
		return fmt.Errorf("failed to read free space of %s: %w", path, err)
	}
	if free < need {
		return fmt.Errorf("%w in %s: %d MiB free, %d MiB needed", ErrInsufficientSpace, path, free>>20, need>>20)
	}
	return nil
}
