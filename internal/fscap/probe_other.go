//go:build !linux && !darwin && !freebsd && !windows

package fscap

import "fmt"

// Probe is not implemented on this platform.
func Probe(path string) (Info, error) {
	return Info{}, fmt.Errorf("statfs %s: %w", path, ErrUnsupported)
}
