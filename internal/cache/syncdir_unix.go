//go:build unix

package cache

import "os"

// syncDir fsyncs a directory so a completed rename survives a power loss.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close() //nolint:errcheck // read-only handle

	return d.Sync()
}
