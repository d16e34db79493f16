//go:build !unix

package cache

// syncDir is a no-op where directories cannot be opened for fsync.
func syncDir(string) error {
	return nil
}
