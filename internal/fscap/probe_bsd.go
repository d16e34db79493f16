//go:build darwin || freebsd

package fscap

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

var networkTypeNames = map[string]bool{
	"nfs":    true,
	"smbfs":  true,
	"cifs":   true,
	"afpfs":  true,
	"webdav": true,
}

// Probe runs statfs(2) on path and classifies f_fstypename.
func Probe(path string) (Info, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return Info{}, fmt.Errorf("statfs %s: %w", path, err)
	}
	return classifyName(unix.ByteSliceToString(st.Fstypename[:])), nil
}

func classifyName(name string) Info {
	name = strings.ToLower(name)
	return Info{Type: name, Network: networkTypeNames[name]}
}
