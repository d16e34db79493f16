//go:build linux

package fscap

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// statfs f_type values.
const (
	magicExt4    = 0xEF53
	magicXFS     = 0x58465342
	magicBtrfs   = 0x9123683E
	magicTmpfs   = 0x01021994
	magicOverlay = 0x794C7630
	magicZFS     = 0x2FC12FC1
	magicMSDOS   = 0x4D44
	magicVFAT    = 0x5646
	magicExFAT   = 0x2011BAB0
	magicNFS     = 0x6969
	magicSMB     = 0x517B
	magicCIFS    = 0xFF534D42
	magicSMB2    = 0xFE534D42
	magicAFS     = 0x5346414F
	magicCoda    = 0x73757245
	magicV9FS    = 0x01021997
	magicCeph    = 0x00C36400
)

var linuxFilesystems = map[uint32]Info{
	magicExt4:    {Type: "ext4"},
	magicXFS:     {Type: "xfs"},
	magicBtrfs:   {Type: "btrfs"},
	magicTmpfs:   {Type: "tmpfs"},
	magicOverlay: {Type: "overlay"},
	magicZFS:     {Type: "zfs"},
	magicMSDOS:   {Type: "msdos"},
	magicVFAT:    {Type: "vfat"},
	magicExFAT:   {Type: "exfat"},
	magicNFS:     {Type: "nfs", Network: true},
	magicSMB:     {Type: "smb", Network: true},
	magicCIFS:    {Type: "cifs", Network: true},
	magicSMB2:    {Type: "smb2", Network: true},
	magicAFS:     {Type: "afs", Network: true},
	magicCoda:    {Type: "coda", Network: true},
	magicV9FS:    {Type: "9p", Network: true},
	magicCeph:    {Type: "ceph", Network: true},
}

// Probe runs statfs(2) on path.
func Probe(path string) (Info, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return Info{}, fmt.Errorf("statfs %s: %w", path, err)
	}
	return classifyMagic(uint32(st.Type)), nil //nolint:gosec // f_type is a 32-bit magic on every arch
}

func classifyMagic(magic uint32) Info {
	if info, ok := linuxFilesystems[magic]; ok {
		return info
	}
	return Info{Type: fmt.Sprintf("0x%x", magic)}
}
