//go:build windows

package fscap

import (
	"fmt"
	"strings"

	"golang.org/x/sys/windows"
)

// Probe resolves the volume holding path and reports remote drives as
// network filesystems.
func Probe(path string) (Info, error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return Info{}, fmt.Errorf("encode %s: %w", path, err)
	}

	volume := make([]uint16, windows.MAX_PATH+1)
	if err := windows.GetVolumePathName(p, &volume[0], uint32(len(volume))); err != nil {
		return Info{}, fmt.Errorf("resolve volume for %s: %w", path, err)
	}

	driveType := windows.GetDriveType(&volume[0])

	name := make([]uint16, windows.MAX_PATH+1)
	if err := windows.GetVolumeInformation(&volume[0], nil, 0, nil, nil, nil, &name[0], uint32(len(name))); err != nil {
		return Info{}, fmt.Errorf("query volume for %s: %w", path, err)
	}

	return classifyDrive(windows.UTF16ToString(name), driveType), nil
}

func classifyDrive(fsName string, driveType uint32) Info {
	fsName = strings.ToLower(fsName)
	network := driveType == windows.DRIVE_REMOTE
	switch fsName {
	case "cifs", "smb", "smb2":
		network = true
	}
	return Info{Type: fsName, Network: network}
}
