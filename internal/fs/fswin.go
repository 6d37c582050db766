//go:build windows

package fs

import "golang.org/x/sys/windows"

// Available returns the bytes the calling user may still write at path.
func Available(path string) (uint64, error) {
	pathPtr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, err
	}
	var free uint64
	if err := windows.GetDiskFreeSpaceEx(pathPtr, &free, nil, nil); err != nil {
		return 0, err
	}
	return free, nil
}
