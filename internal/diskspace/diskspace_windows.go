//go:build windows

package diskspace

import (
	"golang.org/x/sys/windows"
)

// Available returns the bytes available to the caller on the volume
// containing dir.
func Available(dir string) (int64, error) {
	p, err := windows.UTF16PtrFromString(dir)
	if err != nil {
		return 0, ErrUnknown
	}
	var free, total, totalFree uint64
	if err := windows.GetDiskFreeSpaceEx(p, &free, &total, &totalFree); err != nil {
		return 0, ErrUnknown
	}
	return int64(free), nil
}
