//go:build !windows

package diskspace

import (
	"golang.org/x/sys/unix"
)

// Available returns the bytes available to unprivileged users on the file
// system containing dir.
func Available(dir string) (int64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return 0, ErrUnknown
	}
	// Bavail excludes blocks reserved for root.
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}
