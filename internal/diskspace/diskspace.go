// Package diskspace reports free space on the file system holding the
// archive and recognizes out-of-space errors.
package diskspace

import (
	"errors"
	"strings"
)

// ErrUnknown is returned when free space cannot be determined (network or
// virtual file systems).
var ErrUnknown = errors.New("available space unknown")

// IsDiskFullError checks if an error is likely caused by running out of
// disk space. The check is on the message so it also catches errors that
// were wrapped without %w.
//
// Checks for common error strings across different operating systems:
//   - Linux/Unix: "no space left on device", "enospc"
//   - Windows: "there is not enough space on the disk"
//   - Quota: "disk quota exceeded"
func IsDiskFullError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	for _, indicator := range []string{
		"no space left on device",
		"enospc",
		"not enough space on the disk",
		"disk quota exceeded",
		"disk full",
	} {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}
	return false
}
