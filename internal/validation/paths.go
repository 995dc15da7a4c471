// Package validation provides input validation for values that end up in
// file system paths.
package validation

import (
	"fmt"
	"strings"
)

// ValidateFilename validates a single path component. Config values such
// as the server name and volume identifiers are joined into paths, so they
// must not be able to climb out of their parent directory.
//
// Returns an error if the name:
//   - Is empty
//   - Contains path separators (/ or \)
//   - Is "." or ".."
//   - Contains null bytes
func ValidateFilename(name string) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}

	if strings.ContainsRune(name, 0) {
		return fmt.Errorf("name contains null byte: %q", name)
	}

	if strings.ContainsRune(name, '/') || strings.ContainsRune(name, '\\') {
		return fmt.Errorf("name cannot contain path separators: %s", name)
	}

	// Names like "world..old" are fine.
	if name == "." || name == ".." {
		return fmt.Errorf("name cannot be %q", name)
	}

	return nil
}
