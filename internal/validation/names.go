// Package validation checks user-supplied names and destinations before they
// reach the remote repository.
package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/portalworks/docbrowse/internal/constants"
	"github.com/portalworks/docbrowse/internal/models"
)

// ErrInvalid is wrapped by every validation failure
var ErrInvalid = errors.New("invalid input")

// InvalidNameChars are rejected anywhere in a file or folder name
const InvalidNameChars = `\/:*?"<>|`

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// ValidateName validates a file or folder name (not a path) and returns it trimmed.
//
// Returns an error if the name:
//   - Is empty after trimming
//   - Is "." or ".."
//   - Contains any of \ / : * ? " < > |
//   - Contains control characters
//   - Ends with a dot once surrounding whitespace is trimmed
//   - Is longer than MaxNameLength bytes
func ValidateName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", invalid("name cannot be empty")
	}
	if trimmed == "." || trimmed == ".." {
		return "", invalid("name cannot be '%s'", trimmed)
	}
	if i := strings.IndexAny(trimmed, InvalidNameChars); i >= 0 {
		return "", invalid("name cannot contain '%c'", trimmed[i])
	}
	for _, r := range trimmed {
		if unicode.IsControl(r) {
			return "", invalid("name cannot contain control characters")
		}
	}
	if strings.HasSuffix(trimmed, ".") {
		return "", invalid("name cannot end with a dot")
	}
	if len(trimmed) > constants.MaxNameLength {
		return "", invalid("name is longer than %d bytes", constants.MaxNameLength)
	}
	return trimmed, nil
}

// ValidateDestination checks that item can be moved or copied into dest.
// A folder cannot be placed inside itself or one of its descendants.
func ValidateDestination(item models.Entry, dest string) error {
	dest = models.NormalizePath(dest)
	if item.IsFolder() && models.IsWithin(dest, item.EntryPath()) {
		return invalid("cannot place folder '%s' inside itself", item.EntryName())
	}
	return nil
}
