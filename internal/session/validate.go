package session

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidName is wrapped by every ValidateName failure.
var ErrInvalidName = errors.New("invalid session name")

const maxNameLen = 64

// Session names become directory names under the config root and appear as
// CLI arguments, so a leading '-' is refused.
var nameRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// ValidateName checks a session name: 1 to 64 characters from [a-z0-9_-],
// starting with a letter or digit.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case len(name) > maxNameLen:
		return fmt.Errorf("%w %q: longer than %d characters", ErrInvalidName, name, maxNameLen)
	case !nameRegexp.MatchString(name):
		return fmt.Errorf("%w %q: use lowercase letters, digits, '_' or '-', starting with a letter or digit", ErrInvalidName, name)
	}
	return nil
}
