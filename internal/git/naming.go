// Package git is the GitService used by workflows: branch, merge, tag and
// pull request operations behind one interface, backed by the git CLI and
// an optional hosting provider.
package git

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// MaxBranchNameLength is the maximum allowed length for branch names.
const MaxBranchNameLength = 256

// ErrInvalidBranchName indicates a branch name failed validation.
var ErrInvalidBranchName = errors.New("invalid branch name")

// branchNamePattern allows alphanumerics, slash, hyphen, underscore and dot,
// starting with an alphanumeric.
var branchNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9/_.-]*$`)

// forbidden lists substrings git refuses or that would be misread as
// revision syntax.
var forbidden = []struct {
	substr string
	reason string
}{
	{"@{", "cannot contain '@{' (git revision syntax)"},
	{"..", "cannot contain '..'"},
	{"//", "cannot contain '//'"},
	{"/.", "path components cannot start with '.'"},
	{"./", "path components cannot end with '.'"},
}

// ValidateBranchName validates a branch name for git compatibility and
// safe use as a command argument.
func ValidateBranchName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: cannot be empty", ErrInvalidBranchName)
	case len(name) > MaxBranchNameLength:
		return fmt.Errorf("%w: exceeds maximum length of %d characters", ErrInvalidBranchName, MaxBranchNameLength)
	case strings.EqualFold(name, "head"), name == "@":
		return fmt.Errorf("%w: '%s' is a reserved name", ErrInvalidBranchName, name)
	}
	for _, f := range forbidden {
		if strings.Contains(name, f.substr) {
			return fmt.Errorf("%w: %s", ErrInvalidBranchName, f.reason)
		}
	}
	for _, suffix := range []string{".lock", ".", "/"} {
		if strings.HasSuffix(name, suffix) {
			return fmt.Errorf("%w: cannot end with '%s'", ErrInvalidBranchName, suffix)
		}
	}
	if !branchNamePattern.MatchString(name) {
		return fmt.Errorf("%w: contains invalid characters (allowed: a-z, A-Z, 0-9, /, -, _, .)", ErrInvalidBranchName)
	}
	return nil
}
