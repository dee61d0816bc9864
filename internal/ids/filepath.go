package ids

import (
	"strings"
)

// ValidatedFilePath is a file path that has been checked against traversal
// tricks. Construct only through NewValidatedFilePath.
type ValidatedFilePath string

// Percent-encoded fragments that decode (possibly after a second pass) to
// "..". Matched case-insensitively.
var encodedTraversal = []string{
	"%2e%2e", // ".."
	"%2e.",   // mixed literal/encoded
	".%2e",
	"%252e", // double-encoded "."
	"%c0%ae", // overlong UTF-8 "."
}

// NewValidatedFilePath rejects empty strings, NUL bytes, ".." path
// components, and percent-encoded traversal sequences.
func NewValidatedFilePath(p string) (ValidatedFilePath, error) {
	if p == "" {
		return "", &ValidationError{Kind: "file path", Reason: "empty"}
	}
	if strings.ContainsRune(p, 0) {
		return "", &ValidationError{Kind: "file path", Reason: "contains NUL byte"}
	}
	for _, part := range strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return "", &ValidationError{Kind: "file path", Reason: "contains '..' component"}
		}
	}
	lower := strings.ToLower(p)
	for _, seq := range encodedTraversal {
		if strings.Contains(lower, seq) {
			return "", &ValidationError{Kind: "file path", Reason: "contains encoded traversal sequence"}
		}
	}
	return ValidatedFilePath(p), nil
}

func (p ValidatedFilePath) String() string { return string(p) }
