package storage

import (
	"strings"

	"csv-file-drop/internal/common"
)

// MaxNameBytes matches the common filesystem limit for a path component.
const MaxNameBytes = 255

// ValidateName checks that name is usable as a single path component for
// an owner directory or a file: no separators, no NUL, not "." or "..".
// Names are rejected, never rewritten, so what the client sent is what
// gets stored.
func ValidateName(name string) error {
	switch {
	case name == "":
		return common.WithDetail(common.ErrBadRequest, "name must not be empty")
	case name == "." || name == "..":
		return common.WithDetail(common.ErrBadRequest, "name must not be . or ..")
	case len(name) > MaxNameBytes:
		return common.WithDetail(common.ErrBadRequest, "name is too long")
	case strings.ContainsAny(name, "/\\\x00"):
		return common.WithDetail(common.ErrBadRequest, "name must not contain path separators")
	}
	return nil
}
