// Package textpatch validates and applies serialized text diffs.
package textpatch

import "errors"

var (
	// ErrInvalidPatch reports a diff payload that cannot be parsed.
	ErrInvalidPatch = errors.New("invalid patch")
	// ErrPatchConflict reports a diff whose hunks did not all match the base text.
	ErrPatchConflict = errors.New("patch conflict")
)

// Result is the outcome of applying a payload. Hunks holds one entry per hunk,
// true when that hunk matched. Text is only meaningful when Clean is true.
type Result struct {
	Text  string
	Hunks []bool
	Clean bool
}

// Codec is the capability the chapter core needs from a diff library.
type Codec interface {
	// Validate returns ErrInvalidPatch when payload is malformed.
	Validate(payload string) error
	// Apply applies payload to base. It returns ErrInvalidPatch for malformed
	// payloads and ErrPatchConflict, together with the per-hunk result, when
	// any hunk failed.
	Apply(base, payload string) (Result, error)
	// Make builds a payload that turns from into to.
	Make(from, to string) string
}
