package chapter

import (
	"errors"
	"fmt"

	"quill/api/internal/patch"
	"quill/api/internal/textpatch"
)

var (
	ErrNotInitialized       = errors.New("chapter not initialized")
	ErrAlreadyInitialized   = errors.New("chapter already initialized")
	ErrInvalidInput         = errors.New("invalid input")
	ErrInvalidPatch         = textpatch.ErrInvalidPatch
	ErrPatchNotFound        = patch.ErrPatchNotFound
	ErrPatchConflict        = textpatch.ErrPatchConflict
	ErrInvalidVersion       = errors.New("invalid version")
	ErrStorageInconsistency = errors.New("storage inconsistency")
	ErrNotFound             = errors.New("not found")
	ErrClosed               = errors.New("chapter coordinator closed")

	// ErrSaveBeforeInit reports a metadata update that found no row to update.
	ErrSaveBeforeInit = fmt.Errorf("%w: save called before init", ErrStorageInconsistency)

	errEvicted = fmt.Errorf("%w: evicted", ErrClosed)
)

// Outcome names the kind of err for logs, metrics and transport codes.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotInitialized):
		return "not_initialized"
	case errors.Is(err, ErrAlreadyInitialized):
		return "already_initialized"
	case errors.Is(err, ErrInvalidPatch):
		return "invalid_patch"
	case errors.Is(err, ErrPatchNotFound):
		return "patch_not_found"
	case errors.Is(err, ErrPatchConflict):
		return "patch_conflict"
	case errors.Is(err, ErrInvalidVersion):
		return "invalid_version"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrStorageInconsistency):
		return "storage_inconsistency"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrClosed):
		return "closed"
	default:
		return "error"
	}
}
