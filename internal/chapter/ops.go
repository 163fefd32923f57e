package chapter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"quill/api/internal/patch"
)

// Op is the closed set of operations a coordinator handles. Every operation
// type in this file implements it; no other package can.
type Op interface {
	Method() string
	isOp()
}

type InitParams struct {
	StoryTitle   string `json:"story_title"`
	ChapterTitle string `json:"chapter_title"`
	WhenFree     *int64 `json:"when_free,omitempty"`
	Cost         *int64 `json:"cost,omitempty"`
	Text         string `json:"text"`
}

type InitResult struct {
	Title   string `json:"title"`
	Version int    `json:"version"`
}

type AddPatchParams struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Patch string `json:"patch"`
}

type AddPatchResult struct {
	ID          string                `json:"id"`
	PatchGroups []patch.ConflictGroup `json:"patch_groups"`
}

type ApplyPatchParams struct {
	ID string `json:"id"`
}

type ApplyPatchResult struct {
	Version int `json:"version"`
}

// UpdateParams replaces the chapter text directly, bypassing pending patches.
type UpdateParams struct {
	Text string `json:"text"`
}

type UpdateResult struct {
	Version int `json:"version"`
}

// VersionParams selects a snapshot index. A nil Version selects the latest.
type VersionParams struct {
	Version *int `json:"version,omitempty"`
}

// UnmarshalJSON rejects non-integer versions with ErrInvalidVersion.
func (p *VersionParams) UnmarshalJSON(data []byte) error {
	var raw struct {
		Version json.RawMessage `json:"version"`
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if len(raw.Version) == 0 || string(raw.Version) == "null" {
		p.Version = nil
		return nil
	}
	n, err := strconv.Atoi(string(raw.Version))
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidVersion, raw.Version)
	}
	p.Version = &n
	return nil
}

type TextParams struct{ VersionParams }

type HTMLParams struct{ VersionParams }

type MetaParams struct{}

type SerializeParams struct{}

// RestoreParams rebuilds an uninitialized chapter from the output of serialize.
type RestoreParams struct {
	Data string `json:"data"`
}

type Meta struct {
	StoryTitle        string                `json:"story_title"`
	ChapterTitle      string                `json:"chapter_title"`
	Title             string                `json:"title"`
	WhenFree          int64                 `json:"when_free"`
	Cost              int64                 `json:"cost"`
	IsFree            bool                  `json:"is_free"`
	Version           int                   `json:"version"`
	LastSyncedVersion int                   `json:"last_synced_version"`
	PatchGroups       []patch.ConflictGroup `json:"patch_groups"`
}

func (InitParams) Method() string       { return "init" }
func (AddPatchParams) Method() string   { return "add_patch" }
func (ApplyPatchParams) Method() string { return "apply_patch" }
func (UpdateParams) Method() string     { return "update" }
func (TextParams) Method() string       { return "text" }
func (HTMLParams) Method() string       { return "html" }
func (MetaParams) Method() string       { return "meta" }
func (SerializeParams) Method() string  { return "serialize" }
func (RestoreParams) Method() string    { return "restore" }

func (InitParams) isOp()       {}
func (AddPatchParams) isOp()   {}
func (ApplyPatchParams) isOp() {}
func (UpdateParams) isOp()     {}
func (TextParams) isOp()       {}
func (HTMLParams) isOp()       {}
func (MetaParams) isOp()       {}
func (SerializeParams) isOp()  {}
func (RestoreParams) isOp()    {}

// NewOp returns a zero operation for method, ready to be decoded into.
func NewOp(method string) (Op, bool) {
	switch method {
	case "init":
		return &InitParams{}, true
	case "add_patch", "patch":
		return &AddPatchParams{}, true
	case "apply_patch":
		return &ApplyPatchParams{}, true
	case "update":
		return &UpdateParams{}, true
	case "text":
		return &TextParams{}, true
	case "html":
		return &HTMLParams{}, true
	case "meta":
		return &MetaParams{}, true
	case "serialize":
		return &SerializeParams{}, true
	case "restore":
		return &RestoreParams{}, true
	default:
		return nil, false
	}
}
