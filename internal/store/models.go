package store

import (
	"encoding/json"
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

// ChapterMeta is the single metadata row of one chapter. PatchGroups holds the
// serialized pending conflict groups; the store does not interpret it.
type ChapterMeta struct {
	Key               string
	StoryTitle        string
	ChapterTitle      string
	WhenFree          int64
	Cost              int64
	Version           int
	LastSyncedVersion int
	PatchGroups       json.RawMessage
	UpdatedAt         time.Time
}

// StoryChapter is one entry of a story's chapter listing.
type StoryChapter struct {
	StoryTitle   string
	ChapterTitle string
	Position     int64
	WhenFree     int64
	Version      int
	UpdatedAt    time.Time
}
