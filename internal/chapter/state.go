package chapter

import (
	"encoding/json"
	"fmt"
	"time"

	"quill/api/internal/patch"
	"quill/api/internal/store"
)

// Key is the document key of a chapter; snapshot blob keys start with it.
func Key(storyTitle, chapterTitle string) string {
	return storyTitle + ":" + chapterTitle
}

// IsFree reports whether a chapter with the given release time, in unix
// milliseconds, is free to read at now.
func IsFree(whenFree int64, now time.Time) bool {
	return now.UnixMilli() >= whenFree
}

// state is the in-memory copy of a chapter's metadata row. The zero value is
// an uninitialized chapter.
type state struct {
	storyTitle   string
	chapterTitle string
	whenFree     int64
	cost         int64
	version      int
	lastSynced   int
	groups       []patch.ConflictGroup
}

func (s state) initialized() bool { return s.version > 0 }

func (s state) row(key string) (store.ChapterMeta, error) {
	groups := s.groups
	if groups == nil {
		groups = []patch.ConflictGroup{}
	}
	raw, err := json.Marshal(groups)
	if err != nil {
		return store.ChapterMeta{}, fmt.Errorf("encode patch groups: %w", err)
	}
	return store.ChapterMeta{
		Key:               key,
		StoryTitle:        s.storyTitle,
		ChapterTitle:      s.chapterTitle,
		WhenFree:          s.whenFree,
		Cost:              s.cost,
		Version:           s.version,
		LastSyncedVersion: s.lastSynced,
		PatchGroups:       raw,
	}, nil
}

func stateFromRow(row store.ChapterMeta) (state, error) {
	groups := []patch.ConflictGroup{}
	if len(row.PatchGroups) > 0 {
		if err := json.Unmarshal(row.PatchGroups, &groups); err != nil {
			return state{}, fmt.Errorf("%w: decode patch groups of %s: %v", ErrStorageInconsistency, row.Key, err)
		}
	}
	if row.Version < 1 {
		return state{}, fmt.Errorf("%w: %s has version %d", ErrStorageInconsistency, row.Key, row.Version)
	}
	lastSynced := row.LastSyncedVersion
	if lastSynced == 0 {
		lastSynced = row.Version
	}
	return state{
		storyTitle:   row.StoryTitle,
		chapterTitle: row.ChapterTitle,
		whenFree:     row.WhenFree,
		cost:         row.Cost,
		version:      row.Version,
		lastSynced:   lastSynced,
		groups:       groups,
	}, nil
}

func (s state) meta(now time.Time) Meta {
	return Meta{
		StoryTitle:        s.storyTitle,
		ChapterTitle:      s.chapterTitle,
		Title:             Key(s.storyTitle, s.chapterTitle),
		WhenFree:          s.whenFree,
		Cost:              s.cost,
		IsFree:            IsFree(s.whenFree, now),
		Version:           s.version,
		LastSyncedVersion: s.lastSynced,
		PatchGroups:       patch.CloneGroups(s.groups),
	}
}
