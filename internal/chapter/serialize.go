package chapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"quill/api/internal/blob"
	"quill/api/internal/patch"
	"quill/api/internal/textpatch"
)

type serializedHeader struct {
	StoryTitle        string                `json:"story_title"`
	ChapterTitle      string                `json:"chapter_title"`
	WhenFree          int64                 `json:"when_free"`
	Cost              int64                 `json:"cost"`
	Version           int                   `json:"version"`
	LastSyncedVersion int                   `json:"last_synced_version"`
	PatchGroups       []patch.ConflictGroup `json:"patch_groups"`
}

// serialize renders metadata and every snapshot text as one JSON object.
// Snapshot n sits under the key "n"; the key "<version>" repeats the latest.
func (c *Coordinator) serialize(ctx context.Context) (string, error) {
	if !c.st.initialized() {
		return "", ErrNotFound
	}
	st := c.st
	out := map[string]any{
		"story_title":         st.storyTitle,
		"chapter_title":       st.chapterTitle,
		"when_free":           st.whenFree,
		"cost":                st.cost,
		"version":             st.version,
		"last_synced_version": st.lastSynced,
		"patch_groups":        patch.CloneGroups(st.groups),
	}
	var latest string
	for n := 0; n < st.version; n++ {
		text, err := c.readBlob(ctx, blob.TextKey(c.key, n))
		if err != nil {
			return "", err
		}
		out[strconv.Itoa(n)] = text
		latest = text
	}
	out[strconv.Itoa(st.version)] = latest

	data, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("encode chapter: %w", err)
	}
	return string(data), nil
}

func (c *Coordinator) restore(ctx context.Context, p RestoreParams) (Meta, error) {
	st, texts, err := decodeSerialized(p.Data, c.cfg.Codec)
	if err != nil {
		return Meta{}, err
	}
	if title := Key(st.storyTitle, st.chapterTitle); title != c.key {
		return Meta{}, fmt.Errorf("%w: title %q does not match chapter %q", ErrInvalidInput, title, c.key)
	}
	if c.st.initialized() {
		return Meta{}, ErrAlreadyInitialized
	}
	if err := persistRestored(ctx, c.cfg, c.key, st, texts); err != nil {
		return Meta{}, err
	}
	c.st = st
	c.log.Info().Int("version", st.version).Msg("chapter restored")
	c.notifyStoryMap(ctx)
	return st.meta(c.cfg.Now()), nil
}

// Deserialize rebuilds a chapter from the output of serialize into
// cfg.Blobs and cfg.Meta. No coordinator may be serving the chapter's key in
// those stores at the same time.
func Deserialize(ctx context.Context, cfg Config, data string) (Meta, error) {
	cfg = cfg.withDefaults()
	st, texts, err := decodeSerialized(data, cfg.Codec)
	if err != nil {
		return Meta{}, err
	}
	key := Key(st.storyTitle, st.chapterTitle)
	if err := persistRestored(ctx, cfg, key, st, texts); err != nil {
		return Meta{}, err
	}
	return st.meta(cfg.Now()), nil
}

func decodeSerialized(data string, codec textpatch.Codec) (state, []string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(data), &fields); err != nil {
		return state{}, nil, fmt.Errorf("%w: decode chapter: %v", ErrInvalidInput, err)
	}
	var header serializedHeader
	if err := json.Unmarshal([]byte(data), &header); err != nil {
		return state{}, nil, fmt.Errorf("%w: decode chapter: %v", ErrInvalidInput, err)
	}
	if header.StoryTitle == "" || header.ChapterTitle == "" {
		return state{}, nil, fmt.Errorf("%w: story_title and chapter_title are required", ErrInvalidInput)
	}
	if header.Version < 1 {
		return state{}, nil, fmt.Errorf("%w: version %d", ErrInvalidInput, header.Version)
	}

	// Every snapshot has its own key, so version cannot exceed the field count.
	if header.Version > len(fields) {
		return state{}, nil, fmt.Errorf("%w: version %d with %d fields", ErrInvalidInput, header.Version, len(fields))
	}

	var texts []string
	for n := 0; n < header.Version; n++ {
		raw, ok := fields[strconv.Itoa(n)]
		if !ok {
			return state{}, nil, fmt.Errorf("%w: missing text %d", ErrInvalidInput, n)
		}
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return state{}, nil, fmt.Errorf("%w: text %d: %v", ErrInvalidInput, n, err)
		}
		texts = append(texts, text)
	}

	lastSynced := header.LastSyncedVersion
	if lastSynced == 0 {
		lastSynced = header.Version
	}
	if lastSynced < 0 || lastSynced > header.Version {
		return state{}, nil, fmt.Errorf("%w: last_synced_version %d", ErrInvalidInput, lastSynced)
	}
	groups, err := patch.Rebuild(codec, header.PatchGroups)
	if err != nil {
		return state{}, nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return state{
		storyTitle:   header.StoryTitle,
		chapterTitle: header.ChapterTitle,
		whenFree:     header.WhenFree,
		cost:         header.Cost,
		version:      header.Version,
		lastSynced:   lastSynced,
		groups:       groups,
	}, texts, nil
}

func persistRestored(ctx context.Context, cfg Config, key string, st state, texts []string) error {
	exists, err := cfg.Meta.ChapterMetaExists(ctx, key)
	if err != nil {
		return fmt.Errorf("check chapter meta: %w", err)
	}
	if exists {
		return ErrAlreadyInitialized
	}
	for n, text := range texts {
		if err := putSnapshot(ctx, cfg, key, n, text); err != nil {
			return err
		}
	}
	row, err := st.row(key)
	if err != nil {
		return err
	}
	inserted, err := cfg.Meta.InsertChapterMeta(ctx, row)
	if err != nil {
		return fmt.Errorf("insert chapter meta: %w", err)
	}
	if !inserted {
		return ErrAlreadyInitialized
	}
	return nil
}
