package chapter

import (
	"context"
	"errors"
	"fmt"

	"quill/api/internal/blob"
	"quill/api/internal/patch"
)

func (c *Coordinator) init(ctx context.Context, p InitParams) (InitResult, error) {
	if p.StoryTitle == "" || p.ChapterTitle == "" {
		return InitResult{}, fmt.Errorf("%w: story_title and chapter_title are required", ErrInvalidInput)
	}
	if p.Text == "" {
		return InitResult{}, fmt.Errorf("%w: text is required", ErrInvalidInput)
	}
	if title := Key(p.StoryTitle, p.ChapterTitle); title != c.key {
		return InitResult{}, fmt.Errorf("%w: title %q does not match chapter %q", ErrInvalidInput, title, c.key)
	}
	if c.st.initialized() {
		return InitResult{}, ErrAlreadyInitialized
	}
	exists, err := c.cfg.Meta.ChapterMetaExists(ctx, c.key)
	if err != nil {
		return InitResult{}, fmt.Errorf("check chapter meta: %w", err)
	}
	if exists {
		return InitResult{}, ErrAlreadyInitialized
	}

	next := state{
		storyTitle:   p.StoryTitle,
		chapterTitle: p.ChapterTitle,
		version:      1,
		lastSynced:   1,
		groups:       []patch.ConflictGroup{},
	}
	if p.WhenFree != nil {
		next.whenFree = *p.WhenFree
	}
	if p.Cost != nil {
		next.cost = *p.Cost
	}

	if err := c.writeSnapshot(ctx, 0, p.Text); err != nil {
		return InitResult{}, err
	}
	row, err := next.row(c.key)
	if err != nil {
		return InitResult{}, err
	}
	inserted, err := c.cfg.Meta.InsertChapterMeta(ctx, row)
	if err != nil {
		c.cfg.Metrics.OrphanedSnapshot()
		return InitResult{}, fmt.Errorf("insert chapter meta: %w", err)
	}
	if !inserted {
		return InitResult{}, ErrAlreadyInitialized
	}
	c.st = next
	c.log.Info().Int("version", next.version).Msg("chapter initialized")
	c.notifyStoryMap(ctx)
	return InitResult{Title: c.key, Version: next.version}, nil
}

func (c *Coordinator) addPatch(ctx context.Context, p AddPatchParams) (AddPatchResult, error) {
	if !c.st.initialized() {
		return AddPatchResult{}, ErrNotInitialized
	}
	if p.Start < 0 || p.End < p.Start {
		return AddPatchResult{}, fmt.Errorf("%w: range [%d, %d]", ErrInvalidInput, p.Start, p.End)
	}
	manager := patch.NewManager(c.cfg.Codec, c.st.groups)
	added, err := manager.Add(patch.Patch{Start: p.Start, End: p.End, Patch: p.Patch})
	if err != nil {
		return AddPatchResult{}, err
	}
	next := c.st
	next.groups = manager.Groups()
	if err := c.commit(ctx, next); err != nil {
		return AddPatchResult{}, err
	}
	return AddPatchResult{ID: added.ID, PatchGroups: manager.Groups()}, nil
}

func (c *Coordinator) applyPatch(ctx context.Context, p ApplyPatchParams) (ApplyPatchResult, error) {
	if !c.st.initialized() {
		return ApplyPatchResult{}, ErrNotInitialized
	}
	if p.ID == "" {
		return ApplyPatchResult{}, fmt.Errorf("%w: id is required", ErrInvalidInput)
	}
	manager := patch.NewManager(c.cfg.Codec, c.st.groups)
	if _, ok := manager.Find(p.ID); !ok {
		return ApplyPatchResult{}, fmt.Errorf("%w: %s", ErrPatchNotFound, p.ID)
	}
	base, err := c.readBlob(ctx, blob.TextKey(c.key, c.st.version-1))
	if err != nil {
		return ApplyPatchResult{}, err
	}
	text, err := manager.ApplyByID(base, p.ID)
	if err != nil {
		if errors.Is(err, ErrPatchConflict) {
			c.cfg.Metrics.PatchConflict()
		}
		return ApplyPatchResult{}, err
	}
	version, err := c.appendSnapshot(ctx, text, manager.Groups())
	if err != nil {
		return ApplyPatchResult{}, err
	}
	return ApplyPatchResult{Version: version}, nil
}

func (c *Coordinator) update(ctx context.Context, p UpdateParams) (UpdateResult, error) {
	if !c.st.initialized() {
		return UpdateResult{}, ErrNotInitialized
	}
	if p.Text == "" {
		return UpdateResult{}, fmt.Errorf("%w: text is required", ErrInvalidInput)
	}
	version, err := c.appendSnapshot(ctx, p.Text, c.st.groups)
	if err != nil {
		return UpdateResult{}, err
	}
	return UpdateResult{Version: version}, nil
}

func (c *Coordinator) text(ctx context.Context, version *int, key func(string, int) string) (string, error) {
	if !c.st.initialized() {
		return "", ErrNotInitialized
	}
	n := c.st.version - 1
	if version != nil {
		if *version < 0 || *version >= c.st.version {
			return "", fmt.Errorf("%w: %d not in [0, %d)", ErrInvalidVersion, *version, c.st.version)
		}
		n = *version
	}
	return c.readBlob(ctx, key(c.key, n))
}

func (c *Coordinator) meta() (Meta, error) {
	if !c.st.initialized() {
		return Meta{}, ErrNotFound
	}
	return c.st.meta(c.cfg.Now()), nil
}

// appendSnapshot writes text as the next snapshot and commits the bumped
// version together with groups.
func (c *Coordinator) appendSnapshot(ctx context.Context, text string, groups []patch.ConflictGroup) (int, error) {
	n := c.st.version
	if err := c.writeSnapshot(ctx, n, text); err != nil {
		return 0, err
	}
	next := c.st
	next.version = n + 1
	next.lastSynced = n + 1
	next.groups = groups
	if err := c.commit(ctx, next); err != nil {
		c.cfg.Metrics.OrphanedSnapshot()
		return 0, err
	}
	c.log.Info().Int("version", next.version).Msg("chapter snapshot committed")
	c.notifyStoryMap(ctx)
	return next.version, nil
}

func (c *Coordinator) writeSnapshot(ctx context.Context, n int, text string) error {
	return putSnapshot(ctx, c.cfg, c.key, n, text)
}

// putSnapshot writes the raw text of snapshot n, then its rendered twin.
func putSnapshot(ctx context.Context, cfg Config, key string, n int, text string) error {
	html, err := cfg.Renderer.Render(text)
	if err != nil {
		return fmt.Errorf("render snapshot %d: %w", n, err)
	}
	if err := cfg.Blobs.Put(ctx, blob.TextKey(key, n), []byte(text)); err != nil {
		return fmt.Errorf("write snapshot %d: %w", n, err)
	}
	if err := cfg.Blobs.Put(ctx, blob.HTMLKey(key, n), []byte(html)); err != nil {
		return fmt.Errorf("write snapshot %d html: %w", n, err)
	}
	return nil
}

func (c *Coordinator) readBlob(ctx context.Context, key string) (string, error) {
	data, ok, err := c.cfg.Blobs.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("read snapshot %s: %w", key, err)
	}
	if !ok {
		return "", fmt.Errorf("%w: missing snapshot %s", ErrStorageInconsistency, key)
	}
	return string(data), nil
}

// commit persists next as the metadata row and adopts it on success. On a
// failed write the in-memory state keeps its previous value, except when the
// row turns out to be missing: then the chapter becomes uninitialized.
func (c *Coordinator) commit(ctx context.Context, next state) error {
	row, err := next.row(c.key)
	if err != nil {
		return err
	}
	affected, err := c.cfg.Meta.UpdateChapterMeta(ctx, row)
	if err != nil {
		return fmt.Errorf("update chapter meta: %w", err)
	}
	if affected == 0 {
		c.log.Error().Int("version", next.version).Msg("chapter meta missing on save, resetting to uninitialized")
		if err := c.cfg.Meta.DeleteChapterMeta(ctx, c.key); err != nil {
			c.log.Warn().Err(err).Msg("delete stray chapter meta")
		}
		c.st = state{}
		return ErrSaveBeforeInit
	}
	c.st = next
	return nil
}

func (c *Coordinator) notifyStoryMap(ctx context.Context) {
	if c.cfg.StoryMap == nil {
		return
	}
	st := c.st
	if err := c.cfg.StoryMap.UpdateStoryMap(ctx, st.storyTitle, st.chapterTitle, st.whenFree, st.version); err != nil {
		c.log.Warn().Err(err).Int("version", st.version).Msg("update story map")
	}
}
