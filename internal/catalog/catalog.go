// Package catalog keeps the story map: the ordered chapter listing of every
// story, plus the search index entry of each chapter's latest version.
package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"quill/api/internal/blob"
	"quill/api/internal/chapter"
	"quill/api/internal/search"
	"quill/api/internal/store"
)

type Store interface {
	UpsertStoryChapter(ctx context.Context, entry store.StoryChapter) error
	ListStoryChapters(ctx context.Context, storyTitle string) ([]store.StoryChapter, error)
}

type Indexer interface {
	IndexChapter(rec search.ChapterRecord)
}

// Entry is one chapter of a story listing.
type Entry struct {
	ChapterTitle string `json:"chapter_title"`
	WhenFree     int64  `json:"when_free"`
	IsFree       bool   `json:"is_free"`
	Version      int    `json:"version"`
}

type Catalog struct {
	store Store
	blobs blob.Store
	index Indexer
	log   zerolog.Logger
	now   func() time.Time
}

// New returns a catalog. index may be nil to skip search indexing.
func New(st Store, blobs blob.Store, index Indexer, logger zerolog.Logger) *Catalog {
	return &Catalog{store: st, blobs: blobs, index: index, log: logger, now: time.Now}
}

var _ chapter.StoryMap = (*Catalog)(nil)

// UpdateStoryMap records a new chapter version in the listing and queues it
// for indexing.
func (c *Catalog) UpdateStoryMap(ctx context.Context, storyTitle, chapterTitle string, whenFree int64, version int) error {
	if storyTitle == "" || chapterTitle == "" {
		return fmt.Errorf("%w: story and chapter titles are required", chapter.ErrInvalidInput)
	}
	err := c.store.UpsertStoryChapter(ctx, store.StoryChapter{
		StoryTitle:   storyTitle,
		ChapterTitle: chapterTitle,
		WhenFree:     whenFree,
		Version:      version,
	})
	if err != nil {
		return err
	}
	if c.index == nil {
		return nil
	}

	rec := search.ChapterRecord{
		StoryTitle:   storyTitle,
		ChapterTitle: chapterTitle,
		Title:        chapter.Key(storyTitle, chapterTitle),
		Version:      version,
		WhenFree:     whenFree,
	}
	rec.ID = search.RecordID(rec.Title)
	if err := c.FillText(ctx, &rec); err != nil {
		c.log.Warn().Err(err).Str("title", rec.Title).Msg("index chapter without text")
	}
	c.index.IndexChapter(rec)
	return nil
}

// FillText loads the snapshot text of rec's version from the blob store.
func (c *Catalog) FillText(ctx context.Context, rec *search.ChapterRecord) error {
	if rec.Version < 1 {
		return nil
	}
	key := blob.TextKey(rec.Title, rec.Version-1)
	data, ok, err := c.blobs.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	if !ok {
		return fmt.Errorf("%w: missing snapshot %s", chapter.ErrStorageInconsistency, key)
	}
	rec.Text = string(data)
	return nil
}

// Chapters lists a story's chapters in the order they were first published.
func (c *Catalog) Chapters(ctx context.Context, storyTitle string) ([]Entry, error) {
	if strings.TrimSpace(storyTitle) == "" {
		return nil, fmt.Errorf("%w: story title is required", chapter.ErrInvalidInput)
	}
	items, err := c.store.ListStoryChapters(ctx, storyTitle)
	if err != nil {
		return nil, err
	}
	now := c.now()
	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		entries = append(entries, Entry{
			ChapterTitle: item.ChapterTitle,
			WhenFree:     item.WhenFree,
			IsFree:       chapter.IsFree(item.WhenFree, now),
			Version:      item.Version,
		})
	}
	return entries, nil
}
