package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process implementation of the chapter metadata and
// story listing tables.
type MemoryStore struct {
	mu       sync.Mutex
	meta     map[string]ChapterMeta
	chapters map[string][]StoryChapter
	position int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		meta:     make(map[string]ChapterMeta),
		chapters: make(map[string][]StoryChapter),
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) InsertChapterMeta(_ context.Context, meta ChapterMeta) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.meta[meta.Key]; ok {
		return false, nil
	}
	meta.UpdatedAt = time.Now()
	s.meta[meta.Key] = cloneMeta(meta)
	return true, nil
}

func (s *MemoryStore) UpdateChapterMeta(_ context.Context, meta ChapterMeta) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.meta[meta.Key]; !ok {
		return 0, nil
	}
	meta.UpdatedAt = time.Now()
	s.meta[meta.Key] = cloneMeta(meta)
	return 1, nil
}

func (s *MemoryStore) GetChapterMeta(_ context.Context, key string) (ChapterMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.meta[key]
	if !ok {
		return ChapterMeta{}, ErrNotFound
	}
	return cloneMeta(meta), nil
}

func (s *MemoryStore) ChapterMetaExists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.meta[key]
	return ok, nil
}

func (s *MemoryStore) DeleteChapterMeta(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.meta, key)
	return nil
}

func (s *MemoryStore) UpsertStoryChapter(_ context.Context, entry StoryChapter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.chapters[entry.StoryTitle]
	for i := range items {
		if items[i].ChapterTitle == entry.ChapterTitle {
			items[i].WhenFree = entry.WhenFree
			items[i].Version = max(items[i].Version, entry.Version)
			items[i].UpdatedAt = time.Now()
			return nil
		}
	}
	s.position++
	entry.Position = s.position
	entry.UpdatedAt = time.Now()
	s.chapters[entry.StoryTitle] = append(items, entry)
	return nil
}

func (s *MemoryStore) ListStoryChapters(_ context.Context, storyTitle string) ([]StoryChapter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := append([]StoryChapter{}, s.chapters[storyTitle]...)
	sort.Slice(items, func(i, j int) bool { return items[i].Position < items[j].Position })
	return items, nil
}

func cloneMeta(meta ChapterMeta) ChapterMeta {
	meta.PatchGroups = append(json.RawMessage(nil), meta.PatchGroups...)
	return meta
}
