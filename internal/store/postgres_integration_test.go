package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func setupPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	db := openTestDB(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := resetPublicSchema(ctx, db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	migrations, err := Migrations("")
	if err != nil {
		t.Fatalf("open migrations: %v", err)
	}
	if err := ApplyMigrations(ctx, db, migrations); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPostgresStore(db)
}

func TestPostgresChapterMetaLifecycle(t *testing.T) {
	s := setupPostgresStore(t)
	ctx := context.Background()

	meta := ChapterMeta{
		Key:               "s:c",
		StoryTitle:        "s",
		ChapterTitle:      "c",
		Version:           1,
		LastSyncedVersion: 1,
		PatchGroups:       json.RawMessage(`[]`),
	}

	affected, err := s.UpdateChapterMeta(ctx, meta)
	if err != nil {
		t.Fatalf("UpdateChapterMeta failed: %v", err)
	}
	if affected != 0 {
		t.Fatalf("update before insert must affect 0 rows, got %d", affected)
	}

	inserted, err := s.InsertChapterMeta(ctx, meta)
	if err != nil || !inserted {
		t.Fatalf("InsertChapterMeta inserted=%v err=%v", inserted, err)
	}
	inserted, err = s.InsertChapterMeta(ctx, meta)
	if err != nil || inserted {
		t.Fatalf("second insert must be a no-op, inserted=%v err=%v", inserted, err)
	}

	meta.Version = 2
	meta.LastSyncedVersion = 2
	meta.PatchGroups = json.RawMessage(`[{"start":0,"end":1,"patches":[]}]`)
	if affected, err := s.UpdateChapterMeta(ctx, meta); err != nil || affected != 1 {
		t.Fatalf("UpdateChapterMeta affected=%d err=%v", affected, err)
	}

	got, err := s.GetChapterMeta(ctx, "s:c")
	if err != nil {
		t.Fatalf("GetChapterMeta failed: %v", err)
	}
	if got.Version != 2 || got.LastSyncedVersion != 2 {
		t.Fatalf("unexpected meta %+v", got)
	}
	var groups []map[string]any
	if err := json.Unmarshal(got.PatchGroups, &groups); err != nil || len(groups) != 1 {
		t.Fatalf("unexpected patch groups %s (%v)", got.PatchGroups, err)
	}

	if err := s.DeleteChapterMeta(ctx, "s:c"); err != nil {
		t.Fatalf("DeleteChapterMeta failed: %v", err)
	}
	if _, err := s.GetChapterMeta(ctx, "s:c"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresStoryChaptersKeepPosition(t *testing.T) {
	s := setupPostgresStore(t)
	ctx := context.Background()

	for _, entry := range []StoryChapter{
		{StoryTitle: "s", ChapterTitle: "one", Version: 1},
		{StoryTitle: "s", ChapterTitle: "two", Version: 1},
		{StoryTitle: "s", ChapterTitle: "one", Version: 3, WhenFree: 10},
	} {
		if err := s.UpsertStoryChapter(ctx, entry); err != nil {
			t.Fatalf("UpsertStoryChapter failed: %v", err)
		}
	}

	items, err := s.ListStoryChapters(ctx, "s")
	if err != nil {
		t.Fatalf("ListStoryChapters failed: %v", err)
	}
	if len(items) != 2 || items[0].ChapterTitle != "one" || items[1].ChapterTitle != "two" {
		t.Fatalf("unexpected listing %+v", items)
	}
	if items[0].Version != 3 || items[0].WhenFree != 10 {
		t.Fatalf("expected updated first chapter, got %+v", items[0])
	}
}
