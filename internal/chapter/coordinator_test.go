package chapter

import (
	"context"
	"errors"
	"strings"
	"testing"

	"quill/api/internal/store"
	"quill/api/internal/textpatch"
)

var codec = textpatch.NewDMP()

func TestInitAndReadLatest(t *testing.T) {
	env := newTestEnv(t)
	c := env.coordinator(t, "s:c")

	res := initChapter(t, c, "Hello")
	if res.Title != "s:c" || res.Version != 1 {
		t.Fatalf("unexpected init result %+v", res)
	}
	text, err := c.Text(context.Background(), nil)
	if err != nil {
		t.Fatalf("Text failed: %v", err)
	}
	if text != "Hello" {
		t.Fatalf("expected %q, got %q", "Hello", text)
	}
	html, err := c.HTML(context.Background(), nil)
	if err != nil {
		t.Fatalf("HTML failed: %v", err)
	}
	if !strings.Contains(html, "<p>Hello</p>") {
		t.Fatalf("unexpected html %q", html)
	}

	meta, err := c.Meta(context.Background())
	if err != nil {
		t.Fatalf("Meta failed: %v", err)
	}
	if meta.Version != 1 || meta.LastSyncedVersion != 1 || len(meta.PatchGroups) != 0 {
		t.Fatalf("unexpected meta %+v", meta)
	}
	if got := env.storyMap.versions(); len(got) != 1 || got[0] != 1 {
		t.Fatalf("expected one story map update at version 1, got %v", got)
	}
}

func TestInitStoresOptionalFields(t *testing.T) {
	env := newTestEnv(t)
	c := env.coordinator(t, "s:c")
	whenFree, cost := int64(500), int64(3)

	if _, err := c.Init(context.Background(), InitParams{StoryTitle: "s", ChapterTitle: "c", Text: "x", WhenFree: &whenFree, Cost: &cost}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	meta, err := c.Meta(context.Background())
	if err != nil {
		t.Fatalf("Meta failed: %v", err)
	}
	if meta.WhenFree != 500 || meta.Cost != 3 || !meta.IsFree {
		t.Fatalf("unexpected meta %+v", meta)
	}
	row, err := env.meta.GetChapterMeta(context.Background(), "s:c")
	if err != nil {
		t.Fatalf("GetChapterMeta failed: %v", err)
	}
	if row.WhenFree != 500 || row.Cost != 3 || row.Version != 1 || row.LastSyncedVersion != 1 {
		t.Fatalf("unexpected row %+v", row)
	}
}

func TestMetaNotFreeBeforeRelease(t *testing.T) {
	env := newTestEnv(t)
	c := env.coordinator(t, "s:c")
	whenFree := int64(2_000)
	if _, err := c.Init(context.Background(), InitParams{StoryTitle: "s", ChapterTitle: "c", Text: "x", WhenFree: &whenFree}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	meta, err := c.Meta(context.Background())
	if err != nil {
		t.Fatalf("Meta failed: %v", err)
	}
	if meta.IsFree {
		t.Fatal("expected chapter not to be free yet")
	}
}

func TestInitTwiceFails(t *testing.T) {
	env := newTestEnv(t)
	c := env.coordinator(t, "s:c")
	initChapter(t, c, "Hello")

	_, err := c.Init(context.Background(), InitParams{StoryTitle: "s", ChapterTitle: "c", Text: "Again"})
	if !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}

	env.restart(t)
	c = env.coordinator(t, "s:c")
	_, err = c.Init(context.Background(), InitParams{StoryTitle: "s", ChapterTitle: "c", Text: "Again"})
	if !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized after restart, got %v", err)
	}
	text, err := c.Text(context.Background(), nil)
	if err != nil || text != "Hello" {
		t.Fatalf("expected original text, got %q err=%v", text, err)
	}
}

func TestInitValidation(t *testing.T) {
	cases := []struct {
		name   string
		params InitParams
	}{
		{name: "empty text", params: InitParams{StoryTitle: "s", ChapterTitle: "c"}},
		{name: "missing story", params: InitParams{ChapterTitle: "c", Text: "x"}},
		{name: "missing chapter", params: InitParams{StoryTitle: "s", Text: "x"}},
		{name: "other key", params: InitParams{StoryTitle: "s", ChapterTitle: "d", Text: "x"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			c := env.coordinator(t, "s:c")
			if _, err := c.Init(context.Background(), tc.params); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
			if env.blobs.Len() != 0 {
				t.Fatalf("expected no blobs written, got %d", env.blobs.Len())
			}
		})
	}
}

func TestUninitializedChapter(t *testing.T) {
	env := newTestEnv(t)
	c := env.coordinator(t, "s:c")
	ctx := context.Background()

	if _, err := c.AddPatch(ctx, AddPatchParams{Start: 0, End: 1, Patch: codec.Make("a", "b")}); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("AddPatch: expected ErrNotInitialized, got %v", err)
	}
	if _, err := c.ApplyPatch(ctx, ApplyPatchParams{ID: "x"}); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("ApplyPatch: expected ErrNotInitialized, got %v", err)
	}
	if _, err := c.Update(ctx, UpdateParams{Text: "x"}); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Update: expected ErrNotInitialized, got %v", err)
	}
	if _, err := c.Text(ctx, nil); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Text: expected ErrNotInitialized, got %v", err)
	}
	if _, err := c.Meta(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("Meta: expected ErrNotFound, got %v", err)
	}
	if _, err := c.Serialize(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("Serialize: expected ErrNotFound, got %v", err)
	}
}

func TestAddAndApplyPatch(t *testing.T) {
	env := newTestEnv(t)
	c := env.coordinator(t, "s:c")
	ctx := context.Background()
	initChapter(t, c, "Hello")

	added, err := c.AddPatch(ctx, AddPatchParams{Start: 5, End: 5, Patch: codec.Make("Hello", "Hello world")})
	if err != nil {
		t.Fatalf("AddPatch failed: %v", err)
	}
	if added.ID == "" || len(added.PatchGroups) != 1 {
		t.Fatalf("unexpected add result %+v", added)
	}

	applied, err := c.ApplyPatch(ctx, ApplyPatchParams{ID: added.ID})
	if err != nil {
		t.Fatalf("ApplyPatch failed: %v", err)
	}
	if applied.Version != 2 {
		t.Fatalf("expected version 2, got %d", applied.Version)
	}
	text, err := c.Text(ctx, nil)
	if err != nil || text != "Hello world" {
		t.Fatalf("expected %q, got %q err=%v", "Hello world", text, err)
	}
	first, err := c.Text(ctx, intPtr(0))
	if err != nil || first != "Hello" {
		t.Fatalf("expected snapshot 0 to stay %q, got %q err=%v", "Hello", first, err)
	}
	meta, err := c.Meta(ctx)
	if err != nil {
		t.Fatalf("Meta failed: %v", err)
	}
	if meta.Version != 2 || meta.LastSyncedVersion != 2 || len(meta.PatchGroups) != 0 {
		t.Fatalf("unexpected meta %+v", meta)
	}
	if got := env.storyMap.versions(); len(got) != 2 || got[1] != 2 {
		t.Fatalf("expected story map updates [1 2], got %v", got)
	}
}

func TestApplyDropsOnlyContainingGroup(t *testing.T) {
	env := newTestEnv(t)
	c := env.coordinator(t, "s:c")
	ctx := context.Background()
	base := "Hello world, this is a longer chapter text."
	initChapter(t, c, base)

	first, err := c.AddPatch(ctx, AddPatchParams{Start: 0, End: 2, Patch: codec.Make(base, strings.Replace(base, "Hello", "Howdy", 1))})
	if err != nil {
		t.Fatalf("AddPatch failed: %v", err)
	}
	if _, err := c.AddPatch(ctx, AddPatchParams{Start: 1, End: 3, Patch: codec.Make(base, strings.Replace(base, "Hello", "Hallo", 1))}); err != nil {
		t.Fatalf("AddPatch failed: %v", err)
	}
	last, err := c.AddPatch(ctx, AddPatchParams{Start: 10, End: 12, Patch: codec.Make(base, strings.Replace(base, "longer", "short", 1))})
	if err != nil {
		t.Fatalf("AddPatch failed: %v", err)
	}
	if len(last.PatchGroups) != 2 {
		t.Fatalf("expected 2 groups, got %+v", last.PatchGroups)
	}
	if g := last.PatchGroups[0]; g.Start != 0 || g.End != 3 || len(g.Patches) != 2 {
		t.Fatalf("unexpected merged group %+v", g)
	}
	if g := last.PatchGroups[1]; g.Start != 10 || g.End != 12 || len(g.Patches) != 1 {
		t.Fatalf("unexpected separate group %+v", g)
	}

	if _, err := c.ApplyPatch(ctx, ApplyPatchParams{ID: first.ID}); err != nil {
		t.Fatalf("ApplyPatch failed: %v", err)
	}
	meta, err := c.Meta(ctx)
	if err != nil {
		t.Fatalf("Meta failed: %v", err)
	}
	if len(meta.PatchGroups) != 1 || meta.PatchGroups[0].Start != 10 {
		t.Fatalf("expected only the separate group to remain, got %+v", meta.PatchGroups)
	}
	text, _ := c.Text(ctx, nil)
	if !strings.HasPrefix(text, "Howdy") {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestAddPatchValidation(t *testing.T) {
	env := newTestEnv(t)
	c := env.coordinator(t, "s:c")
	ctx := context.Background()
	initChapter(t, c, "Hello")

	if _, err := c.AddPatch(ctx, AddPatchParams{Start: -1, End: 2, Patch: codec.Make("Hello", "Hi")}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("negative start: expected ErrInvalidInput, got %v", err)
	}
	if _, err := c.AddPatch(ctx, AddPatchParams{Start: 3, End: 2, Patch: codec.Make("Hello", "Hi")}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("end before start: expected ErrInvalidInput, got %v", err)
	}
	if _, err := c.AddPatch(ctx, AddPatchParams{Start: 0, End: 2, Patch: "garbage"}); !errors.Is(err, ErrInvalidPatch) {
		t.Errorf("garbage payload: expected ErrInvalidPatch, got %v", err)
	}
	meta, _ := c.Meta(ctx)
	if len(meta.PatchGroups) != 0 {
		t.Fatalf("expected no groups after rejected patches, got %+v", meta.PatchGroups)
	}
}

func TestApplyPatchErrors(t *testing.T) {
	env := newTestEnv(t)
	c := env.coordinator(t, "s:c")
	ctx := context.Background()
	base := "0123456789 0123456789 0123456789"
	initChapter(t, c, base)

	if _, err := c.ApplyPatch(ctx, ApplyPatchParams{ID: "missing-id"}); !errors.Is(err, ErrPatchNotFound) {
		t.Fatalf("expected ErrPatchNotFound, got %v", err)
	}

	added, err := c.AddPatch(ctx, AddPatchParams{Start: 0, End: 4, Patch: codec.Make("alpha beta gamma", "alpha BETA gamma")})
	if err != nil {
		t.Fatalf("AddPatch failed: %v", err)
	}
	if _, err := c.ApplyPatch(ctx, ApplyPatchParams{ID: added.ID}); !errors.Is(err, ErrPatchConflict) {
		t.Fatalf("expected ErrPatchConflict, got %v", err)
	}
	meta, _ := c.Meta(ctx)
	if meta.Version != 1 || len(meta.PatchGroups) != 1 {
		t.Fatalf("conflict must leave state unchanged, got %+v", meta)
	}
}

func TestTextVersionBounds(t *testing.T) {
	env := newTestEnv(t)
	c := env.coordinator(t, "s:c")
	ctx := context.Background()
	initChapter(t, c, "Hello")

	for _, v := range []int{99, 1, -1} {
		if _, err := c.Text(ctx, intPtr(v)); !errors.Is(err, ErrInvalidVersion) {
			t.Errorf("version %d: expected ErrInvalidVersion, got %v", v, err)
		}
	}
	if _, err := c.HTML(ctx, intPtr(99)); !errors.Is(err, ErrInvalidVersion) {
		t.Errorf("html: expected ErrInvalidVersion, got %v", err)
	}
}

func TestMissingSnapshotIsInconsistency(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	row := store.ChapterMeta{Key: "s:c", StoryTitle: "s", ChapterTitle: "c", Version: 1, PatchGroups: []byte("[]")}
	if _, err := env.meta.InsertChapterMeta(ctx, row); err != nil {
		t.Fatalf("InsertChapterMeta failed: %v", err)
	}
	c := env.coordinator(t, "s:c")
	if _, err := c.Text(ctx, nil); !errors.Is(err, ErrStorageInconsistency) {
		t.Fatalf("expected ErrStorageInconsistency, got %v", err)
	}
}

func TestUpdateAppendsSnapshot(t *testing.T) {
	env := newTestEnv(t)
	c := env.coordinator(t, "s:c")
	ctx := context.Background()
	initChapter(t, c, "Hello")

	for i, text := range []string{"one", "two", "three"} {
		res, err := c.Update(ctx, UpdateParams{Text: text})
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		if res.Version != i+2 {
			t.Fatalf("expected version %d, got %d", i+2, res.Version)
		}
		meta, _ := c.Meta(ctx)
		if meta.LastSyncedVersion != meta.Version {
			t.Fatalf("expected last_synced_version == version, got %+v", meta)
		}
	}
	if _, err := c.Update(ctx, UpdateParams{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty text, got %v", err)
	}
	for n, want := range []string{"Hello", "one", "two", "three"} {
		got, err := c.Text(ctx, intPtr(n))
		if err != nil || got != want {
			t.Fatalf("snapshot %d: expected %q, got %q err=%v", n, want, got, err)
		}
	}
}

func TestReadsAreIdempotent(t *testing.T) {
	env := newTestEnv(t)
	c := env.coordinator(t, "s:c")
	ctx := context.Background()
	initChapter(t, c, "Hello")

	before, _ := c.Meta(ctx)
	for i := 0; i < 3; i++ {
		if _, err := c.Text(ctx, nil); err != nil {
			t.Fatalf("Text failed: %v", err)
		}
		if _, err := c.Serialize(ctx); err != nil {
			t.Fatalf("Serialize failed: %v", err)
		}
	}
	after, _ := c.Meta(ctx)
	if before.Version != after.Version || before.LastSyncedVersion != after.LastSyncedVersion {
		t.Fatalf("reads changed meta: %+v -> %+v", before, after)
	}
}

func TestStateSurvivesRestart(t *testing.T) {
	env := newTestEnv(t)
	c := env.coordinator(t, "s:c")
	ctx := context.Background()
	initChapter(t, c, "Hello")
	added, err := c.AddPatch(ctx, AddPatchParams{Start: 0, End: 1, Patch: codec.Make("Hello", "Hello!")})
	if err != nil {
		t.Fatalf("AddPatch failed: %v", err)
	}

	env.restart(t)
	c = env.coordinator(t, "s:c")
	meta, err := c.Meta(ctx)
	if err != nil {
		t.Fatalf("Meta failed: %v", err)
	}
	if meta.Version != 1 || len(meta.PatchGroups) != 1 || meta.PatchGroups[0].Patches[0].ID != added.ID {
		t.Fatalf("unexpected meta after restart %+v", meta)
	}
	res, err := c.ApplyPatch(ctx, ApplyPatchParams{ID: added.ID})
	if err != nil || res.Version != 2 {
		t.Fatalf("ApplyPatch after restart: %+v err=%v", res, err)
	}
}

func TestStoryMapFailureDoesNotFailMutation(t *testing.T) {
	env := newTestEnv(t)
	env.storyMap.err = errors.New("catalog down")
	c := env.coordinator(t, "s:c")

	initChapter(t, c, "Hello")
	if _, err := c.Update(context.Background(), UpdateParams{Text: "Hi"}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if got := env.storyMap.versions(); len(got) != 2 {
		t.Fatalf("expected 2 story map calls, got %v", got)
	}
}
