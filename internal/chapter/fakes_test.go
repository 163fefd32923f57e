package chapter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"quill/api/internal/blob"
	"quill/api/internal/store"
)

type fakeBlobs struct {
	*blob.Memory
	putFn func(ctx context.Context, key string, data []byte) error
}

func (f *fakeBlobs) Put(ctx context.Context, key string, data []byte) error {
	if f.putFn != nil {
		if err := f.putFn(ctx, key, data); err != nil {
			return err
		}
	}
	return f.Memory.Put(ctx, key, data)
}

type fakeMeta struct {
	*store.MemoryStore
	updateFn func(ctx context.Context, meta store.ChapterMeta) (int64, error)
}

func (f *fakeMeta) UpdateChapterMeta(ctx context.Context, meta store.ChapterMeta) (int64, error) {
	if f.updateFn != nil {
		return f.updateFn(ctx, meta)
	}
	return f.MemoryStore.UpdateChapterMeta(ctx, meta)
}

type storyMapCall struct {
	storyTitle   string
	chapterTitle string
	whenFree     int64
	version      int
}

type fakeStoryMap struct {
	mu    sync.Mutex
	calls []storyMapCall
	err   error
}

func (f *fakeStoryMap) UpdateStoryMap(_ context.Context, storyTitle, chapterTitle string, whenFree int64, version int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, storyMapCall{storyTitle, chapterTitle, whenFree, version})
	return f.err
}

func (f *fakeStoryMap) versions() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.version
	}
	return out
}

type testEnv struct {
	blobs    *fakeBlobs
	meta     *fakeMeta
	storyMap *fakeStoryMap
	cfg      Config
	registry *Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		blobs:    &fakeBlobs{Memory: blob.NewMemory()},
		meta:     &fakeMeta{MemoryStore: store.NewMemoryStore()},
		storyMap: &fakeStoryMap{},
	}
	env.cfg = Config{
		Blobs:    env.blobs,
		Meta:     env.meta,
		StoryMap: env.storyMap,
		Logger:   zerolog.Nop(),
		Now:      func() time.Time { return time.UnixMilli(1_000) },
	}
	env.registry = NewRegistry(env.cfg)
	t.Cleanup(env.registry.Close)
	return env
}

func (env *testEnv) coordinator(t *testing.T, key string) *Coordinator {
	t.Helper()
	c, err := env.registry.Get(key)
	if err != nil {
		t.Fatalf("Get(%q) failed: %v", key, err)
	}
	return c
}

// restart drops every coordinator and serves the same stores from a new
// registry, as after a process restart.
func (env *testEnv) restart(t *testing.T) {
	t.Helper()
	env.registry.Close()
	env.registry = NewRegistry(env.cfg)
	t.Cleanup(env.registry.Close)
}

func initChapter(t *testing.T, c *Coordinator, text string) InitResult {
	t.Helper()
	story, chapter := splitKey(c.Key())
	res, err := c.Init(context.Background(), InitParams{StoryTitle: story, ChapterTitle: chapter, Text: text})
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return res
}

func splitKey(key string) (string, string) {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}

func intPtr(v int) *int { return &v }
