// Package chapter owns versioned chapter documents. Each document key is
// served by one Coordinator goroutine that executes operations in arrival
// order, so a key never has two concurrent writers in this process.
package chapter

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"quill/api/internal/blob"
	"quill/api/internal/metrics"
	"quill/api/internal/render"
	"quill/api/internal/store"
	"quill/api/internal/textpatch"
)

// MetadataStore holds one metadata row per chapter key.
type MetadataStore interface {
	InsertChapterMeta(ctx context.Context, meta store.ChapterMeta) (bool, error)
	UpdateChapterMeta(ctx context.Context, meta store.ChapterMeta) (int64, error)
	GetChapterMeta(ctx context.Context, key string) (store.ChapterMeta, error)
	ChapterMetaExists(ctx context.Context, key string) (bool, error)
	DeleteChapterMeta(ctx context.Context, key string) error
}

// StoryMap is told about every new chapter version.
type StoryMap interface {
	UpdateStoryMap(ctx context.Context, storyTitle, chapterTitle string, whenFree int64, version int) error
}

type Config struct {
	Blobs    blob.Store
	Meta     MetadataStore
	Codec    textpatch.Codec
	Renderer render.Renderer
	StoryMap StoryMap
	Logger   zerolog.Logger
	Metrics  *metrics.Metrics
	Now      func() time.Time
	// IdleTimeout evicts a coordinator that received nothing for this long.
	// Zero keeps coordinators until the registry is closed.
	IdleTimeout time.Duration
}

func (cfg Config) withDefaults() Config {
	if cfg.Codec == nil {
		cfg.Codec = textpatch.NewDMP()
	}
	if cfg.Renderer == nil {
		cfg.Renderer = render.NewMarkdown()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return cfg
}

type request struct {
	ctx   context.Context
	op    Op
	reply chan response
}

type response struct {
	value any
	err   error
}

// Coordinator serializes every operation on one chapter key.
type Coordinator struct {
	key     string
	cfg     Config
	log     zerolog.Logger
	mailbox chan *request
	quit    chan struct{}
	done    chan struct{}
	stop    sync.Once
	onIdle  func(*Coordinator) bool
	evicted atomic.Bool

	// Owned by the run goroutine.
	loaded bool
	st     state
}

func newCoordinator(key string, cfg Config, onIdle func(*Coordinator) bool) *Coordinator {
	c := &Coordinator{
		key:     key,
		cfg:     cfg,
		log:     cfg.Logger.With().Str("key", key).Logger(),
		mailbox: make(chan *request),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		onIdle:  onIdle,
	}
	cfg.Metrics.CoordinatorStarted()
	go c.run()
	return c
}

func (c *Coordinator) Key() string { return c.key }

// Do enqueues op and waits for its result. If ctx ends first Do returns
// ctx.Err(); an operation that was already dequeued still runs to completion.
func (c *Coordinator) Do(ctx context.Context, op Op) (any, error) {
	if op == nil {
		return nil, fmt.Errorf("%w: missing operation", ErrInvalidInput)
	}
	req := &request{ctx: ctx, op: op, reply: make(chan response, 1)}
	select {
	case c.mailbox <- req:
	case <-c.quit:
		return nil, c.closedErr()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-req.reply:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Coordinator) closedErr() error {
	if c.evicted.Load() {
		return errEvicted
	}
	return ErrClosed
}

// Close stops the coordinator after the operation in progress, if any.
func (c *Coordinator) Close() {
	c.shutdown()
	<-c.done
}

func (c *Coordinator) shutdown() {
	c.stop.Do(func() { close(c.quit) })
}

func (c *Coordinator) run() {
	defer func() {
		c.cfg.Metrics.CoordinatorStopped()
		close(c.done)
	}()
	c.log.Debug().Msg("coordinator started")

	var idle <-chan time.Time
	var timer *time.Timer
	if c.cfg.IdleTimeout > 0 {
		timer = time.NewTimer(c.cfg.IdleTimeout)
		defer timer.Stop()
		idle = timer.C
	}

	for {
		select {
		case req := <-c.mailbox:
			res := c.serve(req)
			req.reply <- res
			if timer != nil {
				timer.Reset(c.cfg.IdleTimeout)
			}
		case <-idle:
			if c.onIdle != nil && c.onIdle(c) {
				c.log.Debug().Msg("coordinator evicted")
				return
			}
			timer.Reset(c.cfg.IdleTimeout)
		case <-c.quit:
			c.log.Debug().Msg("coordinator stopped")
			return
		}
	}
}

func (c *Coordinator) serve(req *request) (res response) {
	started := time.Now()
	method := req.op.Method()
	ctx := context.WithoutCancel(req.ctx)

	defer func() {
		if rec := recover(); rec != nil {
			c.log.Error().Str("method", method).Interface("panic", rec).Bytes("stack", debug.Stack()).Msg("panic in chapter operation")
			res = response{err: fmt.Errorf("%s: panic: %v", method, rec)}
		}
		outcome := Outcome(res.err)
		c.cfg.Metrics.ObserveOperation(method, outcome, started)
		event := c.log.Debug()
		if outcome == "error" || outcome == "storage_inconsistency" {
			event = c.log.Warn().Err(res.err)
		}
		event.Str("method", method).Str("outcome", outcome).Dur("duration", time.Since(started)).Msg("chapter operation")
	}()

	if !c.loaded {
		if err := c.load(ctx); err != nil {
			return response{err: err}
		}
	}
	value, err := c.dispatch(ctx, req.op)
	return response{value: value, err: err}
}

func (c *Coordinator) dispatch(ctx context.Context, op Op) (any, error) {
	switch p := op.(type) {
	case *InitParams:
		return c.init(ctx, *p)
	case InitParams:
		return c.init(ctx, p)
	case *AddPatchParams:
		return c.addPatch(ctx, *p)
	case AddPatchParams:
		return c.addPatch(ctx, p)
	case *ApplyPatchParams:
		return c.applyPatch(ctx, *p)
	case ApplyPatchParams:
		return c.applyPatch(ctx, p)
	case *UpdateParams:
		return c.update(ctx, *p)
	case UpdateParams:
		return c.update(ctx, p)
	case *TextParams:
		return c.text(ctx, p.Version, blob.TextKey)
	case TextParams:
		return c.text(ctx, p.Version, blob.TextKey)
	case *HTMLParams:
		return c.text(ctx, p.Version, blob.HTMLKey)
	case HTMLParams:
		return c.text(ctx, p.Version, blob.HTMLKey)
	case *MetaParams, MetaParams:
		return c.meta()
	case *SerializeParams, SerializeParams:
		return c.serialize(ctx)
	case *RestoreParams:
		return c.restore(ctx, *p)
	case RestoreParams:
		return c.restore(ctx, p)
	default:
		return nil, fmt.Errorf("%w: unsupported method %q", ErrInvalidInput, op.Method())
	}
}

// load reads the persisted metadata row. A missing row leaves the chapter
// uninitialized; a failed read is retried by the next operation.
func (c *Coordinator) load(ctx context.Context) error {
	row, err := c.cfg.Meta.GetChapterMeta(ctx, c.key)
	if errors.Is(err, store.ErrNotFound) {
		c.st = state{}
		c.loaded = true
		c.log.Debug().Msg("chapter activated uninitialized")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load chapter meta: %w", err)
	}
	st, err := stateFromRow(row)
	if err != nil {
		return err
	}
	c.st = st
	c.loaded = true
	c.log.Debug().Int("version", st.version).Int("groups", len(st.groups)).Msg("chapter activated")
	return nil
}

func (c *Coordinator) Init(ctx context.Context, p InitParams) (InitResult, error) {
	v, err := c.Do(ctx, p)
	if err != nil {
		return InitResult{}, err
	}
	return v.(InitResult), nil
}

func (c *Coordinator) AddPatch(ctx context.Context, p AddPatchParams) (AddPatchResult, error) {
	v, err := c.Do(ctx, p)
	if err != nil {
		return AddPatchResult{}, err
	}
	return v.(AddPatchResult), nil
}

func (c *Coordinator) ApplyPatch(ctx context.Context, p ApplyPatchParams) (ApplyPatchResult, error) {
	v, err := c.Do(ctx, p)
	if err != nil {
		return ApplyPatchResult{}, err
	}
	return v.(ApplyPatchResult), nil
}

func (c *Coordinator) Update(ctx context.Context, p UpdateParams) (UpdateResult, error) {
	v, err := c.Do(ctx, p)
	if err != nil {
		return UpdateResult{}, err
	}
	return v.(UpdateResult), nil
}

func (c *Coordinator) Text(ctx context.Context, version *int) (string, error) {
	return c.doString(ctx, TextParams{VersionParams{Version: version}})
}

func (c *Coordinator) HTML(ctx context.Context, version *int) (string, error) {
	return c.doString(ctx, HTMLParams{VersionParams{Version: version}})
}

func (c *Coordinator) Meta(ctx context.Context) (Meta, error) {
	v, err := c.Do(ctx, MetaParams{})
	if err != nil {
		return Meta{}, err
	}
	return v.(Meta), nil
}

func (c *Coordinator) Serialize(ctx context.Context) (string, error) {
	return c.doString(ctx, SerializeParams{})
}

func (c *Coordinator) Restore(ctx context.Context, data string) (Meta, error) {
	v, err := c.Do(ctx, RestoreParams{Data: data})
	if err != nil {
		return Meta{}, err
	}
	return v.(Meta), nil
}

func (c *Coordinator) doString(ctx context.Context, op Op) (string, error) {
	v, err := c.Do(ctx, op)
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
