package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"quill/api/internal/app"
	"quill/api/internal/blob"
	"quill/api/internal/catalog"
	"quill/api/internal/chapter"
	"quill/api/internal/config"
	"quill/api/internal/llmproxy"
	"quill/api/internal/logger"
	"quill/api/internal/metrics"
	"quill/api/internal/ratelimit"
	"quill/api/internal/search"
	"quill/api/internal/store"
)

// dataStore holds chapter metadata and the story listing.
type dataStore interface {
	chapter.MetadataStore
	catalog.Store
}

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.New(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})
	ctx := context.Background()

	var (
		checks []app.Check
		data   dataStore
		pgfts  search.Fallback
	)
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("database connection failed")
		}
		defer db.Close()

		migrations, err := store.Migrations(cfg.MigrationsDir)
		if err != nil {
			log.Fatal().Err(err).Msg("migrations unavailable")
		}
		if err := store.ApplyMigrations(ctx, db, migrations); err != nil {
			log.Fatal().Err(err).Msg("migrations failed")
		}
		pg := store.NewPostgresStore(db)
		data = pg
		pgfts = search.NewPgFTS(db)
		checks = append(checks, app.Check{Name: "database", Ping: pg.Ping})
	} else {
		log.Warn().Msg("DATABASE_URL not set, chapter metadata is kept in memory")
		data = store.NewMemoryStore()
	}

	var blobs blob.Store
	if strings.TrimSpace(cfg.Blob.Endpoint) != "" {
		bucket, err := blob.NewMinio(blob.MinioConfig{
			Endpoint:  cfg.Blob.Endpoint,
			AccessKey: cfg.Blob.AccessKey,
			SecretKey: cfg.Blob.SecretKey,
			Bucket:    cfg.Blob.Bucket,
			Region:    cfg.Blob.Region,
			Secure:    cfg.Blob.Secure,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("blob store setup failed")
		}
		if err := bucket.EnsureBucket(ctx); err != nil {
			log.Fatal().Err(err).Msg("blob bucket unavailable")
		}
		blobs = bucket
		checks = append(checks, app.Check{Name: "blob", Ping: bucket.Ping})
	} else {
		log.Warn().Msg("BLOB_ENDPOINT not set, snapshots are kept in memory")
		blobs = blob.NewMemory()
	}
	if cfg.Blob.CacheSize > 0 {
		cached, err := blob.NewCached(blobs, cfg.Blob.CacheSize)
		if err != nil {
			log.Fatal().Err(err).Msg("blob cache setup failed")
		}
		blobs = cached
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	var meili search.Backend
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		client := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger.Component(log, "meilisearch"))
		defer client.Close()
		meili = client
	}
	searchService := search.NewService(meili, pgfts, logger.Component(log, "search"))

	cat := catalog.New(data, blobs, searchService, logger.Component(log, "catalog"))
	registry := chapter.NewRegistry(chapter.Config{
		Blobs:       blobs,
		Meta:        data,
		StoryMap:    cat,
		Logger:      logger.Component(log, "chapter"),
		Metrics:     m,
		IdleTimeout: cfg.CoordinatorIdleTimeout,
	})

	var limiter ratelimit.Limiter = ratelimit.NewMemory(ratelimit.DefaultWindow)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Info().Msg("using Redis for the translation rate limit window")
		redisLimiter, err := ratelimit.NewRedis(cfg.RedisURL, ratelimit.DefaultWindow)
		if err != nil {
			log.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisLimiter.Close()
		limiter = redisLimiter
		checks = append(checks, app.Check{Name: "redis", Ping: redisLimiter.Ping})
	}

	translator, err := newTranslator(cfg.LLM, llmproxy.Options{
		Limiter:    limiter,
		Echo:       cfg.LLM.Echo(),
		MaxRetries: cfg.LLM.MaxRetries,
		Timeout:    cfg.LLM.Timeout,
		Logger:     logger.Component(log, "llmproxy"),
		Metrics:    m,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("translation provider setup failed")
	}

	go searchService.Reindex(ctx, cat.FillText)

	service := app.New(app.Deps{
		Chapters:   registry,
		Stories:    cat,
		Search:     searchService,
		Translator: translator,
		Checks:     checks,
	})
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger.Component(log, "http"), promhttp.Handler())
	if cfg.HTTP.RateLimit > 0 {
		httpServer.WithThrottle(app.NewThrottle(cfg.HTTP.RateLimit, cfg.HTTP.RateBurst, cfg.HTTP.ClientCacheSize, cfg.HTTP.ClientTTL, cfg.HTTP.TrustProxy))
	}
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.LLM.Timeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("quill API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	registry.Close()
	log.Info().Msg("stopped")
}

// newTranslator returns nil when no provider has an upstream key.
func newTranslator(cfg config.LLM, opts llmproxy.Options) (app.Translator, error) {
	var proxies []*llmproxy.Proxy
	if cfg.DeepSeekKey != "" {
		p, err := newProxy(llmproxy.DeepSeek(cfg.DeepSeekKey, cfg.DeepSeekLimit()), cfg.DeepSeekEndpoint, opts)
		if err != nil {
			return nil, err
		}
		proxies = append(proxies, p)
	}
	if cfg.OpenAIKey != "" {
		p, err := newProxy(llmproxy.OpenAI(cfg.OpenAIKey, cfg.OpenAILimit()), cfg.OpenAIEndpoint, opts)
		if err != nil {
			return nil, err
		}
		proxies = append(proxies, p)
	}
	if len(proxies) == 0 {
		opts.Logger.Warn().Msg("no translation provider configured")
		return nil, nil
	}
	return llmproxy.NewService(proxies...), nil
}

func newProxy(provider llmproxy.Provider, endpoint string, opts llmproxy.Options) (*llmproxy.Proxy, error) {
	if endpoint = strings.TrimSpace(endpoint); endpoint != "" {
		provider.Endpoint = endpoint
	}
	return llmproxy.New(provider, opts)
}
