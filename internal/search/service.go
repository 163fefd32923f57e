package search

import (
	"context"

	"github.com/rs/zerolog"
)

// Backend is the Meilisearch side of the service.
type Backend interface {
	Searcher
	IndexChapter(rec ChapterRecord) error
	IndexChapters(records []ChapterRecord) error
}

// Fallback is the PostgreSQL side of the service.
type Fallback interface {
	Searcher
	LoadAllChapters(ctx context.Context) ([]ChapterRecord, error)
}

// Service tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili Backend
	pgfts Fallback
	log   zerolog.Logger
	async bool
}

// NewService creates a search service. meili may be nil if Meilisearch is not
// configured; pgfts may be nil when no database is configured.
func NewService(meili Backend, pgfts Fallback, logger zerolog.Logger) *Service {
	return &Service{meili: meili, pgfts: pgfts, log: logger, async: true}
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.Warn().Err(err).Msg("meilisearch error, falling back to pgfts")
	}
	if s.pgfts == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}

	results, total, err := s.pgfts.Search(ctx, q)
	if err != nil {
		s.log.Error().Err(err).Msg("pgfts search")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexChapter pushes a chapter version to Meilisearch without waiting.
func (s *Service) IndexChapter(rec ChapterRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	index := func() {
		if err := s.meili.IndexChapter(rec); err != nil {
			s.log.Warn().Err(err).Str("title", rec.Title).Msg("index chapter")
		}
	}
	if !s.async {
		index()
		return
	}
	go index()
}

// Reindex loads the story listing from PG, lets fill attach text to each
// record, and pushes everything to Meilisearch.
func (s *Service) Reindex(ctx context.Context, fill func(context.Context, *ChapterRecord) error) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	records, err := s.pgfts.LoadAllChapters(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("reindex load failed")
		return
	}
	if fill != nil {
		for i := range records {
			if err := fill(ctx, &records[i]); err != nil {
				s.log.Warn().Err(err).Str("title", records[i].Title).Msg("reindex chapter text")
			}
		}
	}
	if err := s.meili.IndexChapters(records); err != nil {
		s.log.Warn().Err(err).Msg("reindex chapters")
		return
	}
	s.log.Info().Int("chapters", len(records)).Msg("search reindexed")
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
