package app

import (
	"context"
	"net/http"
	"strings"

	"quill/api/internal/catalog"
	"quill/api/internal/chapter"
	"quill/api/internal/llmproxy"
	"quill/api/internal/search"
)

// Chapters runs an operation on the coordinator owning key.
type Chapters interface {
	Do(ctx context.Context, key string, op chapter.Op) (any, error)
}

type Stories interface {
	Chapters(ctx context.Context, storyTitle string) ([]catalog.Entry, error)
}

type Searcher interface {
	Search(ctx context.Context, q search.Query) search.Response
}

type Translator interface {
	Translate(ctx context.Context, params llmproxy.TranslateParams) (string, error)
}

// Check is one dependency probed by the readiness endpoint.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// Deps wires the service. Only Chapters is required.
type Deps struct {
	Chapters   Chapters
	Stories    Stories
	Search     Searcher
	Translator Translator
	Checks     []Check
}

type Service struct {
	chapters   Chapters
	stories    Stories
	search     Searcher
	translator Translator
	checks     []Check
}

func New(deps Deps) *Service {
	return &Service{
		chapters:   deps.Chapters,
		stories:    deps.Stories,
		search:     deps.Search,
		translator: deps.Translator,
		checks:     deps.Checks,
	}
}

func (s *Service) Chapter(ctx context.Context, name string, op chapter.Op) (any, error) {
	return s.chapters.Do(ctx, name, op)
}

func (s *Service) StoryChapters(ctx context.Context, storyTitle string) ([]catalog.Entry, error) {
	storyTitle = strings.TrimSpace(storyTitle)
	if storyTitle == "" {
		return nil, domainError(http.StatusBadRequest, "INVALID_INPUT", "story title is required", nil)
	}
	if s.stories == nil {
		return []catalog.Entry{}, nil
	}
	return s.stories.Chapters(ctx, storyTitle)
}

func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(ctx, q)
}

func (s *Service) Translate(ctx context.Context, params llmproxy.TranslateParams) (string, error) {
	if s.translator == nil {
		return "", domainError(http.StatusServiceUnavailable, "TRANSLATION_UNAVAILABLE", "No translation provider configured", nil)
	}
	return s.translator.Translate(ctx, params)
}

// Ping runs every readiness check and returns the failures by name.
func (s *Service) Ping(ctx context.Context) map[string]error {
	failures := make(map[string]error)
	for _, check := range s.checks {
		if err := check.Ping(ctx); err != nil {
			failures[check.Name] = err
		}
	}
	return failures
}

func (s *Service) CheckNames() []string {
	names := make([]string, 0, len(s.checks))
	for _, check := range s.checks {
		names = append(names, check.Name)
	}
	return names
}
