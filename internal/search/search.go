// Package search finds chapters by title and text. Meilisearch is preferred;
// PostgreSQL full-text search over the story listing is the fallback.
package search

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
)

// Result is a single search hit returned to the caller.
type Result struct {
	StoryTitle   string `json:"story_title"`
	ChapterTitle string `json:"chapter_title"`
	Title        string `json:"title"`
	Snippet      string `json:"snippet"`
	Version      int    `json:"version"`
	WhenFree     int64  `json:"when_free"`
}

// Query describes a search request.
type Query struct {
	Text       string
	StoryTitle string // empty = all stories
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// ChapterRecord is the data we index for one chapter version.
type ChapterRecord struct {
	ID           string `json:"id"`
	StoryTitle   string `json:"storyTitle"`
	ChapterTitle string `json:"chapterTitle"`
	Title        string `json:"title"`
	Text         string `json:"text"`
	Version      int    `json:"version"`
	WhenFree     int64  `json:"whenFree"`
}

// RecordID derives an index primary key from a chapter title. Meilisearch
// ids only allow [a-zA-Z0-9_-].
func RecordID(title string) string {
	sum := sha1.Sum([]byte(title))
	return hex.EncodeToString(sum[:])
}
