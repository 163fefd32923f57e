package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS searches chapter titles in the story listing with PostgreSQL
// full-text search. It does not see chapter text.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	where := "sc.fts @@ plainto_tsquery('english', $1)"
	args := []any{q.Text}
	if q.StoryTitle != "" {
		where += " AND sc.story_title = $2"
		args = append(args, q.StoryTitle)
	}

	var total int
	if err := p.db.QueryRowContext(ctx, "SELECT count(*) FROM story_chapters sc WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT sc.story_title, sc.chapter_title,
			ts_headline('english', sc.chapter_title, plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet,
			sc.version, sc.when_free
		FROM story_chapters sc
		WHERE %s
		ORDER BY ts_rank(sc.fts, plainto_tsquery('english', $1)) DESC, sc.position ASC
		LIMIT %d OFFSET %d`, where, limit, offset), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.StoryTitle, &r.ChapterTitle, &r.Snippet, &r.Version, &r.WhenFree); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Title = r.StoryTitle + ":" + r.ChapterTitle
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllChapters returns the listing of every story for full reindexing.
// Text is left empty; callers fill it from the blob store.
func (p *PgFTS) LoadAllChapters(ctx context.Context) ([]ChapterRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT story_title, chapter_title, version, when_free
		FROM story_chapters
		ORDER BY story_title, position
	`)
	if err != nil {
		return nil, fmt.Errorf("load chapters: %w", err)
	}
	defer rows.Close()

	records := make([]ChapterRecord, 0)
	for rows.Next() {
		var rec ChapterRecord
		if err := rows.Scan(&rec.StoryTitle, &rec.ChapterTitle, &rec.Version, &rec.WhenFree); err != nil {
			return nil, fmt.Errorf("scan chapter: %w", err)
		}
		rec.Title = rec.StoryTitle + ":" + rec.ChapterTitle
		rec.ID = RecordID(rec.Title)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chapters: %w", err)
	}
	return records, nil
}
