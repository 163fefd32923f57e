package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InsertChapterMeta inserts the row for meta.Key unless one already exists.
// It reports whether a row was written.
func (s *PostgresStore) InsertChapterMeta(ctx context.Context, meta ChapterMeta) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO chapter_meta (key, story_title, chapter_title, when_free, cost, version, last_synced_version, patch_groups)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb)
		ON CONFLICT (key) DO NOTHING
	`, meta.Key, meta.StoryTitle, meta.ChapterTitle, meta.WhenFree, meta.Cost, meta.Version, meta.LastSyncedVersion, patchGroupsParam(meta.PatchGroups))
	if err != nil {
		return false, fmt.Errorf("insert chapter meta: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert chapter meta rows: %w", err)
	}
	return affected == 1, nil
}

// UpdateChapterMeta overwrites an existing row and returns the number of rows
// affected; zero means the row does not exist.
func (s *PostgresStore) UpdateChapterMeta(ctx context.Context, meta ChapterMeta) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE chapter_meta
		SET story_title=$2,
			chapter_title=$3,
			when_free=$4,
			cost=$5,
			version=$6,
			last_synced_version=$7,
			patch_groups=$8::jsonb,
			updated_at=NOW()
		WHERE key=$1
	`, meta.Key, meta.StoryTitle, meta.ChapterTitle, meta.WhenFree, meta.Cost, meta.Version, meta.LastSyncedVersion, patchGroupsParam(meta.PatchGroups))
	if err != nil {
		return 0, fmt.Errorf("update chapter meta: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update chapter meta rows: %w", err)
	}
	return affected, nil
}

func (s *PostgresStore) GetChapterMeta(ctx context.Context, key string) (ChapterMeta, error) {
	var (
		meta   ChapterMeta
		groups []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT key, story_title, chapter_title, when_free, cost, version, last_synced_version, patch_groups, updated_at
		FROM chapter_meta
		WHERE key=$1
	`, key).Scan(&meta.Key, &meta.StoryTitle, &meta.ChapterTitle, &meta.WhenFree, &meta.Cost, &meta.Version, &meta.LastSyncedVersion, &groups, &meta.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ChapterMeta{}, ErrNotFound
	}
	if err != nil {
		return ChapterMeta{}, fmt.Errorf("get chapter meta: %w", err)
	}
	meta.PatchGroups = json.RawMessage(groups)
	return meta, nil
}

func (s *PostgresStore) ChapterMetaExists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM chapter_meta WHERE key=$1)`, key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check chapter meta: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) DeleteChapterMeta(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chapter_meta WHERE key=$1`, key); err != nil {
		return fmt.Errorf("delete chapter meta: %w", err)
	}
	return nil
}

// UpsertStoryChapter records the latest published version of a chapter. A
// chapter keeps the position it was first listed at.
func (s *PostgresStore) UpsertStoryChapter(ctx context.Context, entry StoryChapter) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO story_chapters (story_title, chapter_title, when_free, version)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (story_title, chapter_title) DO UPDATE
		SET when_free=EXCLUDED.when_free,
			version=GREATEST(story_chapters.version, EXCLUDED.version),
			updated_at=NOW()
	`, entry.StoryTitle, entry.ChapterTitle, entry.WhenFree, entry.Version)
	if err != nil {
		return fmt.Errorf("upsert story chapter: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListStoryChapters(ctx context.Context, storyTitle string) ([]StoryChapter, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT story_title, chapter_title, position, when_free, version, updated_at
		FROM story_chapters
		WHERE story_title=$1
		ORDER BY position ASC
	`, storyTitle)
	if err != nil {
		return nil, fmt.Errorf("list story chapters: %w", err)
	}
	defer rows.Close()

	items := make([]StoryChapter, 0)
	for rows.Next() {
		var item StoryChapter
		if err := rows.Scan(&item.StoryTitle, &item.ChapterTitle, &item.Position, &item.WhenFree, &item.Version, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan story chapter: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate story chapters: %w", err)
	}
	return items, nil
}

func patchGroupsParam(groups json.RawMessage) string {
	if len(groups) == 0 {
		return "[]"
	}
	return string(groups)
}
