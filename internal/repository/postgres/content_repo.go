package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nostrhome/hub/internal/model"
)

// ContentRepo implements ContentRepository using PostgreSQL. Posts, quips,
// and images share one column layout across three tables.
type ContentRepo struct{ db *DB }

// NewContentRepo constructs a content cache repository.
func NewContentRepo(db *DB) *ContentRepo { return &ContentRepo{db: db} }

// SavePost stores a long-form post.
func (r *ContentRepo) SavePost(ctx context.Context, n model.CachedNote) error {
	return r.save(ctx, "posts", n)
}

// SaveQuip stores a short note.
func (r *ContentRepo) SaveQuip(ctx context.Context, n model.CachedNote) error {
	return r.save(ctx, "quips", n)
}

// SaveImage stores an image note with its extracted URL.
func (r *ContentRepo) SaveImage(ctx context.Context, n model.CachedNote) error {
	tagsJSON, err := json.Marshal(n.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	const q = `
INSERT INTO images (id, pubkey, content, created_at, image_url, tags, kind)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO UPDATE SET content=EXCLUDED.content, image_url=EXCLUDED.image_url, tags=EXCLUDED.tags`
	_, err = r.db.Pool.Exec(ctx, q, n.ID, n.PubKey, n.Content, n.CreatedAt, n.ImageURL, tagsJSON, n.Kind)
	return err
}

func (r *ContentRepo) save(ctx context.Context, table string, n model.CachedNote) error {
	tagsJSON, err := json.Marshal(n.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	q := fmt.Sprintf(`
INSERT INTO %s (id, pubkey, content, created_at, tags, kind)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (id) DO UPDATE SET content=EXCLUDED.content, tags=EXCLUDED.tags`, table)
	_, err = r.db.Pool.Exec(ctx, q, n.ID, n.PubKey, n.Content, n.CreatedAt, tagsJSON, n.Kind)
	return err
}

// Posts returns a page of posts, newest first.
func (r *ContentRepo) Posts(ctx context.Context, page, perPage int) ([]model.CachedNote, error) {
	return r.page(ctx, "posts", false, page, perPage)
}

// Quips returns a page of quips, newest first.
func (r *ContentRepo) Quips(ctx context.Context, page, perPage int) ([]model.CachedNote, error) {
	return r.page(ctx, "quips", false, page, perPage)
}

// Images returns a page of images, newest first.
func (r *ContentRepo) Images(ctx context.Context, page, perPage int) ([]model.CachedNote, error) {
	return r.page(ctx, "images", true, page, perPage)
}

func (r *ContentRepo) page(ctx context.Context, table string, withImage bool, page, perPage int) ([]model.CachedNote, error) {
	if page < 1 {
		page = 1
	}
	cols := "id, pubkey, content, created_at, tags, kind"
	if withImage {
		cols += ", image_url"
	}
	q := fmt.Sprintf(`SELECT %s FROM %s ORDER BY created_at DESC LIMIT $1 OFFSET $2`, cols, table)
	rows, err := r.db.Pool.Query(ctx, q, perPage, (page-1)*perPage)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.CachedNote
	for rows.Next() {
		var (
			n        model.CachedNote
			tagsJSON []byte
		)
		dest := []any{&n.ID, &n.PubKey, &n.Content, &n.CreatedAt, &tagsJSON, &n.Kind}
		if withImage {
			dest = append(dest, &n.ImageURL)
		}
		if err = rows.Scan(dest...); err != nil {
			return nil, err
		}
		if len(tagsJSON) > 0 {
			if err = json.Unmarshal(tagsJSON, &n.Tags); err != nil {
				return nil, fmt.Errorf("unmarshal tags for %s: %w", n.ID, err)
			}
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Counts reports per-category cache sizes.
func (r *ContentRepo) Counts(ctx context.Context) (model.ContentCounts, error) {
	const q = `
SELECT (SELECT COUNT(*) FROM posts), (SELECT COUNT(*) FROM quips), (SELECT COUNT(*) FROM images)`
	var c model.ContentCounts
	if err := r.db.Pool.QueryRow(ctx, q).Scan(&c.Posts, &c.Quips, &c.Images); err != nil {
		return model.ContentCounts{}, err
	}
	return c, nil
}

// LastEventTimestamp returns the newest created_at across all cache tables,
// or 0 when the cache is empty.
func (r *ContentRepo) LastEventTimestamp(ctx context.Context) (int64, error) {
	const q = `
SELECT COALESCE(GREATEST(
  (SELECT MAX(created_at) FROM posts),
  (SELECT MAX(created_at) FROM quips),
  (SELECT MAX(created_at) FROM images)
), 0)`
	var ts int64
	if err := r.db.Pool.QueryRow(ctx, q).Scan(&ts); err != nil {
		return 0, err
	}
	return ts, nil
}
