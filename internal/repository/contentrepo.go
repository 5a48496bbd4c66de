package repository

import (
	"context"

	"github.com/nostrhome/hub/internal/model"
)

// ContentRepository persists the aggregated owner content served by the read API.
type ContentRepository interface {
	// SavePost stores a long-form post (upsert by id).
	SavePost(ctx context.Context, n model.CachedNote) error
	// SaveQuip stores a short note (upsert by id).
	SaveQuip(ctx context.Context, n model.CachedNote) error
	// SaveImage stores an image note with its extracted URL (upsert by id).
	SaveImage(ctx context.Context, n model.CachedNote) error
	// Posts returns a page of posts, newest first. Page numbers start at 1.
	Posts(ctx context.Context, page, perPage int) ([]model.CachedNote, error)
	// Quips returns a page of quips, newest first.
	Quips(ctx context.Context, page, perPage int) ([]model.CachedNote, error)
	// Images returns a page of images, newest first.
	Images(ctx context.Context, page, perPage int) ([]model.CachedNote, error)
	// Counts reports per-category cache sizes.
	Counts(ctx context.Context) (model.ContentCounts, error)
	// LastEventTimestamp returns the newest created_at across the cache,
	// or 0 when the cache is empty.
	LastEventTimestamp(ctx context.Context) (int64, error)
}
