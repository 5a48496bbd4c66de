// Package repository declares storage contracts implemented by the postgres subpackage.
package repository

import (
	"context"

	"github.com/nostrhome/hub/internal/model"
)

// EventRepository persists relay events keyed by their content-addressed id.
type EventRepository interface {
	// Save upserts an event by id. It returns false when an event with the
	// same id was already stored (idempotent publish).
	Save(ctx context.Context, ev model.Event) (inserted bool, err error)
	// Query returns events matching the single filter's indexable fields
	// (ids/authors/kinds/since/until), newest first with ties broken by id,
	// capped at limit. Events whose expiration is before now are excluded.
	// Tag and search conditions are applied by the caller.
	Query(ctx context.Context, f model.Filter, limit int, now int64) ([]model.Event, error)
	// DeleteIfOwner removes an event only when it is authored by pubkey.
	DeleteIfOwner(ctx context.Context, id, pubkey string) (bool, error)
	// DeleteReplaceable removes all events with the given kind and author.
	DeleteReplaceable(ctx context.Context, kind int, pubkey string) (int64, error)
	// DeleteParameterized removes all events with the given kind, author,
	// and first-"d"-tag discriminator.
	DeleteParameterized(ctx context.Context, kind int, pubkey, dTag string) (int64, error)
	// Stats reports store totals for the info endpoints.
	Stats(ctx context.Context) (model.RelayStats, error)
}
