package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nostrhome/hub/internal/model"
	"github.com/nostrhome/hub/internal/nostr"
)

// EventRepo implements EventRepository using PostgreSQL.
type EventRepo struct{ db *DB }

// NewEventRepo constructs an event repository.
func NewEventRepo(db *DB) *EventRepo { return &EventRepo{db: db} }

// Save upserts an event by id and reports whether a new row was inserted.
// The first "d" tag and the expiration timestamp are denormalized into
// columns so replaceable deletes and lazy expiration stay in SQL.
func (r *EventRepo) Save(ctx context.Context, ev model.Event) (bool, error) {
	tagsJSON, err := json.Marshal(ev.Tags)
	if err != nil {
		return false, fmt.Errorf("marshal tags: %w", err)
	}

	var dTag *string
	if d, ok := nostr.DTag(ev); ok {
		dTag = &d
	}
	var expiresAt *int64
	if exp := nostr.ExpiresAt(ev); exp != 0 {
		expiresAt = &exp
	}

	const q = `
INSERT INTO relay_events (id, pubkey, created_at, kind, tags, content, sig, d_tag, expires_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO NOTHING`
	tag, err := r.db.Pool.Exec(ctx, q,
		ev.ID, ev.PubKey, ev.CreatedAt, ev.Kind, tagsJSON, ev.Content, ev.Sig, dTag, expiresAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Query returns non-expired events matching the filter's indexable fields,
// newest first with ties broken by id ascending.
func (r *EventRepo) Query(ctx context.Context, f model.Filter, limit int, now int64) ([]model.Event, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT id, pubkey, created_at, kind, tags, content, sig FROM relay_events WHERE (expires_at IS NULL OR expires_at >= $1)`)
	args := []any{now}

	add := func(clause string, arg any) {
		args = append(args, arg)
		fmt.Fprintf(&sb, " AND "+clause, len(args))
	}
	if f.IDs != nil {
		add("id = ANY($%d)", f.IDs)
	}
	if f.Authors != nil {
		add("pubkey = ANY($%d)", f.Authors)
	}
	if f.Kinds != nil {
		add("kind = ANY($%d)", f.Kinds)
	}
	if f.Since != nil {
		add("created_at >= $%d", *f.Since)
	}
	if f.Until != nil {
		add("created_at <= $%d", *f.Until)
	}
	args = append(args, limit)
	fmt.Fprintf(&sb, " ORDER BY created_at DESC, id ASC LIMIT $%d", len(args))

	rows, err := r.db.Pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		var (
			ev       model.Event
			tagsJSON []byte
		)
		if err = rows.Scan(&ev.ID, &ev.PubKey, &ev.CreatedAt, &ev.Kind, &tagsJSON, &ev.Content, &ev.Sig); err != nil {
			return nil, err
		}
		if len(tagsJSON) > 0 {
			if err = json.Unmarshal(tagsJSON, &ev.Tags); err != nil {
				return nil, fmt.Errorf("unmarshal tags for %s: %w", ev.ID, err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// DeleteIfOwner removes the event only when pubkey authored it.
func (r *EventRepo) DeleteIfOwner(ctx context.Context, id, pubkey string) (bool, error) {
	const q = `DELETE FROM relay_events WHERE id=$1 AND pubkey=$2`
	tag, err := r.db.Pool.Exec(ctx, q, id, pubkey)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteReplaceable removes all stored events with the same kind and author.
func (r *EventRepo) DeleteReplaceable(ctx context.Context, kind int, pubkey string) (int64, error) {
	const q = `DELETE FROM relay_events WHERE kind=$1 AND pubkey=$2`
	tag, err := r.db.Pool.Exec(ctx, q, kind, pubkey)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteParameterized removes all stored events with the same kind, author,
// and "d" tag discriminator.
func (r *EventRepo) DeleteParameterized(ctx context.Context, kind int, pubkey, dTag string) (int64, error) {
	const q = `DELETE FROM relay_events WHERE kind=$1 AND pubkey=$2 AND d_tag=$3`
	tag, err := r.db.Pool.Exec(ctx, q, kind, pubkey, dTag)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Stats reports the total number of stored events and a per-kind breakdown.
func (r *EventRepo) Stats(ctx context.Context) (model.RelayStats, error) {
	stats := model.RelayStats{EventsByKind: make(map[int]int64)}

	const total = `SELECT COUNT(*) FROM relay_events`
	if err := r.db.Pool.QueryRow(ctx, total).Scan(&stats.TotalEvents); err != nil {
		return model.RelayStats{}, err
	}

	const byKind = `SELECT kind, COUNT(*) FROM relay_events GROUP BY kind`
	rows, err := r.db.Pool.Query(ctx, byKind)
	if err != nil {
		return model.RelayStats{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			kind int
			n    int64
		)
		if err = rows.Scan(&kind, &n); err != nil {
			return model.RelayStats{}, err
		}
		stats.EventsByKind[kind] = n
	}
	return stats, rows.Err()
}
