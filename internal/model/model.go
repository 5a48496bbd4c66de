// Package model defines domain entities shared by the relay, repositories, and services.
package model

// Tag is an ordered list of strings; position 0 is the tag name.
type Tag []string

// Tags preserves the author-supplied tag order.
type Tags []Tag

// Name returns the tag name, or "" for an empty tag.
func (t Tag) Name() string {
	if len(t) == 0 {
		return ""
	}
	return t[0]
}

// Value returns the tag's first value (position 1), or "".
func (t Tag) Value() string {
	if len(t) < 2 {
		return ""
	}
	return t[1]
}

// First returns the first tag with the given name, or nil.
func (ts Tags) First(name string) Tag {
	for _, t := range ts {
		if t.Name() == name {
			return t
		}
	}
	return nil
}

// Values collects the first value of every tag with the given name.
func (ts Tags) Values(name string) []string {
	var out []string
	for _, t := range ts {
		if t.Name() == name && len(t) >= 2 {
			out = append(out, t[1])
		}
	}
	return out
}

// Event is an immutable, content-addressed, signed Nostr record.
type Event struct {
	ID        string `json:"id"`
	PubKey    string `json:"pubkey"`
	CreatedAt int64  `json:"created_at"`
	Kind      int    `json:"kind"`
	Tags      Tags   `json:"tags"`
	Content   string `json:"content"`
	Sig       string `json:"sig"`
}

// CachedNote is an aggregated piece of owner content served by the read API.
type CachedNote struct {
	ID        string `json:"id"`
	PubKey    string `json:"pubkey"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at"`
	Tags      Tags   `json:"tags"`
	Kind      int    `json:"kind"`
	ImageURL  string `json:"image_url,omitempty"`
	CachedAt  int64  `json:"cached_at,omitempty"`
}

// ContentCounts reports cache sizes per category.
type ContentCounts struct {
	Posts  int64 `json:"posts"`
	Quips  int64 `json:"quips"`
	Images int64 `json:"images"`
}

// RelayStats summarizes the event store for the info endpoints.
type RelayStats struct {
	TotalEvents  int64         `json:"total_events"`
	EventsByKind map[int]int64 `json:"events_by_kind"`
}
