package model

import (
	"encoding/json"
	"strings"
)

// Filter is a query descriptor. Every present field narrows the match (AND);
// an absent field is a wildcard. Generic tag conditions arrive on the wire as
// "#<letter>" keys and are collected into Tags keyed by the letter.
type Filter struct {
	IDs     []string
	Authors []string
	Kinds   []int
	Since   *int64
	Until   *int64
	Limit   *int
	Search  string
	Tags    map[string][]string
}

type filterJSON struct {
	IDs     []string `json:"ids,omitempty"`
	Authors []string `json:"authors,omitempty"`
	Kinds   []int    `json:"kinds,omitempty"`
	Since   *int64   `json:"since,omitempty"`
	Until   *int64   `json:"until,omitempty"`
	Limit   *int     `json:"limit,omitempty"`
	Search  string   `json:"search,omitempty"`
}

// UnmarshalJSON decodes the fixed fields and collects "#x" generic tag keys.
func (f *Filter) UnmarshalJSON(data []byte) error {
	var fixed filterJSON
	if err := json.Unmarshal(data, &fixed); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*f = Filter{
		IDs:     fixed.IDs,
		Authors: fixed.Authors,
		Kinds:   fixed.Kinds,
		Since:   fixed.Since,
		Until:   fixed.Until,
		Limit:   fixed.Limit,
		Search:  fixed.Search,
	}
	for k, v := range raw {
		if len(k) != 2 || k[0] != '#' {
			continue
		}
		var vals []string
		if err := json.Unmarshal(v, &vals); err != nil {
			return err
		}
		if f.Tags == nil {
			f.Tags = make(map[string][]string)
		}
		f.Tags[k[1:]] = vals
	}
	return nil
}

// MarshalJSON emits the wire shape, including "#x" keys for tag conditions.
func (f Filter) MarshalJSON() ([]byte, error) {
	out := make(map[string]any)
	if f.IDs != nil {
		out["ids"] = f.IDs
	}
	if f.Authors != nil {
		out["authors"] = f.Authors
	}
	if f.Kinds != nil {
		out["kinds"] = f.Kinds
	}
	if f.Since != nil {
		out["since"] = *f.Since
	}
	if f.Until != nil {
		out["until"] = *f.Until
	}
	if f.Limit != nil {
		out["limit"] = *f.Limit
	}
	if f.Search != "" {
		out["search"] = f.Search
	}
	for name, vals := range f.Tags {
		out["#"+name] = vals
	}
	return json.Marshal(out)
}

// Matches reports whether the event satisfies every present condition.
// Limit is a replay cap, not a match condition, and is ignored here.
func (f Filter) Matches(ev Event) bool {
	if f.IDs != nil && !containsString(f.IDs, ev.ID) {
		return false
	}
	if f.Authors != nil && !containsString(f.Authors, ev.PubKey) {
		return false
	}
	if f.Kinds != nil && !containsInt(f.Kinds, ev.Kind) {
		return false
	}
	if f.Since != nil && ev.CreatedAt < *f.Since {
		return false
	}
	if f.Until != nil && ev.CreatedAt > *f.Until {
		return false
	}
	for name, vals := range f.Tags {
		if !hasTagValue(ev.Tags, name, vals) {
			return false
		}
	}
	if f.Search != "" && !strings.Contains(strings.ToLower(ev.Content), strings.ToLower(f.Search)) {
		return false
	}
	return true
}

// MatchesAny reports whether any filter in the list matches (OR semantics).
func MatchesAny(ev Event, filters []Filter) bool {
	for _, f := range filters {
		if f.Matches(ev) {
			return true
		}
	}
	return false
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func containsInt(list []int, v int) bool {
	for _, n := range list {
		if n == v {
			return true
		}
	}
	return false
}

func hasTagValue(tags Tags, name string, vals []string) bool {
	for _, t := range tags {
		if t.Name() != name || len(t) < 2 {
			continue
		}
		if containsString(vals, t[1]) {
			return true
		}
	}
	return false
}
