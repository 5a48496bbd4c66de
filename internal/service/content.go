// Package service contains the content aggregation service behind the read API.
package service

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/nostrhome/hub/internal/model"
	"github.com/nostrhome/hub/internal/nostr"
	"github.com/nostrhome/hub/internal/repository"
)

// EventFetcher pulls the owner's events from upstream relays.
type EventFetcher interface {
	Fetch(ctx context.Context, pubkey string, since int64) []model.Event
}

// ContentService serves cached owner content and refreshes it from upstream relays.
type ContentService interface {
	// Posts returns a page of long-form posts, newest first.
	Posts(ctx context.Context, page int) ([]model.CachedNote, error)
	// Quips returns a page of short notes, newest first.
	Quips(ctx context.Context, page int) ([]model.CachedNote, error)
	// Images returns a page of image notes, newest first.
	Images(ctx context.Context, page int) ([]model.CachedNote, error)
	// Stats reports per-category cache sizes.
	Stats(ctx context.Context) (model.ContentCounts, error)
	// UpdateCache fetches new owner events, classifies them, and reports
	// how many landed in each category.
	UpdateCache(ctx context.Context) (model.ContentCounts, error)
}

// Page size defaults mirror the read API contract.
const (
	postsPerPage  = 20
	quipsPerPage  = 50
	imagesPerPage = 30
)

var imageURLPattern = regexp.MustCompile(`(?i)https?://[^\s]+\.(jpg|jpeg|png|gif|webp|svg)`)

type ContentServiceImpl struct {
	repo        repository.ContentRepository
	fetcher     EventFetcher
	ownerPubkey string
	log         *zap.Logger
}

// NewContentService constructs the content service for the given owner.
func NewContentService(repo repository.ContentRepository, fetcher EventFetcher, ownerPubkey string, log *zap.Logger) *ContentServiceImpl {
	return &ContentServiceImpl{repo: repo, fetcher: fetcher, ownerPubkey: ownerPubkey, log: log}
}

// Posts returns a page of long-form posts.
func (s *ContentServiceImpl) Posts(ctx context.Context, page int) ([]model.CachedNote, error) {
	return s.repo.Posts(ctx, page, postsPerPage)
}

// Quips returns a page of short notes.
func (s *ContentServiceImpl) Quips(ctx context.Context, page int) ([]model.CachedNote, error) {
	return s.repo.Quips(ctx, page, quipsPerPage)
}

// Images returns a page of image notes.
func (s *ContentServiceImpl) Images(ctx context.Context, page int) ([]model.CachedNote, error) {
	return s.repo.Images(ctx, page, imagesPerPage)
}

// Stats reports per-category cache sizes.
func (s *ContentServiceImpl) Stats(ctx context.Context) (model.ContentCounts, error) {
	return s.repo.Counts(ctx)
}

// UpdateCache pulls owner events newer than the cache high-water mark,
// classifies each into images, posts, or quips, and upserts them.
func (s *ContentServiceImpl) UpdateCache(ctx context.Context) (model.ContentCounts, error) {
	since, err := s.repo.LastEventTimestamp(ctx)
	if err != nil {
		return model.ContentCounts{}, err
	}

	events := s.fetcher.Fetch(ctx, s.ownerPubkey, since)
	var counts model.ContentCounts
	for _, ev := range events {
		content := strings.TrimSpace(ev.Content)
		if content == "" {
			continue
		}
		note := model.CachedNote{
			ID:        ev.ID,
			PubKey:    ev.PubKey,
			Content:   ev.Content,
			CreatedAt: ev.CreatedAt,
			Tags:      ev.Tags,
			Kind:      ev.Kind,
		}
		switch {
		case imageURL(ev) != "":
			note.ImageURL = imageURL(ev)
			if err := s.repo.SaveImage(ctx, note); err != nil {
				s.log.Warn("save image", zap.Error(err), zap.String("event", ev.ID))
				continue
			}
			counts.Images++
		case isLongForm(ev):
			if err := s.repo.SavePost(ctx, note); err != nil {
				s.log.Warn("save post", zap.Error(err), zap.String("event", ev.ID))
				continue
			}
			counts.Posts++
		default:
			if err := s.repo.SaveQuip(ctx, note); err != nil {
				s.log.Warn("save quip", zap.Error(err), zap.String("event", ev.ID))
				continue
			}
			counts.Quips++
		}
	}

	s.log.Info("cache updated",
		zap.Int("fetched", len(events)),
		zap.Int64("posts", counts.Posts),
		zap.Int64("quips", counts.Quips),
		zap.Int64("images", counts.Images),
	)
	return counts, nil
}

// imageURL extracts the first image URL from the content or from url/r tags.
func imageURL(ev model.Event) string {
	if m := imageURLPattern.FindString(ev.Content); m != "" {
		return m
	}
	for _, t := range ev.Tags {
		if t.Name() != "url" && t.Name() != "r" {
			continue
		}
		if m := imageURLPattern.FindString(t.Value()); m != "" {
			return m
		}
	}
	return ""
}

// isLongForm reports whether the event is a NIP-23 article or a titled note.
func isLongForm(ev model.Event) bool {
	if ev.Kind == nostr.KindLongForm {
		return true
	}
	if ev.Kind == nostr.KindTextNote {
		if t := ev.Tags.First("title"); t != nil && strings.TrimSpace(t.Value()) != "" {
			return true
		}
	}
	return false
}
