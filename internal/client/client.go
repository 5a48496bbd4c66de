// Package client fetches the owner's events from upstream relays over
// outbound websocket connections.
package client

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nostrhome/hub/internal/model"
	"github.com/nostrhome/hub/internal/nostr"
)

// Fetcher pulls events for one author from a set of relays concurrently and
// merges the results.
type Fetcher struct {
	relays  []string
	timeout time.Duration
	log     *zap.Logger
	dialer  *websocket.Dialer
}

// NewFetcher constructs a fetcher for the given relay URLs.
func NewFetcher(relays []string, timeout time.Duration, log *zap.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Fetcher{
		relays:  relays,
		timeout: timeout,
		log:     log,
		dialer:  websocket.DefaultDialer,
	}
}

// Fetch requests the author's notes and long-form posts from every configured
// relay, waits for EOSE or timeout per relay, and returns deduped events.
func (f *Fetcher) Fetch(ctx context.Context, pubkey string, since int64) []model.Event {
	var (
		mu     sync.Mutex
		merged []model.Event
		seen   = make(map[string]struct{})
		wg     sync.WaitGroup
	)
	for _, url := range f.relays {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			events, err := f.fetchOne(ctx, url, pubkey, since)
			if err != nil {
				f.log.Warn("relay fetch failed", zap.String("relay", url), zap.Error(err))
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, ev := range events {
				if _, dup := seen[ev.ID]; dup {
					continue
				}
				seen[ev.ID] = struct{}{}
				merged = append(merged, ev)
			}
		}(url)
	}
	wg.Wait()
	return merged
}

func (f *Fetcher) fetchOne(ctx context.Context, url, pubkey string, since int64) ([]model.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	conn, _, err := f.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	filter := model.Filter{
		Authors: []string{pubkey},
		Kinds:   []int{nostr.KindTextNote, nostr.KindLongForm},
	}
	if since > 0 {
		filter.Since = &since
	}
	req, err := json.Marshal([]any{"REQ", "hub-fetch", filter})
	if err != nil {
		return nil, err
	}
	if err := conn.WriteMessage(websocket.TextMessage, req); err != nil {
		return nil, err
	}

	deadline, _ := ctx.Deadline()
	_ = conn.SetReadDeadline(deadline)

	var out []model.Event
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			// Timeouts after partial reads still yield what we collected.
			return out, nil
		}
		var frame []json.RawMessage
		if err := json.Unmarshal(data, &frame); err != nil || len(frame) < 2 {
			continue
		}
		var typ string
		if err := json.Unmarshal(frame[0], &typ); err != nil {
			continue
		}
		switch typ {
		case "EVENT":
			if len(frame) < 3 {
				continue
			}
			var ev model.Event
			if err := json.Unmarshal(frame[2], &ev); err != nil {
				continue
			}
			out = append(out, ev)
		case "EOSE":
			return out, nil
		}
	}
}
