package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/nostrhome/hub/internal/errs"
	"github.com/nostrhome/hub/internal/model"
	"github.com/nostrhome/hub/internal/nostr"
	"github.com/nostrhome/hub/internal/repository"
)

// Config carries the relay's identity and limits.
type Config struct {
	Name        string
	Description string
	Contact     string
	URL         string
	Software    string
	Version     string

	OwnerNpub   string
	OwnerPubkey string // hex; empty disables owner-only mode

	AuthRequired        bool
	MaxSubscriptions    int
	MaxSubIDLength      int
	MaxFilters          int
	MaxEventsPerRequest int
	MaxContentLength    int
	MaxMessageLength    int
	MinPowDifficulty    int
	MaxPastSkew         time.Duration
	MaxFutureSkew       time.Duration
	RateLimitPerMinute  int
	OutboundQueueSize   int
}

func (c Config) withDefaults() Config {
	if c.MaxSubscriptions <= 0 {
		c.MaxSubscriptions = 20
	}
	if c.MaxSubIDLength <= 0 {
		c.MaxSubIDLength = 64
	}
	if c.MaxFilters <= 0 {
		c.MaxFilters = 10
	}
	if c.MaxEventsPerRequest <= 0 {
		c.MaxEventsPerRequest = 500
	}
	if c.MaxContentLength <= 0 {
		c.MaxContentLength = 65536
	}
	if c.MaxMessageLength <= 0 {
		c.MaxMessageLength = 65536
	}
	if c.MaxPastSkew <= 0 {
		c.MaxPastSkew = 365 * 24 * time.Hour
	}
	if c.MaxFutureSkew <= 0 {
		c.MaxFutureSkew = 10 * time.Minute
	}
	if c.RateLimitPerMinute <= 0 {
		c.RateLimitPerMinute = 100
	}
	if c.OutboundQueueSize <= 0 {
		c.OutboundQueueSize = 256
	}
	return c
}

// Relay is the protocol engine: it dispatches inbound frames, validates and
// stores events, and fans matches out to live subscriptions.
type Relay struct {
	cfg       Config
	log       *zap.Logger
	store     repository.EventRepository
	sessions  *SessionManager
	registry  *Registry
	validator *Validator
	now       func() time.Time
}

// New constructs the relay engine around a store, session manager, and registry.
func New(cfg Config, store repository.EventRepository, sessions *SessionManager, registry *Registry, log *zap.Logger) *Relay {
	cfg = cfg.withDefaults()
	return &Relay{
		cfg:      cfg,
		log:      log,
		store:    store,
		sessions: sessions,
		registry: registry,
		validator: NewValidator(cfg.OwnerPubkey, cfg.MaxPastSkew, cfg.MaxFutureSkew,
			cfg.MaxContentLength, cfg.MinPowDifficulty),
		now: time.Now,
	}
}

// Sessions exposes the session manager to the transport layer.
func (r *Relay) Sessions() *SessionManager { return r.sessions }

// encodeFrame renders a protocol frame as a compact JSON array without HTML
// escaping, matching the canonical event encoding.
func encodeFrame(items ...any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(items); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func (r *Relay) send(s *Session, items ...any) {
	frame, err := encodeFrame(items...)
	if err != nil {
		r.log.Error("encode frame", zap.Error(err))
		return
	}
	if !s.Enqueue(frame) {
		// Slow or dead consumer: drop the connection rather than block.
		r.log.Warn("outbound queue overflow, dropping session", zap.String("session", s.ID.String()))
		s.Close()
	}
}

func (r *Relay) sendNotice(s *Session, msg string) { r.send(s, "NOTICE", msg) }

func (r *Relay) sendOK(s *Session, eventID string, ok bool, msg string) {
	r.send(s, "OK", eventID, ok, msg)
}

// SendAuthChallenge issues a fresh session-bound challenge and pushes the
// AUTH frame to the client.
func (r *Relay) SendAuthChallenge(s *Session) {
	challenge := r.sessions.IssueChallenge(s)
	r.send(s, "AUTH", challenge)
}

// HandleFrame processes one inbound protocol frame for the session the frame
// arrived on. Connection-level failures stay on the connection; nothing here
// is fatal to the process.
func (r *Relay) HandleFrame(ctx context.Context, s *Session, data []byte) {
	if !r.sessions.CheckRateLimit(s.ID) {
		r.sendNotice(s, "rate limit exceeded")
		return
	}

	var frame []json.RawMessage
	if err := json.Unmarshal(data, &frame); err != nil || len(frame) < 1 {
		r.sendNotice(s, "invalid message format")
		return
	}
	var typ string
	if err := json.Unmarshal(frame[0], &typ); err != nil {
		r.sendNotice(s, "invalid message format")
		return
	}

	switch typ {
	case "REQ":
		r.handleReq(ctx, s, frame)
	case "EVENT":
		r.handleEvent(ctx, s, frame)
	case "CLOSE":
		r.handleClose(s, frame)
	case "AUTH":
		r.handleAuth(s, frame)
	case "COUNT":
		r.handleCount(ctx, s, frame)
	default:
		r.sendNotice(s, "unknown message type: "+typ)
	}
}

func (r *Relay) decodeSubFrame(s *Session, frame []json.RawMessage, kind string) (string, []model.Filter, bool) {
	if len(frame) < 3 {
		r.sendNotice(s, "invalid "+kind+" format")
		return "", nil, false
	}
	var subID string
	if err := json.Unmarshal(frame[1], &subID); err != nil {
		r.sendNotice(s, "invalid "+kind+" format")
		return "", nil, false
	}
	if len(frame)-2 > r.cfg.MaxFilters {
		r.sendNotice(s, "too many filters")
		return "", nil, false
	}
	filters := make([]model.Filter, 0, len(frame)-2)
	for _, raw := range frame[2:] {
		var f model.Filter
		if err := json.Unmarshal(raw, &f); err != nil {
			r.sendNotice(s, "invalid filter")
			return "", nil, false
		}
		filters = append(filters, f)
	}
	return subID, filters, true
}

func (r *Relay) handleReq(ctx context.Context, s *Session, frame []json.RawMessage) {
	subID, filters, ok := r.decodeSubFrame(s, frame, "REQ")
	if !ok {
		return
	}
	if r.cfg.AuthRequired {
		if authed, _ := s.Authenticated(); !authed {
			r.sendNotice(s, "auth-required: authenticate to subscribe")
			r.SendAuthChallenge(s)
			return
		}
	}

	if err := r.registry.Add(s.ID, subID, filters); err != nil {
		switch {
		case errors.Is(err, errs.ErrTooManySubscriptions):
			r.sendNotice(s, "too many subscriptions")
		case errors.Is(err, errs.ErrSubscriptionIDTooLong):
			r.sendNotice(s, "subscription id too long")
		default:
			r.sendNotice(s, "subscription rejected")
		}
		return
	}

	events, err := r.queryEvents(ctx, filters)
	if err != nil {
		r.log.Error("replay query", zap.Error(err), zap.String("sub", subID))
		r.sendNotice(s, "error: could not query events")
		return
	}
	for _, ev := range events {
		r.send(s, "EVENT", subID, ev)
	}
	r.send(s, "EOSE", subID)

	r.log.Info("subscription created",
		zap.String("session", s.ID.String()),
		zap.String("sub", subID),
		zap.Int("replayed", len(events)),
	)
}

// queryEvents merges per-filter store queries, applies the tag/search
// conditions SQL does not cover, dedupes by id, and orders newest first with
// ties broken by id ascending.
func (r *Relay) queryEvents(ctx context.Context, filters []model.Filter) ([]model.Event, error) {
	now := r.now().Unix()
	seen := make(map[string]struct{})
	var merged []model.Event

	for _, f := range filters {
		rows, err := r.store.Query(ctx, f, r.cfg.MaxEventsPerRequest, now)
		if err != nil {
			return nil, err
		}
		kept := 0
		limit := r.cfg.MaxEventsPerRequest
		if f.Limit != nil && *f.Limit < limit {
			limit = *f.Limit
		}
		for _, ev := range rows {
			if kept >= limit {
				break
			}
			if !f.Matches(ev) {
				continue
			}
			kept++
			if _, dup := seen[ev.ID]; dup {
				continue
			}
			seen[ev.ID] = struct{}{}
			merged = append(merged, ev)
		}
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].CreatedAt != merged[j].CreatedAt {
			return merged[i].CreatedAt > merged[j].CreatedAt
		}
		return merged[i].ID < merged[j].ID
	})
	if len(merged) > r.cfg.MaxEventsPerRequest {
		merged = merged[:r.cfg.MaxEventsPerRequest]
	}
	return merged, nil
}

func (r *Relay) handleEvent(ctx context.Context, s *Session, frame []json.RawMessage) {
	if len(frame) < 2 {
		r.sendNotice(s, "invalid EVENT format")
		return
	}
	var ev model.Event
	if err := json.Unmarshal(frame[1], &ev); err != nil {
		r.sendNotice(s, "invalid event JSON")
		return
	}

	if r.cfg.AuthRequired {
		if authed, _ := s.Authenticated(); !authed {
			r.sendOK(s, ev.ID, false, "auth-required: authenticate to publish")
			r.SendAuthChallenge(s)
			return
		}
	}

	if err := r.validator.Validate(ev); err != nil {
		r.sendOK(s, ev.ID, false, err.Error())
		return
	}

	now := r.now().Unix()
	if nostr.IsExpired(ev, now) {
		r.sendOK(s, ev.ID, false, fmt.Sprintf("%s: event expiration has passed", errs.ErrExpired))
		return
	}

	// Deletion events act on their targets and are not stored themselves.
	if ev.Kind == nostr.KindDeletion {
		r.handleDeletion(ctx, s, ev)
		return
	}

	if err := r.replacePrevious(ctx, ev); err != nil {
		r.log.Error("replaceable cleanup", zap.Error(err), zap.String("event", ev.ID))
		r.sendOK(s, ev.ID, false, "error: failed to store event")
		return
	}

	inserted, err := r.store.Save(ctx, ev)
	if err != nil {
		r.log.Error("save event", zap.Error(err), zap.String("event", ev.ID))
		r.sendOK(s, ev.ID, false, "error: failed to store event")
		return
	}
	if !inserted {
		// Idempotent publish: acknowledge without rebroadcasting.
		r.sendOK(s, ev.ID, true, "duplicate: already have this event")
		return
	}

	r.sendOK(s, ev.ID, true, "")
	r.broadcast(ev)

	r.log.Info("event published",
		zap.String("event", ev.ID),
		zap.Int("kind", ev.Kind),
		zap.String("pubkey", ev.PubKey),
	)
}

// replacePrevious applies replaceable-event retention before storing.
// A parameterized-replaceable event without a "d" tag is stored as-is.
func (r *Relay) replacePrevious(ctx context.Context, ev model.Event) error {
	switch {
	case nostr.IsParameterizedReplaceable(ev.Kind):
		d, ok := nostr.DTag(ev)
		if !ok {
			return nil
		}
		_, err := r.store.DeleteParameterized(ctx, ev.Kind, ev.PubKey, d)
		return err
	case nostr.IsReplaceable(ev.Kind):
		_, err := r.store.DeleteReplaceable(ctx, ev.Kind, ev.PubKey)
		return err
	}
	return nil
}

// handleDeletion removes every referenced event the submitter owns and
// reports how many were actually deleted.
func (r *Relay) handleDeletion(ctx context.Context, s *Session, ev model.Event) {
	deleted := 0
	for _, target := range ev.Tags.Values("e") {
		ok, err := r.store.DeleteIfOwner(ctx, target, ev.PubKey)
		if err != nil {
			r.log.Error("delete event", zap.Error(err), zap.String("target", target))
			continue
		}
		if ok {
			deleted++
		}
	}
	r.sendOK(s, ev.ID, true, fmt.Sprintf("deleted %d events", deleted))
	r.log.Info("deletion processed",
		zap.String("pubkey", ev.PubKey),
		zap.Int("deleted", deleted),
	)
}

// broadcast pushes the event to every matching subscription. The registry
// snapshot is taken after the store write, so a subscription registered
// during the publish sees the event through replay or through this fan-out.
func (r *Relay) broadcast(ev model.Event) {
	for _, m := range r.registry.Matching(ev) {
		target, ok := r.sessions.Get(m.SessionID)
		if !ok {
			continue
		}
		r.send(target, "EVENT", m.SubscriptionID, ev)
	}
}

func (r *Relay) handleClose(s *Session, frame []json.RawMessage) {
	if len(frame) < 2 {
		r.sendNotice(s, "invalid CLOSE format")
		return
	}
	var subID string
	if err := json.Unmarshal(frame[1], &subID); err != nil {
		r.sendNotice(s, "invalid CLOSE format")
		return
	}
	r.registry.Remove(s.ID, subID)
}

func (r *Relay) handleAuth(s *Session, frame []json.RawMessage) {
	if len(frame) < 2 {
		r.sendNotice(s, "invalid AUTH format")
		return
	}
	var ev model.Event
	if err := json.Unmarshal(frame[1], &ev); err != nil {
		r.sendNotice(s, "invalid auth event JSON")
		return
	}
	if err := r.checkAuthEvent(s, ev); err != nil {
		r.sendOK(s, ev.ID, false, err.Error())
		return
	}
	r.sessions.Authenticate(s, ev.PubKey)
	r.sendOK(s, ev.ID, true, "")
}

// checkAuthEvent validates a NIP-42 response against the challenge issued to
// this specific session; challenges issued to other sessions never satisfy it.
func (r *Relay) checkAuthEvent(s *Session, ev model.Event) error {
	if ev.Kind != nostr.KindClientAuth {
		return fmt.Errorf("%w: auth event must be kind %d", errs.ErrInvalidEvent, nostr.KindClientAuth)
	}
	challenge := s.Challenge()
	if challenge == "" {
		return fmt.Errorf("%w: no outstanding challenge", errs.ErrInvalidEvent)
	}
	if ev.Tags.First("challenge").Value() != challenge {
		return fmt.Errorf("%w: challenge mismatch", errs.ErrInvalidEvent)
	}
	relayTag := ev.Tags.First("relay").Value()
	if relayTag != r.cfg.URL && relayTag != r.cfg.Name {
		return fmt.Errorf("%w: relay mismatch", errs.ErrInvalidEvent)
	}

	now := r.now().Unix()
	if ev.CreatedAt < now-600 || ev.CreatedAt > now+600 {
		return fmt.Errorf("%w: auth event too old", errs.ErrInvalidEvent)
	}

	ok, err := nostr.CheckID(ev)
	if err != nil || !ok {
		return fmt.Errorf("%w: event id does not match", errs.ErrInvalidEvent)
	}
	ok, err = nostr.VerifySignature(ev)
	if err != nil || !ok {
		return fmt.Errorf("%w: signature does not verify", errs.ErrInvalidEvent)
	}
	return nil
}

func (r *Relay) handleCount(ctx context.Context, s *Session, frame []json.RawMessage) {
	subID, filters, ok := r.decodeSubFrame(s, frame, "COUNT")
	if !ok {
		return
	}
	events, err := r.queryEvents(ctx, filters)
	if err != nil {
		r.log.Error("count query", zap.Error(err), zap.String("sub", subID))
		r.sendNotice(s, "error: could not count events")
		return
	}
	r.send(s, "COUNT", subID, map[string]int{"count": len(events)})
}
