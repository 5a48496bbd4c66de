package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nostrhome/hub/internal/model"
)

func TestRelay_EndToEnd(t *testing.T) {
	r, store := newTestRelay(t, Config{})
	ctx := context.Background()
	s := r.sessions.OnConnect()

	// REQ on an empty store yields only EOSE.
	r.HandleFrame(ctx, s, rawFrame(t, "REQ", "sub1", map[string]any{"kinds": []int{1}}))
	frame := readFrame(t, s)
	require.Equal(t, "EOSE", frameType(t, frame))
	require.Equal(t, "sub1", frameString(t, frame[1]))
	requireNoFrame(t, s)

	// Publishing a matching event acknowledges and feeds the live subscription.
	sg := newSigner(t)
	ev := sg.event(t, 1, "hello", nil, time.Now().Unix())
	r.HandleFrame(ctx, s, rawFrame(t, "EVENT", ev))

	msg := requireOK(t, readFrame(t, s), ev.ID, true)
	require.Equal(t, "", msg)

	frame = readFrame(t, s)
	require.Equal(t, "EVENT", frameType(t, frame))
	require.Equal(t, "sub1", frameString(t, frame[1]))
	var got model.Event
	require.NoError(t, json.Unmarshal(frame[2], &got))
	require.Equal(t, ev.ID, got.ID)
	requireNoFrame(t, s)
	require.Len(t, store.events, 1)

	// After CLOSE, further matching events are not delivered.
	r.HandleFrame(ctx, s, rawFrame(t, "CLOSE", "sub1"))
	ev2 := sg.event(t, 1, "again", nil, time.Now().Unix())
	r.HandleFrame(ctx, s, rawFrame(t, "EVENT", ev2))
	requireOK(t, readFrame(t, s), ev2.ID, true)
	requireNoFrame(t, s)
}

func TestRelay_IdempotentPublish(t *testing.T) {
	r, store := newTestRelay(t, Config{})
	ctx := context.Background()
	s := r.sessions.OnConnect()
	r.HandleFrame(ctx, s, rawFrame(t, "REQ", "live", map[string]any{"kinds": []int{1}}))
	require.Equal(t, "EOSE", frameType(t, readFrame(t, s)))

	sg := newSigner(t)
	ev := sg.event(t, 1, "once", nil, time.Now().Unix())

	r.HandleFrame(ctx, s, rawFrame(t, "EVENT", ev))
	require.Equal(t, "", requireOK(t, readFrame(t, s), ev.ID, true))
	require.Equal(t, "EVENT", frameType(t, readFrame(t, s)))

	// Second submit: positive ack, single stored copy, no rebroadcast.
	r.HandleFrame(ctx, s, rawFrame(t, "EVENT", ev))
	msg := requireOK(t, readFrame(t, s), ev.ID, true)
	require.True(t, strings.HasPrefix(msg, "duplicate:"))
	requireNoFrame(t, s)
	require.Len(t, store.events, 1)
}

func TestRelay_BroadcastTargetsMatchingSessionsOnly(t *testing.T) {
	r, _ := newTestRelay(t, Config{})
	ctx := context.Background()

	publisher := r.sessions.OnConnect()
	matching := r.sessions.OnConnect()
	other := r.sessions.OnConnect()

	r.HandleFrame(ctx, matching, rawFrame(t, "REQ", "m", map[string]any{"kinds": []int{1}}))
	require.Equal(t, "EOSE", frameType(t, readFrame(t, matching)))
	r.HandleFrame(ctx, other, rawFrame(t, "REQ", "o", map[string]any{"kinds": []int{7}}))
	require.Equal(t, "EOSE", frameType(t, readFrame(t, other)))

	sg := newSigner(t)
	ev := sg.event(t, 1, "fan out", nil, time.Now().Unix())
	r.HandleFrame(ctx, publisher, rawFrame(t, "EVENT", ev))
	requireOK(t, readFrame(t, publisher), ev.ID, true)

	frame := readFrame(t, matching)
	require.Equal(t, "EVENT", frameType(t, frame))
	require.Equal(t, "m", frameString(t, frame[1]))
	requireNoFrame(t, other)
	requireNoFrame(t, publisher)
}

func TestRelay_LateSubscriptionReplaysExactlyOnce(t *testing.T) {
	r, _ := newTestRelay(t, Config{})
	ctx := context.Background()

	publisher := r.sessions.OnConnect()
	sg := newSigner(t)
	ev := sg.event(t, 1, "history", nil, time.Now().Unix())
	r.HandleFrame(ctx, publisher, rawFrame(t, "EVENT", ev))
	requireOK(t, readFrame(t, publisher), ev.ID, true)

	late := r.sessions.OnConnect()
	r.HandleFrame(ctx, late, rawFrame(t, "REQ", "l", map[string]any{"kinds": []int{1}}))
	frame := readFrame(t, late)
	require.Equal(t, "EVENT", frameType(t, frame))
	require.Equal(t, "EOSE", frameType(t, readFrame(t, late)))
	requireNoFrame(t, late)
}

func TestRelay_ReplaceableKeepsLatest(t *testing.T) {
	r, store := newTestRelay(t, Config{})
	ctx := context.Background()
	s := r.sessions.OnConnect()
	sg := newSigner(t)
	now := time.Now().Unix()

	first := sg.event(t, 0, `{"name":"old"}`, nil, now-10)
	second := sg.event(t, 0, `{"name":"new"}`, nil, now)

	r.HandleFrame(ctx, s, rawFrame(t, "EVENT", first))
	requireOK(t, readFrame(t, s), first.ID, true)
	r.HandleFrame(ctx, s, rawFrame(t, "EVENT", second))
	requireOK(t, readFrame(t, s), second.ID, true)

	require.Len(t, store.events, 1)
	_, ok := store.events[second.ID]
	require.True(t, ok)
}

func TestRelay_ParameterizedReplaceable(t *testing.T) {
	r, store := newTestRelay(t, Config{})
	ctx := context.Background()
	s := r.sessions.OnConnect()
	sg := newSigner(t)
	now := time.Now().Unix()

	first := sg.event(t, 30001, "v1", model.Tags{{"d", "x"}}, now-10)
	second := sg.event(t, 30001, "v2", model.Tags{{"d", "x"}}, now)
	otherKey := sg.event(t, 30001, "kept", model.Tags{{"d", "y"}}, now-5)

	for _, ev := range []model.Event{first, otherKey, second} {
		r.HandleFrame(ctx, s, rawFrame(t, "EVENT", ev))
		requireOK(t, readFrame(t, s), ev.ID, true)
	}

	require.Len(t, store.events, 2)
	_, ok := store.events[second.ID]
	require.True(t, ok)
	_, ok = store.events[otherKey.ID]
	require.True(t, ok)

	// Only the later revision is queryable under its discriminator.
	r.HandleFrame(ctx, s, rawFrame(t, "REQ", "byd", map[string]any{"kinds": []int{30001}, "#d": []string{"x"}}))
	frame := readFrame(t, s)
	require.Equal(t, "EVENT", frameType(t, frame))
	var got model.Event
	require.NoError(t, json.Unmarshal(frame[2], &got))
	require.Equal(t, second.ID, got.ID)
	require.Equal(t, "EOSE", frameType(t, readFrame(t, s)))
	requireNoFrame(t, s)

	// Without a "d" tag nothing is replaced.
	noD := sg.event(t, 30001, "no d", nil, now+1)
	r.HandleFrame(ctx, s, rawFrame(t, "EVENT", noD))
	requireOK(t, readFrame(t, s), noD.ID, true)
	require.Len(t, store.events, 3)
}

func TestRelay_DeletionIsOwnerScoped(t *testing.T) {
	r, store := newTestRelay(t, Config{})
	ctx := context.Background()
	s := r.sessions.OnConnect()
	author := newSigner(t)
	intruder := newSigner(t)
	now := time.Now().Unix()

	ev := author.event(t, 1, "target", nil, now)
	r.HandleFrame(ctx, s, rawFrame(t, "EVENT", ev))
	requireOK(t, readFrame(t, s), ev.ID, true)

	// Someone else's deletion is a silent no-op on the target.
	attack := intruder.event(t, 5, "", model.Tags{{"e", ev.ID}}, now)
	r.HandleFrame(ctx, s, rawFrame(t, "EVENT", attack))
	require.Equal(t, "deleted 0 events", requireOK(t, readFrame(t, s), attack.ID, true))
	require.Len(t, store.events, 1)

	// The author's deletion removes it; the deletion itself is not stored.
	del := author.event(t, 5, "", model.Tags{{"e", ev.ID}, {"e", "unknown"}}, now)
	r.HandleFrame(ctx, s, rawFrame(t, "EVENT", del))
	require.Equal(t, "deleted 1 events", requireOK(t, readFrame(t, s), del.ID, true))
	require.Empty(t, store.events)
}

func TestRelay_ExpiredEventRejected(t *testing.T) {
	r, store := newTestRelay(t, Config{})
	ctx := context.Background()
	s := r.sessions.OnConnect()
	sg := newSigner(t)
	now := time.Now().Unix()

	ev := sg.event(t, 1, "gone", model.Tags{{"expiration", fmt.Sprint(now - 60)}}, now-120)
	r.HandleFrame(ctx, s, rawFrame(t, "EVENT", ev))
	msg := requireOK(t, readFrame(t, s), ev.ID, false)
	require.True(t, strings.HasPrefix(msg, "expired:"))
	require.Empty(t, store.events)
}

func TestRelay_ValidationFailureReportsReason(t *testing.T) {
	r, store := newTestRelay(t, Config{})
	ctx := context.Background()
	s := r.sessions.OnConnect()
	sg := newSigner(t)

	ev := sg.event(t, 1, "x", nil, time.Now().Unix())
	ev.Content = "tampered"
	r.HandleFrame(ctx, s, rawFrame(t, "EVENT", ev))
	msg := requireOK(t, readFrame(t, s), ev.ID, false)
	require.True(t, strings.HasPrefix(msg, "invalid:"))
	require.Empty(t, store.events)
}

func TestRelay_StorageFailureStaysOnConnection(t *testing.T) {
	r, store := newTestRelay(t, Config{})
	ctx := context.Background()
	s := r.sessions.OnConnect()
	store.saveErr = errors.New("disk on fire")

	sg := newSigner(t)
	ev := sg.event(t, 1, "x", nil, time.Now().Unix())
	r.HandleFrame(ctx, s, rawFrame(t, "EVENT", ev))
	msg := requireOK(t, readFrame(t, s), ev.ID, false)
	require.True(t, strings.HasPrefix(msg, "error:"))

	// The connection keeps working.
	store.saveErr = nil
	r.HandleFrame(ctx, s, rawFrame(t, "EVENT", ev))
	requireOK(t, readFrame(t, s), ev.ID, true)
}

func TestRelay_MalformedAndUnknownFrames(t *testing.T) {
	r, _ := newTestRelay(t, Config{})
	ctx := context.Background()
	s := r.sessions.OnConnect()

	r.HandleFrame(ctx, s, []byte("not json"))
	frame := readFrame(t, s)
	require.Equal(t, "NOTICE", frameType(t, frame))

	r.HandleFrame(ctx, s, []byte(`{"object":"not a frame"}`))
	require.Equal(t, "NOTICE", frameType(t, readFrame(t, s)))

	r.HandleFrame(ctx, s, rawFrame(t, "PUBLISH", "x"))
	frame = readFrame(t, s)
	require.Equal(t, "NOTICE", frameType(t, frame))
	require.Contains(t, frameString(t, frame[1]), "unknown message type")
}

func TestRelay_SubscriptionLimits(t *testing.T) {
	r, _ := newTestRelay(t, Config{MaxSubscriptions: 1})
	ctx := context.Background()
	s := r.sessions.OnConnect()

	r.HandleFrame(ctx, s, rawFrame(t, "REQ", "a", map[string]any{}))
	require.Equal(t, "EOSE", frameType(t, readFrame(t, s)))

	r.HandleFrame(ctx, s, rawFrame(t, "REQ", "b", map[string]any{}))
	frame := readFrame(t, s)
	require.Equal(t, "NOTICE", frameType(t, frame))
	require.Contains(t, frameString(t, frame[1]), "too many subscriptions")

	r.HandleFrame(ctx, s, rawFrame(t, "REQ", strings.Repeat("x", 65), map[string]any{}))
	frame = readFrame(t, s)
	require.Equal(t, "NOTICE", frameType(t, frame))
	require.Contains(t, frameString(t, frame[1]), "subscription id too long")
}

func TestRelay_RateLimit(t *testing.T) {
	r, _ := newTestRelay(t, Config{RateLimitPerMinute: 2})
	ctx := context.Background()
	s := r.sessions.OnConnect()

	r.HandleFrame(ctx, s, rawFrame(t, "CLOSE", "a"))
	r.HandleFrame(ctx, s, rawFrame(t, "CLOSE", "b"))
	requireNoFrame(t, s)

	r.HandleFrame(ctx, s, rawFrame(t, "CLOSE", "c"))
	frame := readFrame(t, s)
	require.Equal(t, "NOTICE", frameType(t, frame))
	require.Contains(t, frameString(t, frame[1]), "rate limit")
}

func TestRelay_Count(t *testing.T) {
	r, _ := newTestRelay(t, Config{})
	ctx := context.Background()
	s := r.sessions.OnConnect()
	sg := newSigner(t)
	now := time.Now().Unix()

	for i := 0; i < 3; i++ {
		kind := 1
		if i == 2 {
			kind = 7
		}
		ev := sg.event(t, kind, fmt.Sprintf("n%d", i), nil, now-int64(i))
		r.HandleFrame(ctx, s, rawFrame(t, "EVENT", ev))
		requireOK(t, readFrame(t, s), ev.ID, true)
	}

	r.HandleFrame(ctx, s, rawFrame(t, "COUNT", "c", map[string]any{"kinds": []int{1}}))
	frame := readFrame(t, s)
	require.Equal(t, "COUNT", frameType(t, frame))
	require.Equal(t, "c", frameString(t, frame[1]))
	var payload struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(frame[2], &payload))
	require.Equal(t, 2, payload.Count)
}

func TestRelay_ReplayHonorsFilterLimit(t *testing.T) {
	r, _ := newTestRelay(t, Config{})
	ctx := context.Background()
	s := r.sessions.OnConnect()
	sg := newSigner(t)
	now := time.Now().Unix()

	var newest model.Event
	for i := 0; i < 5; i++ {
		ev := sg.event(t, 1, fmt.Sprintf("n%d", i), nil, now-int64(10-i))
		r.HandleFrame(ctx, s, rawFrame(t, "EVENT", ev))
		requireOK(t, readFrame(t, s), ev.ID, true)
		newest = ev
	}

	r.HandleFrame(ctx, s, rawFrame(t, "REQ", "lim", map[string]any{"kinds": []int{1}, "limit": 2}))
	first := readFrame(t, s)
	require.Equal(t, "EVENT", frameType(t, first))
	var got model.Event
	require.NoError(t, json.Unmarshal(first[2], &got))
	require.Equal(t, newest.ID, got.ID)
	require.Equal(t, "EVENT", frameType(t, readFrame(t, s)))
	require.Equal(t, "EOSE", frameType(t, readFrame(t, s)))
	requireNoFrame(t, s)
}

func TestRelay_OwnerOnlyMode(t *testing.T) {
	owner := newSigner(t)
	r, _ := newTestRelay(t, Config{OwnerPubkey: owner.pubkey})
	ctx := context.Background()
	s := r.sessions.OnConnect()

	ev := owner.event(t, 1, "mine", nil, time.Now().Unix())
	r.HandleFrame(ctx, s, rawFrame(t, "EVENT", ev))
	requireOK(t, readFrame(t, s), ev.ID, true)

	stranger := newSigner(t)
	evil := stranger.event(t, 1, "spam", nil, time.Now().Unix())
	r.HandleFrame(ctx, s, rawFrame(t, "EVENT", evil))
	msg := requireOK(t, readFrame(t, s), evil.ID, false)
	require.True(t, strings.HasPrefix(msg, "restricted:"))
}

func TestRelay_Auth(t *testing.T) {
	r, _ := newTestRelay(t, Config{URL: "wss://hub.example.com"})
	ctx := context.Background()
	s := r.sessions.OnConnect()
	sg := newSigner(t)

	r.SendAuthChallenge(s)
	frame := readFrame(t, s)
	require.Equal(t, "AUTH", frameType(t, frame))
	challenge := frameString(t, frame[1])
	require.NotEmpty(t, challenge)

	// Wrong challenge value is rejected without a state change.
	bad := sg.event(t, 22242, "", model.Tags{
		{"relay", "wss://hub.example.com"},
		{"challenge", "guessed"},
	}, time.Now().Unix())
	r.HandleFrame(ctx, s, rawFrame(t, "AUTH", bad))
	requireOK(t, readFrame(t, s), bad.ID, false)
	authed, _ := s.Authenticated()
	require.False(t, authed)

	// A challenge issued to another session must not authenticate this one.
	other := r.sessions.OnConnect()
	otherChallenge := r.sessions.IssueChallenge(other)
	stolen := sg.event(t, 22242, "", model.Tags{
		{"relay", "wss://hub.example.com"},
		{"challenge", otherChallenge},
	}, time.Now().Unix())
	r.HandleFrame(ctx, s, rawFrame(t, "AUTH", stolen))
	requireOK(t, readFrame(t, s), stolen.ID, false)

	// The session's own challenge authenticates it.
	good := sg.event(t, 22242, "", model.Tags{
		{"relay", "wss://hub.example.com"},
		{"challenge", challenge},
	}, time.Now().Unix())
	r.HandleFrame(ctx, s, rawFrame(t, "AUTH", good))
	requireOK(t, readFrame(t, s), good.ID, true)
	authed, pubkey := s.Authenticated()
	require.True(t, authed)
	require.Equal(t, sg.pubkey, pubkey)
}

func TestRelay_AuthRequiredGatesPublishAndSubscribe(t *testing.T) {
	r, store := newTestRelay(t, Config{AuthRequired: true, URL: "wss://hub.example.com"})
	ctx := context.Background()
	s := r.sessions.OnConnect()
	sg := newSigner(t)

	ev := sg.event(t, 1, "x", nil, time.Now().Unix())
	r.HandleFrame(ctx, s, rawFrame(t, "EVENT", ev))
	msg := requireOK(t, readFrame(t, s), ev.ID, false)
	require.True(t, strings.HasPrefix(msg, "auth-required:"))
	require.Equal(t, "AUTH", frameType(t, readFrame(t, s)))
	require.Empty(t, store.events)

	r.HandleFrame(ctx, s, rawFrame(t, "REQ", "sub", map[string]any{}))
	frame := readFrame(t, s)
	require.Equal(t, "NOTICE", frameType(t, frame))
	require.Contains(t, frameString(t, frame[1]), "auth-required")
	require.Equal(t, "AUTH", frameType(t, readFrame(t, s)))

	// Authenticate, then both operations work.
	challenge := s.Challenge()
	auth := sg.event(t, 22242, "", model.Tags{
		{"relay", "wss://hub.example.com"},
		{"challenge", challenge},
	}, time.Now().Unix())
	r.HandleFrame(ctx, s, rawFrame(t, "AUTH", auth))
	requireOK(t, readFrame(t, s), auth.ID, true)

	r.HandleFrame(ctx, s, rawFrame(t, "EVENT", ev))
	requireOK(t, readFrame(t, s), ev.ID, true)
	r.HandleFrame(ctx, s, rawFrame(t, "REQ", "sub", map[string]any{"kinds": []int{1}}))
	require.Equal(t, "EVENT", frameType(t, readFrame(t, s)))
	require.Equal(t, "EOSE", frameType(t, readFrame(t, s)))
}
