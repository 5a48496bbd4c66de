package relay

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"sort"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nostrhome/hub/internal/limiter"
	"github.com/nostrhome/hub/internal/model"
	"github.com/nostrhome/hub/internal/nostr"
	"github.com/nostrhome/hub/internal/repository"
)

// signer wraps a keypair for producing protocol-valid events in tests.
type signer struct {
	priv   *btcec.PrivateKey
	pubkey string
}

func newSigner(t *testing.T) *signer {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return &signer{
		priv:   priv,
		pubkey: hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey())),
	}
}

func (sg *signer) event(t *testing.T, kind int, content string, tags model.Tags, createdAt int64) model.Event {
	t.Helper()
	ev := model.Event{
		PubKey:    sg.pubkey,
		CreatedAt: createdAt,
		Kind:      kind,
		Tags:      tags,
		Content:   content,
	}
	id, err := nostr.ComputeID(ev)
	require.NoError(t, err)
	ev.ID = id

	idBytes, err := hex.DecodeString(id)
	require.NoError(t, err)
	sig, err := schnorr.Sign(sg.priv, idBytes)
	require.NoError(t, err)
	ev.Sig = hex.EncodeToString(sig.Serialize())
	return ev
}

// fakeStore is an in-memory EventRepository for engine tests.
type fakeStore struct {
	events  map[string]model.Event
	saveErr error
}

var _ repository.EventRepository = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{events: make(map[string]model.Event)}
}

func (st *fakeStore) Save(_ context.Context, ev model.Event) (bool, error) {
	if st.saveErr != nil {
		return false, st.saveErr
	}
	if _, dup := st.events[ev.ID]; dup {
		return false, nil
	}
	st.events[ev.ID] = ev
	return true, nil
}

func (st *fakeStore) Query(_ context.Context, f model.Filter, limit int, now int64) ([]model.Event, error) {
	var out []model.Event
	for _, ev := range st.events {
		if nostr.IsExpired(ev, now) {
			continue
		}
		if f.Matches(ev) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (st *fakeStore) DeleteIfOwner(_ context.Context, id, pubkey string) (bool, error) {
	ev, ok := st.events[id]
	if !ok || ev.PubKey != pubkey {
		return false, nil
	}
	delete(st.events, id)
	return true, nil
}

func (st *fakeStore) DeleteReplaceable(_ context.Context, kind int, pubkey string) (int64, error) {
	var n int64
	for id, ev := range st.events {
		if ev.Kind == kind && ev.PubKey == pubkey {
			delete(st.events, id)
			n++
		}
	}
	return n, nil
}

func (st *fakeStore) DeleteParameterized(_ context.Context, kind int, pubkey, dTag string) (int64, error) {
	var n int64
	for id, ev := range st.events {
		d, ok := nostr.DTag(ev)
		if ev.Kind == kind && ev.PubKey == pubkey && ok && d == dTag {
			delete(st.events, id)
			n++
		}
	}
	return n, nil
}

func (st *fakeStore) Stats(context.Context) (model.RelayStats, error) {
	stats := model.RelayStats{EventsByKind: make(map[int]int64)}
	for _, ev := range st.events {
		stats.TotalEvents++
		stats.EventsByKind[ev.Kind]++
	}
	return stats, nil
}

// newTestRelay wires an engine with an in-memory store and generous limits.
func newTestRelay(t *testing.T, cfg Config) (*Relay, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	registry := NewRegistry(cfg.MaxSubscriptions, cfg.MaxSubIDLength)
	rate := cfg.RateLimitPerMinute
	if rate <= 0 {
		rate = 10000
	}
	sessions := NewSessionManager(registry, limiter.NewFixedWindow(time.Minute, rate), 64, zap.NewNop())
	return New(cfg, store, sessions, registry, zap.NewNop()), store
}

// readFrame pops the next queued outbound frame, failing when none is waiting.
func readFrame(t *testing.T, s *Session) []json.RawMessage {
	t.Helper()
	select {
	case data, ok := <-s.Outbound():
		require.True(t, ok, "session closed")
		var frame []json.RawMessage
		require.NoError(t, json.Unmarshal(data, &frame))
		return frame
	default:
		t.Fatal("no outbound frame queued")
		return nil
	}
}

func frameType(t *testing.T, frame []json.RawMessage) string {
	t.Helper()
	var typ string
	require.NoError(t, json.Unmarshal(frame[0], &typ))
	return typ
}

func requireNoFrame(t *testing.T, s *Session) {
	t.Helper()
	select {
	case data := <-s.Outbound():
		t.Fatalf("unexpected outbound frame: %s", data)
	default:
	}
}

func frameString(t *testing.T, raw json.RawMessage) string {
	t.Helper()
	var s string
	require.NoError(t, json.Unmarshal(raw, &s))
	return s
}

func requireOK(t *testing.T, frame []json.RawMessage, eventID string, ok bool) string {
	t.Helper()
	require.Equal(t, "OK", frameType(t, frame))
	require.Equal(t, eventID, frameString(t, frame[1]))
	var got bool
	require.NoError(t, json.Unmarshal(frame[2], &got))
	require.Equal(t, ok, got)
	return frameString(t, frame[3])
}

func rawFrame(t *testing.T, items ...any) []byte {
	t.Helper()
	data, err := json.Marshal(items)
	require.NoError(t, err)
	return data
}
