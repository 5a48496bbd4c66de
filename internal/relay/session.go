package relay

import (
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/nostrhome/hub/internal/limiter"
)

// Session is the state of one live connection. Outbound frames go through a
// bounded queue so a slow consumer never blocks event storage or other
// sessions' broadcasts.
type Session struct {
	ID          uuid.UUID
	ConnectedAt time.Time

	mu            sync.Mutex
	out           chan []byte
	closed        bool
	authenticated bool
	authPubkey    string
	challenge     string
}

// Enqueue queues a frame for delivery. It returns false when the session is
// closed or its queue is full; the caller decides whether to drop the session.
func (s *Session) Enqueue(frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.out <- frame:
		return true
	default:
		return false
	}
}

// Outbound is the frame stream drained by the connection's write pump. It is
// closed when the session closes.
func (s *Session) Outbound() <-chan []byte {
	return s.out
}

// Close marks the session closed and terminates the outbound stream.
// It is safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.out)
}

// Authenticated reports the NIP-42 state and the authenticated pubkey.
func (s *Session) Authenticated() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated, s.authPubkey
}

// Challenge returns the outstanding auth challenge, or "".
func (s *Session) Challenge() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.challenge
}

// SessionManager owns the session arena and the cleanup cascade into the
// subscription registry.
type SessionManager struct {
	mu        sync.Mutex
	sessions  map[uuid.UUID]*Session
	registry  *Registry
	limiter   limiter.Limiter
	queueSize int
	log       *zap.Logger
}

// NewSessionManager constructs a session manager bound to a registry and a
// per-session rate limiter.
func NewSessionManager(registry *Registry, lim limiter.Limiter, queueSize int, log *zap.Logger) *SessionManager {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &SessionManager{
		sessions:  make(map[uuid.UUID]*Session),
		registry:  registry,
		limiter:   lim,
		queueSize: queueSize,
		log:       log,
	}
}

// OnConnect creates and registers a session for a new connection.
func (m *SessionManager) OnConnect() *Session {
	s := &Session{
		ID:          uuid.Must(uuid.NewV4()),
		ConnectedAt: time.Now(),
		out:         make(chan []byte, m.queueSize),
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.log.Info("session connected", zap.String("session", s.ID.String()))
	return s
}

// OnDisconnect tears the session down: it is removed from the arena, all its
// subscriptions leave the registry, and its rate counters are forgotten.
func (m *SessionManager) OnDisconnect(sessionID uuid.UUID) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	if !ok {
		return
	}
	s.Close()
	m.registry.RemoveAll(sessionID)
	m.limiter.Forget(sessionID.String())
	m.log.Info("session disconnected", zap.String("session", sessionID.String()))
}

// Get returns a live session by id.
func (m *SessionManager) Get(sessionID uuid.UUID) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// CheckRateLimit consumes one frame slot for the session.
func (m *SessionManager) CheckRateLimit(sessionID uuid.UUID) bool {
	return m.limiter.Allow(sessionID.String())
}

// IssueChallenge creates a fresh one-time challenge bound to this session,
// superseding any outstanding one.
func (m *SessionManager) IssueChallenge(s *Session) string {
	challenge := uuid.Must(uuid.NewV4()).String()
	s.mu.Lock()
	s.challenge = challenge
	s.mu.Unlock()
	return challenge
}

// Authenticate marks the session authenticated as pubkey and consumes the
// outstanding challenge.
func (m *SessionManager) Authenticate(s *Session, pubkey string) {
	s.mu.Lock()
	s.authenticated = true
	s.authPubkey = pubkey
	s.challenge = ""
	s.mu.Unlock()
	m.log.Info("session authenticated",
		zap.String("session", s.ID.String()),
		zap.String("pubkey", pubkey),
	)
}
