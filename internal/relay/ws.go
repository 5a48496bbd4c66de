package relay

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSHandler upgrades HTTP requests to websocket connections and runs one
// read loop and one write pump per connection. Every inbound frame is bound
// to the session of the connection it arrived on.
type WSHandler struct {
	relay    *Relay
	log      *zap.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler constructs the websocket transport for the relay.
func NewWSHandler(r *Relay, log *zap.Logger) *WSHandler {
	return &WSHandler{
		relay: r,
		log:   log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Relays are public endpoints; clients connect from anywhere.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP handles one relay connection for its entire lifetime.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := h.upgrader.Upgrade(w, req, nil)
	if err != nil {
		h.log.Warn("websocket upgrade", zap.Error(err))
		return
	}
	conn.SetReadLimit(int64(h.relay.cfg.MaxMessageLength))

	sessions := h.relay.Sessions()
	s := sessions.OnConnect()
	defer sessions.OnDisconnect(s.ID)

	go h.writePump(conn, s)
	h.relay.SendAuthChallenge(s)

	ctx := req.Context()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Warn("websocket read", zap.Error(err), zap.String("session", s.ID.String()))
			}
			return
		}
		h.relay.HandleFrame(ctx, s, data)
	}
}

// writePump drains the session's outbound queue onto the wire. It owns all
// writes to the connection and closes it when the session ends, which also
// unblocks the read loop.
func (h *WSHandler) writePump(conn *websocket.Conn, s *Session) {
	defer conn.Close()
	for frame := range s.Outbound() {
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			s.Close()
			return
		}
	}
}
