// Package relay exposes a local bridge.Transport to remote crewbridge
// clients over WebSocket.
package relay

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dgnsrekt/crewbridge/internal/bridge"
	"github.com/dgnsrekt/crewbridge/internal/transport/wsbridge"
	"github.com/dgnsrekt/crewbridge/internal/wire"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	// Send buffer size per session.
	sendBufferSize = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
	Subprotocols:    []string{wsbridge.Subprotocol},
}

// Server drives one local transport on behalf of connected sessions. Data
// from the transport is pushed to every session.
type Server struct {
	transport bridge.Transport
	logger    *zap.Logger

	mu       sync.RWMutex
	sessions map[*session]bool
}

type session struct {
	server *Server
	conn   *websocket.Conn
	send   chan []byte
	id     string
	once   sync.Once
}

func New(t bridge.Transport, logger *zap.Logger) *Server {
	s := &Server{
		transport: t,
		logger:    logger,
		sessions:  make(map[*session]bool),
	}
	t.SetDataHandler(s.forward)
	return s
}

// ServeHTTP upgrades the request and serves the session until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	if conn.Subprotocol() != wsbridge.Subprotocol {
		s.logger.Debug("client did not negotiate relay subprotocol", zap.String("remote", r.RemoteAddr))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseProtocolError, "unsupported subprotocol"))
		_ = conn.Close()
		return
	}

	sess := &session{
		server: s,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		id:     uuid.New().String(),
	}

	s.mu.Lock()
	s.sessions[sess] = true
	n := len(s.sessions)
	s.mu.Unlock()

	if n > 1 {
		s.logger.Warn("multiple relay sessions share one host; variable ids will collide",
			zap.Int("sessions", n))
	}
	s.logger.Info("relay session opened", zap.String("session", sess.id), zap.String("remote", r.RemoteAddr))

	go sess.writePump()
	sess.readPump()
}

// Sessions returns the number of connected sessions.
func (s *Server) Sessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Close disconnects every session. The transport is left open.
func (s *Server) Close() {
	s.mu.RLock()
	list := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		list = append(list, sess)
	}
	s.mu.RUnlock()

	for _, sess := range list {
		_ = sess.conn.Close()
	}
}

// forward is the transport's data handler.
func (s *Server) forward(id bridge.DefineID, raw []byte) {
	msg, err := wire.Encode(wire.Data(id, raw))
	if err != nil {
		s.logger.Debug("encoding data frame", zap.Error(err))
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for sess := range s.sessions {
		sess.enqueue(msg)
	}
}

// enqueue never blocks. Callers hold the server lock or run on the
// session's read goroutine, so send is never closed underneath them.
func (s *session) enqueue(msg []byte) {
	select {
	case s.send <- msg:
	default:
		s.server.logger.Debug("session send buffer full, dropping frame", zap.String("session", s.id))
	}
}

func (s *session) unregister() {
	s.once.Do(func() {
		s.server.mu.Lock()
		delete(s.server.sessions, s)
		close(s.send)
		s.server.mu.Unlock()
		s.server.logger.Info("relay session closed", zap.String("session", s.id))
	})
}

// readPump applies requests in order. Requests without a sequence number
// are not acknowledged.
func (s *session) readPump() {
	defer func() {
		s.unregister()
		_ = s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.server.logger.Debug("relay read error", zap.String("session", s.id), zap.Error(err))
			}
			return
		}

		req, err := wire.Decode(message)
		if err != nil {
			s.server.logger.Debug("dropping client frame", zap.String("session", s.id), zap.Error(err))
			continue
		}

		ack := wire.Apply(s.server.transport, req)
		if req.Seq == 0 {
			if err := ack.Err(); err != nil {
				s.server.logger.Debug("unacknowledged request failed",
					zap.String("op", string(req.Op)), zap.Error(err))
			}
			continue
		}

		raw, err := wire.Encode(ack)
		if err != nil {
			continue
		}
		s.enqueue(raw)
	}
}

func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.BinaryMessage, message); err != nil {
				s.server.logger.Debug("relay write error", zap.String("session", s.id), zap.Error(err))
				return
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
