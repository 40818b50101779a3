package ws

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
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

	// Send buffer size per client.
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // dashboards are served from anywhere on the LAN
	Subprotocols:    []string{SubprotocolProtobuf, SubprotocolJSON},
}

// Client represents a WebSocket client connection.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	connID   string
	groups   map[string]bool
	logger   *zap.Logger
	protocol string // "protobuf" or "json"
	codec    Codec
}

// negotiate picks the first supported subprotocol the client asked for.
// Clients that ask for none get JSON.
func negotiate(r *http.Request) (protocol string, header http.Header) {
	protocol = ProtocolJSON
	for _, proto := range websocket.Subprotocols(r) {
		switch proto {
		case SubprotocolProtobuf:
			return ProtocolProtobuf, http.Header{"Sec-WebSocket-Protocol": {proto}}
		case SubprotocolJSON:
			return ProtocolJSON, http.Header{"Sec-WebSocket-Protocol": {proto}}
		}
	}
	return protocol, nil
}

// ServeHTTP handles the WebSocket upgrade for dashboard clients.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	protocol, responseHeader := negotiate(r)

	h.logger.Debug("websocket subprotocol negotiated",
		zap.String("protocol", protocol),
		zap.Strings("requested", websocket.Subprotocols(r)),
	)

	conn, err := upgrader.Upgrade(w, r, responseHeader)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		connID:   uuid.New().String(),
		groups:   make(map[string]bool),
		logger:   h.logger,
		protocol: protocol,
		codec:    h.codecs[protocol],
	}

	if !h.registerClient(client) {
		_ = conn.Close()
		return
	}
	h.sendTo(client, connectedMessage(client.connID))

	// Start read/write pumps
	go client.writePump()
	go client.readPump()
}

// readPump reads messages from the WebSocket connection.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("websocket read error",
					zap.String("connID", c.connID),
					zap.Error(err),
				)
			}
			break
		}
		c.handleMessage(message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	msgType := c.codec.MessageType()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed, send close message
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(msgType, message); err != nil {
				c.logger.Debug("websocket write error",
					zap.String("connID", c.connID),
					zap.Error(err),
				)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming upstream message.
func (c *Client) handleMessage(data []byte) {
	decoded, err := c.codec.Decode(data)
	if err == nil {
		var msg any
		msg, err = parseUpstreamMessage(decoded)
		if err == nil {
			c.dispatch(msg)
			return
		}
	}

	c.logger.Debug("failed to parse upstream message",
		zap.String("connID", c.connID),
		zap.String("protocol", c.protocol),
		zap.Error(err),
	)
}

func (c *Client) dispatch(msg any) {
	switch m := msg.(type) {
	case *joinGroupRequest:
		ok := c.hub.validate(m.group)
		if ok {
			c.hub.JoinGroup(c, m.group)
		} else {
			c.logger.Debug("invalid group name",
				zap.String("connID", c.connID),
				zap.String("group", m.group),
			)
		}
		if m.ackID != nil {
			c.hub.sendTo(c, ackMessage(*m.ackID, ok))
		}

	case *leaveGroupRequest:
		c.hub.LeaveGroup(c, m.group)
		if m.ackID != nil {
			c.hub.sendTo(c, ackMessage(*m.ackID, true))
		}

	case *pingRequest:
		c.hub.sendTo(c, pongMessage())
	}
}
