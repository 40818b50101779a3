// Package wsbridge is a bridge.Transport that reaches a remote host through
// a crewbridge relay over WebSocket.
package wsbridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dgnsrekt/crewbridge/internal/bridge"
	"github.com/dgnsrekt/crewbridge/internal/wire"
)

// Subprotocol is negotiated with the relay.
const Subprotocol = "crewbridge.msgpack.v1"

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	defaultCallTimeout = 5 * time.Second
)

var ErrHandshake = errors.New("relay handshake failed")

var _ bridge.Transport = (*Client)(nil)

// Client implements bridge.Transport. Data frames are delivered on the
// client's single read goroutine.
type Client struct {
	conn    *websocket.Conn
	pending *wire.Pending
	logger  *zap.Logger
	timeout time.Duration

	writeMu sync.Mutex

	mu      sync.RWMutex
	handler bridge.DataHandler

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type Option func(*Client)

// WithCallTimeout bounds every acknowledged request.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// Dial connects to a relay at url (ws:// or wss://).
func Dial(ctx context.Context, url string, logger *zap.Logger, opts ...Option) (*Client, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		Subprotocols:     []string{Subprotocol},
	}
	conn, resp, err := dialer.DialContext(ctx, url, http.Header{})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: %s: status %d", ErrHandshake, url, resp.StatusCode)
		}
		return nil, fmt.Errorf("dialing relay %s: %w", url, err)
	}
	if conn.Subprotocol() != Subprotocol {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: relay chose subprotocol %q", ErrHandshake, conn.Subprotocol())
	}

	c := &Client{
		conn:    conn,
		pending: wire.NewPending(),
		logger:  logger,
		timeout: defaultCallTimeout,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout <= 0 {
		c.timeout = defaultCallTimeout
	}

	c.wg.Add(2)
	go c.readPump()
	go c.pingPump()

	logger.Info("connected to relay", zap.String("url", url))
	return c, nil
}

func (c *Client) MapName(name string, area bridge.AreaID) error {
	return c.call(&wire.Envelope{Op: wire.OpMapName, Name: name, Area: uint32(area)})
}

func (c *Client) CreateArea(area bridge.AreaID, size int) error {
	return c.call(&wire.Envelope{Op: wire.OpCreateArea, Area: uint32(area), Size: size})
}

func (c *Client) DefineSlot(id bridge.DefineID, offset, width int) error {
	return c.call(&wire.Envelope{Op: wire.OpDefineSlot, ID: uint32(id), Offset: offset, Width: width})
}

func (c *Client) RequestDelivery(area bridge.AreaID, id bridge.DefineID) error {
	return c.call(&wire.Envelope{Op: wire.OpRequest, Area: uint32(area), ID: uint32(id)})
}

// WriteCommand is fire-and-forget: the frame is sent without a sequence
// number and the relay does not acknowledge it.
func (c *Client) WriteCommand(area bridge.AreaID, frame []byte) error {
	select {
	case <-c.done:
		return bridge.ErrClosed
	default:
	}
	raw, err := wire.Encode(&wire.Envelope{Op: wire.OpCommand, Area: uint32(area), Payload: frame})
	if err != nil {
		return err
	}
	return c.write(raw)
}

func (c *Client) SetDataHandler(fn bridge.DataHandler) {
	c.mu.Lock()
	c.handler = fn
	c.mu.Unlock()
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.pending.Close()

		c.writeMu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()

		err = c.conn.Close()
		c.wg.Wait()
	})
	return err
}

func (c *Client) call(req *wire.Envelope) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	ack, err := c.pending.Call(ctx, req, c.write)
	if err != nil {
		return fmt.Errorf("%s: %w", req.Op, err)
	}
	return ack.Err()
}

func (c *Client) write(raw []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, raw); err != nil {
		return fmt.Errorf("writing to relay: %w", err)
	}
	return nil
}

// readPump reads acks and data frames until the connection closes.
func (c *Client) readPump() {
	defer func() {
		c.wg.Done()
		c.pending.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Warn("relay connection lost", zap.Error(err))
			}
			return
		}

		env, err := wire.Decode(message)
		if err != nil {
			c.logger.Debug("dropping relay frame", zap.Error(err))
			continue
		}

		switch env.Op {
		case wire.OpAck:
			if !c.pending.Resolve(env) {
				c.logger.Debug("late ack", zap.Uint64("seq", env.Seq))
			}
		case wire.OpData:
			c.mu.RLock()
			fn := c.handler
			c.mu.RUnlock()
			if fn != nil {
				fn(bridge.DefineID(env.ID), env.Payload)
			}
		default:
			c.logger.Debug("unexpected relay op", zap.String("op", string(env.Op)))
		}
	}
}

func (c *Client) pingPump() {
	defer c.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
