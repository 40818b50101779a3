//go:build zmq

// Package zmqbridge carries the relay protocol over ZeroMQ: a DEALER/ROUTER
// pair for acknowledged requests and PUB/SUB for data frames. It needs cgo
// and libzmq, so it is only built with the zmq tag.
package zmqbridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	zmq "github.com/pebbe/zmq4"
	"go.uber.org/zap"

	"github.com/dgnsrekt/crewbridge/internal/bridge"
	"github.com/dgnsrekt/crewbridge/internal/wire"
)

// DataTopic prefixes every data frame on the PUB socket.
const DataTopic = "data"

const (
	pollTimeout        = 20 * time.Millisecond
	outboundBuffer     = 1024
	defaultCallTimeout = 5 * time.Second
)

var _ bridge.Transport = (*Client)(nil)

// Client implements bridge.Transport. One goroutine owns both sockets since
// zmq sockets are not safe for concurrent use.
type Client struct {
	zctx    *zmq.Context
	dealer  *zmq.Socket
	sub     *zmq.Socket
	pending *wire.Pending
	logger  *zap.Logger
	timeout time.Duration

	outbound chan []byte

	mu      sync.RWMutex
	handler bridge.DataHandler

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Dial connects to a relay's request and data endpoints,
// e.g. "tcp://simpc:5570" and "tcp://simpc:5571".
func Dial(reqAddr, pubAddr string, logger *zap.Logger) (*Client, error) {
	zctx, err := zmq.NewContext()
	if err != nil {
		return nil, fmt.Errorf("creating zmq context: %w", err)
	}

	dealer, err := zctx.NewSocket(zmq.DEALER)
	if err != nil {
		_ = zctx.Term()
		return nil, fmt.Errorf("creating dealer socket: %w", err)
	}
	_ = dealer.SetLinger(0)
	if err := dealer.Connect(reqAddr); err != nil {
		_ = dealer.Close()
		_ = zctx.Term()
		return nil, fmt.Errorf("connecting dealer to %s: %w", reqAddr, err)
	}

	sub, err := zctx.NewSocket(zmq.SUB)
	if err != nil {
		_ = dealer.Close()
		_ = zctx.Term()
		return nil, fmt.Errorf("creating sub socket: %w", err)
	}
	_ = sub.SetLinger(0)
	if err := sub.Connect(pubAddr); err != nil {
		_ = sub.Close()
		_ = dealer.Close()
		_ = zctx.Term()
		return nil, fmt.Errorf("connecting sub to %s: %w", pubAddr, err)
	}
	_ = sub.SetSubscribe(DataTopic)

	c := &Client{
		zctx:     zctx,
		dealer:   dealer,
		sub:      sub,
		pending:  wire.NewPending(),
		logger:   logger,
		timeout:  defaultCallTimeout,
		outbound: make(chan []byte, outboundBuffer),
		done:     make(chan struct{}),
	}

	c.wg.Add(1)
	go c.loop()

	logger.Info("connected to zmq relay", zap.String("req", reqAddr), zap.String("pub", pubAddr))
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

// WriteCommand is fire-and-forget, like the WebSocket client.
func (c *Client) WriteCommand(area bridge.AreaID, frame []byte) error {
	raw, err := wire.Encode(&wire.Envelope{Op: wire.OpCommand, Area: uint32(area), Payload: frame})
	if err != nil {
		return err
	}
	return c.enqueue(raw)
}

func (c *Client) SetDataHandler(fn bridge.DataHandler) {
	c.mu.Lock()
	c.handler = fn
	c.mu.Unlock()
}

func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.wg.Wait()
		c.pending.Close()
		_ = c.dealer.Close()
		_ = c.sub.Close()
		_ = c.zctx.Term()
	})
	return nil
}

func (c *Client) call(req *wire.Envelope) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	ack, err := c.pending.Call(ctx, req, c.enqueue)
	if err != nil {
		return fmt.Errorf("%s: %w", req.Op, err)
	}
	return ack.Err()
}

func (c *Client) enqueue(raw []byte) error {
	select {
	case <-c.done:
		return bridge.ErrClosed
	case c.outbound <- raw:
		return nil
	}
}

func (c *Client) loop() {
	defer c.wg.Done()

	poller := zmq.NewPoller()
	poller.Add(c.dealer, zmq.POLLIN)
	poller.Add(c.sub, zmq.POLLIN)

	for {
		select {
		case <-c.done:
			return
		default:
		}

	drain:
		for {
			select {
			case raw := <-c.outbound:
				if _, err := c.dealer.SendBytes(raw, 0); err != nil {
					c.logger.Debug("dealer send failed", zap.Error(err))
				}
			default:
				break drain
			}
		}

		polled, err := poller.Poll(pollTimeout)
		if err != nil {
			c.logger.Debug("poll failed", zap.Error(err))
			continue
		}
		for _, p := range polled {
			switch p.Socket {
			case c.dealer:
				c.readAck()
			case c.sub:
				c.readData()
			}
		}
	}
}

func (c *Client) readAck() {
	raw, err := c.dealer.RecvBytes(0)
	if err != nil {
		c.logger.Debug("dealer recv failed", zap.Error(err))
		return
	}
	env, err := wire.Decode(raw)
	if err != nil {
		c.logger.Debug("dropping relay frame", zap.Error(err))
		return
	}
	if !c.pending.Resolve(env) {
		c.logger.Debug("late ack", zap.Uint64("seq", env.Seq))
	}
}

func (c *Client) readData() {
	parts, err := c.sub.RecvMessageBytes(0)
	if err != nil || len(parts) != 2 {
		c.logger.Debug("malformed data message", zap.Error(err))
		return
	}
	env, err := wire.Decode(parts[1])
	if err != nil || env.Op != wire.OpData {
		c.logger.Debug("dropping data frame", zap.Error(err))
		return
	}

	c.mu.RLock()
	fn := c.handler
	c.mu.RUnlock()
	if fn != nil {
		fn(bridge.DefineID(env.ID), env.Payload)
	}
}
