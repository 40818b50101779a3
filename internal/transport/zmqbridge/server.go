//go:build zmq

package zmqbridge

import (
	"context"
	"fmt"

	zmq "github.com/pebbe/zmq4"
	"go.uber.org/zap"

	"github.com/dgnsrekt/crewbridge/internal/bridge"
	"github.com/dgnsrekt/crewbridge/internal/wire"
)

// Serve exposes t on a ROUTER socket bound to reqAddr and a PUB socket bound
// to pubAddr until ctx is done.
func Serve(ctx context.Context, t bridge.Transport, reqAddr, pubAddr string, logger *zap.Logger) error {
	zctx, err := zmq.NewContext()
	if err != nil {
		return fmt.Errorf("creating zmq context: %w", err)
	}
	defer func() { _ = zctx.Term() }()

	router, err := zctx.NewSocket(zmq.ROUTER)
	if err != nil {
		return fmt.Errorf("creating router socket: %w", err)
	}
	defer func() { _ = router.Close() }()
	_ = router.SetLinger(0)
	if err := router.Bind(reqAddr); err != nil {
		return fmt.Errorf("binding router on %s: %w", reqAddr, err)
	}

	pub, err := zctx.NewSocket(zmq.PUB)
	if err != nil {
		return fmt.Errorf("creating pub socket: %w", err)
	}
	defer func() { _ = pub.Close() }()
	_ = pub.SetLinger(0)
	if err := pub.Bind(pubAddr); err != nil {
		return fmt.Errorf("binding pub on %s: %w", pubAddr, err)
	}

	data := make(chan []byte, outboundBuffer)
	t.SetDataHandler(func(id bridge.DefineID, raw []byte) {
		msg, err := wire.Encode(wire.Data(id, raw))
		if err != nil {
			return
		}
		select {
		case data <- msg:
		default:
			logger.Debug("data buffer full, dropping frame", zap.Uint32("id", uint32(id)))
		}
	})
	defer t.SetDataHandler(nil)

	logger.Info("zmq relay listening", zap.String("req", reqAddr), zap.String("pub", pubAddr))

	poller := zmq.NewPoller()
	poller.Add(router, zmq.POLLIN)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

	drain:
		for {
			select {
			case msg := <-data:
				if _, err := pub.SendMessage(DataTopic, msg); err != nil {
					logger.Debug("pub send failed", zap.Error(err))
				}
			default:
				break drain
			}
		}

		polled, err := poller.Poll(pollTimeout)
		if err != nil {
			logger.Debug("poll failed", zap.Error(err))
			continue
		}
		if len(polled) == 0 {
			continue
		}

		parts, err := router.RecvMessageBytes(0)
		if err != nil || len(parts) != 2 {
			logger.Debug("malformed request", zap.Error(err))
			continue
		}
		req, err := wire.Decode(parts[1])
		if err != nil {
			logger.Debug("dropping client frame", zap.Error(err))
			continue
		}

		ack := wire.Apply(t, req)
		if req.Seq == 0 {
			continue
		}
		raw, err := wire.Encode(ack)
		if err != nil {
			continue
		}
		if _, err := router.SendMessage(parts[0], raw); err != nil {
			logger.Debug("router send failed", zap.Error(err))
		}
	}
}
