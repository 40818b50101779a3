package wire

import (
	"context"
	"sync"

	"github.com/dgnsrekt/crewbridge/internal/bridge"
)

// Pending matches acks to outstanding requests by sequence number.
type Pending struct {
	mu      sync.Mutex
	seq     uint64
	waiting map[uint64]chan *Envelope
	closed  bool
}

func NewPending() *Pending {
	return &Pending{waiting: make(map[uint64]chan *Envelope)}
}

// Call assigns req a sequence number, hands the encoded frame to send and
// waits for the ack.
func (p *Pending) Call(ctx context.Context, req *Envelope, send func([]byte) error) (*Envelope, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, bridge.ErrClosed
	}
	p.seq++
	req.Seq = p.seq
	ch := make(chan *Envelope, 1)
	p.waiting[req.Seq] = ch
	p.mu.Unlock()

	defer p.forget(req.Seq)

	raw, err := Encode(req)
	if err != nil {
		return nil, err
	}
	if err := send(raw); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case ack, ok := <-ch:
		if !ok {
			return nil, bridge.ErrClosed
		}
		return ack, nil
	}
}

// Resolve delivers an ack. It reports false for unknown or late sequence
// numbers.
func (p *Pending) Resolve(ack *Envelope) bool {
	p.mu.Lock()
	ch, ok := p.waiting[ack.Seq]
	delete(p.waiting, ack.Seq)
	p.mu.Unlock()
	if ok {
		ch <- ack
	}
	return ok
}

// Close fails every outstanding call with bridge.ErrClosed.
func (p *Pending) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for seq, ch := range p.waiting {
		close(ch)
		delete(p.waiting, seq)
	}
}

func (p *Pending) forget(seq uint64) {
	p.mu.Lock()
	delete(p.waiting, seq)
	p.mu.Unlock()
}
