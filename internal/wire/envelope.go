// Package wire is the msgpack framing shared by the remote bridge clients
// and the relay that serves them.
package wire

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/dgnsrekt/crewbridge/internal/bridge"
)

type Op string

const (
	OpMapName    Op = "map_name"
	OpCreateArea Op = "create_area"
	OpDefineSlot Op = "define_slot"
	OpRequest    Op = "request_delivery"
	OpCommand    Op = "write_command"
	OpAck        Op = "ack"
	OpData       Op = "data"
)

// Error codes carried in acks so clients can recover the bridge sentinels.
const (
	CodeAreaExists  = "area_exists"
	CodeSlotExists  = "slot_exists"
	CodeUnknownArea = "unknown_area"
	CodeClosed      = "closed"
	CodeBadRequest  = "bad_request"
)

var (
	ErrBadRequest = errors.New("bad request")
	ErrUnknownOp  = errors.New("unknown op")
)

// Envelope is one frame in either direction. Requests carry a Seq that the
// matching ack echoes; data frames have no Seq.
type Envelope struct {
	Op      Op     `msgpack:"op"`
	Seq     uint64 `msgpack:"seq,omitempty"`
	Area    uint32 `msgpack:"area,omitempty"`
	ID      uint32 `msgpack:"id,omitempty"`
	Offset  int    `msgpack:"offset,omitempty"`
	Width   int    `msgpack:"width,omitempty"`
	Size    int    `msgpack:"size,omitempty"`
	Name    string `msgpack:"name,omitempty"`
	Payload []byte `msgpack:"payload,omitempty"`
	Code    string `msgpack:"code,omitempty"`
	Error   string `msgpack:"error,omitempty"`
}

func Encode(env *Envelope) ([]byte, error) {
	raw, err := msgpack.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encoding %s envelope: %w", env.Op, err)
	}
	return raw, nil
}

func Decode(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := msgpack.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}
	if env.Op == "" {
		return nil, fmt.Errorf("%w: missing op", ErrBadRequest)
	}
	return &env, nil
}

// Data builds a pushed data frame.
func Data(id bridge.DefineID, raw []byte) *Envelope {
	return &Envelope{Op: OpData, ID: uint32(id), Payload: raw}
}

// Ack answers req with err's code and message.
func Ack(req *Envelope, err error) *Envelope {
	ack := &Envelope{Op: OpAck, Seq: req.Seq}
	if err != nil {
		ack.Code = codeOf(err)
		ack.Error = err.Error()
	}
	return ack
}

// Err turns an ack back into an error that matches the bridge sentinels.
func (e *Envelope) Err() error {
	if e.Code == "" && e.Error == "" {
		return nil
	}
	var sentinel error
	switch e.Code {
	case CodeAreaExists:
		sentinel = bridge.ErrAreaExists
	case CodeSlotExists:
		sentinel = bridge.ErrSlotExists
	case CodeUnknownArea:
		sentinel = bridge.ErrUnknownArea
	case CodeClosed:
		sentinel = bridge.ErrClosed
	case CodeBadRequest:
		sentinel = ErrBadRequest
	default:
		return errors.New(e.Error)
	}
	if e.Error == "" || e.Error == sentinel.Error() {
		return sentinel
	}
	return fmt.Errorf("%w: %s", sentinel, e.Error)
}

func codeOf(err error) string {
	switch {
	case errors.Is(err, bridge.ErrAreaExists):
		return CodeAreaExists
	case errors.Is(err, bridge.ErrSlotExists):
		return CodeSlotExists
	case errors.Is(err, bridge.ErrUnknownArea):
		return CodeUnknownArea
	case errors.Is(err, bridge.ErrClosed):
		return CodeClosed
	case errors.Is(err, ErrBadRequest), errors.Is(err, ErrUnknownOp):
		return CodeBadRequest
	default:
		return ""
	}
}

// Apply executes req against a local transport and returns the ack.
func Apply(t bridge.Transport, req *Envelope) *Envelope {
	var err error
	switch req.Op {
	case OpMapName:
		err = t.MapName(req.Name, bridge.AreaID(req.Area))
	case OpCreateArea:
		err = t.CreateArea(bridge.AreaID(req.Area), req.Size)
	case OpDefineSlot:
		err = t.DefineSlot(bridge.DefineID(req.ID), req.Offset, req.Width)
	case OpRequest:
		err = t.RequestDelivery(bridge.AreaID(req.Area), bridge.DefineID(req.ID))
	case OpCommand:
		err = t.WriteCommand(bridge.AreaID(req.Area), req.Payload)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownOp, req.Op)
	}
	return Ack(req, err)
}
