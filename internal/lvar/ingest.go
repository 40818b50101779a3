package lvar

import (
	"encoding/binary"
	"math"

	"go.uber.org/zap"

	"github.com/dgnsrekt/crewbridge/internal/bridge"
)

// DecodeFloat reads the first 4 bytes of raw as a little-endian float32.
func DecodeFloat(raw []byte) (float64, error) {
	if len(raw) < 4 {
		return 0, ErrShortPayload
	}
	return float64(math.Float32frombits(binary.LittleEndian.Uint32(raw))), nil
}

// EncodeFloat is the inverse of DecodeFloat.
func EncodeFloat(v float64) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(v)))
	return buf
}

// HandleData ingests one frame published by the host. It is registered as
// the transport's data handler and must never panic: a dead delivery
// goroutine would stop updates for every variable.
func (b *Broker) HandleData(id bridge.DefineID, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			b.discarded.Add(1)
			b.logger.Debug("data frame dropped", zap.Uint32("id", uint32(id)), zap.Any("panic", r))
		}
	}()

	value, err := DecodeFloat(raw)
	if err != nil {
		b.discarded.Add(1)
		b.logger.Debug("undecodable data frame", zap.Uint32("id", uint32(id)), zap.Error(err))
		return
	}

	if !b.registry.Store(VariableID(id), value) {
		// stale frame for a cleared subscription
		b.discarded.Add(1)
		return
	}
	b.ingested.Add(1)
}
