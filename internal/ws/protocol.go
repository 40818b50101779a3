package ws

import (
	"fmt"
)

// Message types exchanged with dashboard clients.
const (
	TypeConnected = "connected"
	TypeJoin      = "join"
	TypeLeave     = "leave"
	TypePing      = "ping"
	TypePong      = "pong"
	TypeAck       = "ack"
	TypeMessage   = "message"
)

// Groups clients can join.
const (
	GroupSnapshot = "snapshot"
	GroupStatus   = "status"
)

// IsValidGroup reports whether group is served by the hub.
func IsValidGroup(group string) bool {
	return group == GroupSnapshot || group == GroupStatus
}

// Upstream message types for internal routing
type (
	joinGroupRequest struct {
		group string
		ackID *uint64
	}
	leaveGroupRequest struct {
		group string
		ackID *uint64
	}
	pingRequest struct{}
)

// parseUpstreamMessage routes a decoded client message.
func parseUpstreamMessage(msg map[string]any) (any, error) {
	typ, _ := msg["type"].(string)
	group, _ := msg["group"].(string)
	ackID := parseAckID(msg["ackId"])

	switch typ {
	case TypeJoin:
		return &joinGroupRequest{group: group, ackID: ackID}, nil
	case TypeLeave:
		return &leaveGroupRequest{group: group, ackID: ackID}, nil
	case TypePing:
		return &pingRequest{}, nil
	default:
		return nil, fmt.Errorf("unknown message type: %q", typ)
	}
}

// Both codecs decode numbers as float64.
func parseAckID(v any) *uint64 {
	f, ok := v.(float64)
	if !ok || f < 0 {
		return nil
	}
	id := uint64(f)
	return &id
}

func connectedMessage(connID string) map[string]any {
	return map[string]any{"type": TypeConnected, "connectionId": connID}
}

func ackMessage(ackID uint64, success bool) map[string]any {
	return map[string]any{"type": TypeAck, "ackId": float64(ackID), "success": success}
}

func pongMessage() map[string]any {
	return map[string]any{"type": TypePong}
}

func dataMessage(group string, data map[string]any) map[string]any {
	return map[string]any{"type": TypeMessage, "group": group, "data": data}
}
