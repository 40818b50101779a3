// Package ws streams snapshots and status updates to dashboard clients.
package ws

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/dgnsrekt/crewbridge/internal/sink"
	"github.com/dgnsrekt/crewbridge/internal/status"
)

// Hub manages WebSocket connections and group subscriptions.
type Hub struct {
	name       string
	clients    map[*Client]bool
	groups     map[string]map[*Client]bool // group -> clients
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	logger     *zap.Logger

	codecs   map[string]Codec
	protobuf *protobufCodec
	validate func(group string) bool
}

// NewHub creates a new Hub serving the given groups.
func NewHub(name string, logger *zap.Logger, validate func(group string) bool) (*Hub, error) {
	pb, err := newProtobufCodec()
	if err != nil {
		return nil, err
	}
	if validate == nil {
		validate = IsValidGroup
	}
	return &Hub{
		name:       name,
		clients:    make(map[*Client]bool),
		groups:     make(map[string]map[*Client]bool),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
		codecs: map[string]Codec{
			ProtocolJSON:     jsonCodec{},
			ProtocolProtobuf: pb,
		},
		protobuf: pb,
		validate: validate,
	}, nil
}

// Run processes hub events. Call this in a goroutine.
// Returns when context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("hub shutting down", zap.String("hub", h.name))
			h.shutdown()
			return

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				// Remove from all groups
				for group := range client.groups {
					if clients, ok := h.groups[group]; ok {
						delete(clients, client)
						if len(clients) == 0 {
							delete(h.groups, group)
						}
					}
				}
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered",
				zap.String("hub", h.name),
				zap.String("connID", client.connID),
			)
		}
	}
}

// shutdown gracefully closes all client connections.
func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	close(h.done)
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.groups = make(map[string]map[*Client]bool)
	h.protobuf.Close()
}

// registerClient adds c synchronously so replies sent right after the
// upgrade are not dropped.
func (h *Hub) registerClient(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	select {
	case <-h.done:
		return false
	default:
	}
	h.clients[c] = true
	h.logger.Debug("client registered",
		zap.String("hub", h.name),
		zap.String("connID", c.connID),
	)
	return true
}

// scheduleUnregister never blocks the caller.
func (h *Hub) scheduleUnregister(c *Client) {
	go func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
	}()
}

// JoinGroup adds a client to a group.
func (h *Hub) JoinGroup(client *Client, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.groups[group] == nil {
		h.groups[group] = make(map[*Client]bool)
	}
	h.groups[group][client] = true
	client.groups[group] = true

	h.logger.Debug("client joined group",
		zap.String("hub", h.name),
		zap.String("connID", client.connID),
		zap.String("group", group),
	)
}

// LeaveGroup removes a client from a group.
func (h *Hub) LeaveGroup(client *Client, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.groups[group]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.groups, group)
		}
	}
	delete(client.groups, group)

	h.logger.Debug("client left group",
		zap.String("hub", h.name),
		zap.String("connID", client.connID),
		zap.String("group", group),
	)
}

// GetActiveGroups returns all groups with at least one subscriber.
func (h *Hub) GetActiveGroups() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var groups []string
	for group, clients := range h.groups {
		if len(clients) > 0 {
			groups = append(groups, group)
		}
	}
	return groups
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish sends v to every client in group. Each frame is encoded once per
// protocol.
func (h *Hub) Publish(group string, v any) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients, ok := h.groups[group]
	if !ok {
		return
	}

	data, err := toMap(v)
	if err != nil {
		h.logger.Error("failed to encode payload", zap.String("group", group), zap.Error(err))
		return
	}
	msg := dataMessage(group, data)

	frames := make(map[string][]byte, len(h.codecs))
	for client := range clients {
		frame, ok := frames[client.protocol]
		if !ok {
			frame, err = client.codec.Encode(msg)
			if err != nil {
				h.logger.Error("failed to encode frame",
					zap.String("protocol", client.protocol),
					zap.Error(err),
				)
				continue
			}
			frames[client.protocol] = frame
		}
		h.deliverLocked(client, frame)
	}
}

// PublishSnapshot implements poll.Publisher.
func (h *Hub) PublishSnapshot(snap *sink.Snapshot) {
	h.Publish(GroupSnapshot, snap)
}

// PublishStatus forwards status monitor refreshes.
func (h *Hub) PublishStatus(st status.Status) {
	h.Publish(GroupStatus, st)
}

// sendTo encodes msg for one client.
func (h *Hub) sendTo(client *Client, msg map[string]any) {
	frame, err := client.codec.Encode(msg)
	if err != nil {
		h.logger.Debug("failed to encode reply", zap.String("connID", client.connID), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.clients[client] {
		h.deliverLocked(client, frame)
	}
}

// deliverLocked requires h.mu. A full buffer disconnects the client.
func (h *Hub) deliverLocked(client *Client, frame []byte) {
	select {
	case client.send <- frame:
	default:
		h.scheduleUnregister(client)
	}
}
