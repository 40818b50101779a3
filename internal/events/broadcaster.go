// Package events streams per-cycle variable changes to Server-Sent Events
// subscribers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/crewbridge/internal/sink"
)

const (
	clientBuffer     = 16
	DefaultKeepalive = 15 * time.Second
)

// Broadcaster diffs consecutive snapshots and pushes the changes to every
// connected subscriber.
type Broadcaster struct {
	broadcasterID string
	keepalive     time.Duration
	logger        *zap.Logger
	done          chan struct{}
	stopOnce      sync.Once

	mu       sync.RWMutex
	sequence uint64
	latest   *sink.Snapshot
	clients  map[*sseClient]bool
}

// sseClient represents a connected SSE subscriber.
type sseClient struct {
	filter map[string]bool
	dataCh chan []byte
	doneCh chan struct{}
}

func (c *sseClient) watches(name string) bool {
	return c.filter == nil || c.filter[name]
}

// NewBroadcaster creates a broadcaster identified by id in every event.
func NewBroadcaster(id string, keepalive time.Duration, logger *zap.Logger) *Broadcaster {
	if keepalive <= 0 {
		keepalive = DefaultKeepalive
	}
	return &Broadcaster{
		broadcasterID: id,
		keepalive:     keepalive,
		logger:        logger,
		done:          make(chan struct{}),
		clients:       make(map[*sseClient]bool),
	}
}

// Run sends keepalive comments until ctx is done so idle proxies keep the
// streams open. Open streams end when Run returns.
func (b *Broadcaster) Run(ctx context.Context) {
	defer b.stopOnce.Do(func() { close(b.done) })

	b.logger.Info("event broadcaster starting",
		zap.String("broadcaster_id", b.broadcasterID),
		zap.Duration("keepalive", b.keepalive),
	)

	ticker := time.NewTicker(b.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("event broadcaster stopping")
			return
		case <-ticker.C:
			b.sendAll(func(*sseClient) []byte { return []byte(": keepalive\n\n") })
		}
	}
}

// PublishSnapshot records snap as the latest cycle and sends each
// subscriber the changes it watches.
func (b *Broadcaster) PublishSnapshot(snap *sink.Snapshot) {
	if snap == nil || snap.Cancelled {
		return
	}

	b.mu.Lock()
	prev := b.latest
	b.latest = snap
	b.sequence++
	seq := b.sequence
	b.mu.Unlock()

	changes := Diff(prev, snap)
	if len(changes) == 0 {
		return
	}

	b.sendAll(func(c *sseClient) []byte {
		watched := changes
		if c.filter != nil {
			watched = make([]Change, 0, len(changes))
			for _, ch := range changes {
				if c.watches(ch.Name) {
					watched = append(watched, ch)
				}
			}
		}
		if len(watched) == 0 {
			return nil
		}
		event, err := formatEvent("batch", seq, &ChangeBatch{
			BroadcasterID: b.broadcasterID,
			SnapshotID:    snap.ID,
			Timestamp:     snap.Timestamp.UnixMilli(),
			Sequence:      seq,
			Changes:       watched,
		})
		if err != nil {
			b.logger.Debug("failed to encode batch", zap.Error(err))
			return nil
		}
		return event
	})
}

// Diff returns the variables of next whose value differs from prev, sorted
// by name. Every variable is new when prev is nil.
func Diff(prev, next *sink.Snapshot) []Change {
	var changes []Change
	for name, v := range next.Values {
		if prev == nil {
			changes = append(changes, Change{Name: name, Value: v, New: true})
			continue
		}
		old, ok := prev.Values[name]
		if !ok {
			changes = append(changes, Change{Name: name, Value: v, New: true})
			continue
		}
		if old != v {
			changes = append(changes, Change{Name: name, Value: v, Previous: old})
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Name < changes[j].Name })
	return changes
}

// HandleSSE handles the SSE endpoint for subscribers. The optional "vars"
// query parameter is a comma separated list of names to watch.
func (b *Broadcaster) HandleSSE(w http.ResponseWriter, r *http.Request) {
	// Check if SSE is supported
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client := &sseClient{
		filter: parseFilter(r.URL.Query().Get("vars")),
		dataCh: make(chan []byte, clientBuffer),
		doneCh: make(chan struct{}),
	}

	// Register before building the initial state so no batch is missed
	initial := b.addClient(client)
	defer b.removeClient(client)

	b.logger.Info("event client connected",
		zap.String("remote_addr", r.RemoteAddr),
		zap.Int("watching", len(client.filter)),
	)

	event, err := formatEvent("snapshot", initial.Sequence, initial)
	if err != nil {
		b.logger.Error("failed to encode initial state", zap.Error(err))
		return
	}
	if _, err := w.Write(event); err != nil {
		return
	}
	flusher.Flush()

	// Stream events
	for {
		select {
		case <-r.Context().Done():
			b.logger.Info("event client disconnected", zap.String("remote_addr", r.RemoteAddr))
			return
		case <-client.doneCh:
			return
		case <-b.done:
			return
		case data := <-client.dataCh:
			if _, err := w.Write(data); err != nil {
				b.logger.Debug("failed to write to client", zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

// ClientCount returns the number of connected subscribers.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *Broadcaster) addClient(client *sseClient) *InitialState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[client] = true

	st := &InitialState{
		BroadcasterID: b.broadcasterID,
		Timestamp:     time.Now().UnixMilli(),
		Sequence:      b.sequence,
		Values:        make(map[string]float64),
	}
	if b.latest != nil {
		st.SnapshotID = b.latest.ID
		st.Timestamp = b.latest.Timestamp.UnixMilli()
		for name, v := range b.latest.Values {
			if client.watches(name) {
				st.Values[name] = v
			}
		}
	}
	return st
}

func (b *Broadcaster) removeClient(client *sseClient) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.clients, client)
	close(client.doneCh)
}

func (b *Broadcaster) sendAll(build func(*sseClient) []byte) {
	b.mu.RLock()
	clients := make([]*sseClient, 0, len(b.clients))
	for client := range b.clients {
		clients = append(clients, client)
	}
	b.mu.RUnlock()

	for _, client := range clients {
		data := build(client)
		if data == nil {
			continue
		}
		select {
		case client.dataCh <- data:
		default:
			// Channel full, client is slow
			b.logger.Debug("client channel full, dropping event")
		}
	}
}

func formatEvent(eventType string, seq uint64, data interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("event: %s\nid: %d\ndata: %s\n\n", eventType, seq, jsonData)), nil
}

func parseFilter(raw string) map[string]bool {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	filter := make(map[string]bool)
	for _, name := range strings.Split(raw, ",") {
		if name = strings.TrimSpace(name); name != "" {
			filter[name] = true
		}
	}
	if len(filter) == 0 {
		return nil
	}
	return filter
}
