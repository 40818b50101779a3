// Package simhost is an in-process stand-in for the simulator and its bridge
// module. It honours the same client data area contract as the real host:
// the k-th variable added with a subscribe command is published into data
// area offset k*4, and every requested definition bound to that offset
// receives the value.
package simhost

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/crewbridge/internal/bridge"
)

const (
	addPrefix    = "MF.SimVars.Add."
	setPrefix    = "MF.SimVars.Set."
	clearCommand = "MF.SimVars.Clear"

	deliveryBuffer = 1024
)

type delivery struct {
	id  bridge.DefineID
	raw []byte
	at  time.Time
}

// Host simulates the host side of the bridge.
type Host struct {
	mu        sync.Mutex
	mapped    map[string]bridge.AreaID
	created   map[bridge.AreaID]int
	defs      map[bridge.DefineID]int
	requested map[bridge.DefineID]bool
	values    map[string]float64
	published []string
	index     map[string]int
	events    []string
	commands  []string
	handler   bridge.DataHandler
	closed    bool

	latency  time.Duration
	dropRate float64
	rng      *rand.Rand
	logger   *zap.Logger

	deliveries chan delivery
	done       chan struct{}
	wg         sync.WaitGroup
}

// Option configures a Host.
type Option func(*Host)

// WithLatency delays every published frame by d.
func WithLatency(d time.Duration) Option {
	return func(h *Host) { h.latency = d }
}

// WithDropRate silently discards the given fraction of commands.
func WithDropRate(p float64, seed int64) Option {
	return func(h *Host) {
		h.dropRate = p
		h.rng = rand.New(rand.NewSource(seed))
	}
}

// WithValues seeds host variables.
func WithValues(values map[string]float64) Option {
	return func(h *Host) {
		for k, v := range values {
			h.values[k] = v
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(h *Host) { h.logger = logger }
}

// New starts a host with its delivery goroutine.
func New(opts ...Option) *Host {
	h := &Host{
		mapped:     make(map[string]bridge.AreaID),
		created:    make(map[bridge.AreaID]int),
		defs:       make(map[bridge.DefineID]int),
		requested:  make(map[bridge.DefineID]bool),
		values:     make(map[string]float64),
		index:      make(map[string]int),
		logger:     zap.NewNop(),
		deliveries: make(chan delivery, deliveryBuffer),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.wg.Add(1)
	go h.deliver()
	return h
}

// deliver is the single goroutine that invokes the data handler.
func (h *Host) deliver() {
	defer h.wg.Done()
	for {
		select {
		case <-h.done:
			return
		case d := <-h.deliveries:
			if wait := time.Until(d.at); wait > 0 {
				select {
				case <-h.done:
					return
				case <-time.After(wait):
				}
			}
			h.mu.Lock()
			handler := h.handler
			h.mu.Unlock()
			if handler != nil {
				handler(d.id, d.raw)
			}
		}
	}
}

func (h *Host) MapName(name string, area bridge.AreaID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return bridge.ErrClosed
	}
	if _, ok := h.mapped[name]; ok {
		return fmt.Errorf("%s: %w", name, bridge.ErrAreaExists)
	}
	h.mapped[name] = area
	return nil
}

func (h *Host) CreateArea(area bridge.AreaID, size int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return bridge.ErrClosed
	}
	if !h.isMapped(area) {
		return bridge.ErrUnknownArea
	}
	if _, ok := h.created[area]; ok {
		return bridge.ErrAreaExists
	}
	h.created[area] = size
	return nil
}

func (h *Host) isMapped(area bridge.AreaID) bool {
	for _, a := range h.mapped {
		if a == area {
			return true
		}
	}
	return false
}

func (h *Host) DefineSlot(id bridge.DefineID, offset, width int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return bridge.ErrClosed
	}
	if _, ok := h.defs[id]; ok {
		return fmt.Errorf("definition %d: %w", id, bridge.ErrSlotExists)
	}
	if width != bridge.SlotWidth || offset < 0 || offset+width > bridge.LVarsAreaSize {
		return fmt.Errorf("definition %d: invalid slot %d+%d", id, offset, width)
	}
	h.defs[id] = offset
	return nil
}

func (h *Host) RequestDelivery(area bridge.AreaID, id bridge.DefineID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return bridge.ErrClosed
	}
	if area != bridge.LVarsArea {
		return bridge.ErrUnknownArea
	}
	offset, ok := h.defs[id]
	if !ok {
		return fmt.Errorf("definition %d not found", id)
	}
	h.requested[id] = true

	if slot := offset / bridge.SlotWidth; slot < len(h.published) {
		h.enqueueLocked(id, h.values[h.published[slot]])
	}
	return nil
}

func (h *Host) WriteCommand(area bridge.AreaID, frame []byte) error {
	if area != bridge.CommandArea {
		return bridge.ErrUnknownArea
	}
	if len(frame) != bridge.CommandFrameSize {
		return fmt.Errorf("command frame is %d bytes, want %d", len(frame), bridge.CommandFrameSize)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return bridge.ErrClosed
	}

	if h.rng != nil && h.rng.Float64() < h.dropRate {
		return nil
	}

	command := string(frame)
	if i := bytes.IndexByte(frame, 0); i >= 0 {
		command = string(frame[:i])
	}
	h.commands = append(h.commands, command)
	h.execLocked(command)
	return nil
}

func (h *Host) execLocked(command string) {
	switch {
	case command == clearCommand:
		h.published = nil
		h.index = make(map[string]int)

	case strings.HasPrefix(command, addPrefix):
		name := strings.TrimPrefix(command, addPrefix)
		if _, ok := h.index[name]; !ok {
			h.index[name] = len(h.published)
			h.published = append(h.published, name)
		}
		h.publishLocked(name)

	case strings.HasPrefix(command, setPrefix):
		h.evalLocked(strings.TrimPrefix(command, setPrefix))

	default:
		h.logger.Debug("unknown command", zap.String("command", command))
	}
}

// evalLocked understands the two code shapes clients send: "<value> (>NAME)"
// assigns, "(NAME)" triggers an event.
func (h *Host) evalLocked(code string) {
	code = strings.TrimSpace(code)
	if value, rest, ok := strings.Cut(code, " (>"); ok && strings.HasSuffix(rest, ")") {
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			h.logger.Debug("unparsable assignment", zap.String("code", code))
			return
		}
		h.setLocked(strings.TrimSuffix(rest, ")"), v)
		return
	}
	if strings.HasPrefix(code, "(") && strings.HasSuffix(code, ")") {
		h.events = append(h.events, strings.TrimSuffix(strings.TrimPrefix(code, "("), ")"))
	}
}

// Set changes a host variable and republishes it if subscribed. Names are
// stored as clients reference them, so "(L:X)" is the expression clients
// subscribe to while assignments target "L:X".
func (h *Host) Set(name string, v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.setLocked(name, v)
}

func (h *Host) setLocked(name string, v float64) {
	h.values[name] = v
	h.values["("+name+")"] = v
	h.publishLocked(name)
	h.publishLocked("(" + name + ")")
}

func (h *Host) publishLocked(name string) {
	slot, ok := h.index[name]
	if !ok {
		return
	}
	offset := slot * bridge.SlotWidth
	for id, off := range h.defs {
		if off == offset && h.requested[id] {
			h.enqueueLocked(id, h.values[name])
		}
	}
}

func (h *Host) enqueueLocked(id bridge.DefineID, v float64) {
	raw := make([]byte, bridge.SlotWidth)
	binary.LittleEndian.PutUint32(raw, math.Float32bits(float32(v)))
	select {
	case h.deliveries <- delivery{id: id, raw: raw, at: time.Now().Add(h.latency)}:
	default:
		h.logger.Debug("delivery queue full", zap.Uint32("id", uint32(id)))
	}
}

// Publish pushes a raw frame for id regardless of subscriptions, the way a
// misbehaving or stale host would.
func (h *Host) Publish(id bridge.DefineID, raw []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case h.deliveries <- delivery{id: id, raw: raw, at: time.Now().Add(h.latency)}:
	default:
	}
}

func (h *Host) SetDataHandler(fn bridge.DataHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = fn
}

// Value returns a host variable.
func (h *Host) Value(name string) (float64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.values[name]
	return v, ok
}

// Commands returns every command the host accepted, in order.
func (h *Host) Commands() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.commands...)
}

// Published returns the subscribed names in slot order.
func (h *Host) Published() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.published...)
}

// Events returns triggered events in order.
func (h *Host) Events() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...)
}

func (h *Host) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	close(h.done)
	h.wg.Wait()
	return nil
}

var _ bridge.Transport = (*Host)(nil)
