package lvar

import (
	"sync"
	"sync/atomic"

	"github.com/dgnsrekt/crewbridge/internal/bridge"
)

type fakeTransport struct {
	mu        sync.Mutex
	defines   map[bridge.DefineID]int
	requests  map[bridge.DefineID]int
	sent      [][]byte
	handler   bridge.DataHandler
	writeErr  error
	block     chan struct{}
	writing   atomic.Int32
	setupErrs bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		defines:  make(map[bridge.DefineID]int),
		requests: make(map[bridge.DefineID]int),
	}
}

func (f *fakeTransport) MapName(string, bridge.AreaID) error {
	if f.setupErrs {
		return bridge.ErrAreaExists
	}
	return nil
}

func (f *fakeTransport) CreateArea(bridge.AreaID, int) error {
	if f.setupErrs {
		return bridge.ErrAreaExists
	}
	return nil
}

func (f *fakeTransport) DefineSlot(id bridge.DefineID, _, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.defines[id]++
	if f.setupErrs {
		return bridge.ErrSlotExists
	}
	return nil
}

func (f *fakeTransport) RequestDelivery(_ bridge.AreaID, id bridge.DefineID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests[id]++
	return nil
}

func (f *fakeTransport) WriteCommand(_ bridge.AreaID, frame []byte) error {
	f.writing.Add(1)
	defer f.writing.Add(-1)
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.sent = append(f.sent, frame)
	return nil
}

func (f *fakeTransport) SetDataHandler(fn bridge.DataHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = fn
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) emit(id bridge.DefineID, raw []byte) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(id, raw)
}

func (f *fakeTransport) frames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

func (f *fakeTransport) setupCount(id bridge.DefineID) (defines, requests int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.defines[id], f.requests[id]
}
