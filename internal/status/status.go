// Package status reports where the bridge machine can be reached and which
// simulator build it runs.
package status

import (
	"context"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// NoAddress is reported when no external IPv4 address is configured.
	NoAddress = "Connection error"

	// UnsupportedOS is reported as the simulator version off Windows.
	UnsupportedOS = "Unsupported OS"

	// UnknownVersion is reported when the version lookup failed.
	UnknownVersion = "Unknown"

	DefaultRefresh = 5 * time.Second
)

// Status is the periodically refreshed reachability state.
type Status struct {
	IP        string `json:"ip"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds
}

// Info is the static description of the machine plus its current address.
type Info struct {
	Hostname   string `json:"hostname"`
	LocalIP    string `json:"localip"`
	SimVersion string `json:"mfsVersion"`
}

type Monitor struct {
	refresh  time.Duration
	detect   func() string
	now      func() time.Time
	logger   *zap.Logger
	hostname string
	version  string

	mu       sync.RWMutex
	current  Status
	onUpdate func(Status)
}

type Option func(*Monitor)

func WithRefresh(d time.Duration) Option {
	return func(m *Monitor) { m.refresh = d }
}

// WithDetector replaces the interface scan.
func WithDetector(fn func() string) Option {
	return func(m *Monitor) { m.detect = fn }
}

// WithVersion overrides the registry lookup.
func WithVersion(v string) Option {
	return func(m *Monitor) { m.version = v }
}

func NewMonitor(logger *zap.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		refresh: DefaultRefresh,
		detect:  DetectLocalIP,
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.refresh <= 0 {
		m.refresh = DefaultRefresh
	}

	m.hostname, _ = os.Hostname()
	if m.version == "" {
		v, err := SimVersion()
		if err != nil {
			logger.Warn("failed to read simulator version", zap.Error(err))
		}
		m.version = v
	}
	m.update()
	return m
}

// OnUpdate registers a callback run after every refresh.
func (m *Monitor) OnUpdate(fn func(Status)) {
	m.mu.Lock()
	m.onUpdate = fn
	m.mu.Unlock()
}

// Run refreshes the address until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := m.update()
			m.logger.Debug("status refreshed", zap.String("ip", st.IP))
		}
	}
}

func (m *Monitor) update() Status {
	st := Status{IP: m.detect(), Timestamp: m.now().UnixMilli()}

	m.mu.Lock()
	m.current = st
	fn := m.onUpdate
	m.mu.Unlock()

	if fn != nil {
		fn(st)
	}
	return st
}

func (m *Monitor) Current() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

func (m *Monitor) Info() Info {
	return Info{
		Hostname:   m.hostname,
		LocalIP:    m.Current().IP,
		SimVersion: m.version,
	}
}

// DetectLocalIP returns the first IPv4 address of an up, non-loopback
// interface, or NoAddress.
func DetectLocalIP() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return NoAddress
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		if ip := firstIPv4(addrs); ip != "" {
			return ip
		}
	}
	return NoAddress
}

func firstIPv4(addrs []net.Addr) string {
	for _, addr := range addrs {
		var ip net.IP
		switch v := addr.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip4 := ip.To4(); ip4 != nil && !ip4.IsLoopback() {
			return ip4.String()
		}
	}
	return ""
}
