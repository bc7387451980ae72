// Package netmon tracks connectivity and backend reachability for the sync
// engine. Raw link state alone is not enough: a device can hold a Wi-Fi
// lease while the backend is unreachable, so reachability is measured with
// health probes and exposed as a derived state stream.
package netmon

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Connectivity is the raw link-layer state reported by the platform.
type Connectivity int

const (
	ConnectivityNone Connectivity = iota
	ConnectivityWifi
	ConnectivityCellular
)

// String returns a human-readable representation of the connectivity
func (c Connectivity) String() string {
	switch c {
	case ConnectivityNone:
		return "none"
	case ConnectivityWifi:
		return "wifi"
	case ConnectivityCellular:
		return "cellular"
	default:
		return fmt.Sprintf("connectivity(%d)", int(c))
	}
}

// ConnectivitySource supplies link-layer change events. Platforms inject
// their own implementation; tests script one.
type ConnectivitySource interface {
	Events() <-chan Connectivity
}

// Status is the derived reachability state.
type Status string

const (
	StatusUnknown  Status = "unknown"
	StatusOnline   Status = "online"
	StatusOffline  Status = "offline"
	StatusUnstable Status = "unstable"
)

// Quality grades the connection from measured probe latency.
type Quality string

const (
	QualityExcellent Quality = "excellent"
	QualityGood      Quality = "good"
	QualityPoor      Quality = "poor"
	QualityOffline   Quality = "offline"
)

// State is a snapshot of network condition. Ephemeral process state: it is
// never persisted and starts over as Unknown on every startup.
type State struct {
	Status          Status
	Quality         Quality
	Latency         time.Duration // zero when no probe has completed
	CanReachBackend bool
	LastChecked     time.Time
}

// Online reports whether dispatching to the backend is currently sensible.
func (s State) Online() bool {
	return s.Status == StatusOnline
}

// Config defines probe cadence and latency grading thresholds.
type Config struct {
	// Backend health endpoint probed for reachability
	HealthURL string `toml:"health_url"`

	// Periodic probe cadence while online or unstable
	ProbeInterval time.Duration `toml:"probe_interval"`

	// Upper bound on a single probe
	ProbeTimeout time.Duration `toml:"probe_timeout"`

	// Latency grading thresholds
	ExcellentLatency time.Duration `toml:"excellent_latency"`
	GoodLatency      time.Duration `toml:"good_latency"`
}

// DefaultConfig returns probe defaults matching the backend's health SLOs.
func DefaultConfig() Config {
	return Config{
		ProbeInterval:    30 * time.Second,
		ProbeTimeout:     10 * time.Second,
		ExcellentLatency: 200 * time.Millisecond,
		GoodLatency:      1 * time.Second,
	}
}

// Validate checks config invariants and returns error if invalid
func (c Config) Validate() error {
	if c.HealthURL == "" {
		return fmt.Errorf("HealthURL must be set")
	}

	if c.ProbeInterval <= 0 {
		return fmt.Errorf("ProbeInterval must be positive, got %v", c.ProbeInterval)
	}

	if c.ProbeTimeout <= 0 {
		return fmt.Errorf("ProbeTimeout must be positive, got %v", c.ProbeTimeout)
	}

	if c.ExcellentLatency <= 0 || c.GoodLatency <= c.ExcellentLatency {
		return fmt.Errorf("latency thresholds must satisfy 0 < excellent < good, got %v / %v",
			c.ExcellentLatency, c.GoodLatency)
	}

	return nil
}

// Monitor derives network state from connectivity events and health probes
// and fans the resulting stream out to subscribers.
type Monitor struct {
	config Config
	source ConnectivitySource
	client *http.Client
	logger *slog.Logger

	mu           sync.RWMutex
	state        State
	connectivity Connectivity

	subMu sync.Mutex
	subs  []chan State
}

// NewMonitor creates a monitor. State starts Unknown until the first probe
// completes.
func NewMonitor(config Config, source ConnectivitySource, logger *slog.Logger) (*Monitor, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid netmon config: %w", err)
	}

	return &Monitor{
		config: config,
		source: source,
		client: &http.Client{Timeout: config.ProbeTimeout},
		logger: logger,
		state: State{
			Status:  StatusUnknown,
			Quality: QualityOffline,
		},
		connectivity: ConnectivityWifi,
	}, nil
}

// Run consumes connectivity events and drives periodic probes until ctx is
// cancelled. An initial probe runs immediately so consumers leave Unknown
// without waiting a full probe interval.
func (m *Monitor) Run(ctx context.Context) {
	m.CheckNow(ctx)

	ticker := time.NewTicker(m.config.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case conn, ok := <-m.source.Events():
			if !ok {
				return
			}
			m.handleConnectivityChange(ctx, conn)

		case <-ticker.C:
			// Offline stays offline until a connectivity-gain event; there
			// is nothing to probe without a link.
			status := m.State().Status
			if status == StatusOnline || status == StatusUnstable || status == StatusUnknown {
				m.CheckNow(ctx)
			}
		}
	}
}

// handleConnectivityChange reacts to a raw link-layer event.
func (m *Monitor) handleConnectivityChange(ctx context.Context, conn Connectivity) {
	m.mu.Lock()
	previous := m.connectivity
	m.connectivity = conn
	m.mu.Unlock()

	m.logger.Debug("connectivity changed", "from", previous, "to", conn)

	if conn == ConnectivityNone {
		// Loss is authoritative; no probe needed
		m.setState(State{
			Status:      StatusOffline,
			Quality:     QualityOffline,
			LastChecked: time.Now(),
		})
		return
	}

	m.CheckNow(ctx)
}

// CheckNow probes the backend health endpoint and recomputes state.
func (m *Monitor) CheckNow(ctx context.Context) State {
	m.mu.RLock()
	conn := m.connectivity
	m.mu.RUnlock()

	if conn == ConnectivityNone {
		state := State{
			Status:      StatusOffline,
			Quality:     QualityOffline,
			LastChecked: time.Now(),
		}
		m.setState(state)
		return state
	}

	latency, err := m.probe(ctx)
	now := time.Now()

	if err != nil {
		m.logger.Warn("backend health probe failed", "error", err)
		// The link is up but the backend is not answering
		state := State{
			Status:      StatusUnstable,
			Quality:     QualityOffline,
			LastChecked: now,
		}
		m.setState(state)
		return state
	}

	state := State{
		Status:          StatusOnline,
		Quality:         m.gradeLatency(latency),
		Latency:         latency,
		CanReachBackend: true,
		LastChecked:     now,
	}
	m.setState(state)
	return state
}

// probe issues one bounded health request and measures round-trip time.
func (m *Monitor) probe(ctx context.Context) (time.Duration, error) {
	probeCtx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, m.config.HealthURL, nil)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	resp, err := m.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("health endpoint returned %d", resp.StatusCode)
	}

	return time.Since(start), nil
}

func (m *Monitor) gradeLatency(latency time.Duration) Quality {
	switch {
	case latency < m.config.ExcellentLatency:
		return QualityExcellent
	case latency < m.config.GoodLatency:
		return QualityGood
	default:
		return QualityPoor
	}
}

// State returns the current snapshot.
func (m *Monitor) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Subscribe returns a channel receiving every state recomputation. Sends
// never block the monitor; a subscriber that falls behind loses updates and
// should fall back to State().
func (m *Monitor) Subscribe() <-chan State {
	ch := make(chan State, 8)

	m.subMu.Lock()
	m.subs = append(m.subs, ch)
	m.subMu.Unlock()

	return ch
}

// Unsubscribe removes a channel handed out by Subscribe. Short-lived
// consumers must call it, or the subscriber list grows without bound.
func (m *Monitor) Unsubscribe(ch <-chan State) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for i, sub := range m.subs {
		if sub == ch {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			return
		}
	}
}

// setState stores the new state and publishes it to subscribers.
func (m *Monitor) setState(state State) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()

	m.subMu.Lock()
	defer m.subMu.Unlock()

	for _, ch := range m.subs {
		select {
		case ch <- state:
		default:
		}
	}
}

// WaitForNetwork blocks until the backend is reachable, the timeout expires
// or ctx is cancelled. A zero timeout waits on ctx alone.
func (m *Monitor) WaitForNetwork(ctx context.Context, timeout time.Duration) error {
	if m.State().Online() {
		return nil
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	updates := m.Subscribe()
	defer m.Unsubscribe(updates)

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("network unavailable: %w", ctx.Err())
		case state := <-updates:
			if state.Online() {
				return nil
			}
		}
	}
}
