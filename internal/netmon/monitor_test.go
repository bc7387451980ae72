package netmon

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"
)

// fakeSource scripts connectivity events for tests.
type fakeSource struct {
	ch chan Connectivity
}

func newFakeSource() *fakeSource {
	return &fakeSource{ch: make(chan Connectivity, 8)}
}

func (f *fakeSource) Events() <-chan Connectivity {
	return f.ch
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func testConfig(healthURL string) Config {
	config := DefaultConfig()
	config.HealthURL = healthURL
	config.ProbeInterval = 20 * time.Millisecond
	config.ProbeTimeout = time.Second
	return config
}

func newTestMonitor(t *testing.T, healthURL string, source ConnectivitySource) *Monitor {
	t.Helper()

	m, err := NewMonitor(testConfig(healthURL), source, testLogger())
	if err != nil {
		t.Fatalf("failed to create monitor: %v", err)
	}
	return m
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing health url", func(c *Config) { c.HealthURL = "" }, true},
		{"zero probe interval", func(c *Config) { c.ProbeInterval = 0 }, true},
		{"zero probe timeout", func(c *Config) { c.ProbeTimeout = 0 }, true},
		{"inverted thresholds", func(c *Config) { c.GoodLatency = c.ExcellentLatency / 2 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := testConfig("http://localhost/health")
			tt.mutate(&config)

			err := config.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestMonitor_StartsUnknown(t *testing.T) {
	m := newTestMonitor(t, "http://localhost/health", newFakeSource())

	state := m.State()
	if state.Status != StatusUnknown {
		t.Errorf("initial status = %s, want unknown", state.Status)
	}
	if state.CanReachBackend {
		t.Error("fresh monitor must not claim backend reachability")
	}
}

func TestCheckNow_ProbeSucceeds(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	m := newTestMonitor(t, server.URL, newFakeSource())

	state := m.CheckNow(context.Background())
	if state.Status != StatusOnline {
		t.Errorf("status = %s, want online", state.Status)
	}
	if !state.CanReachBackend {
		t.Error("expected backend reachable")
	}
	if state.Quality == QualityOffline {
		t.Errorf("quality = %s, want a graded quality", state.Quality)
	}
	if state.Latency <= 0 {
		t.Error("expected a measured latency")
	}
	if state.LastChecked.IsZero() {
		t.Error("expected lastChecked to be set")
	}
}

func TestCheckNow_ProbeFails_Unstable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	m := newTestMonitor(t, server.URL, newFakeSource())

	// Raw connectivity exists but the backend is failing
	state := m.CheckNow(context.Background())
	if state.Status != StatusUnstable {
		t.Errorf("status = %s, want unstable", state.Status)
	}
	if state.Quality != QualityOffline {
		t.Errorf("quality = %s, want offline", state.Quality)
	}
	if state.CanReachBackend {
		t.Error("backend must not be marked reachable")
	}
}

func TestCheckNow_NoConnectivity_SkipsProbe(t *testing.T) {
	probed := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		probed = true
	}))
	defer server.Close()

	m := newTestMonitor(t, server.URL, newFakeSource())
	m.connectivity = ConnectivityNone

	state := m.CheckNow(context.Background())
	if state.Status != StatusOffline {
		t.Errorf("status = %s, want offline", state.Status)
	}
	if probed {
		t.Error("no probe should be issued without a link")
	}
}

func TestGradeLatency(t *testing.T) {
	m := newTestMonitor(t, "http://localhost/health", newFakeSource())

	tests := []struct {
		latency time.Duration
		want    Quality
	}{
		{50 * time.Millisecond, QualityExcellent},
		{199 * time.Millisecond, QualityExcellent},
		{500 * time.Millisecond, QualityGood},
		{2 * time.Second, QualityPoor},
	}

	for _, tt := range tests {
		if got := m.gradeLatency(tt.latency); got != tt.want {
			t.Errorf("gradeLatency(%v) = %s, want %s", tt.latency, got, tt.want)
		}
	}
}

func TestRun_ConnectivityLossGoesOfflineImmediately(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	source := newFakeSource()
	m := newTestMonitor(t, server.URL, source)
	updates := m.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	// Initial probe publishes Online
	waitForStatus(t, updates, StatusOnline)

	source.ch <- ConnectivityNone
	waitForStatus(t, updates, StatusOffline)

	// Regaining the link triggers a fresh probe
	source.ch <- ConnectivityWifi
	waitForStatus(t, updates, StatusOnline)
}

func TestWaitForNetwork(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	source := newFakeSource()
	m := newTestMonitor(t, server.URL, source)
	m.connectivity = ConnectivityNone
	m.CheckNow(context.Background())

	// Offline with nothing changing: the wait must time out
	err := m.WaitForNetwork(context.Background(), 30*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error while offline")
	}

	// Recover in the background and the wait unblocks
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	go func() {
		time.Sleep(10 * time.Millisecond)
		source.ch <- ConnectivityWifi
	}()

	if err := m.WaitForNetwork(context.Background(), time.Second); err != nil {
		t.Fatalf("expected wait to succeed after recovery, got %v", err)
	}
}

// TestWaitForNetwork_ReleasesSubscribers verifies repeated waits do not
// accumulate subscriber channels on the monitor.
func TestWaitForNetwork_ReleasesSubscribers(t *testing.T) {
	source := newFakeSource()
	m := newTestMonitor(t, "http://localhost/health", source)
	m.connectivity = ConnectivityNone
	m.CheckNow(context.Background())

	for i := 0; i < 50; i++ {
		if err := m.WaitForNetwork(context.Background(), time.Millisecond); err == nil {
			t.Fatal("expected timeout error while offline")
		}
	}

	m.subMu.Lock()
	subs := len(m.subs)
	m.subMu.Unlock()

	if subs != 0 {
		t.Errorf("subscriber count after waits = %d, want 0", subs)
	}
}

func TestUnsubscribe(t *testing.T) {
	source := newFakeSource()
	m := newTestMonitor(t, "http://localhost/health", source)

	ch := m.Subscribe()
	other := m.Subscribe()
	m.Unsubscribe(ch)

	m.subMu.Lock()
	subs := len(m.subs)
	m.subMu.Unlock()
	if subs != 1 {
		t.Fatalf("subscriber count = %d, want 1", subs)
	}

	// The remaining subscriber still receives updates
	m.setState(State{Status: StatusOnline, Quality: QualityGood, LastChecked: time.Now()})
	select {
	case state := <-other:
		if state.Status != StatusOnline {
			t.Errorf("status = %v, want %v", state.Status, StatusOnline)
		}
	default:
		t.Error("expected remaining subscriber to receive the update")
	}

	// The removed channel got nothing
	select {
	case <-ch:
		t.Error("unsubscribed channel received an update")
	default:
	}
}

func waitForStatus(t *testing.T, updates <-chan State, want Status) {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case state := <-updates:
			if state.Status == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for status %s", want)
		}
	}
}
