package netmon

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	m := newTestMonitor(t, "http://localhost/health", newFakeSource())

	calls := 0
	err := m.WithRetry(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, RetryOptions{MaxRetries: 3, BaseDelay: time.Millisecond})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestWithRetry_Exhaustion(t *testing.T) {
	m := newTestMonitor(t, "http://localhost/health", newFakeSource())

	sentinel := errors.New("still broken")
	calls := 0

	err := m.WithRetry(context.Background(), func(ctx context.Context) error {
		calls++
		return sentinel
	}, RetryOptions{MaxRetries: 2, BaseDelay: time.Millisecond})

	if !errors.Is(err, sentinel) {
		t.Fatalf("expected wrapped sentinel error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3 (initial + 2 retries)", calls)
	}
}

func TestWithRetry_RequiresNetwork_SkipsWhileOffline(t *testing.T) {
	m := newTestMonitor(t, "http://localhost/health", newFakeSource())
	m.connectivity = ConnectivityNone

	calls := 0
	err := m.WithRetry(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	}, RetryOptions{MaxRetries: 2, BaseDelay: time.Millisecond, RequiresNetwork: true})

	if !errors.Is(err, ErrNetworkUnavailable) {
		t.Fatalf("expected ErrNetworkUnavailable, got %v", err)
	}
	if calls != 0 {
		t.Errorf("operation ran %d times while offline, want 0", calls)
	}
}

func TestWithRetry_RequiresNetwork_RunsWhenOnline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	m := newTestMonitor(t, server.URL, newFakeSource())

	calls := 0
	err := m.WithRetry(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	}, RetryOptions{MaxRetries: 2, BaseDelay: time.Millisecond, RequiresNetwork: true})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestWithRetry_ContextCancellation(t *testing.T) {
	m := newTestMonitor(t, "http://localhost/health", newFakeSource())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.WithRetry(ctx, func(ctx context.Context) error {
		return errors.New("transient")
	}, RetryOptions{MaxRetries: 5, BaseDelay: time.Second})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBackoffDelay_Monotonic(t *testing.T) {
	base := 100 * time.Millisecond

	for exponent := 0; exponent < 5; exponent++ {
		delay := backoffDelay(base, exponent)
		floor := base << uint(exponent)
		ceiling := floor + floor/2

		if delay < floor || delay > ceiling {
			t.Errorf("delay for exponent %d = %v, want within [%v, %v]", exponent, delay, floor, ceiling)
		}
	}
}
