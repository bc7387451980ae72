// Package syncer orchestrates the background reconciliation of the local
// operation queue with the remote service: it batches due operations under
// the rate limiter's budget, dispatches them per object type, and applies
// retry-or-remove decisions back to the store.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arborapp/localsync/internal/netmon"
	"github.com/arborapp/localsync/internal/queue"
	"github.com/arborapp/localsync/internal/ratelimit"
)

// Manager drives the sync loop. It is the single consumer of the queue
// store's batch path; producers only ever touch the store through Enqueue.
type Manager struct {
	config  Config
	logger  *slog.Logger
	store   *queue.Store
	bucket  *ratelimit.Bucket
	monitor NetworkMonitor
	client  RemoteClient
	auth    TokenRefresher // nil when no auth collaborator is wired

	inbox    *Inbox
	failures chan TerminalFailure

	// Single in-flight guard: concurrent ProcessQueue triggers are no-ops,
	// the periodic tick picks up remaining work.
	processing atomic.Bool

	// Auth-retry bookkeeping, ephemeral by design: after a crash the worst
	// case is one extra refresh attempt for a record.
	authMu      sync.Mutex
	authRetried map[string]bool

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	droppedFailures atomic.Int64
}

// NewManager wires the sync manager. The auth refresher may be nil; auth
// failures then turn permanent without a refresh attempt.
func NewManager(
	config Config,
	store *queue.Store,
	bucket *ratelimit.Bucket,
	monitor NetworkMonitor,
	client RemoteClient,
	auth TokenRefresher,
	logger *slog.Logger,
) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid syncer config: %w", err)
	}

	return &Manager{
		config:      config,
		logger:      logger,
		store:       store,
		bucket:      bucket,
		monitor:     monitor,
		client:      client,
		auth:        auth,
		inbox:       NewInbox(config.InboxBufferSize, logger),
		failures:    make(chan TerminalFailure, config.FailureBufferSize),
		authRetried: make(map[string]bool),
		shutdown:    make(chan struct{}),
		done:        make(chan struct{}),
	}, nil
}

// Enqueue validates and persists an operation, merging it into any pending
// record for the same object. The caller's request path never waits on sync
// activity: a Critical result only signals the loop, it does not dispatch
// inline.
func (m *Manager) Enqueue(ctx context.Context, rec *queue.Record) error {
	stored, merged, err := m.store.InsertOrMerge(ctx, rec)
	if err != nil {
		return err
	}

	m.logger.Debug("operation enqueued",
		"merge_key", stored.MergeKey(),
		"kind", stored.Kind,
		"priority", stored.Priority,
		"merged", merged)

	if stored.Priority == queue.PriorityCritical {
		m.inbox.TrySend(TriggerCritical)
	}

	return nil
}

// Flush requests an out-of-band processing pass without blocking.
func (m *Manager) Flush() {
	m.inbox.TrySend(TriggerManual)
}

// Failures returns the terminal failure channel. Consumers should drain it;
// when it backs up, failures are dropped with a warning rather than ever
// blocking the loop.
func (m *Manager) Failures() <-chan TerminalFailure {
	return m.failures
}

// WaitForNetwork blocks until the backend is reachable, the timeout
// elapses, or ctx is cancelled.
func (m *Manager) WaitForNetwork(ctx context.Context, timeout time.Duration) error {
	if m.monitor.State().Online() {
		return nil
	}

	updates := m.monitor.Subscribe()
	defer m.monitor.Unsubscribe(updates)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return fmt.Errorf("network did not become available within %v: %w",
				timeout, netmon.ErrNetworkUnavailable)
		case state := <-updates:
			if state.Online() {
				return nil
			}
		}
	}
}

// GetStats snapshots queue depth and engine condition.
func (m *Manager) GetStats(ctx context.Context) (QueueStats, error) {
	stats, err := m.store.Stats(ctx, time.Now())
	if err != nil {
		return QueueStats{}, err
	}

	return QueueStats{
		TotalOperations:   stats.Total,
		PendingOperations: stats.Due,
		IsOnline:          m.monitor.State().Online(),
		IsProcessing:      m.processing.Load(),
	}, nil
}

// Run is the manager's loop: a periodic tick, out-of-band wake triggers,
// and network transitions. Blocks until ctx is cancelled or Shutdown is
// called; any in-flight pass finishes before Run returns, so pending
// batches are not abandoned mid-process.
func (m *Manager) Run(ctx context.Context) {
	defer close(m.done)

	m.logger.Info("sync manager started",
		"tick_interval", m.config.TickInterval,
		"batch_size", m.config.BatchSize)

	ticker := time.NewTicker(m.config.TickInterval)
	defer ticker.Stop()

	updates := m.monitor.Subscribe()
	defer m.monitor.Unsubscribe(updates)

	wasOnline := m.monitor.State().Online()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("sync manager stopping", "reason", "context cancelled")
			return

		case <-m.shutdown:
			m.logger.Info("sync manager stopping", "reason", "shutdown requested")
			return

		case <-ticker.C:
			m.ProcessQueue(ctx)

		case trigger := <-m.inbox.Receive():
			m.inbox.Mark()
			m.logger.Debug("processing wake", "reason", trigger.Reason)
			m.ProcessQueue(ctx)

		case state := <-updates:
			online := state.Online()
			if online && !wasOnline {
				m.logger.Info("network recovered, processing queue",
					"quality", state.Quality,
					"latency", state.Latency)
				m.inbox.TrySend(TriggerNetworkRecovered)
			} else if !online && wasOnline {
				m.logger.Info("network lost, pausing dispatch", "status", state.Status)
			}
			wasOnline = online
		}
	}
}

// Shutdown stops the loop and waits for any in-flight pass to drain.
func (m *Manager) Shutdown() {
	m.shutdownOnce.Do(func() {
		close(m.shutdown)
	})
	<-m.done
}

// ProcessQueue runs one dispatch pass. Safe to invoke from any goroutine:
// the in-flight flag makes concurrent invocations no-ops, and every failure
// is converted to a reschedule or a terminal removal — nothing escapes to
// the caller.
func (m *Manager) ProcessQueue(ctx context.Context) {
	if !m.processing.CompareAndSwap(false, true) {
		return
	}
	defer m.processing.Store(false)

	if !m.monitor.State().Online() {
		m.logger.Debug("skipping processing pass, backend unreachable")
		return
	}

	// Size the batch to the rate-limiter's budget before consuming tokens;
	// this loop is the bucket's only consumer, so the follow-up acquire
	// cannot lose a race.
	budget := m.bucket.Available()
	if budget > m.config.BatchSize {
		budget = m.config.BatchSize
	}
	if budget == 0 {
		m.logger.Debug("skipping processing pass, no dispatch tokens")
		return
	}

	batch, err := m.store.NextBatch(ctx, time.Now(), budget)
	if err != nil {
		m.logger.Error("failed to select batch", "error", err)
		return
	}
	if len(batch) == 0 {
		return
	}

	if !m.bucket.TryAcquire(len(batch)) {
		return
	}

	m.logger.Debug("dispatching batch", "size", len(batch))

	// Group by object type for batched remote calls
	groups := make(map[string][]*queue.Record)
	var order []string
	for _, rec := range batch {
		if _, seen := groups[rec.ObjectType]; !seen {
			order = append(order, rec.ObjectType)
		}
		groups[rec.ObjectType] = append(groups[rec.ObjectType], rec)
	}

	for _, objectType := range order {
		m.dispatchGroup(ctx, objectType, groups[objectType])
	}
}

// dispatchGroup sends one object type's records and applies per-record
// outcomes.
func (m *Manager) dispatchGroup(ctx context.Context, objectType string, group []*queue.Record) {
	results, err := m.client.Send(ctx, objectType, group)
	if err != nil {
		// The whole call failed before per-record outcomes existed; every
		// record shares the failure.
		for _, rec := range group {
			m.handleFailure(ctx, rec, err)
		}
		return
	}

	byID := make(map[string]DispatchResult, len(results))
	for _, result := range results {
		byID[result.ID] = result
	}

	for _, rec := range group {
		result, ok := byID[rec.ID]
		if !ok {
			m.handleFailure(ctx, rec, Transient(fmt.Errorf("no dispatch result for operation %s", rec.ID)))
			continue
		}

		if result.Err != nil {
			m.handleFailure(ctx, rec, result.Err)
			continue
		}

		m.handleSuccess(ctx, rec)
	}
}

func (m *Manager) handleSuccess(ctx context.Context, rec *queue.Record) {
	m.clearAuthRetry(rec.ID)

	removed, err := m.store.Remove(ctx, rec.ID, rec.Version)
	if err != nil {
		m.logger.Error("failed to remove dispatched operation",
			"merge_key", rec.MergeKey(), "error", err)
		return
	}

	if !removed {
		// A newer edit merged in while this version was in flight; the row
		// stays and dispatches on a later pass.
		m.logger.Debug("dispatched version superseded by newer edit",
			"merge_key", rec.MergeKey(), "version", rec.Version)
		return
	}

	m.logger.Debug("operation synced", "merge_key", rec.MergeKey(), "kind", rec.Kind)
}

func (m *Manager) handleFailure(ctx context.Context, rec *queue.Record, cause error) {
	switch Classify(cause) {
	case ClassPermanent:
		m.logger.Warn("operation rejected by remote service",
			"merge_key", rec.MergeKey(), "error", cause)
		m.removeTerminal(ctx, rec, cause)

	case ClassAuth:
		if m.tryAuthRefresh(ctx, rec) {
			// Refresh succeeded; the record stays due for an immediate
			// retry on the next pass without consuming retry budget.
			return
		}
		m.logger.Warn("operation failed authentication after refresh",
			"merge_key", rec.MergeKey(), "error", cause)
		m.removeTerminal(ctx, rec, cause)

	default:
		m.retryOrExhaust(ctx, rec, cause)
	}
}

// retryOrExhaust applies the transient-failure policy: reschedule with
// exponential backoff while budget remains, terminal removal once it is
// spent.
func (m *Manager) retryOrExhaust(ctx context.Context, rec *queue.Record, cause error) {
	if rec.Exhausted() {
		m.logger.Warn("operation exhausted retries",
			"merge_key", rec.MergeKey(),
			"retries", rec.RetryCount,
			"error", cause)
		m.removeTerminal(ctx, rec, fmt.Errorf("max retries (%d) exceeded: %w", rec.MaxRetries, cause))
		return
	}

	rec.RetryCount++
	delay := m.config.retryDelay(rec.RetryCount)
	rec.ScheduledAt = time.Now().Add(delay)

	if err := m.store.Reschedule(ctx, rec); err != nil {
		m.logger.Error("failed to reschedule operation",
			"merge_key", rec.MergeKey(), "error", err)
		return
	}

	m.logger.Debug("operation rescheduled",
		"merge_key", rec.MergeKey(),
		"retry", rec.RetryCount,
		"max_retries", rec.MaxRetries,
		"delay", delay,
		"error", cause)
}

// tryAuthRefresh runs the one-refresh-then-permanent policy for a record.
func (m *Manager) tryAuthRefresh(ctx context.Context, rec *queue.Record) bool {
	if m.auth == nil {
		return false
	}

	m.authMu.Lock()
	already := m.authRetried[rec.ID]
	if !already {
		m.authRetried[rec.ID] = true
	}
	m.authMu.Unlock()

	if already {
		return false
	}

	if err := m.auth.RefreshToken(ctx); err != nil {
		m.logger.Warn("token refresh failed", "error", err)
		return false
	}

	m.logger.Debug("token refreshed, retrying operation", "merge_key", rec.MergeKey())
	return true
}

func (m *Manager) clearAuthRetry(id string) {
	m.authMu.Lock()
	delete(m.authRetried, id)
	m.authMu.Unlock()
}

// removeTerminal ends a record's lifecycle and reports the failure exactly
// once through the failure channel.
func (m *Manager) removeTerminal(ctx context.Context, rec *queue.Record, cause error) {
	m.clearAuthRetry(rec.ID)

	removed, err := m.store.Remove(ctx, rec.ID, rec.Version)
	if err != nil {
		m.logger.Error("failed to remove terminally failed operation",
			"merge_key", rec.MergeKey(), "error", err)
		return
	}

	if !removed {
		// A newer edit replaced the failing version; its lifecycle starts
		// fresh and this failure is not reported against it.
		return
	}

	failure := TerminalFailure{Record: rec, Err: cause, At: time.Now()}

	select {
	case m.failures <- failure:
	default:
		m.droppedFailures.Add(1)
		m.logger.Warn("terminal failure dropped, channel full",
			"merge_key", rec.MergeKey(),
			"dropped_total", m.droppedFailures.Load())
	}
}
