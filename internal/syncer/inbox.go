package syncer

import (
	"log/slog"
	"sync/atomic"
	"time"
)

// TriggerReason says why an out-of-band processing wake was requested.
type TriggerReason int

const (
	// TriggerCritical fires when an enqueue leaves a Critical-priority
	// record in the queue.
	TriggerCritical TriggerReason = iota

	// TriggerNetworkRecovered fires on an Offline→Online transition.
	TriggerNetworkRecovered

	// TriggerManual fires for explicit flush requests (CLI, tests).
	TriggerManual
)

// String returns a human-readable representation of the trigger reason
func (r TriggerReason) String() string {
	switch r {
	case TriggerCritical:
		return "critical_enqueue"
	case TriggerNetworkRecovered:
		return "network_recovered"
	case TriggerManual:
		return "manual"
	default:
		return "unknown"
	}
}

// Trigger is one wake request for the manager's loop.
type Trigger struct {
	Reason TriggerReason
	At     time.Time
}

// Inbox carries wake triggers from producers (enqueue path, network
// monitor, CLI) to the manager loop. Sends never block the caller's request
// path: when the buffer is full a wake is already pending, so dropping the
// trigger loses nothing.
type Inbox struct {
	ch     chan Trigger
	logger *slog.Logger
	stats  *InboxStats
}

// InboxStats tracks trigger traffic for observability.
type InboxStats struct {
	TotalSent     int64
	TotalReceived int64
	DroppedCount  int64
}

// NewInbox creates an inbox with the specified buffer size.
func NewInbox(bufferSize int, logger *slog.Logger) *Inbox {
	return &Inbox{
		ch:     make(chan Trigger, bufferSize),
		logger: logger,
		stats:  &InboxStats{},
	}
}

// TrySend delivers a trigger without blocking. Returns false when the
// buffer was full and the trigger was dropped.
func (ib *Inbox) TrySend(reason TriggerReason) bool {
	trigger := Trigger{Reason: reason, At: time.Now()}

	select {
	case ib.ch <- trigger:
		atomic.AddInt64(&ib.stats.TotalSent, 1)
		return true
	default:
		atomic.AddInt64(&ib.stats.DroppedCount, 1)
		ib.logger.Debug("trigger dropped, wake already pending", "reason", reason)
		return false
	}
}

// Receive exposes the trigger channel for the manager's select loop.
func (ib *Inbox) Receive() <-chan Trigger {
	return ib.ch
}

// Mark records one consumed trigger.
func (ib *Inbox) Mark() {
	atomic.AddInt64(&ib.stats.TotalReceived, 1)
}

// Stats returns a copy of the current inbox statistics
func (ib *Inbox) Stats() InboxStats {
	return InboxStats{
		TotalSent:     atomic.LoadInt64(&ib.stats.TotalSent),
		TotalReceived: atomic.LoadInt64(&ib.stats.TotalReceived),
		DroppedCount:  atomic.LoadInt64(&ib.stats.DroppedCount),
	}
}
