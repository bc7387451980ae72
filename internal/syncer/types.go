package syncer

import (
	"context"
	"time"

	"github.com/arborapp/localsync/internal/netmon"
	"github.com/arborapp/localsync/internal/queue"
)

// DispatchResult reports the outcome of one operation within a batched send.
// A nil Err means the remote service applied the operation.
type DispatchResult struct {
	ID  string
	Err error
}

// RemoteClient is the engine's view of the remote API. Implementations batch
// per object type and are expected to be idempotent enough that retried
// sends of an unmodified payload are safe.
type RemoteClient interface {
	Send(ctx context.Context, objectType string, batch []*queue.Record) ([]DispatchResult, error)
}

// TokenRefresher is the auth collaborator consulted on 401/403 responses.
type TokenRefresher interface {
	RefreshToken(ctx context.Context) error
}

// NetworkMonitor is the slice of the network monitor the manager consumes.
// Every Subscribe must be paired with an Unsubscribe when the consumer is
// done with the channel.
type NetworkMonitor interface {
	State() netmon.State
	Subscribe() <-chan netmon.State
	Unsubscribe(<-chan netmon.State)
}

// TerminalFailure is an operation whose lifecycle ended without reaching the
// remote service; delivered once on the failure channel.
type TerminalFailure struct {
	Record *queue.Record
	Err    error
	At     time.Time
}

// QueueStats is the caller-visible snapshot exposed through GetStats.
type QueueStats struct {
	TotalOperations   int
	PendingOperations int
	IsOnline          bool
	IsProcessing      bool
}
