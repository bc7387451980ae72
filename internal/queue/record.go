// Package queue implements the persistent operation queue: the pending-work
// records, the enqueue-time merge policy, and priority batch selection over
// the local store.
package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind classifies what a pending operation does to its target object.
type Kind string

const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Valid reports whether k is a known operation kind.
func (k Kind) Valid() bool {
	switch k {
	case KindCreate, KindUpdate, KindDelete:
		return true
	}
	return false
}

// Priority orders pending operations. Higher values dispatch first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// String returns a human-readable representation of the priority
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// Valid reports whether p is a known priority tier.
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityCritical
}

// DefaultMaxRetries bounds how many failed dispatch attempts a record gets
// before its failure is terminal.
const DefaultMaxRetries = 3

// Validation errors surfaced synchronously to producers. Everything else the
// queue reports asynchronously through the failure channel.
var (
	ErrMissingObjectID   = errors.New("queue: operation missing object id")
	ErrMissingObjectType = errors.New("queue: operation missing object type")
	ErrUnknownKind       = errors.New("queue: unknown operation kind")
	ErrInvalidPriority   = errors.New("queue: invalid priority")
)

// Record is the unit of pending synchronization work for one domain object.
// The engine treats the payload as an opaque field bag; producers own its
// field-naming contract so shallow merging stays correct.
type Record struct {
	ID          string
	ObjectType  string
	ObjectID    string
	Kind        Kind
	Priority    Priority
	Payload     map[string]any
	Version     int64
	RetryCount  int
	MaxRetries  int
	ScheduledAt time.Time
	CreatedAt   time.Time
}

// NewRecord builds an immediately-eligible record for the given target
// object. The ID is generated here and stays stable across merges.
func NewRecord(objectType, objectID string, kind Kind, payload map[string]any) *Record {
	now := time.Now()

	return &Record{
		ID:          uuid.New().String(),
		ObjectType:  objectType,
		ObjectID:    objectID,
		Kind:        kind,
		Priority:    PriorityNormal,
		Payload:     payload,
		MaxRetries:  DefaultMaxRetries,
		ScheduledAt: now,
		CreatedAt:   now,
	}
}

// MergeKey returns the identity under which pending operations for the same
// object are deduplicated.
func (r *Record) MergeKey() string {
	return r.ObjectType + ":" + r.ObjectID
}

// Validate checks the fields a producer controls. Called on every enqueue;
// the only synchronous failure path producers see.
func (r *Record) Validate() error {
	if r.ObjectID == "" {
		return ErrMissingObjectID
	}
	if r.ObjectType == "" {
		return ErrMissingObjectType
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, r.Kind)
	}
	if !r.Priority.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidPriority, int(r.Priority))
	}
	return nil
}

// Exhausted reports whether the record has no retry budget left.
func (r *Record) Exhausted() bool {
	return r.RetryCount >= r.MaxRetries
}

// Clone returns a deep copy. The store hands out clones so callers cannot
// mutate persisted state through shared payload maps.
func (r *Record) Clone() *Record {
	clone := *r
	if r.Payload != nil {
		clone.Payload = make(map[string]any, len(r.Payload))
		for k, v := range r.Payload {
			clone.Payload[k] = v
		}
	}
	return &clone
}
