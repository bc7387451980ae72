package queue

import (
	"testing"
	"time"
)

func makeRecord(kind Kind, payload map[string]any) *Record {
	rec := NewRecord("goal", "g1", kind, payload)
	rec.Version = 1
	return rec
}

// TestMerge_PayloadShallowMerge verifies that incoming field values overwrite
// existing ones while fields present on only one side are kept.
func TestMerge_PayloadShallowMerge(t *testing.T) {
	existing := makeRecord(KindUpdate, map[string]any{"a": 1})
	incoming := makeRecord(KindUpdate, map[string]any{"a": 2, "b": 3})
	incoming.Version = 2

	merged := Merge(existing, incoming)

	if got := merged.Payload["a"]; got != 2 {
		t.Errorf("payload[a] = %v, want 2", got)
	}
	if got := merged.Payload["b"]; got != 3 {
		t.Errorf("payload[b] = %v, want 3", got)
	}
	if len(merged.Payload) != 2 {
		t.Errorf("payload has %d fields, want 2", len(merged.Payload))
	}
}

// TestMerge_KindPolicy verifies delete dominance and create piggybacking
// across every kind combination.
func TestMerge_KindPolicy(t *testing.T) {
	tests := []struct {
		name     string
		existing Kind
		incoming Kind
		want     Kind
	}{
		{"update onto update", KindUpdate, KindUpdate, KindUpdate},
		{"update onto create piggybacks", KindCreate, KindUpdate, KindCreate},
		{"delete absorbs create", KindCreate, KindDelete, KindDelete},
		{"delete absorbs update", KindUpdate, KindDelete, KindDelete},
		{"update after delete stays delete", KindDelete, KindUpdate, KindDelete},
		{"create after delete stays delete", KindDelete, KindCreate, KindDelete},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			merged := Merge(makeRecord(tt.existing, nil), makeRecord(tt.incoming, nil))
			if merged.Kind != tt.want {
				t.Errorf("kind = %s, want %s", merged.Kind, tt.want)
			}
		})
	}
}

// TestMerge_PriorityEscalation verifies the merged record takes the higher
// priority from either side.
func TestMerge_PriorityEscalation(t *testing.T) {
	existing := makeRecord(KindUpdate, nil)
	existing.Priority = PriorityNormal

	incoming := makeRecord(KindUpdate, nil)
	incoming.Priority = PriorityCritical

	if got := Merge(existing, incoming).Priority; got != PriorityCritical {
		t.Errorf("priority = %s, want critical", got)
	}

	// Order should not matter
	if got := Merge(incoming, existing).Priority; got != PriorityCritical {
		t.Errorf("priority = %s after reversed merge, want critical", got)
	}
}

// TestMerge_VersionLastWriteWins verifies the higher caller-supplied version
// survives the merge.
func TestMerge_VersionLastWriteWins(t *testing.T) {
	existing := makeRecord(KindUpdate, nil)
	existing.Version = 5

	incoming := makeRecord(KindUpdate, nil)
	incoming.Version = 3

	if got := Merge(existing, incoming).Version; got != 5 {
		t.Errorf("version = %d, want 5", got)
	}

	incoming.Version = 8
	if got := Merge(existing, incoming).Version; got != 8 {
		t.Errorf("version = %d, want 8", got)
	}
}

// TestMerge_IdentityAndBackoffCarryOver verifies the merged record keeps the
// existing record's id, createdAt and retry progress, while scheduledAt comes
// from the incoming record so the item is immediately eligible again.
func TestMerge_IdentityAndBackoffCarryOver(t *testing.T) {
	existing := makeRecord(KindUpdate, nil)
	existing.RetryCount = 2
	existing.CreatedAt = time.Now().Add(-time.Hour)
	existing.ScheduledAt = time.Now().Add(10 * time.Minute) // backed off

	incoming := makeRecord(KindUpdate, nil)

	merged := Merge(existing, incoming)

	if merged.ID != existing.ID {
		t.Errorf("id = %s, want existing id %s", merged.ID, existing.ID)
	}
	if !merged.CreatedAt.Equal(existing.CreatedAt) {
		t.Error("createdAt not preserved from existing record")
	}
	if merged.RetryCount != 2 {
		t.Errorf("retryCount = %d, want 2 (backoff progress kept)", merged.RetryCount)
	}
	if !merged.ScheduledAt.Equal(incoming.ScheduledAt) {
		t.Error("scheduledAt not taken from incoming record")
	}
}

// TestMerge_DoesNotMutateInputs verifies neither input record's payload is
// aliased by the merged result.
func TestMerge_DoesNotMutateInputs(t *testing.T) {
	existing := makeRecord(KindUpdate, map[string]any{"a": 1})
	incoming := makeRecord(KindUpdate, map[string]any{"b": 2})

	merged := Merge(existing, incoming)
	merged.Payload["a"] = 99

	if existing.Payload["a"] != 1 {
		t.Error("merge mutated existing payload")
	}
	if _, ok := incoming.Payload["a"]; ok {
		t.Error("merge mutated incoming payload")
	}
}

func TestRecordValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Record)
		wantErr error
	}{
		{"valid", func(r *Record) {}, nil},
		{"missing object id", func(r *Record) { r.ObjectID = "" }, ErrMissingObjectID},
		{"missing object type", func(r *Record) { r.ObjectType = "" }, ErrMissingObjectType},
		{"unknown kind", func(r *Record) { r.Kind = "upsert" }, ErrUnknownKind},
		{"invalid priority", func(r *Record) { r.Priority = Priority(42) }, ErrInvalidPriority},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := makeRecord(KindUpdate, nil)
			tt.mutate(rec)

			err := rec.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}

			if err == nil {
				t.Fatalf("expected error %v, got nil", tt.wantErr)
			}
		})
	}
}
