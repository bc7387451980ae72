package queue

// Merge folds an incoming operation into the existing pending record for the
// same merge key and returns the record that replaces both. UI edits arrive
// faster than network round trips; merging keeps at most one in-flight
// representation per object and converges on the latest field values.
//
// Policy:
//   - a delete on either side wins outright; an update onto an uncommitted
//     create stays a create
//   - payload is a shallow merge, incoming fields overwrite existing ones
//   - priority and version take the higher of the two sides
//   - retryCount carries over from the existing record: a fresh edit does
//     not reset backoff progress already spent on this object
//   - scheduledAt comes from the incoming record, making the merged item
//     immediately eligible again
//   - id and createdAt stay with the existing record
func Merge(existing, incoming *Record) *Record {
	merged := existing.Clone()

	merged.Kind = mergeKind(existing.Kind, incoming.Kind)
	merged.Payload = mergePayload(existing.Payload, incoming.Payload)

	if incoming.Priority > merged.Priority {
		merged.Priority = incoming.Priority
	}
	if incoming.Version > merged.Version {
		merged.Version = incoming.Version
	}
	if incoming.MaxRetries > merged.MaxRetries {
		merged.MaxRetries = incoming.MaxRetries
	}

	merged.ScheduledAt = incoming.ScheduledAt

	return merged
}

func mergeKind(existing, incoming Kind) Kind {
	if existing == KindDelete || incoming == KindDelete {
		return KindDelete
	}
	if existing == KindCreate {
		// The object has never reached the server; the edit piggybacks onto
		// the pending create.
		return KindCreate
	}
	return KindUpdate
}

func mergePayload(existing, incoming map[string]any) map[string]any {
	merged := make(map[string]any, len(existing)+len(incoming))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range incoming {
		merged[k] = v
	}
	return merged
}
