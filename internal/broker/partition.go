package broker

// PartitionResult pairs a delivered message with the outcome of processing
// it, in delivery order within its group.
type PartitionResult struct {
	Message Message
	Success bool
}

// CommittablePrefix implements the per-partition commit rule required of
// batch consumers: only the longest prefix of messages that all succeeded
// is safe to acknowledge. A message at the first failure, and everything
// after it, must be left unacknowledged so it is redelivered — even if
// later messages in the same group happened to succeed.
//
// On the happy path (no failures) this returns every message, which is
// exactly the "commit max successful offset" shortcut described for the
// common case.
func CommittablePrefix(results []PartitionResult) []Message {
	committable := make([]Message, 0, len(results))
	for _, r := range results {
		if !r.Success {
			break
		}
		committable = append(committable, r.Message)
	}
	return committable
}
