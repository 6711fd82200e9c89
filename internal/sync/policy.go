package sync

import "fmt"

// DefaultMaxRetries is the number of failed pushes an item may accumulate
// before its next failure is terminal.
const DefaultMaxRetries = 3

// RetryPolicy decides what happens to a queue item that failed again after
// reaching MaxRetries.
type RetryPolicy string

const (
	// RetainForManualReview moves the item to dead-letter status. It stays
	// stored, stops being retried and is counted in State.DeadLetters.
	RetainForManualReview RetryPolicy = "retain-for-manual-review"

	// DropAfterMaxRetries deletes the item.
	DropAfterMaxRetries RetryPolicy = "drop-after-max-retries"
)

// ParseRetryPolicy validates s. Empty selects RetainForManualReview.
func ParseRetryPolicy(s string) (RetryPolicy, error) {
	switch p := RetryPolicy(s); p {
	case "":
		return RetainForManualReview, nil
	case RetainForManualReview, DropAfterMaxRetries:
		return p, nil
	}
	return "", fmt.Errorf("unknown retry policy %q", s)
}

// WritePolicy decides how PushToServer and DeleteFromServer route writes
// while the backend is configured. Unconfigured backends always queue.
type WritePolicy string

const (
	// WriteDirect sends immediately and returns remote errors to the caller.
	WriteDirect WritePolicy = "direct"

	// WriteQueueFirst always enqueues; the next drain delivers.
	WriteQueueFirst WritePolicy = "queue-first"

	// WriteQueueOnFailure sends immediately and enqueues when the remote
	// call fails.
	WriteQueueOnFailure WritePolicy = "queue-on-failure"
)

// ParseWritePolicy validates s. Empty selects WriteDirect.
func ParseWritePolicy(s string) (WritePolicy, error) {
	switch p := WritePolicy(s); p {
	case "":
		return WriteDirect, nil
	case WriteDirect, WriteQueueFirst, WriteQueueOnFailure:
		return p, nil
	}
	return "", fmt.Errorf("unknown write policy %q", s)
}
