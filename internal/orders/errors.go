package orders

import "errors"

var (
	// ErrDuplicateRequest is returned when an identical order was submitted
	// within the dedup window. Maps to 409 at the HTTP boundary.
	ErrDuplicateRequest = errors.New("duplicate order detected")

	// ErrOrderNotFound is returned by the processor when a job references an
	// order that does not exist. Non-retryable: re-running will never find it.
	ErrOrderNotFound = errors.New("order not found")

	// ErrPersistence wraps failures to durably record an order. No job is
	// enqueued when it occurs.
	ErrPersistence = errors.New("order persistence failure")

	// ErrQueueing wraps enqueue failures after the order row was committed.
	// The order remains durably recorded as pending and needs out-of-band
	// reconciliation to be processed.
	ErrQueueing = errors.New("order enqueue failure")
)
