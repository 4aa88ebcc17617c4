package queue

import "errors"

var (
	// ErrQueueClosed is returned when operating on a closed queue
	ErrQueueClosed = errors.New("queue is closed")

	// ErrItemNotFound is returned when a dead letter entry does not exist
	ErrItemNotFound = errors.New("item not found")

	// ErrMaxRetriesExceeded is recorded for payloads that kept failing
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)
