package ingest

import "errors"

var (
	// ErrInvalidReport is returned for reports that fail validation or decoding
	ErrInvalidReport = errors.New("invalid usage report")

	// ErrNoDeadLetterQueue is returned when the worker has no DLQ configured
	ErrNoDeadLetterQueue = errors.New("dead letter queue not configured")
)
