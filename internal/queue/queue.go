package queue

import (
	"context"
	"time"
)

// Package queue buffers serialized usage reports between the HTTP layer and
// the ingest worker. Two backends share one interface:
//
// 1. Memory Queue (channel-based):
//    - No persistence, reports are lost on restart
//    - Used when no Redis address is configured
//
// 2. Redis Queue (list-based):
//    - Survives restarts of the ledger process
//    - Lets several ledger replicas drain one queue
//
// Flow:
//
//	┌──────────────┐
//	│ POST .../    │
//	│ usage/async  │
//	└──────┬───────┘
//	       │ Enqueue(json)
//	       ▼
//	┌──────────────┐        ┌──────────────┐
//	│ Usage Queue  │───────▶│ Ingest       │
//	└──────────────┘ batch  │ Worker       │
//	                        └──────┬───────┘
//	                               │
//	              ┌────────────────┼───────────────┐
//	              ▼                ▼               ▼
//	        ┌──────────┐     ┌──────────┐    ┌─────────┐
//	        │ Ledger   │     │ retry w/ │    │   DLQ   │
//	        │ (record) │     │ backoff  │    │         │
//	        └──────────┘     └──────────┘    └─────────┘
//
// Payloads are opaque byte slices; callers own the encoding.

// Queue defines the interface for message queuing
type Queue interface {
	// Enqueue adds a payload to the tail of the queue
	Enqueue(ctx context.Context, payload []byte) error

	// Dequeue retrieves up to maxItems payloads.
	// Blocks until at least one is available or ctx is done.
	Dequeue(ctx context.Context, maxItems int) ([][]byte, error)

	// DequeueWithTimeout is Dequeue with an upper bound on the wait.
	// An empty slice means the timeout elapsed.
	DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([][]byte, error)

	// Length returns the current queue length
	Length(ctx context.Context) (int, error)

	// Close shuts down the queue
	Close() error
}

// DeadLetterQueue holds payloads that could not be processed
type DeadLetterQueue interface {
	// Add stores a failed payload with the reason it failed
	Add(ctx context.Context, payload []byte, reason error) error

	// List returns up to maxItems entries, oldest first. maxItems <= 0 means all.
	List(ctx context.Context, maxItems int) ([]DeadLetterItem, error)

	// Get returns a single entry
	Get(ctx context.Context, id string) (*DeadLetterItem, error)

	// Remove deletes an entry
	Remove(ctx context.Context, id string) error

	// Close shuts down the dead letter queue
	Close() error
}

// DeadLetterItem is a payload parked in the dead letter queue
type DeadLetterItem struct {
	ID        string    `json:"id"`
	Payload   []byte    `json:"payload"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
	Retries   int       `json:"retries"`
}

// Config holds queue configuration
type Config struct {
	// BatchSize is the maximum number of items to process in a batch
	BatchSize int

	// BatchTimeout is how long to wait before processing a partial batch
	BatchTimeout time.Duration

	// MaxRetries is the maximum number of retry attempts
	MaxRetries int

	// RetryBackoff is the initial backoff duration for retries
	RetryBackoff time.Duration

	// RedisAddr selects the Redis backend when set
	RedisAddr string

	RedisPassword string
	RedisDB       int

	// QueueName is the name/key for the queue
	QueueName string
}

// UseRedis reports whether the config selects the Redis backend
func (c *Config) UseRedis() bool {
	return c.RedisAddr != ""
}

// DefaultConfig returns default queue configuration
func DefaultConfig(queueName string) *Config {
	return &Config{
		BatchSize:    100,
		BatchTimeout: 5 * time.Second,
		MaxRetries:   3,
		RetryBackoff: 1 * time.Second,
		QueueName:    queueName,
	}
}
