package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue implements Queue using a buffered channel
type MemoryQueue struct {
	items     chan []byte
	done      chan struct{}
	closeOnce sync.Once
	config    *Config
}

// NewMemoryQueue creates a new in-memory queue
func NewMemoryQueue(config *Config) *MemoryQueue {
	if config == nil {
		config = DefaultConfig("memory")
	}

	return &MemoryQueue{
		items:  make(chan []byte, config.BatchSize*10), // Buffer for 10 batches
		done:   make(chan struct{}),
		config: config,
	}
}

func (q *MemoryQueue) isClosed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

// Enqueue adds a payload to the queue, waiting for room if the buffer is full
func (q *MemoryQueue) Enqueue(ctx context.Context, payload []byte) error {
	if q.isClosed() {
		return ErrQueueClosed
	}

	select {
	case q.items <- payload:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue retrieves payloads from the queue
func (q *MemoryQueue) Dequeue(ctx context.Context, maxItems int) ([][]byte, error) {
	if q.isClosed() {
		return nil, ErrQueueClosed
	}

	select {
	case item := <-q.items:
		return q.drain(item, maxItems), nil
	case <-q.done:
		return nil, ErrQueueClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// DequeueWithTimeout retrieves payloads with a timeout
func (q *MemoryQueue) DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([][]byte, error) {
	if q.isClosed() {
		return nil, ErrQueueClosed
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case item := <-q.items:
		return q.drain(item, maxItems), nil
	case <-timer.C:
		return [][]byte{}, nil
	case <-q.done:
		return nil, ErrQueueClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// drain collects more payloads without blocking
func (q *MemoryQueue) drain(first []byte, maxItems int) [][]byte {
	items := [][]byte{first}
	for len(items) < maxItems {
		select {
		case item := <-q.items:
			items = append(items, item)
		default:
			return items
		}
	}
	return items
}

// Length returns the current queue length
func (q *MemoryQueue) Length(ctx context.Context) (int, error) {
	if q.isClosed() {
		return 0, ErrQueueClosed
	}
	return len(q.items), nil
}

// Close shuts down the queue. Buffered payloads are discarded.
func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() {
		close(q.done)
	})
	return nil
}

// MemoryDeadLetterQueue implements DeadLetterQueue in process memory
type MemoryDeadLetterQueue struct {
	items  map[string]DeadLetterItem
	mu     sync.RWMutex
	closed bool
	now    func() time.Time
}

// NewMemoryDeadLetterQueue creates a new in-memory dead letter queue
func NewMemoryDeadLetterQueue() *MemoryDeadLetterQueue {
	return &MemoryDeadLetterQueue{
		items: make(map[string]DeadLetterItem),
		now:   time.Now,
	}
}

// Add adds a failed payload to the dead letter queue
func (q *MemoryDeadLetterQueue) Add(ctx context.Context, payload []byte, reason error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	item := newDeadLetterItem(payload, reason, q.now())
	q.items[item.ID] = item
	return nil
}

// List returns entries oldest first
func (q *MemoryDeadLetterQueue) List(ctx context.Context, maxItems int) ([]DeadLetterItem, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	items := make([]DeadLetterItem, 0, len(q.items))
	for _, item := range q.items {
		items = append(items, item)
	}
	return limitItems(sortItems(items), maxItems), nil
}

// Get returns a single entry
func (q *MemoryDeadLetterQueue) Get(ctx context.Context, id string) (*DeadLetterItem, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	item, ok := q.items[id]
	if !ok {
		return nil, ErrItemNotFound
	}
	return &item, nil
}

// Remove removes an entry from the dead letter queue
func (q *MemoryDeadLetterQueue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	if _, ok := q.items[id]; !ok {
		return ErrItemNotFound
	}
	delete(q.items, id)
	return nil
}

// Close shuts down the dead letter queue
func (q *MemoryDeadLetterQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.items = nil
	return nil
}

func newDeadLetterItem(payload []byte, reason error, at time.Time) DeadLetterItem {
	msg := "unknown error"
	if reason != nil {
		msg = reason.Error()
	}
	return DeadLetterItem{
		ID:        uuid.NewString(),
		Payload:   append([]byte(nil), payload...),
		Error:     msg,
		Timestamp: at,
	}
}

func sortItems(items []DeadLetterItem) []DeadLetterItem {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Timestamp.Equal(items[j].Timestamp) {
			return items[i].ID < items[j].ID
		}
		return items[i].Timestamp.Before(items[j].Timestamp)
	})
	return items
}

func limitItems(items []DeadLetterItem, maxItems int) []DeadLetterItem {
	if maxItems > 0 && len(items) > maxItems {
		return items[:maxItems]
	}
	return items
}
