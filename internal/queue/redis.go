package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Connect dials Redis with the config's credentials and checks the connection
func Connect(ctx context.Context, config *Config) (*redis.Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddr,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// RedisQueue implements Queue using a Redis list
type RedisQueue struct {
	client     *redis.Client
	config     *Config
	qKey       string
	ownsClient bool
}

// NewRedisQueue dials its own client
func NewRedisQueue(config *Config) (*RedisQueue, error) {
	client, err := Connect(context.Background(), config)
	if err != nil {
		return nil, err
	}
	q := NewRedisQueueWithClient(client, config)
	q.ownsClient = true
	return q, nil
}

// NewRedisQueueWithClient shares an existing client. Close leaves it open.
func NewRedisQueueWithClient(client *redis.Client, config *Config) *RedisQueue {
	return &RedisQueue{
		client: client,
		config: config,
		qKey:   fmt.Sprintf("queue:%s", config.QueueName),
	}
}

// Enqueue appends a payload to the list
func (q *RedisQueue) Enqueue(ctx context.Context, payload []byte) error {
	if err := q.client.RPush(ctx, q.qKey, payload).Err(); err != nil {
		return fmt.Errorf("failed to push to Redis: %w", err)
	}
	return nil
}

// Dequeue blocks until a payload is available
func (q *RedisQueue) Dequeue(ctx context.Context, maxItems int) ([][]byte, error) {
	result, err := q.client.BLPop(ctx, 0, q.qKey).Result()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("failed to pop from Redis: %w", err)
	}

	// result[0] is the key, result[1] is the value
	return q.drain(ctx, []byte(result[1]), maxItems), nil
}

// DequeueWithTimeout waits at most timeout for the first payload
func (q *RedisQueue) DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([][]byte, error) {
	result, err := q.client.BLPop(ctx, timeout, q.qKey).Result()
	if errors.Is(err, redis.Nil) {
		return [][]byte{}, nil
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("failed to pop from Redis: %w", err)
	}

	return q.drain(ctx, []byte(result[1]), maxItems), nil
}

func (q *RedisQueue) drain(ctx context.Context, first []byte, maxItems int) [][]byte {
	items := [][]byte{first}
	for len(items) < maxItems {
		data, err := q.client.LPop(ctx, q.qKey).Bytes()
		if err != nil {
			// redis.Nil means empty; anything else returns what we have
			break
		}
		items = append(items, data)
	}
	return items
}

// Length returns the current queue length
func (q *RedisQueue) Length(ctx context.Context) (int, error) {
	length, err := q.client.LLen(ctx, q.qKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue length: %w", err)
	}
	return int(length), nil
}

// Close shuts down the queue
func (q *RedisQueue) Close() error {
	if !q.ownsClient {
		return nil
	}
	return q.client.Close()
}

// RedisDeadLetterQueue implements DeadLetterQueue using a Redis hash
type RedisDeadLetterQueue struct {
	client     *redis.Client
	dlKey      string
	ownsClient bool
	now        func() time.Time
}

// NewRedisDeadLetterQueue dials its own client
func NewRedisDeadLetterQueue(config *Config) (*RedisDeadLetterQueue, error) {
	client, err := Connect(context.Background(), config)
	if err != nil {
		return nil, err
	}
	q := NewRedisDeadLetterQueueWithClient(client, config)
	q.ownsClient = true
	return q, nil
}

// NewRedisDeadLetterQueueWithClient shares an existing client
func NewRedisDeadLetterQueueWithClient(client *redis.Client, config *Config) *RedisDeadLetterQueue {
	return &RedisDeadLetterQueue{
		client: client,
		dlKey:  fmt.Sprintf("dlq:%s", config.QueueName),
		now:    time.Now,
	}
}

// Add adds a failed payload to the dead letter queue
func (q *RedisDeadLetterQueue) Add(ctx context.Context, payload []byte, reason error) error {
	item := newDeadLetterItem(payload, reason, q.now())

	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter item: %w", err)
	}

	if err := q.client.HSet(ctx, q.dlKey, item.ID, data).Err(); err != nil {
		return fmt.Errorf("failed to add to dead letter queue: %w", err)
	}
	return nil
}

// List returns entries oldest first
func (q *RedisDeadLetterQueue) List(ctx context.Context, maxItems int) ([]DeadLetterItem, error) {
	results, err := q.client.HGetAll(ctx, q.dlKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letter items: %w", err)
	}

	items := make([]DeadLetterItem, 0, len(results))
	for _, data := range results {
		var item DeadLetterItem
		if err := json.Unmarshal([]byte(data), &item); err != nil {
			continue // Skip malformed items
		}
		items = append(items, item)
	}
	return limitItems(sortItems(items), maxItems), nil
}

// Get returns a single entry
func (q *RedisDeadLetterQueue) Get(ctx context.Context, id string) (*DeadLetterItem, error) {
	data, err := q.client.HGet(ctx, q.dlKey, id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read dead letter item: %w", err)
	}

	var item DeadLetterItem
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("failed to decode dead letter item: %w", err)
	}
	return &item, nil
}

// Remove removes an entry from the dead letter queue
func (q *RedisDeadLetterQueue) Remove(ctx context.Context, id string) error {
	removed, err := q.client.HDel(ctx, q.dlKey, id).Result()
	if err != nil {
		return fmt.Errorf("failed to remove from dead letter queue: %w", err)
	}
	if removed == 0 {
		return ErrItemNotFound
	}
	return nil
}

// Close shuts down the dead letter queue
func (q *RedisDeadLetterQueue) Close() error {
	if !q.ownsClient {
		return nil
	}
	return q.client.Close()
}

var (
	_ Queue           = (*MemoryQueue)(nil)
	_ Queue           = (*RedisQueue)(nil)
	_ DeadLetterQueue = (*MemoryDeadLetterQueue)(nil)
	_ DeadLetterQueue = (*RedisDeadLetterQueue)(nil)
)
