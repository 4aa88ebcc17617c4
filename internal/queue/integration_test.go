package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestOpen_DeadLetterRoundTrip runs the park-and-retry flow on both backends
func TestOpen_DeadLetterRoundTrip(t *testing.T) {
	_, client := newTestRedis(t)

	backends := []struct {
		name   string
		config *Config
		open   func(*Config) (Queue, DeadLetterQueue)
	}{
		{
			name:   "memory",
			config: DefaultConfig("usage"),
			open: func(c *Config) (Queue, DeadLetterQueue) {
				q, dlq, shared, err := Open(context.Background(), c, nil)
				require.NoError(t, err)
				assert.Nil(t, shared)
				return q, dlq
			},
		},
		{
			name:   "redis",
			config: DefaultConfig("usage"),
			open: func(c *Config) (Queue, DeadLetterQueue) {
				q, dlq, shared, err := Open(context.Background(), c, client)
				require.NoError(t, err)
				assert.Same(t, client, shared)
				return q, dlq
			},
		},
	}

	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			b.config.BatchSize = 5
			q, dlq := b.open(b.config)
			defer q.Close()
			defer dlq.Close()

			ctx := context.Background()
			for i := 0; i < 10; i++ {
				require.NoError(t, q.Enqueue(ctx, []byte(fmt.Sprintf(`{"id":%d}`, i))))
			}

			batch, err := q.DequeueWithTimeout(ctx, b.config.BatchSize, 100*time.Millisecond)
			require.NoError(t, err)
			require.Len(t, batch, 5)

			require.NoError(t, dlq.Add(ctx, batch[0], ErrMaxRetriesExceeded))

			rest, err := q.Dequeue(ctx, b.config.BatchSize)
			require.NoError(t, err)
			assert.Len(t, rest, 5)

			parked, err := dlq.List(ctx, 10)
			require.NoError(t, err)
			require.Len(t, parked, 1)

			require.NoError(t, q.Enqueue(ctx, parked[0].Payload))
			require.NoError(t, dlq.Remove(ctx, parked[0].ID))

			retried, err := q.Dequeue(ctx, 1)
			require.NoError(t, err)
			require.Len(t, retried, 1)
			assert.JSONEq(t, `{"id":0}`, string(retried[0]))

			length, err := q.Length(ctx)
			require.NoError(t, err)
			assert.Zero(t, length)
		})
	}
}
