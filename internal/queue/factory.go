package queue

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Open builds the queue pair selected by config. A non-nil client is shared
// by both Redis backends; otherwise one is dialed when RedisAddr is set.
// The returned client is nil for the memory backend and is owned by the caller.
func Open(ctx context.Context, config *Config, client *redis.Client) (Queue, DeadLetterQueue, *redis.Client, error) {
	if config == nil {
		config = DefaultConfig("usage")
	}

	if client == nil && !config.UseRedis() {
		return NewMemoryQueue(config), NewMemoryDeadLetterQueue(), nil, nil
	}

	if client == nil {
		var err error
		client, err = Connect(ctx, config)
		if err != nil {
			return nil, nil, nil, err
		}
	}

	return NewRedisQueueWithClient(client, config), NewRedisDeadLetterQueueWithClient(client, config), client, nil
}
