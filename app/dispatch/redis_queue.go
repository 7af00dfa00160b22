package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue is a list-backed queue shared by every replica: LPUSH to enqueue, BRPOP to dequeue
type RedisQueue struct {
	rc  *redis.Client
	key string
}

// NewRedisQueue creates a queue on the list prefix+key
func NewRedisQueue(rc *redis.Client, prefix, key string) *RedisQueue {
	return &RedisQueue{rc: rc, key: prefix + key}
}

// Key returns the redis list name
func (q *RedisQueue) Key() string {
	return q.key
}

func (q *RedisQueue) Enqueue(ctx context.Context, task Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to encode dispatch task: %w", err)
	}
	if err := q.rc.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("failed to enqueue dispatch task: %w", err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Task, error) {
	res, err := q.rc.BRPop(ctx, timeout, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to dequeue dispatch task: %w", err)
	}
	// BRPOP answers [key, value]
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP reply of %d elements", len(res))
	}

	var task Task
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		return nil, fmt.Errorf("failed to decode dispatch task: %w", err)
	}
	return &task, nil
}
