package wipsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/warp/billing-engine/billing"
)

const (
	// DefaultQueueKey is the Redis list tasks are pushed to.
	DefaultQueueKey = "billing:wipsync"

	// blockTimeout bounds each BLMOVE so Receive notices cancellation.
	blockTimeout = 2 * time.Second
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	QueueKey string
}

// RedisQueue is a Queue on two Redis lists. Enqueue LPUSHes onto the queue
// list; Receive BLMOVEs the oldest task onto a processing list; Ack LREMs it
// from there.
type RedisQueue struct {
	client        *redis.Client
	key           string
	processingKey string
}

// NewRedisQueue connects to Redis and checks the connection.
func NewRedisQueue(ctx context.Context, cfg RedisConfig) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisQueueWithClient(client, cfg.QueueKey), nil
}

// NewRedisQueueWithClient wraps an existing client.
func NewRedisQueueWithClient(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = DefaultQueueKey
	}
	return &RedisQueue{
		client:        client,
		key:           key,
		processingKey: key + ":processing",
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, task billing.SyncTask) error {
	payload, err := encodeTask(task)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("failed to enqueue sync task: %w", err)
	}
	return nil
}

func (q *RedisQueue) Receive(ctx context.Context) (*Delivery, error) {
	for {
		raw, err := q.client.BLMove(ctx, q.key, q.processingKey, "RIGHT", "LEFT", blockTimeout).Result()
		switch {
		case errors.Is(err, redis.Nil):
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to receive sync task: %w", err)
		}

		task, err := decodeTask(raw)
		if err != nil {
			// Unreadable payloads are dropped from the processing list.
			q.client.LRem(ctx, q.processingKey, 1, raw)
			return nil, err
		}
		return &Delivery{
			Task: task,
			ack: func(ctx context.Context) error {
				return q.client.LRem(ctx, q.processingKey, 1, raw).Err()
			},
			retry: q.Enqueue,
		}, nil
	}
}

// Recover moves every task left in the processing list back onto the
// queue. Call it once at startup, before any worker runs.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.client.LMove(ctx, q.processingKey, q.key, "LEFT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("failed to recover sync tasks: %w", err)
		}
		moved++
	}
}

// Len reports the number of queued (not in-flight) tasks.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func encodeTask(task billing.SyncTask) (string, error) {
	b, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("failed to encode sync task: %w", err)
	}
	return string(b), nil
}

func decodeTask(raw string) (billing.SyncTask, error) {
	var task billing.SyncTask
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		return task, fmt.Errorf("failed to decode sync task: %w", err)
	}
	if task.TimeRecordID == 0 {
		return task, fmt.Errorf("failed to decode sync task: missing time_record_id")
	}
	return task, nil
}
