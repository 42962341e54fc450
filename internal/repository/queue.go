package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	WebhookQueueKey      = "webhook:queue"
	WebhookProcessingKey = "webhook:processing"
)

// EventQueue is a FIFO of serialized webhook payloads stored in a Redis list.
//
// Dequeue removes an item outright. Claim instead parks the item on a
// processing list until Ack or Requeue, so Recover can return items whose
// consumer died between claim and ack.
type EventQueue struct {
	redisClient   redis.Cmdable
	queueKey      string
	processingKey string
}

func NewEventQueue(rdb redis.Cmdable) *EventQueue {
	return &EventQueue{
		redisClient:   rdb,
		queueKey:      WebhookQueueKey,
		processingKey: WebhookProcessingKey,
	}
}

func (q *EventQueue) Enqueue(ctx context.Context, payload []byte) error {
	if err := q.redisClient.RPush(ctx, q.queueKey, payload).Err(); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	return nil
}

// Dequeue pops the oldest payload. ok is false when the queue is empty.
func (q *EventQueue) Dequeue(ctx context.Context) (payload []byte, ok bool, err error) {
	data, err := q.redisClient.LPop(ctx, q.queueKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("dequeue: %w", err)
	}
	return data, true, nil
}

func (q *EventQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.redisClient.LLen(ctx, q.queueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	return n, nil
}

// Claim atomically moves the oldest payload onto the processing list.
func (q *EventQueue) Claim(ctx context.Context) (payload []byte, ok bool, err error) {
	data, err := q.redisClient.LMove(ctx, q.queueKey, q.processingKey, "LEFT", "RIGHT").Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("claim: %w", err)
	}
	return data, true, nil
}

// Ack drops a claimed payload once it reached a terminal outcome.
func (q *EventQueue) Ack(ctx context.Context, payload []byte) error {
	if err := q.redisClient.LRem(ctx, q.processingKey, 1, payload).Err(); err != nil {
		return fmt.Errorf("ack: %w", err)
	}
	return nil
}

// Requeue puts a claimed payload back at the tail of the queue.
func (q *EventQueue) Requeue(ctx context.Context, payload []byte) error {
	_, err := q.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, q.queueKey, payload)
		pipe.LRem(ctx, q.processingKey, 1, payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("requeue: %w", err)
	}
	return nil
}

// Recover returns every orphaned claim to the head of the queue, oldest first,
// and reports how many were moved. Only one consumer may call it at a time.
func (q *EventQueue) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.redisClient.LMove(ctx, q.processingKey, q.queueKey, "RIGHT", "LEFT").Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("recover claims: %w", err)
		}
		moved++
	}
}
