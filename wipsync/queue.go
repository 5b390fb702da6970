/*
Package wipsync drains WIP synchronization tasks off a queue.

PURPOSE:
  The billing engine commits a time record and hands a SyncTask to an
  Enqueuer. This package provides the queues that accept those tasks and
  the worker pool that feeds them to billing.Synchronizer.

KEY TYPES:
  - Queue:        Enqueue + Receive, at-least-once delivery
  - Delivery:     One received task with Ack / Retry
  - ChannelQueue: In-process buffered queue (single binary, dev, tests)
  - RedisQueue:   Redis list queue with a processing list for redelivery
  - Worker:       N goroutines pulling from a Queue
  - Reconciler:   Periodic repair of records whose sync never landed

DELIVERY:
  A task is removed from the queue only when its Delivery is acked. A
  crash between Receive and Ack leaves the task in the processing list
  and RedisQueue.Recover puts it back. Synchronizer.Sync is idempotent
  so redelivery is harmless.

SEE ALSO:
  - billing/sync.go: The synchronizer being driven
  - billing/engine.go: Enqueues after commit
*/
package wipsync

import (
	"context"
	"errors"

	"github.com/warp/billing-engine/billing"
)

var (
	// ErrQueueFull is returned by a bounded queue that cannot take more work.
	// The engine falls back to an inline sync when it sees any enqueue error.
	ErrQueueFull = errors.New("sync queue is full")

	// ErrQueueClosed is returned after Close.
	ErrQueueClosed = errors.New("sync queue is closed")
)

// Queue is an at-least-once task queue.
type Queue interface {
	billing.Enqueuer

	// Receive blocks until a task is available or ctx is done.
	Receive(ctx context.Context) (*Delivery, error)

	Close() error
}

// Delivery is one received task. Exactly one of Ack or Retry should be
// called once the task has been handled.
type Delivery struct {
	Task billing.SyncTask

	ack   func(ctx context.Context) error
	retry func(ctx context.Context, next billing.SyncTask) error
}

// Ack removes the task from the queue for good.
func (d *Delivery) Ack(ctx context.Context) error {
	if d.ack == nil {
		return nil
	}
	return d.ack(ctx)
}

// Retry requeues the task with its attempt counter bumped and acks this
// delivery.
func (d *Delivery) Retry(ctx context.Context) error {
	next := d.Task
	next.Attempt++
	if err := d.retry(ctx, next); err != nil {
		return err
	}
	return d.Ack(ctx)
}
