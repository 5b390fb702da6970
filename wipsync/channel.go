package wipsync

import (
	"context"
	"sync"

	"github.com/warp/billing-engine/billing"
)

// DefaultBuffer is the ChannelQueue capacity when none is given.
const DefaultBuffer = 256

// ChannelQueue is a bounded in-process Queue. Enqueue never blocks: a full
// buffer returns ErrQueueFull. Tasks do not survive a restart.
type ChannelQueue struct {
	tasks chan billing.SyncTask

	mu     sync.RWMutex
	closed bool
}

// NewChannelQueue creates a queue holding up to buffer tasks.
func NewChannelQueue(buffer int) *ChannelQueue {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &ChannelQueue{tasks: make(chan billing.SyncTask, buffer)}
}

func (q *ChannelQueue) Enqueue(_ context.Context, task billing.SyncTask) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *ChannelQueue) Receive(ctx context.Context) (*Delivery, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case task, ok := <-q.tasks:
		if !ok {
			return nil, ErrQueueClosed
		}
		return &Delivery{Task: task, retry: q.Enqueue}, nil
	}
}

// Len reports the number of queued tasks.
func (q *ChannelQueue) Len() int { return len(q.tasks) }

func (q *ChannelQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
	return nil
}
