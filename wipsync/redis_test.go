package wipsync

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/billing-engine/billing"
)

func TestTaskCodec(t *testing.T) {
	task := billing.SyncTask{
		ID:           "abc",
		TimeRecordID: 42,
		Kind:         billing.SyncUpdated,
		EnqueuedAt:   time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC),
		Attempt:      2,
	}

	raw, err := encodeTask(task)
	require.NoError(t, err)
	assert.Contains(t, raw, `"time_record_id":42`)

	got, err := decodeTask(raw)
	require.NoError(t, err)
	assert.Equal(t, task, got)

	_, err = decodeTask(`{"id":"x"}`)
	require.Error(t, err)
	_, err = decodeTask(`not json`)
	require.Error(t, err)
}

// Runs against a real server when BILLING_TEST_REDIS_ADDR is set.
func TestRedisQueue_AckAndRecover(t *testing.T) {
	addr := os.Getenv("BILLING_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("BILLING_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	key := "billing:test:" + uuid.NewString()

	q, err := NewRedisQueue(ctx, RedisConfig{Addr: addr, QueueKey: key})
	require.NoError(t, err)
	t.Cleanup(func() {
		q.client.Del(ctx, q.key, q.processingKey)
		q.Close()
	})

	require.NoError(t, q.Enqueue(ctx, billing.SyncTask{ID: "a", TimeRecordID: 1, Kind: billing.SyncCreated}))
	require.NoError(t, q.Enqueue(ctx, billing.SyncTask{ID: "b", TimeRecordID: 2, Kind: billing.SyncCreated}))

	// Oldest first
	d, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", d.Task.ID)
	require.NoError(t, d.Ack(ctx))

	// An unacked delivery survives in the processing list
	d, err = q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", d.Task.ID)
	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	moved, err := q.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	d, err = q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", d.Task.ID)

	// Retry requeues with the attempt bumped
	require.NoError(t, d.Retry(ctx))
	d, err = q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Task.Attempt)
	require.NoError(t, d.Ack(ctx))
}
