package wipsync_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/billing/store"
	"github.com/warp/billing-engine/factory"
	"github.com/warp/billing-engine/wipsync"
)

func loadFirm(t *testing.T, s *store.Memory) *factory.Firm {
	t.Helper()
	f := factory.NewFirmFactory()
	def, err := f.ParseFirm(factory.SmallFirmJSON)
	require.NoError(t, err)
	firm, err := f.Load(context.Background(), s, def)
	require.NoError(t, err)
	return firm
}

func startWorker(t *testing.T, q wipsync.Queue, syncer wipsync.Syncer, cfg wipsync.WorkerConfig) {
	t.Helper()
	w := wipsync.NewWorker(q, syncer, cfg, nil)
	w.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, w.Stop(ctx))
	})
}

func TestWorker_DrainsEngineTasks(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	firm := loadFirm(t, s)

	q := wipsync.NewChannelQueue(16)
	engine := billing.NewEngine(s, billing.WithEnqueuer(q))
	startWorker(t, q, engine.Synchronizer(), wipsync.WorkerConfig{Workers: 3})

	actor, err := engine.ResolveActor(ctx, "sam", false)
	require.NoError(t, err)

	var ids []billing.TimeRecordID
	for i := 0; i < 5; i++ {
		tr, err := engine.RecordTime(ctx, actor, billing.TimeInput{MatterID: firm.Matters["m3"].ID, Hours: "0.5"})
		require.NoError(t, err)
		ids = append(ids, tr.ID)
	}

	require.Eventually(t, func() bool {
		wip, err := s.ListWIP(ctx, billing.WIPFilter{})
		return err == nil && len(wip) == len(ids)
	}, 2*time.Second, 10*time.Millisecond)

	for _, id := range ids {
		w, err := s.GetWIPByTimeRecord(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, billing.WIPUnbilled, w.Status)
		assert.Equal(t, "0.5", w.Hours.String())
	}
}

func TestWorker_DuplicateDeliveryCreatesOneEntry(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	firm := loadFirm(t, s)

	// GIVEN: a time record whose task is captured, not run
	q := wipsync.NewChannelQueue(16)
	engine := billing.NewEngine(s, billing.WithEnqueuer(q))
	actor, err := engine.ResolveActor(ctx, "pat", false)
	require.NoError(t, err)
	tr, err := engine.RecordTime(ctx, actor, billing.TimeInput{MatterID: firm.Matters["m1"].ID, Hours: "1.0"})
	require.NoError(t, err)
	require.Equal(t, 1, q.Len())

	d, err := q.Receive(ctx)
	require.NoError(t, err)

	// WHEN: the same task is delivered four times concurrently
	for i := 0; i < 4; i++ {
		require.NoError(t, q.Enqueue(ctx, d.Task))
	}
	startWorker(t, q, engine.Synchronizer(), wipsync.WorkerConfig{Workers: 4})

	// THEN: exactly one WIP entry
	require.Eventually(t, func() bool { return q.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		_, err := s.GetWIPByTimeRecord(ctx, tr.ID)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	wip, err := s.ListWIP(ctx, billing.WIPFilter{})
	require.NoError(t, err)
	assert.Len(t, wip, 1)
}

// flakySyncer fails with a retryable error until failures runs out.
type flakySyncer struct {
	mu       sync.Mutex
	failures int
	err      error
	calls    []int
}

func (f *flakySyncer) Sync(_ context.Context, task billing.SyncTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, task.Attempt)
	if f.failures != 0 {
		f.failures--
		return f.err
	}
	return nil
}

func (f *flakySyncer) attempts() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.calls...)
}

func TestWorker_RetriesTransientFailures(t *testing.T) {
	q := wipsync.NewChannelQueue(4)
	syncer := &flakySyncer{failures: 2, err: billing.ErrTransient}
	startWorker(t, q, syncer, wipsync.WorkerConfig{Workers: 1, MaxAttempts: 5})

	require.NoError(t, q.Enqueue(context.Background(), billing.SyncTask{ID: "t1", TimeRecordID: 1}))

	require.Eventually(t, func() bool { return len(syncer.attempts()) == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []int{0, 1, 2}, syncer.attempts())
}

func TestWorker_GivesUpAfterMaxAttempts(t *testing.T) {
	q := wipsync.NewChannelQueue(4)
	syncer := &flakySyncer{failures: -1, err: errors.New("database is locked")}
	startWorker(t, q, syncer, wipsync.WorkerConfig{Workers: 1, MaxAttempts: 3})

	require.NoError(t, q.Enqueue(context.Background(), billing.SyncTask{ID: "t1", TimeRecordID: 1}))

	require.Eventually(t, func() bool { return len(syncer.attempts()) == 3 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, syncer.attempts(), 3)
	assert.Zero(t, q.Len())
}

func TestWorker_DropsNotFound(t *testing.T) {
	q := wipsync.NewChannelQueue(4)
	syncer := &flakySyncer{failures: -1, err: billing.ErrNotFound}
	startWorker(t, q, syncer, wipsync.WorkerConfig{Workers: 1, MaxAttempts: 5})

	require.NoError(t, q.Enqueue(context.Background(), billing.SyncTask{ID: "t1", TimeRecordID: 404}))

	require.Eventually(t, func() bool { return len(syncer.attempts()) == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, syncer.attempts(), 1)
}

func TestChannelQueue_FullAndClosed(t *testing.T) {
	ctx := context.Background()
	q := wipsync.NewChannelQueue(1)

	require.NoError(t, q.Enqueue(ctx, billing.SyncTask{TimeRecordID: 1}))
	require.ErrorIs(t, q.Enqueue(ctx, billing.SyncTask{TimeRecordID: 2}), wipsync.ErrQueueFull)

	require.NoError(t, q.Close())
	require.ErrorIs(t, q.Enqueue(ctx, billing.SyncTask{TimeRecordID: 3}), wipsync.ErrQueueClosed)

	// Buffered work still drains after close
	d, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, billing.TimeRecordID(1), d.Task.TimeRecordID)
	_, err = q.Receive(ctx)
	require.ErrorIs(t, err, wipsync.ErrQueueClosed)
}

func TestChannelQueue_FullFallsBackInline(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	firm := loadFirm(t, s)

	q := wipsync.NewChannelQueue(1)
	require.NoError(t, q.Enqueue(ctx, billing.SyncTask{TimeRecordID: 999}))
	engine := billing.NewEngine(s, billing.WithEnqueuer(q))
	actor, err := engine.ResolveActor(ctx, "pat", false)
	require.NoError(t, err)

	tr, err := engine.RecordTime(ctx, actor, billing.TimeInput{MatterID: firm.Matters["m1"].ID, Hours: "1.0"})
	require.NoError(t, err)

	_, err = s.GetWIPByTimeRecord(ctx, tr.ID)
	require.NoError(t, err)
}
