package billing_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/billing-engine/billing"
)

// recordingQueue captures tasks instead of running them.
type recordingQueue struct {
	mu    sync.Mutex
	tasks []billing.SyncTask
	err   error
}

func (q *recordingQueue) Enqueue(_ context.Context, task billing.SyncTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, task)
	return nil
}

func TestSync_DeferredUntilDrained(t *testing.T) {
	q := &recordingQueue{}
	f := newFixture(t, billing.WithEnqueuer(q))

	tr, err := f.engine.RecordTime(f.ctx, f.solicitor, billing.TimeInput{MatterID: f.m1.ID, Hours: "1.0"})
	require.NoError(t, err)

	// Nothing yet: the task is queued
	_, err = f.store.GetWIPByTimeRecord(f.ctx, tr.ID)
	require.ErrorIs(t, err, billing.ErrNotFound)
	require.Len(t, q.tasks, 1)
	assert.Equal(t, billing.SyncCreated, q.tasks[0].Kind)
	assert.NotEmpty(t, q.tasks[0].ID)

	// Drain it
	require.NoError(t, f.engine.Synchronizer().Sync(f.ctx, q.tasks[0]))
	w, err := f.store.GetWIPByTimeRecord(f.ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.WIPUnbilled, w.Status)
}

func TestSync_EnqueueFailureFallsBackInline(t *testing.T) {
	q := &recordingQueue{err: errors.New("broker down")}
	f := newFixture(t, billing.WithEnqueuer(q))

	tr, err := f.engine.RecordTime(f.ctx, f.solicitor, billing.TimeInput{MatterID: f.m1.ID, Hours: "1.0"})
	require.NoError(t, err)

	_, err = f.store.GetWIPByTimeRecord(f.ctx, tr.ID)
	require.NoError(t, err)
}

func TestSync_IdempotentRedelivery(t *testing.T) {
	q := &recordingQueue{}
	f := newFixture(t, billing.WithEnqueuer(q))

	tr, err := f.engine.RecordTime(f.ctx, f.solicitor, billing.TimeInput{MatterID: f.m1.ID, Hours: "1.0"})
	require.NoError(t, err)
	task := q.tasks[0]

	// WHEN: the same task is delivered three times
	for i := 0; i < 3; i++ {
		require.NoError(t, f.engine.Synchronizer().Sync(f.ctx, task))
	}

	// THEN: one WIP entry
	wip, err := f.store.ListWIP(f.ctx, billing.WIPFilter{})
	require.NoError(t, err)
	require.Len(t, wip, 1)
	assert.Equal(t, tr.ID, wip[0].TimeRecordID())
}

func TestSync_UpdateBeforeCreateStillCreates(t *testing.T) {
	q := &recordingQueue{}
	f := newFixture(t, billing.WithEnqueuer(q))

	tr, err := f.engine.RecordTime(f.ctx, f.solicitor, billing.TimeInput{MatterID: f.m1.ID, Hours: "1.0"})
	require.NoError(t, err)
	hours := "2.0"
	_, err = f.engine.UpdateTimeRecord(f.ctx, f.solicitor, tr.ID, billing.TimePatch{Hours: &hours})
	require.NoError(t, err)
	require.Len(t, q.tasks, 2)

	// Deliver out of order
	require.NoError(t, f.engine.Synchronizer().Sync(f.ctx, q.tasks[1]))
	require.NoError(t, f.engine.Synchronizer().Sync(f.ctx, q.tasks[0]))

	w, err := f.store.GetWIPByTimeRecord(f.ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, "2.0", w.Hours.String())
}

func TestSync_MissingTimeRecord(t *testing.T) {
	f := newFixture(t)
	err := f.engine.Synchronizer().Sync(f.ctx, billing.SyncTask{TimeRecordID: 404, Kind: billing.SyncCreated})
	require.ErrorIs(t, err, billing.ErrNotFound)
}

func TestWork_Diff(t *testing.T) {
	f := newFixture(t)
	w := f.record(t, f.solicitor, f.m1, "1.0", "Drafting", "Letter")

	next := w.Work
	next.Narrative = "Letter to counsel"
	next.MatterID = f.m3.ID
	assert.Equal(t, []string{billing.FieldMatter, billing.FieldNarrative}, w.Work.Diff(next))
	assert.Empty(t, w.Work.Diff(w.Work))
}
