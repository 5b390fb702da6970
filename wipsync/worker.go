package wipsync

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/warp/billing-engine/billing"
)

// Syncer is what a Worker drives. *billing.Synchronizer implements it.
type Syncer interface {
	Sync(ctx context.Context, task billing.SyncTask) error
}

// WorkerConfig holds worker pool settings.
type WorkerConfig struct {
	Workers      int
	MaxAttempts  int
	ReceiveDelay time.Duration // pause after a failed Receive
}

// DefaultWorkerConfig returns default configuration.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Workers:      2,
		MaxAttempts:  5,
		ReceiveDelay: time.Second,
	}
}

// Worker pulls tasks off a Queue and syncs them. Failed tasks are retried
// until MaxAttempts; client errors (unknown time record, bad data) are
// dropped on the first failure.
type Worker struct {
	queue  Queue
	syncer Syncer
	config WorkerConfig
	logger *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
}

// NewWorker creates a worker pool. Zero config fields take defaults.
func NewWorker(queue Queue, syncer Syncer, config WorkerConfig, logger *zap.Logger) *Worker {
	def := DefaultWorkerConfig()
	if config.Workers <= 0 {
		config.Workers = def.Workers
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.ReceiveDelay <= 0 {
		config.ReceiveDelay = def.ReceiveDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{queue: queue, syncer: syncer, config: config, logger: logger}
}

// Run blocks until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.config.Workers; i++ {
		id := i
		g.Go(func() error {
			return w.loop(ctx, id)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Start runs the pool in the background.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	go func() {
		defer close(w.done)
		if err := w.Run(ctx); err != nil {
			w.logger.Error("sync worker stopped", zap.Error(err))
		}
	}()

	w.logger.Info("sync worker started",
		zap.Int("workers", w.config.Workers),
		zap.Int("max_attempts", w.config.MaxAttempts),
	)
}

// Stop cancels the pool and waits for in-flight tasks, or for ctx.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel = nil
	w.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		w.logger.Info("sync worker stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop(ctx context.Context, id int) error {
	log := w.logger.With(zap.Int("worker", id))
	for {
		d, err := w.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrQueueClosed) {
				return nil
			}
			log.Error("failed to receive sync task", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.config.ReceiveDelay):
			}
			continue
		}
		w.handle(ctx, log, d)
	}
}

func (w *Worker) handle(ctx context.Context, log *zap.Logger, d *Delivery) {
	task := d.Task
	log = log.With(
		zap.String("task_id", task.ID),
		zap.Int64("time_record_id", int64(task.TimeRecordID)),
		zap.Int("attempt", task.Attempt),
	)

	err := w.syncer.Sync(ctx, task)
	switch {
	case err == nil:
		log.Debug("sync task processed")
	case billing.IsClientError(err) || billing.IsNotFound(err):
		log.Error("dropping sync task", zap.Error(err))
	case task.Attempt+1 >= w.config.MaxAttempts:
		log.Error("sync task exhausted retries", zap.Error(err))
	default:
		log.Warn("sync task failed, retrying", zap.Error(err))
		if rerr := d.Retry(ctx); rerr != nil {
			log.Error("failed to requeue sync task", zap.Error(rerr))
		}
		return
	}

	if aerr := d.Ack(ctx); aerr != nil {
		log.Error("failed to ack sync task", zap.Error(aerr))
	}
}
