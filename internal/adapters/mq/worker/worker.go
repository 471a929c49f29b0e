// Package worker drains the persistence queue into storage.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/okian/racefeed/internal/adapters/mq/queue"
	"github.com/okian/racefeed/internal/domain/failure"
	"github.com/okian/racefeed/internal/domain/model"
	"github.com/okian/racefeed/pkg/logger"
	"github.com/okian/racefeed/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerCount  = 2
	poolShutdownTimeout = 30 * time.Second
)

// Writer stores one record.
type Writer interface {
	StoreRead(ctx context.Context, rec model.TimingRecord, matched bool) error
}

// Queue defines how workers receive jobs.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Job
}

// Worker processes jobs until its queue is drained.
type Worker interface {
	// Run starts the worker loop until the queue closes or ctx is canceled.
	Run(ctx context.Context)

	// Shutdown waits for the worker to finish.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker for storing records.
type InMemoryWorker struct {
	queue  Queue
	writer Writer
	name   string

	done   chan struct{}
	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, writer Writer, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:  q,
		writer: writer,
		name:   "worker",
		done:   make(chan struct{}),
		logger: logger.NewNop(),
	}

	for _, opt := range opts {
		opt(w)
	}

	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}

	return w
}

// Run starts the worker loop. Jobs still queued when the queue closes are
// written before Run returns.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	jobs := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-jobs:
			if !ok {
				return
			}
			if err := w.process(ctx, j); err != nil {
				w.logger.Error(ctx, "error storing record", logger.Error(err))
			}
		}
	}
}

// Shutdown waits for the worker to drain or for ctx to expire.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *InMemoryWorker) process(ctx context.Context, j queue.Job) error { //nolint:gocritic // hugeParam: Job is passed by value for channel semantics
	start := time.Now()
	if err := w.writer.StoreRead(ctx, j.Record, j.Matched); err != nil {
		metrics.RecordPersistenceError("store")
		metrics.RecordErrorByComponent("worker", string(failure.PersistenceFailure))
		return fmt.Errorf("store sequence %s at %s: %w", j.Record.Sequence, j.Record.Location, err)
	}
	metrics.RecordReadStored(float64(time.Since(start).Milliseconds()))
	return nil
}

// Pool manages multiple workers.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue

	startOnce sync.Once
	logger    logger.Logger
}

// NewPool creates a new worker pool.
func NewPool(workerCount int, q Queue, writer Writer, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = defaultWorkerCount
	}

	pool := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		logger:  logger.NewNop(),
	}

	for i := range workerCount {
		wopts := append([]Option{WithName("writer-" + strconv.Itoa(i))}, opts...)
		pool.workers[i] = NewInMemoryWorker(q, writer, wopts...)
	}
	probe := &InMemoryWorker{logger: pool.logger}
	for _, opt := range opts {
		opt(probe)
	}
	pool.logger = probe.logger.Named("writer-pool")

	metrics.UpdatePersistWorkers(workerCount)
	return pool
}

// Start starts all workers in the pool. Later calls are no-ops.
func (p *Pool) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		for _, w := range p.workers {
			go w.Run(ctx)
		}
	})
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Shutdown closes the queue and waits for the workers to drain it.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var firstErr error
	for i, w := range p.workers {
		if err := w.Shutdown(shutdownCtx); err != nil {
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	metrics.UpdatePersistWorkers(0)
	return firstErr
}
