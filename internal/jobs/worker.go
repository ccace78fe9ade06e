package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/cloo-solutions/chimera/internal/domain"
	"github.com/cloo-solutions/chimera/internal/metrics"
	"go.uber.org/zap"
)

// errorBackoff is the pause after a failed pop before trying again
const errorBackoff = time.Second

// JobSource yields queued jobs. A nil job with a nil error means nothing was ready.
type JobSource interface {
	Dequeue(ctx context.Context) (*domain.SyncJob, error)
}

// JobProcessor runs one job to completion
type JobProcessor interface {
	Process(ctx context.Context, job *domain.SyncJob) error
}

// Worker is a pool of consumers, each taking one job at a time from the queue
type Worker struct {
	source      JobSource
	processor   JobProcessor
	concurrency int
	logger      *zap.Logger
	metrics     *metrics.Collector
	stopChan    chan struct{}
	doneChan    chan struct{}
	stopOnce    sync.Once
}

func NewWorker(source JobSource, processor JobProcessor, concurrency int, logger *zap.Logger, m *metrics.Collector) *Worker {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		source:      source,
		processor:   processor,
		concurrency: concurrency,
		logger:      logger.With(zap.String("component", "worker")),
		metrics:     m,
		stopChan:    make(chan struct{}),
		doneChan:    make(chan struct{}),
	}
}

// Start runs the consumers until ctx is cancelled or Stop is called. A job
// already running when Stop is called finishes first; cancelling ctx aborts it.
func (w *Worker) Start(ctx context.Context) {
	defer close(w.doneChan)

	popCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stopChan:
			cancel()
		case <-popCtx.Done():
		}
	}()

	w.logger.Info("worker started", zap.Int("concurrency", w.concurrency))

	var wg sync.WaitGroup
	for i := range w.concurrency {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.consume(ctx, popCtx, id)
		}(i)
	}
	wg.Wait()

	if ctx.Err() != nil {
		w.logger.Info("worker stopped: context cancelled")
		return
	}
	w.logger.Info("worker stopped: stop signal received")
}

func (w *Worker) consume(ctx, popCtx context.Context, id int) {
	log := w.logger.With(zap.Int("consumer", id))
	for {
		if popCtx.Err() != nil {
			return
		}
		job, err := w.source.Dequeue(popCtx)
		if err != nil {
			if popCtx.Err() != nil {
				return
			}
			log.Error("failed to dequeue job", zap.Error(err))
			select {
			case <-time.After(errorBackoff):
			case <-popCtx.Done():
				return
			}
			continue
		}
		if job == nil {
			continue
		}
		w.metrics.JobDequeued()

		log.Info("processing job",
			zap.String("kb_id", string(job.KBID)),
			zap.String("source_id", string(job.SourceID)),
			zap.String("type", job.Type),
			zap.String("run_id", job.RunID))
		if err := w.processor.Process(ctx, job); err != nil {
			log.Error("job failed", zap.String("run_id", job.RunID), zap.Error(err))
		}
	}
}

// Stop asks the consumers to finish their current job and waits for them
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
	<-w.doneChan
	w.logger.Info("worker shutdown complete")
}
