package crawler

import (
	"context"
	"fmt"
	"sync"

	"igcrawler/pkg/logger"
	"igcrawler/pkg/models"
)

// job is one work item handed to a worker.
type job struct {
	Identifier string
	Index      int
}

// processFunc handles one job. ok is false when the item was interrupted
// and must produce no result.
type processFunc func(ctx context.Context, j job) (result models.CrawlResult, ok bool)

// workerPool runs a fixed number of workers over one job channel. Its width
// is the only bound on in-flight remote calls.
type workerPool struct {
	numWorkers int
	jobQueue   chan job
	results    chan models.CrawlResult
	wg         sync.WaitGroup
	process    processFunc
	pause      func(ctx context.Context) error
	logger     logger.Logger
}

func newWorkerPool(numWorkers int, process processFunc, pause func(context.Context) error, log logger.Logger) *workerPool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &workerPool{
		numWorkers: numWorkers,
		jobQueue:   make(chan job, numWorkers*2),
		results:    make(chan models.CrawlResult, numWorkers),
		process:    process,
		pause:      pause,
		logger:     log,
	}
}

func (wp *workerPool) Start(ctx context.Context) {
	wp.logger.InfoWithFields("Starting worker pool", map[string]interface{}{
		"num_workers": wp.numWorkers,
	})
	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx, i)
	}
}

// Submit queues j, blocking while the queue is full.
func (wp *workerPool) Submit(ctx context.Context, j job) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("worker pool is shutting down: %w", ctx.Err())
	default:
	}
	select {
	case wp.jobQueue <- j:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker pool is shutting down: %w", ctx.Err())
	}
}

// Close stops intake, waits for the workers and closes the result channel.
func (wp *workerPool) Close() {
	close(wp.jobQueue)
	wp.wg.Wait()
	close(wp.results)
	wp.logger.Debug("Worker pool stopped")
}

func (wp *workerPool) Results() <-chan models.CrawlResult {
	return wp.results
}

func (wp *workerPool) worker(ctx context.Context, id int) {
	defer wp.wg.Done()

	first := true
	for j := range wp.jobQueue {
		if ctx.Err() != nil {
			// drain so Submit never blocks on a dead pool
			continue
		}
		if !first && wp.pause != nil {
			if err := wp.pause(ctx); err != nil {
				continue
			}
		}
		first = false

		result, ok := wp.process(ctx, j)
		if !ok {
			wp.logger.DebugWithFields("Worker dropped interrupted item", map[string]interface{}{
				"worker_id":  id,
				"identifier": j.Identifier,
			})
			continue
		}
		// results is drained by the collector until Close, so this never
		// blocks forever
		wp.results <- result
	}
}
