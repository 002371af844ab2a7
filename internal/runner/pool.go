// -----------------------------------------------------------------------
// Job Runner - worker pool executing batches under the progress contract
// -----------------------------------------------------------------------

package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/progresswatch/internal/common"
	"github.com/ternarybob/progresswatch/internal/interfaces"
	"github.com/ternarybob/progresswatch/internal/models"
)

const queueCapacity = 64

var (
	ErrRunnerStopped = errors.New("runner is stopped")
	ErrQueueFull     = errors.New("runner queue is full")
)

type batch struct {
	sessionID string
	labels    []string
}

// Runner is the sole writer of progress records. Each batch is processed
// sequentially by one worker; workers run batches in parallel.
type Runner struct {
	progress   interfaces.ProgressService
	processor  ItemProcessor
	logger     arbor.ILogger
	numWorkers int
	maxItems   int
	batches    chan batch
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc

	mu      sync.RWMutex
	stopped bool
}

func NewRunner(progress interfaces.ProgressService, processor ItemProcessor, config *common.RunnerConfig, logger arbor.ILogger) *Runner {
	ctx, cancel := context.WithCancel(context.Background())

	numWorkers, maxItems := 1, 500
	if config != nil {
		if config.Concurrency > 0 {
			numWorkers = config.Concurrency
		}
		if config.MaxItems > 0 {
			maxItems = config.MaxItems
		}
	}

	return &Runner{
		progress:   progress,
		processor:  processor,
		logger:     logger,
		numWorkers: numWorkers,
		maxItems:   maxItems,
		batches:    make(chan batch, queueCapacity),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start starts the worker pool
func (r *Runner) Start() {
	r.logger.Info().
		Int("num_workers", r.numWorkers).
		Msg("Starting job runner")

	for i := 0; i < r.numWorkers; i++ {
		r.wg.Add(1)
		common.SafeGo(r.logger, fmt.Sprintf("runner-worker-%d", i), func() {
			r.worker(i)
		})
	}
}

// Stop cancels running batches, fails queued ones and waits for the workers
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	r.logger.Info().Msg("Stopping job runner...")
	r.cancel()
	r.wg.Wait()

	for {
		select {
		case b := <-r.batches:
			r.fail(b.sessionID, "runner stopped before the batch started")
		default:
			r.logger.Info().Msg("Job runner stopped")
			return
		}
	}
}

// Submit declares a batch and queues it. The record exists, with its full
// item manifest, before Submit returns.
func (r *Runner) Submit(ctx context.Context, labels []string) (string, error) {
	if len(labels) == 0 {
		return "", fmt.Errorf("batch has no items")
	}
	if len(labels) > r.maxItems {
		return "", fmt.Errorf("batch has %d items, limit is %d", len(labels), r.maxItems)
	}

	// held for reading so Stop cannot drain between the check and the send
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.stopped {
		return "", ErrRunnerStopped
	}

	b := batch{
		sessionID: common.NewSessionID(),
		labels:    append([]string(nil), labels...),
	}

	record := &models.ProgressRecord{
		SessionID:        b.sessionID,
		Status:           models.ProgressStatusProcessing,
		TotalItems:       len(b.labels),
		CurrentItemLabel: b.labels[0],
		ItemManifest:     b.labels,
		Message:          fmt.Sprintf("Queued %d items", len(b.labels)),
	}
	if err := r.progress.Update(ctx, record); err != nil {
		return "", fmt.Errorf("failed to declare batch: %w", err)
	}

	select {
	case r.batches <- b:
	default:
		r.fail(b.sessionID, ErrQueueFull.Error())
		return "", ErrQueueFull
	}

	r.logger.Info().
		Str("session_id", b.sessionID).
		Int("total_items", len(b.labels)).
		Msg("Batch queued")

	return b.sessionID, nil
}

// worker is the main worker loop
func (r *Runner) worker(workerID int) {
	defer r.wg.Done()

	r.logger.Debug().
		Int("worker_id", workerID).
		Msg("Worker started")

	for {
		select {
		case <-r.ctx.Done():
			r.logger.Debug().
				Int("worker_id", workerID).
				Msg("Worker stopping")
			return
		case b := <-r.batches:
			r.runBatch(r.ctx, b)
		}
	}
}

// runBatch processes every item in order. An item failure is reported as
// skipped and the batch continues; cancellation fails the whole batch.
func (r *Runner) runBatch(ctx context.Context, b batch) {
	logger := r.logger.WithCorrelationId(b.sessionID)
	logger.Info().Int("total_items", len(b.labels)).Msg("Batch started")

	record := &models.ProgressRecord{
		SessionID:    b.sessionID,
		Status:       models.ProgressStatusProcessing,
		TotalItems:   len(b.labels),
		ItemManifest: b.labels,
	}
	write := func(status models.ProgressStatus, progress int, message string) {
		record.Status = status
		record.Progress = progress
		record.Message = message
		if err := r.progress.Update(ctx, record); err != nil {
			logger.Warn().Err(err).Msg("Failed to report progress")
		}
	}

	skipped := 0
	for _, label := range b.labels {
		if ctx.Err() != nil {
			r.fail(b.sessionID, fmt.Sprintf("batch cancelled: %v", ctx.Err()))
			return
		}

		record.CurrentItemLabel = label
		write(models.ProgressStatusProcessing, 0, "Processing "+label)

		err := r.processor.Process(ctx, label, func(status models.ProgressStatus, progress int, message string) {
			if status.IsTerminal() || status.IsControl() {
				status = models.ProgressStatusProcessing
			}
			write(status, clamp(progress), message)
		})

		if err != nil && ctx.Err() != nil {
			r.fail(b.sessionID, fmt.Sprintf("batch cancelled: %v", ctx.Err()))
			return
		}

		record.ProcessedItems++
		if err != nil {
			skipped++
			logger.Warn().Err(err).Str("label", label).Msg("Item skipped")
			write(models.ProgressStatusProcessing, 100, fmt.Sprintf("Skipped %s: %v", label, err))
			continue
		}
		write(models.ProgressStatusProcessing, 100, "Completed "+label)
	}

	if err := r.progress.MarkComplete(context.WithoutCancel(ctx), b.sessionID); err != nil {
		logger.Error().Err(err).Msg("Failed to mark batch complete")
		return
	}

	logger.Info().
		Int("total_items", len(b.labels)).
		Int("skipped", skipped).
		Msg("Batch completed")
}

func (r *Runner) fail(sessionID string, message string) {
	if err := r.progress.MarkError(context.Background(), sessionID, message); err != nil {
		r.logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to mark batch failed")
		return
	}
	r.logger.Warn().Str("session_id", sessionID).Str("error", message).Msg("Batch failed")
}

func clamp(progress int) int {
	if progress < 0 {
		return 0
	}
	if progress > 100 {
		return 100
	}
	return progress
}
