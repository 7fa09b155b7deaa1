package runs

import (
	"context"
	"log/slog"
	"sync"
)

// Dispatcher submits a persisted PENDING run for asynchronous processing.
type Dispatcher interface {
	DispatchRun(ctx context.Context, runID int64) error
}

// Processor executes a dispatched run.
type Processor interface {
	Process(ctx context.Context, runID int64) error
}

// InlineDispatcher processes runs on in-process goroutines; used when no queue is configured.
type InlineDispatcher struct {
	processor Processor
	logger    *slog.Logger
	wg        sync.WaitGroup
}

// NewInlineDispatcher constructs the goroutine dispatcher.
func NewInlineDispatcher(processor Processor, logger *slog.Logger) *InlineDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &InlineDispatcher{processor: processor, logger: logger}
}

// DispatchRun starts processing detached from the caller's cancellation.
func (d *InlineDispatcher) DispatchRun(ctx context.Context, runID int64) error {
	ctx = context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.processor.Process(ctx, runID); err != nil {
			d.logger.Error("inline statement run failed", slog.Int64("run_id", runID), slog.Any("error", err))
		}
	}()
	return nil
}

// Wait blocks until every dispatched run returned.
func (d *InlineDispatcher) Wait() {
	d.wg.Wait()
}
