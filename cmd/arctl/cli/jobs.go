package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/arstatement/internal/platform/cache"
	"github.com/odyssey-erp/arstatement/jobs"
)

type queueClient interface {
	DispatchRun(ctx context.Context, runID int64) error
	EnqueueChecklistSweep(ctx context.Context) (*asynq.TaskInfo, error)
	Close() error
}

type queueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	Close() error
}

// JobsCLI wraps manual management helpers for the statement queues.
type JobsCLI struct {
	client    queueClient
	inspector queueInspector
}

// NewJobsCLI initialises the CLI helpers from REDIS_ADDR.
func NewJobsCLI(redisAddr string) (*JobsCLI, error) {
	opts, err := cache.QueueOptions(redisAddr)
	if err != nil {
		return nil, err
	}
	return &JobsCLI{client: jobs.NewClient(opts), inspector: asynq.NewInspector(opts)}, nil
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		err = errors.Join(err, c.inspector.Close())
	}
	if c.client != nil {
		err = errors.Join(err, c.client.Close())
	}
	return err
}

// QueueStats summarises one queue.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
}

// InspectQueues reports the statement and default queues.
func (c *JobsCLI) InspectQueues() ([]QueueStats, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	var out []QueueStats
	for _, name := range []string{jobs.QueueStatements, jobs.QueueDefault} {
		stats := QueueStats{Queue: name}
		info, err := c.inspector.GetQueueInfo(name)
		switch {
		case errors.Is(err, asynq.ErrQueueNotFound):
		case err != nil:
			return nil, fmt.Errorf("jobs cli: inspect %s: %w", name, err)
		default:
			stats.Pending = info.Pending
			stats.Active = info.Active
			stats.Scheduled = info.Scheduled
			stats.Retry = info.Retry
			stats.Archived = info.Archived
		}
		out = append(out, stats)
	}
	return out, nil
}

// OutputOptions selects the rendering and streams for a command.
type OutputOptions struct {
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

func (o *OutputOptions) defaults() {
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
}

// StatsCommand prints queue depth and returns the process exit code.
func (c *JobsCLI) StatsCommand(opts OutputOptions) int {
	opts.defaults()
	stats, err := c.InspectQueues()
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "jobs stats: %v\n", err)
		return 1
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(stats); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "jobs stats: encode json: %v\n", err)
			return 1
		}
		return 0
	}
	tw := tabwriter.NewWriter(opts.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "QUEUE\tPENDING\tACTIVE\tSCHEDULED\tRETRY\tARCHIVED")
	for _, s := range stats {
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n", s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived)
	}
	_ = tw.Flush()
	return 0
}

// DispatchCommand re-enqueues a PENDING run whose original dispatch was lost.
func (c *JobsCLI) DispatchCommand(ctx context.Context, runID int64, opts OutputOptions) int {
	opts.defaults()
	if runID <= 0 {
		_, _ = fmt.Fprintln(opts.Stderr, "runs dispatch: --run is required and must be positive")
		return 1
	}
	if err := c.client.DispatchRun(ctx, runID); err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "runs dispatch: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(opts.Stdout, "run %d dispatched\n", runID)
	return 0
}

// SweepCommand triggers the checklist sweep outside its schedule.
func (c *JobsCLI) SweepCommand(ctx context.Context, opts OutputOptions) int {
	opts.defaults()
	info, err := c.client.EnqueueChecklistSweep(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "jobs sweep: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(opts.Stdout, "checklist sweep enqueued as %s on %s\n", info.ID, info.Queue)
	return 0
}
