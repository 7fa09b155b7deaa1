package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/arstatement/internal/jobs"
	"github.com/odyssey-erp/arstatement/internal/runs"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubProcessor struct {
	calls []int64
	err   error
}

func (p *stubProcessor) Process(_ context.Context, runID int64) error {
	p.calls = append(p.calls, runID)
	return p.err
}

func TestStatementRunJobProcessesPayload(t *testing.T) {
	proc := &stubProcessor{}
	job := NewStatementRunJob(proc, discardLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()))
	task, err := NewStatementRunTask(12)
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, []int64{12}, proc.calls)
}

func TestStatementRunJobSkipsRetryForBusinessOutcomes(t *testing.T) {
	task, err := NewStatementRunTask(12)
	require.NoError(t, err)

	cases := map[string]struct {
		err       error
		skipRetry bool
	}{
		"terminal":  {err: fmt.Errorf("%w: complete run 12: boom", runs.ErrRunTerminal), skipRetry: true},
		"not found": {err: runs.ErrRunNotFound, skipRetry: true},
		"transient": {err: errors.New("connection reset"), skipRetry: false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			job := NewStatementRunJob(&stubProcessor{err: tc.err}, discardLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()))
			err := job.Handle(context.Background(), task)
			require.Error(t, err)
			require.Equal(t, tc.skipRetry, errors.Is(err, asynq.SkipRetry))
		})
	}
}

func TestStatementRunJobRejectsMalformedPayload(t *testing.T) {
	proc := &stubProcessor{}
	job := NewStatementRunJob(proc, discardLogger(), nil)

	err := job.Handle(context.Background(), asynq.NewTask(TaskStatementRun, []byte(`{"run_id":0}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
	err = job.Handle(context.Background(), asynq.NewTask(TaskStatementRun, []byte(`not json`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Empty(t, proc.calls)
}

func TestNewStatementRunTaskTargetsStatementsQueue(t *testing.T) {
	_, err := NewStatementRunTask(0)
	require.Error(t, err)

	task, err := NewStatementRunTask(5)
	require.NoError(t, err)
	require.Equal(t, TaskStatementRun, task.Type())
	var payload StatementRunPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, int64(5), payload.RunID)
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func (f *fakeEnqueuer) Close() error { return nil }

func TestClientDispatchRun(t *testing.T) {
	var _ runs.Dispatcher = (*Client)(nil)

	fake := &fakeEnqueuer{}
	c := &Client{client: fake}
	require.NoError(t, c.DispatchRun(context.Background(), 9))
	require.Len(t, fake.tasks, 1)
	require.Equal(t, TaskStatementRun, fake.tasks[0].Type())

	fake.err = asynq.ErrTaskIDConflict
	require.NoError(t, c.DispatchRun(context.Background(), 9))

	fake.err = errors.New("redis down")
	require.Error(t, c.DispatchRun(context.Background(), 9))
	require.Equal(t, "statement-run-9", statementRunTaskID(9))
}

type stubSweeper struct {
	visited int
	err     error
}

func (s stubSweeper) SweepAutoChecks(context.Context) (int, error) {
	return s.visited, s.err
}

func TestChecklistSweepJob(t *testing.T) {
	task, err := NewChecklistSweepTask()
	require.NoError(t, err)

	job := NewChecklistSweepJob(stubSweeper{visited: 3}, discardLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()))
	job.WithClock(func() time.Time { return time.Date(2024, 4, 3, 2, 0, 0, 0, time.UTC) })
	require.NoError(t, job.Handle(context.Background(), task))

	job = NewChecklistSweepJob(stubSweeper{err: context.DeadlineExceeded}, discardLogger(), nil)
	require.ErrorIs(t, job.Handle(context.Background(), task), context.DeadlineExceeded)

	require.Error(t, (&ChecklistSweepJob{}).Handle(context.Background(), task))
}

type stubInspector struct {
	infos map[string]*asynq.QueueInfo
	err   error
}

func (s stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	info, ok := s.infos[queue]
	if !ok {
		return nil, fmt.Errorf("%w: %s", asynq.ErrQueueNotFound, queue)
	}
	return info, nil
}

func TestHealthReportsQueues(t *testing.T) {
	h := &Handler{logger: discardLogger(), inspector: stubInspector{infos: map[string]*asynq.QueueInfo{
		QueueStatements: {Queue: QueueStatements, Pending: 2, Active: 1},
	}}}
	r := chi.NewRouter()
	h.MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var out []queueHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, []queueHealth{{Queue: QueueStatements, Pending: 2, Active: 1}, {Queue: QueueDefault}}, out)

	h.inspector = stubInspector{err: errors.New("dial tcp: refused")}
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, discardLogger()).MountRoutes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
