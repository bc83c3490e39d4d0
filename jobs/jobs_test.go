package jobs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/odyssey-pos/internal/jobs"
	"github.com/odyssey-erp/odyssey-pos/internal/racks"
)

type stubScanner struct {
	found []racks.RackAlerts
	err   error
	calls int
}

func (s *stubScanner) ScanAlerts(ctx context.Context) ([]racks.RackAlerts, error) {
	s.calls++
	return s.found, s.err
}

type stubPurger struct {
	retention time.Duration
	purged    int64
}

func (p *stubPurger) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	p.retention = olderThan
	return p.purged, nil
}

func TestRackAlertScanJob(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(registry)
	scanner := &stubScanner{found: []racks.RackAlerts{{RackID: 1, Code: "A1"}, {RackID: 2, Code: "B1"}}}
	job := NewRackAlertScanJob(scanner, nil, metrics)

	task, err := NewRackAlertScanTask("cron")
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 1, scanner.calls)

	count, err := testutil.GatherAndCount(registry, "odyssey_job_processed_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)

	scanner.err = errors.New("pg down")
	require.Error(t, job.Handle(context.Background(), task))

	bad := asynq.NewTask(TaskRackAlertScan, []byte("{"))
	require.ErrorIs(t, job.Handle(context.Background(), bad), asynq.SkipRetry)
}

func TestIdempotencyCleanupJobRetention(t *testing.T) {
	purger := &stubPurger{purged: 4}
	job := NewIdempotencyCleanupJob(purger, 72*time.Hour, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, nil)))
	require.Equal(t, 72*time.Hour, purger.retention)

	task, err := NewIdempotencyCleanupTask(24 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 24*time.Hour, purger.retention)
}

type stubEnqueuer struct {
	err error
}

func (e stubEnqueuer) EnqueueRackAlertScan(ctx context.Context, trigger string) (string, error) {
	return "task-1", e.err
}

type stubInspector struct {
	pending int
}

func (i stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return &asynq.QueueInfo{Queue: queue, Pending: i.pending}, nil
}

func TestJobsHandler(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(stubInspector{pending: 3}, stubEnqueuer{}, nil).MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"queue":"default","pending":3}`, rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jobs/rack-alert-scan", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.JSONEq(t, `{"taskId":"task-1"}`, rec.Body.String())

	dup := chi.NewRouter()
	NewHandler(nil, stubEnqueuer{err: asynq.ErrDuplicateTask}, nil).MountRoutes(dup)
	rec = httptest.NewRecorder()
	dup.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jobs/rack-alert-scan", nil))
	require.Equal(t, http.StatusConflict, rec.Code)
}
