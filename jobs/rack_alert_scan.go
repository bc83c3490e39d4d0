package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-pos/internal/jobs"
	"github.com/odyssey-erp/odyssey-pos/internal/racks"
)

// AlertScanner evaluates rack alerts across stores.
type AlertScanner interface {
	ScanAlerts(ctx context.Context) ([]racks.RackAlerts, error)
}

// RackAlertScanJob runs the periodic rack alert evaluation.
type RackAlertScanJob struct {
	Scanner AlertScanner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewRackAlertScanJob wires dependencies for the scan handler.
func NewRackAlertScanJob(scanner AlertScanner, logger *slog.Logger, metrics *jobmetrics.Metrics) *RackAlertScanJob {
	return &RackAlertScanJob{Scanner: scanner, Logger: logger, Metrics: metrics}
}

// Handle processes TaskRackAlertScan tasks.
func (j *RackAlertScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Scanner == nil {
		return errors.New("rack alert scan: handler not configured")
	}
	var payload RackAlertScanPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	tracker := j.metrics().Track(TaskRackAlertScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := time.Now()
	logger := j.logger().With(slog.String("trigger", payload.Trigger))
	found, err := j.Scanner.ScanAlerts(ctx)
	if err != nil {
		resultErr = err
		logger.Error("rack alert scan failed", slog.Any("error", err))
		return resultErr
	}
	j.metrics().AddProcessed(TaskRackAlertScan, int64(len(found)))
	logger.Info("completed rack alert scan",
		slog.Int("racks_alerting", len(found)),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

func (j *RackAlertScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskRackAlertScan))
	}
	return slog.Default().With(slog.String("job", TaskRackAlertScan))
}

func (j *RackAlertScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
