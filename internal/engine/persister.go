package engine

import (
	"context"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/probelab/synthmon/internal/domain"
	"github.com/probelab/synthmon/internal/probe"
	"github.com/probelab/synthmon/internal/repository"
	"github.com/probelab/synthmon/pkg/metrics"
)

// TimeoutMessage is the standard error message for timed-out runs.
const TimeoutMessage = "execution exceeded configured timeout"

// Persister maps run outcomes to terminal log statuses and writes the
// derived rows. Finalization failures are retried a bounded number of
// times and then surfaced as operational errors; the run itself is
// never re-executed because of a storage problem.
type Persister struct {
	logs     repository.ExecutionLogRepository
	metricDB repository.MetricRepository
	attempts int
	backoff  time.Duration
}

func NewPersister(logs repository.ExecutionLogRepository, metricDB repository.MetricRepository) *Persister {
	return &Persister{
		logs:     logs,
		metricDB: metricDB,
		attempts: 3,
		backoff:  250 * time.Millisecond,
	}
}

// Finalize writes the terminal status of one run and, for successful
// runs, its metric rows. Metric persistence failing after the log is
// terminal keeps the log success and reports the failure separately.
func (p *Persister) Finalize(ctx context.Context, logID, monitorID int64, out probe.Outcome) error {
	status, message, waterfall := p.classify(out)

	if err := p.finishWithRetry(ctx, logID, status, message, waterfall); err != nil {
		if errors.Is(err, repository.ErrNotRunning) {
			// already finalized (orphan sweep raced us); nothing to do
			zap.L().Warn("execution log already finalized",
				zap.Int64("log_id", logID), zap.String("status", status))
			return nil
		}
		zap.L().Error("failed to finalize execution log, terminal status may be lost",
			zap.Int64("log_id", logID),
			zap.Int64("monitor_id", monitorID),
			zap.String("status", status),
			zap.Error(err))
		return err
	}
	metrics.IncrCounter("engine_runs_"+status, 1)

	if status != domain.ExecStatusSuccess {
		return nil
	}

	samples := metricSamples(out.Capture)
	if err := p.metricDB.BulkInsert(ctx, logID, samples); err != nil {
		// the run stays success; losing derived metrics is an
		// operational problem, not a run failure
		zap.L().Error("failed to persist performance metrics for successful run",
			zap.Int64("log_id", logID),
			zap.Int64("monitor_id", monitorID),
			zap.Error(err))
	}
	return nil
}

func (p *Persister) classify(out probe.Outcome) (status, message string, waterfall []byte) {
	switch out.State {
	case probe.StateCompleted:
		status = domain.ExecStatusSuccess
		if out.Capture != nil && out.Capture.Waterfall != nil {
			data, err := jsoniter.Marshal(out.Capture.Waterfall)
			if err != nil {
				zap.L().Warn("failed to encode network waterfall", zap.Error(err))
			} else {
				waterfall = data
			}
		}
	case probe.StateTimedOut:
		status = domain.ExecStatusTimeout
		message = TimeoutMessage
	default:
		status = domain.ExecStatusError
		message = out.Reason
		if message == "" {
			message = "execution failed"
		}
	}
	return status, message, waterfall
}

func (p *Persister) finishWithRetry(ctx context.Context, logID int64, status, message string, waterfall []byte) error {
	var err error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		err = p.logs.Finish(ctx, logID, status, message, waterfall)
		if err == nil || errors.Is(err, repository.ErrNotRunning) {
			return err
		}
		if attempt < p.attempts {
			time.Sleep(p.backoff * time.Duration(attempt))
		}
	}
	return err
}

func metricSamples(capture *probe.Capture) []repository.MetricSample {
	if capture == nil {
		return nil
	}
	now := time.Now()
	return []repository.MetricSample{
		{Name: domain.MetricTTFB, Value: capture.Timings.TTFBMs, RecordedAt: now},
		{Name: domain.MetricDOMContentLoaded, Value: capture.Timings.DOMContentLoadedMs, RecordedAt: now},
		{Name: domain.MetricPageLoadTime, Value: capture.Timings.PageLoadMs, RecordedAt: now},
	}
}
