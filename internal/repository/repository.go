package repository

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/probelab/synthmon/internal/domain"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyRunning is returned by TryStart when the monitor already
	// has an open execution log. It is the expected concurrency-control
	// outcome, not an operational failure.
	ErrAlreadyRunning = errors.New("monitor already has a run in flight")

	// ErrNotRunning is returned by Finish when the log has already been
	// finalized; terminal logs are immutable.
	ErrNotRunning = errors.New("execution log is not running")
)

// MonitorRepository reads monitor configuration. Monitors are mutated by
// the management API; the engine only reads them.
type MonitorRepository interface {
	// ListEnabled retrieves all monitors eligible for scheduling.
	ListEnabled(ctx context.Context) ([]domain.Monitor, error)

	// Get retrieves one monitor by id (ErrNotFound when missing).
	Get(ctx context.Context, id int64) (*domain.Monitor, error)
}

// ExecutionLogRepository owns the run lifecycle rows.
type ExecutionLogRepository interface {
	// TryStart atomically creates a running log for the monitor. It is
	// the single point enforcing at-most-one in-flight run per monitor:
	// ErrAlreadyRunning when an open log exists, ErrNotFound when the
	// monitor disappeared.
	TryStart(ctx context.Context, monitorID int64) (*domain.ExecutionLog, error)

	// Finish sets the terminal status and completed_at exactly once.
	// ErrNotRunning when the log was already finalized.
	Finish(ctx context.Context, logID int64, status, errorMessage string, waterfall []byte) error

	// Get retrieves one log by id (ErrNotFound when missing).
	Get(ctx context.Context, logID int64) (*domain.ExecutionLog, error)

	// LastStartedAt returns the started_at of the monitor's most recent
	// log, or ok=false when the monitor has never run.
	LastStartedAt(ctx context.Context, monitorID int64) (time.Time, bool, error)

	// FinalizeOrphans force-finalizes running logs started more than
	// grace ago to error with the given message, returning the count.
	FinalizeOrphans(ctx context.Context, grace time.Duration, message string) (int64, error)

	// DeleteOlderThan removes terminal logs (metrics cascade) older than
	// the retention window.
	DeleteOlderThan(ctx context.Context, days int) (int64, error)
}

// MetricSample is one measurement to persist for a finished run.
type MetricSample struct {
	Name       string
	Value      float64
	RecordedAt time.Time
}

// MetricRepository owns performance metric rows.
type MetricRepository interface {
	// BulkInsert writes all samples for a log in one atomic unit.
	BulkInsert(ctx context.Context, logID int64, samples []MetricSample) error

	// ListByLog retrieves the metrics of one execution log.
	ListByLog(ctx context.Context, logID int64) ([]domain.PerformanceMetric, error)
}
