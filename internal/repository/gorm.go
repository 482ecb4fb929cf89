package repository

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/probelab/synthmon/internal/domain"
	"github.com/probelab/synthmon/pkg/common"
)

// RunningLogIndexSQL backs the atomic TryStart: at most one open
// execution log may exist per monitor. Executed after AutoMigrate since
// gorm cannot express partial indexes.
const RunningLogIndexSQL = `CREATE UNIQUE INDEX IF NOT EXISTS uidx_execution_logs_running
ON execution_logs (monitor_id) WHERE status = 'running'`

// GormMonitorRepository is the GORM implementation of MonitorRepository
type GormMonitorRepository struct {
	db *gorm.DB
}

func NewGormMonitorRepository(db *gorm.DB) *GormMonitorRepository {
	return &GormMonitorRepository{db: db}
}

func (r *GormMonitorRepository) ListEnabled(ctx context.Context) ([]domain.Monitor, error) {
	var monitors []domain.Monitor
	err := r.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("id ASC").
		Find(&monitors).Error
	return monitors, err
}

func (r *GormMonitorRepository) Get(ctx context.Context, id int64) (*domain.Monitor, error) {
	var monitor domain.Monitor
	err := r.db.WithContext(ctx).First(&monitor, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &monitor, nil
}

// GormExecutionLogRepository is the GORM implementation of ExecutionLogRepository
type GormExecutionLogRepository struct {
	db *gorm.DB
}

func NewGormExecutionLogRepository(db *gorm.DB) *GormExecutionLogRepository {
	return &GormExecutionLogRepository{db: db}
}

// TryStart inserts a running log and lets the partial unique index
// reject a second open log for the same monitor. The check and the
// insert are one statement, so concurrent dispatchers cannot both win.
func (r *GormExecutionLogRepository) TryStart(ctx context.Context, monitorID int64) (*domain.ExecutionLog, error) {
	lg := &domain.ExecutionLog{
		ID:        common.UUIDint64(),
		MonitorID: monitorID,
		StartedAt: time.Now(),
		Status:    domain.ExecStatusRunning,
	}
	err := r.db.WithContext(ctx).Create(lg).Error
	switch {
	case err == nil:
		return lg, nil
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return nil, ErrAlreadyRunning
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		// monitor deleted between listing and dispatch
		return nil, ErrNotFound
	default:
		return nil, errors.Wrap(err, "create execution log")
	}
}

// Finish transitions a running log to a terminal status. The status
// guard in the WHERE clause makes the transition exactly-once; a
// finalized row is never touched again.
func (r *GormExecutionLogRepository) Finish(ctx context.Context, logID int64, status, errorMessage string, waterfall []byte) error {
	now := time.Now()
	values := map[string]interface{}{
		"status":        status,
		"completed_at":  &now,
		"error_message": errorMessage,
	}
	if len(waterfall) > 0 {
		values["har_data"] = waterfall
	}
	res := r.db.WithContext(ctx).
		Model(&domain.ExecutionLog{}).
		Where("id = ? AND status = ?", logID, domain.ExecStatusRunning).
		Updates(values)
	if res.Error != nil {
		return errors.Wrap(res.Error, "finalize execution log")
	}
	if res.RowsAffected == 0 {
		return ErrNotRunning
	}
	return nil
}

func (r *GormExecutionLogRepository) Get(ctx context.Context, logID int64) (*domain.ExecutionLog, error) {
	var lg domain.ExecutionLog
	err := r.db.WithContext(ctx).First(&lg, logID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &lg, nil
}

func (r *GormExecutionLogRepository) LastStartedAt(ctx context.Context, monitorID int64) (time.Time, bool, error) {
	var lg domain.ExecutionLog
	err := r.db.WithContext(ctx).
		Where("monitor_id = ?", monitorID).
		Order("started_at DESC").
		First(&lg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return lg.StartedAt, true, nil
}

func (r *GormExecutionLogRepository) FinalizeOrphans(ctx context.Context, grace time.Duration, message string) (int64, error) {
	now := time.Now()
	res := r.db.WithContext(ctx).
		Model(&domain.ExecutionLog{}).
		Where("status = ? AND started_at < ?", domain.ExecStatusRunning, now.Add(-grace)).
		Updates(map[string]interface{}{
			"status":        domain.ExecStatusError,
			"completed_at":  &now,
			"error_message": message,
		})
	return res.RowsAffected, res.Error
}

func (r *GormExecutionLogRepository) DeleteOlderThan(ctx context.Context, days int) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status <> ? AND started_at < ?",
			domain.ExecStatusRunning, time.Now().Add(-time.Hour*24*time.Duration(days))).
		Delete(&domain.ExecutionLog{})
	return res.RowsAffected, res.Error
}

// GormMetricRepository is the GORM implementation of MetricRepository
type GormMetricRepository struct {
	db *gorm.DB
}

func NewGormMetricRepository(db *gorm.DB) *GormMetricRepository {
	return &GormMetricRepository{db: db}
}

// BulkInsert writes all samples in one transaction so a successful run
// never ends up with a partial metric set.
func (r *GormMetricRepository) BulkInsert(ctx context.Context, logID int64, samples []MetricSample) error {
	if len(samples) == 0 {
		return nil
	}
	rows := make([]domain.PerformanceMetric, 0, len(samples))
	for _, s := range samples {
		rows = append(rows, domain.PerformanceMetric{
			ID:             common.UUIDint64(),
			ExecutionLogID: logID,
			MetricName:     s.Name,
			MetricValue:    s.Value,
			RecordedAt:     s.RecordedAt,
		})
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&rows).Error
	})
}

func (r *GormMetricRepository) ListByLog(ctx context.Context, logID int64) ([]domain.PerformanceMetric, error) {
	var rows []domain.PerformanceMetric
	err := r.db.WithContext(ctx).
		Where("execution_log_id = ?", logID).
		Order("metric_name ASC").
		Find(&rows).Error
	return rows, err
}
