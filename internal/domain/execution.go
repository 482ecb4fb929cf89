package domain

import (
	"time"
)

// ExecutionLog statuses. A log starts as running and is finalized
// exactly once to one of the terminal statuses.
const (
	ExecStatusRunning = "running"
	ExecStatusSuccess = "success"
	ExecStatusError   = "error"
	ExecStatusTimeout = "timeout"
)

// Metric names recorded for a successful run.
const (
	MetricTTFB             = "ttfb_ms"
	MetricDOMContentLoaded = "dom_content_loaded_ms"
	MetricPageLoadTime     = "page_load_time_ms"
)

// ExecutionLog is the durable record of one run of a monitor.
// completed_at is null exactly while status is running.
type ExecutionLog struct {
	ID           int64      `json:"id,string"`
	MonitorID    int64      `gorm:"index" json:"monitor_id,string"`
	StartedAt    time.Time  `gorm:"index" json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at"`
	Status       string     `gorm:"index" json:"status"`
	ErrorMessage string     `json:"error_message"`
	HarData      []byte     `gorm:"type:jsonb" json:"har_data,omitempty"`

	Monitor Monitor `gorm:"foreignKey:MonitorID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}

// TableName Specify table name
func (ExecutionLog) TableName() string {
	return "execution_logs"
}

// Terminal reports whether the log has reached a terminal status.
func (l *ExecutionLog) Terminal() bool {
	return l.Status != ExecStatusRunning
}

// PerformanceMetric is one named measurement produced by a successful run.
type PerformanceMetric struct {
	ID             int64     `json:"id,string"`
	ExecutionLogID int64     `gorm:"index" json:"execution_log_id,string"`
	MetricName     string    `json:"metric_name"`
	MetricValue    float64   `json:"metric_value"`
	RecordedAt     time.Time `json:"recorded_at"`

	ExecutionLog ExecutionLog `gorm:"foreignKey:ExecutionLogID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}

// TableName Specify table name
func (PerformanceMetric) TableName() string {
	return "performance_metrics"
}
