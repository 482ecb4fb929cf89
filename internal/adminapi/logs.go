package adminapi

import (
	"net/http"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/labstack/echo/v4"
	"github.com/nakabonne/tstorage"
	"github.com/pkg/errors"

	"github.com/probelab/synthmon/internal/domain"
	"github.com/probelab/synthmon/internal/engine"
	"github.com/probelab/synthmon/internal/repository"
	"github.com/probelab/synthmon/pkg/metrics"
)

// executePayload represents the execute-now request structure
type executePayload struct {
	MonitorID int64 `json:"monitor_id,string"`
}

// executionLogView is one log row with its metrics for API responses.
type executionLogView struct {
	domain.ExecutionLog
	Metrics   []domain.PerformanceMetric `json:"metrics"`
	Waterfall jsoniter.RawMessage        `json:"waterfall,omitempty"`
}

// ExecuteMonitor triggers an immediate run. Returns the new running
// log's id for polling, 409 when a run is already in flight.
func (h *Handler) ExecuteMonitor(c echo.Context) error {
	var payload executePayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_BODY", "Invalid request body", err.Error())
	}
	return h.runNow(c, payload.MonitorID)
}

// TriggerMonitor is the path-parameter variant of ExecuteMonitor.
func (h *Handler) TriggerMonitor(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid monitor ID", nil)
	}
	return h.runNow(c, id)
}

func (h *Handler) runNow(c echo.Context, monitorID int64) error {
	logID, err := h.engine.RunNow(c.Request().Context(), monitorID)
	switch {
	case err == nil:
		return c.JSON(http.StatusAccepted, map[string]interface{}{
			"log_id": strconv.FormatInt(logID, 10),
			"status": domain.ExecStatusRunning,
		})
	case errors.Is(err, repository.ErrAlreadyRunning):
		return fail(c, http.StatusConflict, "ALREADY_RUNNING", "Monitor already has a run in flight", nil)
	case errors.Is(err, repository.ErrNotFound):
		return fail(c, http.StatusNotFound, "NOT_FOUND", "Monitor not found", nil)
	case errors.Is(err, engine.ErrPoolSaturated):
		return fail(c, http.StatusTooManyRequests, "POOL_SATURATED", "Execution pool saturated, retry later", nil)
	default:
		return fail(c, http.StatusInternalServerError, "RUN_FAILED", "Failed to trigger run", err.Error())
	}
}

// ListMonitorLogs retrieves recent execution logs of one monitor,
// newest first, each with its metric rows. Waterfall payloads are
// omitted unless ?waterfall=true.
func (h *Handler) ListMonitorLogs(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid monitor ID", nil)
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit < 1 || limit > 200 {
		limit = 50
	}
	withWaterfall := c.QueryParam("waterfall") == "true"

	var logs []domain.ExecutionLog
	if err := h.db.Where("monitor_id = ?", id).
		Order("started_at DESC").
		Limit(limit).
		Find(&logs).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "QUERY_FAILED", "Failed to list execution logs", err.Error())
	}

	views := make([]executionLogView, 0, len(logs))
	for _, lg := range logs {
		view := executionLogView{ExecutionLog: lg}
		if withWaterfall && len(lg.HarData) > 0 {
			view.Waterfall = jsoniter.RawMessage(lg.HarData)
		}
		view.ExecutionLog.HarData = nil
		if err := h.db.Where("execution_log_id = ?", lg.ID).
			Order("metric_name ASC").
			Find(&view.Metrics).Error; err != nil {
			return fail(c, http.StatusInternalServerError, "QUERY_FAILED", "Failed to load metrics", err.Error())
		}
		views = append(views, view)
	}
	return c.JSON(http.StatusOK, views)
}

// GetExecutionLog retrieves one execution log with its metrics, the
// polling target for the log_id returned by the execute endpoints.
func (h *Handler) GetExecutionLog(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid log ID", nil)
	}
	var lg domain.ExecutionLog
	if err := h.db.First(&lg, id).Error; err != nil {
		return fail(c, http.StatusNotFound, "NOT_FOUND", "Execution log not found", nil)
	}
	view := executionLogView{ExecutionLog: lg}
	if c.QueryParam("waterfall") == "true" && len(lg.HarData) > 0 {
		view.Waterfall = jsoniter.RawMessage(lg.HarData)
	}
	view.ExecutionLog.HarData = nil
	if err := h.db.Where("execution_log_id = ?", lg.ID).
		Order("metric_name ASC").
		Find(&view.Metrics).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "QUERY_FAILED", "Failed to load metrics", err.Error())
	}
	return c.JSON(http.StatusOK, view)
}

// EngineStatus reports the execution pool and dispatcher state.
func (h *Handler) EngineStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, h.engine.Status())
}

// EngineMetrics returns the recorded history of one engine gauge or
// counter from the local time-series store.
func (h *Handler) EngineMetrics(c echo.Context) error {
	name := c.QueryParam("name")
	if name == "" {
		return fail(c, http.StatusBadRequest, "INVALID_NAME", "Metric name is required", nil)
	}
	end := time.Now().Unix()
	start := end - 3600
	if v, err := strconv.ParseInt(c.QueryParam("start"), 10, 64); err == nil {
		start = v
	}
	if v, err := strconv.ParseInt(c.QueryParam("end"), 10, 64); err == nil {
		end = v
	}
	points, err := metrics.Query(name, start, end)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "QUERY_FAILED", "Failed to query metric store", err.Error())
	}
	if points == nil {
		points = []*tstorage.DataPoint{}
	}
	return c.JSON(http.StatusOK, points)
}

// Health is the liveness endpoint.
func (h *Handler) Health(c echo.Context) error {
	sqlDB, err := h.db.DB()
	if err != nil || sqlDB.Ping() != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
