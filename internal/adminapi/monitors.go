package adminapi

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/probelab/synthmon/internal/domain"
	"github.com/probelab/synthmon/internal/engine"
	"github.com/probelab/synthmon/pkg/common"
)

// Handler carries the management API dependencies.
type Handler struct {
	db     *gorm.DB
	engine *engine.Engine
}

func NewHandler(db *gorm.DB, eng *engine.Engine) *Handler {
	return &Handler{db: db, engine: eng}
}

// Register wires all management API routes.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/health", h.Health)
	api := e.Group("/api")
	api.GET("/monitors", h.ListMonitors)
	api.POST("/monitors", h.CreateMonitor)
	api.GET("/monitors/:id", h.GetMonitor)
	api.PUT("/monitors/:id", h.UpdateMonitor)
	api.DELETE("/monitors/:id", h.DeleteMonitor)
	api.POST("/monitors/execute", h.ExecuteMonitor)
	api.POST("/monitors/:id/run", h.TriggerMonitor)
	api.GET("/monitors/:id/logs", h.ListMonitorLogs)
	api.GET("/logs/:id", h.GetExecutionLog)
	api.GET("/engine/status", h.EngineStatus)
	api.GET("/engine/metrics", h.EngineMetrics)
	api.GET("/grafana/dashboard", h.GrafanaDashboard)
}

// monitorPayload represents the monitor create/update request structure
type monitorPayload struct {
	Name           string            `json:"name"`
	URL            string            `json:"url"`
	ScheduleCron   string            `json:"schedule_cron"`
	Enabled        *bool             `json:"enabled"`
	TimeoutSeconds int               `json:"timeout_seconds"`
	Tags           map[string]string `json:"tags"`
}

func (p *monitorPayload) validate() error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" || len(p.Name) > 255 {
		return echo.NewHTTPError(http.StatusBadRequest, "name must be 1-255 characters")
	}
	u, err := url.Parse(p.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url must be a valid http(s) URL")
	}
	if err := engine.ValidateSchedule(p.ScheduleCron); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "schedule_cron is not a valid cron expression")
	}
	if p.TimeoutSeconds == 0 {
		p.TimeoutSeconds = domain.DefaultTimeoutSeconds
	}
	if p.TimeoutSeconds < domain.MinTimeoutSeconds || p.TimeoutSeconds > domain.MaxTimeoutSeconds {
		return echo.NewHTTPError(http.StatusBadRequest, "timeout_seconds must be between 5 and 300")
	}
	return nil
}

// ListMonitors retrieves the monitor list with pagination and filters.
func (h *Handler) ListMonitors(c echo.Context) error {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	perPage, _ := strconv.Atoi(c.QueryParam("perPage"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 10
	}

	var total int64
	var monitors []domain.Monitor
	query := h.db.Model(&domain.Monitor{})

	if name := strings.TrimSpace(c.QueryParam("name")); name != "" {
		if strings.EqualFold(h.db.Name(), "postgres") {
			query = query.Where("name ILIKE ?", "%"+name+"%")
		} else {
			query = query.Where("lower(name) LIKE lower(?)", "%"+name+"%")
		}
	}
	if enabled := c.QueryParam("enabled"); enabled != "" {
		query = query.Where("enabled = ?", enabled == "true")
	}

	if err := query.Count(&total).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "QUERY_FAILED", "Failed to count monitors", err.Error())
	}
	err := query.Order("id DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&monitors).Error
	if err != nil {
		return fail(c, http.StatusInternalServerError, "QUERY_FAILED", "Failed to list monitors", err.Error())
	}
	return c.JSON(http.StatusOK, ListResponse{TotalCount: total, Pos: (page - 1) * perPage, Data: monitors})
}

// GetMonitor retrieves one monitor by id.
func (h *Handler) GetMonitor(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid monitor ID", nil)
	}
	var monitor domain.Monitor
	if err := h.db.First(&monitor, id).Error; err != nil {
		return fail(c, http.StatusNotFound, "NOT_FOUND", "Monitor not found", nil)
	}
	return c.JSON(http.StatusOK, monitor)
}

// CreateMonitor creates a monitor.
func (h *Handler) CreateMonitor(c echo.Context) error {
	var payload monitorPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_BODY", "Invalid request body", err.Error())
	}
	if err := payload.validate(); err != nil {
		he := err.(*echo.HTTPError)
		return fail(c, he.Code, "VALIDATION_FAILED", he.Message.(string), nil)
	}

	enabled := true
	if payload.Enabled != nil {
		enabled = *payload.Enabled
	}
	monitor := domain.Monitor{
		ID:             common.UUIDint64(),
		Name:           payload.Name,
		URL:            payload.URL,
		ScheduleCron:   payload.ScheduleCron,
		Enabled:        enabled,
		TimeoutSeconds: payload.TimeoutSeconds,
		Tags:           payload.Tags,
	}
	if err := h.db.Create(&monitor).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "CREATE_FAILED", "Failed to create monitor", err.Error())
	}
	zap.L().Info("monitor created", zap.Int64("id", monitor.ID), zap.String("name", monitor.Name))
	return c.JSON(http.StatusCreated, monitor)
}

// UpdateMonitor updates a monitor. The engine re-reads configuration
// before every run, so edits take effect on the next dispatch.
func (h *Handler) UpdateMonitor(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid monitor ID", nil)
	}
	var monitor domain.Monitor
	if err := h.db.First(&monitor, id).Error; err != nil {
		return fail(c, http.StatusNotFound, "NOT_FOUND", "Monitor not found", nil)
	}

	var payload monitorPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_BODY", "Invalid request body", err.Error())
	}
	if err := payload.validate(); err != nil {
		he := err.(*echo.HTTPError)
		return fail(c, he.Code, "VALIDATION_FAILED", he.Message.(string), nil)
	}

	monitor.Name = payload.Name
	monitor.URL = payload.URL
	monitor.ScheduleCron = payload.ScheduleCron
	monitor.TimeoutSeconds = payload.TimeoutSeconds
	if payload.Enabled != nil {
		monitor.Enabled = *payload.Enabled
	}
	if payload.Tags != nil {
		monitor.Tags = payload.Tags
	}
	if err := h.db.Save(&monitor).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "UPDATE_FAILED", "Failed to update monitor", err.Error())
	}
	return c.JSON(http.StatusOK, monitor)
}

// DeleteMonitor deletes a monitor; execution logs and metrics cascade.
func (h *Handler) DeleteMonitor(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid monitor ID", nil)
	}
	if err := h.db.Delete(&domain.Monitor{}, id).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DELETE_FAILED", "Failed to delete monitor", err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
