package adminapi

import (
	"net/http"

	jsoniter "github.com/json-iterator/go"
	"github.com/labstack/echo/v4"
)

type dash = map[string]interface{}

const metricSeriesSQL = `SELECT
  pm.recorded_at AS time,
  m.name || ' - ' || pm.metric_name as metric,
  pm.metric_value as value
FROM performance_metrics pm
JOIN execution_logs el ON pm.execution_log_id = el.id
JOIN monitors m ON el.monitor_id = m.id
WHERE
  $__timeFilter(pm.recorded_at)
  AND pm.metric_name IN ('ttfb_ms', 'dom_content_loaded_ms', 'page_load_time_ms')
ORDER BY pm.recorded_at`

const latestStatusSQL = `SELECT
  CASE WHEN status = 'success' THEN 1 ELSE 0 END as value
FROM execution_logs
ORDER BY completed_at DESC
LIMIT 1`

// GrafanaDashboard serves a downloadable dashboard template over the
// three standard metric dimensions.
func (h *Handler) GrafanaDashboard(c echo.Context) error {
	dashboard := dash{
		"__inputs": []dash{{
			"name":        "DS_POSTGRESQL",
			"label":       "PostgreSQL",
			"description": "PostgreSQL data source for synthetic monitoring",
			"type":        "datasource",
			"pluginId":    "postgres",
			"pluginName":  "PostgreSQL",
		}},
		"annotations":   dash{"list": []dash{}},
		"editable":      true,
		"graphTooltip":  1,
		"links":         []dash{},
		"refresh":       "30s",
		"schemaVersion": 27,
		"style":         "dark",
		"tags":          []string{"synthetic", "monitoring", "performance"},
		"templating":    dash{"list": []dash{}},
		"time":          dash{"from": "now-6h", "to": "now"},
		"timezone":      "browser",
		"title":         "Synthetic Monitoring Dashboard",
		"uid":           "synthetic-monitoring",
		"version":       1,
		"panels": []dash{
			timeseriesPanel(1, "Performance Metrics Over Time", metricSeriesSQL),
			statPanel(2, "Average TTFB", avgMetricSQL("ttfb_ms"), dash{"x": 0, "y": 8}),
			statPanel(3, "Average Page Load Time", avgMetricSQL("page_load_time_ms"), dash{"x": 8, "y": 8}),
			statPanel(4, "Latest Check Status", latestStatusSQL, dash{"x": 16, "y": 8}),
		},
	}

	data, err := jsoniter.MarshalIndent(dashboard, "", "  ")
	if err != nil {
		return fail(c, http.StatusInternalServerError, "ENCODE_FAILED", "Failed to encode dashboard", err.Error())
	}
	c.Response().Header().Set(echo.HeaderContentDisposition,
		"attachment; filename=synthetic-monitoring-dashboard.json")
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, data)
}

func avgMetricSQL(metric string) string {
	return `SELECT AVG(pm.metric_value) as value
FROM performance_metrics pm
WHERE pm.metric_name = '` + metric + `' AND $__timeFilter(pm.recorded_at)`
}

func timeseriesPanel(id int, title, sql string) dash {
	return dash{
		"datasource": "${DS_POSTGRESQL}",
		"id":         id,
		"title":      title,
		"type":       "timeseries",
		"gridPos":    dash{"h": 8, "w": 24, "x": 0, "y": 0},
		"fieldConfig": dash{
			"defaults": dash{
				"color": dash{"mode": "palette-classic"},
				"unit":  "ms",
			},
			"overrides": []dash{},
		},
		"options": dash{
			"legend":  dash{"calcs": []string{"mean", "max"}, "displayMode": "table", "placement": "right"},
			"tooltip": dash{"mode": "multi"},
		},
		"targets": []dash{{
			"datasource": "${DS_POSTGRESQL}",
			"format":     "time_series",
			"rawQuery":   true,
			"rawSql":     sql,
			"refId":      "A",
		}},
	}
}

func statPanel(id int, title, sql string, pos dash) dash {
	grid := dash{"h": 4, "w": 8, "x": pos["x"], "y": pos["y"]}
	return dash{
		"datasource": "${DS_POSTGRESQL}",
		"id":         id,
		"title":      title,
		"type":       "stat",
		"gridPos":    grid,
		"fieldConfig": dash{
			"defaults":  dash{"color": dash{"mode": "thresholds"}, "unit": "ms"},
			"overrides": []dash{},
		},
		"options": dash{
			"colorMode":     "background",
			"graphMode":     "area",
			"reduceOptions": dash{"calcs": []string{"lastNotNull"}},
		},
		"targets": []dash{{
			"datasource": "${DS_POSTGRESQL}",
			"format":     "table",
			"rawQuery":   true,
			"rawSql":     sql,
			"refId":      "A",
		}},
	}
}
