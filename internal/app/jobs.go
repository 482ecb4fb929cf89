package app

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/probelab/synthmon/internal/domain"
	"github.com/probelab/synthmon/pkg/metrics"
)

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// initJob wires the maintenance schedule. Retention and orphan
// reconciliation run here, never inside the execution path.
func (a *Application) initJob(loc *time.Location) {
	a.sched = cron.New(cron.WithLocation(loc), cron.WithParser(cronParser))

	var err error
	_, err = a.sched.AddFunc("@every 30s", func() {
		go a.SchedEngineGaugeTask()
	})
	if err != nil {
		zap.S().Errorf("init job error %s", err.Error())
	}

	_, err = a.sched.AddFunc("@hourly", func() {
		a.SchedReconcileOrphans()
	})
	if err != nil {
		zap.S().Errorf("init job error %s", err.Error())
	}

	_, err = a.sched.AddFunc("@daily", func() {
		a.SchedClearExpireData()
	})
	if err != nil {
		zap.S().Errorf("init job error %s", err.Error())
	}

	a.sched.Start()
}

// SchedEngineGaugeTask records engine gauges into the local metric store.
func (a *Application) SchedEngineGaugeTask() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()

	st := a.engine.Status()
	metrics.SetGauge("engine_pool_inflight", int64(st.InFlight))
	metrics.SetGauge("engine_pool_waiting", int64(st.Waiting))

	var running int64
	a.gormDB.Model(&domain.ExecutionLog{}).
		Where("status = ?", domain.ExecStatusRunning).
		Count(&running)
	metrics.SetGauge("engine_logs_running", running)
}

// SchedReconcileOrphans force-finalizes running logs that have outlived
// any legal timeout, e.g. after a crash of the execution slot.
func (a *Application) SchedReconcileOrphans() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()

	grace := time.Duration(a.appConfig.Engine.OrphanGraceMinutes) * time.Minute
	if grace < 2*domain.MaxTimeoutSeconds*time.Second {
		grace = 2 * domain.MaxTimeoutSeconds * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.engine.ReconcileOrphans(ctx, grace); err != nil {
		zap.L().Error("orphan reconcile failed", zap.Error(err))
	}
}

// SchedClearExpireData deletes execution logs past the retention window;
// performance metrics cascade with them.
func (a *Application) SchedClearExpireData() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()

	days := a.appConfig.Engine.RetentionDays
	if days <= 0 {
		days = 90
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	n, err := a.logRepo.DeleteOlderThan(ctx, days)
	if err != nil {
		zap.L().Error("retention sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		zap.L().Info("retention sweep removed execution logs",
			zap.Int64("count", n), zap.Int("retention_days", days))
	}
}
