// Package engine implements the monitor scheduling and execution core:
// deciding when each monitor runs, bounding concurrent browser sessions,
// enforcing per-run timeouts and persisting classified results.
package engine

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/probelab/synthmon/config"
	"github.com/probelab/synthmon/internal/probe"
	"github.com/probelab/synthmon/internal/repository"
)

// Engine wires the schedule clock, dispatcher, execution pool, runner
// and persister together and owns their lifecycle.
type Engine struct {
	cfg        config.EngineConfig
	pool       *Pool
	dispatcher *Dispatcher
	logs       repository.ExecutionLogRepository
}

func New(
	cfg config.EngineConfig,
	loc *time.Location,
	monitors repository.MonitorRepository,
	logs repository.ExecutionLogRepository,
	metricDB repository.MetricRepository,
	driver probe.Driver,
) (*Engine, error) {
	pool, err := NewPool(cfg.PoolSize, cfg.QueueDepth)
	if err != nil {
		return nil, err
	}
	clock := NewClock(loc)
	runner := NewRunner(driver)
	persister := NewPersister(logs, metricDB)
	dispatcher := NewDispatcher(monitors, logs, clock, pool, runner, persister,
		time.Duration(cfg.PollInterval)*time.Second)
	return &Engine{
		cfg:        cfg,
		pool:       pool,
		dispatcher: dispatcher,
		logs:       logs,
	}, nil
}

// Start reconciles logs orphaned by a previous crash, then begins the
// polling loop. ctx cancellation aborts in-flight runs.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.ReconcileOrphans(ctx, 0); err != nil {
		return errors.Wrap(err, "reconcile orphaned execution logs")
	}
	e.dispatcher.Start(ctx)
	return nil
}

// ReconcileOrphans force-finalizes running logs older than grace. At
// startup grace zero is safe: this is a single-instance scheduler, so
// any open log predating the process is dead.
func (e *Engine) ReconcileOrphans(ctx context.Context, grace time.Duration) error {
	n, err := e.logs.FinalizeOrphans(ctx, grace, ReasonShutdown)
	if err != nil {
		return err
	}
	if n > 0 {
		zap.L().Warn("finalized orphaned execution logs",
			zap.Int64("count", n), zap.Duration("grace", grace))
	}
	return nil
}

// Shutdown waits for in-flight runs to finalize, up to timeout. Queued
// runs that never started are recorded as aborted.
func (e *Engine) Shutdown(timeout time.Duration) {
	e.pool.Shutdown(timeout)
}

// RunNow triggers an immediate run of one monitor. Exposed to the
// management API layer.
func (e *Engine) RunNow(ctx context.Context, monitorID int64) (int64, error) {
	return e.dispatcher.RunNow(ctx, monitorID)
}

// Status is a point-in-time view of the engine for operators.
type Status struct {
	PoolCapacity int       `json:"pool_capacity"`
	InFlight     int       `json:"in_flight"`
	Waiting      int       `json:"waiting"`
	PollInterval int       `json:"poll_interval_seconds"`
	LastTick     time.Time `json:"last_tick"`
}

func (e *Engine) Status() Status {
	return Status{
		PoolCapacity: e.pool.Capacity(),
		InFlight:     e.pool.InFlight(),
		Waiting:      e.pool.Waiting(),
		PollInterval: e.cfg.PollInterval,
		LastTick:     e.dispatcher.LastTick(),
	}
}
