package engine

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/probelab/synthmon/internal/domain"
	"github.com/probelab/synthmon/internal/probe"
	"github.com/probelab/synthmon/internal/repository"
	"github.com/probelab/synthmon/pkg/metrics"
)

// Dispatcher polls for due monitors and submits runs to the pool. All
// durable truth (monitor config, in-flight state) lives in storage; the
// dispatcher keeps only a transient next-due cache that is rebuilt from
// storage after a restart.
type Dispatcher struct {
	monitors  repository.MonitorRepository
	logs      repository.ExecutionLogRepository
	clock     *Clock
	pool      *Pool
	runner    *Runner
	persister *Persister
	interval  time.Duration

	mu          sync.Mutex
	nextDue     map[int64]time.Time
	badSchedule map[int64]string // last expression logged as invalid
	lastTick    time.Time

	baseCtx context.Context
}

func NewDispatcher(
	monitors repository.MonitorRepository,
	logs repository.ExecutionLogRepository,
	clock *Clock,
	pool *Pool,
	runner *Runner,
	persister *Persister,
	interval time.Duration,
) *Dispatcher {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Dispatcher{
		monitors:    monitors,
		logs:        logs,
		clock:       clock,
		pool:        pool,
		runner:      runner,
		persister:   persister,
		interval:    interval,
		nextDue:     make(map[int64]time.Time),
		badSchedule: make(map[int64]string),
		baseCtx:     context.Background(),
	}
}

// Start runs the polling loop until ctx is cancelled. ctx also bounds
// every run started from this dispatcher: cancelling it aborts in-flight
// browser sessions.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	d.baseCtx = ctx
	d.mu.Unlock()
	go func() {
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.DispatchDue(ctx)
			}
		}
	}()
}

// DispatchDue runs one polling tick: list enabled monitors, compute due
// times, enqueue everything that is due.
func (d *Dispatcher) DispatchDue(ctx context.Context) {
	mons, err := d.monitors.ListEnabled(ctx)
	if err != nil {
		zap.L().Error("dispatcher: list enabled monitors failed", zap.Error(err))
		return
	}

	now := time.Now()
	seen := make(map[int64]struct{}, len(mons))
	for i := range mons {
		m := mons[i]
		seen[m.ID] = struct{}{}

		due, err := d.dueTime(ctx, &m, now)
		if err != nil {
			d.noteBadSchedule(&m, err)
			continue
		}
		d.clearBadSchedule(m.ID)
		if now.Before(due) {
			continue
		}

		_, err = d.enqueue(ctx, m.ID, false)
		switch {
		case err == nil:
			d.advance(&m, now)
		case errors.Is(err, repository.ErrAlreadyRunning):
			// previous run still in flight; executions for one monitor
			// never overlap
			zap.L().Debug("dispatcher: monitor still in flight",
				zap.Int64("monitor_id", m.ID), zap.String("name", m.Name))
			d.advance(&m, now)
		case errors.Is(err, ErrPoolSaturated):
			zap.L().Warn("dispatcher: execution pool saturated, retrying next tick",
				zap.Int64("monitor_id", m.ID))
		case errors.Is(err, repository.ErrNotFound):
			// monitor deleted between listing and dispatch
			d.forget(m.ID)
		default:
			zap.L().Error("dispatcher: enqueue failed",
				zap.Int64("monitor_id", m.ID), zap.Error(err))
		}
	}

	d.mu.Lock()
	for id := range d.nextDue {
		if _, ok := seen[id]; !ok {
			delete(d.nextDue, id)
			delete(d.badSchedule, id)
		}
	}
	d.lastTick = now
	d.mu.Unlock()

	metrics.SetGauge("engine_pool_inflight", int64(d.pool.InFlight()))
	metrics.SetGauge("engine_pool_waiting", int64(d.pool.Waiting()))
}

// RunNow enqueues an immediate run, bypassing the schedule but subject
// to the same mutual-exclusion check. Returns the new log id.
func (d *Dispatcher) RunNow(ctx context.Context, monitorID int64) (int64, error) {
	return d.enqueue(ctx, monitorID, true)
}

// LastTick returns when the polling loop last completed a pass.
func (d *Dispatcher) LastTick() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastTick
}

// enqueue re-fetches the monitor, claims pool admission, reserves the
// execution log atomically and hands the run to the pool. Admission
// comes before the log row so saturation never creates durable state.
// immediate runs skip the enabled check.
func (d *Dispatcher) enqueue(ctx context.Context, monitorID int64, immediate bool) (int64, error) {
	m, err := d.monitors.Get(ctx, monitorID)
	if err != nil {
		return 0, err
	}
	if !immediate && !m.Enabled {
		return 0, repository.ErrNotFound
	}
	if err := d.pool.Reserve(); err != nil {
		return 0, err
	}

	lg, err := d.logs.TryStart(ctx, m.ID)
	if err != nil {
		d.pool.Release()
		return 0, err
	}

	runCtx := d.runContext()
	url, timeout := m.URL, m.Timeout()
	run := func() {
		zap.L().Info("run started",
			zap.Int64("monitor_id", m.ID),
			zap.Int64("log_id", lg.ID),
			zap.String("url", url))
		out := d.runner.Run(runCtx, url, timeout)
		d.finalize(lg.ID, m.ID, out)
	}
	abort := func() {
		d.finalize(lg.ID, m.ID, abortedOutcome())
	}
	d.pool.Submit(run, abort)
	return lg.ID, nil
}

// finalize persists the terminal status on a fresh context: shutdown
// must not cancel the write that records the abort.
func (d *Dispatcher) finalize(logID, monitorID int64, out probe.Outcome) {
	persistCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = d.persister.Finalize(persistCtx, logID, monitorID, out)
}

func (d *Dispatcher) runContext() context.Context {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.baseCtx
}

// dueTime returns the cached next-due time for the monitor, seeding the
// cache from the monitor's last recorded run (or its creation time for a
// monitor that has never run).
func (d *Dispatcher) dueTime(ctx context.Context, m *domain.Monitor, now time.Time) (time.Time, error) {
	d.mu.Lock()
	due, ok := d.nextDue[m.ID]
	d.mu.Unlock()
	if ok {
		return due, nil
	}

	base := m.CreatedAt
	if last, found, err := d.logs.LastStartedAt(ctx, m.ID); err != nil {
		zap.L().Error("dispatcher: read last run failed, seeding from now",
			zap.Int64("monitor_id", m.ID), zap.Error(err))
		base = now
	} else if found {
		base = last
	}
	if base.IsZero() {
		base = now
	}

	due, err := d.clock.Next(m.ScheduleCron, base)
	if err != nil {
		return time.Time{}, err
	}
	d.mu.Lock()
	d.nextDue[m.ID] = due
	d.mu.Unlock()
	return due, nil
}

// advance moves the monitor's next-due time past now after a dispatch.
func (d *Dispatcher) advance(m *domain.Monitor, now time.Time) {
	next, err := d.clock.Next(m.ScheduleCron, now)
	if err != nil {
		return
	}
	d.mu.Lock()
	d.nextDue[m.ID] = next
	d.mu.Unlock()
}

func (d *Dispatcher) forget(id int64) {
	d.mu.Lock()
	delete(d.nextDue, id)
	delete(d.badSchedule, id)
	d.mu.Unlock()
}

// noteBadSchedule surfaces an invalid expression to operators once per
// expression change instead of every tick.
func (d *Dispatcher) noteBadSchedule(m *domain.Monitor, err error) {
	d.mu.Lock()
	logged := d.badSchedule[m.ID] == m.ScheduleCron
	d.badSchedule[m.ID] = m.ScheduleCron
	d.mu.Unlock()
	if !logged {
		zap.L().Error("dispatcher: monitor schedule invalid, excluded from triggering",
			zap.Int64("monitor_id", m.ID),
			zap.String("name", m.Name),
			zap.String("schedule", m.ScheduleCron),
			zap.Error(err))
	}
}

func (d *Dispatcher) clearBadSchedule(id int64) {
	d.mu.Lock()
	delete(d.badSchedule, id)
	d.mu.Unlock()
}

func abortedOutcome() probe.Outcome {
	return probe.Outcome{State: probe.StateFailed, Reason: ReasonShutdown}
}
