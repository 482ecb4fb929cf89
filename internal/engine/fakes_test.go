package engine

import (
	"context"
	"sync"
	"time"

	"github.com/probelab/synthmon/internal/domain"
	"github.com/probelab/synthmon/internal/probe"
	"github.com/probelab/synthmon/internal/repository"
)

type fakeMonitorRepo struct {
	mu       sync.Mutex
	monitors map[int64]domain.Monitor
}

func newFakeMonitorRepo(monitors ...domain.Monitor) *fakeMonitorRepo {
	r := &fakeMonitorRepo{monitors: make(map[int64]domain.Monitor)}
	for _, m := range monitors {
		r.monitors[m.ID] = m
	}
	return r
}

func (r *fakeMonitorRepo) ListEnabled(ctx context.Context) ([]domain.Monitor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Monitor
	for _, m := range r.monitors {
		if m.Enabled {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *fakeMonitorRepo) Get(ctx context.Context, id int64) (*domain.Monitor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.monitors[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &m, nil
}

func (r *fakeMonitorRepo) delete(id int64) {
	r.mu.Lock()
	delete(r.monitors, id)
	r.mu.Unlock()
}

type fakeLogRepo struct {
	mu        sync.Mutex
	seq       int64
	logs      map[int64]*domain.ExecutionLog
	running   map[int64]int64 // monitor id -> open log id
	finishErr error
	failLeft  int // Finish calls to fail before succeeding
}

func newFakeLogRepo() *fakeLogRepo {
	return &fakeLogRepo{
		logs:    make(map[int64]*domain.ExecutionLog),
		running: make(map[int64]int64),
	}
}

func (r *fakeLogRepo) TryStart(ctx context.Context, monitorID int64) (*domain.ExecutionLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, open := r.running[monitorID]; open {
		return nil, repository.ErrAlreadyRunning
	}
	r.seq++
	lg := &domain.ExecutionLog{
		ID:        r.seq,
		MonitorID: monitorID,
		StartedAt: time.Now(),
		Status:    domain.ExecStatusRunning,
	}
	r.logs[lg.ID] = lg
	r.running[monitorID] = lg.ID
	return lg, nil
}

func (r *fakeLogRepo) Finish(ctx context.Context, logID int64, status, errorMessage string, waterfall []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failLeft > 0 {
		r.failLeft--
		return r.finishErr
	}
	lg, ok := r.logs[logID]
	if !ok || lg.Status != domain.ExecStatusRunning {
		return repository.ErrNotRunning
	}
	now := time.Now()
	lg.Status = status
	lg.CompletedAt = &now
	lg.ErrorMessage = errorMessage
	lg.HarData = waterfall
	delete(r.running, lg.MonitorID)
	return nil
}

func (r *fakeLogRepo) Get(ctx context.Context, logID int64) (*domain.ExecutionLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lg, ok := r.logs[logID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *lg
	return &cp, nil
}

func (r *fakeLogRepo) LastStartedAt(ctx context.Context, monitorID int64) (time.Time, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest time.Time
	found := false
	for _, lg := range r.logs {
		if lg.MonitorID == monitorID && lg.StartedAt.After(latest) {
			latest = lg.StartedAt
			found = true
		}
	}
	return latest, found, nil
}

func (r *fakeLogRepo) FinalizeOrphans(ctx context.Context, grace time.Duration, message string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-grace)
	var n int64
	for _, lg := range r.logs {
		if lg.Status == domain.ExecStatusRunning && lg.StartedAt.Before(cutoff) {
			now := time.Now()
			lg.Status = domain.ExecStatusError
			lg.CompletedAt = &now
			lg.ErrorMessage = message
			delete(r.running, lg.MonitorID)
			n++
		}
	}
	return n, nil
}

func (r *fakeLogRepo) DeleteOlderThan(ctx context.Context, days int) (int64, error) {
	return 0, nil
}

func (r *fakeLogRepo) countByStatus(status string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, lg := range r.logs {
		if lg.Status == status {
			n++
		}
	}
	return n
}

func (r *fakeLogRepo) waitTerminal(logID int64, timeout time.Duration) *domain.ExecutionLog {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		lg, ok := r.logs[logID]
		if ok && lg.Terminal() {
			cp := *lg
			r.mu.Unlock()
			return &cp
		}
		r.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	return nil
}

type fakeMetricRepo struct {
	mu        sync.Mutex
	byLog     map[int64][]repository.MetricSample
	insertErr error
}

func newFakeMetricRepo() *fakeMetricRepo {
	return &fakeMetricRepo{byLog: make(map[int64][]repository.MetricSample)}
}

func (r *fakeMetricRepo) BulkInsert(ctx context.Context, logID int64, samples []repository.MetricSample) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return r.insertErr
	}
	r.byLog[logID] = append(r.byLog[logID], samples...)
	return nil
}

func (r *fakeMetricRepo) ListByLog(ctx context.Context, logID int64) ([]domain.PerformanceMetric, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.PerformanceMetric
	for _, s := range r.byLog[logID] {
		out = append(out, domain.PerformanceMetric{
			ExecutionLogID: logID,
			MetricName:     s.Name,
			MetricValue:    s.Value,
			RecordedAt:     s.RecordedAt,
		})
	}
	return out, nil
}

func (r *fakeMetricRepo) samples(logID int64) map[string]float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]float64)
	for _, s := range r.byLog[logID] {
		out[s.Name] = s.Value
	}
	return out
}

// fakeDriver is a deterministic probe.Driver.
type fakeDriver struct {
	delay      time.Duration
	capture    *probe.Capture
	err        error
	hang      bool // never return until cancelled
	ignoreCtx bool // simulate a driver that does not honor cancellation
	hangFor   time.Duration
	mu        sync.Mutex
	started   int
}

func (d *fakeDriver) Run(ctx context.Context, url string) (*probe.Capture, error) {
	d.mu.Lock()
	d.started++
	d.mu.Unlock()
	if d.ignoreCtx {
		time.Sleep(d.hangFor)
		return d.capture, d.err
	}
	if d.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	select {
	case <-time.After(d.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return d.capture, d.err
}

func (d *fakeDriver) startedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started
}

func standardCapture() *probe.Capture {
	return &probe.Capture{
		Timings: probe.Timings{
			TTFBMs:             120,
			DOMContentLoadedMs: 450,
			PageLoadMs:         980,
		},
		Waterfall: &probe.Waterfall{
			StartedAt: time.Now(),
			PageURL:   "https://example.com",
			Entries: []probe.Entry{
				{URL: "https://example.com", Method: "GET", Status: 200, DurationMs: 120},
			},
		},
	}
}
