package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/probelab/synthmon/internal/domain"
	"github.com/probelab/synthmon/internal/repository"
)

func newTestDispatcher(t *testing.T, monitors *fakeMonitorRepo, logs *fakeLogRepo, metricDB *fakeMetricRepo, driver *fakeDriver, capacity, queue int) *Dispatcher {
	t.Helper()
	pool, err := NewPool(capacity, queue)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(func() { pool.Shutdown(time.Second) })
	p := NewPersister(logs, metricDB)
	p.backoff = time.Millisecond
	return NewDispatcher(monitors, logs, NewClock(time.UTC), pool, NewRunner(driver), p, time.Second)
}

func testMonitor(id int64, cron string) domain.Monitor {
	return domain.Monitor{
		ID:             id,
		Name:           "checkout page",
		URL:            "https://example.com",
		ScheduleCron:   cron,
		Enabled:        true,
		TimeoutSeconds: 30,
		CreatedAt:      time.Now().Add(-10 * time.Minute),
	}
}

func TestDispatchDueRunsAndPersists(t *testing.T) {
	monitors := newFakeMonitorRepo(testMonitor(1, "* * * * *"))
	logs := newFakeLogRepo()
	metricDB := newFakeMetricRepo()
	driver := &fakeDriver{capture: standardCapture()}
	d := newTestDispatcher(t, monitors, logs, metricDB, driver, 5, 10)

	d.DispatchDue(context.Background())

	lg := logs.waitTerminal(1, 2*time.Second)
	if lg == nil {
		t.Fatal("run did not reach a terminal status")
	}
	if lg.Status != domain.ExecStatusSuccess {
		t.Fatalf("status = %q (%s), want success", lg.Status, lg.ErrorMessage)
	}
	got := metricDB.samples(lg.ID)
	if got[domain.MetricTTFB] != 120 || got[domain.MetricDOMContentLoaded] != 450 || got[domain.MetricPageLoadTime] != 980 {
		t.Fatalf("metric values = %v, want exact driver timings", got)
	}
}

func TestConcurrentRunNowSingleWinner(t *testing.T) {
	monitors := newFakeMonitorRepo(testMonitor(1, "*/5 * * * *"))
	logs := newFakeLogRepo()
	driver := &fakeDriver{delay: 300 * time.Millisecond, capture: standardCapture()}
	d := newTestDispatcher(t, monitors, logs, newFakeMetricRepo(), driver, 5, 100)

	const attempts = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted, conflicts := 0, 0
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.RunNow(context.Background(), 1)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, repository.ErrAlreadyRunning):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if accepted != 1 || conflicts != attempts-1 {
		t.Fatalf("accepted=%d conflicts=%d, want exactly one winner", accepted, conflicts)
	}
	if n := logs.countByStatus(domain.ExecStatusRunning); n != 1 {
		t.Fatalf("%d running logs exist, want 1", n)
	}
}

func TestRunNowWhileScheduledRunInFlight(t *testing.T) {
	monitors := newFakeMonitorRepo(testMonitor(1, "* * * * *"))
	logs := newFakeLogRepo()
	driver := &fakeDriver{hang: true}
	d := newTestDispatcher(t, monitors, logs, newFakeMetricRepo(), driver, 5, 10)

	d.DispatchDue(context.Background())
	waitFor(t, func() bool { return driver.startedCount() == 1 })

	if _, err := d.RunNow(context.Background(), 1); !errors.Is(err, repository.ErrAlreadyRunning) {
		t.Fatalf("error = %v, want ErrAlreadyRunning", err)
	}
	if n := logs.countByStatus(domain.ExecStatusRunning); n != 1 {
		t.Fatalf("%d running logs, want 1 (no duplicate row)", n)
	}
}

func TestRunNowUnknownMonitor(t *testing.T) {
	d := newTestDispatcher(t, newFakeMonitorRepo(), newFakeLogRepo(), newFakeMetricRepo(), &fakeDriver{}, 1, 1)
	if _, err := d.RunNow(context.Background(), 404); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestDispatchSkipsInvalidSchedule(t *testing.T) {
	monitors := newFakeMonitorRepo(testMonitor(1, "not a cron"))
	logs := newFakeLogRepo()
	d := newTestDispatcher(t, monitors, logs, newFakeMetricRepo(), &fakeDriver{}, 1, 1)

	d.DispatchDue(context.Background())
	d.DispatchDue(context.Background())

	if len(logs.logs) != 0 {
		t.Fatalf("monitor with invalid schedule was dispatched %d times", len(logs.logs))
	}
}

func TestEnqueueDeletedMonitorNoops(t *testing.T) {
	m := testMonitor(1, "* * * * *")
	monitors := newFakeMonitorRepo(m)
	logs := newFakeLogRepo()
	d := newTestDispatcher(t, monitors, logs, newFakeMetricRepo(), &fakeDriver{}, 1, 1)

	// monitor deleted between the tick's listing and its dispatch: the
	// enqueue re-fetch notices and no row is created
	monitors.delete(1)
	if _, err := d.enqueue(context.Background(), 1, false); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
	if len(logs.logs) != 0 {
		t.Fatal("deleted monitor produced an execution log")
	}
}

func TestEnqueueDisabledMonitorSkipped(t *testing.T) {
	m := testMonitor(1, "* * * * *")
	m.Enabled = false
	monitors := newFakeMonitorRepo(m)
	logs := newFakeLogRepo()
	d := newTestDispatcher(t, monitors, logs, newFakeMetricRepo(), &fakeDriver{capture: standardCapture()}, 1, 1)

	if _, err := d.enqueue(context.Background(), 1, false); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("scheduled enqueue of disabled monitor: err = %v, want ErrNotFound", err)
	}

	// run-now still works on a disabled monitor
	logID, err := d.RunNow(context.Background(), 1)
	if err != nil {
		t.Fatalf("RunNow on disabled monitor: %v", err)
	}
	if logs.waitTerminal(logID, 2*time.Second) == nil {
		t.Fatal("manual run did not finish")
	}
}

func TestDispatchPoolSaturatedSkipsTick(t *testing.T) {
	m1 := testMonitor(1, "* * * * *")
	m2 := testMonitor(2, "* * * * *")
	monitors := newFakeMonitorRepo(m1, m2)
	logs := newFakeLogRepo()
	driver := &fakeDriver{hang: true}
	d := newTestDispatcher(t, monitors, logs, newFakeMetricRepo(), driver, 1, 0)

	d.DispatchDue(context.Background())
	waitFor(t, func() bool { return driver.startedCount() == 1 })

	// exactly one run claimed the single slot; the other monitor got
	// ErrPoolSaturated before any durable state existed
	if n := logs.countByStatus(domain.ExecStatusRunning); n != 1 {
		t.Fatalf("%d running logs, want 1", n)
	}
	if n := len(logs.logs); n != 1 {
		t.Fatalf("%d log rows exist, want 1: saturation must not create rows", n)
	}
}

func TestEnqueueSaturatedCreatesNoRow(t *testing.T) {
	monitors := newFakeMonitorRepo(testMonitor(1, "* * * * *"), testMonitor(2, "* * * * *"))
	logs := newFakeLogRepo()
	driver := &fakeDriver{hang: true}
	d := newTestDispatcher(t, monitors, logs, newFakeMetricRepo(), driver, 1, 0)

	if _, err := d.RunNow(context.Background(), 1); err != nil {
		t.Fatalf("first run: %v", err)
	}
	waitFor(t, func() bool { return driver.startedCount() == 1 })

	if _, err := d.RunNow(context.Background(), 2); !errors.Is(err, ErrPoolSaturated) {
		t.Fatalf("error = %v, want ErrPoolSaturated", err)
	}
	if n := len(logs.logs); n != 1 {
		t.Fatalf("%d log rows exist, want 1: the rejected run must leave no trace", n)
	}
}

func TestDispatchAdvancesScheduleAfterRun(t *testing.T) {
	monitors := newFakeMonitorRepo(testMonitor(1, "* * * * *"))
	logs := newFakeLogRepo()
	driver := &fakeDriver{capture: standardCapture()}
	d := newTestDispatcher(t, monitors, logs, newFakeMetricRepo(), driver, 5, 10)

	start := time.Now()
	d.DispatchDue(context.Background())
	if logs.waitTerminal(1, 2*time.Second) == nil {
		t.Fatal("first run did not finish")
	}

	// the cached next-due time must now sit in the next cron slot, so
	// the monitor cannot fire twice within one minute
	d.mu.Lock()
	due, ok := d.nextDue[1]
	d.mu.Unlock()
	if !ok {
		t.Fatal("next-due cache entry missing after dispatch")
	}
	if !due.After(start) {
		t.Fatalf("next due %v not advanced past dispatch time %v", due, start)
	}
	if driver.startedCount() != 1 {
		t.Fatalf("driver started %d times, want 1", driver.startedCount())
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
