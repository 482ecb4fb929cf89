package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/probelab/synthmon/internal/probe"
)

// ReasonShutdown is recorded when an in-flight run is aborted because
// the process is stopping.
const ReasonShutdown = "execution aborted by shutdown"

// cancelGrace is how long the runner waits for the driver to honor
// cancellation before abandoning it. The runner always returns control
// within timeout + cancelGrace.
const cancelGrace = 2 * time.Second

// Runner drives one browser session for one run, bounded by the
// monitor's timeout. Timeout handling is forced, not advisory: the
// session context is cancelled and the runner returns even if the
// driver misbehaves.
type Runner struct {
	driver probe.Driver
	grace  time.Duration
}

func NewRunner(driver probe.Driver) *Runner {
	return &Runner{driver: driver, grace: cancelGrace}
}

type driverResult struct {
	capture *probe.Capture
	err     error
}

// Run executes the session. ctx is the engine lifetime: its
// cancellation means shutdown, which classifies as Failed with
// ReasonShutdown rather than TimedOut.
func (r *Runner) Run(ctx context.Context, url string, timeout time.Duration) probe.Outcome {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan driverResult, 1)
	go func() {
		capture, err := r.driver.Run(runCtx, url)
		done <- driverResult{capture: capture, err: err}
	}()

	select {
	case res := <-done:
		return r.classify(ctx, runCtx, res)
	case <-runCtx.Done():
	}

	// Deadline hit or shutdown: cancel the session and give the driver a
	// short grace to release the browser before the slot is freed.
	cancel()
	select {
	case res := <-done:
		return r.classify(ctx, runCtx, res)
	case <-time.After(r.grace):
		zap.L().Error("browser driver ignored cancellation, abandoning session",
			zap.String("url", url), zap.Duration("timeout", timeout))
	}
	if ctx.Err() != nil {
		return probe.Outcome{State: probe.StateFailed, Reason: ReasonShutdown}
	}
	return probe.Outcome{State: probe.StateTimedOut}
}

func (r *Runner) classify(ctx, runCtx context.Context, res driverResult) probe.Outcome {
	if res.err == nil && res.capture != nil {
		return probe.Outcome{State: probe.StateCompleted, Capture: res.capture}
	}
	if ctx.Err() != nil {
		return probe.Outcome{State: probe.StateFailed, Reason: ReasonShutdown}
	}
	if runCtx.Err() != nil {
		return probe.Outcome{State: probe.StateTimedOut}
	}
	reason := "browser driver returned no capture"
	if res.err != nil {
		// preserved verbatim for storage
		reason = res.err.Error()
	}
	return probe.Outcome{State: probe.StateFailed, Reason: reason}
}
