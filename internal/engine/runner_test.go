package engine

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/probelab/synthmon/internal/probe"
)

func TestRunnerCompleted(t *testing.T) {
	runner := NewRunner(&fakeDriver{capture: standardCapture()})

	out := runner.Run(context.Background(), "https://example.com", time.Second)
	if out.State != probe.StateCompleted {
		t.Fatalf("state = %v, want completed", out.State)
	}
	if out.Capture == nil || out.Capture.Timings.TTFBMs != 120 {
		t.Fatalf("capture not propagated: %+v", out.Capture)
	}
}

func TestRunnerFailedReasonVerbatim(t *testing.T) {
	runner := NewRunner(&fakeDriver{err: errors.New("net::ERR_NAME_NOT_RESOLVED")})

	out := runner.Run(context.Background(), "https://nxdomain.invalid", time.Second)
	if out.State != probe.StateFailed {
		t.Fatalf("state = %v, want failed", out.State)
	}
	if out.Reason != "net::ERR_NAME_NOT_RESOLVED" {
		t.Fatalf("reason = %q, want driver error preserved verbatim", out.Reason)
	}
}

func TestRunnerTimedOutWithinBound(t *testing.T) {
	runner := NewRunner(&fakeDriver{hang: true})

	const timeout = 50 * time.Millisecond
	start := time.Now()
	out := runner.Run(context.Background(), "https://slow.example.com", timeout)
	elapsed := time.Since(start)

	if out.State != probe.StateTimedOut {
		t.Fatalf("state = %v, want timed out", out.State)
	}
	if elapsed > timeout+500*time.Millisecond {
		t.Fatalf("runner returned after %v, want within timeout plus grace", elapsed)
	}
}

func TestRunnerForcesReturnWhenDriverIgnoresCancel(t *testing.T) {
	runner := NewRunner(&fakeDriver{ignoreCtx: true, hangFor: 3 * time.Second})
	runner.grace = 50 * time.Millisecond

	const timeout = 50 * time.Millisecond
	start := time.Now()
	out := runner.Run(context.Background(), "https://stuck.example.com", timeout)
	elapsed := time.Since(start)

	if out.State != probe.StateTimedOut {
		t.Fatalf("state = %v, want timed out", out.State)
	}
	if elapsed > timeout+runner.grace+500*time.Millisecond {
		t.Fatalf("runner returned after %v despite stuck driver", elapsed)
	}
}

func TestRunnerShutdownClassifiedAsAborted(t *testing.T) {
	runner := NewRunner(&fakeDriver{hang: true})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	out := runner.Run(ctx, "https://example.com", time.Minute)

	if out.State != probe.StateFailed {
		t.Fatalf("state = %v, want failed", out.State)
	}
	if out.Reason != ReasonShutdown {
		t.Fatalf("reason = %q, want %q", out.Reason, ReasonShutdown)
	}
}
