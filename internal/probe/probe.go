// Package probe defines the browser-automation capability consumed by
// the engine. The engine never talks to a browser directly; it drives a
// Driver and classifies what comes back, so tests can substitute a
// deterministic fake.
package probe

import (
	"context"
	"time"
)

// State is the terminal state of one check run.
type State int

const (
	StateCompleted State = iota
	StateFailed
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Timings are page timing values in milliseconds.
type Timings struct {
	TTFBMs             float64 `json:"ttfb_ms"`
	DOMContentLoadedMs float64 `json:"dom_content_loaded_ms"`
	PageLoadMs         float64 `json:"page_load_time_ms"`
}

// Entry is one request in the network waterfall.
type Entry struct {
	URL        string  `json:"url"`
	Method     string  `json:"method"`
	MimeType   string  `json:"mime_type,omitempty"`
	Status     int64   `json:"status,omitempty"`
	StartMs    float64 `json:"start_ms"`
	DurationMs float64 `json:"duration_ms"`
	SizeBytes  float64 `json:"size_bytes"`
}

// Waterfall is the full per-request timing record captured during a run.
type Waterfall struct {
	StartedAt time.Time `json:"started_at"`
	PageURL   string    `json:"page_url"`
	Entries   []Entry   `json:"entries"`
}

// Capture is the raw data a driver yields for a completed session.
type Capture struct {
	Timings   Timings
	Waterfall *Waterfall
}

// Driver runs one browser session against a URL. Implementations must
// honor ctx cancellation and release browser resources before returning.
type Driver interface {
	Run(ctx context.Context, url string) (*Capture, error)
}

// Outcome is the classified result of one run.
type Outcome struct {
	State   State
	Reason  string
	Capture *Capture
}
