// Package browser is the production browser-automation capability,
// driving headless Chrome over CDP.
package browser

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/pkg/errors"

	"github.com/probelab/synthmon/internal/probe"
)

// Chrome implements probe.Driver on chromedp. Every Run launches an
// isolated browser context so one misbehaving page cannot poison the
// next run.
type Chrome struct {
	execPath string
}

func New(execPath string) *Chrome {
	return &Chrome{execPath: execPath}
}

type navTiming struct {
	TTFB float64 `json:"ttfb"`
	DCL  float64 `json:"dcl"`
	Load float64 `json:"load"`
}

const navTimingJS = `(() => {
	const nav = performance.getEntriesByType('navigation')[0];
	if (nav) {
		return { ttfb: nav.responseStart, dcl: nav.domContentLoadedEventEnd, load: nav.loadEventEnd };
	}
	const t = performance.timing;
	return {
		ttfb: t.responseStart - t.navigationStart,
		dcl: t.domContentLoadedEventEnd - t.navigationStart,
		load: t.loadEventEnd - t.navigationStart
	};
})()`

// Run navigates to url, waits for the load event and extracts timing
// values plus the network waterfall. It returns as soon as ctx is
// cancelled; chromedp tears the browser down with the context.
func (c *Chrome) Run(ctx context.Context, url string) (*probe.Capture, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-gpu", true),
	)
	if c.execPath != "" {
		opts = append(opts, chromedp.ExecPath(c.execPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	runCtx, cancelRun := chromedp.NewContext(allocCtx)
	defer cancelRun()

	rec := newWaterfallRecorder(url)
	chromedp.ListenTarget(runCtx, rec.onEvent)

	var timing navTiming
	err := chromedp.Run(runCtx,
		network.Enable(),
		chromedp.Navigate(url),
		chromedp.Evaluate(navTimingJS, &timing),
	)
	if err != nil {
		return nil, err
	}

	if status := rec.documentStatus(); status >= 400 {
		return nil, errors.Errorf("http status %d", status)
	}

	return &probe.Capture{
		Timings: probe.Timings{
			TTFBMs:             timing.TTFB,
			DOMContentLoadedMs: timing.DCL,
			PageLoadMs:         timing.Load,
		},
		Waterfall: rec.waterfall(),
	}, nil
}

// waterfallRecorder accumulates CDP network events into waterfall
// entries. Events arrive on chromedp's handler goroutine, hence the
// mutex.
type waterfallRecorder struct {
	mu        sync.Mutex
	pageURL   string
	startedAt time.Time
	first     time.Time
	order     []network.RequestID
	entries   map[network.RequestID]*probe.Entry
	started   map[network.RequestID]time.Time
	docStatus int64
}

func newWaterfallRecorder(pageURL string) *waterfallRecorder {
	return &waterfallRecorder{
		pageURL:   pageURL,
		startedAt: time.Now(),
		entries:   make(map[network.RequestID]*probe.Entry),
		started:   make(map[network.RequestID]time.Time),
	}
}

func (r *waterfallRecorder) onEvent(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		r.mu.Lock()
		ts := eventTime(e.Timestamp)
		if r.first.IsZero() {
			r.first = ts
		}
		r.order = append(r.order, e.RequestID)
		r.started[e.RequestID] = ts
		r.entries[e.RequestID] = &probe.Entry{
			URL:     e.Request.URL,
			Method:  e.Request.Method,
			StartMs: float64(ts.Sub(r.first)) / float64(time.Millisecond),
		}
		r.mu.Unlock()
	case *network.EventResponseReceived:
		r.mu.Lock()
		if entry, ok := r.entries[e.RequestID]; ok {
			entry.Status = e.Response.Status
			entry.MimeType = e.Response.MimeType
		}
		if e.Type == network.ResourceTypeDocument && r.docStatus == 0 {
			r.docStatus = e.Response.Status
		}
		r.mu.Unlock()
	case *network.EventLoadingFinished:
		r.mu.Lock()
		if entry, ok := r.entries[e.RequestID]; ok {
			entry.SizeBytes = e.EncodedDataLength
			if start, ok := r.started[e.RequestID]; ok {
				entry.DurationMs = float64(eventTime(e.Timestamp).Sub(start)) / float64(time.Millisecond)
			}
		}
		r.mu.Unlock()
	case *network.EventLoadingFailed:
		r.mu.Lock()
		if entry, ok := r.entries[e.RequestID]; ok && entry.MimeType == "" {
			entry.MimeType = "failed: " + e.ErrorText
		}
		r.mu.Unlock()
	}
}

func (r *waterfallRecorder) documentStatus() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.docStatus
}

func (r *waterfallRecorder) waterfall() *probe.Waterfall {
	r.mu.Lock()
	defer r.mu.Unlock()
	wf := &probe.Waterfall{
		StartedAt: r.startedAt,
		PageURL:   r.pageURL,
		Entries:   make([]probe.Entry, 0, len(r.order)),
	}
	for _, id := range r.order {
		if entry, ok := r.entries[id]; ok {
			wf.Entries = append(wf.Entries, *entry)
		}
	}
	return wf
}

func eventTime(t *cdp.MonotonicTime) time.Time {
	if t == nil {
		return time.Now()
	}
	return t.Time()
}
