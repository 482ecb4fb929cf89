// Package metrics keeps a small local time-series store for engine
// gauges and counters, persisted under the application workdir.
package metrics

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/nakabonne/tstorage"
)

var (
	mu       sync.Mutex
	storage  tstorage.Storage
	counters = make(map[string]float64)
)

// InitMetrics opens the metric store under workdir. Until it is called
// (for example in tests) all writes are dropped.
func InitMetrics(workdir string) error {
	s, err := tstorage.NewStorage(
		tstorage.WithDataPath(filepath.Join(workdir, "metrics")),
		tstorage.WithTimestampPrecision(tstorage.Seconds),
		tstorage.WithRetention(7*24*time.Hour),
	)
	if err != nil {
		return err
	}
	mu.Lock()
	storage = s
	mu.Unlock()
	return nil
}

// SetGauge records the current value of a gauge metric.
func SetGauge(name string, value int64) {
	insert(name, float64(value))
}

// IncrCounter adds delta to a cumulative counter and records the new total.
func IncrCounter(name string, delta int64) {
	mu.Lock()
	counters[name] += float64(delta)
	v := counters[name]
	mu.Unlock()
	insert(name, v)
}

// Query returns the data points of a metric in [start, end] (unix seconds).
func Query(name string, start, end int64) ([]*tstorage.DataPoint, error) {
	mu.Lock()
	s := storage
	mu.Unlock()
	if s == nil {
		return nil, nil
	}
	return s.Select(name, nil, start, end)
}

func insert(name string, value float64) {
	mu.Lock()
	s := storage
	mu.Unlock()
	if s == nil {
		return
	}
	_ = s.InsertRows([]tstorage.Row{{
		Metric:    name,
		DataPoint: tstorage.DataPoint{Timestamp: time.Now().Unix(), Value: value},
	}})
}

// Close flushes and closes the metric store.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if storage == nil {
		return nil
	}
	err := storage.Close()
	storage = nil
	return err
}
