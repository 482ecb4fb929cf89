package engine

import (
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
)

// ErrPoolSaturated is returned when both the execution slots and the
// waiting queue are exhausted. The dispatcher skips the tick for that
// monitor and retries on the next cycle.
var ErrPoolSaturated = errors.New("execution pool saturated")

type task struct {
	run   func()
	abort func()
}

// Pool bounds concurrent check runs. capacity slots run at once; up to
// queueDepth further reserved runs wait for a free slot in arrival
// order. Admission is a separate step (Reserve) so callers can decide
// saturation before creating any durable state for the run.
type Pool struct {
	workers    *ants.Pool
	tasks      chan task
	stop       chan struct{}
	capacity   int
	queueDepth int

	mu      sync.Mutex
	pending int // reserved and not yet finished
	stopped bool
}

func NewPool(capacity, queueDepth int) (*Pool, error) {
	if capacity <= 0 {
		capacity = 1
	}
	if queueDepth < 0 {
		queueDepth = 0
	}
	workers, err := ants.NewPool(capacity, ants.WithNonblocking(false))
	if err != nil {
		return nil, errors.Wrap(err, "create worker pool")
	}
	p := &Pool{
		workers:    workers,
		tasks:      make(chan task, capacity+queueDepth),
		stop:       make(chan struct{}),
		capacity:   capacity,
		queueDepth: queueDepth,
	}
	go p.feed()
	return p, nil
}

// feed moves queued tasks onto worker slots one at a time, so waiters
// start in the order they were submitted.
func (p *Pool) feed() {
	for {
		select {
		case t := <-p.tasks:
			p.dispatch(t)
		case <-p.stop:
			for {
				select {
				case t := <-p.tasks:
					p.finish()
					t.abort()
				default:
					return
				}
			}
		}
	}
}

func (p *Pool) dispatch(t task) {
	err := p.workers.Submit(func() {
		defer p.finish()
		t.run()
	})
	if err != nil {
		// pool released while waiting for a slot
		p.finish()
		t.abort()
	}
}

func (p *Pool) finish() {
	p.mu.Lock()
	p.pending--
	p.mu.Unlock()
}

// Reserve claims an execution slot or queue position, failing fast with
// ErrPoolSaturated when both are exhausted. The reservation is held
// until the submitted run finishes, or until Release for a run that is
// never submitted.
func (p *Pool) Reserve() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped || p.pending >= p.capacity+p.queueDepth {
		return ErrPoolSaturated
	}
	p.pending++
	return nil
}

// Release returns an unused reservation.
func (p *Pool) Release() {
	p.finish()
}

// Submit enqueues a previously reserved run. The slot is held until run
// returns, which includes result persistence, so a monitor's
// reservation outlives its browser session. abort is invoked instead of
// run when the pool shuts down before the task ever starts.
func (p *Pool) Submit(run func(), abort func()) {
	p.mu.Lock()
	if p.stopped {
		p.pending--
		p.mu.Unlock()
		abort()
		return
	}
	// the buffer is sized to the admission bound, so a reserved send
	// never blocks
	p.tasks <- task{run: run, abort: abort}
	p.mu.Unlock()
}

// Saturated reports whether a Reserve would fail fast right now.
func (p *Pool) Saturated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped || p.pending >= p.capacity+p.queueDepth
}

// Capacity returns the configured slot count.
func (p *Pool) Capacity() int { return p.capacity }

// InFlight returns the number of runs currently holding a slot.
func (p *Pool) InFlight() int { return p.workers.Running() }

// Waiting returns the number of reserved runs not yet on a slot.
func (p *Pool) Waiting() int {
	p.mu.Lock()
	pending := p.pending
	p.mu.Unlock()
	w := pending - p.workers.Running()
	if w < 0 {
		w = 0
	}
	return w
}

// Shutdown stops accepting work and waits up to timeout for in-flight
// runs to finish. Queued runs that never started are aborted.
func (p *Pool) Shutdown(timeout time.Duration) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()
	_ = p.workers.ReleaseTimeout(timeout)
	close(p.stop)
}
