// internal/queue/queue.go
package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tenant-broadcast/internal/metrics"
	"tenant-broadcast/internal/ratelimit"
)

var (
	ErrQueueStopped = errors.New("queue stopped")
	ErrQueueClosed  = errors.New("queue closed")
)

// Task is one deferred unit of work, typically a single outbound send.
type Task func(ctx context.Context) (any, error)

type Stats struct {
	Pending  int `json:"pending"`
	InFlight int `json:"in_flight"`
}

type entry struct {
	ctx    context.Context
	task   Task
	future *Future
}

// Queue runs one tenant's tasks in FIFO order, at most MaxConcurrent at a
// time and never two dispatches closer than MinInterval.
type Queue struct {
	tenant string
	gate   *ratelimit.Gate
	log    zerolog.Logger
	now    func() time.Time

	mu       sync.Mutex
	cfg      Config
	pending  []*entry
	inFlight int
	timer    *time.Timer
	closed   bool

	wg sync.WaitGroup
}

func New(tenant string, cfg Config, gate *ratelimit.Gate, log zerolog.Logger) *Queue {
	return &Queue{
		tenant: tenant,
		gate:   gate,
		log:    log.With().Str("tenant", tenant).Logger(),
		now:    time.Now,
		cfg:    cfg,
	}
}

// Add appends task and returns its future. It never fails synchronously:
// rejections are reported through the future.
func (q *Queue) Add(ctx context.Context, task Task) *Future {
	f := newFuture()
	if task == nil {
		f.settle(nil, errors.New("queue: nil task"))
		return f
	}
	if ctx == nil {
		ctx = context.Background()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		f.settle(nil, ErrQueueClosed)
		return f
	}
	q.pending = append(q.pending, &entry{ctx: ctx, task: task, future: f})
	q.pumpLocked()
	q.updateGaugesLocked()
	return f
}

// pumpLocked dispatches as many pending tasks as the limits allow. When the
// rate gate refuses, a single timer is armed for the remaining wait.
func (q *Queue) pumpLocked() {
	for len(q.pending) > 0 && q.inFlight < q.cfg.MaxConcurrent {
		head := q.pending[0]
		if err := head.ctx.Err(); err != nil {
			q.popLocked()
			head.future.settle(nil, err)
			continue
		}

		now := q.now()
		if !q.gate.Allow(q.tenant, now, q.cfg.MinInterval) {
			metrics.RateGateDenials.WithLabelValues(q.tenant).Inc()
			q.scheduleLocked(q.gate.Wait(q.tenant, now, q.cfg.MinInterval))
			return
		}

		q.popLocked()
		q.inFlight++
		metrics.TasksDispatched.WithLabelValues(q.tenant).Inc()
		q.wg.Add(1)
		go q.run(head)
	}
}

func (q *Queue) popLocked() {
	q.pending[0] = nil
	q.pending = q.pending[1:]
	if len(q.pending) == 0 {
		q.pending = nil
	}
}

func (q *Queue) scheduleLocked(wait time.Duration) {
	if q.timer != nil {
		return
	}
	if wait <= 0 {
		wait = time.Millisecond
	}
	var t *time.Timer
	t = time.AfterFunc(wait, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		// A stopped or replaced timer may still fire; only the armed one pumps.
		if q.timer != t {
			return
		}
		q.timer = nil
		q.pumpLocked()
		q.updateGaugesLocked()
	})
	q.timer = t
}

func (q *Queue) stopTimerLocked() {
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
}

func (q *Queue) run(e *entry) {
	defer q.wg.Done()

	value, err := q.execute(e)

	outcome := "succeeded"
	if err != nil {
		outcome = "failed"
	}
	metrics.TasksCompleted.WithLabelValues(q.tenant, outcome).Inc()

	q.mu.Lock()
	q.inFlight--
	q.pumpLocked()
	q.updateGaugesLocked()
	q.mu.Unlock()

	e.future.settle(value, err)
}

func (q *Queue) execute(e *entry) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("panic in queued task")
			value, err = nil, fmt.Errorf("queue: task panicked: %v", r)
		}
	}()
	return e.task(e.ctx)
}

// Stop rejects every task that has not been dispatched yet with
// ErrQueueStopped. Tasks already running are left to finish. The queue keeps
// accepting new tasks afterwards. It returns the number of rejected tasks.
func (q *Queue) Stop() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	dropped := q.pending
	q.pending = nil
	q.stopTimerLocked()
	for _, e := range dropped {
		e.future.settle(nil, ErrQueueStopped)
	}
	q.updateGaugesLocked()

	if len(dropped) > 0 {
		q.log.Info().Int("rejected", len(dropped)).Int("in_flight", q.inFlight).Msg("queue stopped")
	}
	return len(dropped)
}

// Close stops the queue for good and waits for in-flight tasks or ctx.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.Stop()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetConfig replaces the dispatch config and re-evaluates the backlog.
func (q *Queue) SetConfig(cfg Config) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.cfg = cfg
	q.stopTimerLocked()
	q.pumpLocked()
	q.updateGaugesLocked()
}

func (q *Queue) Config() Config {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cfg
}

// Pending counts tasks not yet started plus tasks still in flight.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) + q.inFlight
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{Pending: len(q.pending) + q.inFlight, InFlight: q.inFlight}
}

func (q *Queue) updateGaugesLocked() {
	metrics.QueuePending.WithLabelValues(q.tenant).Set(float64(len(q.pending) + q.inFlight))
	metrics.QueueInFlight.WithLabelValues(q.tenant).Set(float64(q.inFlight))
}
