package workqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/rs/zerolog"
)

// GlobalKey is the lane for tasks not bound to a container
const GlobalKey = ""

// ErrClosed is returned for tasks submitted to, or left pending in, a closed queue
var ErrClosed = errors.New("work queue closed")

// Task is one unit of work. It runs with the queue's context, which is
// cancelled only when the queue is stopped.
type Task func(ctx context.Context) error

// Callback receives the result of a task exactly once
type Callback func(err error)

// Config holds work queue configuration
type Config struct {
	Workers int
}

type item struct {
	ticket   *Ticket
	task     Task
	callback Callback
	queuedAt time.Time
}

// Queue executes tasks serially per key and in parallel across keys. Tasks for
// one key run in submission order and never overlap. Keys with pending work
// are served round robin, so a busy container cannot starve the others.
type Queue struct {
	mu      sync.Mutex
	lanes   map[string][]*item
	ready   []string // keys with pending work and nothing executing
	busy    map[string]bool
	depth   int
	running int
	closed  bool
	changed chan struct{} // closed and replaced on every state change
	nextID  uint64

	workers int
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	logger  zerolog.Logger
}

// New creates a queue. Workers are not started until Start is called, which
// lets tests drive execution inline with RunFor and RunUntil.
func New(cfg Config) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		lanes:   make(map[string][]*item),
		busy:    make(map[string]bool),
		changed: make(chan struct{}),
		workers: cfg.Workers,
		ctx:     ctx,
		cancel:  cancel,
		logger:  log.WithComponent("workqueue"),
	}
}

// Start launches the worker goroutines
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	q.logger.Info().Int("workers", q.workers).Msg("Work queue started")
}

// Submit queues task on the lane for key
func (q *Queue) Submit(key string, task Task) (*Ticket, error) {
	return q.SubmitWithCallback(key, task, nil)
}

// SubmitWithCallback queues task and arranges for cb to receive its result
func (q *Queue) SubmitWithCallback(key string, task Task, cb Callback) (*Ticket, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrClosed
	}

	q.nextID++
	t := &Ticket{id: q.nextID, key: key, q: q, done: make(chan struct{})}
	it := &item{ticket: t, task: task, callback: cb, queuedAt: time.Now()}

	if len(q.lanes[key]) == 0 && !q.busy[key] {
		q.ready = append(q.ready, key)
	}
	q.lanes[key] = append(q.lanes[key], it)
	q.depth++
	metrics.QueueDepth.Set(float64(q.depth))
	q.broadcastLocked()

	return t, nil
}

// Do submits task and waits for it. If ctx ends while the task is still
// queued the task is cancelled; a task already executing runs to completion
// and Do returns the context error without waiting for it.
func (q *Queue) Do(ctx context.Context, key string, task Task) error {
	t, err := q.Submit(key, task)
	if err != nil {
		return err
	}
	return t.Wait(ctx)
}

// Cancel removes a queued task. It reports false when the task already
// started or finished.
func (q *Queue) Cancel(t *Ticket) bool {
	q.mu.Lock()
	it := q.removeLocked(t)
	q.mu.Unlock()

	if it == nil {
		return false
	}
	q.finish(it, fmt.Errorf("task %d on %q: %w", t.id, t.key, types.ErrCancelled))
	return true
}

func (q *Queue) removeLocked(t *Ticket) *item {
	lane := q.lanes[t.key]
	for i, it := range lane {
		if it.ticket != t {
			continue
		}
		lane = append(lane[:i:i], lane[i+1:]...)
		if len(lane) == 0 {
			delete(q.lanes, t.key)
			q.dropReadyLocked(t.key)
		} else {
			q.lanes[t.key] = lane
		}
		q.depth--
		metrics.QueueDepth.Set(float64(q.depth))
		q.broadcastLocked()
		return it
	}
	return nil
}

func (q *Queue) dropReadyLocked(key string) {
	for i, k := range q.ready {
		if k == key {
			q.ready = append(q.ready[:i:i], q.ready[i+1:]...)
			return
		}
	}
}

// Depth returns the number of queued tasks that have not started
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.depth
}

// Running returns the number of tasks currently executing
func (q *Queue) Running() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// RunOne executes one ready task on the calling goroutine. It reports false
// when no task was ready.
func (q *Queue) RunOne() bool {
	q.mu.Lock()
	it := q.takeLocked()
	q.mu.Unlock()

	if it == nil {
		return false
	}
	q.execute(it)
	return true
}

// RunFor executes ready tasks inline until d has elapsed and returns how many ran
func (q *Queue) RunFor(d time.Duration) int {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()

	n := 0
	for {
		if q.RunOne() {
			n++
			continue
		}
		if !q.waitChange(ctx) {
			return n
		}
	}
}

// RunUntil executes ready tasks inline until pred holds or ctx ends. pred is
// checked before each task. It reports whether pred was satisfied.
func (q *Queue) RunUntil(ctx context.Context, pred func() bool) bool {
	for {
		if pred() {
			return true
		}
		if q.RunOne() {
			continue
		}
		if !q.waitChange(ctx) {
			return pred()
		}
	}
}

// Drain waits until nothing is queued or executing
func (q *Queue) Drain(ctx context.Context) error {
	for {
		q.mu.Lock()
		idle := q.depth == 0 && q.running == 0
		q.mu.Unlock()
		if idle {
			return nil
		}
		if !q.waitChange(ctx) {
			return fmt.Errorf("drain work queue: %w", ctx.Err())
		}
	}
}

// Stop rejects new work, fails queued tasks with ErrClosed, waits for
// executing tasks to return and stops the workers.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true

	var pending []*item
	for _, lane := range q.lanes {
		pending = append(pending, lane...)
	}
	q.lanes = make(map[string][]*item)
	q.ready = nil
	q.depth = 0
	metrics.QueueDepth.Set(0)
	q.broadcastLocked()
	q.mu.Unlock()

	for _, it := range pending {
		q.finish(it, ErrClosed)
	}

	q.wg.Wait()
	q.cancel()
	q.logger.Info().Int("abandoned", len(pending)).Msg("Work queue stopped")
}

func (q *Queue) worker() {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		it := q.takeLocked()
		if it == nil {
			if q.closed {
				q.mu.Unlock()
				return
			}
			ch := q.changed
			q.mu.Unlock()
			<-ch
			continue
		}
		q.mu.Unlock()

		q.execute(it)
	}
}

// takeLocked pops the next task from the first ready key
func (q *Queue) takeLocked() *item {
	if len(q.ready) == 0 {
		return nil
	}
	key := q.ready[0]
	q.ready = q.ready[1:]

	lane := q.lanes[key]
	it := lane[0]
	if len(lane) == 1 {
		delete(q.lanes, key)
	} else {
		q.lanes[key] = lane[1:]
	}

	q.busy[key] = true
	q.depth--
	q.running++
	metrics.QueueDepth.Set(float64(q.depth))
	return it
}

func (q *Queue) execute(it *item) {
	metrics.QueueLatency.Observe(time.Since(it.queuedAt).Seconds())

	err := q.run(it)

	q.mu.Lock()
	key := it.ticket.key
	delete(q.busy, key)
	q.running--
	if len(q.lanes[key]) > 0 {
		q.ready = append(q.ready, key)
	}
	q.broadcastLocked()
	q.mu.Unlock()

	q.finish(it, err)
}

func (q *Queue) run(it *item) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error().
				Str("key", it.ticket.key).
				Interface("panic", r).
				Msg("Task panicked")
			err = fmt.Errorf("task on %q panicked: %v", it.ticket.key, r)
		}
	}()
	return it.task(q.ctx)
}

func (q *Queue) finish(it *item, err error) {
	it.ticket.complete(err)
	if it.callback != nil {
		it.callback(err)
	}
}

func (q *Queue) broadcastLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// waitChange blocks until the queue state changes or ctx ends
func (q *Queue) waitChange(ctx context.Context) bool {
	q.mu.Lock()
	ch := q.changed
	q.mu.Unlock()

	select {
	case <-ch:
		return true
	case <-ctx.Done():
		return false
	}
}
