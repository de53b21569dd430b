package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/sensornet/internal/ir"
)

// ErrorHandler receives task bodies that failed or panicked.
type ErrorHandler func(t Task, err error)

// Scheduler orders, times, executes, reschedules and kills the tasks of one
// node.
//
// Thread-safety model:
//   - Submit, Kill, Contains, ContainsQuery, Size, Lookup: safe from any goroutine
//   - Run: must be called from exactly one goroutine
//
// The queue and both maps are mutated only under mu. Task bodies run in
// their own goroutines and never hold mu.
type Scheduler struct {
	mu      sync.Mutex
	queue   taskQueue
	tasks   map[ir.TaskID]Task
	byQuery map[int32]map[ir.TaskID]struct{}

	// wake has capacity 1 so submissions coalesce while the loop is busy.
	wake chan struct{}

	clock     quartz.Clock
	logger    *slog.Logger
	onError   ErrorHandler
	notifiers []SleepNotifier
	metrics   *metrics

	inflight sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock sets the time source. Defaults to the real clock.
func WithClock(c quartz.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithErrorHandler sets the handler for failed task bodies. The default
// handler logs the failure.
func WithErrorHandler(h ErrorHandler) Option {
	return func(s *Scheduler) { s.onError = h }
}

// WithRegisterer registers the scheduler's metrics on r. Without it the
// metrics are kept but not exported.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(s *Scheduler) { s.metrics = newMetrics(r) }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithSleepNotifier adds a collaborator told when the loop blocks and wakes.
func WithSleepNotifier(n SleepNotifier) Option {
	return func(s *Scheduler) { s.notifiers = append(s.notifiers, n) }
}

// New creates an empty scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		tasks:   make(map[ir.TaskID]Task),
		byQuery: make(map[int32]map[ir.TaskID]struct{}),
		wake:    make(chan struct{}, 1),
		clock:   quartz.NewReal(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = newMetrics(nil)
	}
	if s.onError == nil {
		s.onError = func(t Task, err error) {
			s.logger.Error("task failed", "task", t.Details().ID, "kind", t.Details().Kind, "error", err)
		}
	}
	return s
}

// Clock returns the scheduler's time source.
func (s *Scheduler) Clock() quartz.Clock { return s.clock }

// Submit adds t to the scheduler. It returns false, and changes nothing, if a
// task with the same ID is already present.
func (s *Scheduler) Submit(t Task) bool {
	d := t.Details()

	s.mu.Lock()
	if _, ok := s.tasks[d.ID]; ok {
		s.mu.Unlock()
		s.logger.Debug("duplicate task ignored", "task", d.ID, "kind", d.Kind)
		return false
	}
	d.setStatus(StatusSubmitted)
	s.tasks[d.ID] = t
	ids, ok := s.byQuery[d.ID.QueryID]
	if !ok {
		ids = make(map[ir.TaskID]struct{})
		s.byQuery[d.ID.QueryID] = ids
	}
	ids[d.ID] = struct{}{}
	heap.Push(&s.queue, t)
	s.metrics.queued.Set(float64(len(s.tasks)))
	s.mu.Unlock()

	s.metrics.submitted.WithLabelValues(d.Kind).Inc()
	s.signal()
	return true
}

// Kill marks every task of the query Killed and removes it, calling each
// task's TornDown hook. It returns the number of tasks killed; an unknown
// query is not an error.
func (s *Scheduler) Kill(queryID int32) int {
	s.mu.Lock()
	ids := s.byQuery[queryID]
	killed := make([]Task, 0, len(ids))
	for id := range ids {
		t := s.tasks[id]
		t.Details().setStatus(StatusKilled)
		s.removeLocked(t)
		killed = append(killed, t)
	}
	s.mu.Unlock()

	for _, t := range killed {
		s.metrics.killed.WithLabelValues(t.Details().Kind).Inc()
		t.TornDown()
	}
	if len(killed) > 0 {
		s.logger.Info("query killed", "query", queryID, "tasks", len(killed))
		s.signal()
	}
	return len(killed)
}

// Contains reports whether a task with the ID is held by the scheduler.
func (s *Scheduler) Contains(id ir.TaskID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[id]
	return ok
}

// ContainsQuery reports whether any task of the query is held.
func (s *Scheduler) ContainsQuery(queryID int32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byQuery[queryID]) > 0
}

// Size returns the number of tasks held, queued or running.
func (s *Scheduler) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Lookup returns the task with the ID, or an ErrCodeNotFound error.
func (s *Scheduler) Lookup(id ir.TaskID) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, ir.NotFound(id)
	}
	return t, nil
}

// Run executes due tasks until ctx is cancelled, then waits for the task
// bodies still running and returns ctx.Err().
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler starting")
	defer s.inflight.Wait()

	for {
		t, wait := s.next()
		if t != nil {
			s.dispatch(ctx, t)
			continue
		}
		if !s.sleep(ctx, wait) {
			s.logger.Info("scheduler stopping: context cancelled")
			return ctx.Err()
		}
	}
}

// next pops the earliest task if it is due. Otherwise it returns how long
// to wait for it, or a negative duration when the queue is empty.
func (s *Scheduler) next() (Task, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.queue.peek()
	if t == nil {
		return nil, -1
	}
	d := t.Details()
	now := s.clock.Now()
	if due := d.Due(); due.After(now) {
		return nil, due.Sub(now)
	}
	heap.Pop(&s.queue)
	d.setStatus(StatusRunning)
	d.consumeRun()
	return t, 0
}

// sleep blocks until the wait elapses, a submission arrives or ctx is done.
// It returns false when ctx is done.
func (s *Scheduler) sleep(ctx context.Context, wait time.Duration) bool {
	for _, n := range s.notifiers {
		n.Sleep()
	}
	defer func() {
		for _, n := range s.notifiers {
			n.Wake()
		}
	}()

	if wait < 0 {
		select {
		case <-ctx.Done():
			return false
		case <-s.wake:
			return true
		}
	}

	timer := s.clock.NewTimer(wait, "scheduler")
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-s.wake:
	case <-timer.C:
	}
	return true
}

func (s *Scheduler) dispatch(ctx context.Context, t Task) {
	d := t.Details()
	due := d.Due()
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		err := s.execute(ctx, t, due)
		s.metrics.executed.WithLabelValues(d.Kind).Inc()
		if err != nil {
			s.metrics.failed.WithLabelValues(d.Kind).Inc()
			s.onError(t, err)
		}
		s.finish(t)
	}()
}

func (s *Scheduler) execute(ctx context.Context, t Task, due time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("task panicked", "task", t.Details().ID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("task %s panicked: %v", t.Details().ID, r)
		}
	}()
	return t.Run(ctx, due)
}

// finish reschedules t after a run, or removes it once its runs are spent.
// A task killed while its body ran was already torn down by Kill.
func (s *Scheduler) finish(t Task) {
	d := t.Details()

	s.mu.Lock()
	if cur, ok := s.tasks[d.ID]; !ok || cur.Details() != d {
		s.mu.Unlock()
		return
	}
	if d.repeats() {
		d.SetDue(d.Due().Add(d.Period))
		d.setStatus(StatusSubmitted)
		heap.Push(&s.queue, t)
		s.mu.Unlock()

		t.Rescheduled()
		s.signal()
		return
	}
	s.removeLocked(t)
	d.setStatus(StatusComplete)
	s.mu.Unlock()

	t.TornDown()
}

// removeLocked drops t from the queue and both maps. Callers hold mu.
func (s *Scheduler) removeLocked(t Task) {
	d := t.Details()
	s.queue.remove(t)
	delete(s.tasks, d.ID)
	if ids, ok := s.byQuery[d.ID.QueryID]; ok {
		delete(ids, d.ID)
		if len(ids) == 0 {
			delete(s.byQuery, d.ID.QueryID)
		}
	}
	s.metrics.queued.Set(float64(len(s.tasks)))
}

// signal wakes the loop without blocking.
func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
