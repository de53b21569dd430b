package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/atomic"

	"github.com/roach88/sensornet/internal/ir"
)

// Forever is the RunsTotal of a task that reschedules until killed.
const Forever int32 = -1

// Status is the lifecycle state of a task.
type Status int32

const (
	StatusSubmitted Status = iota
	StatusRunning
	StatusKilled
	StatusComplete
)

func (s Status) String() string {
	switch s {
	case StatusSubmitted:
		return "Submitted"
	case StatusRunning:
		return "Running"
	case StatusKilled:
		return "Killed"
	case StatusComplete:
		return "Complete"
	default:
		return fmt.Sprintf("Status(%d)", int32(s))
	}
}

// Task is a schedulable unit of work.
//
// Run executes the task body for the given due time. Rescheduled is called
// after the scheduler re-queues a periodic task; TornDown is called once when
// the task leaves the scheduler, whether it completed or was killed. Hooks
// run outside the scheduler's lock.
type Task interface {
	Details() *Details
	Run(ctx context.Context, due time.Time) error
	Rescheduled()
	TornDown()
}

// Details is the scheduling state every task carries.
//
// ID, Kind, Period and RunsTotal are fixed at construction. Due, remaining
// runs and status are mutated only by the scheduler once the task is
// submitted; they are atomics so tasks and observers may read them at any
// time.
type Details struct {
	ID        ir.TaskID
	Kind      string // metrics label, e.g. "query"
	Period    time.Duration
	RunsTotal int32

	due           atomic.Time
	runsRemaining atomic.Int32
	status        atomic.Int32

	index int // position in the queue, -1 when not queued; guarded by Scheduler.mu
}

// NewDetails creates scheduling state for a task first due at due.
// A zero period makes the task one-shot whatever runs says.
func NewDetails(id ir.TaskID, kind string, due time.Time, period time.Duration, runs int32) *Details {
	d := &Details{
		ID:        id,
		Kind:      kind,
		Period:    period,
		RunsTotal: runs,
		index:     -1,
	}
	d.due.Store(due)
	d.runsRemaining.Store(runs)
	return d
}

// Due returns the next execution time.
func (d *Details) Due() time.Time { return d.due.Load() }

// SetDue moves the first execution time. It must only be called before the
// task is submitted.
func (d *Details) SetDue(t time.Time) { d.due.Store(t) }

// Skip moves a task that is not yet submitted forward by n periods and
// consumes n runs. Used by nodes that join a periodic task late.
func (d *Details) Skip(n int32) {
	d.due.Store(d.Due().Add(time.Duration(n) * d.Period))
	if d.RunsTotal != Forever {
		d.runsRemaining.Sub(n)
	}
}

// Status returns the current lifecycle state.
func (d *Details) Status() Status { return Status(d.status.Load()) }

// RunsRemaining returns the executions left, or Forever.
func (d *Details) RunsRemaining() int32 { return d.runsRemaining.Load() }

func (d *Details) setStatus(s Status) { d.status.Store(int32(s)) }

// repeats reports whether the task should be re-queued after a run.
func (d *Details) repeats() bool {
	if d.Period <= 0 {
		return false
	}
	return d.RunsTotal == Forever || d.runsRemaining.Load() > 0
}

// consumeRun records one execution.
func (d *Details) consumeRun() {
	if d.RunsTotal != Forever {
		d.runsRemaining.Dec()
	}
}

// Base provides no-op hooks for tasks that only need Run.
type Base struct {
	D *Details
}

func (b *Base) Details() *Details { return b.D }
func (b *Base) Rescheduled()      {}
func (b *Base) TornDown()         {}
