// Package netclock provides the network-synchronized time source of a node.
//
// A Clock is a local quartz.Clock shifted by an offset learned from time
// sync messages. Timers and tickers run on local durations; only Now, Since
// and Until see the offset.
package netclock

import (
	"time"

	"github.com/coder/quartz"
	"go.uber.org/atomic"
)

// Clock is a quartz.Clock reporting synchronized time.
type Clock struct {
	quartz.Clock
	offset atomic.Duration
}

var _ quartz.Clock = (*Clock)(nil)

// New wraps a local clock with a zero offset.
func New(local quartz.Clock) *Clock {
	return &Clock{Clock: local}
}

// Now returns the synchronized time.
func (c *Clock) Now(tags ...string) time.Time {
	return c.Clock.Now(tags...).Add(c.offset.Load())
}

func (c *Clock) Since(t time.Time, tags ...string) time.Duration {
	return c.Now(tags...).Sub(t)
}

func (c *Clock) Until(t time.Time, tags ...string) time.Duration {
	return t.Sub(c.Now(tags...))
}

// Offset returns the current shift from local time.
func (c *Clock) Offset() time.Duration { return c.offset.Load() }

// SetOffset replaces the shift from local time.
func (c *Clock) SetOffset(d time.Duration) { c.offset.Store(d) }

// Adopt sets the offset so that Now reads synced at this instant, and
// returns the new offset.
func (c *Clock) Adopt(synced time.Time) time.Duration {
	d := synced.Sub(c.Clock.Now())
	c.offset.Store(d)
	return d
}
