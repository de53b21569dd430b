package scheduler

import (
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SleepNotifier is told when the scheduler loop is about to block and when
// it wakes again, so it can pause expensive polling while the node is idle.
type SleepNotifier interface {
	Sleep()
	Wake()
}

// IdleMonitor accumulates the time the scheduler spends blocked.
type IdleMonitor struct {
	clock quartz.Clock

	mu      sync.Mutex
	since   time.Time
	asleep  bool
	total   time.Duration
	seconds prometheus.Counter
}

// NewIdleMonitor creates a monitor that exports idle time on r.
func NewIdleMonitor(clock quartz.Clock, r prometheus.Registerer) *IdleMonitor {
	return &IdleMonitor{
		clock: clock,
		seconds: promauto.With(r).NewCounter(prometheus.CounterOpts{
			Name: "sensornet_scheduler_idle_seconds_total",
			Help: "Time the scheduler loop spent blocked waiting for work.",
		}),
	}
}

func (m *IdleMonitor) Sleep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.asleep {
		return
	}
	m.asleep = true
	m.since = m.clock.Now()
}

func (m *IdleMonitor) Wake() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.asleep {
		return
	}
	m.asleep = false
	d := m.clock.Now().Sub(m.since)
	m.total += d
	m.seconds.Add(d.Seconds())
}

// Idle returns the total time spent asleep so far, excluding a sleep in
// progress.
func (m *IdleMonitor) Idle() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

// Asleep reports whether the scheduler is currently blocked.
func (m *IdleMonitor) Asleep() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.asleep
}
