package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	submitted *prometheus.CounterVec
	executed  *prometheus.CounterVec
	failed    *prometheus.CounterVec
	killed    *prometheus.CounterVec
	queued    prometheus.Gauge
}

func newMetrics(r prometheus.Registerer) *metrics {
	return &metrics{
		submitted: promauto.With(r).NewCounterVec(prometheus.CounterOpts{
			Name: "sensornet_scheduler_tasks_submitted_total",
			Help: "Total number of tasks accepted by the scheduler.",
		}, []string{"kind"}),
		executed: promauto.With(r).NewCounterVec(prometheus.CounterOpts{
			Name: "sensornet_scheduler_task_runs_total",
			Help: "Total number of task body executions.",
		}, []string{"kind"}),
		failed: promauto.With(r).NewCounterVec(prometheus.CounterOpts{
			Name: "sensornet_scheduler_task_failures_total",
			Help: "Total number of task bodies that returned an error or panicked.",
		}, []string{"kind"}),
		killed: promauto.With(r).NewCounterVec(prometheus.CounterOpts{
			Name: "sensornet_scheduler_tasks_killed_total",
			Help: "Total number of tasks removed by a query kill.",
		}, []string{"kind"}),
		queued: promauto.With(r).NewGauge(prometheus.GaugeOpts{
			Name: "sensornet_scheduler_tasks",
			Help: "Number of tasks currently held by the scheduler.",
		}),
	}
}
