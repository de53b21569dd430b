package node

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	received       *prometheus.CounterVec
	decodeFailures prometheus.Counter
	refused        *prometheus.CounterVec
	results        prometheus.Counter
	rerequests     prometheus.Counter
	exceptions     prometheus.Counter
	delivered      prometheus.Counter
}

func newMetrics(r prometheus.Registerer) *metrics {
	return &metrics{
		received: promauto.With(r).NewCounterVec(prometheus.CounterOpts{
			Name: "sensornet_node_tasks_received_total",
			Help: "Total number of tasks decoded from the network.",
		}, []string{"kind"}),
		decodeFailures: promauto.With(r).NewCounter(prometheus.CounterOpts{
			Name: "sensornet_node_decode_failures_total",
			Help: "Total number of received messages dropped because they did not decode.",
		}),
		refused: promauto.With(r).NewCounterVec(prometheus.CounterOpts{
			Name: "sensornet_node_tasks_refused_total",
			Help: "Total number of tasks refused by per-node initialization.",
		}, []string{"kind"}),
		results: promauto.With(r).NewCounter(prometheus.CounterOpts{
			Name: "sensornet_node_child_results_total",
			Help: "Total number of child result tables stored for a query.",
		}),
		rerequests: promauto.With(r).NewCounter(prometheus.CounterOpts{
			Name: "sensornet_node_rerequests_total",
			Help: "Total number of queries re-sent to silent children.",
		}),
		exceptions: promauto.With(r).NewCounter(prometheus.CounterOpts{
			Name: "sensornet_node_exceptions_total",
			Help: "Total number of evaluation exceptions surfaced at this node.",
		}),
		delivered: promauto.With(r).NewCounter(prometheus.CounterOpts{
			Name: "sensornet_node_results_delivered_total",
			Help: "Total number of epoch result tables delivered to the result sink.",
		}),
	}
}
