package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// instrumentation holds the Server's internal operational metrics
// (SPEC_FULL.md section 2, component 11). These are a side channel for
// operators scraping /metrics; they never back the Metric Store, which
// remains the system of record for Observations.
type instrumentation struct {
	dispatchAttempts  prometheus.Counter
	dispatchDropped   prometheus.Counter
	dispatchConfirmed prometheus.Counter
	resultsReceived   prometheus.Counter
	registeredAgents  prometheus.GaugeFunc
	queueDepth        prometheus.GaugeFunc
}

// newInstrumentation registers the Server's counters/gauges against reg.
// Passing a fresh prometheus.NewRegistry() keeps tests isolated from the
// default global registry.
func newInstrumentation(reg prometheus.Registerer, registry *Registry, queue *Queue) *instrumentation {
	factory := promauto.With(reg)
	return &instrumentation{
		dispatchAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "nettask_dispatch_attempts_total",
			Help: "Total NetTask TASK dispatch attempts across all agents.",
		}),
		dispatchDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "nettask_dispatch_dropped_total",
			Help: "Total TASK dispatches dropped after exhausting retries.",
		}),
		dispatchConfirmed: factory.NewCounter(prometheus.CounterOpts{
			Name: "nettask_dispatch_confirmed_total",
			Help: "Total TASK dispatches confirmed by a matching ACK.",
		}),
		resultsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "nettask_results_received_total",
			Help: "Total RESULT PDUs appended to the metric store.",
		}),
		registeredAgents: factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "nettask_registered_agents",
			Help: "Number of agents currently present in the registry.",
		}, func() float64 { return float64(registry.Count()) }),
		queueDepth: factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "nettask_queue_depth_total",
			Help: "Sum of queued-but-undispatched tasks across all agents.",
		}, func() float64 {
			total := 0
			for _, agent := range queue.Agents() {
				total += queue.Depth(agent)
			}
			return float64(total)
		}),
	}
}
