package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	busPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_published_total",
			Help: "Domain events handed to the broker, by event type and outcome",
		},
		[]string{"event_type", "outcome"},
	)

	busConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_consumed_total",
			Help: "Deliveries processed by consumers, by queue and outcome",
		},
		[]string{"queue", "outcome"},
	)

	busBuffered = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bus_buffered_messages",
			Help: "Messages held in memory while the broker is unreachable",
		},
	)

	reconciled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capacity_reconciled_total",
			Help: "Capacity ledger updates applied by the reconciler",
		},
		[]string{"event_type", "outcome"},
	)

	promotions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "waitlist_promotions_total",
			Help: "Waitlisted registrations flipped to registered",
		},
	)

	schedulerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifecycle_transitions_total",
			Help: "Event status transitions applied by the scheduler",
		},
		[]string{"to"},
	)

	settlementRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_runs_total",
			Help: "Settlement calculations, by final status",
		},
		[]string{"status"},
	)
)

func BusPublished(eventType, outcome string) { busPublished.WithLabelValues(eventType, outcome).Inc() }
func BusConsumed(queue, outcome string)      { busConsumed.WithLabelValues(queue, outcome).Inc() }
func BusBuffered(n int)                      { busBuffered.Set(float64(n)) }
func Reconciled(eventType, outcome string)   { reconciled.WithLabelValues(eventType, outcome).Inc() }
func Promoted()                              { promotions.Inc() }
func SchedulerTransition(to string, n int) {
	schedulerTransitions.WithLabelValues(to).Add(float64(n))
}
func SettlementRun(status string) { settlementRuns.WithLabelValues(status).Inc() }
