package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/fieldops/fsd/core/metrics"
)

// PromSink records scheduling events in Prometheus metrics.
type PromSink struct {
	attempts    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	utilization *prometheus.GaugeVec
}

// NewPromSink registers scheduling metrics on the default Prometheus
// registerer. The Prometheus server should be started separately.
func NewPromSink() (coremetrics.Sink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (coremetrics.Sink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "schedule_attempts_total",
		Help: "Total number of scheduling attempts by outcome",
	}, []string{"outcome"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "schedule_duration_seconds",
		Help:    "Time spent scoring and committing one scheduling attempt",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
	utilization := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "resource_utilization_percent",
		Help: "Per-resource daily capacity utilization",
	}, []string{"resource_id"})

	if err := reg.Register(attempts); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			attempts = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(latency); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			latency = are.ExistingCollector.(*prometheus.HistogramVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(utilization); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			utilization = are.ExistingCollector.(*prometheus.GaugeVec)
		} else {
			return nil, err
		}
	}
	return &PromSink{attempts: attempts, latency: latency, utilization: utilization}, nil
}

// RecordSchedule increments the attempt counter and observes the latency.
func (s *PromSink) RecordSchedule(ev coremetrics.ScheduleEvent) error {
	s.attempts.WithLabelValues(ev.Outcome).Inc()
	s.latency.WithLabelValues(ev.Outcome).Observe(ev.Elapsed.Seconds())
	return nil
}

// RecordUtilization sets the per-resource utilization gauge.
func (s *PromSink) RecordUtilization(ev coremetrics.UtilizationEvent) error {
	s.utilization.WithLabelValues(ev.ResourceID).Set(ev.Percent)
	return nil
}

// Close is a no-op; Prometheus collectors stay registered.
func (s *PromSink) Close() error { return nil }
