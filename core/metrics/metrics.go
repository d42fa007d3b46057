// Package metrics defines the observability sink consumed by the
// scheduling core. Concrete sinks live under infra/metrics.
package metrics

import "time"

// ScheduleEvent describes one scheduling attempt for observability.
type ScheduleEvent struct {
	AppointmentID string
	ResourceID    string
	Outcome       string // audit outcome constants
	Reason        string
	Score         float64
	TravelMinutes float64
	Elapsed       time.Duration
	Time          time.Time
}

// UtilizationEvent is a per-resource per-day capacity snapshot.
type UtilizationEvent struct {
	ResourceID string
	Date       time.Time
	Percent    float64
}

// Sink records scheduling activity. Implementations must be safe for
// concurrent use.
type Sink interface {
	RecordSchedule(ev ScheduleEvent) error
	RecordUtilization(ev UtilizationEvent) error
	Close() error
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) RecordSchedule(ScheduleEvent) error       { return nil }
func (NopSink) RecordUtilization(UtilizationEvent) error { return nil }
func (NopSink) Close() error                             { return nil }

// Config defines settings for metrics sinks.
type Config struct {
	PrometheusEnabled bool   `json:"prometheus_enabled"`
	PrometheusPort    string `json:"prometheus_port"`
	InfluxEnabled     bool   `json:"influx_enabled"`
	InfluxURL         string `json:"influx_url"`
	InfluxToken       string `json:"influx_token"`
	InfluxOrg         string `json:"influx_org"`
	InfluxBucket      string `json:"influx_bucket"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.PrometheusPort == "" {
		c.PrometheusPort = ":9090"
	}
}
