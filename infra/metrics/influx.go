package metrics

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/fieldops/fsd/core/logger"
	coremetrics "github.com/fieldops/fsd/core/metrics"
)

// InfluxSink writes scheduling events to an InfluxDB bucket.
type InfluxSink struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
}

// NewInfluxSink connects to InfluxDB and verifies it is reachable.
func NewInfluxSink(url, token, org, bucket string) (*InfluxSink, error) {
	client := influxdb2.NewClient(url, token)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ok, err := client.Ping(ctx)
	if err != nil || !ok {
		client.Close()
		return nil, fmt.Errorf("influxdb unreachable at %s: %w", url, err)
	}
	return &InfluxSink{
		client: client,
		write:  client.WriteAPIBlocking(org, bucket),
	}, nil
}

// NewInfluxSinkWithFallback returns a NopSink when InfluxDB cannot be
// reached, so a dead metrics backend never blocks scheduling.
func NewInfluxSinkWithFallback(url, token, org, bucket string, log logger.Logger) coremetrics.Sink {
	sink, err := NewInfluxSink(url, token, org, bucket)
	if err != nil {
		if log != nil {
			log.Warnf("influxdb sink disabled: %v", err)
		}
		return coremetrics.NopSink{}
	}
	return sink
}

// RecordSchedule writes one point per scheduling attempt.
func (s *InfluxSink) RecordSchedule(ev coremetrics.ScheduleEvent) error {
	p := influxdb2.NewPoint("schedule_attempt",
		map[string]string{
			"outcome":     ev.Outcome,
			"resource_id": ev.ResourceID,
		},
		map[string]interface{}{
			"appointment_id": ev.AppointmentID,
			"score":          ev.Score,
			"elapsed_ms":     ev.Elapsed.Milliseconds(),
		},
		ev.Time,
	)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return s.write.WritePoint(ctx, p)
}

// RecordUtilization writes one point per resource-day utilization sample.
func (s *InfluxSink) RecordUtilization(ev coremetrics.UtilizationEvent) error {
	p := influxdb2.NewPoint("resource_utilization",
		map[string]string{"resource_id": ev.ResourceID},
		map[string]interface{}{"percent": ev.Percent},
		ev.Date,
	)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return s.write.WritePoint(ctx, p)
}

// Close releases the underlying InfluxDB client.
func (s *InfluxSink) Close() error {
	s.client.Close()
	return nil
}
