package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coremetrics "github.com/fieldops/fsd/core/metrics"
)

func TestPromSinkRecordsAttempts(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)

	ev := coremetrics.ScheduleEvent{
		AppointmentID: "appt-1",
		ResourceID:    "crew-1",
		Outcome:       "scheduled",
		Elapsed:       40 * time.Millisecond,
		Time:          time.Now(),
	}
	require.NoError(t, sink.RecordSchedule(ev))
	require.NoError(t, sink.RecordSchedule(ev))

	ps := sink.(*PromSink)
	assert.Equal(t, float64(2), testutil.ToFloat64(ps.attempts.WithLabelValues("scheduled")))
}

func TestPromSinkUtilizationGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)

	require.NoError(t, sink.RecordUtilization(coremetrics.UtilizationEvent{
		ResourceID: "crew-1",
		Date:       time.Now(),
		Percent:    81.25,
	}))

	ps := sink.(*PromSink)
	assert.Equal(t, 81.25, testutil.ToFloat64(ps.utilization.WithLabelValues("crew-1")))
}

func TestPromSinkDoubleRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)
	// Registering a second sink on the same registry reuses the
	// existing collectors instead of failing.
	_, err = NewPromSinkWithRegistry(reg)
	require.NoError(t, err)
}

type failSink struct{ coremetrics.NopSink }

func (failSink) RecordSchedule(coremetrics.ScheduleEvent) error {
	return errors.New("backend down")
}

func TestMultiSinkJoinsErrors(t *testing.T) {
	reg := prometheus.NewRegistry()
	prom, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)

	multi := NewMultiSink(prom, failSink{})
	err = multi.RecordSchedule(coremetrics.ScheduleEvent{Outcome: "error"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend down")

	// The healthy sink still observed the event.
	ps := prom.(*PromSink)
	assert.Equal(t, float64(1), testutil.ToFloat64(ps.attempts.WithLabelValues("error")))
}
