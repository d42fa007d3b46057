package metrics

import (
	"errors"

	coremetrics "github.com/fieldops/fsd/core/metrics"
)

// MultiSink fans events out to several sinks. Errors are joined so one
// failing backend does not hide the others.
type MultiSink struct {
	sinks []coremetrics.Sink
}

func NewMultiSink(sinks ...coremetrics.Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) RecordSchedule(ev coremetrics.ScheduleEvent) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.RecordSchedule(ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordUtilization(ev coremetrics.UtilizationEvent) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.RecordUtilization(ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
