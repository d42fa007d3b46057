package audit

import (
	"context"
	"time"
)

// Outcome classifies a scheduling attempt in the audit log.
const (
	OutcomeScheduled  = "scheduled"
	OutcomeNoResource = "no_eligible_resource"
	OutcomeNoSlot     = "no_slot_available"
	OutcomeConflict   = "slot_conflict"
	OutcomeError      = "error"
)

// Record captures one scheduling decision and its result.
type Record struct {
	Timestamp     time.Time  `json:"timestamp"`
	AppointmentID string     `json:"appointment_id"`
	ResourceID    string     `json:"resource_id,omitempty"`
	Outcome       string     `json:"outcome"`
	Reason        string     `json:"reason,omitempty"`
	Score         float64    `json:"score,omitempty"`
	TravelMinutes float64    `json:"travel_minutes,omitempty"`
	Start         *time.Time `json:"start,omitempty"`
	End           *time.Time `json:"end,omitempty"`
}

// Query defines filters for retrieving records.
type Query struct {
	Start         time.Time
	End           time.Time
	AppointmentID string
	ResourceID    string
	Outcome       string
}

func (q Query) matches(r Record) bool {
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	if q.AppointmentID != "" && r.AppointmentID != q.AppointmentID {
		return false
	}
	if q.ResourceID != "" && r.ResourceID != q.ResourceID {
		return false
	}
	if q.Outcome != "" && r.Outcome != q.Outcome {
		return false
	}
	return true
}

// LogStore persists audit Records and supports querying.
type LogStore interface {
	Append(ctx context.Context, rec Record) error
	Query(ctx context.Context, q Query) ([]Record, error)
	Close() error
}

// NopStore discards records. Used when auditing is disabled.
type NopStore struct{}

func (NopStore) Append(context.Context, Record) error           { return nil }
func (NopStore) Query(context.Context, Query) ([]Record, error) { return nil, nil }
func (NopStore) Close() error                                   { return nil }
