package model

import (
	"fmt"
	"time"
)

// AppointmentStatus tracks an appointment through its lifecycle.
type AppointmentStatus int

const (
	StatusUnscheduled AppointmentStatus = iota
	StatusScheduled
	StatusDispatched
	StatusInProgress
	StatusCompleted
	StatusCannotComplete
	StatusCanceled
)

// String returns a human-readable representation of the status.
func (s AppointmentStatus) String() string {
	switch s {
	case StatusUnscheduled:
		return "unscheduled"
	case StatusScheduled:
		return "scheduled"
	case StatusDispatched:
		return "dispatched"
	case StatusInProgress:
		return "in_progress"
	case StatusCompleted:
		return "completed"
	case StatusCannotComplete:
		return "cannot_complete"
	case StatusCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is allowed.
func (s AppointmentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCannotComplete || s == StatusCanceled
}

// CanTransition reports whether moving to next is a legal lifecycle step.
// Any non-terminal status may be canceled.
func (s AppointmentStatus) CanTransition(next AppointmentStatus) bool {
	if next == StatusCanceled {
		return !s.Terminal()
	}
	switch s {
	case StatusUnscheduled:
		return next == StatusScheduled
	case StatusScheduled:
		return next == StatusDispatched
	case StatusDispatched:
		return next == StatusInProgress
	case StatusInProgress:
		return next == StatusCompleted || next == StatusCannotComplete
	default:
		return false
	}
}

// ParseStatus maps a wire string back to a status value.
func ParseStatus(s string) (AppointmentStatus, error) {
	for st := StatusUnscheduled; st <= StatusCanceled; st++ {
		if st.String() == s {
			return st, nil
		}
	}
	return 0, ValidationError{Field: "status", Msg: fmt.Sprintf("unknown status %q", s)}
}

// Appointment is a unit of field work to be placed on a resource's day.
type Appointment struct {
	ID              string            `json:"id"`
	WorkOrderID     string            `json:"work_order_id"`
	DurationMinutes int               `json:"duration_minutes"`
	Status          AppointmentStatus `json:"status"`
	Address         string            `json:"address"`
	TerritoryID     string            `json:"territory_id,omitempty"` // service territory from the work order
	Coords          *Coordinates      `json:"coords,omitempty"`
	ResourceID      string            `json:"resource_id,omitempty"`
	ScheduledStart  *time.Time        `json:"scheduled_start,omitempty"`
	ScheduledEnd    *time.Time        `json:"scheduled_end,omitempty"`
	EarliestStart   *time.Time        `json:"earliest_start,omitempty"`
	RequiredSkills  map[string]int    `json:"required_skills,omitempty"` // skill id -> minimum level
	TravelMinutes   float64           `json:"travel_minutes"`
	TravelMiles     float64           `json:"travel_miles"`
}

// Scheduled reports whether the appointment occupies a concrete window.
func (a Appointment) Scheduled() bool {
	return a.ScheduledStart != nil && a.ScheduledEnd != nil
}

// Validate checks structural soundness prior to persistence.
func (a Appointment) Validate() error {
	if a.ID == "" {
		return ValidationError{Field: "id", Msg: "must not be empty"}
	}
	if a.DurationMinutes <= 0 {
		return ValidationError{Field: "duration_minutes", Msg: fmt.Sprintf("%d must be positive", a.DurationMinutes)}
	}
	if a.Coords != nil && !a.Coords.Valid() {
		return ValidationError{Field: "coords", Msg: "coordinates outside WGS84 envelope"}
	}
	if (a.ScheduledStart == nil) != (a.ScheduledEnd == nil) {
		return ValidationError{Field: "scheduled", Msg: "start and end must be set together"}
	}
	return nil
}

// AssignmentRecord is the single primary resource assignment for an
// appointment. Upserts are keyed by appointment id so re-scheduling never
// duplicates the record.
type AssignmentRecord struct {
	ID            string    `json:"id"`
	AppointmentID string    `json:"appointment_id"`
	ResourceID    string    `json:"resource_id"`
	Primary       bool      `json:"primary"`
	ScheduledBy   string    `json:"scheduled_by"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Slot is a candidate [start, end) interval on a resource's day.
type Slot struct {
	ResourceID string    `json:"resource_id"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
}
