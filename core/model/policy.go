package model

import (
	"fmt"
	"time"
)

// ValidationError reports malformed input.
type ValidationError struct {
	Field string
	Msg   string
}

func (e ValidationError) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Msg) }

// ScoreWeights is the per-soft-factor weight vector of a policy. The
// territory factor uses a fixed internal weight and is not configurable.
type ScoreWeights struct {
	Skill       float64 `json:"skill"`
	Travel      float64 `json:"travel"`
	Utilization float64 `json:"utilization"`
	Priority    float64 `json:"priority"`
	Preference  float64 `json:"preference"`
}

// SchedulingPolicy bundles the hard-constraint toggles, numeric ceilings
// and soft-factor weights driving eligibility and scoring. Exactly one
// policy is flagged as the active default.
type SchedulingPolicy struct {
	ID                     string       `json:"id"`
	Name                   string       `json:"name"`
	Weights                ScoreWeights `json:"weights"`
	RequireExactSkillMatch bool         `json:"require_exact_skill_match"`
	RequireSameTerritory   bool         `json:"require_same_territory"`
	AllowOvertime          bool         `json:"allow_overtime"`
	MaxTravelMinutes       int          `json:"max_travel_minutes"`
	MaxAppointmentsPerDay  int          `json:"max_appointments_per_day"`
	BufferMinutes          int          `json:"buffer_minutes"`
	ActiveDefault          bool         `json:"active_default"`
}

// Validate enforces non-negative weights and sane ceilings.
func (p SchedulingPolicy) Validate() error {
	if p.Name == "" {
		return ValidationError{Field: "name", Msg: "must not be empty"}
	}
	for field, w := range map[string]float64{
		"skill":       p.Weights.Skill,
		"travel":      p.Weights.Travel,
		"utilization": p.Weights.Utilization,
		"priority":    p.Weights.Priority,
		"preference":  p.Weights.Preference,
	} {
		if w < 0 {
			return ValidationError{Field: "weights." + field, Msg: fmt.Sprintf("%v must be non-negative", w)}
		}
	}
	if p.MaxTravelMinutes < 0 {
		return ValidationError{Field: "max_travel_minutes", Msg: "must be non-negative"}
	}
	if p.MaxAppointmentsPerDay < 0 {
		return ValidationError{Field: "max_appointments_per_day", Msg: "must be non-negative"}
	}
	if p.BufferMinutes < 0 {
		return ValidationError{Field: "buffer_minutes", Msg: "must be non-negative"}
	}
	return nil
}

// DefaultPolicy returns the built-in policy used when no default has been
// stored yet.
func DefaultPolicy() SchedulingPolicy {
	return SchedulingPolicy{
		ID:   "default",
		Name: "default",
		Weights: ScoreWeights{
			Skill:       100,
			Travel:      80,
			Utilization: 60,
			Priority:    40,
			Preference:  20,
		},
		AllowOvertime:         false,
		MaxTravelMinutes:      60,
		MaxAppointmentsPerDay: 8,
		BufferMinutes:         0,
		ActiveDefault:         true,
	}
}

// CapacityPlan is the per-resource per-day utilization snapshot.
type CapacityPlan struct {
	ResourceID         string    `json:"resource_id"`
	Date               time.Time `json:"date"`
	PlannedMinutes     int       `json:"planned_minutes"`
	ScheduledMinutes   int       `json:"scheduled_minutes"`
	TravelMinutes      int       `json:"travel_minutes"`
	AppointmentCount   int       `json:"appointment_count"`
	UtilizationPercent float64   `json:"utilization_percent"` // clamped to [0,100]
	UpdatedAt          time.Time `json:"updated_at"`
}
