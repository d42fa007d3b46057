// Package events defines the scheduling events published on the internal
// bus for observers such as notifiers and audit consumers.
package events

import "time"

// ScheduledEvent is published after a successful scheduling commit.
type ScheduledEvent struct {
	AppointmentID string    `json:"appointment_id"`
	ResourceID    string    `json:"resource_id"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	Score         float64   `json:"score"`
	TravelMinutes float64   `json:"travel_minutes"`
}

// ScheduleFailedEvent is published when a scheduling attempt fails.
type ScheduleFailedEvent struct {
	AppointmentID string `json:"appointment_id"`
	Reason        string `json:"reason"`
}

// RouteOptimizedEvent is published after a route-optimization pass.
type RouteOptimizedEvent struct {
	ResourceID string    `json:"resource_id"`
	Date       time.Time `json:"date"`
	SavedMiles float64   `json:"saved_miles"`
	Applied    bool      `json:"applied"`
}

// PolicyChangedEvent is published when a scheduling policy is upserted.
type PolicyChangedEvent struct {
	Name          string `json:"name"`
	ActiveDefault bool   `json:"active_default"`
}
