package store

import (
	"context"
	"errors"
	"time"

	"github.com/fieldops/fsd/core/model"
)

// ErrNotFound is returned when the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrSlotConflict is returned by CommitSchedule when the optimistic
// recheck detects the target day filled up between scoring and commit.
var ErrSlotConflict = errors.New("slot conflict: resource day filled up before commit")

// ResourceFilter narrows resource listings.
type ResourceFilter struct {
	Active      *bool
	TerritoryID string    // only resources with a membership in this territory
	On          time.Time // membership effectivity date, zero means any
}

// AppointmentFilter narrows appointment listings.
type AppointmentFilter struct {
	ResourceID      string
	From, To        time.Time // [From, To) over scheduled start, zero means open
	Statuses        []model.AppointmentStatus
	ExcludeCanceled bool
}

// Matches reports whether the appointment passes the filter.
func (f AppointmentFilter) Matches(a model.Appointment) bool {
	if f.ResourceID != "" && a.ResourceID != f.ResourceID {
		return false
	}
	if f.ExcludeCanceled && a.Status == model.StatusCanceled {
		return false
	}
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if a.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if !f.From.IsZero() || !f.To.IsZero() {
		if a.ScheduledStart == nil {
			return false
		}
		if !f.From.IsZero() && a.ScheduledStart.Before(f.From) {
			return false
		}
		if !f.To.IsZero() && !a.ScheduledStart.Before(f.To) {
			return false
		}
	}
	return true
}

// CommitInput is the atomic unit persisted after a successful scheduling
// decision: the scheduled appointment, its primary assignment and the
// refreshed capacity plan commit together or not at all.
type CommitInput struct {
	Appointment model.Appointment
	Assignment  model.AssignmentRecord
	Plan        model.CapacityPlan
	// MaxAppointments, when positive, triggers the optimistic recheck:
	// the commit fails with ErrSlotConflict if the resource/day already
	// holds that many non-canceled appointments.
	MaxAppointments int
}

// Store is the persistence port consumed by the scheduling core.
type Store interface {
	// Resources
	GetResource(ctx context.Context, id string) (model.Resource, error)
	PutResource(ctx context.Context, r model.Resource) error
	ListResources(ctx context.Context, f ResourceFilter) ([]model.Resource, error)

	// Appointments
	GetAppointment(ctx context.Context, id string) (model.Appointment, error)
	PutAppointment(ctx context.Context, a model.Appointment) error
	ListAppointments(ctx context.Context, f AppointmentFilter) ([]model.Appointment, error)
	CommitSchedule(ctx context.Context, in CommitInput) error
	GetAssignment(ctx context.Context, appointmentID string) (model.AssignmentRecord, error)

	// Territories
	GetTerritory(ctx context.Context, id string) (model.Territory, error)
	PutTerritory(ctx context.Context, t model.Territory) error
	ListTerritories(ctx context.Context) ([]model.Territory, error)

	// Absences
	PutAbsence(ctx context.Context, a model.Absence) error
	ListAbsences(ctx context.Context, resourceID string, from, to time.Time) ([]model.Absence, error)

	// Policies
	GetPolicy(ctx context.Context, name string) (model.SchedulingPolicy, error)
	ActivePolicy(ctx context.Context) (model.SchedulingPolicy, error)
	ListPolicies(ctx context.Context) ([]model.SchedulingPolicy, error)
	UpsertPolicy(ctx context.Context, p model.SchedulingPolicy) error

	// Capacity plans
	GetCapacityPlan(ctx context.Context, resourceID string, date time.Time) (model.CapacityPlan, error)
	UpsertCapacityPlan(ctx context.Context, p model.CapacityPlan) error
}
