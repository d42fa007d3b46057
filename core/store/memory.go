package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fieldops/fsd/core/model"
)

// MemoryStore is a mutex-guarded in-memory Store. It backs unit tests and
// single-process deployments without external persistence.
type MemoryStore struct {
	mu           sync.RWMutex
	resources    map[string]model.Resource
	appointments map[string]model.Appointment
	assignments  map[string]model.AssignmentRecord // keyed by appointment id
	territories  map[string]model.Territory
	absences     map[string]model.Absence
	policies     map[string]model.SchedulingPolicy // keyed by name
	plans        map[string]model.CapacityPlan     // keyed by resource|day
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		resources:    make(map[string]model.Resource),
		appointments: make(map[string]model.Appointment),
		assignments:  make(map[string]model.AssignmentRecord),
		territories:  make(map[string]model.Territory),
		absences:     make(map[string]model.Absence),
		policies:     make(map[string]model.SchedulingPolicy),
		plans:        make(map[string]model.CapacityPlan),
	}
}

func planKey(resourceID string, date time.Time) string {
	return resourceID + "|" + model.DayKey(date)
}

func (s *MemoryStore) GetResource(_ context.Context, id string) (model.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.resources[id]
	if !ok {
		return model.Resource{}, ErrNotFound
	}
	return r, nil
}

func (s *MemoryStore) PutResource(_ context.Context, r model.Resource) error {
	if err := r.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.resources[r.ID] = r
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ListResources(_ context.Context, f ResourceFilter) ([]model.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Resource, 0, len(s.resources))
	for _, r := range s.resources {
		if f.Active != nil && r.Active != *f.Active {
			continue
		}
		if f.TerritoryID != "" {
			on := f.On
			if on.IsZero() {
				on = time.Now().UTC()
			}
			if _, ok := r.MembershipOn(f.TerritoryID, on); !ok {
				continue
			}
		}
		out = append(out, r)
	}
	// Deterministic iteration order for the slot finder and scoring.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetAppointment(_ context.Context, id string) (model.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.appointments[id]
	if !ok {
		return model.Appointment{}, ErrNotFound
	}
	return a, nil
}

func (s *MemoryStore) PutAppointment(_ context.Context, a model.Appointment) error {
	if err := a.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.appointments[a.ID] = a
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ListAppointments(_ context.Context, f AppointmentFilter) ([]model.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Appointment
	for _, a := range s.appointments {
		if f.Matches(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := out[i], out[j]
		switch {
		case ai.ScheduledStart == nil && aj.ScheduledStart == nil:
			return ai.ID < aj.ID
		case ai.ScheduledStart == nil:
			return false
		case aj.ScheduledStart == nil:
			return true
		case ai.ScheduledStart.Equal(*aj.ScheduledStart):
			return ai.ID < aj.ID
		default:
			return ai.ScheduledStart.Before(*aj.ScheduledStart)
		}
	})
	return out, nil
}

// CommitSchedule applies the appointment update, assignment upsert and
// capacity plan as one unit under the store lock.
func (s *MemoryStore) CommitSchedule(_ context.Context, in CommitInput) error {
	if err := in.Appointment.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if in.MaxAppointments > 0 && in.Appointment.ScheduledStart != nil {
		day := model.DayOf(*in.Appointment.ScheduledStart)
		count := 0
		for _, a := range s.appointments {
			if a.ID == in.Appointment.ID || a.ResourceID != in.Assignment.ResourceID {
				continue
			}
			if a.Status == model.StatusCanceled || a.ScheduledStart == nil {
				continue
			}
			if model.DayOf(*a.ScheduledStart).Equal(day) {
				count++
			}
		}
		if count >= in.MaxAppointments {
			return ErrSlotConflict
		}
	}

	asn := in.Assignment
	if prev, ok := s.assignments[asn.AppointmentID]; ok {
		asn.ID = prev.ID
		asn.CreatedAt = prev.CreatedAt
	}
	s.appointments[in.Appointment.ID] = in.Appointment
	s.assignments[asn.AppointmentID] = asn
	s.plans[planKey(in.Plan.ResourceID, in.Plan.Date)] = in.Plan
	return nil
}

func (s *MemoryStore) GetAssignment(_ context.Context, appointmentID string) (model.AssignmentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assignments[appointmentID]
	if !ok {
		return model.AssignmentRecord{}, ErrNotFound
	}
	return a, nil
}

func (s *MemoryStore) GetTerritory(_ context.Context, id string) (model.Territory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.territories[id]
	if !ok {
		return model.Territory{}, ErrNotFound
	}
	return t, nil
}

func (s *MemoryStore) PutTerritory(_ context.Context, t model.Territory) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.territories[t.ID] = t
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ListTerritories(_ context.Context) ([]model.Territory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Territory, 0, len(s.territories))
	for _, t := range s.territories {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) PutAbsence(_ context.Context, a model.Absence) error {
	s.mu.Lock()
	s.absences[a.ID] = a
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ListAbsences(_ context.Context, resourceID string, from, to time.Time) ([]model.Absence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Absence
	for _, a := range s.absences {
		if resourceID != "" && a.ResourceID != resourceID {
			continue
		}
		if !to.IsZero() && a.From.After(to) {
			continue
		}
		if !from.IsZero() && a.To.Before(from) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].From.Before(out[j].From) })
	return out, nil
}

func (s *MemoryStore) GetPolicy(_ context.Context, name string) (model.SchedulingPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[name]
	if !ok {
		return model.SchedulingPolicy{}, ErrNotFound
	}
	return p, nil
}

// ActivePolicy returns the single active-default policy, or the built-in
// default when none has been stored yet.
func (s *MemoryStore) ActivePolicy(_ context.Context) (model.SchedulingPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.policies {
		if p.ActiveDefault {
			return p, nil
		}
	}
	return model.DefaultPolicy(), nil
}

func (s *MemoryStore) ListPolicies(_ context.Context) ([]model.SchedulingPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.SchedulingPolicy, 0, len(s.policies))
	for _, p := range s.policies {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// UpsertPolicy stores the policy. Single-default is enforced by
// clear-then-set: marking a policy default clears the flag everywhere else.
func (s *MemoryStore) UpsertPolicy(_ context.Context, p model.SchedulingPolicy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ActiveDefault {
		for name, other := range s.policies {
			if other.ActiveDefault {
				other.ActiveDefault = false
				s.policies[name] = other
			}
		}
	}
	s.policies[p.Name] = p
	return nil
}

func (s *MemoryStore) GetCapacityPlan(_ context.Context, resourceID string, date time.Time) (model.CapacityPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[planKey(resourceID, date)]
	if !ok {
		return model.CapacityPlan{}, ErrNotFound
	}
	return p, nil
}

func (s *MemoryStore) UpsertCapacityPlan(_ context.Context, p model.CapacityPlan) error {
	s.mu.Lock()
	s.plans[planKey(p.ResourceID, p.Date)] = p
	s.mu.Unlock()
	return nil
}
