package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldops/fsd/core/model"
)

func TestMemoryStoreNotFound(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, err := s.GetResource(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetAppointment(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetAssignment(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertPolicySingleDefault(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	a := model.DefaultPolicy()
	a.Name = "standard"
	require.NoError(t, s.UpsertPolicy(ctx, a))

	b := model.DefaultPolicy()
	b.Name = "rush"
	require.NoError(t, s.UpsertPolicy(ctx, b))

	policies, err := s.ListPolicies(ctx)
	require.NoError(t, err)
	defaults := 0
	for _, p := range policies {
		if p.ActiveDefault {
			defaults++
			assert.Equal(t, "rush", p.Name)
		}
	}
	assert.Equal(t, 1, defaults, "clear-then-set must leave exactly one default")

	active, err := s.ActivePolicy(ctx)
	require.NoError(t, err)
	assert.Equal(t, "rush", active.Name)
}

func TestActivePolicyFallsBackToBuiltin(t *testing.T) {
	s := NewMemoryStore()
	p, err := s.ActivePolicy(context.Background())
	require.NoError(t, err)
	assert.True(t, p.ActiveDefault)
	assert.Equal(t, "default", p.Name)
}

func TestCommitScheduleAtomicAndIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	start := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	appt := model.Appointment{
		ID: "a1", DurationMinutes: 60, Status: model.StatusScheduled,
		ResourceID: "r1", ScheduledStart: &start, ScheduledEnd: &end,
	}
	in := CommitInput{
		Appointment: appt,
		Assignment:  model.AssignmentRecord{ID: "asn-1", AppointmentID: "a1", ResourceID: "r1", Primary: true, CreatedAt: start},
		Plan:        model.CapacityPlan{ResourceID: "r1", Date: model.DayOf(start)},
	}
	require.NoError(t, s.CommitSchedule(ctx, in))

	// Re-commit with a new assignment id must not duplicate the record.
	in.Assignment.ID = "asn-2"
	require.NoError(t, s.CommitSchedule(ctx, in))

	asn, err := s.GetAssignment(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "asn-1", asn.ID, "original record id survives upserts")
	assert.True(t, asn.Primary)

	_, err = s.GetCapacityPlan(ctx, "r1", start)
	assert.NoError(t, err)
}

func TestCommitScheduleOptimisticRecheck(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	day := time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		st := day.Add(time.Duration(9+i) * time.Hour)
		en := st.Add(time.Hour)
		id := string(rune('x' + i))
		require.NoError(t, s.PutAppointment(ctx, model.Appointment{
			ID: id, DurationMinutes: 60, Status: model.StatusScheduled,
			ResourceID: "r1", ScheduledStart: &st, ScheduledEnd: &en,
		}))
	}

	st := day.Add(13 * time.Hour)
	en := st.Add(time.Hour)
	in := CommitInput{
		Appointment: model.Appointment{
			ID: "a9", DurationMinutes: 60, Status: model.StatusScheduled,
			ResourceID: "r1", ScheduledStart: &st, ScheduledEnd: &en,
		},
		Assignment:      model.AssignmentRecord{AppointmentID: "a9", ResourceID: "r1", Primary: true},
		Plan:            model.CapacityPlan{ResourceID: "r1", Date: day},
		MaxAppointments: 2,
	}
	err := s.CommitSchedule(ctx, in)
	assert.ErrorIs(t, err, ErrSlotConflict)
}

func TestListAppointmentsFilterAndOrder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	day := time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)

	mk := func(id string, hour int, status model.AppointmentStatus) {
		st := day.Add(time.Duration(hour) * time.Hour)
		en := st.Add(time.Hour)
		require.NoError(t, s.PutAppointment(ctx, model.Appointment{
			ID: id, DurationMinutes: 60, Status: status,
			ResourceID: "r1", ScheduledStart: &st, ScheduledEnd: &en,
		}))
	}
	mk("late", 15, model.StatusScheduled)
	mk("early", 8, model.StatusScheduled)
	mk("gone", 10, model.StatusCanceled)

	got, err := s.ListAppointments(ctx, AppointmentFilter{
		ResourceID:      "r1",
		From:            day,
		To:              day.AddDate(0, 0, 1),
		ExcludeCanceled: true,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "early", got[0].ID)
	assert.Equal(t, "late", got[1].ID)
}
