package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldops/fsd/core/capacity"
	"github.com/fieldops/fsd/core/geo"
	"github.com/fieldops/fsd/core/model"
	"github.com/fieldops/fsd/core/store"
)

var day = time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)

func newEngine(st *store.MemoryStore) *Engine {
	est := geo.NewEstimator(geo.NewMemoryCache(), nil)
	return NewEngine(st, est, capacity.NewPlanner(st, nil), nil)
}

func seedResource(t *testing.T, st *store.MemoryStore, r model.Resource) {
	t.Helper()
	require.NoError(t, st.PutResource(context.Background(), r))
}

func eval(t *testing.T, e *Engine, res model.Resource, appt model.Appointment, pol model.SchedulingPolicy) Evaluation {
	t.Helper()
	ev, err := e.Evaluate(context.Background(), res, appt, day, pol)
	require.NoError(t, err)
	return ev
}

func seedBooking(t *testing.T, st *store.MemoryStore, id, resourceID string, hour, durMin int, coords *model.Coordinates) {
	t.Helper()
	start := day.Add(time.Duration(hour) * time.Hour)
	end := start.Add(time.Duration(durMin) * time.Minute)
	require.NoError(t, st.PutAppointment(context.Background(), model.Appointment{
		ID: id, DurationMinutes: durMin, Status: model.StatusScheduled,
		ResourceID: resourceID, ScheduledStart: &start, ScheduledEnd: &end, Coords: coords,
	}))
}

// Scenario B: only R2 holds the required skill under exact matching; it is
// the sole eligible candidate regardless of its other scores.
func TestExactSkillMatchGate(t *testing.T) {
	st := store.NewMemoryStore()
	e := newEngine(st)
	seedResource(t, st, model.Resource{ID: "r1", Name: "One", Active: true, Skills: map[string]int{"plumbing": 3}})
	seedResource(t, st, model.Resource{ID: "r2", Name: "Two", Active: true, Skills: map[string]int{"roofing-cert": 2}})

	pol := model.DefaultPolicy()
	pol.RequireExactSkillMatch = true
	appt := model.Appointment{ID: "a1", DurationMinutes: 60, RequiredSkills: map[string]int{"roofing-cert": 1}}

	evals, err := e.FindBestResources(context.Background(), appt, day, 0, pol)
	require.NoError(t, err)
	require.Len(t, evals, 2)

	assert.Equal(t, "r2", evals[0].ResourceID)
	assert.True(t, evals[0].Eligible)
	assert.Equal(t, "r1", evals[1].ResourceID)
	assert.False(t, evals[1].Eligible)
	assert.Equal(t, ReasonMissingSkill, evals[1].Reason)
	assert.Zero(t, evals[1].Composite)
}

func TestPartialSkillScoreWithoutExactMatch(t *testing.T) {
	st := store.NewMemoryStore()
	e := newEngine(st)
	res := model.Resource{ID: "r1", Active: true, Skills: map[string]int{"a": 1}}
	appt := model.Appointment{ID: "x", DurationMinutes: 30, RequiredSkills: map[string]int{"a": 1, "b": 1}}

	ev := eval(t, e, res, appt, model.DefaultPolicy())
	assert.True(t, ev.Eligible)
	assert.InDelta(t, 50.0, ev.Scores.Skill, 0.01)
}

func TestTerritoryGateAndScores(t *testing.T) {
	st := store.NewMemoryStore()
	e := newEngine(st)
	pol := model.DefaultPolicy()
	pol.RequireSameTerritory = true
	appt := model.Appointment{ID: "x", DurationMinutes: 30, TerritoryID: "north"}

	primary := model.Resource{ID: "p", Active: true,
		Memberships: []model.TerritoryMembership{{TerritoryID: "north", Primary: true}}}
	secondary := model.Resource{ID: "s", Active: true,
		Memberships: []model.TerritoryMembership{{TerritoryID: "north"}}}
	outsider := model.Resource{ID: "o", Active: true,
		Memberships: []model.TerritoryMembership{{TerritoryID: "south", Primary: true}}}

	assert.Equal(t, 100.0, eval(t, e, primary, appt, pol).Scores.Territory)
	assert.Equal(t, 75.0, eval(t, e, secondary, appt, pol).Scores.Territory)

	ev := eval(t, e, outsider, appt, pol)
	assert.False(t, ev.Eligible)
	assert.Equal(t, ReasonNoTerritory, ev.Reason)

	// Without the toggle the factor is a neutral 50.
	pol.RequireSameTerritory = false
	assert.Equal(t, 50.0, eval(t, e, outsider, appt, pol).Scores.Territory)
}

func TestTravelCeilingRejects(t *testing.T) {
	st := store.NewMemoryStore()
	e := newEngine(st)
	res := model.Resource{ID: "r1", Active: true}
	seedResource(t, st, res)
	// Prior stop in Phoenix; new appointment in Tucson, well over an hour.
	seedBooking(t, st, "prev", "r1", 8, 60, &model.Coordinates{Lat: 33.4484, Lng: -112.0740})

	pol := model.DefaultPolicy()
	pol.MaxTravelMinutes = 60
	appt := model.Appointment{ID: "a1", DurationMinutes: 60, Coords: &model.Coordinates{Lat: 32.2226, Lng: -110.9747}}

	ev := eval(t, e, res, appt, pol)
	assert.False(t, ev.Eligible)
	assert.Equal(t, ReasonTravelExceeded, ev.Reason)
	assert.Contains(t, ev.Detail, "exceeds max 60min")
	assert.Zero(t, ev.Composite)
}

func TestTravelNeutralScores(t *testing.T) {
	st := store.NewMemoryStore()
	e := newEngine(st)
	res := model.Resource{ID: "r1", Active: true}
	seedResource(t, st, res)
	pol := model.DefaultPolicy()

	// No prior appointment that day: neutral 75.
	appt := model.Appointment{ID: "a1", DurationMinutes: 60, Coords: &model.Coordinates{Lat: 33.45, Lng: -112.07}}
	ev := eval(t, e, res, appt, pol)
	assert.True(t, ev.Eligible)
	assert.Equal(t, 75.0, ev.Scores.Travel)

	// Unknown appointment coordinates: neutral 50. Scenario E relies on
	// this path when geocoding degrades.
	noCoords := model.Appointment{ID: "a2", DurationMinutes: 60}
	ev = eval(t, e, res, noCoords, pol)
	assert.True(t, ev.Eligible)
	assert.Equal(t, 50.0, ev.Scores.Travel)
}

// Scenario C: a resource already at maxAppointmentsPerDay is rejected with
// a "max appointments" reason and excluded from the eligible set.
func TestDailyCapRejects(t *testing.T) {
	st := store.NewMemoryStore()
	e := newEngine(st)
	res := model.Resource{ID: "r1", Active: true}
	seedResource(t, st, res)
	for i := 0; i < 8; i++ {
		seedBooking(t, st, string(rune('a'+i)), "r1", 8+i, 30, nil)
	}

	pol := model.DefaultPolicy()
	pol.MaxAppointmentsPerDay = 8
	appt := model.Appointment{ID: "ninth", DurationMinutes: 30}

	ev := eval(t, e, res, appt, pol)
	assert.False(t, ev.Eligible)
	assert.Equal(t, ReasonMaxAppointments, ev.Reason)
	assert.Contains(t, ev.Detail, "max appointments")

	evals, err := e.FindBestResources(context.Background(), appt, day, 3, pol)
	require.NoError(t, err)
	for _, got := range evals {
		if got.ResourceID == "r1" {
			assert.False(t, got.Eligible)
		}
	}
}

func TestOvertimeGate(t *testing.T) {
	st := store.NewMemoryStore()
	e := newEngine(st)
	res := model.Resource{ID: "r1", Active: true}
	seedResource(t, st, res)
	seedBooking(t, st, "long", "r1", 8, 480, nil) // fills the whole day

	pol := model.DefaultPolicy()
	pol.MaxAppointmentsPerDay = 20
	appt := model.Appointment{ID: "extra", DurationMinutes: 30}

	ev := eval(t, e, res, appt, pol)
	assert.False(t, ev.Eligible)
	assert.Equal(t, ReasonOvertime, ev.Reason)

	pol.AllowOvertime = true
	ev = eval(t, e, res, appt, pol)
	assert.True(t, ev.Eligible)
}

func TestCompositeBoundsAndZeroOnlyWhenIneligible(t *testing.T) {
	st := store.NewMemoryStore()
	e := newEngine(st)
	pol := model.DefaultPolicy()

	for _, res := range []model.Resource{
		{ID: "plain", Active: true},
		{ID: "prio", Active: true, Priority: 10},
		{ID: "skilled", Active: true, Skills: map[string]int{"a": 5}},
	} {
		appt := model.Appointment{ID: "x", DurationMinutes: 30, RequiredSkills: map[string]int{"a": 1}}
		ev := eval(t, e, res, appt, pol)
		assert.GreaterOrEqual(t, ev.Composite, 0.0)
		assert.LessOrEqual(t, ev.Composite, 100.0)
		if ev.Eligible {
			assert.Greater(t, ev.Composite, 0.0, "eligible %s must not score zero", res.ID)
		} else {
			assert.Zero(t, ev.Composite)
		}
	}
}

func TestPriorityScore(t *testing.T) {
	assert.Equal(t, 50.0, priorityScore(model.Resource{}))
	assert.Equal(t, 100.0, priorityScore(model.Resource{Priority: 10}))
	assert.Equal(t, 30.0, priorityScore(model.Resource{Priority: 3}))
}

type brokenStore struct {
	*store.MemoryStore
}

func (brokenStore) ListAppointments(context.Context, store.AppointmentFilter) ([]model.Appointment, error) {
	return nil, errors.New("store offline")
}

// A store fault during the utilization lookup is an infrastructure
// failure, not a constraint rejection; it must propagate as an error.
func TestUtilizationStoreFaultPropagates(t *testing.T) {
	st := brokenStore{store.NewMemoryStore()}
	e := NewEngine(st, geo.NewEstimator(geo.NewMemoryCache(), nil), capacity.NewPlanner(st, nil), nil)
	res := model.Resource{ID: "r1", Active: true}
	require.NoError(t, st.PutResource(context.Background(), res))

	appt := model.Appointment{ID: "a1", DurationMinutes: 30}
	_, err := e.Evaluate(context.Background(), res, appt, day, model.DefaultPolicy())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store offline")

	var inel IneligibleError
	assert.False(t, errors.As(err, &inel))

	_, err = e.FindBestResources(context.Background(), appt, day, 3, model.DefaultPolicy())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store offline")
}

func TestFindBestResourcesOrdersAndLimits(t *testing.T) {
	st := store.NewMemoryStore()
	e := newEngine(st)
	seedResource(t, st, model.Resource{ID: "low", Active: true, Priority: 1})
	seedResource(t, st, model.Resource{ID: "high", Active: true, Priority: 10})
	seedResource(t, st, model.Resource{ID: "mid", Active: true, Priority: 5})

	appt := model.Appointment{ID: "x", DurationMinutes: 30}
	evals, err := e.FindBestResources(context.Background(), appt, day, 2, model.DefaultPolicy())
	require.NoError(t, err)
	require.Len(t, evals, 2)
	assert.Equal(t, "high", evals[0].ResourceID)
	assert.Equal(t, "mid", evals[1].ResourceID)
}
