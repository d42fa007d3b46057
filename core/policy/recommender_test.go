package policy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldops/fsd/core/calendar"
	"github.com/fieldops/fsd/core/geo"
	"github.com/fieldops/fsd/core/model"
	"github.com/fieldops/fsd/core/store"
)

func newRecommender(st *store.MemoryStore, prov calendar.Provider) *Recommender {
	merger := calendar.NewMerger(st, prov, nil)
	est := geo.NewEstimator(geo.NewMemoryCache(), nil)
	return NewRecommender(st, merger, est, nil)
}

func TestCandidatesRankingAndThreshold(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	near := model.Resource{ID: "near", Name: "Near Crew", Active: true,
		Skills:      map[string]int{"roofing": 3},
		Home:        &model.Coordinates{Lat: 33.4500, Lng: -112.0700},
		Memberships: []model.TerritoryMembership{{TerritoryID: "north", Primary: true}}}
	far := model.Resource{ID: "far", Name: "Far Crew", Active: true,
		Home: &model.Coordinates{Lat: 32.2226, Lng: -110.9747}}
	require.NoError(t, st.PutResource(ctx, near))
	require.NoError(t, st.PutResource(ctx, far))

	r := newRecommender(st, nil)
	got, err := r.Candidates(ctx, CandidateRequest{
		Coords:         &model.Coordinates{Lat: 33.4484, Lng: -112.0740},
		TerritoryID:    "north",
		RequiredSkills: map[string]int{"roofing": 1},
		Date:           time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "near", got[0].ResourceID)
	// territory 30 + near distance 30 + full skill 30 = 90.
	assert.InDelta(t, 90.0, got[0].Score, 0.01)
	assert.True(t, got[0].Recommended)

	assert.Equal(t, "far", got[1].ResourceID)
	assert.False(t, got[1].Recommended)
	assert.NotEmpty(t, got[0].SchedulePreview)
}

func TestCandidatesBusyBlockPenaltyMergesSources(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	date := time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)

	require.NoError(t, st.PutResource(ctx, model.Resource{ID: "r1", Active: true}))
	start := date.Add(9 * time.Hour)
	end := start.Add(time.Hour)
	require.NoError(t, st.PutAppointment(ctx, model.Appointment{
		ID: "a1", DurationMinutes: 60, Status: model.StatusScheduled,
		ResourceID: "r1", ScheduledStart: &start, ScheduledEnd: &end,
	}))
	prov := calendar.StaticProvider{Busy: map[string][]calendar.Interval{
		"r1|2026-05-04": {{Start: date.Add(14 * time.Hour), End: date.Add(15 * time.Hour)}},
	}}

	r := newRecommender(st, prov)
	got, err := r.Candidates(ctx, CandidateRequest{Date: date})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].BusyBlocks)
	// no skills requested: 30 base, minus 2 busy blocks.
	assert.InDelta(t, 20.0, got[0].Score, 0.01)
	assert.Len(t, got[0].SchedulePreview, 2)
}

func TestCandidatesRequiresDate(t *testing.T) {
	r := newRecommender(store.NewMemoryStore(), nil)
	_, err := r.Candidates(context.Background(), CandidateRequest{})
	var verr model.ValidationError
	assert.ErrorAs(t, err, &verr)
}
