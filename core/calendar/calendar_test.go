package calendar

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldops/fsd/core/model"
	"github.com/fieldops/fsd/core/store"
)

var day = time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)

func at(hour, min int) time.Time {
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(min)*time.Minute)
}

func TestCoalesce(t *testing.T) {
	got := Coalesce([]Interval{
		{Start: at(13, 0), End: at(14, 0)},
		{Start: at(9, 0), End: at(10, 0)},
		{Start: at(9, 30), End: at(11, 0)},
		{Start: at(11, 0), End: at(12, 0)}, // touching, merges
	})
	require.Len(t, got, 2)
	assert.Equal(t, at(9, 0), got[0].Start)
	assert.Equal(t, at(12, 0), got[0].End)
	assert.Equal(t, at(13, 0), got[1].Start)
}

func TestPad(t *testing.T) {
	got := Pad([]Interval{
		{Start: at(9, 0), End: at(10, 0)},
		{Start: at(10, 30), End: at(11, 0)},
	}, 15*time.Minute)
	require.Len(t, got, 1, "15min padding bridges the 30min gap")
	assert.Equal(t, at(8, 45), got[0].Start)
	assert.Equal(t, at(11, 15), got[0].End)
}

func seedAppointment(t *testing.T, st *store.MemoryStore, id string, start, end time.Time) {
	t.Helper()
	require.NoError(t, st.PutAppointment(context.Background(), model.Appointment{
		ID: id, DurationMinutes: int(end.Sub(start).Minutes()), Status: model.StatusScheduled,
		ResourceID: "r1", ScheduledStart: &start, ScheduledEnd: &end,
	}))
}

func TestMergedBusyCombinesSources(t *testing.T) {
	st := store.NewMemoryStore()
	seedAppointment(t, st, "a1", at(9, 0), at(10, 0))

	prov := StaticProvider{Busy: map[string][]Interval{
		"r1|2026-05-04": {{Start: at(9, 30), End: at(11, 0)}, {Start: at(15, 0), End: at(16, 0)}},
	}}
	m := NewMerger(st, prov, nil)

	busy, err := m.MergedBusy(context.Background(), "r1", day)
	require.NoError(t, err)
	require.Len(t, busy, 2)
	assert.Equal(t, at(9, 0), busy[0].Start)
	assert.Equal(t, at(11, 0), busy[0].End)
	assert.Equal(t, at(15, 0), busy[1].Start)
}

func TestMergedBusyProviderFailureDegrades(t *testing.T) {
	st := store.NewMemoryStore()
	seedAppointment(t, st, "a1", at(9, 0), at(10, 0))

	m := NewMerger(st, StaticProvider{Err: errors.New("provider down")}, nil)
	busy, err := m.MergedBusy(context.Background(), "r1", day)
	require.NoError(t, err, "provider failure must never fail scheduling")
	require.Len(t, busy, 1)
	assert.Equal(t, at(9, 0), busy[0].Start)
}

func TestPreviewLines(t *testing.T) {
	st := store.NewMemoryStore()
	seedAppointment(t, st, "a1", at(9, 0), at(10, 30))
	m := NewMerger(st, nil, nil)

	lines, err := m.PreviewLines(context.Background(), "r1", day)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "busy 09:00 - 10:30", lines[0])

	free, err := m.PreviewLines(context.Background(), "r2", day)
	require.NoError(t, err)
	assert.Equal(t, []string{"free all day"}, free)
}
