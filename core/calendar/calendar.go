package calendar

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/fieldops/fsd/core/logger"
	"github.com/fieldops/fsd/core/model"
	"github.com/fieldops/fsd/core/store"
)

// Interval is a half-open busy interval [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps reports whether the two intervals intersect.
func (i Interval) Overlaps(other Interval) bool {
	return i.Start.Before(other.End) && other.Start.Before(i.End)
}

// Provider fetches externally synced busy intervals for a resource's day.
// A failure or empty answer means "no additional busy time"; it never
// fails scheduling.
type Provider interface {
	BusyIntervals(ctx context.Context, resourceID string, day time.Time) ([]Interval, error)
}

// NopProvider reports no external busy time.
type NopProvider struct{}

func (NopProvider) BusyIntervals(context.Context, string, time.Time) ([]Interval, error) {
	return nil, nil
}

// StaticProvider serves a fixed per-resource busy map. Test fixture.
type StaticProvider struct {
	Busy map[string][]Interval // keyed by resourceID|YYYY-MM-DD
	Err  error
}

func (p StaticProvider) BusyIntervals(_ context.Context, resourceID string, day time.Time) ([]Interval, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	return p.Busy[resourceID+"|"+model.DayKey(day)], nil
}

// Merger combines internally tracked appointment intervals with external
// calendar busy time into one sorted, coalesced list.
type Merger struct {
	store    store.Store
	provider Provider
	log      logger.Logger
}

// NewMerger builds a Merger. A nil provider behaves like NopProvider.
func NewMerger(st store.Store, provider Provider, log logger.Logger) *Merger {
	if provider == nil {
		provider = NopProvider{}
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Merger{store: st, provider: provider, log: log}
}

// MergedBusy returns the resource's busy intervals for the day, internal
// appointments and external calendar events merged and coalesced. Provider
// failures are downgraded to a warning.
func (m *Merger) MergedBusy(ctx context.Context, resourceID string, day time.Time) ([]Interval, error) {
	dayStart := model.DayOf(day)
	dayEnd := dayStart.AddDate(0, 0, 1)

	appts, err := m.store.ListAppointments(ctx, store.AppointmentFilter{
		ResourceID:      resourceID,
		From:            dayStart,
		To:              dayEnd,
		ExcludeCanceled: true,
	})
	if err != nil {
		return nil, fmt.Errorf("list appointments for %s on %s: %w", resourceID, model.DayKey(day), err)
	}

	var intervals []Interval
	for _, a := range appts {
		if !a.Scheduled() {
			continue
		}
		intervals = append(intervals, Interval{Start: *a.ScheduledStart, End: *a.ScheduledEnd})
	}

	external, err := m.provider.BusyIntervals(ctx, resourceID, dayStart)
	if err != nil {
		m.log.Warnf("calendar provider for %s on %s: %v (treating as no busy time)", resourceID, model.DayKey(day), err)
	} else {
		intervals = append(intervals, external...)
	}

	return Coalesce(intervals), nil
}

// CountBlocks returns the number of distinct merged busy blocks for the
// day, used by the candidate recommender.
func (m *Merger) CountBlocks(ctx context.Context, resourceID string, day time.Time) (int, error) {
	busy, err := m.MergedBusy(ctx, resourceID, day)
	if err != nil {
		return 0, err
	}
	return len(busy), nil
}

// PreviewLines renders a human-readable merged schedule for the day.
func (m *Merger) PreviewLines(ctx context.Context, resourceID string, day time.Time) ([]string, error) {
	busy, err := m.MergedBusy(ctx, resourceID, day)
	if err != nil {
		return nil, err
	}
	if len(busy) == 0 {
		return []string{"free all day"}, nil
	}
	lines := make([]string, 0, len(busy))
	for _, b := range busy {
		lines = append(lines, fmt.Sprintf("busy %s - %s", b.Start.Format("15:04"), b.End.Format("15:04")))
	}
	return lines, nil
}

// Coalesce sorts the intervals and merges overlapping or touching ones.
func Coalesce(intervals []Interval) []Interval {
	if len(intervals) == 0 {
		return nil
	}
	sorted := make([]Interval, len(intervals))
	copy(sorted, intervals)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	out := []Interval{sorted[0]}
	for _, iv := range sorted[1:] {
		last := &out[len(out)-1]
		if !iv.Start.After(last.End) {
			if iv.End.After(last.End) {
				last.End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}

// Pad grows every interval by the buffer on both sides and re-coalesces.
// Used to enforce policy buffer minutes between bookings.
func Pad(intervals []Interval, buffer time.Duration) []Interval {
	if buffer <= 0 || len(intervals) == 0 {
		return intervals
	}
	padded := make([]Interval, 0, len(intervals))
	for _, iv := range intervals {
		padded = append(padded, Interval{Start: iv.Start.Add(-buffer), End: iv.End.Add(buffer)})
	}
	return Coalesce(padded)
}
