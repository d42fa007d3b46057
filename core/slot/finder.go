package slot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fieldops/fsd/core/calendar"
	"github.com/fieldops/fsd/core/logger"
	"github.com/fieldops/fsd/core/model"
	"github.com/fieldops/fsd/core/store"
)

// NoSlotError reports an exhausted search with its diagnostics.
type NoSlotError struct {
	DurationMinutes int
	From, To        time.Time
	Resources       int
}

func (e NoSlotError) Error() string {
	return fmt.Sprintf("no %dmin slot between %s and %s across %d resources",
		e.DurationMinutes, model.DayKey(e.From), model.DayKey(e.To), e.Resources)
}

// Request describes a slot search.
type Request struct {
	DurationMinutes int       `json:"duration_minutes"`
	ResourceIDs     []string  `json:"resource_ids,omitempty"` // empty means all active resources
	From            time.Time `json:"from"`                   // inclusive day range
	To              time.Time `json:"to"`
	RespectHours    bool      `json:"respect_hours"`  // honor territory operating hours
	BufferMinutes   int       `json:"buffer_minutes"` // padding around existing bookings
}

// Validate rejects malformed searches.
func (r Request) Validate() error {
	if r.DurationMinutes <= 0 {
		return model.ValidationError{Field: "duration_minutes", Msg: "must be positive"}
	}
	if r.From.IsZero() || r.To.IsZero() {
		return model.ValidationError{Field: "range", Msg: "from and to are required"}
	}
	if model.DayOf(r.To).Before(model.DayOf(r.From)) {
		return model.ValidationError{Field: "range", Msg: "to before from"}
	}
	return nil
}

// Finder scans operating-hour windows minus merged busy time for open
// slots of a requested duration.
type Finder struct {
	store  store.Store
	merger *calendar.Merger
	log    logger.Logger

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
	// MaxBulkSlots caps FindSlots results across the whole range.
	MaxBulkSlots int
}

// NewFinder builds a Finder.
func NewFinder(st store.Store, merger *calendar.Merger, log logger.Logger) *Finder {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Finder{store: st, merger: merger, log: log, Now: time.Now, MaxBulkSlots: 50}
}

// FindFirst returns the first open slot under the deterministic ascending
// (date, then resource-iteration-order) scan.
func (f *Finder) FindFirst(ctx context.Context, req Request) (model.Slot, error) {
	var found *model.Slot
	resources, err := f.scan(ctx, req, func(s model.Slot) bool {
		found = &s
		return false // stop after the first hit
	})
	if err != nil {
		return model.Slot{}, err
	}
	if found == nil {
		return model.Slot{}, NoSlotError{
			DurationMinutes: req.DurationMinutes,
			From:            req.From,
			To:              req.To,
			Resources:       resources,
		}
	}
	return *found, nil
}

// FindSlots returns up to MaxBulkSlots open slots across the range,
// grouped by YYYY-MM-DD date key.
func (f *Finder) FindSlots(ctx context.Context, req Request) (map[string][]model.Slot, error) {
	out := make(map[string][]model.Slot)
	count := 0
	resources, err := f.scan(ctx, req, func(s model.Slot) bool {
		out[model.DayKey(s.Start)] = append(out[model.DayKey(s.Start)], s)
		count++
		return count < f.MaxBulkSlots
	})
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, NoSlotError{
			DurationMinutes: req.DurationMinutes,
			From:            req.From,
			To:              req.To,
			Resources:       resources,
		}
	}
	return out, nil
}

// scan walks days ascending, emitting every gap-fitting slot to emit until
// it returns false. The resource count considered is returned for
// diagnostics.
func (f *Finder) scan(ctx context.Context, req Request, emit func(model.Slot) bool) (int, error) {
	if err := req.Validate(); err != nil {
		return 0, err
	}
	resources, err := f.candidates(ctx, req)
	if err != nil {
		return 0, err
	}
	if len(resources) == 0 {
		return 0, nil
	}

	duration := time.Duration(req.DurationMinutes) * time.Minute
	buffer := time.Duration(req.BufferMinutes) * time.Minute
	now := f.Now()
	territories := make(map[string]model.Territory)

	for day := model.DayOf(req.From); !day.After(model.DayOf(req.To)); day = day.AddDate(0, 0, 1) {
		for _, res := range resources {
			absent, err := f.absentOn(ctx, res.ID, day)
			if err != nil {
				return len(resources), err
			}
			if absent {
				continue
			}
			windows, err := f.windowsFor(ctx, res, day, req.RespectHours, territories)
			if err != nil {
				return len(resources), err
			}
			if len(windows) == 0 {
				continue
			}
			busy, err := f.merger.MergedBusy(ctx, res.ID, day)
			if err != nil {
				return len(resources), err
			}
			busy = calendar.Pad(busy, buffer)

			for _, w := range windows {
				wStart, wEnd, err := w.Bounds(day)
				if err != nil {
					return len(resources), err
				}
				// Today's leading edge starts at now.
				if wStart.Before(now) && model.DayOf(now).Equal(day) {
					wStart = now
				}
				for _, gap := range gaps(wStart, wEnd, busy) {
					if gap.End.Sub(gap.Start) < duration {
						continue
					}
					s := model.Slot{ResourceID: res.ID, Start: gap.Start, End: gap.Start.Add(duration)}
					if !emit(s) {
						return len(resources), nil
					}
				}
			}
		}
	}
	return len(resources), nil
}

func (f *Finder) candidates(ctx context.Context, req Request) ([]model.Resource, error) {
	if len(req.ResourceIDs) > 0 {
		out := make([]model.Resource, 0, len(req.ResourceIDs))
		for _, id := range req.ResourceIDs {
			r, err := f.store.GetResource(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("resource %s: %w", id, err)
			}
			if r.Active {
				out = append(out, r)
			}
		}
		return out, nil
	}
	active := true
	return f.store.ListResources(ctx, store.ResourceFilter{Active: &active})
}

func (f *Finder) absentOn(ctx context.Context, resourceID string, day time.Time) (bool, error) {
	absences, err := f.store.ListAbsences(ctx, resourceID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return false, err
	}
	for _, a := range absences {
		if a.Blocks(day) {
			return true, nil
		}
	}
	return false, nil
}

func (f *Finder) windowsFor(ctx context.Context, res model.Resource, day time.Time, respectHours bool, cache map[string]model.Territory) ([]model.Window, error) {
	if !respectHours {
		return []model.Window{model.FullDay}, nil
	}
	terrID, ok := res.PrimaryTerritoryOn(day)
	if !ok {
		return []model.Window{model.FullDay}, nil
	}
	terr, ok := cache[terrID]
	if !ok {
		var err error
		terr, err = f.store.GetTerritory(ctx, terrID)
		if errors.Is(err, store.ErrNotFound) {
			return []model.Window{model.FullDay}, nil
		}
		if err != nil {
			return nil, err
		}
		cache[terrID] = terr
	}
	return terr.WindowsOn(day), nil
}

// gaps returns the free intervals within [start, end) after removing the
// busy list, including the leading edge and the trailing gap.
func gaps(start, end time.Time, busy []calendar.Interval) []calendar.Interval {
	var out []calendar.Interval
	cursor := start
	for _, b := range busy {
		if !b.End.After(cursor) {
			continue
		}
		if !b.Start.Before(end) {
			break
		}
		if b.Start.After(cursor) {
			out = append(out, calendar.Interval{Start: cursor, End: minTime(b.Start, end)})
		}
		cursor = maxTime(cursor, b.End)
		if !cursor.Before(end) {
			return out
		}
	}
	if cursor.Before(end) {
		out = append(out, calendar.Interval{Start: cursor, End: end})
	}
	return out
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
