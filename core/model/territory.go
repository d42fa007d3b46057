package model

import (
	"fmt"
	"time"
)

// Window is an operating time window within a single day, expressed as
// "HH:MM" wall-clock bounds.
type Window struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Bounds anchors the window on the given date. The returned interval is
// [start, end) in the date's location.
func (w Window) Bounds(date time.Time) (time.Time, time.Time, error) {
	start, err := clockOn(w.Start, date)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := clockOn(w.End, date)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, ValidationError{Field: "window", Msg: fmt.Sprintf("%s-%s end not after start", w.Start, w.End)}
	}
	return start, end, nil
}

func clockOn(hhmm string, date time.Time) (time.Time, error) {
	parsed, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, ValidationError{Field: "window", Msg: fmt.Sprintf("bad clock time %q", hhmm)}
	}
	return time.Date(date.Year(), date.Month(), date.Day(),
		parsed.Hour(), parsed.Minute(), 0, 0, date.Location()), nil
}

// FullDay covers the whole day, used when operating hours are not enforced.
var FullDay = Window{Start: "00:00", End: "23:59"}

// Territory is a geographic/operational grouping with its own
// operating-hours calendar.
type Territory struct {
	ID    string                    `json:"id"`
	Name  string                    `json:"name"`
	Hours map[time.Weekday][]Window `json:"hours"`
}

// WindowsOn returns the operating windows for the date's weekday. An
// empty result means the territory does not operate that day.
func (t Territory) WindowsOn(date time.Time) []Window {
	return t.Hours[date.Weekday()]
}

// Validate checks every configured window parses and is well ordered.
func (t Territory) Validate() error {
	if t.ID == "" {
		return ValidationError{Field: "id", Msg: "must not be empty"}
	}
	ref := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for day, windows := range t.Hours {
		for _, w := range windows {
			if _, _, err := w.Bounds(ref); err != nil {
				return fmt.Errorf("territory %s %s: %w", t.ID, day, err)
			}
		}
	}
	return nil
}
