package model

import (
	"fmt"
	"time"
)

// Resource represents a mobile crew or technician unit that can be
// assigned appointments.
type Resource struct {
	ID          string                `json:"id"`
	Name        string                `json:"name"`
	Type        string                `json:"type"`
	Active      bool                  `json:"active"`
	Skills      map[string]int        `json:"skills"`         // skill id -> proficiency level
	Home        *Coordinates          `json:"home,omitempty"` // start-of-day location, nil if unknown
	Priority    int                   `json:"priority"`       // 0 means unset, otherwise 1..10
	Memberships []TerritoryMembership `json:"memberships"`
}

// TerritoryMembership links a resource to a territory for an effective
// date interval. A nil bound is open-ended.
type TerritoryMembership struct {
	TerritoryID string     `json:"territory_id"`
	Primary     bool       `json:"primary"`
	From        *time.Time `json:"from,omitempty"`
	To          *time.Time `json:"to,omitempty"`
}

// ActiveOn reports whether the membership is effective on the given date.
func (m TerritoryMembership) ActiveOn(date time.Time) bool {
	if m.From != nil && date.Before(DayOf(*m.From)) {
		return false
	}
	if m.To != nil && date.After(DayOf(*m.To)) {
		return false
	}
	return true
}

// MembershipOn returns the resource's membership in the territory active
// on the given date, preferring a primary one.
func (r Resource) MembershipOn(territoryID string, date time.Time) (TerritoryMembership, bool) {
	var found TerritoryMembership
	var ok bool
	for _, m := range r.Memberships {
		if m.TerritoryID != territoryID || !m.ActiveOn(date) {
			continue
		}
		if m.Primary {
			return m, true
		}
		if !ok {
			found, ok = m, true
		}
	}
	return found, ok
}

// PrimaryTerritoryOn returns the id of the territory the resource primarily
// belongs to on the given date. Falls back to any active membership.
func (r Resource) PrimaryTerritoryOn(date time.Time) (string, bool) {
	var fallback string
	for _, m := range r.Memberships {
		if !m.ActiveOn(date) {
			continue
		}
		if m.Primary {
			return m.TerritoryID, true
		}
		if fallback == "" {
			fallback = m.TerritoryID
		}
	}
	return fallback, fallback != ""
}

// Validate checks that the resource configuration is sound.
func (r Resource) Validate() error {
	if r.ID == "" {
		return ValidationError{Field: "id", Msg: "must not be empty"}
	}
	if r.Priority < 0 || r.Priority > 10 {
		return ValidationError{Field: "priority", Msg: fmt.Sprintf("%d outside 0..10", r.Priority)}
	}
	if r.Home != nil && !r.Home.Valid() {
		return ValidationError{Field: "home", Msg: "coordinates outside WGS84 envelope"}
	}
	return nil
}

// Absence fully blocks a resource from slot candidacy for its interval.
type Absence struct {
	ID         string    `json:"id"`
	ResourceID string    `json:"resource_id"`
	From       time.Time `json:"from"`
	To         time.Time `json:"to"`
}

// Blocks reports whether the absence covers any part of the given day.
func (a Absence) Blocks(date time.Time) bool {
	day := DayOf(date)
	return !day.Before(DayOf(a.From)) && !day.After(DayOf(a.To))
}

// DayOf truncates t to midnight UTC, the canonical calendar-day key.
func DayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DayKey formats a calendar day as YYYY-MM-DD.
func DayKey(t time.Time) string { return DayOf(t).Format("2006-01-02") }
