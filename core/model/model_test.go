package model

import (
	"testing"
	"time"
)

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to AppointmentStatus
		ok       bool
	}{
		{StatusUnscheduled, StatusScheduled, true},
		{StatusScheduled, StatusDispatched, true},
		{StatusDispatched, StatusInProgress, true},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusCannotComplete, true},
		{StatusUnscheduled, StatusDispatched, false},
		{StatusScheduled, StatusCompleted, false},
		{StatusCompleted, StatusCanceled, false},
		{StatusCanceled, StatusScheduled, false},
		{StatusScheduled, StatusCanceled, true},
		{StatusDispatched, StatusCanceled, true},
	}
	for _, c := range cases {
		if got := c.from.CanTransition(c.to); got != c.ok {
			t.Errorf("%s -> %s: got %v want %v", c.from, c.to, got, c.ok)
		}
	}
}

func TestParseStatusRoundTrip(t *testing.T) {
	for st := StatusUnscheduled; st <= StatusCanceled; st++ {
		got, err := ParseStatus(st.String())
		if err != nil || got != st {
			t.Fatalf("round trip %s: got %v err %v", st, got, err)
		}
	}
	if _, err := ParseStatus("bogus"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestWindowBounds(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	start, end, err := Window{Start: "08:00", End: "17:00"}.Bounds(day)
	if err != nil {
		t.Fatalf("bounds: %v", err)
	}
	if start.Hour() != 8 || end.Hour() != 17 {
		t.Fatalf("got %v-%v", start, end)
	}
	if _, _, err := (Window{Start: "17:00", End: "08:00"}).Bounds(day); err == nil {
		t.Fatal("expected inverted window to fail")
	}
	if _, _, err := (Window{Start: "8am", End: "17:00"}).Bounds(day); err == nil {
		t.Fatal("expected unparsable clock to fail")
	}
}

func TestMembershipEffectivity(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)
	r := Resource{ID: "r1", Memberships: []TerritoryMembership{
		{TerritoryID: "north", Primary: true, From: &from, To: &to},
		{TerritoryID: "south"},
	}}

	if _, ok := r.MembershipOn("north", time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)); !ok {
		t.Fatal("membership should be active inside interval")
	}
	if _, ok := r.MembershipOn("north", time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)); ok {
		t.Fatal("membership should expire after To")
	}

	id, ok := r.PrimaryTerritoryOn(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	if !ok || id != "south" {
		t.Fatalf("expected fallback to south, got %q ok=%v", id, ok)
	}
}

func TestAbsenceBlocks(t *testing.T) {
	a := Absence{
		ResourceID: "r1",
		From:       time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC),
		To:         time.Date(2026, 4, 12, 17, 0, 0, 0, time.UTC),
	}
	if !a.Blocks(time.Date(2026, 4, 11, 0, 0, 0, 0, time.UTC)) {
		t.Fatal("day inside interval should be blocked")
	}
	if a.Blocks(time.Date(2026, 4, 13, 0, 0, 0, 0, time.UTC)) {
		t.Fatal("day after interval should not be blocked")
	}
}

func TestPolicyValidate(t *testing.T) {
	p := DefaultPolicy()
	if err := p.Validate(); err != nil {
		t.Fatalf("default policy must validate: %v", err)
	}
	p.Weights.Travel = -1
	if err := p.Validate(); err == nil {
		t.Fatal("negative weight must be rejected")
	}
}

func TestAppointmentValidate(t *testing.T) {
	a := Appointment{ID: "a1", DurationMinutes: 60}
	if err := a.Validate(); err != nil {
		t.Fatalf("valid appointment rejected: %v", err)
	}
	a.DurationMinutes = 0
	if err := a.Validate(); err == nil {
		t.Fatal("zero duration must be rejected")
	}
	start := time.Now()
	b := Appointment{ID: "a2", DurationMinutes: 30, ScheduledStart: &start}
	if err := b.Validate(); err == nil {
		t.Fatal("start without end must be rejected")
	}
}
