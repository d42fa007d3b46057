// Package scheduler orchestrates the full auto-scheduling pipeline:
// candidate scoring, slot search, atomic commit and fan-out of the
// resulting events.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fieldops/fsd/core/capacity"
	"github.com/fieldops/fsd/core/events"
	"github.com/fieldops/fsd/core/geo"
	"github.com/fieldops/fsd/core/logger"
	"github.com/fieldops/fsd/core/metrics"
	"github.com/fieldops/fsd/core/model"
	"github.com/fieldops/fsd/core/policy"
	"github.com/fieldops/fsd/core/scheduler/audit"
	"github.com/fieldops/fsd/core/slot"
	"github.com/fieldops/fsd/core/store"
	"github.com/fieldops/fsd/internal/eventbus"
)

const (
	// DefaultCandidateLimit bounds how many ranked candidates the
	// scheduler will try slots for before giving up.
	DefaultCandidateLimit = 3
	// DefaultHorizonDays is how far ahead the slot search looks.
	DefaultHorizonDays = 14

	scheduledBy = "auto-scheduler"
)

// NoEligibleResourceError carries the per-candidate diagnostics so the
// caller can see why every resource was rejected.
type NoEligibleResourceError struct {
	AppointmentID string
	Evaluations   []policy.Evaluation
}

func (e NoEligibleResourceError) Error() string {
	reasons := make([]string, 0, len(e.Evaluations))
	for _, ev := range e.Evaluations {
		reasons = append(reasons, fmt.Sprintf("%s: %s", ev.ResourceID, ev.Reason))
	}
	if len(reasons) == 0 {
		return fmt.Sprintf("no eligible resource for appointment %s: no candidates", e.AppointmentID)
	}
	return fmt.Sprintf("no eligible resource for appointment %s (%s)", e.AppointmentID, strings.Join(reasons, "; "))
}

// Notifier pushes assignment notifications to field crews.
type Notifier interface {
	NotifyScheduled(ctx context.Context, ev events.ScheduledEvent) error
}

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) NotifyScheduled(context.Context, events.ScheduledEvent) error { return nil }

// Request asks the scheduler to place one appointment.
type Request struct {
	AppointmentID string `json:"appointment_id"`
	// PreferredResourceID, when set and eligible, wins over the ranked
	// top candidate.
	PreferredResourceID string `json:"preferred_resource_id,omitempty"`
	// PreferredDate anchors the slot search; falls back to the
	// appointment's earliest start, then to now.
	PreferredDate time.Time `json:"preferred_date,omitempty"`
}

// Result reports a successful placement.
type Result struct {
	Appointment   model.Appointment `json:"appointment"`
	ResourceID    string            `json:"resource_id"`
	ResourceName  string            `json:"resource_name"`
	Start         time.Time         `json:"start"`
	End           time.Time         `json:"end"`
	Score         float64           `json:"score"`
	TravelMinutes float64           `json:"travel_minutes"`
}

// BatchFailure records one appointment the batch could not place.
type BatchFailure struct {
	AppointmentID string `json:"appointment_id"`
	Reason        string `json:"reason"`
}

// BatchResult summarizes a batch run. Failures never abort the batch.
type BatchResult struct {
	Total     int            `json:"total"`
	Scheduled []Result       `json:"scheduled"`
	Failed    []BatchFailure `json:"failed"`
}

// Scheduler wires the scoring engine, slot finder and store into the
// auto-scheduling operations.
type Scheduler struct {
	store    store.Store
	engine   *policy.Engine
	finder   *slot.Finder
	planner  *capacity.Planner
	audit    audit.LogStore
	bus      eventbus.EventBus
	sink     metrics.Sink
	notifier Notifier
	log      logger.Logger

	// CandidateLimit and HorizonDays are tunable per deployment.
	CandidateLimit int
	HorizonDays    int

	// Geocoder, when set, resolves the appointment address before
	// scoring if coordinates are missing. Degraded outcomes leave the
	// coordinates unset so scoring falls back to neutral travel values.
	Geocoder geo.Geocoder

	now func() time.Time
}

// New builds a Scheduler. Audit, bus, sink and notifier may be nil; they
// default to no-ops.
func New(st store.Store, engine *policy.Engine, finder *slot.Finder, planner *capacity.Planner,
	auditLog audit.LogStore, bus eventbus.EventBus, sink metrics.Sink, notifier Notifier, log logger.Logger) *Scheduler {
	if auditLog == nil {
		auditLog = audit.NopStore{}
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Scheduler{
		store:          st,
		engine:         engine,
		finder:         finder,
		planner:        planner,
		audit:          auditLog,
		bus:            bus,
		sink:           sink,
		notifier:       notifier,
		log:            log,
		CandidateLimit: DefaultCandidateLimit,
		HorizonDays:    DefaultHorizonDays,
		now:            time.Now,
	}
}

// ScheduleAppointment runs the full pipeline for one appointment: rank
// candidates, select the top-scored (or eligible preferred) resource,
// find its first open slot, commit atomically and fan out the outcome.
func (s *Scheduler) ScheduleAppointment(ctx context.Context, req Request) (Result, error) {
	started := s.now()

	appt, err := s.store.GetAppointment(ctx, req.AppointmentID)
	if err != nil {
		return Result{}, fmt.Errorf("load appointment %s: %w", req.AppointmentID, err)
	}
	if appt.Status.Terminal() {
		return Result{}, model.ValidationError{Field: "status",
			Msg: fmt.Sprintf("appointment %s is %s and cannot be scheduled", appt.ID, appt.Status)}
	}
	appt = s.resolveCoords(ctx, appt)

	pol, err := s.store.ActivePolicy(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load active policy: %w", err)
	}

	searchFrom := s.searchStart(appt, req.PreferredDate)
	searchTo := searchFrom.AddDate(0, 0, s.horizon())

	candidates, err := s.rankCandidates(ctx, appt, searchFrom, pol, req.PreferredResourceID)
	if err != nil {
		s.recordFailure(ctx, appt.ID, audit.OutcomeError, err.Error(), started)
		return Result{}, err
	}
	eligible := eligibleOnly(candidates)
	if len(eligible) == 0 {
		failure := NoEligibleResourceError{AppointmentID: appt.ID, Evaluations: candidates}
		s.recordFailure(ctx, appt.ID, audit.OutcomeNoResource, failure.Error(), started)
		return Result{}, failure
	}

	// The slot search is constrained to the one selected resource. When
	// it has no opening in the horizon the request fails, even if a
	// lower-ranked candidate is free.
	selected := eligible[0]
	found, err := s.findSlotFor(ctx, appt, selected, pol, searchFrom, searchTo)
	if err != nil {
		var noSlot slot.NoSlotError
		if errors.As(err, &noSlot) {
			s.recordFailure(ctx, appt.ID, audit.OutcomeNoSlot, err.Error(), started)
		} else {
			s.recordFailure(ctx, appt.ID, audit.OutcomeError, err.Error(), started)
		}
		return Result{}, err
	}

	res, err := s.commit(ctx, appt, selected, found, pol, started)
	if err == nil {
		return res, nil
	}
	if !errors.Is(err, store.ErrSlotConflict) {
		s.recordFailure(ctx, appt.ID, audit.OutcomeError, err.Error(), started)
		return Result{}, err
	}

	// A concurrent commit filled the selected resource's day between
	// scoring and commit. Fall back through the remaining candidates
	// rather than failing the caller on the race.
	s.log.Warnf("commit conflict for %s on %s, trying next candidate", appt.ID, selected.ResourceID)
	s.recordFailure(ctx, appt.ID, audit.OutcomeConflict, err.Error(), started)
	lastErr := err
	for _, cand := range eligible[1:] {
		found, err := s.findSlotFor(ctx, appt, cand, pol, searchFrom, searchTo)
		if err != nil {
			var noSlot slot.NoSlotError
			if errors.As(err, &noSlot) {
				continue
			}
			s.recordFailure(ctx, appt.ID, audit.OutcomeError, err.Error(), started)
			return Result{}, err
		}
		res, err := s.commit(ctx, appt, cand, found, pol, started)
		if err != nil {
			if errors.Is(err, store.ErrSlotConflict) {
				s.log.Warnf("commit conflict for %s on %s, trying next candidate", appt.ID, cand.ResourceID)
				s.recordFailure(ctx, appt.ID, audit.OutcomeConflict, err.Error(), started)
				lastErr = err
				continue
			}
			s.recordFailure(ctx, appt.ID, audit.OutcomeError, err.Error(), started)
			return Result{}, err
		}
		return res, nil
	}
	return Result{}, lastErr
}

func (s *Scheduler) findSlotFor(ctx context.Context, appt model.Appointment, cand policy.Evaluation,
	pol model.SchedulingPolicy, from, to time.Time) (model.Slot, error) {
	return s.finder.FindFirst(ctx, slot.Request{
		DurationMinutes: appt.DurationMinutes,
		ResourceIDs:     []string{cand.ResourceID},
		From:            from,
		To:              to,
		RespectHours:    true,
		BufferMinutes:   pol.BufferMinutes,
	})
}

// resolveCoords fills missing coordinates from the appointment address.
// Geocoder failures and degraded statuses are logged and leave the
// coordinates unset; scheduling proceeds on neutral travel scores.
func (s *Scheduler) resolveCoords(ctx context.Context, appt model.Appointment) model.Appointment {
	if s.Geocoder == nil || appt.Coords != nil || appt.Address == "" {
		return appt
	}
	res, err := s.Geocoder.Geocode(ctx, appt.Address)
	if err != nil {
		s.log.Warnf("geocode appointment %s: %v", appt.ID, err)
		return appt
	}
	if !res.Resolved() {
		s.log.Warnf("geocode appointment %s: %s", appt.ID, res.Status)
		return appt
	}
	coords := res.Coords
	appt.Coords = &coords
	return appt
}

// ScheduleBatch places each appointment independently; one failure never
// aborts the rest.
func (s *Scheduler) ScheduleBatch(ctx context.Context, appointmentIDs []string) (BatchResult, error) {
	out := BatchResult{Total: len(appointmentIDs)}
	for _, id := range appointmentIDs {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		res, err := s.ScheduleAppointment(ctx, Request{AppointmentID: id})
		if err != nil {
			out.Failed = append(out.Failed, BatchFailure{AppointmentID: id, Reason: err.Error()})
			continue
		}
		out.Scheduled = append(out.Scheduled, res)
	}
	s.log.Infof("batch complete: %d scheduled, %d failed of %d",
		len(out.Scheduled), len(out.Failed), out.Total)
	return out, nil
}

// Transition moves an appointment through its lifecycle, enforcing the
// allowed state machine edges.
func (s *Scheduler) Transition(ctx context.Context, appointmentID string, next model.AppointmentStatus) (model.Appointment, error) {
	appt, err := s.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		return model.Appointment{}, err
	}
	if !appt.Status.CanTransition(next) {
		return model.Appointment{}, model.ValidationError{Field: "status",
			Msg: fmt.Sprintf("cannot transition %s from %s to %s", appointmentID, appt.Status, next)}
	}
	appt.Status = next
	if next == model.StatusCanceled {
		// Canceled work frees the day; refresh the capacity snapshot.
		if appt.ResourceID != "" && appt.ScheduledStart != nil {
			defer func(resourceID string, day time.Time) {
				if _, err := s.planner.UpdatePlan(ctx, resourceID, day); err != nil {
					s.log.Warnf("refresh capacity after cancel %s: %v", appointmentID, err)
				}
			}(appt.ResourceID, *appt.ScheduledStart)
		}
	}
	if err := s.store.PutAppointment(ctx, appt); err != nil {
		return model.Appointment{}, err
	}
	s.log.Infof("appointment %s is now %s", appointmentID, next)
	return appt, nil
}

// rankCandidates returns the ranked evaluations, ensuring a preferred
// resource is evaluated even when it falls outside the top N.
func (s *Scheduler) rankCandidates(ctx context.Context, appt model.Appointment, date time.Time,
	pol model.SchedulingPolicy, preferredID string) ([]policy.Evaluation, error) {
	limit := s.CandidateLimit
	if limit <= 0 {
		limit = DefaultCandidateLimit
	}
	evals, err := s.engine.FindBestResources(ctx, appt, date, limit, pol)
	if err != nil {
		return nil, fmt.Errorf("rank candidates for %s: %w", appt.ID, err)
	}
	if preferredID == "" {
		return evals, nil
	}
	for i, ev := range evals {
		if ev.ResourceID == preferredID {
			if ev.Eligible {
				// Preferred and eligible wins over the top score.
				return append([]policy.Evaluation{ev}, append(evals[:i:i], evals[i+1:]...)...), nil
			}
			return evals, nil
		}
	}
	res, err := s.store.GetResource(ctx, preferredID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.log.Warnf("preferred resource %s not found, using ranked candidates", preferredID)
			return evals, nil
		}
		return nil, err
	}
	ev, err := s.engine.Evaluate(ctx, res, appt, date, pol)
	if err != nil {
		return nil, err
	}
	if ev.Eligible {
		return append([]policy.Evaluation{ev}, evals...), nil
	}
	return evals, nil
}

// commit persists the placement atomically and fans out the outcome.
func (s *Scheduler) commit(ctx context.Context, appt model.Appointment, cand policy.Evaluation,
	found model.Slot, pol model.SchedulingPolicy, started time.Time) (Result, error) {
	appt.ResourceID = cand.ResourceID
	appt.ScheduledStart = &found.Start
	appt.ScheduledEnd = &found.End
	appt.Status = model.StatusScheduled
	appt.TravelMinutes = cand.TravelMinutes

	plan, err := s.projectedPlan(ctx, appt)
	if err != nil {
		return Result{}, err
	}

	nowTS := s.now().UTC()
	assignment := model.AssignmentRecord{
		ID:            uuid.NewString(),
		AppointmentID: appt.ID,
		ResourceID:    cand.ResourceID,
		Primary:       true,
		ScheduledBy:   scheduledBy,
		CreatedAt:     nowTS,
		UpdatedAt:     nowTS,
	}

	in := store.CommitInput{Appointment: appt, Assignment: assignment, Plan: plan}
	if pol.MaxAppointmentsPerDay > 0 {
		in.MaxAppointments = pol.MaxAppointmentsPerDay
	}
	if err := s.store.CommitSchedule(ctx, in); err != nil {
		return Result{}, err
	}

	s.log.Infof("appointment %s scheduled on %s at %s (score %.1f)",
		appt.ID, cand.ResourceID, found.Start.Format(time.RFC3339), cand.Composite)

	ev := events.ScheduledEvent{
		AppointmentID: appt.ID,
		ResourceID:    cand.ResourceID,
		Start:         found.Start,
		End:           found.End,
		Score:         cand.Composite,
		TravelMinutes: cand.TravelMinutes,
	}
	if s.bus != nil {
		s.bus.Publish(ev)
	}
	if err := s.notifier.NotifyScheduled(ctx, ev); err != nil {
		s.log.Warnf("notify assignment %s: %v", appt.ID, err)
	}
	s.appendAudit(ctx, audit.Record{
		Timestamp:     nowTS,
		AppointmentID: appt.ID,
		ResourceID:    cand.ResourceID,
		Outcome:       audit.OutcomeScheduled,
		Score:         cand.Composite,
		TravelMinutes: cand.TravelMinutes,
		Start:         &found.Start,
		End:           &found.End,
	})
	s.recordMetrics(metrics.ScheduleEvent{
		AppointmentID: appt.ID,
		ResourceID:    cand.ResourceID,
		Outcome:       audit.OutcomeScheduled,
		Score:         cand.Composite,
		TravelMinutes: cand.TravelMinutes,
		Elapsed:       s.now().Sub(started),
		Time:          nowTS,
	})
	if err := s.sink.RecordUtilization(metrics.UtilizationEvent{
		ResourceID: cand.ResourceID,
		Date:       plan.Date,
		Percent:    plan.UtilizationPercent,
	}); err != nil {
		s.log.Warnf("record utilization: %v", err)
	}

	return Result{
		Appointment:   appt,
		ResourceID:    cand.ResourceID,
		ResourceName:  cand.ResourceName,
		Start:         found.Start,
		End:           found.End,
		Score:         cand.Composite,
		TravelMinutes: cand.TravelMinutes,
	}, nil
}

// projectedPlan is the capacity snapshot the commit will leave behind:
// the current day recomputed plus the new appointment's own minutes.
func (s *Scheduler) projectedPlan(ctx context.Context, appt model.Appointment) (model.CapacityPlan, error) {
	plan, err := s.planner.Utilization(ctx, appt.ResourceID, *appt.ScheduledStart)
	if err != nil {
		return model.CapacityPlan{}, fmt.Errorf("project capacity for %s: %w", appt.ResourceID, err)
	}
	plan.ScheduledMinutes += appt.DurationMinutes
	plan.TravelMinutes += int(appt.TravelMinutes)
	plan.AppointmentCount++
	pct := float64(plan.ScheduledMinutes+plan.TravelMinutes) / float64(plan.PlannedMinutes) * 100
	if pct > 100 {
		pct = 100
	}
	plan.UtilizationPercent = pct
	plan.UpdatedAt = s.now().UTC()
	return plan, nil
}

func (s *Scheduler) searchStart(appt model.Appointment, preferred time.Time) time.Time {
	if !preferred.IsZero() {
		return preferred
	}
	if appt.EarliestStart != nil && appt.EarliestStart.After(s.now()) {
		return *appt.EarliestStart
	}
	return s.now()
}

func (s *Scheduler) horizon() int {
	if s.HorizonDays > 0 {
		return s.HorizonDays
	}
	return DefaultHorizonDays
}

func (s *Scheduler) recordFailure(ctx context.Context, appointmentID, outcome, reason string, started time.Time) {
	s.log.Warnf("scheduling %s failed: %s", appointmentID, reason)
	s.appendAudit(ctx, audit.Record{
		Timestamp:     s.now().UTC(),
		AppointmentID: appointmentID,
		Outcome:       outcome,
		Reason:        reason,
	})
	if s.bus != nil {
		s.bus.Publish(events.ScheduleFailedEvent{AppointmentID: appointmentID, Reason: reason})
	}
	s.recordMetrics(metrics.ScheduleEvent{
		AppointmentID: appointmentID,
		Outcome:       outcome,
		Reason:        reason,
		Elapsed:       s.now().Sub(started),
		Time:          s.now().UTC(),
	})
}

func (s *Scheduler) appendAudit(ctx context.Context, rec audit.Record) {
	if err := s.audit.Append(ctx, rec); err != nil {
		s.log.Warnf("audit append for %s: %v", rec.AppointmentID, err)
	}
}

func (s *Scheduler) recordMetrics(ev metrics.ScheduleEvent) {
	if err := s.sink.RecordSchedule(ev); err != nil {
		s.log.Warnf("record metrics: %v", err)
	}
}

func eligibleOnly(evals []policy.Evaluation) []policy.Evaluation {
	out := make([]policy.Evaluation, 0, len(evals))
	for _, ev := range evals {
		if ev.Eligible {
			out = append(out, ev)
		}
	}
	return out
}
