// Package api exposes the scheduling operations over HTTP with JSON
// bodies. Requests must include "Bearer <token>" when a token is
// configured.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/fieldops/fsd/core/capacity"
	"github.com/fieldops/fsd/core/events"
	"github.com/fieldops/fsd/core/logger"
	"github.com/fieldops/fsd/core/model"
	"github.com/fieldops/fsd/core/policy"
	"github.com/fieldops/fsd/core/route"
	"github.com/fieldops/fsd/core/scheduler"
	"github.com/fieldops/fsd/core/scheduler/audit"
	"github.com/fieldops/fsd/core/slot"
	"github.com/fieldops/fsd/core/store"
	"github.com/fieldops/fsd/internal/eventbus"
)

// Handler bundles the scheduling components behind the HTTP surface.
type Handler struct {
	store       store.Store
	scheduler   *scheduler.Scheduler
	finder      *slot.Finder
	engine      *policy.Engine
	recommender *policy.Recommender
	planner     *capacity.Planner
	optimizer   *route.Optimizer
	audit       audit.LogStore
	bus         eventbus.EventBus
	log         logger.Logger
	token       string
}

// New builds the Handler. An empty token disables authentication; a nil
// bus disables event publication.
func New(st store.Store, sched *scheduler.Scheduler, finder *slot.Finder, engine *policy.Engine,
	rec *policy.Recommender, planner *capacity.Planner, opt *route.Optimizer,
	auditLog audit.LogStore, bus eventbus.EventBus, log logger.Logger, token string) *Handler {
	if log == nil {
		log = logger.NopLogger{}
	}
	if auditLog == nil {
		auditLog = audit.NopStore{}
	}
	return &Handler{
		store: st, scheduler: sched, finder: finder, engine: engine,
		recommender: rec, planner: planner, optimizer: opt,
		audit: auditLog, bus: bus, log: log, token: token,
	}
}

// Router mounts every operation on a ServeMux.
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("POST /api/slots/find-first", h.findFirstSlot)
	mux.HandleFunc("POST /api/slots/find", h.findSlots)
	mux.HandleFunc("POST /api/schedule", h.scheduleOne)
	mux.HandleFunc("POST /api/schedule/batch", h.scheduleBatch)
	mux.HandleFunc("POST /api/appointments/{id}/transition", h.transition)
	mux.HandleFunc("POST /api/resources/rank", h.rankResources)
	mux.HandleFunc("POST /api/crews/candidates", h.crewCandidates)
	mux.HandleFunc("GET /api/resources/{id}/capacity", h.getCapacity)
	mux.HandleFunc("PUT /api/resources/{id}/capacity", h.setCapacity)
	mux.HandleFunc("GET /api/capacity/team", h.teamCapacity)
	mux.HandleFunc("POST /api/routes/optimize", h.optimizeRoute)
	mux.HandleFunc("GET /api/policies", h.listPolicies)
	mux.HandleFunc("GET /api/policies/{name}", h.getPolicy)
	mux.HandleFunc("PUT /api/policies/{name}", h.upsertPolicy)
	mux.HandleFunc("GET /api/audit", h.queryAudit)

	return h.authenticate(mux)
}

func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.token != "" && r.URL.Path != "/healthz" {
			if r.Header.Get("Authorization") != "Bearer "+h.token {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// error envelope

type apiError struct {
	Error  string `json:"error"`
	Detail any    `json:"detail,omitempty"`
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var (
		status = http.StatusInternalServerError
		body   = apiError{Error: err.Error()}
	)
	var verr model.ValidationError
	var noRes scheduler.NoEligibleResourceError
	var noSlot slot.NoSlotError
	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.As(err, &noRes):
		status = http.StatusUnprocessableEntity
		body.Detail = noRes.Evaluations
	case errors.As(err, &noSlot):
		status = http.StatusConflict
	case errors.Is(err, store.ErrSlotConflict):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		h.log.Errorf("request failed: %v", err)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return model.ValidationError{Field: "body", Msg: err.Error()}
	}
	return nil
}

// slots

func (h *Handler) findFirstSlot(w http.ResponseWriter, r *http.Request) {
	var req slot.Request
	if err := decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	got, err := h.finder.FindFirst(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, got)
}

func (h *Handler) findSlots(w http.ResponseWriter, r *http.Request) {
	var req slot.Request
	if err := decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	got, err := h.finder.FindSlots(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, got)
}

// scheduling

func (h *Handler) scheduleOne(w http.ResponseWriter, r *http.Request) {
	var req scheduler.Request
	if err := decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	res, err := h.scheduler.ScheduleAppointment(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) scheduleBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AppointmentIDs []string `json:"appointment_ids"`
	}
	if err := decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if len(req.AppointmentIDs) == 0 {
		h.writeError(w, model.ValidationError{Field: "appointment_ids", Msg: "must not be empty"})
		return
	}
	res, err := h.scheduler.ScheduleBatch(r.Context(), req.AppointmentIDs)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	next, err := model.ParseStatus(req.Status)
	if err != nil {
		h.writeError(w, err)
		return
	}
	appt, err := h.scheduler.Transition(r.Context(), r.PathValue("id"), next)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

// scoring

func (h *Handler) rankResources(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AppointmentID string    `json:"appointment_id"`
		Date          time.Time `json:"date"`
		Limit         int       `json:"limit"`
	}
	if err := decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	appt, err := h.store.GetAppointment(r.Context(), req.AppointmentID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	pol, err := h.store.ActivePolicy(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	date := req.Date
	if date.IsZero() {
		date = time.Now()
	}
	evals, err := h.engine.FindBestResources(r.Context(), appt, date, req.Limit, pol)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, evals)
}

func (h *Handler) crewCandidates(w http.ResponseWriter, r *http.Request) {
	var req policy.CandidateRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	got, err := h.recommender.Candidates(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, got)
}

// capacity

func parseDate(r *http.Request) (time.Time, error) {
	s := r.URL.Query().Get("date")
	if s == "" {
		return model.DayOf(time.Now()), nil
	}
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, model.ValidationError{Field: "date", Msg: "expected YYYY-MM-DD"}
	}
	return d, nil
}

func (h *Handler) getCapacity(w http.ResponseWriter, r *http.Request) {
	date, err := parseDate(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	id := r.PathValue("id")
	if _, err := h.store.GetResource(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	plan, err := h.planner.Utilization(r.Context(), id, date)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (h *Handler) setCapacity(w http.ResponseWriter, r *http.Request) {
	date, err := parseDate(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req struct {
		PlannedMinutes int `json:"planned_minutes"`
	}
	if err := decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	id := r.PathValue("id")
	if _, err := h.store.GetResource(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	plan, err := h.planner.SetPlannedCapacity(r.Context(), id, date, req.PlannedMinutes)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (h *Handler) teamCapacity(w http.ResponseWriter, r *http.Request) {
	date, err := parseDate(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var ids []string
	if raw := r.URL.Query().Get("ids"); raw != "" {
		ids = strings.Split(raw, ",")
	} else {
		active := true
		resources, err := h.store.ListResources(r.Context(), store.ResourceFilter{Active: &active})
		if err != nil {
			h.writeError(w, err)
			return
		}
		for _, res := range resources {
			ids = append(ids, res.ID)
		}
	}
	sum, err := h.planner.TeamCapacity(r.Context(), ids, date)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// routes

func (h *Handler) optimizeRoute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ResourceID string    `json:"resource_id"`
		Date       time.Time `json:"date"`
		Apply      bool      `json:"apply"`
	}
	if err := decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.ResourceID == "" {
		h.writeError(w, model.ValidationError{Field: "resource_id", Msg: "must not be empty"})
		return
	}
	date := req.Date
	if date.IsZero() {
		date = time.Now()
	}
	res, err := h.optimizer.OptimizeDay(r.Context(), req.ResourceID, date, req.Apply)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// policies

func (h *Handler) listPolicies(w http.ResponseWriter, r *http.Request) {
	got, err := h.store.ListPolicies(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, got)
}

func (h *Handler) getPolicy(w http.ResponseWriter, r *http.Request) {
	got, err := h.store.GetPolicy(r.Context(), r.PathValue("name"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, got)
}

func (h *Handler) upsertPolicy(w http.ResponseWriter, r *http.Request) {
	var pol model.SchedulingPolicy
	if err := decode(r, &pol); err != nil {
		h.writeError(w, err)
		return
	}
	pol.Name = r.PathValue("name")
	if err := h.store.UpsertPolicy(r.Context(), pol); err != nil {
		h.writeError(w, err)
		return
	}
	if h.bus != nil {
		h.bus.Publish(events.PolicyChangedEvent{Name: pol.Name, ActiveDefault: pol.ActiveDefault})
	}
	writeJSON(w, http.StatusOK, pol)
}

// audit

func (h *Handler) queryAudit(w http.ResponseWriter, r *http.Request) {
	q := audit.Query{
		AppointmentID: r.URL.Query().Get("appointment_id"),
		ResourceID:    r.URL.Query().Get("resource_id"),
		Outcome:       r.URL.Query().Get("outcome"),
	}
	if s := r.URL.Query().Get("start"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			q.Start = t
		}
	}
	if s := r.URL.Query().Get("end"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			q.End = t
		}
	}
	records, err := h.audit.Query(r.Context(), q)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}
