package policy

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/fieldops/fsd/core/capacity"
	"github.com/fieldops/fsd/core/geo"
	"github.com/fieldops/fsd/core/logger"
	"github.com/fieldops/fsd/core/model"
	"github.com/fieldops/fsd/core/store"
)

// Machine-readable rejection reasons carried by every ineligible verdict.
const (
	ReasonMissingSkill    = "missing_skill"
	ReasonNoTerritory     = "no_territory_membership"
	ReasonTravelExceeded  = "travel_exceeded"
	ReasonMaxAppointments = "max_appointments"
	ReasonOvertime        = "overtime_disallowed"
)

// The territory factor uses a fixed internal weight; it is not part of the
// configurable policy weight vector.
const territoryWeight = 50.0

// Neutral factor scores used when information is missing or a collaborator
// degraded.
const (
	neutralNoPriorStop   = 75.0
	neutralUnknownCoords = 50.0
	neutralPreference    = 50.0
)

// IneligibleError reports a hard-constraint failure with its reason code
// and numeric diagnostics.
type IneligibleError struct {
	Reason string
	Detail string
}

func (e IneligibleError) Error() string { return fmt.Sprintf("%s: %s", e.Reason, e.Detail) }

// FactorScores is the per-factor breakdown of a candidate evaluation.
type FactorScores struct {
	Skill       float64 `json:"skill"`
	Territory   float64 `json:"territory"`
	Travel      float64 `json:"travel"`
	Utilization float64 `json:"utilization"`
	Priority    float64 `json:"priority"`
	Preference  float64 `json:"preference"`
}

// Evaluation is the verdict for one candidate resource.
type Evaluation struct {
	ResourceID    string       `json:"resource_id"`
	ResourceName  string       `json:"resource_name"`
	Eligible      bool         `json:"eligible"`
	Reason        string       `json:"reason,omitempty"` // rejection reason code
	Detail        string       `json:"detail,omitempty"` // human-readable diagnostics
	Scores        FactorScores `json:"scores"`
	Composite     float64      `json:"composite"`
	TravelMinutes float64      `json:"travel_minutes"`
}

// Engine evaluates hard constraints and computes weighted composite scores
// per candidate resource.
type Engine struct {
	store    store.Store
	travel   *geo.Estimator
	capacity *capacity.Planner
	log      logger.Logger
}

// NewEngine builds a policy Engine.
func NewEngine(st store.Store, travel *geo.Estimator, cap *capacity.Planner, log logger.Logger) *Engine {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Engine{store: st, travel: travel, capacity: cap, log: log}
}

// Evaluate runs the ordered hard gates and, if all pass, the soft scoring
// for one resource against the appointment on the target date. Gate
// failures short-circuit to a zero composite with the rejection reason;
// store faults propagate as errors, never as rejections.
func (e *Engine) Evaluate(ctx context.Context, res model.Resource, appt model.Appointment, date time.Time, pol model.SchedulingPolicy) (Evaluation, error) {
	ev := Evaluation{ResourceID: res.ID, ResourceName: res.Name}

	// Gate 1: skill.
	skillScore, miss, ok := skillMatch(res, appt, pol.RequireExactSkillMatch)
	if !ok {
		return e.reject(ev, ReasonMissingSkill, fmt.Sprintf("missing required skill %q", miss)), nil
	}
	ev.Scores.Skill = skillScore

	// Gate 2: territory.
	terrScore, ok := e.territoryScore(res, appt, date, pol.RequireSameTerritory)
	if !ok {
		return e.reject(ev, ReasonNoTerritory,
			fmt.Sprintf("no active membership in territory %q on %s", appt.TerritoryID, model.DayKey(date))), nil
	}
	ev.Scores.Territory = terrScore

	// Gate 3: travel ceiling.
	travelScore, minutes, ok, err := e.travelScore(ctx, res, appt, date, pol.MaxTravelMinutes)
	if err != nil {
		e.log.Warnf("travel score for %s: %v (neutral fallback)", res.ID, err)
		travelScore, ok = neutralUnknownCoords, true
	}
	if !ok {
		return e.reject(ev, ReasonTravelExceeded,
			fmt.Sprintf("Travel time %.0fmin exceeds max %dmin", minutes, pol.MaxTravelMinutes)), nil
	}
	ev.Scores.Travel = travelScore
	ev.TravelMinutes = minutes

	// Gate 4: daily cap / overtime.
	utilScore, ok, reason, detail, err := e.utilizationScore(ctx, res.ID, date, pol)
	if err != nil {
		return Evaluation{}, fmt.Errorf("utilization for %s: %w", res.ID, err)
	}
	if !ok {
		return e.reject(ev, reason, detail), nil
	}
	ev.Scores.Utilization = utilScore

	// Soft factors 5 and 6.
	ev.Scores.Priority = priorityScore(res)
	ev.Scores.Preference = neutralPreference

	ev.Eligible = true
	ev.Composite = composite(ev.Scores, pol.Weights)
	return ev, nil
}

func (e *Engine) reject(ev Evaluation, reason, detail string) Evaluation {
	ev.Eligible = false
	ev.Reason = reason
	ev.Detail = detail
	ev.Composite = 0
	return ev
}

// FindBestResources builds the candidate set (territory members if the
// policy requires same territory, else all active resources), scores every
// candidate, sorts eligible-first then by descending score, and returns
// the top limit entries with full breakdowns.
func (e *Engine) FindBestResources(ctx context.Context, appt model.Appointment, date time.Time, limit int, pol model.SchedulingPolicy) ([]Evaluation, error) {
	filter := store.ResourceFilter{}
	active := true
	filter.Active = &active
	if pol.RequireSameTerritory && appt.TerritoryID != "" {
		filter.TerritoryID = appt.TerritoryID
		filter.On = model.DayOf(date)
	}
	candidates, err := e.store.ListResources(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}

	evals := make([]Evaluation, 0, len(candidates))
	for _, res := range candidates {
		ev, err := e.Evaluate(ctx, res, appt, date, pol)
		if err != nil {
			return nil, err
		}
		evals = append(evals, ev)
	}
	sort.SliceStable(evals, func(i, j int) bool {
		if evals[i].Eligible != evals[j].Eligible {
			return evals[i].Eligible
		}
		if evals[i].Composite != evals[j].Composite {
			return evals[i].Composite > evals[j].Composite
		}
		return evals[i].ResourceID < evals[j].ResourceID
	})
	if limit > 0 && len(evals) > limit {
		evals = evals[:limit]
	}
	return evals, nil
}

// skillMatch returns the skill factor score, the first missing skill when
// rejecting, and whether the gate passed.
func skillMatch(res model.Resource, appt model.Appointment, exact bool) (float64, string, bool) {
	if len(appt.RequiredSkills) == 0 {
		return 100, "", true
	}
	matched := 0
	missing := ""
	for skill, level := range appt.RequiredSkills {
		if have, ok := res.Skills[skill]; ok && have >= level {
			matched++
		} else if missing == "" {
			missing = skill
		}
	}
	if exact && matched < len(appt.RequiredSkills) {
		return 0, missing, false
	}
	return float64(matched) / float64(len(appt.RequiredSkills)) * 100, "", true
}

func (e *Engine) territoryScore(res model.Resource, appt model.Appointment, date time.Time, required bool) (float64, bool) {
	if !required {
		return 50, true
	}
	if appt.TerritoryID == "" {
		// No territory on the work order: nothing to gate against.
		return 50, true
	}
	m, ok := res.MembershipOn(appt.TerritoryID, date)
	if !ok {
		return 0, false
	}
	if m.Primary {
		return 100, true
	}
	return 75, true
}

// travelScore locates the resource's nearest preceding scheduled
// appointment with known coordinates on the date and scores the cached
// travel duration against the policy ceiling.
func (e *Engine) travelScore(ctx context.Context, res model.Resource, appt model.Appointment, date time.Time, maxMinutes int) (float64, float64, bool, error) {
	if appt.Coords == nil {
		return neutralUnknownCoords, 0, true, nil
	}
	day := model.DayOf(date)
	appts, err := e.store.ListAppointments(ctx, store.AppointmentFilter{
		ResourceID:      res.ID,
		From:            day,
		To:              day.AddDate(0, 0, 1),
		ExcludeCanceled: true,
	})
	if err != nil {
		return 0, 0, false, err
	}
	var prev *model.Appointment
	for i := len(appts) - 1; i >= 0; i-- {
		if appts[i].ID != appt.ID && appts[i].Scheduled() && appts[i].Coords != nil {
			prev = &appts[i]
			break
		}
	}
	if prev == nil {
		return neutralNoPriorStop, 0, true, nil
	}
	d, err := e.travel.Travel(ctx, *prev.Coords, *appt.Coords)
	if err != nil {
		return 0, 0, false, err
	}
	if maxMinutes > 0 && d.Minutes > float64(maxMinutes) {
		return 0, d.Minutes, false, nil
	}
	score := 100.0
	if maxMinutes > 0 {
		score = math.Max(0, 100-d.Minutes/float64(maxMinutes)*100)
	}
	return score, d.Minutes, true, nil
}

func (e *Engine) utilizationScore(ctx context.Context, resourceID string, date time.Time, pol model.SchedulingPolicy) (float64, bool, string, string, error) {
	plan, err := e.capacity.Utilization(ctx, resourceID, date)
	if err != nil {
		return 0, false, "", "", err
	}
	if pol.MaxAppointmentsPerDay > 0 && plan.AppointmentCount >= pol.MaxAppointmentsPerDay {
		return 0, false, ReasonMaxAppointments,
			fmt.Sprintf("max appointments: already %d of %d on %s",
				plan.AppointmentCount, pol.MaxAppointmentsPerDay, model.DayKey(date)), nil
	}
	if plan.UtilizationPercent >= 100 && !pol.AllowOvertime {
		return 0, false, ReasonOvertime,
			fmt.Sprintf("utilization %.0f%% with overtime disallowed", plan.UtilizationPercent), nil
	}
	return math.Max(0, 100-math.Abs(plan.UtilizationPercent-75)), true, "", "", nil
}

func priorityScore(res model.Resource) float64 {
	if res.Priority <= 0 {
		return 50
	}
	return float64(res.Priority) / 10 * 100
}

// composite is the weighted average of the six factor scores. The
// territory factor always carries its fixed internal weight, so the
// denominator is never zero.
func composite(s FactorScores, w model.ScoreWeights) float64 {
	num := s.Skill*w.Skill +
		s.Territory*territoryWeight +
		s.Travel*w.Travel +
		s.Utilization*w.Utilization +
		s.Priority*w.Priority +
		s.Preference*w.Preference
	den := w.Skill + territoryWeight + w.Travel + w.Utilization + w.Priority + w.Preference
	return num / den
}
