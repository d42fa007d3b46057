package capacity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/fieldops/fsd/core/logger"
	"github.com/fieldops/fsd/core/model"
	"github.com/fieldops/fsd/core/store"
)

// DefaultCapacityMinutes is the planned daily capacity used when no plan
// row overrides it (8h).
const DefaultCapacityMinutes = 480

// Planner computes and caches per-resource per-day utilization.
type Planner struct {
	store store.Store
	log   logger.Logger

	// CapacityMinutes overrides the default planned capacity when positive.
	CapacityMinutes int
}

// NewPlanner builds a Planner.
func NewPlanner(st store.Store, log logger.Logger) *Planner {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Planner{store: st, log: log, CapacityMinutes: DefaultCapacityMinutes}
}

// Utilization recomputes the capacity snapshot for the resource/day from
// its non-canceled appointments. Planned capacity comes from a stored plan
// override when present, otherwise the default.
func (p *Planner) Utilization(ctx context.Context, resourceID string, date time.Time) (model.CapacityPlan, error) {
	day := model.DayOf(date)
	appts, err := p.store.ListAppointments(ctx, store.AppointmentFilter{
		ResourceID:      resourceID,
		From:            day,
		To:              day.AddDate(0, 0, 1),
		ExcludeCanceled: true,
	})
	if err != nil {
		return model.CapacityPlan{}, fmt.Errorf("utilization %s/%s: %w", resourceID, model.DayKey(day), err)
	}

	planned := p.CapacityMinutes
	if planned <= 0 {
		planned = DefaultCapacityMinutes
	}
	if existing, err := p.store.GetCapacityPlan(ctx, resourceID, day); err == nil {
		if existing.PlannedMinutes > 0 {
			planned = existing.PlannedMinutes
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return model.CapacityPlan{}, err
	}

	plan := model.CapacityPlan{
		ResourceID:     resourceID,
		Date:           day,
		PlannedMinutes: planned,
	}
	for _, a := range appts {
		if !a.Scheduled() {
			continue
		}
		plan.ScheduledMinutes += a.DurationMinutes
		plan.TravelMinutes += int(a.TravelMinutes)
		plan.AppointmentCount++
	}
	total := float64(plan.ScheduledMinutes + plan.TravelMinutes)
	pct := total / float64(planned) * 100
	if pct > 100 {
		pct = 100
	}
	plan.UtilizationPercent = pct
	return plan, nil
}

// UpdatePlan recomputes the snapshot and upserts it so subsequent
// eligibility checks see fresh data. Invoked after every successful
// scheduling action.
func (p *Planner) UpdatePlan(ctx context.Context, resourceID string, date time.Time) (model.CapacityPlan, error) {
	plan, err := p.Utilization(ctx, resourceID, date)
	if err != nil {
		return model.CapacityPlan{}, err
	}
	plan.UpdatedAt = time.Now().UTC()
	if err := p.store.UpsertCapacityPlan(ctx, plan); err != nil {
		return model.CapacityPlan{}, fmt.Errorf("upsert capacity plan %s/%s: %w", resourceID, model.DayKey(date), err)
	}
	return plan, nil
}

// SetPlannedCapacity overrides the planned minutes for a resource/day and
// recomputes the snapshot against the new ceiling.
func (p *Planner) SetPlannedCapacity(ctx context.Context, resourceID string, date time.Time, minutes int) (model.CapacityPlan, error) {
	if minutes <= 0 {
		return model.CapacityPlan{}, model.ValidationError{Field: "planned_minutes", Msg: "must be positive"}
	}
	plan := model.CapacityPlan{ResourceID: resourceID, Date: model.DayOf(date), PlannedMinutes: minutes}
	if err := p.store.UpsertCapacityPlan(ctx, plan); err != nil {
		return model.CapacityPlan{}, err
	}
	return p.UpdatePlan(ctx, resourceID, date)
}

// TeamSummary aggregates a resource set's capacity for one day.
type TeamSummary struct {
	Date               time.Time            `json:"date"`
	Plans              []model.CapacityPlan `json:"plans"`
	MeanUtilization    float64              `json:"mean_utilization"`
	StdDevUtilization  float64              `json:"stddev_utilization"`
	TotalScheduledMins int                  `json:"total_scheduled_minutes"`
	TotalPlannedMins   int                  `json:"total_planned_minutes"`
}

// TeamCapacity computes per-resource rows plus mean/spread of utilization
// for the given resources on one day.
func (p *Planner) TeamCapacity(ctx context.Context, resourceIDs []string, date time.Time) (TeamSummary, error) {
	sum := TeamSummary{Date: model.DayOf(date)}
	utils := make([]float64, 0, len(resourceIDs))
	for _, id := range resourceIDs {
		plan, err := p.Utilization(ctx, id, date)
		if err != nil {
			return TeamSummary{}, err
		}
		sum.Plans = append(sum.Plans, plan)
		sum.TotalScheduledMins += plan.ScheduledMinutes + plan.TravelMinutes
		sum.TotalPlannedMins += plan.PlannedMinutes
		utils = append(utils, plan.UtilizationPercent)
	}
	if len(utils) > 0 {
		sum.MeanUtilization = stat.Mean(utils, nil)
		if len(utils) > 1 {
			sum.StdDevUtilization = stat.StdDev(utils, nil)
		}
	}
	return sum, nil
}
