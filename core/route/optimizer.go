package route

import (
	"context"
	"fmt"
	"time"

	"github.com/fieldops/fsd/core/events"
	"github.com/fieldops/fsd/core/geo"
	"github.com/fieldops/fsd/core/logger"
	"github.com/fieldops/fsd/core/model"
	"github.com/fieldops/fsd/core/store"
	"github.com/fieldops/fsd/internal/eventbus"
)

// Improvements below this many miles do not count, guaranteeing
// termination together with the iteration cap.
const improvementEpsilon = 1e-3

// DefaultMaxIterations bounds the 2-opt sweeps. Daily stop counts are
// small (typically under 30), so a handful of sweeps converges.
const DefaultMaxIterations = 25

// Stop is one appointment visit in a day route.
type Stop struct {
	AppointmentID  string            `json:"appointment_id"`
	Coords         model.Coordinates `json:"coords"`
	ScheduledStart time.Time         `json:"scheduled_start"`
}

// Result reports the geometric reorder. Scheduled times are never shifted
// here; the optimizer reports the order and the savings only.
type Result struct {
	ResourceID       string    `json:"resource_id"`
	Date             time.Time `json:"date"`
	OriginalOrder    []string  `json:"original_order"`
	OptimizedOrder   []string  `json:"optimized_order"`
	OriginalMiles    float64   `json:"original_miles"`
	OptimizedMiles   float64   `json:"optimized_miles"`
	SavedMiles       float64   `json:"saved_miles"`
	OriginalMinutes  float64   `json:"original_minutes"`
	OptimizedMinutes float64   `json:"optimized_minutes"`
	SavedMinutes     float64   `json:"saved_minutes"`
	Applied          bool      `json:"applied"`
}

// Optimizer reorders a resource's daily appointment sequence via 2-opt
// local search over cached pairwise distances.
type Optimizer struct {
	store  store.Store
	travel *geo.Estimator
	log    logger.Logger

	MaxIterations int
	// Bus, when set, receives a RouteOptimizedEvent per pass.
	Bus eventbus.EventBus
}

// NewOptimizer builds an Optimizer.
func NewOptimizer(st store.Store, travel *geo.Estimator, log logger.Logger) *Optimizer {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Optimizer{store: st, travel: travel, log: log, MaxIterations: DefaultMaxIterations}
}

// OptimizeDay loads the resource's appointments for the date ordered by
// scheduled start, runs 2-opt and returns the reorder. When apply is set,
// per-appointment travel fields are persisted for the optimized order;
// that write happens outside any scheduling transaction and is flagged in
// the logs.
func (o *Optimizer) OptimizeDay(ctx context.Context, resourceID string, date time.Time, apply bool) (Result, error) {
	day := model.DayOf(date)
	res, err := o.store.GetResource(ctx, resourceID)
	if err != nil {
		return Result{}, fmt.Errorf("resource %s: %w", resourceID, err)
	}
	appts, err := o.store.ListAppointments(ctx, store.AppointmentFilter{
		ResourceID:      resourceID,
		From:            day,
		To:              day.AddDate(0, 0, 1),
		ExcludeCanceled: true,
	})
	if err != nil {
		return Result{}, err
	}

	stops := make([]Stop, 0, len(appts))
	byID := make(map[string]model.Appointment, len(appts))
	for _, a := range appts {
		if !a.Scheduled() || a.Coords == nil {
			continue
		}
		stops = append(stops, Stop{AppointmentID: a.ID, Coords: *a.Coords, ScheduledStart: *a.ScheduledStart})
		byID[a.ID] = a
	}

	result := Result{ResourceID: resourceID, Date: day}
	for _, s := range stops {
		result.OriginalOrder = append(result.OriginalOrder, s.AppointmentID)
	}
	if len(stops) < 2 {
		result.OptimizedOrder = result.OriginalOrder
		return result, nil
	}

	legs, err := o.pairwise(ctx, res.Home, stops)
	if err != nil {
		return Result{}, err
	}

	order := identityOrder(len(stops))
	result.OriginalMiles, result.OriginalMinutes = tourCost(legs, order)

	order = o.twoOpt(legs, order)
	result.OptimizedMiles, result.OptimizedMinutes = tourCost(legs, order)
	// 2-opt only accepts strict improvements, so the optimized tour can
	// never be worse than the original.
	result.SavedMiles = result.OriginalMiles - result.OptimizedMiles
	result.SavedMinutes = result.OriginalMinutes - result.OptimizedMinutes
	for _, idx := range order {
		result.OptimizedOrder = append(result.OptimizedOrder, stops[idx].AppointmentID)
	}

	if apply {
		o.log.Warnf("applying route optimization for %s on %s outside the scheduling transaction",
			resourceID, model.DayKey(day))
		if err := o.applyTravel(ctx, res.Home, stops, order, byID); err != nil {
			return Result{}, err
		}
		result.Applied = true
	}
	if o.Bus != nil {
		o.Bus.Publish(events.RouteOptimizedEvent{
			ResourceID: resourceID,
			Date:       day,
			SavedMiles: result.SavedMiles,
			Applied:    result.Applied,
		})
	}
	return result, nil
}

// pairwise precomputes the leg matrix through the distance cache. Index 0
// is the resource's home; stop i maps to index i+1.
func (o *Optimizer) pairwise(ctx context.Context, home *model.Coordinates, stops []Stop) ([][]geo.Distance, error) {
	points := make([]model.Coordinates, 0, len(stops)+1)
	if home != nil {
		points = append(points, *home)
	} else {
		// Without a home base the tour starts at the first stop.
		points = append(points, stops[0].Coords)
	}
	for _, s := range stops {
		points = append(points, s.Coords)
	}
	n := len(points)
	legs := make([][]geo.Distance, n)
	for i := range legs {
		legs[i] = make([]geo.Distance, n)
		for j := range legs[i] {
			if i == j {
				continue
			}
			d, err := o.travel.Travel(ctx, points[i], points[j])
			if err != nil {
				return nil, err
			}
			legs[i][j] = d
		}
	}
	return legs, nil
}

// twoOpt repeatedly reverses a contiguous subsequence when that strictly
// reduces total distance, until no improving reversal exists or the
// iteration cap is reached.
func (o *Optimizer) twoOpt(legs [][]geo.Distance, order []int) []int {
	best := append([]int(nil), order...)
	bestMiles, _ := tourCost(legs, best)
	n := len(best)
	for it := 0; it < o.MaxIterations; it++ {
		improved := false
		for i := 0; i < n-1; i++ {
			for k := i + 1; k < n; k++ {
				cand := reverseSegment(best, i, k)
				miles, _ := tourCost(legs, cand)
				if miles+improvementEpsilon < bestMiles {
					best = cand
					bestMiles = miles
					improved = true
				}
			}
		}
		if !improved {
			break
		}
	}
	return best
}

func reverseSegment(order []int, i, k int) []int {
	out := make([]int, len(order))
	copy(out, order[:i])
	pos := i
	for j := k; j >= i; j-- {
		out[pos] = order[j]
		pos++
	}
	copy(out[pos:], order[k+1:])
	return out
}

func identityOrder(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// tourCost sums the legs home -> stops in order. Stop index i occupies
// matrix row i+1.
func tourCost(legs [][]geo.Distance, order []int) (miles, minutes float64) {
	prev := 0
	for _, idx := range order {
		leg := legs[prev][idx+1]
		miles += leg.Miles
		minutes += leg.Minutes
		prev = idx + 1
	}
	return miles, minutes
}

func (o *Optimizer) applyTravel(ctx context.Context, home *model.Coordinates, stops []Stop, order []int, byID map[string]model.Appointment) error {
	prev := 0
	for _, idx := range order {
		s := stops[idx]
		a := byID[s.AppointmentID]
		var from model.Coordinates
		if prev == 0 {
			if home != nil {
				from = *home
			} else {
				from = stops[0].Coords
			}
		} else {
			from = stops[prev-1].Coords
		}
		d, err := o.travel.Travel(ctx, from, s.Coords)
		if err != nil {
			return err
		}
		a.TravelMiles = d.Miles
		a.TravelMinutes = d.Minutes
		if err := o.store.PutAppointment(ctx, a); err != nil {
			return fmt.Errorf("persist travel for %s: %w", a.ID, err)
		}
		prev = idx + 1
	}
	return nil
}
