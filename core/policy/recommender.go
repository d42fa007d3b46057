package policy

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/fieldops/fsd/core/calendar"
	"github.com/fieldops/fsd/core/geo"
	"github.com/fieldops/fsd/core/logger"
	"github.com/fieldops/fsd/core/model"
	"github.com/fieldops/fsd/core/store"
)

// RecommendThreshold is the fixed score above which the top candidate is
// flagged recommended.
const RecommendThreshold = 70.0

// Additive heuristic points, distinct from the policy engine's weighted
// scoring.
const (
	recTerritoryPoints  = 30.0
	recDistanceNear     = 30.0 // under 10 miles
	recDistanceMid      = 20.0 // under 25 miles
	recDistanceFar      = 10.0 // under 50 miles
	recSkillMaxPoints   = 30.0
	recBusyBlockPenalty = 5.0
	recBusyPenaltyFloor = 0.0
)

// CandidateRequest describes a prospective, not-yet-scheduled appointment.
type CandidateRequest struct {
	Coords         *model.Coordinates `json:"coords,omitempty"`
	TerritoryID    string             `json:"territory_id,omitempty"`
	RequiredSkills map[string]int     `json:"required_skills,omitempty"`
	Date           time.Time          `json:"date"`
	Limit          int                `json:"limit"`
}

// Candidate is one ranked crew suggestion with its schedule preview.
type Candidate struct {
	ResourceID      string   `json:"resource_id"`
	ResourceName    string   `json:"resource_name"`
	Score           float64  `json:"score"`
	Recommended     bool     `json:"recommended"`
	DistanceMiles   float64  `json:"distance_miles"`
	BusyBlocks      int      `json:"busy_blocks"`
	SchedulePreview []string `json:"schedule_preview"`
}

// Recommender produces a ranked, human-reviewable list of crew candidates
// using an additive heuristic over territory match, distance tiers, skill
// overlap and same-day busy-block count.
type Recommender struct {
	store  store.Store
	merger *calendar.Merger
	travel *geo.Estimator
	log    logger.Logger
}

// NewRecommender builds a Recommender.
func NewRecommender(st store.Store, merger *calendar.Merger, travel *geo.Estimator, log logger.Logger) *Recommender {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Recommender{store: st, merger: merger, travel: travel, log: log}
}

// Candidates scores all active resources and returns the top N. The first
// candidate is flagged recommended once it clears the fixed threshold.
func (r *Recommender) Candidates(ctx context.Context, req CandidateRequest) ([]Candidate, error) {
	if req.Date.IsZero() {
		return nil, model.ValidationError{Field: "date", Msg: "required"}
	}
	active := true
	resources, err := r.store.ListResources(ctx, store.ResourceFilter{Active: &active})
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}

	out := make([]Candidate, 0, len(resources))
	for _, res := range resources {
		c, err := r.score(ctx, res, req)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ResourceID < out[j].ResourceID
	})
	if req.Limit > 0 && len(out) > req.Limit {
		out = out[:req.Limit]
	}
	if len(out) > 0 && out[0].Score >= RecommendThreshold {
		out[0].Recommended = true
	}
	return out, nil
}

func (r *Recommender) score(ctx context.Context, res model.Resource, req CandidateRequest) (Candidate, error) {
	c := Candidate{ResourceID: res.ID, ResourceName: res.Name}
	score := 0.0

	if req.TerritoryID != "" {
		if _, ok := res.MembershipOn(req.TerritoryID, req.Date); ok {
			score += recTerritoryPoints
		}
	}

	if req.Coords != nil && res.Home != nil {
		d, err := r.travel.Travel(ctx, *res.Home, *req.Coords)
		if err == nil {
			c.DistanceMiles = d.Miles
			switch {
			case d.Miles < 10:
				score += recDistanceNear
			case d.Miles < 25:
				score += recDistanceMid
			case d.Miles < 50:
				score += recDistanceFar
			}
		} else {
			r.log.Warnf("candidate distance for %s: %v", res.ID, err)
		}
	}

	if len(req.RequiredSkills) > 0 {
		matched := 0
		for skill, level := range req.RequiredSkills {
			if have, ok := res.Skills[skill]; ok && have >= level {
				matched++
			}
		}
		score += float64(matched) / float64(len(req.RequiredSkills)) * recSkillMaxPoints
	} else {
		score += recSkillMaxPoints
	}

	blocks, err := r.merger.CountBlocks(ctx, res.ID, req.Date)
	if err != nil {
		return Candidate{}, err
	}
	c.BusyBlocks = blocks
	score -= float64(blocks) * recBusyBlockPenalty
	if score < recBusyPenaltyFloor {
		score = recBusyPenaltyFloor
	}
	c.Score = score

	preview, err := r.merger.PreviewLines(ctx, res.ID, req.Date)
	if err != nil {
		return Candidate{}, err
	}
	c.SchedulePreview = preview
	return c, nil
}
