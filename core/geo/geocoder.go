package geo

import (
	"context"

	"github.com/fieldops/fsd/core/model"
)

// Status qualifies a geocoding result. Degraded outcomes are reported as
// statuses, never as errors, so scoring can fall back to neutral values.
type Status string

const (
	StatusOK        Status = "ok"
	StatusPartial   Status = "partial" // regional approximation, not rooftop
	StatusNoResults Status = "no_results"
	StatusError     Status = "error"
)

// Result is the outcome of resolving one address.
type Result struct {
	Coords model.Coordinates `json:"coords"`
	Status Status            `json:"status"`
}

// Resolved reports whether the result carries usable coordinates.
func (r Result) Resolved() bool {
	return r.Status == StatusOK || r.Status == StatusPartial
}

// Geocoder resolves a free-form address to coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (Result, error)
}

// NopGeocoder always reports no results. Used when no provider is
// configured; scheduling then runs on neutral travel scores.
type NopGeocoder struct{}

func (NopGeocoder) Geocode(context.Context, string) (Result, error) {
	return Result{Status: StatusNoResults}, nil
}
