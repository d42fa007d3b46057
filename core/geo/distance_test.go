package geo

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/fieldops/fsd/core/model"
)

func TestKeyRoundsToFourDecimals(t *testing.T) {
	a := model.Coordinates{Lat: 33.44860001, Lng: -112.07400004}
	b := model.Coordinates{Lat: 33.44859999, Lng: -112.07399996}
	dest := model.Coordinates{Lat: 33.5, Lng: -112.1}
	if Key(a, dest) != Key(b, dest) {
		t.Fatalf("nearby coordinates should share a cache key: %s vs %s", Key(a, dest), Key(b, dest))
	}
	if Key(a, dest) == Key(dest, a) {
		t.Fatal("key must be directional")
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	phoenix := model.Coordinates{Lat: 33.4484, Lng: -112.0740}
	tucson := model.Coordinates{Lat: 32.2226, Lng: -110.9747}
	miles := HaversineMiles(phoenix, tucson)
	// Great-circle Phoenix-Tucson is about 108 miles.
	if math.Abs(miles-108) > 5 {
		t.Fatalf("unexpected distance %v", miles)
	}
}

func TestEstimatorReadThrough(t *testing.T) {
	cache := NewMemoryCache()
	est := NewEstimator(cache, nil)
	ctx := context.Background()
	from := model.Coordinates{Lat: 33.4484, Lng: -112.0740}
	to := model.Coordinates{Lat: 33.5000, Lng: -112.1000}

	d1, err := est.Travel(ctx, from, to)
	if err != nil {
		t.Fatalf("travel: %v", err)
	}
	if d1.Miles <= 0 || d1.Minutes <= 0 {
		t.Fatalf("expected positive estimate, got %+v", d1)
	}
	if cache.Len() != 1 {
		t.Fatalf("expected one cached pair, got %d", cache.Len())
	}

	d2, err := est.Travel(ctx, from, to)
	if err != nil {
		t.Fatalf("travel: %v", err)
	}
	if d1 != d2 {
		t.Fatalf("cached entry must be reused: %+v vs %+v", d1, d2)
	}
	if cache.Len() != 1 {
		t.Fatalf("repeat lookup must not add entries, got %d", cache.Len())
	}
}

type failingCache struct{}

func (failingCache) Get(context.Context, PairKey) (Distance, bool, error) {
	return Distance{}, false, errors.New("cache down")
}
func (failingCache) Put(context.Context, PairKey, Distance) error {
	return errors.New("cache down")
}

func TestEstimatorDegradesOnCacheFailure(t *testing.T) {
	est := NewEstimator(failingCache{}, nil)
	d, err := est.Travel(context.Background(),
		model.Coordinates{Lat: 33.4484, Lng: -112.0740},
		model.Coordinates{Lat: 33.5, Lng: -112.1})
	if err != nil {
		t.Fatalf("cache failure must not fail the estimate: %v", err)
	}
	if d.Miles <= 0 {
		t.Fatalf("expected computed estimate, got %+v", d)
	}
}
