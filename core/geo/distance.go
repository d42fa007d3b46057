package geo

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/fieldops/fsd/core/logger"
	"github.com/fieldops/fsd/core/model"
)

// Distance is a travel estimate between two points.
type Distance struct {
	Miles   float64 `json:"miles"`
	Minutes float64 `json:"minutes"`
}

// PairKey identifies an origin/destination pair with coordinates rounded
// to four decimal places (~11m). Any pair rounding to the same key reuses
// the cached entry.
type PairKey string

// Key builds the cache key for an origin/destination pair.
func Key(origin, dest model.Coordinates) PairKey {
	return PairKey(fmt.Sprintf("%.4f,%.4f|%.4f,%.4f", origin.Lat, origin.Lng, dest.Lat, dest.Lng))
}

// DistanceCache memoizes pairwise travel estimates. Entries are immutable
// once computed; Put is an idempotent upsert so duplicate concurrent
// computation is wasteful but not unsafe.
type DistanceCache interface {
	Get(ctx context.Context, key PairKey) (Distance, bool, error)
	Put(ctx context.Context, key PairKey, d Distance) error
}

// MemoryCache is an RWMutex-guarded in-process DistanceCache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[PairKey]Distance
}

// NewMemoryCache returns an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[PairKey]Distance)}
}

func (c *MemoryCache) Get(_ context.Context, key PairKey) (Distance, bool, error) {
	c.mu.RLock()
	d, ok := c.entries[key]
	c.mu.RUnlock()
	return d, ok, nil
}

func (c *MemoryCache) Put(_ context.Context, key PairKey, d Distance) error {
	c.mu.Lock()
	c.entries[key] = d
	c.mu.Unlock()
	return nil
}

// Len returns the number of cached pairs.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

const (
	earthRadiusMiles = 3958.8
	// Road network detour over the great-circle distance.
	roadFactor = 1.3
	// Average field-service driving speed in mph.
	avgSpeedMPH = 30.0
)

// HaversineMiles returns the great-circle distance between two points.
func HaversineMiles(a, b model.Coordinates) float64 {
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusMiles * c
}

// Estimator computes travel estimates through a read-through cache. Cache
// failures degrade to direct computation, never to a scheduling failure.
type Estimator struct {
	cache DistanceCache
	log   logger.Logger
}

// NewEstimator builds an Estimator over the given cache.
func NewEstimator(cache DistanceCache, log logger.Logger) *Estimator {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Estimator{cache: cache, log: log}
}

// Travel returns the estimated travel distance and duration between two
// points, reusing the cached entry for any matching rounded pair.
func (e *Estimator) Travel(ctx context.Context, from, to model.Coordinates) (Distance, error) {
	key := Key(from, to)
	if e.cache != nil {
		if d, ok, err := e.cache.Get(ctx, key); err != nil {
			e.log.Warnf("distance cache get %s: %v", key, err)
		} else if ok {
			return d, nil
		}
	}
	d := estimate(from, to)
	if e.cache != nil {
		if err := e.cache.Put(ctx, key, d); err != nil {
			e.log.Warnf("distance cache put %s: %v", key, err)
		}
	}
	return d, nil
}

func estimate(from, to model.Coordinates) Distance {
	miles := HaversineMiles(from, to) * roadFactor
	return Distance{
		Miles:   miles,
		Minutes: miles / avgSpeedMPH * 60,
	}
}
