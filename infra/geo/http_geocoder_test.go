package geo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coregeo "github.com/fieldops/fsd/core/geo"
)

func serve(t *testing.T, handler http.HandlerFunc) *HTTPGeocoder {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPGeocoder(srv.URL, "test-key", "US", nil)
}

func TestGeocodeRooftopHit(t *testing.T) {
	g := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/geocode/search", r.URL.Path)
		assert.Equal(t, "123 Main St Phoenix AZ", r.URL.Query().Get("text"))
		assert.Equal(t, "test-key", r.Header.Get("Authorization"))
		w.Write([]byte(`{"features":[{"geometry":{"coordinates":[-112.074,33.4484]},
			"properties":{"confidence":0.95,"layer":"address"}}]}`))
	})

	res, err := g.Geocode(context.Background(), "  123 Main St   Phoenix AZ ")
	require.NoError(t, err)
	assert.Equal(t, coregeo.StatusOK, res.Status)
	assert.InDelta(t, 33.4484, res.Coords.Lat, 1e-9)
	assert.InDelta(t, -112.074, res.Coords.Lng, 1e-9)
}

func TestGeocodeLocalityIsPartial(t *testing.T) {
	g := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"features":[{"geometry":{"coordinates":[-110.97,32.22]},
			"properties":{"confidence":0.9,"layer":"locality"}}]}`))
	})

	res, err := g.Geocode(context.Background(), "Tucson AZ")
	require.NoError(t, err)
	assert.Equal(t, coregeo.StatusPartial, res.Status)
	assert.True(t, res.Resolved())
}

func TestGeocodeNoResults(t *testing.T) {
	g := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"features":[]}`))
	})

	res, err := g.Geocode(context.Background(), "nowhere at all")
	require.NoError(t, err)
	assert.Equal(t, coregeo.StatusNoResults, res.Status)
	assert.False(t, res.Resolved())
}

func TestGeocodeMemoizesByNormalizedAddress(t *testing.T) {
	var calls atomic.Int32
	g := serve(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"features":[{"geometry":{"coordinates":[-112.074,33.4484]},
			"properties":{"confidence":0.95,"layer":"address"}}]}`))
	})

	for _, addr := range []string{"123 Main St", " 123  Main St ", "123 Main St"} {
		_, err := g.Geocode(context.Background(), addr)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestGeocodeServerErrorDegradesToStatus(t *testing.T) {
	var calls atomic.Int32
	g := serve(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	res, err := g.Geocode(context.Background(), "123 Main St")
	require.NoError(t, err)
	assert.Equal(t, coregeo.StatusError, res.Status)
	// 5xx responses are retried before giving up.
	assert.Equal(t, int32(4), calls.Load())
}

func TestGeocodeBadRequestIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	g := serve(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad query", http.StatusBadRequest)
	})

	res, err := g.Geocode(context.Background(), "123 Main St")
	require.NoError(t, err)
	assert.Equal(t, coregeo.StatusError, res.Status)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGeocodeEmptyAddress(t *testing.T) {
	g := NewHTTPGeocoder("http://unused", "", "US", nil)
	res, err := g.Geocode(context.Background(), "   ")
	require.NoError(t, err)
	assert.Equal(t, coregeo.StatusNoResults, res.Status)
}
