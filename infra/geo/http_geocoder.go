// Package geo provides geocoding adapters behind the core geo port.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	coregeo "github.com/fieldops/fsd/core/geo"
	"github.com/fieldops/fsd/core/logger"
	"github.com/fieldops/fsd/core/model"
)

type httpStatusError struct {
	Code int
	Body string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

type geocodeResponse struct {
	Features []struct {
		Geometry struct {
			Coordinates []float64 `json:"coordinates"`
		} `json:"geometry"`
		Properties struct {
			Confidence float64 `json:"confidence"`
			Layer      string  `json:"layer"`
		} `json:"properties"`
	} `json:"features"`
}

// HTTPGeocoder resolves addresses through a Pelias-compatible geocoding
// endpoint (/geocode/search). Results are memoized per normalized address
// so repeated lookups of the same site never re-hit the provider. Degraded
// outcomes come back as result statuses, not errors; only transport
// failures after retries surface as errors, and even those map to the
// error status so callers can keep scheduling on neutral scores.
type HTTPGeocoder struct {
	baseURL string
	apiKey  string
	country string
	client  *http.Client
	log     logger.Logger

	mu   sync.RWMutex
	memo map[string]coregeo.Result
}

// NewHTTPGeocoder builds a geocoder against the given base URL.
func NewHTTPGeocoder(baseURL, apiKey, country string, log logger.Logger) *HTTPGeocoder {
	if log == nil {
		log = logger.NopLogger{}
	}
	if country == "" {
		country = "US"
	}
	return &HTTPGeocoder{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		country: country,
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log,
		memo:    make(map[string]coregeo.Result),
	}
}

// Geocode resolves one address. Low-confidence or locality-level matches
// come back as partial (a regional centroid, good enough for travel
// estimates but not for rooftop routing).
func (g *HTTPGeocoder) Geocode(ctx context.Context, address string) (coregeo.Result, error) {
	norm := normalize(address)
	if norm == "" {
		return coregeo.Result{Status: coregeo.StatusNoResults}, nil
	}

	g.mu.RLock()
	cached, ok := g.memo[norm]
	g.mu.RUnlock()
	if ok {
		return cached, nil
	}

	res, err := g.lookup(ctx, norm)
	if err != nil {
		g.log.Warnf("geocode %q: %v", address, err)
		// Provider outages degrade to the error status; the failed
		// lookup is not memoized so recovery is picked up.
		return coregeo.Result{Status: coregeo.StatusError}, nil
	}

	g.mu.Lock()
	g.memo[norm] = res
	g.mu.Unlock()
	return res, nil
}

func (g *HTTPGeocoder) lookup(ctx context.Context, norm string) (coregeo.Result, error) {
	resp, err := g.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/geocode/search", nil)
		if err != nil {
			return nil, err
		}
		if g.apiKey != "" {
			req.Header.Set("Authorization", g.apiKey)
		}
		req.Header.Set("Accept", "application/json")
		q := req.URL.Query()
		q.Set("text", norm)
		q.Set("boundary.country", g.country)
		q.Set("size", "1")
		req.URL.RawQuery = q.Encode()
		return req, nil
	})
	if err != nil {
		return coregeo.Result{}, err
	}
	defer resp.Body.Close()

	var decoded geocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return coregeo.Result{}, fmt.Errorf("decode geocode response: %w", err)
	}
	if len(decoded.Features) == 0 {
		return coregeo.Result{Status: coregeo.StatusNoResults}, nil
	}

	f := decoded.Features[0]
	if len(f.Geometry.Coordinates) != 2 {
		return coregeo.Result{}, fmt.Errorf("invalid coordinate format for %q", norm)
	}
	coords := model.Coordinates{Lat: f.Geometry.Coordinates[1], Lng: f.Geometry.Coordinates[0]}
	if !coords.Valid() {
		return coregeo.Result{}, fmt.Errorf("out-of-range coordinates for %q", norm)
	}

	status := coregeo.StatusOK
	if f.Properties.Confidence > 0 && f.Properties.Confidence < 0.6 {
		status = coregeo.StatusPartial
	}
	switch f.Properties.Layer {
	case "locality", "region", "county", "postalcode":
		status = coregeo.StatusPartial
	}
	return coregeo.Result{Coords: coords, Status: status}, nil
}

func (g *HTTPGeocoder) do(req *http.Request) (*http.Response, error) {
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &httpStatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return resp, nil
}

// doWithRetry retries transient failures (network errors, 429 and 5xx
// responses) with exponential backoff while respecting context
// cancellation.
func (g *HTTPGeocoder) doWithRetry(ctx context.Context, makeReq func() (*http.Request, error)) (*http.Response, error) {
	const maxAttempts = 4
	backoff := 200 * time.Millisecond

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		req, err := makeReq()
		if err != nil {
			return nil, fmt.Errorf("make request: %w", err)
		}
		resp, err := g.do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		retry := true
		var he *httpStatusError
		if errors.As(err, &he) {
			switch he.Code {
			case http.StatusTooManyRequests,
				http.StatusInternalServerError, http.StatusBadGateway,
				http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			default:
				retry = false
			}
		}
		if !retry || attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, lastErr
}

func normalize(address string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(address)), " ")
}
