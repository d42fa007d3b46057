// Package calendar provides external busy-time adapters behind the core
// calendar port.
package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	corecal "github.com/fieldops/fsd/core/calendar"
	"github.com/fieldops/fsd/core/logger"
	"github.com/fieldops/fsd/core/model"
)

// HTTPProvider pulls externally synced busy intervals (vacations, company
// meetings, third-party calendar events) from a calendar sync service via
// GET {base}/busy?resource_id=...&date=YYYY-MM-DD.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     logger.Logger
}

// NewHTTPProvider builds a provider against the given base URL.
func NewHTTPProvider(baseURL, apiKey string, log logger.Logger) *HTTPProvider {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

type busyResponse struct {
	Intervals []struct {
		Start time.Time `json:"start"`
		End   time.Time `json:"end"`
	} `json:"intervals"`
}

// BusyIntervals fetches the resource's external busy time for one day.
// Malformed intervals are dropped with a warning rather than failing the
// whole lookup.
func (p *HTTPProvider) BusyIntervals(ctx context.Context, resourceID string, day time.Time) ([]corecal.Interval, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/busy", nil)
	if err != nil {
		return nil, err
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", p.apiKey)
	}
	req.Header.Set("Accept", "application/json")
	q := req.URL.Query()
	q.Set("resource_id", resourceID)
	q.Set("date", model.DayKey(day))
	req.URL.RawQuery = q.Encode()

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch busy time for %s: %w", resourceID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("calendar service returned %d for %s", resp.StatusCode, resourceID)
	}

	var decoded busyResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode busy response: %w", err)
	}

	out := make([]corecal.Interval, 0, len(decoded.Intervals))
	for _, iv := range decoded.Intervals {
		if !iv.End.After(iv.Start) {
			p.log.Warnf("dropping malformed busy interval %s..%s for %s", iv.Start, iv.End, resourceID)
			continue
		}
		out = append(out, corecal.Interval{Start: iv.Start, End: iv.End})
	}
	return out, nil
}
