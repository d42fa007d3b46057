package calendar

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusyIntervalsFetchesAndFilters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/busy", r.URL.Path)
		assert.Equal(t, "r1", r.URL.Query().Get("resource_id"))
		assert.Equal(t, "2026-05-04", r.URL.Query().Get("date"))
		w.Write([]byte(`{"intervals":[
			{"start":"2026-05-04T09:00:00Z","end":"2026-05-04T10:00:00Z"},
			{"start":"2026-05-04T13:00:00Z","end":"2026-05-04T13:00:00Z"}
		]}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "", nil)
	day := time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)
	got, err := p.BusyIntervals(context.Background(), "r1", day)
	require.NoError(t, err)
	// The zero-length interval is dropped.
	require.Len(t, got, 1)
	assert.Equal(t, day.Add(9*time.Hour), got[0].Start)
}

func TestBusyIntervalsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "", nil)
	_, err := p.BusyIntervals(context.Background(), "r1", time.Now())
	require.Error(t, err)
}
