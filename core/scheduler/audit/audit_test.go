package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample(id, resource, outcome string, ts time.Time) Record {
	return Record{
		Timestamp:     ts,
		AppointmentID: id,
		ResourceID:    resource,
		Outcome:       outcome,
	}
}

func testStore(t *testing.T, s LogStore) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.Append(ctx, sample("a1", "r1", OutcomeScheduled, base)))
	require.NoError(t, s.Append(ctx, sample("a2", "r1", OutcomeNoSlot, base.Add(time.Hour))))
	require.NoError(t, s.Append(ctx, sample("a3", "r2", OutcomeScheduled, base.Add(2*time.Hour))))

	got, err := s.Query(ctx, Query{ResourceID: "r1"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.Query(ctx, Query{Outcome: OutcomeScheduled})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.Query(ctx, Query{Start: base.Add(90 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a3", got[0].AppointmentID)

	got, err = s.Query(ctx, Query{AppointmentID: "a2"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, OutcomeNoSlot, got[0].Outcome)

	require.NoError(t, s.Close())
}

func TestJSONLStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	s, err := NewJSONLStore(path)
	require.NoError(t, err)
	testStore(t, s)
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	testStore(t, s)
}

func TestRotatingJSONLStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	// 0 MB threshold still creates the store; rotation triggers at >0 size
	// only when configured, so use a real store and force tiny max.
	s, err := NewRotatingJSONLStore(path, 1, 2)
	require.NoError(t, err)
	s.maxSize = 64 // force rotation quickly

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Append(ctx, sample("a", "r", OutcomeScheduled, time.Now().UTC())))
	}
	backups, err := filepath.Glob(path + ".*")
	require.NoError(t, err)
	assert.NotEmpty(t, backups)
	assert.LessOrEqual(t, len(backups), 2)
}
