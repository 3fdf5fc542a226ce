package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	id, err := s.CreateStarted(ctx, "0123456789abcdef0123456789abcdef", "/process")
	require.NoError(t, err)

	r, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusStarted, r.Status)
	assert.Nil(t, r.DurationMs)

	require.NoError(t, s.CompleteRecord(ctx, id, 42))

	r, _ = s.Get(ctx, id)
	assert.Equal(t, StatusCompleted, r.Status)
	require.NotNil(t, r.DurationMs)
	assert.Equal(t, int64(42), *r.DurationMs)

	err = s.CompleteRecord(ctx, id, 99)
	assert.ErrorIs(t, err, ErrAlreadyCompleted)
	r, _ = s.Get(ctx, id)
	assert.Equal(t, int64(42), *r.DurationMs)
}

func TestMemoryStore_CompleteUnknown(t *testing.T) {
	err := NewMemoryStore().CompleteRecord(context.Background(), "missing", 1)
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestMemoryStore_GetUnknownAndPing(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRecordNotFound)
	assert.NoError(t, s.Ping(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Ping(ctx), ErrStoreUnavailable)
}

func TestMemoryStore_CountRecentRespectsWindow(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	s.now = func() time.Time { return now.Add(-2 * time.Hour) }
	_, err := s.CreateStarted(ctx, "old", "/process")
	require.NoError(t, err)

	s.now = func() time.Time { return now }
	_, err = s.CreateStarted(ctx, "fresh", "/process")
	require.NoError(t, err)

	n, err := s.CountRecent(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMemoryStore_Stats(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	a, _ := s.CreateStarted(ctx, "a", "/process")
	b, _ := s.CreateStarted(ctx, "b", "/process")
	_, _ = s.CreateStarted(ctx, "c", "/process")
	require.NoError(t, s.CompleteRecord(ctx, a, 10))
	require.NoError(t, s.CompleteRecord(ctx, b, 30))

	st, err := s.Stats(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.TotalRequests)
	require.NotNil(t, st.AvgDurationMs)
	assert.InDelta(t, 20.0, *st.AvgDurationMs, 0.001)
	require.NotNil(t, st.MaxDurationMs)
	assert.Equal(t, int64(30), *st.MaxDurationMs)
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMemoryStore().CreateStarted(ctx, "x", "/process")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestMemoryStore_ConcurrentCreatesHaveDistinctIDs(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	const n = 100
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := s.CreateStarted(ctx, "c", "/process")
			if err == nil {
				ids <- id
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]struct{})
	for id := range ids {
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, n)
}
