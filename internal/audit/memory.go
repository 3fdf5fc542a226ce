package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore: хранилище в памяти процесса (database.driver=memory и тесты).
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
		now:     time.Now,
	}
}

func (s *MemoryStore) CreateStarted(ctx context.Context, correlationID, endpoint string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	id := uuid.NewString()
	s.mu.Lock()
	s.records[id] = Record{
		ID:            id,
		CorrelationID: correlationID,
		Endpoint:      endpoint,
		Status:        StatusStarted,
		CreatedAt:     s.now(),
	}
	s.mu.Unlock()
	return id, nil
}

func (s *MemoryStore) CountRecent(ctx context.Context, window time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	since := s.now().Add(-window)
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, r := range s.records {
		if r.CreatedAt.After(since) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CompleteRecord(ctx context.Context, id string, durationMs int64) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	if r.Status == StatusCompleted {
		return fmt.Errorf("%w: %s", ErrAlreadyCompleted, id)
	}
	d := durationMs
	r.Status = StatusCompleted
	r.DurationMs = &d
	s.records[id] = r
	return nil
}

func (s *MemoryStore) Stats(ctx context.Context, window time.Duration) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	since := s.now().Add(-window)
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st Stats
	var sum, completed int64
	for _, r := range s.records {
		if !r.CreatedAt.After(since) {
			continue
		}
		st.TotalRequests++
		if r.DurationMs == nil {
			continue
		}
		completed++
		sum += *r.DurationMs
		if st.MaxDurationMs == nil || *r.DurationMs > *st.MaxDurationMs {
			m := *r.DurationMs
			st.MaxDurationMs = &m
		}
	}
	if completed > 0 {
		avg := float64(sum) / float64(completed)
		st.AvgDurationMs = &avg
	}
	return st, nil
}

// Get отдает копию записи.
func (s *MemoryStore) Get(ctx context.Context, id string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	return r, nil
}

// Ping: хранилище в памяти доступно, пока жив процесс.
func (s *MemoryStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
