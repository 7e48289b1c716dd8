package snapshot

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store persists ranking snapshot generations.
type Store interface {
	// LatestAsOf returns the newest generation's as-of timestamp. The bool is
	// false when no generation exists.
	LatestAsOf(ctx context.Context) (time.Time, bool, error)

	// HasGeneration reports whether rows for the exact as-of exist.
	HasGeneration(ctx context.Context, asOf time.Time) (bool, error)

	// ReplaceGeneration atomically deletes any rows sharing the new as-of
	// (idempotent re-run after a crash) and all rows older than the retention
	// cutoff, then inserts the new generation. A failure leaves the previous
	// generation fully intact.
	ReplaceGeneration(ctx context.Context, asOf time.Time, rows []Row, retainAfter time.Time) error

	// Page reads one page from a generation in ranking order.
	Page(ctx context.Context, q PageQuery) ([]Row, error)
}

// InMemoryStore is an in-memory Store implementation for tests and local
// development. Thread-safe via RWMutex.
type InMemoryStore struct {
	mu          sync.RWMutex
	generations map[int64][]Row // asOf UnixNano -> rows
}

// NewInMemoryStore creates a new in-memory snapshot store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		generations: make(map[int64][]Row),
	}
}

// LatestAsOf returns the newest generation's as-of timestamp.
func (s *InMemoryStore) LatestAsOf(_ context.Context) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest int64
	found := false
	for key := range s.generations {
		if !found || key > latest {
			latest = key
			found = true
		}
	}
	if !found {
		return time.Time{}, false, nil
	}
	return time.Unix(0, latest).UTC(), true, nil
}

// HasGeneration reports whether rows for the exact as-of exist.
func (s *InMemoryStore) HasGeneration(_ context.Context, asOf time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, ok := s.generations[asOf.UnixNano()]
	return ok && len(rows) > 0, nil
}

// ReplaceGeneration swaps in a new generation and prunes expired ones.
func (s *InMemoryStore) ReplaceGeneration(_ context.Context, asOf time.Time, rows []Row, retainAfter time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.generations, asOf.UnixNano())
	for key := range s.generations {
		if time.Unix(0, key).Before(retainAfter) {
			delete(s.generations, key)
		}
	}

	stored := make([]Row, len(rows))
	copy(stored, rows)
	for i := range stored {
		stored[i].AsOf = asOf
	}
	s.generations[asOf.UnixNano()] = stored
	return nil
}

// Page reads one page from a generation in ranking order.
func (s *InMemoryStore) Page(_ context.Context, q PageQuery) ([]Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.generations[q.AsOf.UnixNano()]
	var matched []Row
	for _, r := range rows {
		if len(q.Visibilities) > 0 && !containsString(q.Visibilities, r.Visibility) {
			continue
		}
		if q.TopLevelOnly && r.InReplyTo != nil {
			continue
		}
		if q.HasAfter && !rowAfterKey(r, q) {
			continue
		}
		matched = append(matched, r)
	}

	sort.Slice(matched, func(i, j int) bool {
		return rowLess(matched[i], matched[j])
	})

	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

// GenerationCount returns the number of retained generations (for testing).
func (s *InMemoryStore) GenerationCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.generations)
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
