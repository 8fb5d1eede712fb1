package decision

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStorage is an in-memory decision store for tests and
// single-process deployments.
type MemoryStorage struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStorage creates an empty in-memory decision store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{records: make(map[string]*Record)}
}

// Store implements Storage. Re-storing an existing ID is a no-op.
func (s *MemoryStorage) Store(ctx context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[record.ID]; ok {
		return nil
	}
	s.records[record.ID] = record
	return nil
}

// Get implements Storage.
func (s *MemoryStorage) Get(ctx context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	return record, nil
}

// Query implements Storage.
func (s *MemoryStorage) Query(ctx context.Context, q *Query) ([]*Record, error) {
	s.mu.RLock()
	matched := make([]*Record, 0)
	for _, record := range s.records {
		if matches(record, q) {
			matched = append(matched, record)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i].Context.EvaluatedAt, matched[j].Context.EvaluatedAt
		if !a.Equal(b) {
			return a.After(b)
		}
		return matched[i].ID < matched[j].ID
	})

	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			return []*Record{}, nil
		}
		matched = matched[q.Offset:]
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

// Count implements Storage.
func (s *MemoryStorage) Count(ctx context.Context, q *Query) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, record := range s.records {
		if matches(record, q) {
			n++
		}
	}
	return n, nil
}

// Prune implements Storage.
func (s *MemoryStorage) Prune(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, record := range s.records {
		if record.Context.EvaluatedAt.Before(before) {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

// Close implements Storage.
func (s *MemoryStorage) Close() error { return nil }

func matches(record *Record, q *Query) bool {
	if q == nil {
		return true
	}
	at := record.Context.EvaluatedAt
	if q.StartTime != nil && at.Before(*q.StartTime) {
		return false
	}
	if q.EndTime != nil && at.After(*q.EndTime) {
		return false
	}
	if q.Source != "" && record.Source != q.Source {
		return false
	}
	if q.Disposition != "" && record.Result.Batch != q.Disposition {
		return false
	}
	if q.PolicyID != "" {
		found := false
		for _, ref := range record.Result.PolicyVersions {
			if ref.PolicyID == q.PolicyID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
