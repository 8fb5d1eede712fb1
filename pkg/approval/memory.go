package approval

import (
	"context"
	"sort"
	"sync"
)

// MemoryStorage is an in-memory approval store for tests and
// single-process deployments.
type MemoryStorage struct {
	mu       sync.RWMutex
	requests map[string]*Request
}

// NewMemoryStorage creates an empty in-memory approval store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{requests: make(map[string]*Request)}
}

// Save implements Storage.
func (s *MemoryStorage) Save(ctx context.Context, r *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[r.ID] = cloneRequest(r)
	return nil
}

// Get implements Storage.
func (s *MemoryStorage) Get(ctx context.Context, id string) (*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.requests[id]
	if !ok {
		return nil, &RequestNotFoundError{ID: id}
	}
	return cloneRequest(r), nil
}

// ListPending implements Storage.
func (s *MemoryStorage) ListPending(ctx context.Context) ([]*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Request, 0)
	for _, r := range s.requests {
		if r.State == StatePending {
			out = append(out, cloneRequest(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Close implements Storage.
func (s *MemoryStorage) Close() error { return nil }

func cloneRequest(r *Request) *Request {
	out := *r
	out.Approvals = make([]Approval, len(r.Approvals))
	copy(out.Approvals, r.Approvals)
	return &out
}
