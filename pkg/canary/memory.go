package canary

import (
	"context"
	"sort"
	"sync"
)

// MemoryStorage is an in-memory rollout store for tests and
// single-process deployments.
type MemoryStorage struct {
	mu       sync.RWMutex
	rollouts map[string]*Rollout
}

// NewMemoryStorage creates an empty in-memory rollout store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{rollouts: make(map[string]*Rollout)}
}

// Save implements Storage.
func (s *MemoryStorage) Save(ctx context.Context, r *Rollout) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollouts[r.ID] = cloneRollout(r)
	return nil
}

// Get implements Storage.
func (s *MemoryStorage) Get(ctx context.Context, id string) (*Rollout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rollouts[id]
	if !ok {
		return nil, &RolloutNotFoundError{ID: id}
	}
	return cloneRollout(r), nil
}

// Active implements Storage.
func (s *MemoryStorage) Active(ctx context.Context, policyID string, version int) (*Rollout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.rollouts {
		if r.PolicyID == policyID && r.Version == version && !r.State.Terminal() {
			return cloneRollout(r), nil
		}
	}
	return nil, nil
}

// ListActive implements Storage.
func (s *MemoryStorage) ListActive(ctx context.Context) ([]*Rollout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Rollout, 0)
	for _, r := range s.rollouts {
		if !r.State.Terminal() {
			out = append(out, cloneRollout(r))
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

func cloneRollout(r *Rollout) *Rollout {
	out := *r
	out.Thresholds = make([]Threshold, len(r.Thresholds))
	copy(out.Thresholds, r.Thresholds)
	return &out
}
