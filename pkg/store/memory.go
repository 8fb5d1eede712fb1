package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"vantage-hq/warden/pkg/rcp"
)

// activePointer is the per-policy activation state.
type activePointer struct {
	version   int
	disabled  bool
	reason    string
	changedAt time.Time
}

// activationEvent is one entry in the append-only activation history,
// which answers "what was effective at time T".
type activationEvent struct {
	version  int
	disabled bool
	at       time.Time
}

// MemoryStore is a thread-safe in-memory policy store. Published
// documents are deep-copied on the way in and treated as immutable
// afterwards, so readers can share them without locking.
type MemoryStore struct {
	mu       sync.RWMutex
	versions map[string][]*rcp.PolicyVersion
	active   map[string]*activePointer
	history  map[string][]activationEvent
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		versions: make(map[string][]*rcp.PolicyVersion),
		active:   make(map[string]*activePointer),
		history:  make(map[string][]activationEvent),
	}
}

// Publish implements Store.
func (s *MemoryStore) Publish(ctx context.Context, p *rcp.Policy, principal string, held rcp.Authority) (*rcp.PolicyVersion, error) {
	if err := checkPublish(p, principal, held); err != nil {
		return nil, err
	}

	frozen, err := clonePolicy(p)
	if err != nil {
		return nil, err
	}

	// Timestamps are the store's to assign: zeroed before hashing so
	// the checksum covers content only and republishing an unchanged
	// draft hashes the same.
	frozen.CreatedAt = time.Time{}
	frozen.UpdatedAt = time.Time{}
	checksum, err := Checksum(frozen)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// CreatedAt is the equal-priority ordering tie-break and belongs to
	// the policy, not the version: later versions inherit it.
	now := time.Now().UTC()
	if prev := s.versions[p.ID]; len(prev) > 0 {
		frozen.CreatedAt = prev[0].Policy.CreatedAt
		frozen.UpdatedAt = now
	} else {
		frozen.CreatedAt = now
	}

	pv := &rcp.PolicyVersion{
		Policy:   frozen,
		Version:  len(s.versions[p.ID]) + 1,
		Checksum: checksum,
	}
	s.versions[p.ID] = append(s.versions[p.ID], pv)
	return pv, nil
}

// Activate implements Store.
func (s *MemoryStore) Activate(ctx context.Context, policyID string, version, expected int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	published := s.versions[policyID]
	if len(published) == 0 {
		return &PolicyNotFoundError{PolicyID: policyID}
	}
	if version < 1 || version > len(published) {
		return &VersionNotFoundError{PolicyID: policyID, Version: version}
	}

	current := 0
	if ptr, ok := s.active[policyID]; ok {
		current = ptr.version
	}
	if current != expected {
		return &ActivationConflictError{PolicyID: policyID, Expected: expected, Actual: current}
	}

	now := time.Now()
	s.active[policyID] = &activePointer{version: version, changedAt: now}
	s.history[policyID] = append(s.history[policyID], activationEvent{version: version, at: now})
	return nil
}

// ActiveVersion implements Store.
func (s *MemoryStore) ActiveVersion(ctx context.Context, policyID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if ptr, ok := s.active[policyID]; ok {
		return ptr.version, nil
	}
	return 0, nil
}

// ListEffective implements Store.
func (s *MemoryStore) ListEffective(ctx context.Context) ([]*rcp.PolicyVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*rcp.PolicyVersion, 0, len(s.active))
	for id, ptr := range s.active {
		if ptr.disabled || ptr.version == 0 {
			continue
		}
		pv := s.versions[id][ptr.version-1]
		if !pv.Policy.Enabled {
			continue
		}
		out = append(out, pv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Policy.ID < out[j].Policy.ID })
	return out, nil
}

// ListEffectiveAt implements Store.
func (s *MemoryStore) ListEffectiveAt(ctx context.Context, at time.Time) ([]*rcp.PolicyVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*rcp.PolicyVersion, 0, len(s.history))
	for id, events := range s.history {
		var last *activationEvent
		for i := range events {
			if !events[i].at.After(at) {
				last = &events[i]
			}
		}
		if last == nil || last.disabled || last.version == 0 {
			continue
		}
		pv := s.versions[id][last.version-1]
		if !pv.Policy.Enabled {
			continue
		}
		out = append(out, pv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Policy.ID < out[j].Policy.ID })
	return out, nil
}

// GetVersion implements Store.
func (s *MemoryStore) GetVersion(ctx context.Context, policyID string, version int) (*rcp.PolicyVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	published := s.versions[policyID]
	if len(published) == 0 {
		return nil, &PolicyNotFoundError{PolicyID: policyID}
	}
	if version < 1 || version > len(published) {
		return nil, &VersionNotFoundError{PolicyID: policyID, Version: version}
	}
	return published[version-1], nil
}

// ListVersions implements Store.
func (s *MemoryStore) ListVersions(ctx context.Context, policyID string) ([]*rcp.PolicyVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	published := s.versions[policyID]
	if len(published) == 0 {
		return nil, &PolicyNotFoundError{PolicyID: policyID}
	}
	out := make([]*rcp.PolicyVersion, len(published))
	copy(out, published)
	return out, nil
}

// ForceDisable implements Store.
func (s *MemoryStore) ForceDisable(ctx context.Context, policyID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ptr, ok := s.active[policyID]
	if !ok || ptr.version == 0 {
		return &PolicyNotFoundError{PolicyID: policyID}
	}
	now := time.Now()
	ptr.disabled = true
	ptr.reason = reason
	ptr.changedAt = now
	s.history[policyID] = append(s.history[policyID], activationEvent{version: ptr.version, disabled: true, at: now})
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

// clonePolicy deep-copies a policy document so later caller mutations
// cannot reach stored versions.
func clonePolicy(p *rcp.Policy) (*rcp.Policy, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("cloning policy %q: %w", p.ID, err)
	}
	var out rcp.Policy
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("cloning policy %q: %w", p.ID, err)
	}
	return &out, nil
}
