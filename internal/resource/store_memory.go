package resource

import (
	"context"
	"sync"

	"accord/pkg/platform/sentinel"
)

// InMemoryStore is the registry used in tests and dev mode.
type InMemoryStore struct {
	mu       sync.RWMutex
	policies map[string]Policy
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{policies: make(map[string]Policy)}
}

func (s *InMemoryStore) Get(_ context.Context, resourceID string) (*Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	policy, ok := s.policies[resourceID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	// Copy so callers cannot mutate the stored policy.
	out := policy
	out.ReleasableTo = append([]string(nil), policy.ReleasableTo...)
	out.RequiredCOI = append([]string(nil), policy.RequiredCOI...)
	return &out, nil
}

func (s *InMemoryStore) Put(_ context.Context, policy *Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[policy.ResourceID] = *policy
	return nil
}

// Seed loads development fixtures covering the classification tiers.
func (s *InMemoryStore) Seed() {
	ctx := context.Background()
	for _, p := range []Policy{
		{ResourceID: "doc-public-briefing", Classification: 0, ReleasableTo: []string{"USA", "GBR", "CAN", "AUS", "NZL", "FRA", "DEU"}},
		{ResourceID: "doc-coalition-ops", Classification: 2, ReleasableTo: []string{"USA", "GBR", "FVEY"}, RequiredCOI: []string{"FVEY"}},
		{ResourceID: "doc-national-only", Classification: 3, ReleasableTo: []string{"USA"}},
	} {
		policy := p
		_ = s.Put(ctx, &policy)
	}
}
