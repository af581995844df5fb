package discovery

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/speedrun-cli/internal/model"
	"github.com/sells-group/speedrun-cli/internal/resilience"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) FetchEmployeeProfiles(ctx context.Context, companyID string) ([]model.RawProfile, error) {
	args := m.Called(ctx, companyID)
	return args.Get(0).([]model.RawProfile), args.Error(1)
}

// memStore is an in-memory Store.
type memStore struct {
	mu        sync.Mutex
	companies map[string]*model.Company
	groups    map[string]*model.BuyerGroup
	failures  map[string]resilience.FailureEntry
	removed   []string

	persistErr error
}

func newMemStore() *memStore {
	return &memStore{
		companies: make(map[string]*model.Company),
		groups:    make(map[string]*model.BuyerGroup),
		failures:  make(map[string]resilience.FailureEntry),
	}
}

func (s *memStore) GetCompany(_ context.Context, id string) (*model.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.companies[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) ReplaceBuyerGroup(_ context.Context, g *model.BuyerGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.persistErr != nil {
		return s.persistErr
	}
	s.groups[g.CompanyID] = g
	return nil
}

func (s *memStore) RecordFailure(_ context.Context, e resilience.FailureEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[e.CompanyID] = e
	return nil
}

func (s *memStore) ListFailures(_ context.Context, f resilience.FailureFilter) ([]resilience.FailureEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []resilience.FailureEntry
	for _, e := range s.failures {
		if f.ErrorType != "" && e.ErrorType != f.ErrorType {
			continue
		}
		if !f.DueBefore.IsZero() && (e.NextRetryAt.After(f.DueBefore) || e.RetryCount >= e.MaxRetries) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *memStore) RemoveFailure(_ context.Context, companyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, companyID)
	s.removed = append(s.removed, companyID)
	return nil
}

func (s *memStore) group(id string) *model.BuyerGroup {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.groups[id]
}

func (s *memStore) failure(id string) (resilience.FailureEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.failures[id]
	return e, ok
}
