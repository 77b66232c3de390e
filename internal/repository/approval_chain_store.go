package repository

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-hr-approval-chains/internal/errors"
)

// ApprovalChainStore persists exactly one active configuration per
// (organization, request type). Save replaces the whole level list atomically.
type ApprovalChainStore interface {
	// Get returns the active configuration, or nil when none is stored.
	Get(ctx context.Context, organizationID string, requestType RequestType) (*ApprovalChainConfiguration, error)
	// Save validates cfg, supersedes the previous configuration and fills in
	// ID, Version, CreatedAt and UpdatedAt.
	Save(ctx context.Context, cfg *ApprovalChainConfiguration) error
	// ListConfiguredTypes returns the request types with an active configuration.
	ListConfiguredTypes(ctx context.Context, organizationID string) ([]RequestType, error)
	// History returns superseded versions, newest first.
	History(ctx context.Context, organizationID string, requestType RequestType, limit int) ([]*ApprovalChainConfiguration, error)
	// Delete removes the active configuration so the type falls back to
	// auto-approval. The removed version is kept in history.
	Delete(ctx context.Context, organizationID string, requestType RequestType, deletedBy string) error
}

type configKey struct {
	organizationID string
	requestType    RequestType
}

// MemoryApprovalChainStore is an in-process ApprovalChainStore. All mutations
// happen under a single write lock.
type MemoryApprovalChainStore struct {
	mu      sync.RWMutex
	active  map[configKey]*ApprovalChainConfiguration
	history map[configKey][]*ApprovalChainConfiguration
	now     func() time.Time
}

// NewMemoryApprovalChainStore creates an empty store.
func NewMemoryApprovalChainStore() *MemoryApprovalChainStore {
	return &MemoryApprovalChainStore{
		active:  make(map[configKey]*ApprovalChainConfiguration),
		history: make(map[configKey][]*ApprovalChainConfiguration),
		now:     time.Now,
	}
}

func (s *MemoryApprovalChainStore) Get(ctx context.Context, organizationID string, requestType RequestType) (*ApprovalChainConfiguration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.active[configKey{organizationID, requestType}].Clone(), nil
}

func (s *MemoryApprovalChainStore) Save(ctx context.Context, cfg *ApprovalChainConfiguration) error {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := configKey{cfg.OrganizationID, cfg.RequestType}
	now := s.now().UTC()

	if prev, ok := s.active[key]; ok {
		s.history[key] = append(s.history[key], prev)
		cfg.ID = prev.ID
		cfg.Version = prev.Version + 1
		cfg.CreatedAt = prev.CreatedAt
	} else {
		cfg.ID = uuid.NewString()
		cfg.Version = s.nextVersion(key)
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now

	s.active[key] = cfg.Clone()
	return nil
}

// nextVersion keeps versions increasing across a Delete.
func (s *MemoryApprovalChainStore) nextVersion(key configKey) int {
	h := s.history[key]
	if len(h) == 0 {
		return 1
	}
	return h[len(h)-1].Version + 1
}

func (s *MemoryApprovalChainStore) ListConfiguredTypes(ctx context.Context, organizationID string) ([]RequestType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	types := make([]RequestType, 0, len(AllRequestTypes))
	for _, t := range AllRequestTypes {
		if _, ok := s.active[configKey{organizationID, t}]; ok {
			types = append(types, t)
		}
	}
	slices.Sort(types)
	return types, nil
}

func (s *MemoryApprovalChainStore) History(ctx context.Context, organizationID string, requestType RequestType, limit int) ([]*ApprovalChainConfiguration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h := s.history[configKey{organizationID, requestType}]
	out := make([]*ApprovalChainConfiguration, 0, len(h))
	for _, cfg := range slices.Backward(h) {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, cfg.Clone())
	}
	return out, nil
}

func (s *MemoryApprovalChainStore) Delete(ctx context.Context, organizationID string, requestType RequestType, deletedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := configKey{organizationID, requestType}
	prev, ok := s.active[key]
	if !ok {
		return errors.NotFound("approval_chain_configuration", string(requestType))
	}
	s.history[key] = append(s.history[key], prev)
	delete(s.active, key)
	return nil
}
