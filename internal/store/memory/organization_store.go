package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/grc/internal/models"
	"github.com/wolfeidau/grc/internal/store"
)

// OrganizationStore implements store.OrganizationStore using in-memory storage.
// This implementation is for testing and development only - data is lost on restart.
type OrganizationStore struct {
	mu sync.RWMutex

	organizations map[uuid.UUID]*models.Organization // org_id -> Organization
	slugs         map[string]uuid.UUID               // slug -> org_id

	memberships *MembershipStore
	purgers     []store.OrgPurger
}

// NewOrganizationStore creates a new in-memory organization store.
// Deleting an organization purges its rows from memberships and every extra purger.
func NewOrganizationStore(memberships *MembershipStore, purgers ...store.OrgPurger) *OrganizationStore {
	return &OrganizationStore{
		organizations: make(map[uuid.UUID]*models.Organization),
		slugs:         make(map[string]uuid.UUID),
		memberships:   memberships,
		purgers:       purgers,
	}
}

// Create creates a new organization in memory.
func (s *OrganizationStore) Create(ctx context.Context, org *models.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.organizations[org.OrgID]; exists {
		return store.ErrOrganizationAlreadyExists
	}
	if _, exists := s.slugs[org.Slug]; exists {
		return store.ErrOrganizationAlreadyExists
	}

	// Clone to avoid external modifications
	clone := *org
	s.organizations[org.OrgID] = &clone
	s.slugs[org.Slug] = org.OrgID

	return nil
}

// Get retrieves an organization by ID.
func (s *OrganizationStore) Get(ctx context.Context, orgID uuid.UUID) (*models.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	org, exists := s.organizations[orgID]
	if !exists {
		return nil, store.ErrOrganizationNotFound
	}

	clone := *org
	return &clone, nil
}

// GetBySlug retrieves an organization by slug.
func (s *OrganizationStore) GetBySlug(ctx context.Context, slug string) (*models.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orgID, exists := s.slugs[slug]
	if !exists {
		return nil, store.ErrOrganizationNotFound
	}

	clone := *s.organizations[orgID]
	return &clone, nil
}

// Update updates the name of an existing organization.
func (s *OrganizationStore) Update(ctx context.Context, org *models.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.organizations[org.OrgID]
	if !exists {
		return store.ErrOrganizationNotFound
	}

	org.Slug = existing.Slug
	org.CreatedAt = existing.CreatedAt
	org.UpdatedAt = time.Now()

	clone := *org
	s.organizations[org.OrgID] = &clone

	return nil
}

// Delete deletes an organization by ID and purges every row it owns.
func (s *OrganizationStore) Delete(ctx context.Context, orgID uuid.UUID) error {
	s.mu.Lock()
	org, exists := s.organizations[orgID]
	if !exists {
		s.mu.Unlock()
		return store.ErrOrganizationNotFound
	}
	delete(s.organizations, orgID)
	delete(s.slugs, org.Slug)
	s.mu.Unlock()

	purgers := s.purgers
	if s.memberships != nil {
		purgers = append([]store.OrgPurger{s.memberships}, purgers...)
	}
	for _, p := range purgers {
		if err := p.PurgeOrganization(ctx, orgID); err != nil {
			return err
		}
	}

	return nil
}

// ListByMember returns all organizations the user belongs to, ordered by name.
func (s *OrganizationStore) ListByMember(ctx context.Context, userID uuid.UUID) ([]*models.Organization, error) {
	memberships, err := s.memberships.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.Organization, 0, len(memberships))
	for _, m := range memberships {
		if org, ok := s.organizations[m.OrgID]; ok {
			clone := *org
			result = append(result, &clone)
		}
	}
	slices.SortFunc(result, func(a, b *models.Organization) int {
		return strings.Compare(a.Name, b.Name)
	})

	return result, nil
}
