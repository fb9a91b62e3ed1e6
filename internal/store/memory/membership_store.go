package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/grc/internal/models"
	"github.com/wolfeidau/grc/internal/store"
)

type membershipKey struct {
	orgID  uuid.UUID
	userID uuid.UUID
}

// MembershipStore implements store.MembershipStore using in-memory storage.
type MembershipStore struct {
	mu sync.RWMutex

	memberships map[membershipKey]*models.Membership

	users *UserStore
}

// NewMembershipStore creates a new in-memory membership store.
// The user store is used to join member names and emails.
func NewMembershipStore(users *UserStore) *MembershipStore {
	return &MembershipStore{
		memberships: make(map[membershipKey]*models.Membership),
		users:       users,
	}
}

// Create creates a membership, rejecting a second row for the same pair.
func (s *MembershipStore) Create(ctx context.Context, m *models.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := membershipKey{orgID: m.OrgID, userID: m.UserID}
	if _, exists := s.memberships[key]; exists {
		return store.ErrMembershipAlreadyExists
	}

	clone := *m
	s.memberships[key] = &clone

	return nil
}

// Get retrieves the membership of a user in an organization.
func (s *MembershipStore) Get(ctx context.Context, orgID, userID uuid.UUID) (*models.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, exists := s.memberships[membershipKey{orgID: orgID, userID: userID}]
	if !exists {
		return nil, store.ErrMembershipNotFound
	}

	clone := *m
	return &clone, nil
}

// UpdateRole changes the role of a membership.
func (s *MembershipStore) UpdateRole(ctx context.Context, orgID, userID uuid.UUID, role models.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, exists := s.memberships[membershipKey{orgID: orgID, userID: userID}]
	if !exists {
		return store.ErrMembershipNotFound
	}

	m.Role = role
	m.UpdatedAt = time.Now()

	return nil
}

// Delete removes a membership.
func (s *MembershipStore) Delete(ctx context.Context, orgID, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := membershipKey{orgID: orgID, userID: userID}
	if _, exists := s.memberships[key]; !exists {
		return store.ErrMembershipNotFound
	}
	delete(s.memberships, key)

	return nil
}

// ListByOrg returns the members of an organization, oldest membership first.
func (s *MembershipStore) ListByOrg(ctx context.Context, orgID uuid.UUID) ([]*models.MemberDetail, error) {
	s.mu.RLock()
	var memberships []models.Membership
	for key, m := range s.memberships {
		if key.orgID == orgID {
			memberships = append(memberships, *m)
		}
	}
	s.mu.RUnlock()

	sortMemberships(memberships)

	result := make([]*models.MemberDetail, 0, len(memberships))
	for _, m := range memberships {
		detail := &models.MemberDetail{Membership: m}
		if user, err := s.users.Get(ctx, m.UserID); err == nil {
			detail.Name = user.Name
			detail.Email = user.Email
		}
		result = append(result, detail)
	}

	return result, nil
}

// ListByUser returns every membership held by a user.
func (s *MembershipStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var memberships []models.Membership
	for key, m := range s.memberships {
		if key.userID == userID {
			memberships = append(memberships, *m)
		}
	}
	sortMemberships(memberships)

	result := make([]*models.Membership, len(memberships))
	for i := range memberships {
		result[i] = &memberships[i]
	}

	return result, nil
}

// CountByRole counts the memberships in an organization holding role.
func (s *MembershipStore) CountByRole(ctx context.Context, orgID uuid.UUID, role models.Role) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for key, m := range s.memberships {
		if key.orgID == orgID && m.Role == role {
			count++
		}
	}

	return count, nil
}

// PurgeOrganization removes every membership of an organization.
func (s *MembershipStore) PurgeOrganization(ctx context.Context, orgID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.memberships {
		if key.orgID == orgID {
			delete(s.memberships, key)
		}
	}

	return nil
}

func sortMemberships(memberships []models.Membership) {
	slices.SortFunc(memberships, func(a, b models.Membership) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return slices.Compare(a.MembershipID[:], b.MembershipID[:])
	})
}
