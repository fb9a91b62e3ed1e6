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

// InvitationStore implements store.InvitationStore using in-memory storage.
type InvitationStore struct {
	mu sync.RWMutex

	invitations map[uuid.UUID]*models.Invitation // invitation_id -> Invitation
	byToken     map[string]uuid.UUID             // token -> invitation_id
}

// NewInvitationStore creates a new in-memory invitation store.
func NewInvitationStore() *InvitationStore {
	return &InvitationStore{
		invitations: make(map[uuid.UUID]*models.Invitation),
		byToken:     make(map[string]uuid.UUID),
	}
}

// Create stores a new invitation.
func (s *InvitationStore) Create(ctx context.Context, inv *models.Invitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.invitations[inv.InvitationID]; exists {
		return store.ErrInvitationAlreadyExists
	}
	if _, exists := s.byToken[inv.Token]; exists {
		return store.ErrInvitationAlreadyExists
	}

	s.invitations[inv.InvitationID] = cloneInvitation(inv)
	s.byToken[inv.Token] = inv.InvitationID

	return nil
}

// Get retrieves an invitation by ID.
func (s *InvitationStore) Get(ctx context.Context, invitationID uuid.UUID) (*models.Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, exists := s.invitations[invitationID]
	if !exists {
		return nil, store.ErrInvitationNotFound
	}

	return cloneInvitation(inv), nil
}

// GetByToken retrieves an invitation by its opaque token.
func (s *InvitationStore) GetByToken(ctx context.Context, token string) (*models.Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	invitationID, exists := s.byToken[token]
	if !exists {
		return nil, store.ErrInvitationNotFound
	}

	return cloneInvitation(s.invitations[invitationID]), nil
}

// DeleteUnaccepted hard deletes the unaccepted invitations for (orgID, email).
func (s *InvitationStore) DeleteUnaccepted(ctx context.Context, orgID uuid.UUID, email string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, inv := range s.invitations {
		if inv.OrgID == orgID && inv.Email == email && inv.AcceptedAt == nil {
			delete(s.byToken, inv.Token)
			delete(s.invitations, id)
			deleted++
		}
	}

	return deleted, nil
}

// MarkAccepted sets the acceptance timestamp if it is not already set.
func (s *InvitationStore) MarkAccepted(ctx context.Context, invitationID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, exists := s.invitations[invitationID]
	if !exists || inv.AcceptedAt != nil {
		return store.ErrInvitationNotFound
	}

	accepted := at
	inv.AcceptedAt = &accepted

	return nil
}

// Delete removes an invitation.
func (s *InvitationStore) Delete(ctx context.Context, invitationID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, exists := s.invitations[invitationID]
	if !exists {
		return store.ErrInvitationNotFound
	}
	delete(s.byToken, inv.Token)
	delete(s.invitations, invitationID)

	return nil
}

// ListUnaccepted returns the organization's unaccepted invitations, newest first.
func (s *InvitationStore) ListUnaccepted(ctx context.Context, orgID uuid.UUID) ([]*models.Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Invitation
	for _, inv := range s.invitations {
		if inv.OrgID == orgID && inv.AcceptedAt == nil {
			result = append(result, cloneInvitation(inv))
		}
	}
	slices.SortFunc(result, func(a, b *models.Invitation) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	return result, nil
}

// PurgeOrganization removes every invitation of an organization.
func (s *InvitationStore) PurgeOrganization(ctx context.Context, orgID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, inv := range s.invitations {
		if inv.OrgID == orgID {
			delete(s.byToken, inv.Token)
			delete(s.invitations, id)
		}
	}

	return nil
}

func cloneInvitation(inv *models.Invitation) *models.Invitation {
	clone := *inv
	if inv.AcceptedAt != nil {
		at := *inv.AcceptedAt
		clone.AcceptedAt = &at
	}
	return &clone
}
