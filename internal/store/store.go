// Package store defines the persistence contracts for organizations, identities, invitations,
// the activity log and tenant-owned entities. Implementations live in the memory and postgres packages.
package store

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/grc/internal/models"
)

// Sentinel errors for user, membership, invitation, session and entity store operations
var (
	ErrUserNotFound            = errors.New("user not found")
	ErrUserAlreadyExists       = errors.New("user already exists")
	ErrMembershipNotFound      = errors.New("membership not found")
	ErrMembershipAlreadyExists = errors.New("membership already exists")
	ErrInvitationNotFound      = errors.New("invitation not found")
	ErrInvitationAlreadyExists = errors.New("invitation already exists")
	ErrSessionNotFound         = errors.New("session not found")
	ErrEntityNotFound          = errors.New("entity not found")
	ErrEntityAlreadyExists     = errors.New("entity already exists")
	ErrEntityReferenceNotFound = errors.New("referenced entity not found")
)

// Entities groups the stores of every tenant-owned entity kind.
type Entities struct {
	Frameworks EntityStore[*models.Framework]
	Controls   EntityStore[*models.Control]
	Risks      EntityStore[*models.Risk]
	Vendors    EntityStore[*models.Vendor]
	Documents  EntityStore[*models.Document]
	People     EntityStore[*models.Person]
}

// Stores bundles every store a backend provides.
type Stores struct {
	Organizations OrganizationStore
	Users         UserStore
	Memberships   MembershipStore
	Invitations   InvitationStore
	Activity      ActivityStore
	Sessions      SessionStore
	Entities      Entities
}

// OrgPurger is implemented by stores holding rows owned by an organization.
// Backends without foreign keys use it to cascade organization deletes.
type OrgPurger interface {
	PurgeOrganization(ctx context.Context, orgID uuid.UUID) error
}

// UserStore persists users.
type UserStore interface {
	// Create returns ErrUserAlreadyExists if the email is taken.
	Create(ctx context.Context, user *models.User) error
	Get(ctx context.Context, userID uuid.UUID) (*models.User, error)
	// GetByEmail expects a normalized email.
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Update(ctx context.Context, user *models.User) error
}

// MembershipStore persists the (user, organization) -> role bindings.
type MembershipStore interface {
	// Create returns ErrMembershipAlreadyExists if the pair already has a membership.
	Create(ctx context.Context, m *models.Membership) error

	// Get returns ErrMembershipNotFound if the user has no membership in the organization.
	Get(ctx context.Context, orgID, userID uuid.UUID) (*models.Membership, error)

	// UpdateRole changes the role of an existing membership.
	UpdateRole(ctx context.Context, orgID, userID uuid.UUID, role models.Role) error

	Delete(ctx context.Context, orgID, userID uuid.UUID) error

	// ListByOrg returns memberships joined with the member's name and email, oldest first.
	ListByOrg(ctx context.Context, orgID uuid.UUID) ([]*models.MemberDetail, error)

	// ListByUser returns all memberships held by a user.
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Membership, error)

	// CountByRole counts memberships in an organization holding role.
	CountByRole(ctx context.Context, orgID uuid.UUID, role models.Role) (int, error)
}

// InvitationStore persists organization invitations.
type InvitationStore interface {
	// Create returns ErrInvitationAlreadyExists on a token collision.
	Create(ctx context.Context, inv *models.Invitation) error

	Get(ctx context.Context, invitationID uuid.UUID) (*models.Invitation, error)

	// GetByToken returns ErrInvitationNotFound if no invitation has the token.
	GetByToken(ctx context.Context, token string) (*models.Invitation, error)

	// DeleteUnaccepted hard deletes every invitation for (orgID, email) that has not been accepted.
	DeleteUnaccepted(ctx context.Context, orgID uuid.UUID, email string) (int64, error)

	// MarkAccepted sets accepted_at exactly once.
	// Returns ErrInvitationNotFound if the invitation does not exist or was already accepted.
	MarkAccepted(ctx context.Context, invitationID uuid.UUID, at time.Time) error

	Delete(ctx context.Context, invitationID uuid.UUID) error

	// ListUnaccepted returns invitations without an acceptance, newest first.
	ListUnaccepted(ctx context.Context, orgID uuid.UUID) ([]*models.Invitation, error)
}

// ActivityCursor is a position in the activity log. Entries are ordered by creation time,
// then by id, so entries sharing a timestamp still have a stable position.
type ActivityCursor struct {
	CreatedAt  time.Time
	ActivityID uuid.UUID
}

// After reports whether entry sorts after the cursor in newest first order.
func (c ActivityCursor) After(entry *models.ActivityLog) bool {
	if n := entry.CreatedAt.Compare(c.CreatedAt); n != 0 {
		return n < 0
	}
	return bytes.Compare(entry.ActivityID[:], c.ActivityID[:]) < 0
}

// ActivityQuery pages through an organization's activity log, newest first.
type ActivityQuery struct {
	OrgID  uuid.UUID
	Before *ActivityCursor // exclusive
	Limit  int
}

// ActivityStore is the append-only activity log.
type ActivityStore interface {
	Append(ctx context.Context, entry *models.ActivityLog) error
	List(ctx context.Context, q ActivityQuery) ([]*models.ActivityLog, error)
	CountByOrg(ctx context.Context, orgID uuid.UUID) (int, error)
}

// SessionStore persists login sessions.
type SessionStore interface {
	Create(ctx context.Context, session *models.Session) error

	// Get returns ErrSessionNotFound if the session doesn't exist.
	Get(ctx context.Context, sessionID uuid.UUID) (*models.Session, error)

	UpdateLastUsed(ctx context.Context, sessionID uuid.UUID, at time.Time) error

	Revoke(ctx context.Context, sessionID uuid.UUID, at time.Time) error
}

// EntityStore persists one kind of tenant-owned entity. P is a pointer to the entity struct.
type EntityStore[P any] interface {
	Create(ctx context.Context, entity P) error

	// Get returns ErrEntityNotFound if no entity has the ID.
	Get(ctx context.Context, id uuid.UUID) (P, error)

	Update(ctx context.Context, entity P) error

	Delete(ctx context.Context, id uuid.UUID) error

	// ListByOrg returns the entities owned by orgID, oldest first.
	ListByOrg(ctx context.Context, orgID uuid.UUID) ([]P, error)

	CountByOrg(ctx context.Context, orgID uuid.UUID) (int, error)
}
