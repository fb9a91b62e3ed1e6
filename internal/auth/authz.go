package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/grc/internal/apperr"
	"github.com/wolfeidau/grc/internal/models"
	"github.com/wolfeidau/grc/internal/store"
	"github.com/wolfeidau/grc/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Ability is one of the five operations every policy answers for.
type Ability uint8

const (
	ViewAny Ability = iota + 1
	View
	Create
	Update
	Delete
)

func (a Ability) String() string {
	switch a {
	case ViewAny:
		return "viewAny"
	case View:
		return "view"
	case Create:
		return "create"
	case Update:
		return "update"
	case Delete:
		return "delete"
	default:
		return fmt.Sprintf("ability(%d)", uint8(a))
	}
}

// RoleSet is a set membership test over roles. Roles are not ordered.
type RoleSet []models.Role

var (
	AnyRole   = RoleSet{models.RoleOwner, models.RoleAdmin, models.RoleMember}
	Managers  = RoleSet{models.RoleOwner, models.RoleAdmin}
	OwnerOnly = RoleSet{models.RoleOwner}
)

// Allows reports whether role is in the set.
func (rs RoleSet) Allows(role models.Role) bool {
	return slices.Contains(rs, role)
}

// Policy maps abilities to the roles that hold them in the subject's organization.
// An ability missing from the map only requires an authenticated actor; route middleware
// has already established membership by the time it is consulted.
type Policy map[Ability]RoleSet

var (
	// EntityPolicy covers ordinary tenant-owned entities: any role may view or mutate.
	EntityPolicy = Policy{
		View:   AnyRole,
		Update: AnyRole,
		Delete: AnyRole,
	}

	OrganizationPolicy = Policy{
		View:   AnyRole,
		Update: Managers,
		Delete: OwnerOnly,
	}

	// MembershipPolicy governs memberships and invitations.
	MembershipPolicy = Policy{
		ViewAny: AnyRole,
		View:    AnyRole,
		Create:  Managers,
		Update:  Managers,
		Delete:  Managers,
	}
)

// DefaultPolicies returns the policy for each subject type.
func DefaultPolicies() map[string]Policy {
	return map[string]Policy{
		models.SubjectOrganization: OrganizationPolicy,
		models.SubjectMembership:   MembershipPolicy,
		models.SubjectInvitation:   MembershipPolicy,
		models.SubjectFramework:    EntityPolicy,
		models.SubjectControl:      EntityPolicy,
		models.SubjectRisk:         EntityPolicy,
		models.SubjectVendor:       EntityPolicy,
		models.SubjectDocument:     EntityPolicy,
		models.SubjectPerson:       EntityPolicy,
	}
}

// MembershipLookup resolves an actor's membership in an organization.
type MembershipLookup interface {
	Get(ctx context.Context, orgID, userID uuid.UUID) (*models.Membership, error)
}

// Gate evaluates policies against the membership registry.
type Gate struct {
	memberships MembershipLookup
	policies    map[string]Policy
}

// NewGate creates a gate using the default policies.
func NewGate(memberships MembershipLookup) *Gate {
	return &Gate{
		memberships: memberships,
		policies:    DefaultPolicies(),
	}
}

// Role returns the actor's role in the organization, or ErrForbidden when the actor has no membership.
func (g *Gate) Role(ctx context.Context, orgID, userID uuid.UUID) (models.Role, error) {
	m, err := g.memberships.Get(ctx, orgID, userID)
	if err != nil {
		if errors.Is(err, store.ErrMembershipNotFound) {
			return 0, fmt.Errorf("%w: not a member of this organization", apperr.ErrForbidden)
		}
		return 0, fmt.Errorf("failed to get membership: %w", err)
	}
	return m.Role, nil
}

// Authorize checks whether actor may perform ability on a subject of subjectType owned by orgID.
// A nil actor is unauthenticated. Unknown subject types are denied.
func (g *Gate) Authorize(ctx context.Context, actor *uuid.UUID, ability Ability, subjectType string, orgID uuid.UUID) error {
	if actor == nil {
		return fmt.Errorf("%w: authentication required", apperr.ErrUnauthenticated)
	}

	policy, ok := g.policies[subjectType]
	if !ok {
		return g.deny(ctx, ability, subjectType, fmt.Errorf("%w: no policy for %s", apperr.ErrForbidden, subjectType))
	}

	roles, ok := policy[ability]
	if !ok {
		return nil
	}

	role, err := g.Role(ctx, orgID, *actor)
	if err != nil {
		if errors.Is(err, apperr.ErrForbidden) {
			return g.deny(ctx, ability, subjectType, err)
		}
		return err
	}

	if !roles.Allows(role) {
		return g.deny(ctx, ability, subjectType,
			fmt.Errorf("%w: %s cannot %s %s", apperr.ErrForbidden, role, ability, subjectType))
	}

	return nil
}

func (g *Gate) deny(ctx context.Context, ability Ability, subjectType string, err error) error {
	telemetry.GetMetrics().AuthorizationDeniedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("ability", ability.String()),
		attribute.String("subject_type", subjectType),
	))

	log.Debug().
		Err(err).
		Str("ability", ability.String()).
		Str("subject_type", subjectType).
		Msg("Authorization denied")

	return err
}
