package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/grc/internal/apperr"
	"github.com/wolfeidau/grc/internal/auth"
	"github.com/wolfeidau/grc/internal/models"
	"github.com/wolfeidau/grc/internal/store"
	"github.com/wolfeidau/grc/internal/tenancy"
)

// Members lists the scope organization's members with their user details.
func (d *Directory) Members(ctx context.Context, scope tenancy.Scope) ([]*models.MemberDetail, error) {
	if err := d.authorize(ctx, scope, auth.ViewAny, models.SubjectMembership); err != nil {
		return nil, err
	}

	members, err := d.memberships.ListByOrg(ctx, scope.Org.OrgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	return members, nil
}

// Role returns userID's role in orgID. A user without a membership is Forbidden.
func (d *Directory) Role(ctx context.Context, orgID, userID uuid.UUID) (models.Role, error) {
	return d.gate.Role(ctx, orgID, userID)
}

// EnsureMembership grants role to userID unless a membership already exists, in which case
// the existing membership is returned unchanged. The caller is responsible for authorizing
// the grant. created reports whether a new membership was written.
func (d *Directory) EnsureMembership(ctx context.Context, actor *uuid.UUID, orgID, userID uuid.UUID, role models.Role) (m *models.Membership, created bool, err error) {
	if !role.Valid() {
		return nil, false, apperr.Invalid("role", "unknown role")
	}
	return d.ensureMembership(ctx, actor, orgID, userID, role)
}

func (d *Directory) ensureMembership(ctx context.Context, actor *uuid.UUID, orgID, userID uuid.UUID, role models.Role) (*models.Membership, bool, error) {
	existing, err := d.memberships.Get(ctx, orgID, userID)
	switch {
	case err == nil:
		return existing, false, nil
	case !errors.Is(err, store.ErrMembershipNotFound):
		return nil, false, fmt.Errorf("failed to get membership: %w", err)
	}

	membershipID, err := uuid.NewV7()
	if err != nil {
		return nil, false, fmt.Errorf("failed to generate membership ID: %w", err)
	}

	now := d.timestamp()
	m := &models.Membership{
		MembershipID: membershipID,
		OrgID:        orgID,
		UserID:       userID,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := d.memberships.Create(ctx, m); err != nil {
		if errors.Is(err, store.ErrMembershipAlreadyExists) {
			// lost a race with a concurrent grant
			existing, getErr := d.memberships.Get(ctx, orgID, userID)
			if getErr != nil {
				return nil, false, fmt.Errorf("failed to get membership: %w", getErr)
			}
			return existing, false, nil
		}
		if errors.Is(err, store.ErrUserNotFound) || errors.Is(err, store.ErrOrganizationNotFound) {
			return nil, false, fmt.Errorf("%w: %v", apperr.ErrNotFound, err)
		}
		return nil, false, fmt.Errorf("failed to create membership: %w", err)
	}

	log.Debug().
		Str("org_id", orgID.String()).
		Str("user_id", userID.String()).
		Str("role", role.String()).
		Msg("Created membership")

	d.recorder.Created(ctx, actor, m)

	return m, true, nil
}

// ChangeRole sets the role of a member. Granting, changing or revoking the Owner role needs an
// Owner actor, an Owner cannot demote themselves, and the last Owner cannot be demoted.
func (d *Directory) ChangeRole(ctx context.Context, scope tenancy.Scope, userID uuid.UUID, role models.Role) (*models.Membership, error) {
	if !role.Valid() {
		return nil, apperr.Invalid("role", "unknown role")
	}
	if err := d.authorize(ctx, scope, auth.Update, models.SubjectMembership); err != nil {
		return nil, err
	}

	target, err := d.member(ctx, scope.Org.OrgID, userID)
	if err != nil {
		return nil, err
	}
	if target.Role == role {
		return target, nil
	}

	if role == models.RoleOwner || target.Role == models.RoleOwner {
		if err := d.requireOwner(ctx, scope); err != nil {
			return nil, err
		}
	}
	if target.Role == models.RoleOwner {
		if err := d.guardOwner(ctx, scope, target, "demote"); err != nil {
			return nil, err
		}
	}

	before := target.Attributes()
	target.Role = role
	target.UpdatedAt = d.timestamp()

	if err := d.memberships.UpdateRole(ctx, target.OrgID, target.UserID, role); err != nil {
		if errors.Is(err, store.ErrMembershipNotFound) {
			return nil, fmt.Errorf("%w: membership", apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to update membership: %w", err)
	}

	d.recorder.Updated(ctx, scope.Actor, before, target)

	return target, nil
}

// RemoveMember deletes a membership. Removing an Owner follows the same rules as demoting one.
func (d *Directory) RemoveMember(ctx context.Context, scope tenancy.Scope, userID uuid.UUID) error {
	if err := d.authorize(ctx, scope, auth.Delete, models.SubjectMembership); err != nil {
		return err
	}

	target, err := d.member(ctx, scope.Org.OrgID, userID)
	if err != nil {
		return err
	}

	if target.Role == models.RoleOwner {
		if err := d.requireOwner(ctx, scope); err != nil {
			return err
		}
		if err := d.guardOwner(ctx, scope, target, "remove"); err != nil {
			return err
		}
	}

	if err := d.memberships.Delete(ctx, target.OrgID, target.UserID); err != nil {
		if errors.Is(err, store.ErrMembershipNotFound) {
			return fmt.Errorf("%w: membership", apperr.ErrNotFound)
		}
		return fmt.Errorf("failed to delete membership: %w", err)
	}

	d.recorder.Deleted(ctx, scope.Actor, target)

	return nil
}

func (d *Directory) member(ctx context.Context, orgID, userID uuid.UUID) (*models.Membership, error) {
	m, err := d.memberships.Get(ctx, orgID, userID)
	if err != nil {
		if errors.Is(err, store.ErrMembershipNotFound) {
			return nil, fmt.Errorf("%w: membership", apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return m, nil
}

func (d *Directory) requireOwner(ctx context.Context, scope tenancy.Scope) error {
	if scope.IsSystem() {
		return nil
	}
	role, err := d.gate.Role(ctx, scope.Org.OrgID, *scope.Actor)
	if err != nil {
		return err
	}
	if role != models.RoleOwner {
		return fmt.Errorf("%w: only an owner can manage owners", apperr.ErrForbidden)
	}
	return nil
}

// guardOwner keeps at least one Owner and stops Owners stepping down on their own.
func (d *Directory) guardOwner(ctx context.Context, scope tenancy.Scope, target *models.Membership, verb string) error {
	if scope.Actor != nil && *scope.Actor == target.UserID {
		return fmt.Errorf("%w: an owner cannot %s themselves", apperr.ErrForbidden, verb)
	}

	owners, err := d.memberships.CountByRole(ctx, target.OrgID, models.RoleOwner)
	if err != nil {
		return fmt.Errorf("failed to count owners: %w", err)
	}
	if owners <= 1 {
		return fmt.Errorf("%w: cannot %s the last owner", apperr.ErrForbidden, verb)
	}
	return nil
}
