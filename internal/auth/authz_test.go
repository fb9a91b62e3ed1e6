package auth

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/grc/internal/apperr"
	"github.com/wolfeidau/grc/internal/models"
	"github.com/wolfeidau/grc/internal/store/memory"
)

type gateFixture struct {
	gate   *Gate
	orgID  uuid.UUID
	owner  uuid.UUID
	admin  uuid.UUID
	member uuid.UUID
	other  uuid.UUID // member of a different organization only
}

func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()

	memberships := memory.NewMembershipStore(memory.NewUserStore())
	f := &gateFixture{
		gate:   NewGate(memberships),
		orgID:  uuid.New(),
		owner:  uuid.New(),
		admin:  uuid.New(),
		member: uuid.New(),
		other:  uuid.New(),
	}

	ctx := context.Background()
	for userID, role := range map[uuid.UUID]models.Role{
		f.owner:  models.RoleOwner,
		f.admin:  models.RoleAdmin,
		f.member: models.RoleMember,
	} {
		require.NoError(t, memberships.Create(ctx, &models.Membership{
			MembershipID: uuid.New(), OrgID: f.orgID, UserID: userID, Role: role,
		}))
	}
	require.NoError(t, memberships.Create(ctx, &models.Membership{
		MembershipID: uuid.New(), OrgID: uuid.New(), UserID: f.other, Role: models.RoleOwner,
	}))

	return f
}

func TestGate_Authorize(t *testing.T) {
	f := newGateFixture(t)

	tests := []struct {
		name        string
		actor       uuid.UUID
		ability     Ability
		subjectType string
		wantErr     error
	}{
		// ordinary entities
		{name: "member can view risk", actor: f.member, ability: View, subjectType: models.SubjectRisk},
		{name: "member can update risk", actor: f.member, ability: Update, subjectType: models.SubjectRisk},
		{name: "member can delete risk", actor: f.member, ability: Delete, subjectType: models.SubjectRisk},
		{name: "non-member cannot view risk", actor: f.other, ability: View, subjectType: models.SubjectRisk, wantErr: apperr.ErrForbidden},
		{name: "non-member cannot update risk", actor: f.other, ability: Update, subjectType: models.SubjectRisk, wantErr: apperr.ErrForbidden},
		{name: "non-member cannot delete document", actor: f.other, ability: Delete, subjectType: models.SubjectDocument, wantErr: apperr.ErrForbidden},
		{name: "viewAny needs only authentication", actor: f.other, ability: ViewAny, subjectType: models.SubjectVendor},
		{name: "create needs only authentication", actor: f.other, ability: Create, subjectType: models.SubjectControl},

		// organization
		{name: "member can view organization", actor: f.member, ability: View, subjectType: models.SubjectOrganization},
		{name: "member cannot update organization", actor: f.member, ability: Update, subjectType: models.SubjectOrganization, wantErr: apperr.ErrForbidden},
		{name: "admin can update organization", actor: f.admin, ability: Update, subjectType: models.SubjectOrganization},
		{name: "admin cannot delete organization", actor: f.admin, ability: Delete, subjectType: models.SubjectOrganization, wantErr: apperr.ErrForbidden},
		{name: "owner can delete organization", actor: f.owner, ability: Delete, subjectType: models.SubjectOrganization},

		// memberships and invitations
		{name: "member cannot invite", actor: f.member, ability: Create, subjectType: models.SubjectInvitation, wantErr: apperr.ErrForbidden},
		{name: "admin can invite", actor: f.admin, ability: Create, subjectType: models.SubjectInvitation},
		{name: "member cannot change roles", actor: f.member, ability: Update, subjectType: models.SubjectMembership, wantErr: apperr.ErrForbidden},
		{name: "owner can remove members", actor: f.owner, ability: Delete, subjectType: models.SubjectMembership},
		{name: "member can list members", actor: f.member, ability: ViewAny, subjectType: models.SubjectMembership},

		{name: "unknown subject type is denied", actor: f.owner, ability: View, subjectType: "spaceship", wantErr: apperr.ErrForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.gate.Authorize(context.Background(), &tt.actor, tt.ability, tt.subjectType, f.orgID)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestGate_Authorize_Unauthenticated(t *testing.T) {
	f := newGateFixture(t)

	err := f.gate.Authorize(context.Background(), nil, ViewAny, models.SubjectRisk, f.orgID)
	require.ErrorIs(t, err, apperr.ErrUnauthenticated)
}

func TestGate_Role(t *testing.T) {
	f := newGateFixture(t)

	role, err := f.gate.Role(context.Background(), f.orgID, f.admin)
	require.NoError(t, err)
	require.Equal(t, models.RoleAdmin, role)

	_, err = f.gate.Role(context.Background(), f.orgID, f.other)
	require.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestRoleSet_Allows(t *testing.T) {
	require.True(t, Managers.Allows(models.RoleOwner))
	require.True(t, Managers.Allows(models.RoleAdmin))
	require.False(t, Managers.Allows(models.RoleMember))
	require.False(t, OwnerOnly.Allows(models.RoleAdmin))
	require.False(t, AnyRole.Allows(models.Role(0)))
}

func TestAbility_String(t *testing.T) {
	require.Equal(t, "viewAny", ViewAny.String())
	require.Equal(t, "delete", Delete.String())
	require.Equal(t, "ability(9)", Ability(9).String())
}
