package directory

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/grc/internal/apperr"
	"github.com/wolfeidau/grc/internal/audit"
	"github.com/wolfeidau/grc/internal/auth"
	"github.com/wolfeidau/grc/internal/models"
	"github.com/wolfeidau/grc/internal/store"
	"github.com/wolfeidau/grc/internal/store/memory"
	"github.com/wolfeidau/grc/internal/tenancy"
)

type fixture struct {
	stores *store.Stores
	dir    *Directory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	stores := memory.New()
	return &fixture{
		stores: stores,
		dir:    New(stores.Organizations, stores.Memberships, auth.NewGate(stores.Memberships), audit.NewRecorder(stores.Activity)),
	}
}

func (f *fixture) createUser(t *testing.T, name string) uuid.UUID {
	t.Helper()
	user := &models.User{UserID: uuid.New(), Name: name, Email: strings.ToLower(name) + "@example.com"}
	require.NoError(t, f.stores.Users.Create(context.Background(), user))
	return user.UserID
}

func (f *fixture) createOrg(t *testing.T, owner uuid.UUID, name string) *models.Organization {
	t.Helper()
	org, err := f.dir.CreateOrganization(context.Background(), tenancy.ForActor(nil, owner), owner, name)
	require.NoError(t, err)
	return org
}

func (f *fixture) grant(t *testing.T, org *models.Organization, userID uuid.UUID, role models.Role) {
	t.Helper()
	_, created, err := f.dir.EnsureMembership(context.Background(), nil, org.OrgID, userID, role)
	require.NoError(t, err)
	require.True(t, created)
}

func TestCreateOrganization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.createUser(t, "Alice")

	org := f.createOrg(t, alice, "  Acme Corp  ")
	require.Equal(t, "Acme Corp", org.Name)
	require.Equal(t, "acme-corp", org.Slug)

	role, err := f.dir.Role(ctx, org.OrgID, alice)
	require.NoError(t, err)
	require.Equal(t, models.RoleOwner, role)

	entries, err := f.stores.Activity.List(ctx, store.ActivityQuery{OrgID: org.OrgID})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, models.SubjectMembership, entries[0].SubjectType)
	require.Equal(t, models.SubjectOrganization, entries[1].SubjectType)
	require.Equal(t, "Acme Corp", entries[1].SubjectName)

	orgs, err := f.dir.OrganizationsFor(ctx, alice)
	require.NoError(t, err)
	require.Len(t, orgs, 1)
}

// failingMemberships rejects every new membership.
type failingMemberships struct {
	store.MembershipStore
}

func (failingMemberships) Create(context.Context, *models.Membership) error {
	return errors.New("connection reset")
}

func TestCreateOrganization_RemovedWhenOwnerGrantFails(t *testing.T) {
	stores := memory.New()
	ctx := context.Background()
	memberships := failingMemberships{stores.Memberships}
	dir := New(stores.Organizations, memberships, auth.NewGate(memberships), audit.NewRecorder(stores.Activity))

	alice := uuid.New()
	_, err := dir.CreateOrganization(ctx, tenancy.ForActor(nil, alice), alice, "Acme")
	require.Error(t, err)

	_, err = dir.Organization(ctx, "acme")
	require.ErrorIs(t, err, apperr.ErrNotFound)

	// the slug is free again
	dir = New(stores.Organizations, stores.Memberships, auth.NewGate(stores.Memberships), audit.NewRecorder(stores.Activity))
	org, err := dir.CreateOrganization(ctx, tenancy.ForActor(nil, alice), alice, "Acme")
	require.NoError(t, err)
	require.Equal(t, "acme", org.Slug)
}

func TestCreateOrganization_SlugCollision(t *testing.T) {
	f := newFixture(t)
	alice := f.createUser(t, "Alice")

	require.Equal(t, "acme", f.createOrg(t, alice, "Acme").Slug)
	require.Equal(t, "acme-2", f.createOrg(t, alice, "ACME").Slug)
	require.Equal(t, "acme-3", f.createOrg(t, alice, "acme!").Slug)
}

func TestCreateOrganization_Validation(t *testing.T) {
	f := newFixture(t)
	alice := f.createUser(t, "Alice")
	ctx := context.Background()

	_, err := f.dir.CreateOrganization(ctx, tenancy.ForActor(nil, alice), alice, "   ")
	require.ErrorIs(t, err, apperr.ErrValidationFailed)

	_, err = f.dir.CreateOrganization(ctx, tenancy.ForActor(nil, alice), uuid.New(), "Other")
	require.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.dir.CreateOrganization(ctx, tenancy.Scope{}, alice, "Anon")
	require.ErrorIs(t, err, apperr.ErrUnauthenticated)
}

func TestSlugCandidate(t *testing.T) {
	long := strings.Repeat("a", 64)
	require.Equal(t, long, slugCandidate(long, 1))
	require.Equal(t, strings.Repeat("a", 62)+"-2", slugCandidate(long, 2))
	require.LessOrEqual(t, len(slugCandidate(long, 10)), models.MaxSlugLength)
}

func TestOrganization_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.dir.Organization(context.Background(), "missing")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRenameOrganization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.createUser(t, "Alice")
	bob := f.createUser(t, "Bob")
	carol := f.createUser(t, "Carol")

	org := f.createOrg(t, alice, "Acme")
	f.grant(t, org, bob, models.RoleMember)
	f.grant(t, org, carol, models.RoleAdmin)

	_, err := f.dir.RenameOrganization(ctx, tenancy.ForActor(org, bob), "Bob's Acme")
	require.ErrorIs(t, err, apperr.ErrForbidden)

	renamed, err := f.dir.RenameOrganization(ctx, tenancy.ForActor(org, carol), "Acme Holdings")
	require.NoError(t, err)
	require.Equal(t, "Acme Holdings", renamed.Name)
	require.Equal(t, "acme", renamed.Slug)

	entries, err := f.stores.Activity.List(ctx, store.ActivityQuery{OrgID: org.OrgID, Limit: 1})
	require.NoError(t, err)
	require.Equal(t, models.ActivityUpdated, entries[0].Event)
	require.Equal(t, models.Changes{"name": {"Acme", "Acme Holdings"}}, entries[0].Changes)
}

func TestDeleteOrganization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.createUser(t, "Alice")
	bob := f.createUser(t, "Bob")
	carol := f.createUser(t, "Carol")

	org := f.createOrg(t, alice, "Acme")
	f.grant(t, org, bob, models.RoleMember)
	f.grant(t, org, carol, models.RoleAdmin)

	require.ErrorIs(t, f.dir.DeleteOrganization(ctx, tenancy.ForActor(org, bob)), apperr.ErrForbidden)
	require.ErrorIs(t, f.dir.DeleteOrganization(ctx, tenancy.ForActor(org, carol)), apperr.ErrForbidden)
	require.NoError(t, f.dir.DeleteOrganization(ctx, tenancy.ForActor(org, alice)))

	_, err := f.dir.Organization(ctx, "acme")
	require.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.dir.Role(ctx, org.OrgID, bob)
	require.ErrorIs(t, err, apperr.ErrForbidden)

	count, err := f.stores.Activity.CountByOrg(ctx, org.OrgID)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestEnsureMembership_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.createUser(t, "Alice")
	bob := f.createUser(t, "Bob")
	org := f.createOrg(t, alice, "Acme")

	first, created, err := f.dir.EnsureMembership(ctx, nil, org.OrgID, bob, models.RoleMember)
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := f.dir.EnsureMembership(ctx, nil, org.OrgID, bob, models.RoleAdmin)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.MembershipID, second.MembershipID)
	require.Equal(t, models.RoleMember, second.Role)
}

func TestChangeRole(t *testing.T) {
	tests := []struct {
		name    string
		actor   string
		target  string
		role    models.Role
		wantErr error
	}{
		{name: "admin promotes member to admin", actor: "carol", target: "bob", role: models.RoleAdmin},
		{name: "member cannot change roles", actor: "bob", target: "dave", role: models.RoleAdmin, wantErr: apperr.ErrForbidden},
		{name: "admin cannot grant owner", actor: "carol", target: "bob", role: models.RoleOwner, wantErr: apperr.ErrForbidden},
		{name: "admin cannot demote owner", actor: "carol", target: "alice", role: models.RoleMember, wantErr: apperr.ErrForbidden},
		{name: "owner grants owner", actor: "alice", target: "carol", role: models.RoleOwner},
		{name: "owner cannot demote self", actor: "alice", target: "alice", role: models.RoleAdmin, wantErr: apperr.ErrForbidden},
		{name: "unknown member", actor: "alice", target: "erin", role: models.RoleAdmin, wantErr: apperr.ErrNotFound},
		{name: "invalid role", actor: "alice", target: "bob", role: models.Role(0), wantErr: apperr.ErrValidationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			users := map[string]uuid.UUID{}
			for _, name := range []string{"alice", "bob", "carol", "dave", "erin"} {
				users[name] = f.createUser(t, name)
			}
			org := f.createOrg(t, users["alice"], "Acme")
			f.grant(t, org, users["bob"], models.RoleMember)
			f.grant(t, org, users["carol"], models.RoleAdmin)
			f.grant(t, org, users["dave"], models.RoleMember)

			m, err := f.dir.ChangeRole(context.Background(), tenancy.ForActor(org, users[tt.actor]), users[tt.target], tt.role)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.role, m.Role)

			role, err := f.dir.Role(context.Background(), org.OrgID, users[tt.target])
			require.NoError(t, err)
			require.Equal(t, tt.role, role)
		})
	}
}

func TestOwnerGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.createUser(t, "Alice")
	bob := f.createUser(t, "Bob")
	org := f.createOrg(t, alice, "Acme")
	f.grant(t, org, bob, models.RoleOwner)

	// two owners: one may remove the other
	require.NoError(t, f.dir.RemoveMember(ctx, tenancy.ForActor(org, bob), alice))

	// bob is now the last owner
	err := f.dir.RemoveMember(ctx, tenancy.System(org), bob)
	require.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.dir.ChangeRole(ctx, tenancy.System(org), bob, models.RoleAdmin)
	require.ErrorIs(t, err, apperr.ErrForbidden)

	members, err := f.dir.Members(ctx, tenancy.ForActor(org, bob))
	require.NoError(t, err)
	require.Len(t, members, 1)
	require.Equal(t, "Bob", members[0].Name)
}

func TestRemoveMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.createUser(t, "Alice")
	bob := f.createUser(t, "Bob")
	carol := f.createUser(t, "Carol")
	org := f.createOrg(t, alice, "Acme")
	f.grant(t, org, bob, models.RoleMember)
	f.grant(t, org, carol, models.RoleAdmin)

	require.ErrorIs(t, f.dir.RemoveMember(ctx, tenancy.ForActor(org, bob), carol), apperr.ErrForbidden)
	require.ErrorIs(t, f.dir.RemoveMember(ctx, tenancy.ForActor(org, carol), alice), apperr.ErrForbidden)
	require.NoError(t, f.dir.RemoveMember(ctx, tenancy.ForActor(org, carol), bob))

	_, err := f.dir.Role(ctx, org.OrgID, bob)
	require.ErrorIs(t, err, apperr.ErrForbidden)

	entries, err := f.stores.Activity.List(ctx, store.ActivityQuery{OrgID: org.OrgID, Limit: 1})
	require.NoError(t, err)
	require.Equal(t, models.ActivityDeleted, entries[0].Event)
	require.Equal(t, models.SubjectMembership, entries[0].SubjectType)
}
