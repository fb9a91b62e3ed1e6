// Package storetest holds behaviour checks shared by every store backend.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/grc/internal/models"
	"github.com/wolfeidau/grc/internal/store"
)

// Factory returns an empty set of stores.
type Factory func(t *testing.T) *store.Stores

// Run exercises stores created by newStores.
func Run(t *testing.T, newStores Factory) {
	t.Run("Organizations", func(t *testing.T) { testOrganizations(t, newStores(t)) })
	t.Run("Memberships", func(t *testing.T) { testMemberships(t, newStores(t)) })
	t.Run("Invitations", func(t *testing.T) { testInvitations(t, newStores(t)) })
	t.Run("Activity", func(t *testing.T) { testActivity(t, newStores(t)) })
	t.Run("ActivitySameTimestamp", func(t *testing.T) { testActivitySameTimestamp(t, newStores(t)) })
	t.Run("Sessions", func(t *testing.T) { testSessions(t, newStores(t)) })
	t.Run("Entities", func(t *testing.T) { testEntities(t, newStores(t)) })
	t.Run("DeleteCascades", func(t *testing.T) { testDeleteCascades(t, newStores(t)) })
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func newID(t *testing.T) uuid.UUID {
	t.Helper()
	id, err := uuid.NewV7()
	require.NoError(t, err)
	return id
}

func createUser(t *testing.T, s *store.Stores, name string) *models.User {
	t.Helper()
	ts := now()
	user := &models.User{
		UserID:    newID(t),
		Name:      name,
		Email:     name + "-" + uuid.NewString()[:8] + "@example.com",
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	require.NoError(t, s.Users.Create(context.Background(), user))
	return user
}

func createOrg(t *testing.T, s *store.Stores, slug string) *models.Organization {
	t.Helper()
	ts := now()
	org := &models.Organization{
		OrgID:     newID(t),
		Name:      slug,
		Slug:      slug,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	require.NoError(t, s.Organizations.Create(context.Background(), org))
	return org
}

func addMember(t *testing.T, s *store.Stores, org *models.Organization, user *models.User, role models.Role) {
	t.Helper()
	ts := now()
	require.NoError(t, s.Memberships.Create(context.Background(), &models.Membership{
		MembershipID: newID(t),
		OrgID:        org.OrgID,
		UserID:       user.UserID,
		Role:         role,
		CreatedAt:    ts,
		UpdatedAt:    ts,
	}))
}

func testOrganizations(t *testing.T, s *store.Stores) {
	ctx := context.Background()

	acme := createOrg(t, s, "acme")

	err := s.Organizations.Create(ctx, &models.Organization{OrgID: newID(t), Name: "Acme", Slug: "acme", CreatedAt: now(), UpdatedAt: now()})
	require.ErrorIs(t, err, store.ErrOrganizationAlreadyExists)

	got, err := s.Organizations.GetBySlug(ctx, "acme")
	require.NoError(t, err)
	require.Equal(t, acme.OrgID, got.OrgID)

	_, err = s.Organizations.GetBySlug(ctx, "missing")
	require.ErrorIs(t, err, store.ErrOrganizationNotFound)

	_, err = s.Organizations.Get(ctx, newID(t))
	require.ErrorIs(t, err, store.ErrOrganizationNotFound)

	acme.Name = "Acme Corporation"
	acme.UpdatedAt = now()
	require.NoError(t, s.Organizations.Update(ctx, acme))

	got, err = s.Organizations.Get(ctx, acme.OrgID)
	require.NoError(t, err)
	require.Equal(t, "Acme Corporation", got.Name)
	require.Equal(t, "acme", got.Slug)

	err = s.Organizations.Update(ctx, &models.Organization{OrgID: newID(t), Name: "Ghost", UpdatedAt: now()})
	require.ErrorIs(t, err, store.ErrOrganizationNotFound)

	alice := createUser(t, s, "alice")
	globex := createOrg(t, s, "globex")
	createOrg(t, s, "initech")
	addMember(t, s, acme, alice, models.RoleOwner)
	addMember(t, s, globex, alice, models.RoleMember)

	orgs, err := s.Organizations.ListByMember(ctx, alice.UserID)
	require.NoError(t, err)
	require.Len(t, orgs, 2)

	require.ErrorIs(t, s.Organizations.Delete(ctx, newID(t)), store.ErrOrganizationNotFound)
}

func testMemberships(t *testing.T, s *store.Stores) {
	ctx := context.Background()

	org := createOrg(t, s, "acme")
	alice := createUser(t, s, "alice")
	bob := createUser(t, s, "bob")

	addMember(t, s, org, alice, models.RoleOwner)
	addMember(t, s, org, bob, models.RoleMember)

	err := s.Memberships.Create(ctx, &models.Membership{MembershipID: newID(t), OrgID: org.OrgID, UserID: bob.UserID, Role: models.RoleAdmin, CreatedAt: now(), UpdatedAt: now()})
	require.ErrorIs(t, err, store.ErrMembershipAlreadyExists)

	m, err := s.Memberships.Get(ctx, org.OrgID, bob.UserID)
	require.NoError(t, err)
	require.Equal(t, models.RoleMember, m.Role)

	_, err = s.Memberships.Get(ctx, org.OrgID, newID(t))
	require.ErrorIs(t, err, store.ErrMembershipNotFound)

	require.NoError(t, s.Memberships.UpdateRole(ctx, org.OrgID, bob.UserID, models.RoleOwner))
	require.ErrorIs(t, s.Memberships.UpdateRole(ctx, org.OrgID, newID(t), models.RoleAdmin), store.ErrMembershipNotFound)

	owners, err := s.Memberships.CountByRole(ctx, org.OrgID, models.RoleOwner)
	require.NoError(t, err)
	require.Equal(t, 2, owners)

	members, err := s.Memberships.ListByOrg(ctx, org.OrgID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	require.Equal(t, alice.Email, members[0].Email)
	require.Equal(t, "bob", members[1].Name)

	byUser, err := s.Memberships.ListByUser(ctx, alice.UserID)
	require.NoError(t, err)
	require.Len(t, byUser, 1)

	require.NoError(t, s.Memberships.Delete(ctx, org.OrgID, bob.UserID))
	require.ErrorIs(t, s.Memberships.Delete(ctx, org.OrgID, bob.UserID), store.ErrMembershipNotFound)
}

func testInvitations(t *testing.T, s *store.Stores) {
	ctx := context.Background()

	org := createOrg(t, s, "acme")
	alice := createUser(t, s, "alice")

	invite := func(email, token string, createdAt time.Time) *models.Invitation {
		inv := &models.Invitation{
			InvitationID: newID(t),
			OrgID:        org.OrgID,
			Email:        email,
			Role:         models.RoleMember,
			Token:        token,
			InvitedBy:    alice.UserID,
			ExpiresAt:    createdAt.Add(models.InvitationTTL),
			CreatedAt:    createdAt,
		}
		require.NoError(t, s.Invitations.Create(ctx, inv))
		return inv
	}

	base := now()
	first := invite("carol@example.com", "token-1", base)
	second := invite("carol@example.com", "token-2", base.Add(time.Second))
	other := invite("dave@example.com", "token-3", base.Add(2*time.Second))

	err := s.Invitations.Create(ctx, &models.Invitation{InvitationID: newID(t), OrgID: org.OrgID, Email: "x@example.com", Role: models.RoleMember, Token: "token-1", InvitedBy: alice.UserID, ExpiresAt: base, CreatedAt: base})
	require.ErrorIs(t, err, store.ErrInvitationAlreadyExists)

	got, err := s.Invitations.GetByToken(ctx, "token-2")
	require.NoError(t, err)
	require.Equal(t, second.InvitationID, got.InvitationID)
	require.Nil(t, got.AcceptedAt)

	_, err = s.Invitations.GetByToken(ctx, "missing")
	require.ErrorIs(t, err, store.ErrInvitationNotFound)

	require.NoError(t, s.Invitations.MarkAccepted(ctx, first.InvitationID, base.Add(time.Minute)))
	require.ErrorIs(t, s.Invitations.MarkAccepted(ctx, first.InvitationID, base.Add(time.Minute)), store.ErrInvitationNotFound)

	got, err = s.Invitations.Get(ctx, first.InvitationID)
	require.NoError(t, err)
	require.NotNil(t, got.AcceptedAt)

	pending, err := s.Invitations.ListUnaccepted(ctx, org.OrgID)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, other.InvitationID, pending[0].InvitationID)

	// accepted rows are kept
	deleted, err := s.Invitations.DeleteUnaccepted(ctx, org.OrgID, "carol@example.com")
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)

	_, err = s.Invitations.Get(ctx, first.InvitationID)
	require.NoError(t, err)
	_, err = s.Invitations.Get(ctx, second.InvitationID)
	require.ErrorIs(t, err, store.ErrInvitationNotFound)

	require.NoError(t, s.Invitations.Delete(ctx, other.InvitationID))
	require.ErrorIs(t, s.Invitations.Delete(ctx, other.InvitationID), store.ErrInvitationNotFound)
}

func testActivity(t *testing.T, s *store.Stores) {
	ctx := context.Background()

	org := createOrg(t, s, "acme")
	other := createOrg(t, s, "globex")
	alice := createUser(t, s, "alice")

	base := now()
	for i := range 5 {
		require.NoError(t, s.Activity.Append(ctx, &models.ActivityLog{
			ActivityID:  newID(t),
			OrgID:       org.OrgID,
			UserID:      &alice.UserID,
			Event:       models.ActivityUpdated,
			SubjectType: models.SubjectOrganization,
			SubjectID:   org.OrgID,
			SubjectName: "acme",
			Changes:     models.Changes{"name": {"a", "b"}},
			Checksum:    uint64(i),
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, s.Activity.Append(ctx, &models.ActivityLog{
		ActivityID:  newID(t),
		OrgID:       other.OrgID,
		Event:       models.ActivityCreated,
		SubjectType: models.SubjectOrganization,
		SubjectID:   other.OrgID,
		SubjectName: "globex",
		CreatedAt:   base,
	}))

	page, err := s.Activity.List(ctx, store.ActivityQuery{OrgID: org.OrgID, Limit: 3})
	require.NoError(t, err)
	require.Len(t, page, 3)
	require.Equal(t, uint64(4), page[0].Checksum)
	require.Equal(t, models.Change{"a", "b"}, page[0].Changes["name"])
	require.NotNil(t, page[0].UserID)

	before := store.ActivityCursor{CreatedAt: page[2].CreatedAt, ActivityID: page[2].ActivityID}
	page, err = s.Activity.List(ctx, store.ActivityQuery{OrgID: org.OrgID, Before: &before, Limit: 3})
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, uint64(1), page[0].Checksum)

	page, err = s.Activity.List(ctx, store.ActivityQuery{OrgID: other.OrgID, Limit: 10})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Nil(t, page[0].UserID)
	require.Nil(t, page[0].Changes)

	count, err := s.Activity.CountByOrg(ctx, org.OrgID)
	require.NoError(t, err)
	require.Equal(t, 5, count)
}

func testActivitySameTimestamp(t *testing.T, s *store.Stores) {
	ctx := context.Background()

	org := createOrg(t, s, "acme")
	at := now()

	want := make(map[uuid.UUID]bool)
	for range 5 {
		entry := &models.ActivityLog{
			ActivityID:  newID(t),
			OrgID:       org.OrgID,
			Event:       models.ActivityCreated,
			SubjectType: models.SubjectOrganization,
			SubjectID:   org.OrgID,
			SubjectName: "acme",
			CreatedAt:   at,
		}
		require.NoError(t, s.Activity.Append(ctx, entry))
		want[entry.ActivityID] = true
	}

	seen := make(map[uuid.UUID]bool)
	var before *store.ActivityCursor
	for range 5 {
		page, err := s.Activity.List(ctx, store.ActivityQuery{OrgID: org.OrgID, Before: before, Limit: 2})
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		for _, entry := range page {
			require.False(t, seen[entry.ActivityID], "entry listed twice")
			seen[entry.ActivityID] = true
		}
		last := page[len(page)-1]
		before = &store.ActivityCursor{CreatedAt: last.CreatedAt, ActivityID: last.ActivityID}
	}
	require.Equal(t, want, seen)

	// a bare timestamp excludes every entry created at that instant
	page, err := s.Activity.List(ctx, store.ActivityQuery{OrgID: org.OrgID, Before: &store.ActivityCursor{CreatedAt: at}, Limit: 10})
	require.NoError(t, err)
	require.Empty(t, page)
}

func testSessions(t *testing.T, s *store.Stores) {
	ctx := context.Background()

	alice := createUser(t, s, "alice")
	ts := now()
	session := &models.Session{
		SessionID:  newID(t),
		UserID:     alice.UserID,
		CreatedAt:  ts,
		ExpiresAt:  ts.Add(time.Hour),
		LastUsedAt: ts,
		UserAgent:  "test",
		IPAddress:  "192.0.2.1",
	}
	require.NoError(t, s.Sessions.Create(ctx, session))

	got, err := s.Sessions.Get(ctx, session.SessionID)
	require.NoError(t, err)
	require.Equal(t, alice.UserID, got.UserID)
	require.False(t, got.IsRevoked())

	require.NoError(t, s.Sessions.UpdateLastUsed(ctx, session.SessionID, ts.Add(time.Minute)))
	require.NoError(t, s.Sessions.Revoke(ctx, session.SessionID, ts.Add(2*time.Minute)))

	got, err = s.Sessions.Get(ctx, session.SessionID)
	require.NoError(t, err)
	require.True(t, got.IsRevoked())
	require.True(t, got.LastUsedAt.Equal(ts.Add(time.Minute)))

	_, err = s.Sessions.Get(ctx, newID(t))
	require.ErrorIs(t, err, store.ErrSessionNotFound)
}

func testEntities(t *testing.T, s *store.Stores) {
	ctx := context.Background()

	acme := createOrg(t, s, "acme")
	globex := createOrg(t, s, "globex")

	newRisk := func(org *models.Organization, name string) *models.Risk {
		ts := now()
		risk := &models.Risk{
			Base:       models.Base{ID: newID(t), OrgID: org.OrgID, CreatedAt: ts, UpdatedAt: ts},
			Name:       name,
			Likelihood: 3,
			Impact:     4,
		}
		require.NoError(t, s.Entities.Risks.Create(ctx, risk))
		return risk
	}

	phishing := newRisk(acme, "Phishing")
	newRisk(acme, "Flood")
	newRisk(globex, "Fraud")

	got, err := s.Entities.Risks.Get(ctx, phishing.ID)
	require.NoError(t, err)
	require.Equal(t, "Phishing", got.Name)
	require.Equal(t, acme.OrgID, got.OrgID)

	got.Treatment = "training"
	got.UpdatedAt = now()
	require.NoError(t, s.Entities.Risks.Update(ctx, got))

	got, err = s.Entities.Risks.Get(ctx, phishing.ID)
	require.NoError(t, err)
	require.Equal(t, "training", got.Treatment)

	list, err := s.Entities.Risks.ListByOrg(ctx, acme.OrgID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "Phishing", list[0].Name)

	count, err := s.Entities.Risks.CountByOrg(ctx, globex.OrgID)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	require.NoError(t, s.Entities.Risks.Delete(ctx, phishing.ID))
	_, err = s.Entities.Risks.Get(ctx, phishing.ID)
	require.ErrorIs(t, err, store.ErrEntityNotFound)
	require.ErrorIs(t, s.Entities.Risks.Delete(ctx, phishing.ID), store.ErrEntityNotFound)

	ts := now()
	person := &models.Person{
		Base:     models.Base{ID: newID(t), OrgID: acme.OrgID, CreatedAt: ts, UpdatedAt: ts},
		FullName: "Grace Hopper",
		Email:    "grace@example.com",
	}
	require.NoError(t, s.Entities.People.Create(ctx, person))
	require.ErrorIs(t, s.Entities.People.Create(ctx, person), store.ErrEntityAlreadyExists)
}

func testDeleteCascades(t *testing.T, s *store.Stores) {
	ctx := context.Background()

	org := createOrg(t, s, "acme")
	keep := createOrg(t, s, "globex")
	alice := createUser(t, s, "alice")
	addMember(t, s, org, alice, models.RoleOwner)
	addMember(t, s, keep, alice, models.RoleOwner)

	ts := now()
	require.NoError(t, s.Invitations.Create(ctx, &models.Invitation{
		InvitationID: newID(t), OrgID: org.OrgID, Email: "bob@example.com", Role: models.RoleMember,
		Token: "cascade", InvitedBy: alice.UserID, ExpiresAt: ts.Add(time.Hour), CreatedAt: ts,
	}))
	require.NoError(t, s.Activity.Append(ctx, &models.ActivityLog{
		ActivityID: newID(t), OrgID: org.OrgID, Event: models.ActivityCreated,
		SubjectType: models.SubjectOrganization, SubjectID: org.OrgID, SubjectName: "acme", CreatedAt: ts,
	}))
	require.NoError(t, s.Entities.Vendors.Create(ctx, &models.Vendor{
		Base: models.Base{ID: newID(t), OrgID: org.OrgID, CreatedAt: ts, UpdatedAt: ts}, Name: "Initech",
	}))

	require.NoError(t, s.Organizations.Delete(ctx, org.OrgID))

	_, err := s.Memberships.Get(ctx, org.OrgID, alice.UserID)
	require.ErrorIs(t, err, store.ErrMembershipNotFound)
	_, err = s.Memberships.Get(ctx, keep.OrgID, alice.UserID)
	require.NoError(t, err)

	_, err = s.Invitations.GetByToken(ctx, "cascade")
	require.ErrorIs(t, err, store.ErrInvitationNotFound)

	count, err := s.Activity.CountByOrg(ctx, org.OrgID)
	require.NoError(t, err)
	require.Zero(t, count)

	count, err = s.Entities.Vendors.CountByOrg(ctx, org.OrgID)
	require.NoError(t, err)
	require.Zero(t, count)
}
