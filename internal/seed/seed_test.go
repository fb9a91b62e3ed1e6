package seed

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/grc/internal/apperr"
	"github.com/wolfeidau/grc/internal/audit"
	"github.com/wolfeidau/grc/internal/auth"
	"github.com/wolfeidau/grc/internal/directory"
	"github.com/wolfeidau/grc/internal/models"
	"github.com/wolfeidau/grc/internal/store"
	"github.com/wolfeidau/grc/internal/store/memory"
	"github.com/wolfeidau/grc/internal/tenancy"
)

const fixtureYAML = `
users:
  - name: Alice
    email: Alice@Example.com
    password: correct horse battery
  - name: Bob
    email: bob@example.com
organizations:
  - name: Acme Corp
    owner: alice@example.com
    members:
      - email: bob@example.com
        role: admin
    risks:
      - name: Phishing
        likelihood: 4
        impact: 3
      - name: Ransomware
        likelihood: 2
        impact: 5
`

func newSeeder(t *testing.T) (*Seeder, *store.Stores) {
	t.Helper()

	stores := memory.New()
	gate := auth.NewGate(stores.Memberships)
	recorder := audit.NewRecorder(stores.Activity)
	dir := directory.New(stores.Organizations, stores.Memberships, gate, recorder)

	s, err := New(Config{Stores: stores, Directory: dir, Gate: gate, Recorder: recorder})
	require.NoError(t, err)
	return s, stores
}

func TestLoad(t *testing.T) {
	fixture, err := Load(strings.NewReader(fixtureYAML))
	require.NoError(t, err)
	require.Len(t, fixture.Users, 2)
	require.Len(t, fixture.Organizations, 1)
	require.Equal(t, models.RoleAdmin, fixture.Organizations[0].Members[0].Role)

	_, err = Load(strings.NewReader("users:\n  - name: Alice\n    nickname: al\n"))
	require.Error(t, err)

	_, err = Load(strings.NewReader("organizations:\n  - name: Acme\n    members:\n      - email: a@example.com\n        role: superuser\n"))
	require.Error(t, err)

	fixture, err = Load(strings.NewReader(""))
	require.NoError(t, err)
	require.Empty(t, fixture.Users)
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	s, stores := newSeeder(t)

	fixture, err := Load(strings.NewReader(fixtureYAML))
	require.NoError(t, err)

	res, err := s.Run(ctx, fixture)
	require.NoError(t, err)
	require.Equal(t, &Result{Users: 2, Organizations: 1, Memberships: 2, Risks: 2}, res)

	alice, err := stores.Users.GetByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	ok, err := auth.VerifyPassword("correct horse battery", alice.PasswordHash)
	require.NoError(t, err)
	require.True(t, ok)

	org, err := stores.Organizations.GetBySlug(ctx, "acme-corp")
	require.NoError(t, err)

	members, err := stores.Memberships.ListByOrg(ctx, org.OrgID)
	require.NoError(t, err)
	require.Len(t, members, 2)

	risks, err := stores.Entities.Risks.ListByOrg(ctx, org.OrgID)
	require.NoError(t, err)
	require.Len(t, risks, 2)

	entries, err := stores.Activity.List(ctx, store.ActivityQuery{OrgID: org.OrgID, Limit: 50})
	require.NoError(t, err)
	// organization, two memberships and two risks
	require.Len(t, entries, 5)
	for _, entry := range entries {
		require.Nil(t, entry.UserID)
	}

	t.Run("rerun", func(t *testing.T) {
		res, err := s.Run(ctx, fixture)
		require.NoError(t, err)
		require.Equal(t, &Result{}, res)

		risks, err := stores.Entities.Risks.ListByOrg(ctx, org.OrgID)
		require.NoError(t, err)
		require.Len(t, risks, 2)
	})
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name    string
		fixture *Fixture
		is      error
	}{
		{
			name:    "unknown owner",
			fixture: &Fixture{Organizations: []Organization{{Name: "Acme", Owner: "nobody@example.com"}}},
			is:      apperr.ErrNotFound,
		},
		{
			name:    "short password",
			fixture: &Fixture{Users: []User{{Name: "Alice", Email: "alice@example.com", Password: "short"}}},
			is:      apperr.ErrValidationFailed,
		},
		{
			name:    "missing name",
			fixture: &Fixture{Users: []User{{Email: "alice@example.com"}}},
			is:      apperr.ErrValidationFailed,
		},
		{
			name: "invalid risk",
			fixture: &Fixture{
				Users:         []User{{Name: "Alice", Email: "alice@example.com"}},
				Organizations: []Organization{{Name: "Acme", Owner: "alice@example.com", Risks: []Risk{{Name: "Flood", Likelihood: 7, Impact: 1}}}},
			},
			is: apperr.ErrValidationFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newSeeder(t)
			_, err := s.Run(context.Background(), tt.fixture)
			require.ErrorIs(t, err, tt.is)
		})
	}
}

func TestRun_SystemScopeRequiresOrganization(t *testing.T) {
	s, _ := newSeeder(t)
	err := s.risks.Create(context.Background(), tenancy.System(nil), &models.Risk{Name: "Orphan", Likelihood: 1, Impact: 1})
	require.ErrorIs(t, err, apperr.ErrValidationFailed)
}
