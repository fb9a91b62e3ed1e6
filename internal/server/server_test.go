package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/grc/internal/audit"
	"github.com/wolfeidau/grc/internal/auth"
	"github.com/wolfeidau/grc/internal/directory"
	"github.com/wolfeidau/grc/internal/invitation"
	"github.com/wolfeidau/grc/internal/login"
	"github.com/wolfeidau/grc/internal/models"
	"github.com/wolfeidau/grc/internal/notify"
	"github.com/wolfeidau/grc/internal/store"
	"github.com/wolfeidau/grc/internal/store/memory"
	"google.golang.org/protobuf/types/known/structpb"
)

const testPassword = "correct horse battery"

type discardNotifier struct{}

func (discardNotifier) NotifyInvitation(context.Context, *notify.InvitationMessage) {}

type testServer struct {
	*httptest.Server
	stores *store.Stores
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	stores := memory.New()
	gate := auth.NewGate(stores.Memberships)
	recorder := audit.NewRecorder(stores.Activity)
	dir := directory.New(stores.Organizations, stores.Memberships, gate, recorder)

	keys, err := auth.NewKeyManager()
	require.NoError(t, err)
	tokens := auth.NewTokenIssuer(keys, "https://grc.example.com", time.Hour)

	sessions, err := login.NewSessions(stores.Sessions, bytes.Repeat([]byte("s"), 32), time.Hour, true)
	require.NoError(t, err)

	signer, err := invitation.NewURLSigner(bytes.Repeat([]byte("u"), 32))
	require.NoError(t, err)

	srv := New(Config{
		Stores:    stores,
		Directory: dir,
		Invitations: invitation.NewService(invitation.Config{
			Stores:    stores,
			Directory: dir,
			Gate:      gate,
			Recorder:  recorder,
			Signer:    signer,
			Notifier:  discardNotifier{},
			BaseURL:   "https://grc.example.com",
		}),
		Gate:          gate,
		Recorder:      recorder,
		Authenticator: auth.NewAuthenticator(tokens, sessions, stores.Sessions),
		Tokens:        tokens,
		Keys:          keys,
		Sessions:      sessions,
		Passwords:     login.NewPasswords(stores.Users, sessions),
		Issuer:        "https://grc.example.com",
		Logger:        zerolog.Nop(),
	})

	h, err := srv.Handler()
	require.NoError(t, err)

	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)

	return &testServer{Server: ts, stores: stores}
}

func (ts *testServer) createUser(t *testing.T, name string) *models.User {
	t.Helper()
	hash, err := auth.HashPassword(testPassword)
	require.NoError(t, err)
	user := &models.User{
		UserID:       uuid.Must(uuid.NewV7()),
		Name:         name,
		Email:        strings.ToLower(name) + "@example.com",
		PasswordHash: hash,
	}
	require.NoError(t, ts.stores.Users.Create(context.Background(), user))
	return user
}

// token signs in with a password and exchanges the credentials for a bearer token.
func (ts *testServer) token(t *testing.T, email string) string {
	t.Helper()
	var out struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	res := ts.do(t, "", http.MethodPost, "/auth/token", map[string]string{"email": email, "password": testPassword}, &out)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "Bearer", out.TokenType)
	require.NotEmpty(t, out.AccessToken)
	return out.AccessToken
}

func (ts *testServer) do(t *testing.T, token, method, path string, body, out any) *http.Response {
	t.Helper()

	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, ts.URL+path, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	if out != nil && res.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(res.Body).Decode(out))
	}
	return res
}

func (ts *testServer) createOrg(t *testing.T, token, name string) *models.Organization {
	t.Helper()
	var org models.Organization
	res := ts.do(t, token, http.MethodPost, "/orgs", map[string]string{"name": name}, &org)
	require.Equal(t, http.StatusCreated, res.StatusCode)
	return &org
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	var out map[string]string
	res := ts.do(t, "", http.MethodGet, "/health", nil, &out)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "ok", out["status"])
}

func TestWellKnown(t *testing.T) {
	ts := newTestServer(t)

	var discovery map[string]any
	res := ts.do(t, "", http.MethodGet, "/.well-known/openid-configuration", nil, &discovery)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "https://grc.example.com", discovery["issuer"])

	var jwks struct {
		Keys []map[string]any `json:"keys"`
	}
	res = ts.do(t, "", http.MethodGet, "/.well-known/jwks.json", nil, &jwks)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Len(t, jwks.Keys, 1)
}

func TestAuthentication(t *testing.T) {
	ts := newTestServer(t)
	ts.createUser(t, "Alice")

	tests := []struct {
		name   string
		token  string
		status int
	}{
		{name: "anonymous", status: http.StatusUnauthorized},
		{name: "garbage token", token: "not-a-jwt", status: http.StatusUnauthorized},
		{name: "valid token", token: ts.token(t, "alice@example.com"), status: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ts.do(t, tt.token, http.MethodGet, "/me", nil, nil)
			require.Equal(t, tt.status, res.StatusCode)
		})
	}

	res := ts.do(t, "", http.MethodPost, "/auth/token", map[string]string{"email": "alice@example.com", "password": "wrong password!"}, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestOrganizationRouteGate(t *testing.T) {
	ts := newTestServer(t)
	ts.createUser(t, "Alice")
	ts.createUser(t, "Mallory")

	alice := ts.token(t, "alice@example.com")
	mallory := ts.token(t, "mallory@example.com")

	acme := ts.createOrg(t, alice, "Acme Corp")
	require.Equal(t, "acme-corp", acme.Slug)

	tests := []struct {
		name   string
		token  string
		path   string
		status int
	}{
		{name: "member", token: alice, path: "/orgs/acme-corp/", status: http.StatusOK},
		{name: "unknown slug", token: alice, path: "/orgs/nope/", status: http.StatusNotFound},
		{name: "non member", token: mallory, path: "/orgs/acme-corp/", status: http.StatusForbidden},
		{name: "non member entities", token: mallory, path: "/orgs/acme-corp/risks", status: http.StatusForbidden},
		{name: "anonymous", path: "/orgs/acme-corp/", status: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ts.do(t, tt.token, http.MethodGet, tt.path, nil, nil)
			require.Equal(t, tt.status, res.StatusCode)
		})
	}

	var orgs []organizationView
	res := ts.do(t, mallory, http.MethodGet, "/orgs", nil, &orgs)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Empty(t, orgs)
}

func TestEntityLifecycle(t *testing.T) {
	ts := newTestServer(t)
	ts.createUser(t, "Alice")
	alice := ts.token(t, "alice@example.com")
	ts.createOrg(t, alice, "Acme")

	res := ts.do(t, alice, http.MethodPost, "/orgs/acme/risks", map[string]any{"name": "Phishing", "likelihood": 9, "impact": 2}, nil)
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode)

	var risk models.Risk
	res = ts.do(t, alice, http.MethodPost, "/orgs/acme/risks", map[string]any{"name": "Phishing", "likelihood": 4, "impact": 3}, &risk)
	require.Equal(t, http.StatusCreated, res.StatusCode)
	require.Equal(t, 12, risk.Score())

	path := "/orgs/acme/risks/" + risk.ID.String()

	var updated models.Risk
	res = ts.do(t, alice, http.MethodPatch, path, map[string]any{"treatment": "training"}, &updated)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "training", updated.Treatment)
	require.Equal(t, "Phishing", updated.Name)

	var list []models.Risk
	res = ts.do(t, alice, http.MethodGet, "/orgs/acme/risks", nil, &list)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Len(t, list, 1)

	res = ts.do(t, alice, http.MethodDelete, path, nil, nil)
	require.Equal(t, http.StatusNoContent, res.StatusCode)

	res = ts.do(t, alice, http.MethodGet, path, nil, nil)
	require.Equal(t, http.StatusNotFound, res.StatusCode)

	res = ts.do(t, alice, http.MethodGet, "/orgs/acme/risks/not-a-uuid", nil, nil)
	require.Equal(t, http.StatusNotFound, res.StatusCode)

	var page activityPage
	res = ts.do(t, alice, http.MethodGet, "/orgs/acme/activity", nil, &page)
	require.Equal(t, http.StatusOK, res.StatusCode)
	// organization and membership creation, then the risk create, update and delete
	require.Len(t, page.Entries, 5)
	require.Equal(t, models.ActivityDeleted, page.Entries[0].Event)
	require.Equal(t, "Phishing", page.Entries[0].SubjectName)

	res = ts.do(t, alice, http.MethodGet, "/orgs/acme/activity?limit=0", nil, nil)
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode)
}

func TestEntityIsolation(t *testing.T) {
	ts := newTestServer(t)
	ts.createUser(t, "Alice")
	ts.createUser(t, "Bob")
	alice := ts.token(t, "alice@example.com")
	bob := ts.token(t, "bob@example.com")
	ts.createOrg(t, alice, "Acme")
	ts.createOrg(t, bob, "Globex")

	var vendor models.Vendor
	res := ts.do(t, alice, http.MethodPost, "/orgs/acme/vendors", map[string]any{"name": "Initech"}, &vendor)
	require.Equal(t, http.StatusCreated, res.StatusCode)

	// another organization's id is invisible through a route the actor belongs to
	res = ts.do(t, bob, http.MethodGet, "/orgs/globex/vendors/"+vendor.ID.String(), nil, nil)
	require.Equal(t, http.StatusNotFound, res.StatusCode)

	var list []models.Vendor
	res = ts.do(t, bob, http.MethodGet, "/orgs/globex/vendors", nil, &list)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Empty(t, list)
}

func TestControlFrameworkIsolation(t *testing.T) {
	ts := newTestServer(t)
	ts.createUser(t, "Alice")
	ts.createUser(t, "Bob")
	alice := ts.token(t, "alice@example.com")
	bob := ts.token(t, "bob@example.com")
	ts.createOrg(t, alice, "Acme")
	ts.createOrg(t, bob, "Globex")

	var acmeFW, globexFW models.Framework
	res := ts.do(t, alice, http.MethodPost, "/orgs/acme/frameworks", map[string]any{"name": "ISO 27001"}, &acmeFW)
	require.Equal(t, http.StatusCreated, res.StatusCode)
	res = ts.do(t, bob, http.MethodPost, "/orgs/globex/frameworks", map[string]any{"name": "SOC 2"}, &globexFW)
	require.Equal(t, http.StatusCreated, res.StatusCode)

	for _, id := range []uuid.UUID{acmeFW.ID, uuid.New()} {
		res = ts.do(t, bob, http.MethodPost, "/orgs/globex/controls", map[string]any{"name": "Access review", "framework_id": id}, nil)
		require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode, id)
	}

	var control models.Control
	res = ts.do(t, bob, http.MethodPost, "/orgs/globex/controls", map[string]any{"name": "Access review", "framework_id": globexFW.ID}, &control)
	require.Equal(t, http.StatusCreated, res.StatusCode)

	path := "/orgs/globex/controls/" + control.ID.String()
	res = ts.do(t, bob, http.MethodPatch, path, map[string]any{"framework_id": acmeFW.ID}, nil)
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode)

	var stored models.Control
	res = ts.do(t, bob, http.MethodGet, path, nil, &stored)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, globexFW.ID, *stored.FrameworkID)
}

func TestInvitationFlow(t *testing.T) {
	ts := newTestServer(t)
	ts.createUser(t, "Alice")
	alice := ts.token(t, "alice@example.com")
	ts.createOrg(t, alice, "Acme")

	var issued invitation.Issued
	res := ts.do(t, alice, http.MethodPost, "/orgs/acme/invitations", map[string]string{"email": "Carol@Example.com", "role": "member"}, &issued)
	require.Equal(t, http.StatusCreated, res.StatusCode)
	require.Equal(t, "carol@example.com", issued.Invitation.Email)

	link, err := url.Parse(issued.URL)
	require.NoError(t, err)
	signed := link.RequestURI()

	res = ts.do(t, "", http.MethodGet, link.Path, nil, nil)
	require.Equal(t, http.StatusForbidden, res.StatusCode)

	var view struct {
		Organization models.Organization `json:"organization"`
		State        string              `json:"state"`
		HasAccount   bool                `json:"has_account"`
	}
	res = ts.do(t, "", http.MethodGet, signed, nil, &view)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "acme", view.Organization.Slug)
	require.Equal(t, "pending", view.State)
	require.False(t, view.HasAccount)

	res = ts.do(t, "", http.MethodPost, link.Path+"/accept?"+link.RawQuery, map[string]string{"name": "Carol", "password": "short"}, nil)
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode)

	var accepted invitation.Accepted
	res = ts.do(t, "", http.MethodPost, link.Path+"/accept?"+link.RawQuery, map[string]string{"name": "Carol", "password": testPassword}, &accepted)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.True(t, accepted.Joined)
	require.Equal(t, models.RoleMember, accepted.Membership.Role)
	require.NotEmpty(t, res.Cookies())
	require.Equal(t, login.CookieName, res.Cookies()[0].Name)

	res = ts.do(t, "", http.MethodGet, signed, nil, nil)
	require.Equal(t, http.StatusNotFound, res.StatusCode)

	carol := ts.token(t, "carol@example.com")

	var members []models.MemberDetail
	res = ts.do(t, carol, http.MethodGet, "/orgs/acme/members", nil, &members)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Len(t, members, 2)

	// members cannot invite
	res = ts.do(t, carol, http.MethodPost, "/orgs/acme/invitations", map[string]string{"email": "dave@example.com", "role": "member"}, nil)
	require.Equal(t, http.StatusForbidden, res.StatusCode)
}

func TestMemberManagement(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.createUser(t, "Alice")
	bob := ts.createUser(t, "Bob")
	aliceToken := ts.token(t, "alice@example.com")
	acme := ts.createOrg(t, aliceToken, "Acme")

	require.NoError(t, ts.stores.Memberships.Create(context.Background(), &models.Membership{
		MembershipID: uuid.Must(uuid.NewV7()),
		OrgID:        acme.OrgID,
		UserID:       bob.UserID,
		Role:         models.RoleMember,
	}))

	res := ts.do(t, aliceToken, http.MethodPatch, "/orgs/acme/members/"+bob.UserID.String(), map[string]string{"role": "admin"}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)

	// owners cannot step down on their own
	res = ts.do(t, aliceToken, http.MethodPatch, "/orgs/acme/members/"+alice.UserID.String(), map[string]string{"role": "member"}, nil)
	require.Equal(t, http.StatusForbidden, res.StatusCode)

	bobToken := ts.token(t, "bob@example.com")
	res = ts.do(t, bobToken, http.MethodDelete, "/orgs/acme/", nil, nil)
	require.Equal(t, http.StatusForbidden, res.StatusCode)

	res = ts.do(t, aliceToken, http.MethodDelete, "/orgs/acme/members/"+bob.UserID.String(), nil, nil)
	require.Equal(t, http.StatusNoContent, res.StatusCode)

	res = ts.do(t, bobToken, http.MethodGet, "/orgs/acme/", nil, nil)
	require.Equal(t, http.StatusForbidden, res.StatusCode)
}

func TestReportingService(t *testing.T) {
	ts := newTestServer(t)
	ts.createUser(t, "Alice")
	ts.createUser(t, "Mallory")
	alice := ts.token(t, "alice@example.com")
	mallory := ts.token(t, "mallory@example.com")
	ts.createOrg(t, alice, "Acme")

	res := ts.do(t, alice, http.MethodPost, "/orgs/acme/controls", map[string]any{"reference": "A.5.1", "name": "Policies", "status": "not_started"}, nil)
	require.Equal(t, http.StatusCreated, res.StatusCode)
	res = ts.do(t, alice, http.MethodPost, "/orgs/acme/invitations", map[string]string{"email": "carol@example.com", "role": "admin"}, nil)
	require.Equal(t, http.StatusCreated, res.StatusCode)

	summary := connect.NewClient[structpb.Struct, structpb.Struct](ts.Client(), ts.URL+OrganizationSummaryProcedure)
	activity := connect.NewClient[structpb.Struct, structpb.Struct](ts.Client(), ts.URL+ListActivityProcedure)

	request := func(token string, fields map[string]any) *connect.Request[structpb.Struct] {
		msg, err := structpb.NewStruct(fields)
		require.NoError(t, err)
		req := connect.NewRequest(msg)
		if token != "" {
			req.Header().Set("Authorization", "Bearer "+token)
		}
		return req
	}

	t.Run("summary", func(t *testing.T) {
		out, err := summary.CallUnary(context.Background(), request(alice, map[string]any{"organization": "acme"}))
		require.NoError(t, err)

		fields := out.Msg.GetFields()
		require.Equal(t, float64(1), fields["members"].GetNumberValue())
		require.Equal(t, float64(1), fields["pending_invitations"].GetNumberValue())
		require.Equal(t, float64(1), fields["entities"].GetStructValue().GetFields()[models.SubjectControl].GetNumberValue())
		require.Equal(t, "Acme", fields["organization"].GetStructValue().GetFields()["name"].GetStringValue())
	})

	t.Run("activity", func(t *testing.T) {
		out, err := activity.CallUnary(context.Background(), request(alice, map[string]any{"organization": "acme", "limit": 2}))
		require.NoError(t, err)
		require.Len(t, out.Msg.GetFields()["entries"].GetListValue().GetValues(), 2)
		require.NotEmpty(t, out.Msg.GetFields()["next"].GetStringValue())

		next := out.Msg.GetFields()["next"].GetStringValue()
		out, err = activity.CallUnary(context.Background(), request(alice, map[string]any{"organization": "acme", "limit": 2, "before": next}))
		require.NoError(t, err)
		require.NotEmpty(t, out.Msg.GetFields()["entries"].GetListValue().GetValues())
	})

	t.Run("fractional activity limit", func(t *testing.T) {
		_, err := activity.CallUnary(context.Background(), request(alice, map[string]any{"organization": "acme", "limit": 1.9}))
		require.Error(t, err)
		require.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
	})

	errorCases := []struct {
		name   string
		token  string
		fields map[string]any
		code   connect.Code
	}{
		{name: "anonymous", fields: map[string]any{"organization": "acme"}, code: connect.CodeUnauthenticated},
		{name: "non member", token: mallory, fields: map[string]any{"organization": "acme"}, code: connect.CodePermissionDenied},
		{name: "unknown organization", token: alice, fields: map[string]any{"organization": "nope"}, code: connect.CodeNotFound},
		{name: "missing organization", token: alice, fields: map[string]any{}, code: connect.CodeInvalidArgument},
	}

	for _, tt := range errorCases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := summary.CallUnary(context.Background(), request(tt.token, tt.fields))
			require.Error(t, err)
			require.Equal(t, tt.code, connect.CodeOf(err))
		})
	}
}
