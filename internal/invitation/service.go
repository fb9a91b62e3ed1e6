// Package invitation issues, resolves and accepts organization invitations.
//
// An invitation is reached only through a signed URL. Lookup failures are kept distinct:
// a missing or bad signature is Forbidden, an expired invitation is Gone, and an unknown or
// already accepted token is NotFound.
package invitation

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/grc/internal/apperr"
	"github.com/wolfeidau/grc/internal/audit"
	"github.com/wolfeidau/grc/internal/auth"
	"github.com/wolfeidau/grc/internal/directory"
	"github.com/wolfeidau/grc/internal/models"
	"github.com/wolfeidau/grc/internal/notify"
	"github.com/wolfeidau/grc/internal/store"
	"github.com/wolfeidau/grc/internal/telemetry"
	"github.com/wolfeidau/grc/internal/tenancy"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// LinkGrace keeps acceptance links verifiable after the invitation expires, so an expired
// invitation reports Gone instead of a signature failure.
const LinkGrace = 7 * 24 * time.Hour

const tokenBytes = 32

// Path returns the URL path of an invitation token.
func Path(token string) string {
	return "/invitations/" + url.PathEscape(token)
}

// Config wires a Service.
type Config struct {
	Stores    *store.Stores
	Directory *directory.Directory
	Gate      *auth.Gate
	Recorder  *audit.Recorder
	Signer    *URLSigner
	Notifier  notify.Notifier
	BaseURL   string // public origin prefixed to acceptance links
	Now       func() time.Time
}

// Service runs the invitation lifecycle.
type Service struct {
	invitations store.InvitationStore
	users       store.UserStore
	orgs        store.OrganizationStore
	dir         *directory.Directory
	gate        *auth.Gate
	recorder    *audit.Recorder
	signer      *URLSigner
	notifier    notify.Notifier
	baseURL     string
	now         func() time.Time
}

// NewService creates a Service.
func NewService(cfg Config) *Service {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		invitations: cfg.Stores.Invitations,
		users:       cfg.Stores.Users,
		orgs:        cfg.Stores.Organizations,
		dir:         cfg.Directory,
		gate:        cfg.Gate,
		recorder:    cfg.Recorder,
		signer:      cfg.Signer,
		notifier:    cfg.Notifier,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		now:         now,
	}
}

// Issued is a freshly created invitation with its acceptance link.
type Issued struct {
	Invitation *models.Invitation `json:"invitation"`
	URL        string             `json:"url"`
}

// Invite offers role in the scope organization to email. Any unaccepted invitation for the
// same address is deleted first. The notification is dispatched after the row is written and
// its outcome never affects the result.
func (s *Service) Invite(ctx context.Context, scope tenancy.Scope, email string, role models.Role) (*Issued, error) {
	if scope.Org == nil {
		return nil, fmt.Errorf("%w: no organization in scope", apperr.ErrNotFound)
	}
	if scope.Actor == nil {
		// invitations always name the inviting user
		return nil, fmt.Errorf("%w: authentication required", apperr.ErrUnauthenticated)
	}
	if err := s.authorize(ctx, scope, auth.Create); err != nil {
		return nil, err
	}

	email = models.NormalizeEmail(email)
	if err := validateInvite(email, role); err != nil {
		return nil, err
	}
	if role == models.RoleOwner {
		if err := s.requireOwner(ctx, scope); err != nil {
			return nil, err
		}
	}

	if err := s.rejectExistingMember(ctx, scope.Org.OrgID, email); err != nil {
		return nil, err
	}

	if err := s.supersede(ctx, scope, email); err != nil {
		return nil, err
	}

	inv, err := s.create(ctx, scope, email, role)
	if err != nil {
		return nil, err
	}

	telemetry.GetMetrics().InvitationsIssuedTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("role", role.String())))

	link := s.link(inv)
	s.notify(ctx, scope, inv, link)

	return &Issued{Invitation: inv, URL: link}, nil
}

func (s *Service) rejectExistingMember(ctx context.Context, orgID uuid.UUID, email string) error {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil
		}
		return fmt.Errorf("failed to get user: %w", err)
	}

	_, err = s.dir.Role(ctx, orgID, user.UserID)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s is already a member", apperr.ErrConflict, email)
	case errors.Is(err, apperr.ErrForbidden):
		return nil
	default:
		return err
	}
}

// supersede hard deletes the unaccepted invitations for the pair.
func (s *Service) supersede(ctx context.Context, scope tenancy.Scope, email string) error {
	pending, err := s.invitations.ListUnaccepted(ctx, scope.Org.OrgID)
	if err != nil {
		return fmt.Errorf("failed to list invitations: %w", err)
	}

	deleted, err := s.invitations.DeleteUnaccepted(ctx, scope.Org.OrgID, email)
	if err != nil {
		return fmt.Errorf("failed to supersede invitations: %w", err)
	}
	if deleted == 0 {
		return nil
	}

	for _, old := range pending {
		if old.Email == email {
			s.recorder.Deleted(ctx, scope.Actor, old)
		}
	}

	log.Debug().
		Int64("deleted", deleted).
		Str("org_id", scope.Org.OrgID.String()).
		Msg("Superseded pending invitations")

	return nil
}

func (s *Service) create(ctx context.Context, scope tenancy.Scope, email string, role models.Role) (*models.Invitation, error) {
	invitationID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate invitation ID: %w", err)
	}

	token, err := newToken()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	inv := &models.Invitation{
		InvitationID: invitationID,
		OrgID:        scope.Org.OrgID,
		Email:        email,
		Role:         role,
		Token:        token,
		InvitedBy:    *scope.Actor,
		ExpiresAt:    now.Add(models.InvitationTTL),
		CreatedAt:    now,
	}

	if err := s.invitations.Create(ctx, inv); err != nil {
		if errors.Is(err, store.ErrInvitationAlreadyExists) {
			return nil, fmt.Errorf("%w: invitation already exists", apperr.ErrConflict)
		}
		return nil, fmt.Errorf("failed to create invitation: %w", err)
	}

	log.Info().
		Str("invitation_id", inv.InvitationID.String()).
		Str("org_id", inv.OrgID.String()).
		Str("role", role.String()).
		Msg("Issued invitation")

	s.recorder.Created(ctx, scope.Actor, inv)

	return inv, nil
}

func (s *Service) notify(ctx context.Context, scope tenancy.Scope, inv *models.Invitation, link string) {
	if s.notifier == nil {
		return
	}

	invitedBy := ""
	if user, err := s.users.Get(ctx, inv.InvitedBy); err == nil {
		invitedBy = user.Name
	}

	s.notifier.NotifyInvitation(ctx, &notify.InvitationMessage{
		InvitationID:     inv.InvitationID,
		OrgID:            inv.OrgID,
		OrganizationName: scope.Org.Name,
		Email:            inv.Email,
		Role:             inv.Role.String(),
		InvitedBy:        invitedBy,
		AcceptURL:        link,
		ExpiresAt:        inv.ExpiresAt,
	})
}

// link signs the invitation path past its expiry by LinkGrace.
func (s *Service) link(inv *models.Invitation) string {
	return s.baseURL + s.signer.Sign(Path(inv.Token), inv.ExpiresAt.Add(LinkGrace))
}

// Pending lists the scope organization's unaccepted invitations, including expired ones.
func (s *Service) Pending(ctx context.Context, scope tenancy.Scope) ([]*models.Invitation, error) {
	if scope.Org == nil {
		return nil, fmt.Errorf("%w: no organization in scope", apperr.ErrNotFound)
	}
	if err := s.authorize(ctx, scope, auth.ViewAny); err != nil {
		return nil, err
	}
	invitations, err := s.invitations.ListUnaccepted(ctx, scope.Org.OrgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	return invitations, nil
}

// Revoke deletes an unaccepted invitation of the scope organization.
func (s *Service) Revoke(ctx context.Context, scope tenancy.Scope, invitationID uuid.UUID) error {
	if scope.Org == nil {
		return fmt.Errorf("%w: no organization in scope", apperr.ErrNotFound)
	}
	if err := s.authorize(ctx, scope, auth.Delete); err != nil {
		return err
	}

	inv, err := s.invitations.Get(ctx, invitationID)
	if err != nil {
		if errors.Is(err, store.ErrInvitationNotFound) {
			return fmt.Errorf("%w: invitation", apperr.ErrNotFound)
		}
		return fmt.Errorf("failed to get invitation: %w", err)
	}
	if inv.OrgID != scope.Org.OrgID {
		return fmt.Errorf("%w: invitation", apperr.ErrNotFound)
	}
	if inv.AcceptedAt != nil {
		return fmt.Errorf("%w: invitation was already accepted", apperr.ErrConflict)
	}

	if err := s.invitations.Delete(ctx, invitationID); err != nil {
		if errors.Is(err, store.ErrInvitationNotFound) {
			return fmt.Errorf("%w: invitation", apperr.ErrNotFound)
		}
		return fmt.Errorf("failed to delete invitation: %w", err)
	}

	s.recorder.Deleted(ctx, scope.Actor, inv)

	return nil
}

func (s *Service) authorize(ctx context.Context, scope tenancy.Scope, ability auth.Ability) error {
	if scope.IsSystem() {
		return nil
	}
	return s.gate.Authorize(ctx, scope.Actor, ability, models.SubjectInvitation, scope.Org.OrgID)
}

func (s *Service) requireOwner(ctx context.Context, scope tenancy.Scope) error {
	if scope.IsSystem() {
		return nil
	}
	role, err := s.gate.Role(ctx, scope.Org.OrgID, *scope.Actor)
	if err != nil {
		return err
	}
	if role != models.RoleOwner {
		return fmt.Errorf("%w: only an owner can invite owners", apperr.ErrForbidden)
	}
	return nil
}

func validateInvite(email string, role models.Role) error {
	var v apperr.Validator
	v.Required("email", email)
	v.MaxLength("email", email, 255)
	if email != "" {
		addr, err := mail.ParseAddress(email)
		v.Check(err == nil && addr.Address == email, "email", "must be a valid email address")
	}
	v.Check(role.Valid(), "role", "unknown role")
	return v.Err()
}

func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate invitation token: %w", err)
	}
	return base58.Encode(b), nil
}
