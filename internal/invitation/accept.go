package invitation

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/grc/internal/apperr"
	"github.com/wolfeidau/grc/internal/auth"
	"github.com/wolfeidau/grc/internal/models"
	"github.com/wolfeidau/grc/internal/store"
	"github.com/wolfeidau/grc/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// View is what the holder of a valid link sees before accepting.
type View struct {
	Invitation   *models.Invitation     `json:"invitation"`
	Organization *models.Organization   `json:"organization"`
	State        models.InvitationState `json:"state"`
	HasAccount   bool                   `json:"has_account"`
}

// Lookup resolves a signed invitation link.
func (s *Service) Lookup(ctx context.Context, token string, query url.Values) (*View, error) {
	inv, err := s.resolve(ctx, token, query)
	if err != nil {
		return nil, err
	}

	org, err := s.orgs.Get(ctx, inv.OrgID)
	if err != nil {
		if errors.Is(err, store.ErrOrganizationNotFound) {
			return nil, fmt.Errorf("%w: invitation", apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}

	_, err = s.users.GetByEmail(ctx, inv.Email)
	if err != nil && !errors.Is(err, store.ErrUserNotFound) {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &View{
		Invitation:   inv,
		Organization: org,
		State:        inv.State(s.now()),
		HasAccount:   err == nil,
	}, nil
}

// resolve verifies the link and returns a pending invitation.
func (s *Service) resolve(ctx context.Context, token string, query url.Values) (*models.Invitation, error) {
	if err := s.signer.Verify(Path(token), query); err != nil {
		s.rejected(ctx, "signature")
		return nil, err
	}

	inv, err := s.invitations.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrInvitationNotFound) {
			s.rejected(ctx, "unknown")
			return nil, fmt.Errorf("%w: invitation", apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}

	switch inv.State(s.now()) {
	case models.InvitationAccepted:
		s.rejected(ctx, "accepted")
		return nil, fmt.Errorf("%w: invitation has already been used", apperr.ErrNotFound)
	case models.InvitationExpired:
		s.rejected(ctx, "expired")
		return nil, fmt.Errorf("%w: invitation expired at %s", apperr.ErrGone, inv.ExpiresAt.Format(time.RFC3339))
	}

	return inv, nil
}

// AcceptRequest identifies who is accepting. An authenticated actor must own the invited
// address. Without an actor an existing account proves itself with its password and a new
// account is registered with Name and Password.
type AcceptRequest struct {
	Actor    *uuid.UUID
	Name     string
	Password string
}

// Accepted is the outcome of an acceptance.
type Accepted struct {
	User       *models.User       `json:"user"`
	Membership *models.Membership `json:"membership"`
	// Joined is false when the user already belonged to the organization.
	Joined bool `json:"joined"`
}

// Accept consumes a pending invitation exactly once. The membership grant is idempotent: an
// existing membership is kept as is and the invitation is still marked accepted.
func (s *Service) Accept(ctx context.Context, token string, query url.Values, req AcceptRequest) (*Accepted, error) {
	inv, err := s.resolve(ctx, token, query)
	if err != nil {
		return nil, err
	}

	user, err := s.acceptingUser(ctx, inv, req)
	if err != nil {
		return nil, err
	}

	membership, joined, err := s.dir.EnsureMembership(ctx, &user.UserID, inv.OrgID, user.UserID, inv.Role)
	if err != nil {
		return nil, err
	}

	before := inv.Attributes()
	acceptedAt := s.now().UTC().Truncate(time.Microsecond)

	if err := s.invitations.MarkAccepted(ctx, inv.InvitationID, acceptedAt); err != nil {
		if errors.Is(err, store.ErrInvitationNotFound) {
			// accepted concurrently
			return nil, fmt.Errorf("%w: invitation has already been used", apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to accept invitation: %w", err)
	}
	inv.AcceptedAt = &acceptedAt

	s.recorder.Updated(ctx, &user.UserID, before, inv)

	telemetry.GetMetrics().InvitationsAcceptedTotal.Add(ctx, 1)

	log.Info().
		Str("invitation_id", inv.InvitationID.String()).
		Str("org_id", inv.OrgID.String()).
		Str("user_id", user.UserID.String()).
		Bool("joined", joined).
		Msg("Accepted invitation")

	return &Accepted{User: user, Membership: membership, Joined: joined}, nil
}

func (s *Service) acceptingUser(ctx context.Context, inv *models.Invitation, req AcceptRequest) (*models.User, error) {
	if req.Actor != nil {
		user, err := s.users.Get(ctx, *req.Actor)
		if err != nil {
			if errors.Is(err, store.ErrUserNotFound) {
				return nil, fmt.Errorf("%w: unknown user", apperr.ErrUnauthenticated)
			}
			return nil, fmt.Errorf("failed to get user: %w", err)
		}
		if models.NormalizeEmail(user.Email) != inv.Email {
			return nil, fmt.Errorf("%w: invitation was issued to a different email address", apperr.ErrForbidden)
		}
		return user, nil
	}

	existing, err := s.users.GetByEmail(ctx, inv.Email)
	switch {
	case err == nil:
		ok, verr := auth.VerifyPassword(req.Password, existing.PasswordHash)
		if verr != nil {
			log.Warn().Err(verr).Str("user_id", existing.UserID.String()).Msg("Stored password hash is unreadable")
		}
		if !ok {
			return nil, fmt.Errorf("%w: sign in to accept this invitation", apperr.ErrForbidden)
		}
		return existing, nil
	case !errors.Is(err, store.ErrUserNotFound):
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return s.register(ctx, inv.Email, req)
}

func (s *Service) register(ctx context.Context, email string, req AcceptRequest) (*models.User, error) {
	name := strings.TrimSpace(req.Name)

	var v apperr.Validator
	v.Required("name", name)
	v.MaxLength("name", name, 255)
	v.Check(len(req.Password) >= auth.MinPasswordLength, "password",
		fmt.Sprintf("must be at least %d characters", auth.MinPasswordLength))
	if err := v.Err(); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	userID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate user ID: %w", err)
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	user := &models.User{
		UserID:       userID,
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, store.ErrUserAlreadyExists) {
			return nil, fmt.Errorf("%w: an account for %s already exists", apperr.ErrConflict, email)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	log.Info().Str("user_id", userID.String()).Msg("Registered user from invitation")

	return user, nil
}

func (s *Service) rejected(ctx context.Context, reason string) {
	telemetry.GetMetrics().InvitationsRejectedTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)))
}
