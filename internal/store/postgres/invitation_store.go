package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/grc/internal/models"
	"github.com/wolfeidau/grc/internal/store"
)

const invitationColumns = `invitation_id, org_id, email, role, token, invited_by, expires_at, accepted_at, created_at`

// InvitationStore implements store.InvitationStore using PostgreSQL.
type InvitationStore struct {
	pool *pgxpool.Pool
}

// NewInvitationStore creates a new PostgreSQL-backed invitation store.
func NewInvitationStore(pool *pgxpool.Pool) *InvitationStore {
	return &InvitationStore{pool: pool}
}

// Create stores a new invitation.
func (s *InvitationStore) Create(ctx context.Context, inv *models.Invitation) error {
	query := `
		INSERT INTO invitations (
			invitation_id, org_id, email, role, token, invited_by, expires_at, accepted_at, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
	`

	_, err := s.pool.Exec(ctx, query,
		inv.InvitationID,
		inv.OrgID,
		inv.Email,
		inv.Role.String(),
		inv.Token,
		inv.InvitedBy,
		inv.ExpiresAt,
		inv.AcceptedAt,
		inv.CreatedAt,
	)
	if err != nil {
		return mapPostgresError(err, "create invitation", store.ErrOrganizationNotFound, store.ErrInvitationAlreadyExists)
	}

	log.Debug().
		Str("invitation_id", inv.InvitationID.String()).
		Str("org_id", inv.OrgID.String()).
		Msg("Created invitation")

	return nil
}

// Get retrieves an invitation by ID.
func (s *InvitationStore) Get(ctx context.Context, invitationID uuid.UUID) (*models.Invitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM invitations WHERE invitation_id = $1`

	return s.getOne(ctx, query, invitationID)
}

// GetByToken retrieves an invitation by its opaque token.
func (s *InvitationStore) GetByToken(ctx context.Context, token string) (*models.Invitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM invitations WHERE token = $1`

	return s.getOne(ctx, query, token)
}

func (s *InvitationStore) getOne(ctx context.Context, query string, arg any) (*models.Invitation, error) {
	inv, err := scanInvitation(s.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrInvitationNotFound
		}
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	return inv, nil
}

// DeleteUnaccepted hard deletes the unaccepted invitations for (orgID, email).
func (s *InvitationStore) DeleteUnaccepted(ctx context.Context, orgID uuid.UUID, email string) (int64, error) {
	query := `DELETE FROM invitations WHERE org_id = $1 AND email = $2 AND accepted_at IS NULL`

	result, err := s.pool.Exec(ctx, query, orgID, email)
	if err != nil {
		return 0, fmt.Errorf("failed to delete invitations: %w", err)
	}

	return result.RowsAffected(), nil
}

// MarkAccepted sets accepted_at only while it is still null, so concurrent acceptances settle on one winner.
func (s *InvitationStore) MarkAccepted(ctx context.Context, invitationID uuid.UUID, at time.Time) error {
	query := `
		UPDATE invitations SET accepted_at = $2
		WHERE invitation_id = $1 AND accepted_at IS NULL
	`

	result, err := s.pool.Exec(ctx, query, invitationID, at)
	if err != nil {
		return fmt.Errorf("failed to accept invitation: %w", err)
	}

	if result.RowsAffected() == 0 {
		return store.ErrInvitationNotFound
	}

	return nil
}

// Delete removes an invitation.
func (s *InvitationStore) Delete(ctx context.Context, invitationID uuid.UUID) error {
	query := `DELETE FROM invitations WHERE invitation_id = $1`

	result, err := s.pool.Exec(ctx, query, invitationID)
	if err != nil {
		return fmt.Errorf("failed to delete invitation: %w", err)
	}

	if result.RowsAffected() == 0 {
		return store.ErrInvitationNotFound
	}

	return nil
}

// ListUnaccepted returns the organization's unaccepted invitations, newest first.
func (s *InvitationStore) ListUnaccepted(ctx context.Context, orgID uuid.UUID) ([]*models.Invitation, error) {
	query := `SELECT ` + invitationColumns + `
		FROM invitations
		WHERE org_id = $1 AND accepted_at IS NULL
		ORDER BY created_at DESC
	`

	rows, err := s.pool.Query(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()

	var invitations []*models.Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		invitations = append(invitations, inv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invitations: %w", err)
	}

	return invitations, nil
}

func scanInvitation(row pgx.Row) (*models.Invitation, error) {
	var (
		inv  models.Invitation
		role string
	)
	err := row.Scan(
		&inv.InvitationID,
		&inv.OrgID,
		&inv.Email,
		&role,
		&inv.Token,
		&inv.InvitedBy,
		&inv.ExpiresAt,
		&inv.AcceptedAt,
		&inv.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if inv.Role, err = models.ParseRole(role); err != nil {
		return nil, err
	}

	return &inv, nil
}
