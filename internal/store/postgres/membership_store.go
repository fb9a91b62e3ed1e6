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

// MembershipStore implements store.MembershipStore using PostgreSQL.
type MembershipStore struct {
	pool *pgxpool.Pool
}

// NewMembershipStore creates a new PostgreSQL-backed membership store.
func NewMembershipStore(pool *pgxpool.Pool) *MembershipStore {
	return &MembershipStore{pool: pool}
}

// Create creates a membership. The (org_id, user_id) unique constraint rejects duplicates.
func (s *MembershipStore) Create(ctx context.Context, m *models.Membership) error {
	query := `
		INSERT INTO memberships (
			membership_id, org_id, user_id, role, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6
		)
	`

	_, err := s.pool.Exec(ctx, query,
		m.MembershipID,
		m.OrgID,
		m.UserID,
		m.Role.String(),
		m.CreatedAt,
		m.UpdatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: %w", store.ErrOrganizationNotFound, err)
		}
		return mapPostgresError(err, "create membership", nil, store.ErrMembershipAlreadyExists)
	}

	log.Debug().
		Str("org_id", m.OrgID.String()).
		Str("user_id", m.UserID.String()).
		Str("role", m.Role.String()).
		Msg("Created membership")

	return nil
}

// Get retrieves the membership of a user in an organization.
func (s *MembershipStore) Get(ctx context.Context, orgID, userID uuid.UUID) (*models.Membership, error) {
	query := `
		SELECT membership_id, org_id, user_id, role, created_at, updated_at
		FROM memberships
		WHERE org_id = $1 AND user_id = $2
	`

	m, err := scanMembership(s.pool.QueryRow(ctx, query, orgID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrMembershipNotFound
		}
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}

	return m, nil
}

// UpdateRole changes the role of a membership.
func (s *MembershipStore) UpdateRole(ctx context.Context, orgID, userID uuid.UUID, role models.Role) error {
	query := `
		UPDATE memberships SET
			role = $3,
			updated_at = $4
		WHERE org_id = $1 AND user_id = $2
	`

	result, err := s.pool.Exec(ctx, query, orgID, userID, role.String(), time.Now())
	if err != nil {
		return fmt.Errorf("failed to update membership: %w", err)
	}

	if result.RowsAffected() == 0 {
		return store.ErrMembershipNotFound
	}

	return nil
}

// Delete removes a membership.
func (s *MembershipStore) Delete(ctx context.Context, orgID, userID uuid.UUID) error {
	query := `DELETE FROM memberships WHERE org_id = $1 AND user_id = $2`

	result, err := s.pool.Exec(ctx, query, orgID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete membership: %w", err)
	}

	if result.RowsAffected() == 0 {
		return store.ErrMembershipNotFound
	}

	log.Debug().
		Str("org_id", orgID.String()).
		Str("user_id", userID.String()).
		Msg("Deleted membership")

	return nil
}

// ListByOrg returns the members of an organization, oldest membership first.
func (s *MembershipStore) ListByOrg(ctx context.Context, orgID uuid.UUID) ([]*models.MemberDetail, error) {
	query := `
		SELECT m.membership_id, m.org_id, m.user_id, m.role, m.created_at, m.updated_at,
			u.name, u.email
		FROM memberships m
		JOIN users u ON u.user_id = m.user_id
		WHERE m.org_id = $1
		ORDER BY m.created_at, m.membership_id
	`

	rows, err := s.pool.Query(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	var members []*models.MemberDetail
	for rows.Next() {
		var (
			d    models.MemberDetail
			role string
		)
		err := rows.Scan(
			&d.MembershipID,
			&d.OrgID,
			&d.UserID,
			&role,
			&d.CreatedAt,
			&d.UpdatedAt,
			&d.Name,
			&d.Email,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		if d.Role, err = models.ParseRole(role); err != nil {
			return nil, err
		}
		members = append(members, &d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating memberships: %w", err)
	}

	return members, nil
}

// ListByUser returns every membership held by a user.
func (s *MembershipStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Membership, error) {
	query := `
		SELECT membership_id, org_id, user_id, role, created_at, updated_at
		FROM memberships
		WHERE user_id = $1
		ORDER BY created_at, membership_id
	`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	var memberships []*models.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		memberships = append(memberships, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating memberships: %w", err)
	}

	return memberships, nil
}

// CountByRole counts the memberships in an organization holding role.
func (s *MembershipStore) CountByRole(ctx context.Context, orgID uuid.UUID, role models.Role) (int, error) {
	query := `SELECT count(*) FROM memberships WHERE org_id = $1 AND role = $2`

	var count int
	if err := s.pool.QueryRow(ctx, query, orgID, role.String()).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count memberships: %w", err)
	}

	return count, nil
}

func scanMembership(row pgx.Row) (*models.Membership, error) {
	var (
		m    models.Membership
		role string
	)
	err := row.Scan(
		&m.MembershipID,
		&m.OrgID,
		&m.UserID,
		&role,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if m.Role, err = models.ParseRole(role); err != nil {
		return nil, err
	}

	return &m, nil
}
