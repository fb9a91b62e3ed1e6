package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/grc/internal/models"
	"github.com/wolfeidau/grc/internal/store"
)

// Record is satisfied by a pointer to a tenant-owned entity struct.
type Record[E any] interface {
	*E
	EntityID() uuid.UUID
	Record() *models.Base
}

// Table describes how one entity kind maps onto its table.
// Columns excludes the shared id, org_id, created_at and updated_at columns.
type Table[E any, P Record[E]] struct {
	Name    string
	Columns []string
	Values  func(P) []any // in Columns order
	Targets func(P) []any // scan targets in Columns order
}

// EntityStore implements store.EntityStore for one entity kind.
type EntityStore[E any, P Record[E]] struct {
	pool  *pgxpool.Pool
	table Table[E, P]

	insertSQL string
	selectSQL string
	updateSQL string
}

// NewEntityStore creates a PostgreSQL-backed store for the entity kind described by table.
func NewEntityStore[E any, P Record[E]](pool *pgxpool.Pool, table Table[E, P]) *EntityStore[E, P] {
	cols := append([]string{"id", "org_id", "created_at", "updated_at"}, table.Columns...)

	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	// org_id and created_at are never rewritten
	sets := []string{"updated_at = $2"}
	for i, c := range table.Columns {
		sets = append(sets, fmt.Sprintf("%s = $%d", c, i+3))
	}

	return &EntityStore[E, P]{
		pool:  pool,
		table: table,
		insertSQL: fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
			table.Name, strings.Join(cols, ", "), strings.Join(placeholders, ", ")),
		selectSQL: fmt.Sprintf(`SELECT %s FROM %s`, strings.Join(cols, ", "), table.Name),
		updateSQL: fmt.Sprintf(`UPDATE %s SET %s WHERE id = $1 RETURNING org_id, created_at`,
			table.Name, strings.Join(sets, ", ")),
	}
}

// Create inserts a new entity.
func (s *EntityStore[E, P]) Create(ctx context.Context, entity P) error {
	b := entity.Record()
	args := append([]any{b.ID, b.OrgID, b.CreatedAt, b.UpdatedAt}, s.table.Values(entity)...)

	if _, err := s.pool.Exec(ctx, s.insertSQL, args...); err != nil {
		return s.mapWriteError(err, "create", store.ErrEntityAlreadyExists)
	}

	log.Debug().
		Str("table", s.table.Name).
		Str("id", b.ID.String()).
		Str("org_id", b.OrgID.String()).
		Msg("Created entity")

	return nil
}

// Get retrieves an entity by ID.
func (s *EntityStore[E, P]) Get(ctx context.Context, id uuid.UUID) (P, error) {
	entity, err := s.scan(s.pool.QueryRow(ctx, s.selectSQL+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrEntityNotFound
		}
		return nil, fmt.Errorf("failed to get %s: %w", s.table.Name, err)
	}
	return entity, nil
}

// Update rewrites the mutable columns of an entity.
func (s *EntityStore[E, P]) Update(ctx context.Context, entity P) error {
	b := entity.Record()
	args := append([]any{b.ID, b.UpdatedAt}, s.table.Values(entity)...)

	err := s.pool.QueryRow(ctx, s.updateSQL, args...).Scan(&b.OrgID, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrEntityNotFound
		}
		return s.mapWriteError(err, "update", nil)
	}

	return nil
}

// Delete removes an entity.
func (s *EntityStore[E, P]) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := s.pool.Exec(ctx, `DELETE FROM `+s.table.Name+` WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", s.table.Name, err)
	}

	if result.RowsAffected() == 0 {
		return store.ErrEntityNotFound
	}

	return nil
}

// ListByOrg returns the entities owned by orgID, oldest first.
func (s *EntityStore[E, P]) ListByOrg(ctx context.Context, orgID uuid.UUID) ([]P, error) {
	rows, err := s.pool.Query(ctx, s.selectSQL+` WHERE org_id = $1 ORDER BY created_at, id`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.table.Name, err)
	}
	defer rows.Close()

	var result []P
	for rows.Next() {
		entity, err := s.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", s.table.Name, err)
		}
		result = append(result, entity)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", s.table.Name, err)
	}

	return result, nil
}

// CountByOrg counts the entities owned by orgID.
func (s *EntityStore[E, P]) CountByOrg(ctx context.Context, orgID uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM `+s.table.Name+` WHERE org_id = $1`, orgID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", s.table.Name, err)
	}
	return count, nil
}

func (s *EntityStore[E, P]) scan(row pgx.Row) (P, error) {
	entity := P(new(E))
	b := entity.Record()

	targets := append([]any{&b.ID, &b.OrgID, &b.CreatedAt, &b.UpdatedAt}, s.table.Targets(entity)...)
	if err := row.Scan(targets...); err != nil {
		return nil, err
	}

	return entity, nil
}

// mapWriteError tells a missing organization apart from a link to a missing entity.
func (s *EntityStore[E, P]) mapWriteError(err error, op string, exists error) error {
	if constraint, ok := foreignKeyConstraint(err); ok && constraint != s.table.Name+"_org_id_fkey" {
		return fmt.Errorf("%w: %s", store.ErrEntityReferenceNotFound, constraint)
	}
	return mapPostgresError(err, op+" "+s.table.Name, store.ErrOrganizationNotFound, exists)
}
