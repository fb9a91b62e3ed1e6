package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wolfeidau/grc/internal/models"
	"github.com/wolfeidau/grc/internal/store"
)

const defaultActivityLimit = 50

// ActivityStore implements store.ActivityStore using PostgreSQL.
// The table rejects updates through a trigger, rows only leave by organization cascade.
type ActivityStore struct {
	pool *pgxpool.Pool
}

// NewActivityStore creates a new PostgreSQL-backed activity store.
func NewActivityStore(pool *pgxpool.Pool) *ActivityStore {
	return &ActivityStore{pool: pool}
}

// Append inserts an activity record.
func (s *ActivityStore) Append(ctx context.Context, entry *models.ActivityLog) error {
	var changes []byte
	if entry.Changes != nil {
		var err error
		changes, err = json.Marshal(entry.Changes)
		if err != nil {
			return fmt.Errorf("failed to marshal changes: %w", err)
		}
	}

	query := `
		INSERT INTO activity_logs (
			activity_id, org_id, user_id, event, subject_type, subject_id, subject_name, changes, checksum, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
	`

	_, err := s.pool.Exec(ctx, query,
		entry.ActivityID,
		entry.OrgID,
		entry.UserID,
		entry.Event.String(),
		entry.SubjectType,
		entry.SubjectID,
		entry.SubjectName,
		changes,
		int64(entry.Checksum), // #nosec G115 - stored as the bit pattern
		entry.CreatedAt,
	)
	if err != nil {
		return mapPostgresError(err, "append activity", store.ErrOrganizationNotFound, nil)
	}

	return nil
}

// List returns entries for one organization, newest first.
func (s *ActivityStore) List(ctx context.Context, q store.ActivityQuery) ([]*models.ActivityLog, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultActivityLimit
	}

	query := `
		SELECT activity_id, org_id, user_id, event, subject_type, subject_id, subject_name, changes, checksum, created_at
		FROM activity_logs
		WHERE org_id = $1 AND ($2::timestamptz IS NULL OR (created_at, activity_id) < ($2, $3::uuid))
		ORDER BY created_at DESC, activity_id DESC
		LIMIT $4
	`

	var (
		beforeAt *time.Time
		beforeID *uuid.UUID
	)
	if q.Before != nil {
		beforeAt, beforeID = &q.Before.CreatedAt, &q.Before.ActivityID
	}

	rows, err := s.pool.Query(ctx, query, q.OrgID, beforeAt, beforeID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}
	defer rows.Close()

	var entries []*models.ActivityLog
	for rows.Next() {
		var (
			entry    models.ActivityLog
			event    string
			changes  []byte
			checksum int64
		)
		err := rows.Scan(
			&entry.ActivityID,
			&entry.OrgID,
			&entry.UserID,
			&event,
			&entry.SubjectType,
			&entry.SubjectID,
			&entry.SubjectName,
			&changes,
			&checksum,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}

		if entry.Event, err = models.ParseActivityEvent(event); err != nil {
			return nil, err
		}
		if changes != nil {
			if err := json.Unmarshal(changes, &entry.Changes); err != nil {
				return nil, fmt.Errorf("failed to unmarshal changes: %w", err)
			}
		}
		entry.Checksum = uint64(checksum) // #nosec G115 - bit pattern round trip

		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activity: %w", err)
	}

	return entries, nil
}

// CountByOrg counts the entries of an organization.
func (s *ActivityStore) CountByOrg(ctx context.Context, orgID uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM activity_logs WHERE org_id = $1`, orgID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count activity: %w", err)
	}
	return count, nil
}
