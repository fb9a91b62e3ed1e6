package memory

import (
	"bytes"
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/wolfeidau/grc/internal/models"
	"github.com/wolfeidau/grc/internal/store"
)

const defaultActivityLimit = 50

// ActivityStore implements store.ActivityStore as an in-memory append-only slice.
// Reads sort by creation time then id, the same order as the postgres store.
type ActivityStore struct {
	mu sync.RWMutex

	entries []*models.ActivityLog
}

// NewActivityStore creates a new in-memory activity store.
func NewActivityStore() *ActivityStore {
	return &ActivityStore{}
}

// Append adds an entry to the log.
func (s *ActivityStore) Append(ctx context.Context, entry *models.ActivityLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, cloneActivity(entry))

	return nil
}

// List returns entries for one organization, newest first.
func (s *ActivityStore) List(ctx context.Context, q store.ActivityQuery) ([]*models.ActivityLog, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultActivityLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.ActivityLog
	for _, entry := range s.entries {
		if entry.OrgID != q.OrgID {
			continue
		}
		if q.Before != nil && !q.Before.After(entry) {
			continue
		}
		matched = append(matched, entry)
	}
	slices.SortFunc(matched, func(a, b *models.ActivityLog) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return bytes.Compare(b.ActivityID[:], a.ActivityID[:])
	})

	result := make([]*models.ActivityLog, 0, min(limit, len(matched)))
	for _, entry := range matched[:min(limit, len(matched))] {
		result = append(result, cloneActivity(entry))
	}

	return result, nil
}

// CountByOrg counts the entries of an organization.
func (s *ActivityStore) CountByOrg(ctx context.Context, orgID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, entry := range s.entries {
		if entry.OrgID == orgID {
			count++
		}
	}

	return count, nil
}

// PurgeOrganization drops the entries of a deleted organization.
func (s *ActivityStore) PurgeOrganization(ctx context.Context, orgID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = slices.DeleteFunc(s.entries, func(entry *models.ActivityLog) bool {
		return entry.OrgID == orgID
	})

	return nil
}

func cloneActivity(entry *models.ActivityLog) *models.ActivityLog {
	clone := *entry
	if entry.UserID != nil {
		userID := *entry.UserID
		clone.UserID = &userID
	}
	if entry.Changes != nil {
		clone.Changes = maps.Clone(entry.Changes)
	}
	return &clone
}
