package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/wolfeidau/grc/internal/models"
	"github.com/wolfeidau/grc/internal/store"
)

// Record is satisfied by a pointer to a tenant-owned entity struct.
type Record[E any] interface {
	*E
	EntityID() uuid.UUID
	OrganizationID() uuid.UUID
	Record() *models.Base
}

// clone copies an entity, including any pointer fields when P knows how to.
func clone[E any, P Record[E]](entity P) P {
	if c, ok := any(entity).(interface{ Clone() P }); ok {
		return c.Clone()
	}
	row := *entity
	return P(&row)
}

// EntityStore implements store.EntityStore for one entity kind.
// Rows are held by value so every read and write copies the struct.
type EntityStore[E any, P Record[E]] struct {
	mu sync.RWMutex

	rows map[uuid.UUID]E
}

// NewEntityStore creates a new in-memory entity store.
func NewEntityStore[E any, P Record[E]]() *EntityStore[E, P] {
	return &EntityStore[E, P]{
		rows: make(map[uuid.UUID]E),
	}
}

// Create stores a new entity.
func (s *EntityStore[E, P]) Create(ctx context.Context, entity P) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rows[entity.EntityID()]; exists {
		return store.ErrEntityAlreadyExists
	}
	s.rows[entity.EntityID()] = *clone(entity)

	return nil
}

// Get retrieves an entity by ID.
func (s *EntityStore[E, P]) Get(ctx context.Context, id uuid.UUID) (P, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, exists := s.rows[id]
	if !exists {
		return nil, store.ErrEntityNotFound
	}

	return clone(P(&row)), nil
}

// Update replaces an entity. The owning organization can not change.
func (s *EntityStore[E, P]) Update(ctx context.Context, entity P) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.rows[entity.EntityID()]
	if !exists {
		return store.ErrEntityNotFound
	}
	entity.Record().OrgID = P(&existing).OrganizationID()
	s.rows[entity.EntityID()] = *clone(entity)

	return nil
}

// Delete removes an entity.
func (s *EntityStore[E, P]) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rows[id]; !exists {
		return store.ErrEntityNotFound
	}
	delete(s.rows, id)

	return nil
}

// ListByOrg returns the entities owned by orgID, oldest first.
func (s *EntityStore[E, P]) ListByOrg(ctx context.Context, orgID uuid.UUID) ([]P, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []P
	for _, row := range s.rows {
		if p := P(&row); p.OrganizationID() == orgID {
			result = append(result, clone(p))
		}
	}
	slices.SortFunc(result, func(a, b P) int {
		if c := a.Record().CreatedAt.Compare(b.Record().CreatedAt); c != 0 {
			return c
		}
		return slices.Compare(a.Record().ID[:], b.Record().ID[:])
	})

	return result, nil
}

// CountByOrg counts the entities owned by orgID.
func (s *EntityStore[E, P]) CountByOrg(ctx context.Context, orgID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, row := range s.rows {
		if P(&row).OrganizationID() == orgID {
			count++
		}
	}

	return count, nil
}

// PurgeOrganization removes the entities of a deleted organization.
func (s *EntityStore[E, P]) PurgeOrganization(ctx context.Context, orgID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, row := range s.rows {
		if P(&row).OrganizationID() == orgID {
			delete(s.rows, id)
		}
	}

	return nil
}
