package tenancy

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/wolfeidau/grc/internal/apperr"
	"github.com/wolfeidau/grc/internal/store"
)

// Owned is satisfied by any tenant-owned entity.
type Owned interface {
	OrganizationID() uuid.UUID
}

// Reference is an optional link from one entity to another. The target must belong to the
// same organization as the entity holding the link.
type Reference[P any] struct {
	Field string
	ID    func(P) *uuid.UUID
	owner func(ctx context.Context, id uuid.UUID) (uuid.UUID, error)
}

// Ref declares that field of P holds the id of an entity in target.
func Ref[T Owned, P any](field string, target store.EntityStore[T], id func(P) *uuid.UUID) Reference[P] {
	return Reference[P]{
		Field: field,
		ID:    id,
		owner: func(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
			entity, err := target.Get(ctx, id)
			if err != nil {
				return uuid.Nil, err
			}
			return entity.OrganizationID(), nil
		},
	}
}

// References adds links checked before every write.
func (r *Repository[E, P]) References(refs ...Reference[P]) *Repository[E, P] {
	r.refs = append(r.refs, refs...)
	return r
}

// snapshotRefs copies the current link targets so an update can tell which ones changed.
func (r *Repository[E, P]) snapshotRefs(entity P) []*uuid.UUID {
	ids := make([]*uuid.UUID, len(r.refs))
	for i, ref := range r.refs {
		if id := ref.ID(entity); id != nil {
			v := *id
			ids[i] = &v
		}
	}
	return ids
}

// checkRefs verifies links set or changed since previous. previous is nil on create.
// An unknown target and one owned by another organization are reported the same way.
func (r *Repository[E, P]) checkRefs(ctx context.Context, entity P, previous []*uuid.UUID) error {
	var v apperr.Validator
	for i, ref := range r.refs {
		id := ref.ID(entity)
		if id == nil {
			continue
		}
		if previous != nil && previous[i] != nil && *previous[i] == *id {
			continue
		}

		orgID, err := ref.owner(ctx, *id)
		switch {
		case errors.Is(err, store.ErrEntityNotFound):
			v.Check(false, ref.Field, "does not exist")
		case err != nil:
			return fmt.Errorf("failed to resolve %s: %w", ref.Field, err)
		default:
			v.Check(orgID == entity.OrganizationID(), ref.Field, "does not exist")
		}
	}
	return v.Err()
}
