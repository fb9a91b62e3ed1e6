package tenancy

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/grc/internal/apperr"
	"github.com/wolfeidau/grc/internal/audit"
	"github.com/wolfeidau/grc/internal/auth"
	"github.com/wolfeidau/grc/internal/models"
	"github.com/wolfeidau/grc/internal/store"
)

// Entity is satisfied by a pointer to a tenant-owned model.
type Entity[E any] interface {
	*E
	audit.Subject
	SetEntityID(id uuid.UUID)
	AssignOrganization(orgID uuid.UUID)
	Touch(now time.Time)
	Record() *models.Base
	Validate() error
}

// Authorizer is the policy check consulted before each operation.
type Authorizer interface {
	Authorize(ctx context.Context, actor *uuid.UUID, ability auth.Ability, subjectType string, orgID uuid.UUID) error
}

// Repository composes a persistence store with organization scoping, authorization and
// activity recording. Every read is filtered by the scope organization and an entity
// owned by another organization is reported as not found.
type Repository[E any, P Entity[E]] struct {
	store    store.EntityStore[P]
	authz    Authorizer
	recorder *audit.Recorder
	now      func() time.Time
	refs     []Reference[P]
}

// Option configures a Repository.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source used for bookkeeping timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// NewRepository creates a repository over entities.
func NewRepository[E any, P Entity[E]](entities store.EntityStore[P], authz Authorizer, recorder *audit.Recorder, opts ...Option) *Repository[E, P] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Repository[E, P]{
		store:    entities,
		authz:    authz,
		recorder: recorder,
		now:      o.now,
	}
}

// Create persists a new entity. An organization set on the entity wins over the scope
// organization; when neither is available the entity is rejected.
func (r *Repository[E, P]) Create(ctx context.Context, scope Scope, entity P) error {
	entity.AssignOrganization(scope.OrgID())
	orgID := entity.OrganizationID()
	if orgID == uuid.Nil {
		return apperr.Invalid("organization_id", "an organization is required")
	}
	if scope.Org != nil && !scope.IsSystem() && orgID != scope.Org.OrgID {
		return apperr.Invalid("organization_id", "must match the current organization")
	}

	if err := r.authorize(ctx, scope, auth.Create, entity.SubjectType(), orgID); err != nil {
		return err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("failed to generate ID: %w", err)
	}
	entity.SetEntityID(id)
	entity.Touch(r.timestamp())

	if err := entity.Validate(); err != nil {
		return err
	}
	if err := r.checkRefs(ctx, entity, nil); err != nil {
		return err
	}

	if err := r.store.Create(ctx, entity); err != nil {
		return translate(err, entity.SubjectType())
	}

	log.Debug().
		Str("subject_type", entity.SubjectType()).
		Str("id", id.String()).
		Str("org_id", orgID.String()).
		Msg("Created entity")

	r.recorder.Created(ctx, scope.Actor, entity)

	return nil
}

// Get returns an entity owned by the scope organization.
func (r *Repository[E, P]) Get(ctx context.Context, scope Scope, id uuid.UUID) (P, error) {
	entity, err := r.load(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if err := r.authorize(ctx, scope, auth.View, entity.SubjectType(), entity.OrganizationID()); err != nil {
		return nil, err
	}
	return entity, nil
}

// List returns the scope organization's entities, oldest first.
func (r *Repository[E, P]) List(ctx context.Context, scope Scope) ([]P, error) {
	orgID, err := requireOrg(scope)
	if err != nil {
		return nil, err
	}

	var zero E
	if err := r.authorize(ctx, scope, auth.ViewAny, P(&zero).SubjectType(), orgID); err != nil {
		return nil, err
	}

	entities, err := r.store.ListByOrg(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	return entities, nil
}

// Update persists changes made by mutate. The id, organization and creation time cannot be
// changed. A mutation that changes no persisted field is not written and records nothing.
func (r *Repository[E, P]) Update(ctx context.Context, scope Scope, id uuid.UUID, mutate func(P) error) (P, error) {
	entity, err := r.load(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if err := r.authorize(ctx, scope, auth.Update, entity.SubjectType(), entity.OrganizationID()); err != nil {
		return nil, err
	}

	persisted := *entity.Record()
	before := entity.Attributes()
	linked := r.snapshotRefs(entity)

	if err := mutate(entity); err != nil {
		return nil, err
	}
	entity.Record().Restore(&persisted)

	if !changed(before, entity.Attributes()) {
		entity.Record().UpdatedAt = persisted.UpdatedAt
		return entity, nil
	}

	entity.Touch(r.timestamp())
	if err := entity.Validate(); err != nil {
		return nil, err
	}
	if err := r.checkRefs(ctx, entity, linked); err != nil {
		return nil, err
	}

	if err := r.store.Update(ctx, entity); err != nil {
		return nil, translate(err, entity.SubjectType())
	}

	r.recorder.Updated(ctx, scope.Actor, before, entity)

	return entity, nil
}

// Delete removes an entity. The activity entry keeps the pre-deletion name.
func (r *Repository[E, P]) Delete(ctx context.Context, scope Scope, id uuid.UUID) error {
	entity, err := r.load(ctx, scope, id)
	if err != nil {
		return err
	}
	if err := r.authorize(ctx, scope, auth.Delete, entity.SubjectType(), entity.OrganizationID()); err != nil {
		return err
	}

	if err := r.store.Delete(ctx, id); err != nil {
		return translate(err, entity.SubjectType())
	}

	r.recorder.Deleted(ctx, scope.Actor, entity)

	return nil
}

// Count returns the number of entities owned by the scope organization.
func (r *Repository[E, P]) Count(ctx context.Context, scope Scope) (int, error) {
	orgID, err := requireOrg(scope)
	if err != nil {
		return 0, err
	}
	return r.store.CountByOrg(ctx, orgID)
}

// load fetches an entity and applies the organization filter.
func (r *Repository[E, P]) load(ctx context.Context, scope Scope, id uuid.UUID) (P, error) {
	orgID, err := requireOrg(scope)
	if err != nil {
		return nil, err
	}

	entity, err := r.store.Get(ctx, id)
	if err != nil {
		var zero E
		return nil, translate(err, P(&zero).SubjectType())
	}

	if entity.OrganizationID() != orgID {
		return nil, fmt.Errorf("%w: %s %s", apperr.ErrNotFound, entity.SubjectType(), id)
	}

	return entity, nil
}

func (r *Repository[E, P]) authorize(ctx context.Context, scope Scope, ability auth.Ability, subjectType string, orgID uuid.UUID) error {
	if scope.IsSystem() {
		return nil
	}
	return r.authz.Authorize(ctx, scope.Actor, ability, subjectType, orgID)
}

func (r *Repository[E, P]) timestamp() time.Time {
	return r.now().UTC().Truncate(time.Microsecond)
}

func requireOrg(scope Scope) (uuid.UUID, error) {
	if scope.Org == nil {
		return uuid.Nil, fmt.Errorf("%w: no organization in scope", apperr.ErrNotFound)
	}
	return scope.Org.OrgID, nil
}

// changed compares persisted attributes ignoring the update timestamp.
func changed(before, after map[string]any) bool {
	b := maps.Clone(before)
	a := maps.Clone(after)
	delete(b, "updated_at")
	delete(a, "updated_at")
	return len(audit.Diff(b, a)) > 0
}

func translate(err error, subjectType string) error {
	switch {
	case errors.Is(err, store.ErrEntityNotFound):
		return fmt.Errorf("%w: %s", apperr.ErrNotFound, subjectType)
	case errors.Is(err, store.ErrEntityAlreadyExists):
		return fmt.Errorf("%w: %s already exists", apperr.ErrConflict, subjectType)
	case errors.Is(err, store.ErrEntityReferenceNotFound):
		return fmt.Errorf("%w: %s links to an entity that does not exist", apperr.ErrValidationFailed, subjectType)
	case errors.Is(err, store.ErrOrganizationNotFound):
		return fmt.Errorf("%w: organization", apperr.ErrNotFound)
	default:
		return fmt.Errorf("failed to persist %s: %w", subjectType, err)
	}
}
