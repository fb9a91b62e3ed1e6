package directory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/grc/internal/apperr"
	"github.com/wolfeidau/grc/internal/auth"
	"github.com/wolfeidau/grc/internal/models"
	"github.com/wolfeidau/grc/internal/store"
	"github.com/wolfeidau/grc/internal/tenancy"
)

const maxOrganizationName = 255

// CreateOrganization creates an organization owned by owner. Interactive callers pass a
// scope for the owner; seeders pass a system scope and name the owner explicitly.
func (d *Directory) CreateOrganization(ctx context.Context, scope tenancy.Scope, owner uuid.UUID, name string) (*models.Organization, error) {
	if !scope.IsSystem() {
		if scope.Actor == nil {
			return nil, fmt.Errorf("%w: authentication required", apperr.ErrUnauthenticated)
		}
		if *scope.Actor != owner {
			return nil, fmt.Errorf("%w: organizations are owned by their creator", apperr.ErrForbidden)
		}
	}

	name = strings.TrimSpace(name)
	if err := validateName(name); err != nil {
		return nil, err
	}

	org, err := d.insertOrganization(ctx, name)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("org_id", org.OrgID.String()).
		Str("slug", org.Slug).
		Msg("Created organization")

	d.recorder.Created(ctx, scope.Actor, org)

	if _, _, err := d.ensureMembership(ctx, scope.Actor, org.OrgID, owner, models.RoleOwner); err != nil {
		// an organization without an owner can never be reached again
		if delErr := d.orgs.Delete(context.WithoutCancel(ctx), org.OrgID); delErr != nil {
			log.Error().Err(delErr).
				Str("org_id", org.OrgID.String()).
				Msg("Failed to remove organization after owner grant failed")
		}
		return nil, err
	}

	return org, nil
}

// insertOrganization retries with -2, -3, ... suffixes until the slug is free.
func (d *Directory) insertOrganization(ctx context.Context, name string) (*models.Organization, error) {
	base := models.Slugify(name)
	now := d.timestamp()

	for attempt := 1; attempt <= maxSlugAttempts; attempt++ {
		orgID, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("failed to generate organization ID: %w", err)
		}

		org := &models.Organization{
			OrgID:     orgID,
			Name:      name,
			Slug:      slugCandidate(base, attempt),
			CreatedAt: now,
			UpdatedAt: now,
		}

		err = d.orgs.Create(ctx, org)
		if err == nil {
			return org, nil
		}
		if !errors.Is(err, store.ErrOrganizationAlreadyExists) {
			return nil, fmt.Errorf("failed to create organization: %w", err)
		}
	}

	return nil, fmt.Errorf("%w: no free slug for %q", apperr.ErrConflict, base)
}

func slugCandidate(base string, attempt int) string {
	if attempt == 1 {
		return base
	}
	suffix := "-" + strconv.Itoa(attempt)
	if len(base)+len(suffix) > models.MaxSlugLength {
		base = strings.TrimRight(base[:models.MaxSlugLength-len(suffix)], "-")
	}
	return base + suffix
}

// Organization resolves an organization by slug.
func (d *Directory) Organization(ctx context.Context, slug string) (*models.Organization, error) {
	org, err := d.orgs.GetBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, store.ErrOrganizationNotFound) {
			return nil, fmt.Errorf("%w: organization %q", apperr.ErrNotFound, slug)
		}
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

// OrganizationsFor lists the organizations userID belongs to.
func (d *Directory) OrganizationsFor(ctx context.Context, userID uuid.UUID) ([]*models.Organization, error) {
	orgs, err := d.orgs.ListByMember(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	return orgs, nil
}

// RenameOrganization changes the display name. The slug is kept.
func (d *Directory) RenameOrganization(ctx context.Context, scope tenancy.Scope, name string) (*models.Organization, error) {
	if err := d.authorize(ctx, scope, auth.Update, models.SubjectOrganization); err != nil {
		return nil, err
	}

	name = strings.TrimSpace(name)
	if err := validateName(name); err != nil {
		return nil, err
	}

	org := *scope.Org
	if org.Name == name {
		return &org, nil
	}

	before := org.Attributes()
	org.Name = name
	org.UpdatedAt = d.timestamp()

	if err := d.orgs.Update(ctx, &org); err != nil {
		if errors.Is(err, store.ErrOrganizationNotFound) {
			return nil, fmt.Errorf("%w: organization", apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to rename organization: %w", err)
	}

	d.recorder.Updated(ctx, scope.Actor, before, &org)

	return &org, nil
}

// DeleteOrganization removes the organization and everything it owns, including its
// activity log, so no activity entry is written for the delete itself.
func (d *Directory) DeleteOrganization(ctx context.Context, scope tenancy.Scope) error {
	if err := d.authorize(ctx, scope, auth.Delete, models.SubjectOrganization); err != nil {
		return err
	}

	if err := d.orgs.Delete(ctx, scope.Org.OrgID); err != nil {
		if errors.Is(err, store.ErrOrganizationNotFound) {
			return fmt.Errorf("%w: organization", apperr.ErrNotFound)
		}
		return fmt.Errorf("failed to delete organization: %w", err)
	}

	logEvent := log.Info().
		Str("org_id", scope.Org.OrgID.String()).
		Str("slug", scope.Org.Slug)
	if scope.Actor != nil {
		logEvent = logEvent.Str("actor", scope.Actor.String())
	}
	logEvent.Msg("Deleted organization")

	return nil
}

func (d *Directory) authorize(ctx context.Context, scope tenancy.Scope, ability auth.Ability, subjectType string) error {
	if scope.Org == nil {
		return fmt.Errorf("%w: no organization in scope", apperr.ErrNotFound)
	}
	if scope.IsSystem() {
		return nil
	}
	return d.gate.Authorize(ctx, scope.Actor, ability, subjectType, scope.Org.OrgID)
}

func validateName(name string) error {
	var v apperr.Validator
	v.Required("name", name)
	v.MaxLength("name", name, maxOrganizationName)
	return v.Err()
}
