// Package tenancy scopes tenant-owned entities to their organization.
package tenancy

import (
	"github.com/google/uuid"
	"github.com/wolfeidau/grc/internal/models"
)

// Scope is the explicit request context carried into every tenant-scoped call:
// the organization resolved from the route and the acting user.
type Scope struct {
	Org    *models.Organization
	Actor  *uuid.UUID
	system bool
}

// ForActor returns an interactive scope. Authorization is enforced for every operation.
func ForActor(org *models.Organization, actor uuid.UUID) Scope {
	return Scope{Org: org, Actor: &actor}
}

// System returns a scope for seeders and background jobs. It has no actor, skips policy
// checks and is recorded in the activity log with a null user. org may be nil when every
// entity names its organization explicitly.
func System(org *models.Organization) Scope {
	return Scope{Org: org, system: true}
}

// IsSystem reports whether the scope bypasses authorization.
func (s Scope) IsSystem() bool { return s.system }

// OrgID returns the scope organization id, or uuid.Nil.
func (s Scope) OrgID() uuid.UUID {
	if s.Org == nil {
		return uuid.Nil
	}
	return s.Org.OrgID
}
