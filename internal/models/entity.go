package models

import (
	"time"

	"github.com/google/uuid"
)

// Subject type tags recorded in the activity log.
const (
	SubjectOrganization = "organization"
	SubjectMembership   = "membership"
	SubjectInvitation   = "invitation"
	SubjectFramework    = "framework"
	SubjectControl      = "control"
	SubjectRisk         = "risk"
	SubjectVendor       = "vendor"
	SubjectDocument     = "document"
	SubjectPerson       = "person"
)

// Base holds the columns shared by every tenant-owned entity.
// OrgID is assigned once at creation and never reassigned.
type Base struct {
	ID        uuid.UUID `json:"id"`
	OrgID     uuid.UUID `json:"organization_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (b *Base) EntityID() uuid.UUID       { return b.ID }
func (b *Base) SetEntityID(id uuid.UUID)  { b.ID = id }
func (b *Base) OrganizationID() uuid.UUID { return b.OrgID }

// AssignOrganization sets the owning organization unless one is already set.
func (b *Base) AssignOrganization(orgID uuid.UUID) {
	if b.OrgID == uuid.Nil {
		b.OrgID = orgID
	}
}

// Touch stamps the bookkeeping timestamps.
func (b *Base) Touch(now time.Time) {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
}

// Restore copies the immutable columns from a persisted row.
func (b *Base) Restore(from *Base) {
	b.ID = from.ID
	b.OrgID = from.OrgID
	b.CreatedAt = from.CreatedAt
}

// Record returns the shared columns of the entity.
func (b *Base) Record() *Base { return b }

func uuidAttr(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}
