package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InvitationTTL is how long an invitation can be accepted after it was issued.
const InvitationTTL = 7 * 24 * time.Hour

// InvitationState is derived from the expiry and acceptance timestamps, it is never stored.
type InvitationState uint8

const (
	InvitationPending InvitationState = iota + 1
	InvitationExpired
	InvitationAccepted
)

func (s InvitationState) String() string {
	switch s {
	case InvitationPending:
		return "pending"
	case InvitationExpired:
		return "expired"
	case InvitationAccepted:
		return "accepted"
	default:
		return fmt.Sprintf("invitation_state(%d)", uint8(s))
	}
}

func (s InvitationState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Invitation offers membership of an organization to an email address.
type Invitation struct {
	InvitationID uuid.UUID  `json:"id"`
	OrgID        uuid.UUID  `json:"organization_id"`
	Email        string     `json:"email"`
	Role         Role       `json:"role"`
	Token        string     `json:"-"` // opaque lookup key, only ever shown inside the signed URL
	InvitedBy    uuid.UUID  `json:"invited_by"`
	ExpiresAt    time.Time  `json:"expires_at"`
	AcceptedAt   *time.Time `json:"accepted_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// State returns the lifecycle state at the given time. Acceptance wins over expiry.
func (i *Invitation) State(now time.Time) InvitationState {
	switch {
	case i.AcceptedAt != nil:
		return InvitationAccepted
	case now.After(i.ExpiresAt):
		return InvitationExpired
	default:
		return InvitationPending
	}
}

func (i *Invitation) EntityID() uuid.UUID       { return i.InvitationID }
func (i *Invitation) OrganizationID() uuid.UUID { return i.OrgID }
func (i *Invitation) SubjectType() string       { return SubjectInvitation }

func (i *Invitation) Attributes() map[string]any {
	attrs := map[string]any{
		"email":      i.Email,
		"role":       i.Role.String(),
		"invited_by": i.InvitedBy.String(),
		"expires_at": i.ExpiresAt.UTC().Format(time.RFC3339),
	}
	if i.AcceptedAt != nil {
		attrs["accepted_at"] = i.AcceptedAt.UTC().Format(time.RFC3339)
	} else {
		attrs["accepted_at"] = nil
	}
	return attrs
}
