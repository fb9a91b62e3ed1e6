// Package notify delivers outbound notifications outside the request path.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// InvitationMessage asks the recipient to accept an invitation through a signed URL.
type InvitationMessage struct {
	InvitationID     uuid.UUID
	OrgID            uuid.UUID
	OrganizationName string
	Email            string
	Role             string
	InvitedBy        string
	AcceptURL        string
	ExpiresAt        time.Time
}

// Sink delivers a single message. Implementations may be retried and should be idempotent
// with respect to the invitation id.
type Sink interface {
	Deliver(ctx context.Context, msg *InvitationMessage) error
}

// Notifier hands a message off for delivery without waiting for it.
type Notifier interface {
	NotifyInvitation(ctx context.Context, msg *InvitationMessage)
}
