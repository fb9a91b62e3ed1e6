package notify

import (
	"context"

	"github.com/rs/zerolog/log"
)

// LogSink writes invitations to the log. It stands in for a mail relay in development.
type LogSink struct{}

func (LogSink) Deliver(ctx context.Context, msg *InvitationMessage) error {
	log.Info().
		Str("to", msg.Email).
		Str("organization", msg.OrganizationName).
		Str("role", msg.Role).
		Str("url", msg.AcceptURL).
		Time("expires_at", msg.ExpiresAt).
		Msg("Invitation notification")
	return nil
}
