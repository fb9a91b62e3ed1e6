package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// User is a human actor. Users join organizations through memberships.
type User struct {
	UserID uuid.UUID `json:"id"` // UUIDv7
	Name   string    `json:"name"`
	Email  string    `json:"email"` // normalized, unique

	// PasswordHash is an argon2id PHC string, empty for SSO-only users.
	PasswordHash string `json:"-"`

	// Set when the account has been linked to GitHub.
	GitHubLogin *string `json:"github_login,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NormalizeEmail returns the canonical form used for storage and comparison.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
