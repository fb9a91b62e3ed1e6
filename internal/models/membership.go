package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role is the closed set of organization roles. The zero value is not a valid role.
type Role uint8

const (
	RoleOwner Role = iota + 1
	RoleAdmin
	RoleMember
)

// Roles lists every valid role.
var Roles = []Role{RoleOwner, RoleAdmin, RoleMember}

func (r Role) String() string {
	switch r {
	case RoleOwner:
		return "owner"
	case RoleAdmin:
		return "admin"
	case RoleMember:
		return "member"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// Valid reports whether r is one of the declared roles.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember:
		return true
	default:
		return false
	}
}

// ParseRole converts the wire form of a role.
func ParseRole(s string) (Role, error) {
	for _, r := range Roles {
		if r.String() == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid role %d", uint8(r))
	}
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Membership binds one user to one organization with one role.
// A (user, organization) pair has at most one membership.
type Membership struct {
	MembershipID uuid.UUID `json:"id"`
	OrgID        uuid.UUID `json:"organization_id"`
	UserID       uuid.UUID `json:"user_id"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// MemberDetail is a membership joined with the member's user record.
type MemberDetail struct {
	Membership
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (m *Membership) EntityID() uuid.UUID       { return m.MembershipID }
func (m *Membership) OrganizationID() uuid.UUID { return m.OrgID }
func (m *Membership) SubjectType() string       { return SubjectMembership }

func (m *Membership) Attributes() map[string]any {
	return map[string]any{
		"user_id":    m.UserID.String(),
		"role":       m.Role.String(),
		"updated_at": m.UpdatedAt,
	}
}
