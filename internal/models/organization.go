package models

import (
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// MaxSlugLength bounds generated slugs.
const MaxSlugLength = 64

// Organization is the root of the tenancy tree. Every tenant-owned row references one.
type Organization struct {
	OrgID     uuid.UUID `json:"id"` // UUIDv7
	Name      string    `json:"name"`
	Slug      string    `json:"slug"` // unique, URL safe, fixed at creation
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Slugify derives a URL-safe slug from an organization name.
func Slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}

	slug := strings.Trim(b.String(), "-")
	if len(slug) > MaxSlugLength {
		slug = strings.TrimRight(slug[:MaxSlugLength], "-")
	}
	if slug == "" {
		return "org"
	}
	return slug
}

func (o *Organization) EntityID() uuid.UUID { return o.OrgID }

// OrganizationID returns the organization's own id: its events land in its own activity log.
func (o *Organization) OrganizationID() uuid.UUID { return o.OrgID }

func (o *Organization) SubjectType() string { return SubjectOrganization }

func (o *Organization) Attributes() map[string]any {
	return map[string]any{
		"name":       o.Name,
		"slug":       o.Slug,
		"updated_at": o.UpdatedAt,
	}
}
