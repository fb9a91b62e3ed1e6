// Package directory manages organizations and the memberships that grant access to them.
package directory

import (
	"time"

	"github.com/wolfeidau/grc/internal/audit"
	"github.com/wolfeidau/grc/internal/auth"
	"github.com/wolfeidau/grc/internal/store"
)

// maxSlugAttempts bounds the numeric suffixes tried when a slug is taken.
const maxSlugAttempts = 50

// Directory is the organization directory and membership registry.
type Directory struct {
	orgs        store.OrganizationStore
	memberships store.MembershipStore
	gate        *auth.Gate
	recorder    *audit.Recorder
	now         func() time.Time
}

// Option configures a Directory.
type Option func(*Directory)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(d *Directory) { d.now = now }
}

// New creates a Directory.
func New(orgs store.OrganizationStore, memberships store.MembershipStore, gate *auth.Gate, recorder *audit.Recorder, opts ...Option) *Directory {
	d := &Directory{
		orgs:        orgs,
		memberships: memberships,
		gate:        gate,
		recorder:    recorder,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Directory) timestamp() time.Time {
	return d.now().UTC().Truncate(time.Microsecond)
}
