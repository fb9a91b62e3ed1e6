// Package memory provides in-memory store implementations for development and tests.
package memory

import (
	"github.com/wolfeidau/grc/internal/models"
	"github.com/wolfeidau/grc/internal/store"
)

// New wires a complete set of in-memory stores. Deleting an organization cascades
// to memberships, invitations, activity and every entity store.
func New() *store.Stores {
	users := NewUserStore()
	memberships := NewMembershipStore(users)
	invitations := NewInvitationStore()
	activity := NewActivityStore()

	frameworks := NewEntityStore[models.Framework]()
	controls := NewEntityStore[models.Control]()
	risks := NewEntityStore[models.Risk]()
	vendors := NewEntityStore[models.Vendor]()
	documents := NewEntityStore[models.Document]()
	people := NewEntityStore[models.Person]()

	orgs := NewOrganizationStore(memberships,
		invitations, activity,
		frameworks, controls, risks, vendors, documents, people,
	)

	return &store.Stores{
		Organizations: orgs,
		Users:         users,
		Memberships:   memberships,
		Invitations:   invitations,
		Activity:      activity,
		Sessions:      NewSessionStore(),
		Entities: store.Entities{
			Frameworks: frameworks,
			Controls:   controls,
			Risks:      risks,
			Vendors:    vendors,
			Documents:  documents,
			People:     people,
		},
	}
}
