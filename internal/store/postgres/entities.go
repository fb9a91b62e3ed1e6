package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wolfeidau/grc/internal/models"
	"github.com/wolfeidau/grc/internal/store"
)

var frameworksTable = Table[models.Framework, *models.Framework]{
	Name:    "frameworks",
	Columns: []string{"name", "version", "description"},
	Values: func(f *models.Framework) []any {
		return []any{f.Name, f.Version, f.Description}
	},
	Targets: func(f *models.Framework) []any {
		return []any{&f.Name, &f.Version, &f.Description}
	},
}

var controlsTable = Table[models.Control, *models.Control]{
	Name:    "controls",
	Columns: []string{"framework_id", "reference", "name", "description", "status"},
	Values: func(c *models.Control) []any {
		return []any{c.FrameworkID, c.Reference, c.Name, c.Description, string(c.Status)}
	},
	Targets: func(c *models.Control) []any {
		return []any{&c.FrameworkID, &c.Reference, &c.Name, &c.Description, &c.Status}
	},
}

var risksTable = Table[models.Risk, *models.Risk]{
	Name:    "risks",
	Columns: []string{"name", "description", "category", "likelihood", "impact", "treatment"},
	Values: func(r *models.Risk) []any {
		return []any{r.Name, r.Description, r.Category, r.Likelihood, r.Impact, r.Treatment}
	},
	Targets: func(r *models.Risk) []any {
		return []any{&r.Name, &r.Description, &r.Category, &r.Likelihood, &r.Impact, &r.Treatment}
	},
}

var vendorsTable = Table[models.Vendor, *models.Vendor]{
	Name:    "vendors",
	Columns: []string{"name", "website", "criticality"},
	Values: func(v *models.Vendor) []any {
		return []any{v.Name, v.Website, v.Criticality}
	},
	Targets: func(v *models.Vendor) []any {
		return []any{&v.Name, &v.Website, &v.Criticality}
	},
}

var documentsTable = Table[models.Document, *models.Document]{
	Name:    "documents",
	Columns: []string{"title", "kind", "version"},
	Values: func(d *models.Document) []any {
		return []any{d.Title, d.Kind, d.Version}
	},
	Targets: func(d *models.Document) []any {
		return []any{&d.Title, &d.Kind, &d.Version}
	},
}

var peopleTable = Table[models.Person, *models.Person]{
	Name:    "people",
	Columns: []string{"full_name", "email", "position"},
	Values: func(p *models.Person) []any {
		return []any{p.FullName, p.Email, p.Position}
	},
	Targets: func(p *models.Person) []any {
		return []any{&p.FullName, &p.Email, &p.Position}
	},
}

// NewStores wires every PostgreSQL store onto a shared pool.
func NewStores(pool *pgxpool.Pool) *store.Stores {
	return &store.Stores{
		Organizations: NewOrganizationStore(pool),
		Users:         NewUserStore(pool),
		Memberships:   NewMembershipStore(pool),
		Invitations:   NewInvitationStore(pool),
		Activity:      NewActivityStore(pool),
		Sessions:      NewSessionStore(pool),
		Entities: store.Entities{
			Frameworks: NewEntityStore(pool, frameworksTable),
			Controls:   NewEntityStore(pool, controlsTable),
			Risks:      NewEntityStore(pool, risksTable),
			Vendors:    NewEntityStore(pool, vendorsTable),
			Documents:  NewEntityStore(pool, documentsTable),
			People:     NewEntityStore(pool, peopleTable),
		},
	}
}
