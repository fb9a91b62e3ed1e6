package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/wolfeidau/grc/internal/audit"
	httpmiddleware "github.com/wolfeidau/grc/internal/http"
	"github.com/wolfeidau/grc/internal/models"
	"github.com/wolfeidau/grc/internal/store"
	"github.com/wolfeidau/grc/internal/tenancy"
)

// entityRepositories holds one scoped repository per tenant-owned entity kind.
type entityRepositories struct {
	frameworks *tenancy.Repository[models.Framework, *models.Framework]
	controls   *tenancy.Repository[models.Control, *models.Control]
	risks      *tenancy.Repository[models.Risk, *models.Risk]
	vendors    *tenancy.Repository[models.Vendor, *models.Vendor]
	documents  *tenancy.Repository[models.Document, *models.Document]
	people     *tenancy.Repository[models.Person, *models.Person]
}

func newEntityRepositories(entities store.Entities, authz tenancy.Authorizer, recorder *audit.Recorder) *entityRepositories {
	return &entityRepositories{
		frameworks: tenancy.NewRepository(entities.Frameworks, authz, recorder),
		controls: tenancy.NewRepository(entities.Controls, authz, recorder).References(
			tenancy.Ref("framework_id", entities.Frameworks, func(c *models.Control) *uuid.UUID { return c.FrameworkID }),
		),
		risks:      tenancy.NewRepository(entities.Risks, authz, recorder),
		vendors:    tenancy.NewRepository(entities.Vendors, authz, recorder),
		documents:  tenancy.NewRepository(entities.Documents, authz, recorder),
		people:     tenancy.NewRepository(entities.People, authz, recorder),
	}
}

func (e *entityRepositories) mount(r chi.Router) {
	r.Route("/frameworks", resource(e.frameworks).routes)
	r.Route("/controls", resource(e.controls).routes)
	r.Route("/risks", resource(e.risks).routes)
	r.Route("/vendors", resource(e.vendors).routes)
	r.Route("/documents", resource(e.documents).routes)
	r.Route("/people", resource(e.people).routes)
}

// entityResource serves the CRUD routes of one entity kind.
type entityResource[E any, P tenancy.Entity[E]] struct {
	repo *tenancy.Repository[E, P]
}

func resource[E any, P tenancy.Entity[E]](repo *tenancy.Repository[E, P]) *entityResource[E, P] {
	return &entityResource[E, P]{repo: repo}
}

func (res *entityResource[E, P]) routes(r chi.Router) {
	r.Get("/", res.list)
	r.Post("/", res.create)
	r.Get("/{id}", res.get)
	r.Patch("/{id}", res.update)
	r.Delete("/{id}", res.delete)
}

func (res *entityResource[E, P]) list(w http.ResponseWriter, r *http.Request) {
	entities, err := res.repo.List(r.Context(), scope(r))
	if err != nil {
		httpmiddleware.WriteError(w, r, err)
		return
	}
	if entities == nil {
		entities = []P{}
	}
	httpmiddleware.WriteJSON(w, r, http.StatusOK, entities)
}

func (res *entityResource[E, P]) create(w http.ResponseWriter, r *http.Request) {
	entity := P(new(E))
	if err := httpmiddleware.DecodeJSON(w, r, entity); err != nil {
		httpmiddleware.WriteError(w, r, err)
		return
	}

	if err := res.repo.Create(r.Context(), scope(r), entity); err != nil {
		httpmiddleware.WriteError(w, r, err)
		return
	}

	httpmiddleware.WriteJSON(w, r, http.StatusCreated, entity)
}

func (res *entityResource[E, P]) get(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		httpmiddleware.WriteError(w, r, err)
		return
	}

	entity, err := res.repo.Get(r.Context(), scope(r), id)
	if err != nil {
		httpmiddleware.WriteError(w, r, err)
		return
	}

	httpmiddleware.WriteJSON(w, r, http.StatusOK, entity)
}

// update applies the JSON body over the stored entity, so absent fields keep their values.
func (res *entityResource[E, P]) update(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		httpmiddleware.WriteError(w, r, err)
		return
	}

	body, err := httpmiddleware.ReadBody(w, r)
	if err != nil {
		httpmiddleware.WriteError(w, r, err)
		return
	}

	entity, err := res.repo.Update(r.Context(), scope(r), id, func(entity P) error {
		return httpmiddleware.Unmarshal(body, entity)
	})
	if err != nil {
		httpmiddleware.WriteError(w, r, err)
		return
	}

	httpmiddleware.WriteJSON(w, r, http.StatusOK, entity)
}

func (res *entityResource[E, P]) delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		httpmiddleware.WriteError(w, r, err)
		return
	}

	if err := res.repo.Delete(r.Context(), scope(r), id); err != nil {
		httpmiddleware.WriteError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
