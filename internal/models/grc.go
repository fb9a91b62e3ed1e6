package models

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/wolfeidau/grc/internal/apperr"
)

// Framework is a compliance framework adopted by an organization, e.g. ISO 27001.
type Framework struct {
	Base
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`
}

func (f *Framework) SubjectType() string { return SubjectFramework }

func (f *Framework) Attributes() map[string]any {
	return map[string]any{
		"name":        f.Name,
		"version":     f.Version,
		"description": f.Description,
		"updated_at":  f.UpdatedAt,
	}
}

func (f *Framework) Validate() error {
	var v apperr.Validator
	v.Required("name", f.Name)
	v.MaxLength("name", f.Name, 255)
	v.MaxLength("version", f.Version, 64)
	return v.Err()
}

// ControlStatus tracks implementation progress of a control.
type ControlStatus string

const (
	ControlNotStarted  ControlStatus = "not_started"
	ControlInProgress  ControlStatus = "in_progress"
	ControlImplemented ControlStatus = "implemented"
	ControlExcluded    ControlStatus = "excluded"
)

// Control is a requirement of a framework.
type Control struct {
	Base
	FrameworkID *uuid.UUID    `json:"framework_id,omitempty"`
	Reference   string        `json:"reference"` // e.g. "A.5.1"
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Status      ControlStatus `json:"status"`
}

func (c *Control) SubjectType() string { return SubjectControl }

// Clone returns a copy that shares no pointers with c.
func (c *Control) Clone() *Control {
	out := *c
	if c.FrameworkID != nil {
		id := *c.FrameworkID
		out.FrameworkID = &id
	}
	return &out
}

func (c *Control) Attributes() map[string]any {
	return map[string]any{
		"framework_id": uuidAttr(c.FrameworkID),
		"reference":    c.Reference,
		"name":         c.Name,
		"description":  c.Description,
		"status":       string(c.Status),
		"updated_at":   c.UpdatedAt,
	}
}

func (c *Control) Validate() error {
	if c.Status == "" {
		c.Status = ControlNotStarted
	}
	var v apperr.Validator
	v.Required("name", c.Name)
	v.MaxLength("name", c.Name, 255)
	v.MaxLength("reference", c.Reference, 64)
	switch c.Status {
	case ControlNotStarted, ControlInProgress, ControlImplemented, ControlExcluded:
	default:
		v.Check(false, "status", fmt.Sprintf("unknown status %q", c.Status))
	}
	return v.Err()
}

// Risk is an entry in the organization's risk register.
type Risk struct {
	Base
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Likelihood  int    `json:"likelihood"` // 1..5
	Impact      int    `json:"impact"`     // 1..5
	Treatment   string `json:"treatment"`
}

// Score is the inherent risk score.
func (r *Risk) Score() int { return r.Likelihood * r.Impact }

func (r *Risk) SubjectType() string { return SubjectRisk }

func (r *Risk) Attributes() map[string]any {
	return map[string]any{
		"name":        r.Name,
		"description": r.Description,
		"category":    r.Category,
		"likelihood":  r.Likelihood,
		"impact":      r.Impact,
		"treatment":   r.Treatment,
		"updated_at":  r.UpdatedAt,
	}
}

func (r *Risk) Validate() error {
	var v apperr.Validator
	v.Required("name", r.Name)
	v.MaxLength("name", r.Name, 255)
	v.Check(r.Likelihood >= 1 && r.Likelihood <= 5, "likelihood", "must be between 1 and 5")
	v.Check(r.Impact >= 1 && r.Impact <= 5, "impact", "must be between 1 and 5")
	return v.Err()
}

// Vendor is a third party the organization depends on.
type Vendor struct {
	Base
	Name        string `json:"name"`
	Website     string `json:"website"`
	Criticality string `json:"criticality"`
}

func (v *Vendor) SubjectType() string { return SubjectVendor }

func (v *Vendor) Attributes() map[string]any {
	return map[string]any{
		"name":        v.Name,
		"website":     v.Website,
		"criticality": v.Criticality,
		"updated_at":  v.UpdatedAt,
	}
}

func (v *Vendor) Validate() error {
	var val apperr.Validator
	val.Required("name", v.Name)
	val.MaxLength("name", v.Name, 255)
	switch v.Criticality {
	case "", "low", "medium", "high":
	default:
		val.Check(false, "criticality", "must be low, medium or high")
	}
	return val.Err()
}

// Document is a policy or procedure. Documents have a title rather than a name.
type Document struct {
	Base
	Title   string `json:"title"`
	Kind    string `json:"kind"`
	Version string `json:"version"`
}

func (d *Document) SubjectType() string { return SubjectDocument }

func (d *Document) Attributes() map[string]any {
	return map[string]any{
		"title":      d.Title,
		"kind":       d.Kind,
		"version":    d.Version,
		"updated_at": d.UpdatedAt,
	}
}

func (d *Document) Validate() error {
	var v apperr.Validator
	v.Required("title", d.Title)
	v.MaxLength("title", d.Title, 255)
	return v.Err()
}

// Person is someone referenced by the compliance program, not necessarily a user.
type Person struct {
	Base
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Position string `json:"position"`
}

func (p *Person) SubjectType() string { return SubjectPerson }

func (p *Person) Attributes() map[string]any {
	return map[string]any{
		"full_name":  p.FullName,
		"email":      p.Email,
		"position":   p.Position,
		"updated_at": p.UpdatedAt,
	}
}

func (p *Person) Validate() error {
	var v apperr.Validator
	v.MaxLength("full_name", p.FullName, 255)
	v.MaxLength("email", p.Email, 255)
	return v.Err()
}
