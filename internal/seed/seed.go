// Package seed loads YAML fixtures into a store. Seeding runs in a system scope: every write
// names its organization explicitly and is recorded in the activity log without a user.
package seed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/grc/internal/apperr"
	"github.com/wolfeidau/grc/internal/audit"
	"github.com/wolfeidau/grc/internal/auth"
	"github.com/wolfeidau/grc/internal/directory"
	"github.com/wolfeidau/grc/internal/models"
	"github.com/wolfeidau/grc/internal/store"
	"github.com/wolfeidau/grc/internal/tenancy"
	"gopkg.in/yaml.v3"
)

// Fixture is the document format of a seed file.
//
//	users:
//	  - name: Alice
//	    email: alice@example.com
//	    password: correct horse battery
//	organizations:
//	  - name: Acme
//	    owner: alice@example.com
//	    members:
//	      - email: bob@example.com
//	        role: admin
//	    risks:
//	      - name: Phishing
//	        likelihood: 4
//	        impact: 3
type Fixture struct {
	Users         []User         `yaml:"users"`
	Organizations []Organization `yaml:"organizations"`
}

type User struct {
	Name     string `yaml:"name"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"` // optional, SSO-only users have none
}

type Organization struct {
	Name    string   `yaml:"name"`
	Owner   string   `yaml:"owner"` // email of a fixture or existing user
	Members []Member `yaml:"members"`
	Risks   []Risk   `yaml:"risks"`
}

type Member struct {
	Email string      `yaml:"email"`
	Role  models.Role `yaml:"role"`
}

type Risk struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Category    string `yaml:"category"`
	Likelihood  int    `yaml:"likelihood"`
	Impact      int    `yaml:"impact"`
	Treatment   string `yaml:"treatment"`
}

// Load parses a fixture. Unknown keys are rejected.
func Load(r io.Reader) (*Fixture, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var fixture Fixture
	if err := dec.Decode(&fixture); err != nil {
		if errors.Is(err, io.EOF) {
			return &fixture, nil
		}
		return nil, fmt.Errorf("failed to parse fixture: %w", err)
	}
	return &fixture, nil
}

// LoadFile parses the fixture at path.
func LoadFile(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}
	return Load(bytes.NewReader(data))
}

// Config holds the dependencies of a Seeder.
type Config struct {
	Stores    *store.Stores
	Directory *directory.Directory
	Gate      *auth.Gate
	Recorder  *audit.Recorder
}

// Result counts what a run wrote. Existing users and organizations are reused, not counted.
type Result struct {
	Users         int
	Organizations int
	Memberships   int
	Risks         int
}

// Seeder applies fixtures.
type Seeder struct {
	users store.UserStore
	dir   *directory.Directory
	risks *tenancy.Repository[models.Risk, *models.Risk]
}

// New creates a Seeder.
func New(cfg Config) (*Seeder, error) {
	if cfg.Stores == nil {
		return nil, fmt.Errorf("stores are required")
	}
	if cfg.Directory == nil {
		return nil, fmt.Errorf("directory is required")
	}

	return &Seeder{
		users: cfg.Stores.Users,
		dir:   cfg.Directory,
		risks: tenancy.NewRepository(cfg.Stores.Entities.Risks, cfg.Gate, cfg.Recorder),
	}, nil
}

// Run applies fixture. It can be rerun: users are matched by email and organizations by the
// slug their name derives to, and risks are only added to organizations created by this run.
func (s *Seeder) Run(ctx context.Context, fixture *Fixture) (*Result, error) {
	res := &Result{}

	for _, u := range fixture.Users {
		created, err := s.ensureUser(ctx, u)
		if err != nil {
			return res, fmt.Errorf("user %q: %w", u.Email, err)
		}
		if created {
			res.Users++
		}
	}

	for _, o := range fixture.Organizations {
		if err := s.seedOrganization(ctx, o, res); err != nil {
			return res, fmt.Errorf("organization %q: %w", o.Name, err)
		}
	}

	log.Info().
		Int("users", res.Users).
		Int("organizations", res.Organizations).
		Int("memberships", res.Memberships).
		Int("risks", res.Risks).
		Msg("Seed complete")

	return res, nil
}

func (s *Seeder) ensureUser(ctx context.Context, u User) (bool, error) {
	email := models.NormalizeEmail(u.Email)

	_, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, store.ErrUserNotFound):
		return false, fmt.Errorf("failed to get user: %w", err)
	}

	userID, err := uuid.NewV7()
	if err != nil {
		return false, fmt.Errorf("failed to generate user ID: %w", err)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	user := &models.User{
		UserID:    userID,
		Name:      u.Name,
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	}
	var v apperr.Validator
	v.Required("name", user.Name)
	v.MaxLength("name", user.Name, 255)
	v.Required("email", user.Email)
	if err := v.Err(); err != nil {
		return false, err
	}

	if u.Password != "" {
		if len(u.Password) < auth.MinPasswordLength {
			return false, apperr.Invalid("password", fmt.Sprintf("must be at least %d characters", auth.MinPasswordLength))
		}
		hash, err := auth.HashPassword(u.Password)
		if err != nil {
			return false, fmt.Errorf("failed to hash password: %w", err)
		}
		user.PasswordHash = hash
	}

	if err := s.users.Create(ctx, user); err != nil {
		return false, fmt.Errorf("failed to create user: %w", err)
	}

	log.Debug().Str("user_id", userID.String()).Str("email", email).Msg("Seeded user")

	return true, nil
}

func (s *Seeder) seedOrganization(ctx context.Context, o Organization, res *Result) error {
	owner, err := s.user(ctx, o.Owner)
	if err != nil {
		return fmt.Errorf("owner: %w", err)
	}

	org, err := s.dir.Organization(ctx, models.Slugify(o.Name))
	created := false
	switch {
	case err == nil:
	case errors.Is(err, apperr.ErrNotFound):
		org, err = s.dir.CreateOrganization(ctx, tenancy.System(nil), owner.UserID, o.Name)
		if err != nil {
			return err
		}
		created = true
		res.Organizations++
		res.Memberships++
	default:
		return err
	}

	for _, m := range o.Members {
		user, err := s.user(ctx, m.Email)
		if err != nil {
			return fmt.Errorf("member: %w", err)
		}
		_, joined, err := s.dir.EnsureMembership(ctx, nil, org.OrgID, user.UserID, m.Role)
		if err != nil {
			return fmt.Errorf("member %q: %w", m.Email, err)
		}
		if joined {
			res.Memberships++
		}
	}

	if !created {
		return nil
	}

	for _, r := range o.Risks {
		risk := &models.Risk{
			Base:        models.Base{OrgID: org.OrgID},
			Name:        r.Name,
			Description: r.Description,
			Category:    r.Category,
			Likelihood:  r.Likelihood,
			Impact:      r.Impact,
			Treatment:   r.Treatment,
		}
		if err := s.risks.Create(ctx, tenancy.System(nil), risk); err != nil {
			return fmt.Errorf("risk %q: %w", r.Name, err)
		}
		res.Risks++
	}

	return nil
}

func (s *Seeder) user(ctx context.Context, email string) (*models.User, error) {
	user, err := s.users.GetByEmail(ctx, models.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, fmt.Errorf("%w: user %q", apperr.ErrNotFound, email)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}
