package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/grc/internal/audit"
	"github.com/wolfeidau/grc/internal/auth"
	"github.com/wolfeidau/grc/internal/directory"
	"github.com/wolfeidau/grc/internal/store"
	memorystore "github.com/wolfeidau/grc/internal/store/memory"
	postgresstore "github.com/wolfeidau/grc/internal/store/postgres"
)

// StoreFlags selects and configures the backing store.
type StoreFlags struct {
	StoreType string        `help:"store type (memory or postgres)" default:"memory" env:"GRC_STORE_TYPE" enum:"memory,postgres"`
	Postgres  PostgresFlags `embed:"" prefix:"postgres-"`
}

type PostgresFlags struct {
	ConnString string `help:"PostgreSQL connection string" env:"GRC_POSTGRES_CONNECTION_STRING"`

	// Connection Pool Configuration
	MaxConns         int32 `help:"maximum number of connections in pool" default:"20" env:"GRC_POSTGRES_MAX_CONNS"`
	MinConns         int32 `help:"minimum number of connections in pool" default:"5" env:"GRC_POSTGRES_MIN_CONNS"`
	MaxConnLifetime  int32 `help:"maximum connection lifetime in seconds" default:"3600"`
	MaxConnIdleTime  int32 `help:"maximum connection idle time in seconds" default:"1800"`
	StatementTimeout int32 `help:"statement timeout in seconds, negative disables it" default:"30" env:"GRC_POSTGRES_STATEMENT_TIMEOUT"`

	AutoMigrate bool `help:"run database migrations on startup" default:"false" env:"GRC_POSTGRES_AUTO_MIGRATE"`
}

func (p *PostgresFlags) validate() error {
	if p.ConnString == "" {
		return errors.New("PostgreSQL connection string is required (--postgres-conn-string or GRC_POSTGRES_CONNECTION_STRING)")
	}
	return nil
}

func (p *PostgresFlags) pool(ctx context.Context) (*pgxpool.Pool, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	pool, err := postgresstore.NewPool(ctx, &postgresstore.PoolConfig{
		ConnString:       p.ConnString,
		MaxConns:         p.MaxConns,
		MinConns:         p.MinConns,
		MaxConnLifetime:  p.MaxConnLifetime,
		MaxConnIdleTime:  p.MaxConnIdleTime,
		StatementTimeout: p.StatementTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return pool, nil
}

// open returns the configured stores and a function releasing them.
func (s *StoreFlags) open(ctx context.Context) (*store.Stores, func(), error) {
	switch s.StoreType {
	case "postgres":
		pool, err := s.Postgres.pool(ctx)
		if err != nil {
			return nil, nil, err
		}

		if s.Postgres.AutoMigrate {
			if err := postgresstore.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info().Msg("Database migrations completed")
		}

		log.Info().Msg("Using PostgreSQL stores with shared connection pool")
		return postgresstore.NewStores(pool), pool.Close, nil

	default:
		log.Info().Msg("Using in-memory stores")
		return memorystore.New(), func() {}, nil
	}
}

// core holds the services shared by every command that writes to the store.
type core struct {
	stores    *store.Stores
	gate      *auth.Gate
	recorder  *audit.Recorder
	directory *directory.Directory
}

func newCore(stores *store.Stores) *core {
	gate := auth.NewGate(stores.Memberships)
	recorder := audit.NewRecorder(stores.Activity)
	return &core{
		stores:    stores,
		gate:      gate,
		recorder:  recorder,
		directory: directory.New(stores.Organizations, stores.Memberships, gate, recorder),
	}
}
