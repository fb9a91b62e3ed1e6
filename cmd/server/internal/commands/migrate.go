package commands

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/grc/internal/logger"
	postgresstore "github.com/wolfeidau/grc/internal/store/postgres"
)

type MigrateCmd struct {
	Postgres PostgresFlags `embed:"" prefix:"postgres-"`
}

func (c *MigrateCmd) Run(ctx context.Context, globals *Globals) error {
	log.Logger = logger.Setup(globals.Debug)

	pool, err := c.Postgres.pool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := postgresstore.Migrate(ctx, pool); err != nil {
		return err
	}

	versions, err := postgresstore.AppliedVersions(ctx, pool)
	if err != nil {
		return err
	}
	log.Info().Ints("versions", versions).Msg("Database is up to date")

	return nil
}
