package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/grc/internal/logger"
	"github.com/wolfeidau/grc/internal/seed"
)

type SeedCmd struct {
	File  string     `arg:"" help:"YAML fixture to load" type:"existingfile"`
	Store StoreFlags `embed:""`
}

func (c *SeedCmd) Run(ctx context.Context, globals *Globals) error {
	log.Logger = logger.Setup(globals.Debug)

	fixture, err := seed.LoadFile(c.File)
	if err != nil {
		return err
	}

	stores, closeStores, err := c.Store.open(ctx)
	if err != nil {
		return err
	}
	defer closeStores()

	deps := newCore(stores)

	seeder, err := seed.New(seed.Config{
		Stores:    stores,
		Directory: deps.directory,
		Gate:      deps.gate,
		Recorder:  deps.recorder,
	})
	if err != nil {
		return err
	}

	if _, err := seeder.Run(ctx, fixture); err != nil {
		return fmt.Errorf("failed to seed %s: %w", c.File, err)
	}

	return nil
}
