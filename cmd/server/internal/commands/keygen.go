package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/grc/internal/auth"
	"github.com/wolfeidau/grc/internal/logger"
)

type KeygenCmd struct {
	Out string `help:"write the key to this file instead of stdout" short:"o" type:"path"`
}

func (c *KeygenCmd) Run(ctx context.Context, globals *Globals) error {
	log.Logger = logger.Setup(globals.Debug)

	pemBytes, err := auth.GeneratePrivateKeyPEM()
	if err != nil {
		return err
	}

	keys, err := auth.LoadKeyManager(pemBytes)
	if err != nil {
		return err
	}

	if c.Out == "" {
		_, err = os.Stdout.Write(pemBytes)
		return err
	}

	if err := os.WriteFile(c.Out, pemBytes, 0o600); err != nil {
		return fmt.Errorf("failed to write key: %w", err)
	}
	log.Info().Str("path", c.Out).Str("kid", keys.Kid()).Msg("Wrote signing key")

	return nil
}
