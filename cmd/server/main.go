package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/wolfeidau/grc/cmd/server/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Debug   bool             `help:"Enable debug mode." env:"GRC_DEBUG"`
		Version kong.VersionFlag `help:"Print the version and exit."`

		Serve   commands.ServeCmd   `cmd:"" default:"1" help:"Start the API server"`
		Migrate commands.MigrateCmd `cmd:"" help:"Apply database migrations"`
		Seed    commands.SeedCmd    `cmd:"" help:"Load users, organizations and risks from a YAML fixture"`
		Keygen  commands.KeygenCmd  `cmd:"" help:"Generate an ES256 private key for signing access tokens"`
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("grc"),
		kong.Description("Multi-tenant governance, risk and compliance server."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
