package main

import (
	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"

	"github.com/lox/smosaic/internal/log"
)

// Globals are flags shared by every command.
type Globals struct {
	EnvFile     kongdotenv.ENVFileConfig `kong:"optional,name=env-file,default='.env',help='Path to .env file.'"`
	Debug       bool                     `help:"Enable debug logging." env:"SMOSAIC_DEBUG"`
	CloudConfig string                   `help:"YAML file with extra collection cloud configurations." env:"SMOSAIC_CLOUD_CONFIG" type:"path"`
}

type CLI struct {
	Globals

	Composite   CompositeCmd   `cmd:"" help:"Build cloud-masked temporal composites from a manifest."`
	Cleanup     CleanupCmd     `cmd:"" help:"Remove intermediate rasters carrying the given date keys."`
	Collections CollectionsCmd `cmd:"" help:"List collections with a cloud configuration."`
	Date        DateCmd        `cmd:"" help:"Print the acquisition date token and day of year of an identifier."`
	Runs        RunsCmd        `cmd:"" help:"List recent compositing runs from the ledger."`
	Serve       ServeCmd       `cmd:"" help:"Serve the run ledger, quicklooks and metrics over HTTP."`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("smosaic"),
		kong.Description("Temporal cloud-free compositing of satellite observations."),
		kong.UsageOnError(),
	)

	if err := log.Init(cli.Debug); err != nil {
		ctx.FatalIfErrorf(err)
	}
	defer log.Sync()

	ctx.FatalIfErrorf(ctx.Run(&cli.Globals))
}
