package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/go-git/go-billy/v5/osfs"

	"github.com/lox/smosaic/internal/api"
	"github.com/lox/smosaic/internal/store"
	"github.com/lox/smosaic/internal/temporal"
	"github.com/lox/smosaic/internal/workspace"
)

type CleanupCmd struct {
	Dir  string   `help:"Workspace directory to sweep." required:"" type:"existingdir"`
	Keys []string `arg:"" help:"Date keys (YYYYMMDD) whose files are removed."`
}

func (c *CleanupCmd) Run(g *Globals) error {
	paths, err := absPaths(c.Dir)
	if err != nil {
		return err
	}
	removed, err := workspace.Cleanup(osfs.New("/"), paths[0], c.Keys)
	for _, name := range removed {
		fmt.Println(name)
	}
	return err
}

type CollectionsCmd struct{}

func (c *CollectionsCmd) Run(g *Globals) error {
	registry, err := loadRegistry(g.CloudConfig)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "COLLECTION\tCLOUD BAND\tCLEAR CODES\tNODATA")
	for _, id := range registry.Collections() {
		cfg, err := registry.Lookup(id)
		if err != nil {
			return err
		}
		codes := make([]string, len(cfg.NonCloudValues))
		for i, v := range cfg.NonCloudValues {
			codes[i] = fmt.Sprint(v)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\n", id, cfg.CloudBand, strings.Join(codes, ","), cfg.NoDataValue)
	}
	return w.Flush()
}

type DateCmd struct {
	Identifier string `arg:"" help:"Observation identifier or file name."`
}

func (c *DateCmd) Run(g *Globals) error {
	key, err := temporal.Extract(c.Identifier)
	if err != nil {
		return err
	}
	fmt.Printf("%s\t%d\n", key.Token, key.DayOfYear)
	return nil
}

type RunsCmd struct {
	DB    string `help:"SQLite run ledger." required:"" type:"existingfile" env:"SMOSAIC_DB"`
	Band  string `help:"Only runs of this band."`
	Limit int    `help:"Maximum runs listed." default:"20"`
	Prune int    `help:"Delete runs older than this many days first; 0 keeps everything."`
}

func (c *RunsCmd) Run(g *Globals) error {
	db, err := sql.Open("sqlite", c.DB)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	st := store.New(db)
	if err := st.Migrate(); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if c.Prune > 0 {
		n, err := st.PruneRuns(c.Prune)
		if err != nil {
			return fmt.Errorf("prune runs: %w", err)
		}
		fmt.Fprintf(os.Stderr, "pruned %d runs\n", n)
	}

	runs, err := st.ListRuns(c.Band, c.Limit)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tBAND\tWINDOW\tSTATUS\tSTARTED\tERROR")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s-%s\t%s\t%s\t%s\n", r.ID, r.Band,
			temporal.FormatCompact(r.WindowStart), temporal.FormatCompact(r.WindowEnd),
			r.Status, r.StartedAt.Local().Format(time.DateTime), r.Error)
	}
	return w.Flush()
}

type ServeCmd struct {
	DB   string `help:"SQLite run ledger." required:"" type:"path" env:"SMOSAIC_DB"`
	Addr string `help:"Listen address." default:":8080" env:"SMOSAIC_ADDR"`
}

func (c *ServeCmd) Run(g *Globals) error {
	st, closeDB, err := openStore(c.DB)
	if err != nil {
		return err
	}
	defer closeDB()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return api.NewServer(st, osfs.New("/"), c.Addr).Run(ctx)
}
