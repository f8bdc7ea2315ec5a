package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/go-git/go-billy/v5/osfs"
	_ "modernc.org/sqlite"

	"github.com/lox/smosaic/internal/cloudcfg"
	"github.com/lox/smosaic/internal/composite"
	"github.com/lox/smosaic/internal/fetch"
	"github.com/lox/smosaic/internal/log"
	"github.com/lox/smosaic/internal/manifest"
	"github.com/lox/smosaic/internal/metrics"
	"github.com/lox/smosaic/internal/store"
)

type CompositeCmd struct {
	Manifest    string   `help:"Job manifest (YAML)." required:"" type:"existingfile" env:"SMOSAIC_MANIFEST"`
	Band        []string `help:"Bands to composite; all manifest bands when empty." env:"SMOSAIC_BANDS"`
	WorkDir     string   `help:"Directory for intermediate rasters." default:"work" type:"path" env:"SMOSAIC_WORK_DIR"`
	OutputDir   string   `help:"Directory for composites." default:"output" type:"path" env:"SMOSAIC_OUTPUT_DIR"`
	CacheDir    string   `help:"Directory remote rasters are staged into." default:"cache" type:"path" env:"SMOSAIC_CACHE_DIR"`
	Provenance  bool     `help:"Write the day-of-year provenance composite." default:"true" negatable:"" env:"SMOSAIC_PROVENANCE"`
	Cloud       bool     `help:"Write the cloud classification composite." default:"true" negatable:"" env:"SMOSAIC_CLOUD"`
	Fallback    int      `help:"Unmasked observations per scene appended as last-resort candidates." default:"3" env:"SMOSAIC_FALLBACK"`
	Quicklook   bool     `help:"Write a PNG preview next to each composite." env:"SMOSAIC_QUICKLOOK"`
	Store       string   `help:"Raster backend." enum:"tiff,gdal" default:"tiff" env:"SMOSAIC_STORE"`
	DB          string   `help:"SQLite run ledger; disabled when empty." type:"path" env:"SMOSAIC_DB"`
	MetricsFile string   `help:"Write Prometheus metrics here on exit, for the node_exporter textfile collector." type:"path" env:"SMOSAIC_METRICS_FILE"`
}

func (c *CompositeCmd) Run(g *Globals) error {
	registry, err := loadRegistry(g.CloudConfig)
	if err != nil {
		return err
	}

	fs := osfs.New("/")
	rasters, err := newRasterStore(c.Store, fs)
	if err != nil {
		return err
	}

	paths, err := absPaths(c.Manifest, c.WorkDir, c.OutputDir, c.CacheDir)
	if err != nil {
		return err
	}
	manifestPath, workDir, outputDir, cacheDir := paths[0], paths[1], paths[2], paths[3]

	m, err := manifest.Load(fs, manifestPath)
	if err != nil {
		return err
	}

	opts := composite.DefaultOptions()
	opts.Track = composite.Tracking{Provenance: c.Provenance, Cloud: c.Cloud}
	opts.FallbackCount = c.Fallback
	opts.OutputDir = outputDir
	opts.Quicklook = c.Quicklook

	if c.DB != "" {
		st, closeDB, err := openStore(c.DB)
		if err != nil {
			return err
		}
		defer closeDB()
		opts.Recorder = st
	}

	if c.MetricsFile != "" {
		defer func() {
			if err := metrics.WriteTextfile(c.MetricsFile); err != nil {
				log.Warnw("composite: metrics export failed", "error", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bands := c.Band
	if len(bands) == 0 {
		bands = m.BandNames()
	}

	resolver := fetch.NewResolver(fs, cacheDir)
	compositor := composite.NewCompositor(registry, rasters, fs, workDir, opts)
	for _, band := range bands {
		if err := ctx.Err(); err != nil {
			return err
		}
		obs, clouds, err := m.Inputs(ctx, band, resolver)
		if err != nil {
			return fmt.Errorf("band %s: %w", band, err)
		}
		res, err := compositor.Run(composite.Request{
			Collection:   m.Collection,
			Band:         band,
			Window:       m.Window(),
			Observations: obs,
			Clouds:       clouds,
			Scenes:       m.Scenes,
		})
		if err != nil {
			return fmt.Errorf("band %s: %w", band, err)
		}
		for _, sr := range res.Scenes {
			fmt.Printf("%s\t%s\t%.1f%%\t%s\n", band, sr.SceneID, 100*sr.ValidFraction, sr.MergePath)
		}
	}
	return nil
}

func loadRegistry(extra string) (*cloudcfg.Table, error) {
	registry := cloudcfg.Default()
	if extra == "" {
		return registry, nil
	}
	t, err := cloudcfg.LoadFile(extra)
	if err != nil {
		return nil, err
	}
	return registry.Merge(t), nil
}

func openStore(path string) (*store.Store, func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	st := store.New(db)
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return st, func() { db.Close() }, nil
}

// absPaths makes paths absolute so they can be used on a filesystem rooted
// at /.
func absPaths(paths ...string) ([]string, error) {
	out := make([]string, len(paths))
	for i, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", p, err)
		}
		out[i] = abs
	}
	return out, nil
}
