// Package manifest reads the YAML document describing one compositing job:
// the collection, the time window and the priority-ordered observations of
// every band.
package manifest

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"gopkg.in/yaml.v3"

	"github.com/lox/smosaic/internal/models"
	"github.com/lox/smosaic/internal/temporal"
)

// Entry is one observation and its cloud classification. File and Cloud
// are local paths, relative to the manifest, or remote references.
type Entry struct {
	Scene    string `yaml:"scene"`
	File     string `yaml:"file"`
	Cloud    string `yaml:"cloud"`
	Baseline int    `yaml:"baseline,omitempty"`
}

// Manifest is a parsed job description. Entries of a band are in priority
// order.
type Manifest struct {
	Collection string             `yaml:"collection"`
	Start      string             `yaml:"start"`
	End        string             `yaml:"end"`
	Scenes     []string           `yaml:"scenes,omitempty"`
	Bands      map[string][]Entry `yaml:"bands"`

	dir    string
	window models.Window
}

// Resolver turns a file reference into a readable local path.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// Parse decodes and validates a manifest. Relative file references are
// taken relative to dir.
func Parse(data []byte, dir string) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	m.dir = dir
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Load reads the manifest at p from fs.
func Load(fs billy.Filesystem, p string) (*Manifest, error) {
	f, err := fs.Open(p)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", p, err)
	}
	return Parse(data, path.Dir(p))
}

func (m *Manifest) validate() error {
	if m.Collection == "" {
		return fmt.Errorf("manifest: collection is required")
	}
	start, err := parseDate(m.Start)
	if err != nil {
		return fmt.Errorf("manifest: start: %w", err)
	}
	end, err := parseDate(m.End)
	if err != nil {
		return fmt.Errorf("manifest: end: %w", err)
	}
	if end.Before(start) {
		return fmt.Errorf("manifest: end %s is before start %s", m.End, m.Start)
	}
	m.window = models.Window{Start: start, End: end}

	if len(m.Bands) == 0 {
		return fmt.Errorf("manifest: no bands")
	}
	for band, entries := range m.Bands {
		if band == "" {
			return fmt.Errorf("manifest: empty band name")
		}
		for i, e := range entries {
			switch {
			case e.Scene == "":
				return fmt.Errorf("manifest: band %s entry %d: scene is required", band, i)
			case e.File == "":
				return fmt.Errorf("manifest: band %s entry %d: file is required", band, i)
			case e.Cloud == "":
				return fmt.Errorf("manifest: band %s entry %d: cloud is required", band, i)
			}
		}
	}
	return nil
}

// parseDate accepts 2006-01-02 and the compact 20060102 form.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return temporal.ParseCompact(s)
}

// Window is the validated time window.
func (m *Manifest) Window() models.Window { return m.window }

// BandNames lists the bands in lexical order.
func (m *Manifest) BandNames() []string {
	names := make([]string, 0, len(m.Bands))
	for b := range m.Bands {
		names = append(names, b)
	}
	sort.Strings(names)
	return names
}

// Inputs builds the observation and classification records of one band,
// resolving every reference through r. Acquisition dates come from the
// observation file names.
func (m *Manifest) Inputs(ctx context.Context, band string, r Resolver) ([]models.Observation, []models.CloudClassification, error) {
	entries, ok := m.Bands[band]
	if !ok {
		return nil, nil, fmt.Errorf("manifest: no band %s", band)
	}

	obs := make([]models.Observation, 0, len(entries))
	clouds := make([]models.CloudClassification, 0, len(entries))
	for _, e := range entries {
		key, err := temporal.Extract(e.File)
		if err != nil {
			return nil, nil, err
		}
		file, err := r.Resolve(ctx, m.ref(e.File))
		if err != nil {
			return nil, nil, err
		}
		cloud, err := r.Resolve(ctx, m.ref(e.Cloud))
		if err != nil {
			return nil, nil, err
		}

		name := path.Base(e.File)
		obs = append(obs, models.Observation{
			ID:       strings.TrimSuffix(name, path.Ext(name)),
			Path:     file,
			SceneID:  e.Scene,
			Band:     band,
			Date:     key.Date,
			Baseline: e.Baseline,
		})
		clouds = append(clouds, models.CloudClassification{
			Path:    cloud,
			SceneID: e.Scene,
			Date:    key.Date,
		})
	}
	return obs, clouds, nil
}

func (m *Manifest) ref(s string) string {
	if strings.Contains(s, "://") || path.IsAbs(s) || m.dir == "" {
		return s
	}
	return path.Join(m.dir, s)
}
