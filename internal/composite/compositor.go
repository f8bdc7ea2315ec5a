package composite

import (
	"fmt"
	"path"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/google/uuid"

	"github.com/lox/smosaic/internal/cloudcfg"
	"github.com/lox/smosaic/internal/log"
	"github.com/lox/smosaic/internal/metrics"
	"github.com/lox/smosaic/internal/models"
	"github.com/lox/smosaic/internal/quicklook"
	"github.com/lox/smosaic/internal/raster"
	"github.com/lox/smosaic/internal/workspace"
)

// DefaultFallbackCount is how many observations per scene contribute
// unmasked fallback candidates.
const DefaultFallbackCount = 3

// Options configure a Compositor.
type Options struct {
	Track Tracking
	// FallbackCount caps the raw fallback candidates per scene; 0 disables
	// them.
	FallbackCount int
	OutputDir     string
	Quicklook     bool
	// Recorder receives the run audit; nil disables it.
	Recorder Recorder
}

// DefaultOptions tracks provenance and cloud with three fallbacks.
func DefaultOptions() Options {
	return Options{
		Track:         Tracking{Provenance: true, Cloud: true},
		FallbackCount: DefaultFallbackCount,
	}
}

// Request is one band of one collection over a window. Observations are in
// priority order and Clouds[i] classifies Observations[i].
type Request struct {
	Collection   string
	Band         string
	Window       models.Window
	Observations []models.Observation
	Clouds       []models.CloudClassification
	// Scenes restricts and orders the scenes composited. When empty every
	// scene present in Observations is composited in first-seen order.
	Scenes []string
}

// Recorder persists the audit trail of compositing runs.
type Recorder interface {
	StartRun(run models.Run) error
	RecordCandidates(records []models.CandidateRecord) error
	RecordOutput(rec models.OutputRecord) error
	FinishRun(id string, runErr error) error
}

type nopRecorder struct{}

func (nopRecorder) StartRun(models.Run) error                       { return nil }
func (nopRecorder) RecordCandidates([]models.CandidateRecord) error { return nil }
func (nopRecorder) RecordOutput(models.OutputRecord) error          { return nil }
func (nopRecorder) FinishRun(string, error) error                   { return nil }

// SceneResult describes the composite written for one scene.
type SceneResult struct {
	SceneID        string
	MergePath      string
	ProvenancePath string
	CloudPath      string
	QuicklookPath  string
	Contributions  []Contribution
	ValidFraction  float64
}

// Result is the outcome of a Run.
type Result struct {
	RunID  string
	Band   string
	Scenes []SceneResult
}

// Compositor builds temporal composites scene by scene.
type Compositor struct {
	registry cloudcfg.Registry
	store    raster.Store
	fs       billy.Filesystem
	workDir  string
	opts     Options
}

// NewCompositor returns a compositor that reads and writes rasters through
// store and keeps intermediates under workDir on fs. fs must be the
// filesystem store writes to.
func NewCompositor(registry cloudcfg.Registry, store raster.Store, fs billy.Filesystem, workDir string, opts Options) *Compositor {
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.FallbackCount < 0 {
		opts.FallbackCount = 0
	}
	return &Compositor{
		registry: registry,
		store:    store,
		fs:       fs,
		workDir:  workDir,
		opts:     opts,
	}
}

type sceneGroup struct {
	id           string
	observations []models.Observation
	clouds       []models.CloudClassification
}

// Run composites every requested scene of one band. Intermediates are
// released on every return path; outputs already written are kept when a
// later scene fails.
func (c *Compositor) Run(req Request) (res *Result, err error) {
	if _, err := c.registry.Lookup(req.Collection); err != nil {
		return nil, &MissingCloudConfigError{Collection: req.Collection, Err: err}
	}
	if len(req.Observations) != len(req.Clouds) {
		return nil, fmt.Errorf("%d observations, %d classifications: %w",
			len(req.Observations), len(req.Clouds), ErrUnpairedInputs)
	}
	groups, err := groupScenes(req)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	res = &Result{RunID: uuid.NewString(), Band: req.Band}
	run := models.Run{
		ID:          res.RunID,
		Collection:  req.Collection,
		Band:        req.Band,
		WindowStart: req.Window.Start,
		WindowEnd:   req.Window.End,
		Status:      "running",
		StartedAt:   started.UTC(),
	}
	if err := c.opts.Recorder.StartRun(run); err != nil {
		return nil, fmt.Errorf("record run: %w", err)
	}

	tracker, err := workspace.NewTracker(c.fs, path.Join(c.workDir, req.Band))
	if err != nil {
		c.finish(res.RunID, err)
		return nil, err
	}
	defer func() {
		if rerr := tracker.Release(); rerr != nil {
			if err == nil {
				err = fmt.Errorf("release workspace: %w", rerr)
			} else {
				log.Warnw("compositor: release failed", "run", res.RunID, "error", rerr)
			}
		}
		c.finish(res.RunID, err)
		metrics.CompositeDuration.WithLabelValues(req.Band).Observe(time.Since(started).Seconds())
		if err != nil {
			res = nil
		}
	}()

	builder := NewBuilder(c.registry, c.store, tracker, req.Collection, c.opts.Track)
	for _, g := range groups {
		sr, err := c.scene(builder, req, g, res.RunID)
		if err != nil {
			return res, fmt.Errorf("scene %s: %w", g.id, err)
		}
		res.Scenes = append(res.Scenes, *sr)
	}

	log.Infow("compositor: run complete", "run", res.RunID, "collection", req.Collection,
		"band", req.Band, "scenes", len(res.Scenes), "duration", time.Since(started).Round(time.Millisecond))
	return res, nil
}

func (c *Compositor) finish(id string, runErr error) {
	if err := c.opts.Recorder.FinishRun(id, runErr); err != nil {
		log.Warnw("compositor: record run finish failed", "run", id, "error", err)
	}
}

func groupScenes(req Request) ([]sceneGroup, error) {
	var order []string
	byScene := make(map[string]*sceneGroup)
	for i, obs := range req.Observations {
		g, ok := byScene[obs.SceneID]
		if !ok {
			g = &sceneGroup{id: obs.SceneID}
			byScene[obs.SceneID] = g
			order = append(order, obs.SceneID)
		}
		g.observations = append(g.observations, obs)
		g.clouds = append(g.clouds, req.Clouds[i])
	}

	if len(req.Scenes) > 0 {
		order = req.Scenes
	}
	if len(order) == 0 {
		return nil, &EmptyCandidateListError{Band: req.Band}
	}

	groups := make([]sceneGroup, 0, len(order))
	for _, id := range order {
		g, ok := byScene[id]
		if !ok {
			return nil, &EmptyCandidateListError{SceneID: id, Band: req.Band}
		}
		groups = append(groups, *g)
	}
	return groups, nil
}

// scene masks every observation of one scene, then folds the persisted
// intermediates back one candidate at a time.
func (c *Compositor) scene(builder *Builder, req Request, g sceneGroup, runID string) (*SceneResult, error) {
	var masked, fallback []*Built
	for i, obs := range g.observations {
		in, err := c.read(obs, g.clouds[i])
		if err != nil {
			return nil, err
		}
		built, err := builder.Build(in)
		if err != nil {
			return nil, err
		}
		built.Products = nil
		masked = append(masked, built)

		if i < c.opts.FallbackCount {
			fb, err := builder.Fallback(in)
			if err != nil {
				return nil, err
			}
			fb.Products = nil
			fallback = append(fallback, fb)
		}
	}

	comp, err := c.fold(append(masked, fallback...))
	if err != nil {
		return nil, err
	}

	sr, err := c.writeOutputs(req, g.id, comp, runID)
	if err != nil {
		return nil, err
	}

	records := make([]models.CandidateRecord, len(comp.Contributions))
	for i, contrib := range comp.Contributions {
		kind := "clear"
		if contrib.Fallback {
			kind = "fallback"
		}
		metrics.CandidatesFolded.WithLabelValues(req.Band, kind).Inc()
		metrics.PixelsFilled.WithLabelValues(req.Band, kind).Add(float64(contrib.Samples))
		records[i] = models.CandidateRecord{
			RunID:         runID,
			SceneID:       g.id,
			Position:      contrib.Position,
			ObservationID: contrib.ObservationID,
			DateToken:     contrib.Key.Token,
			DayOfYear:     contrib.Key.DayOfYear,
			Fallback:      contrib.Fallback,
			Contributed:   contrib.Samples,
		}
	}
	if err := c.opts.Recorder.RecordCandidates(records); err != nil {
		return nil, fmt.Errorf("record candidates: %w", err)
	}

	log.Infow("compositor: scene composited", "run", runID, "scene", g.id, "band", req.Band,
		"candidates", len(comp.Contributions), "valid_fraction", fmt.Sprintf("%.4f", sr.ValidFraction))
	return sr, nil
}

func (c *Compositor) read(obs models.Observation, cloud models.CloudClassification) (BuildInput, error) {
	value, err := c.store.Read(obs.Path)
	if err != nil {
		return BuildInput{}, fmt.Errorf("read observation: %w", err)
	}
	class, err := c.store.Read(cloud.Path)
	if err != nil {
		return BuildInput{}, fmt.Errorf("read classification: %w", err)
	}
	return BuildInput{
		Observation:    obs,
		Cloud:          cloud,
		Value:          HarmonizeBaseline(value, obs.Baseline),
		Classification: class,
	}, nil
}

// fold reads each candidate only while the composite still has gaps.
func (c *Compositor) fold(candidates []*Built) (*Composite, error) {
	var acc *Accumulator
	for _, b := range candidates {
		if acc != nil && acc.Complete() {
			acc.Skip(Candidate{ObservationID: observationID(b.Observation), Key: b.Key, Fallback: b.Fallback})
			continue
		}
		cand, err := c.load(b)
		if err != nil {
			return nil, err
		}
		if acc == nil {
			if acc, err = NewAccumulator(cand, c.opts.Track); err != nil {
				return nil, err
			}
			continue
		}
		if err := acc.Fold(cand); err != nil {
			return nil, err
		}
	}
	if acc == nil {
		return nil, &EmptyCandidateListError{}
	}
	return acc.Result(), nil
}

func (c *Compositor) load(b *Built) (Candidate, error) {
	cand := Candidate{ObservationID: observationID(b.Observation), Key: b.Key, Fallback: b.Fallback}
	var err error
	if cand.Value, err = c.store.Read(b.ValuePath); err != nil {
		return Candidate{}, fmt.Errorf("read intermediate: %w", err)
	}
	if c.opts.Track.Provenance {
		if cand.Provenance, err = c.store.Read(b.ProvenancePath); err != nil {
			return Candidate{}, fmt.Errorf("read intermediate: %w", err)
		}
	}
	if c.opts.Track.Cloud {
		if cand.Cloud, err = c.store.Read(b.CloudPath); err != nil {
			return Candidate{}, fmt.Errorf("read intermediate: %w", err)
		}
	}
	return cand, nil
}

func (c *Compositor) writeOutputs(req Request, scene string, comp *Composite, runID string) (*SceneResult, error) {
	if c.opts.OutputDir != "" {
		if err := c.fs.MkdirAll(c.opts.OutputDir, 0755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
	}
	names := Names(req.Collection, req.Band, scene, req.Window)
	sr := &SceneResult{
		SceneID:       scene,
		Contributions: comp.Contributions,
		ValidFraction: comp.ValidFraction(),
	}

	write := func(kind, name string, buf *raster.Buffer) (string, error) {
		p := path.Join(c.opts.OutputDir, name)
		if err := c.store.Write(p, buf); err != nil {
			return "", fmt.Errorf("write %s composite: %w", kind, err)
		}
		if err := c.opts.Recorder.RecordOutput(models.OutputRecord{RunID: runID, SceneID: scene, Kind: kind, Path: p}); err != nil {
			return "", fmt.Errorf("record output: %w", err)
		}
		return p, nil
	}

	var err error
	if sr.MergePath, err = write(models.KindMerge, names.Merge, comp.Value); err != nil {
		return nil, err
	}
	if comp.Provenance != nil {
		if sr.ProvenancePath, err = write(models.KindProvenance, names.Provenance, comp.Provenance); err != nil {
			return nil, err
		}
	}
	if comp.Cloud != nil {
		if sr.CloudPath, err = write(models.KindCloud, names.Cloud, comp.Cloud); err != nil {
			return nil, err
		}
	}

	if c.opts.Quicklook {
		p := sr.MergePath + ".png"
		caption := fmt.Sprintf("%s %s %s-%s", scene, req.Band,
			req.Window.Start.Format(time.DateOnly), req.Window.End.Format(time.DateOnly))
		if err := quicklook.Write(c.fs, p, comp.Value, quicklook.Options{Caption: caption}); err != nil {
			return nil, err
		}
		if err := c.opts.Recorder.RecordOutput(models.OutputRecord{RunID: runID, SceneID: scene, Kind: models.KindQuicklook, Path: p}); err != nil {
			return nil, fmt.Errorf("record output: %w", err)
		}
		sr.QuicklookPath = p
	}
	return sr, nil
}
