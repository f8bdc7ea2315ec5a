package composite

import (
	"fmt"

	"github.com/lox/smosaic/internal/cloudcfg"
	"github.com/lox/smosaic/internal/log"
	"github.com/lox/smosaic/internal/metrics"
	"github.com/lox/smosaic/internal/models"
	"github.com/lox/smosaic/internal/raster"
	"github.com/lox/smosaic/internal/temporal"
	"github.com/lox/smosaic/internal/workspace"
)

// Tracking selects the optional composites carried alongside the band.
type Tracking struct {
	Provenance bool
	Cloud      bool
}

// Products are the rasters derived from one observation. Provenance and
// Cloud are nil unless tracked.
type Products struct {
	Value      *raster.Buffer
	Provenance *raster.Buffer
	Cloud      *raster.Buffer
}

// Mask applies a cloud classification to an observation. The
// classification is resampled onto the observation grid when needed. Clear
// samples keep their value; the rest become the observation's nodata, which
// defaults to 0 when undefined.
func Mask(value, classification *raster.Buffer, cfg cloudcfg.CloudConfig, key temporal.Key, track Tracking) (*Products, error) {
	class, isClear, err := clearMask(value, classification, cfg)
	if err != nil {
		return nil, err
	}

	nodata := defaultNoData(value.Profile.NoData)
	profile := value.Profile.WithNoData(nodata)

	out := &Products{Value: raster.New(profile, nodata.Value)}
	for b := range value.Bands {
		src, dst := value.Raw(b), out.Value.Raw(b)
		for i, ok := range isClear {
			if ok {
				dst[i] = src[i]
			}
		}
	}

	if track.Cloud {
		cloudProfile := class.Profile.WithCount(1).WithNoData(raster.NoDataValue(cfg.NoDataValue))
		out.Cloud = raster.New(cloudProfile, cfg.NoDataValue)
		src, dst := class.Raw(0), out.Cloud.Raw(0)
		for i, ok := range isClear {
			if ok {
				dst[i] = src[i]
			}
		}
	}

	if track.Provenance {
		out.Provenance = raster.New(provenanceProfile(profile), nodata.Value)
		doy := float64(key.DayOfYear)
		for b := range out.Value.Bands {
			src, dst := out.Value.Raw(b), out.Provenance.Raw(b)
			for i, v := range src {
				if nodata.Valid(v) {
					dst[i] = doy
				}
			}
		}
	}
	return out, nil
}

// Unmasked returns the fallback products of an observation: the raw value,
// a provenance plane of its day-of-year everywhere and the raw
// classification resampled onto the observation grid. As in Mask, an
// undefined nodata becomes 0, so samples outside the footprint never fill
// a composite.
func Unmasked(value, classification *raster.Buffer, cfg cloudcfg.CloudConfig, key temporal.Key, track Tracking) (*Products, error) {
	nodata := defaultNoData(value.Profile.NoData)
	out := &Products{Value: value.Clone()}
	out.Value.Profile = out.Value.Profile.WithNoData(nodata)
	if track.Cloud {
		class, err := onGrid(value, classification)
		if err != nil {
			return nil, err
		}
		class.Profile = class.Profile.WithCount(1).WithNoData(raster.NoDataValue(cfg.NoDataValue))
		class.Bands = class.Bands[:1]
		out.Cloud = class
	}
	if track.Provenance {
		out.Provenance = raster.New(provenanceProfile(out.Value.Profile), float64(key.DayOfYear))
	}
	return out, nil
}

func defaultNoData(n raster.NoData) raster.NoData {
	if !n.Defined {
		return raster.NoDataValue(0)
	}
	return n
}

func clearMask(value, classification *raster.Buffer, cfg cloudcfg.CloudConfig) (*raster.Buffer, []bool, error) {
	class, err := onGrid(value, classification)
	if err != nil {
		return nil, nil, err
	}
	codes := class.Raw(0)
	isClear := make([]bool, len(codes))
	for i, code := range codes {
		isClear[i] = cfg.IsClear(code)
	}
	return class, isClear, nil
}

func onGrid(value, classification *raster.Buffer) (*raster.Buffer, error) {
	if len(classification.Bands) == 0 {
		return nil, &raster.ShapeMismatchError{
			Want:   [2]int{value.Profile.Width, value.Profile.Height},
			Got:    [2]int{classification.Profile.Width, classification.Profile.Height},
			Reason: "classification has no bands",
		}
	}
	return raster.ResampleNearest(classification, value.Profile.Width, value.Profile.Height)
}

// provenanceProfile widens byte rasters so day-of-year values up to 366 fit.
func provenanceProfile(p raster.Profile) raster.Profile {
	if p.DType == raster.Uint8 {
		return p.WithDType(raster.Uint16)
	}
	return p
}

// BuildInput is one observation with its classification, already read.
type BuildInput struct {
	Observation    models.Observation
	Cloud          models.CloudClassification
	Value          *raster.Buffer
	Classification *raster.Buffer
}

// Built describes the persisted products of one observation.
type Built struct {
	Observation    models.Observation
	Key            temporal.Key
	Fallback       bool
	ValuePath      string
	ProvenancePath string
	CloudPath      string
	Products       *Products
}

// Builder masks observations and persists the products as tracked
// intermediates in a workspace.
type Builder struct {
	registry   cloudcfg.Registry
	store      raster.Store
	tracker    *workspace.Tracker
	collection string
	track      Tracking
}

// NewBuilder returns a builder for one collection.
func NewBuilder(registry cloudcfg.Registry, store raster.Store, tracker *workspace.Tracker, collection string, track Tracking) *Builder {
	return &Builder{
		registry:   registry,
		store:      store,
		tracker:    tracker,
		collection: collection,
		track:      track,
	}
}

func (b *Builder) config() (cloudcfg.CloudConfig, error) {
	cfg, err := b.registry.Lookup(b.collection)
	if err != nil {
		return cloudcfg.CloudConfig{}, &MissingCloudConfigError{Collection: b.collection, Err: err}
	}
	return cfg, nil
}

// Build writes the clear band, and when tracked the clear cloud band and
// provenance band, of one observation.
func (b *Builder) Build(in BuildInput) (*Built, error) {
	cfg, err := b.config()
	if err != nil {
		return nil, err
	}
	id := observationID(in.Observation)
	key, err := temporal.Extract(id)
	if err != nil {
		return nil, err
	}

	products, err := Mask(in.Value, in.Classification, cfg, key, b.track)
	if err != nil {
		return nil, fmt.Errorf("mask %s: %w", id, err)
	}

	built := &Built{Observation: in.Observation, Key: key, Products: products}
	if built.ValuePath, err = b.persist(prefixClear+id, key, products.Value); err != nil {
		return nil, err
	}
	if products.Cloud != nil {
		if built.CloudPath, err = b.persist(prefixClearCloud+id, key, products.Cloud); err != nil {
			return nil, err
		}
	}
	if products.Provenance != nil {
		if built.ProvenancePath, err = b.persist(prefixProvenance+id, key, products.Provenance); err != nil {
			return nil, err
		}
	}

	metrics.ObservationsMasked.WithLabelValues(b.collection, in.Observation.Band).Inc()
	log.Debugw("builder: masked observation", "observation", id, "date", key.Token,
		"valid", products.Value.CountValid(), "samples", products.Value.TotalSamples())
	return built, nil
}

// Fallback writes the unmasked products of one observation.
func (b *Builder) Fallback(in BuildInput) (*Built, error) {
	cfg, err := b.config()
	if err != nil {
		return nil, err
	}
	id := observationID(in.Observation)
	key, err := temporal.Extract(id)
	if err != nil {
		return nil, err
	}

	products, err := Unmasked(in.Value, in.Classification, cfg, key, b.track)
	if err != nil {
		return nil, fmt.Errorf("fallback %s: %w", id, err)
	}

	built := &Built{Observation: in.Observation, Key: key, Fallback: true, Products: products}
	if built.ValuePath, err = b.persist(prefixFallbackBand+id, key, products.Value); err != nil {
		return nil, err
	}
	if products.Cloud != nil {
		if built.CloudPath, err = b.persist(prefixFallbackCloud+id, key, products.Cloud); err != nil {
			return nil, err
		}
	}
	if products.Provenance != nil {
		if built.ProvenancePath, err = b.persist(prefixFallbackProvenance+id, key, products.Provenance); err != nil {
			return nil, err
		}
	}
	return built, nil
}

func (b *Builder) persist(name string, key temporal.Key, buf *raster.Buffer) (string, error) {
	p := b.tracker.Path(name + ".tif")
	// Track before writing so a partial write is still released.
	b.tracker.Track(p, key.Token)
	if err := b.store.Write(p, buf); err != nil {
		return "", fmt.Errorf("write intermediate %s: %w", p, err)
	}
	return p, nil
}
