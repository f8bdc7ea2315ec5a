package composite

import (
	"fmt"
	"path"
	"strings"

	"github.com/lox/smosaic/internal/models"
	"github.com/lox/smosaic/internal/temporal"
)

// CollectionPrefix is the collection identifier up to its version suffix:
// S2_L2A-1 becomes S2_L2A.
func CollectionPrefix(collection string) string {
	prefix, _, _ := strings.Cut(collection, "-")
	return prefix
}

// OutputNames are the file names of one scene/band/window composite.
type OutputNames struct {
	Merge      string
	Provenance string
	Cloud      string
}

// Names builds the output file names for a composite.
func Names(collection, band, scene string, w models.Window) OutputNames {
	suffix := fmt.Sprintf("%s_%s_%s_%s_%s.tif",
		CollectionPrefix(collection), band, scene,
		temporal.FormatCompact(w.Start), temporal.FormatCompact(w.End))
	return OutputNames{
		Merge:      "merge_" + suffix,
		Provenance: "provenance_merge_" + suffix,
		Cloud:      "cloud_merge_" + suffix,
	}
}

// identifier returns the basename without extension.
func identifier(p string) string {
	name := path.Base(p)
	return strings.TrimSuffix(name, path.Ext(name))
}

func observationID(obs models.Observation) string {
	if obs.ID != "" {
		return obs.ID
	}
	return identifier(obs.Path)
}

// Intermediate name prefixes.
const (
	prefixClear              = "clear_"
	prefixClearCloud         = "clear_cloud-band_"
	prefixProvenance         = "provenance_"
	prefixFallbackBand       = "band_non_clear_"
	prefixFallbackProvenance = "provenance_non_clear_"
	prefixFallbackCloud      = "cloud_non_clear_"
)
