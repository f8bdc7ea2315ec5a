package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ObservationsMasked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smosaic_observations_masked_total",
			Help: "Observations turned into cloud-masked rasters",
		},
		[]string{"collection", "band"},
	)

	CandidatesFolded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smosaic_candidates_folded_total",
			Help: "Candidates folded into a composite, by kind (clear or fallback)",
		},
		[]string{"band", "kind"},
	)

	PixelsFilled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smosaic_pixels_filled_total",
			Help: "Composite samples filled, by the kind of candidate that filled them",
		},
		[]string{"band", "kind"},
	)

	CompositeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "smosaic_composite_duration_seconds",
			Help:    "Time to composite one band across all scenes",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
		[]string{"band"},
	)

	FetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smosaic_fetch_total",
			Help: "Remote raster fetch attempts",
		},
		[]string{"scheme", "status"},
	)
)

// WriteTextfile writes every registered metric in the text exposition
// format, for node_exporter's textfile collector.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("write metrics %s: %w", path, err)
	}
	return nil
}
