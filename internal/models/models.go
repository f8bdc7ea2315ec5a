package models

import (
	"time"
)

// Observation is one source raster for one band of one scene at one
// acquisition. Identity is carried explicitly, never derived from the path.
type Observation struct {
	ID       string // identifier basename, e.g. S2A_B04_20250115T135701_N0511_R067_22MCC
	Path     string
	SceneID  string
	Band     string
	Date     time.Time
	Baseline int // processing baseline number, 0 when unknown
}

// CloudClassification is the classification raster paired with an
// Observation.
type CloudClassification struct {
	Path    string
	SceneID string
	Date    time.Time
}

// Window is the inclusive time window a composite covers.
type Window struct {
	Start time.Time
	End   time.Time
}

// Artifact kinds written by a compositing run.
const (
	KindMerge      = "merge"
	KindProvenance = "provenance"
	KindCloud      = "cloud"
	KindQuicklook  = "quicklook"
)

// Run is one compositing invocation for one band.
type Run struct {
	ID          string
	Collection  string
	Band        string
	WindowStart time.Time
	WindowEnd   time.Time
	Status      string // "running", "succeeded", "failed"
	Error       string
	StartedAt   time.Time
	FinishedAt  *time.Time
}

// CandidateRecord is the audit row for one fold input.
type CandidateRecord struct {
	RunID         string
	SceneID       string
	Position      int
	ObservationID string
	DateToken     string
	DayOfYear     int
	Fallback      bool
	Contributed   int // samples this candidate filled
}

// OutputRecord is the audit row for one written artifact.
type OutputRecord struct {
	RunID   string
	SceneID string
	Kind    string
	Path    string
}
