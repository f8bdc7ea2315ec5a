package composite

import (
	"fmt"

	"github.com/lox/smosaic/internal/raster"
	"github.com/lox/smosaic/internal/temporal"
)

// Candidate is one input of a fold, in priority order.
type Candidate struct {
	ObservationID string
	Key           temporal.Key
	Fallback      bool
	Value         *raster.Buffer
	Provenance    *raster.Buffer
	Cloud         *raster.Buffer
}

// Contribution counts the samples one candidate settled in a composite.
type Contribution struct {
	Position      int
	ObservationID string
	Key           temporal.Key
	Fallback      bool
	Samples       int
}

// Composite is the folded result for one scene and band.
type Composite struct {
	Value         *raster.Buffer
	Provenance    *raster.Buffer
	Cloud         *raster.Buffer
	Contributions []Contribution
	ValidSamples  int
	TotalSamples  int
}

// ValidFraction is the share of samples settled by some candidate.
func (c *Composite) ValidFraction() float64 {
	if c.TotalSamples == 0 {
		return 0
	}
	return float64(c.ValidSamples) / float64(c.TotalSamples)
}

// Accumulator folds candidates first-valid-wins: a sample settled by an
// earlier candidate is never overwritten, so candidate order alone decides
// which observation contributes each sample.
type Accumulator struct {
	track         Tracking
	value         *raster.Buffer
	provenance    *raster.Buffer
	cloud         *raster.Buffer
	valid         [][]bool
	remaining     int
	contributions []Contribution
}

// NewAccumulator seeds a composite with a copy of the first candidate. When
// the candidate's nodata is undefined every sample is settled at once.
func NewAccumulator(first Candidate, track Tracking) (*Accumulator, error) {
	if err := checkCandidate(first, track); err != nil {
		return nil, err
	}
	a := &Accumulator{
		track: track,
		value: first.Value.Clone(),
		valid: first.Value.Validity(),
	}
	if track.Provenance {
		a.provenance = first.Provenance.Clone()
	}
	if track.Cloud {
		a.cloud = first.Cloud.Clone()
	}

	settled := 0
	for _, mask := range a.valid {
		for _, ok := range mask {
			if ok {
				settled++
			} else {
				a.remaining++
			}
		}
	}
	a.contributions = append(a.contributions, contribution(0, first, settled))
	return a, nil
}

// Fold fills every unsettled sample that c holds a valid value for, copying
// the provenance and cloud samples of the same candidate alongside. The
// cloud composite has one plane and follows band 0.
func (a *Accumulator) Fold(c Candidate) error {
	if err := checkCandidate(c, a.track); err != nil {
		return err
	}
	if err := a.checkShape(c); err != nil {
		return err
	}

	nodata := c.Value.Profile.NoData
	filled := 0
	for b, mask := range a.valid {
		src, dst := c.Value.Raw(b), a.value.Raw(b)
		var provSrc, provDst, cloudSrc, cloudDst []float64
		if a.track.Provenance {
			provSrc, provDst = c.Provenance.Raw(b), a.provenance.Raw(b)
		}
		if a.track.Cloud && b == 0 {
			cloudSrc, cloudDst = c.Cloud.Raw(0), a.cloud.Raw(0)
		}
		for i, settled := range mask {
			if settled || !nodata.Valid(src[i]) {
				continue
			}
			dst[i] = src[i]
			if provDst != nil {
				provDst[i] = provSrc[i]
			}
			if cloudDst != nil {
				cloudDst[i] = cloudSrc[i]
			}
			mask[i] = true
			filled++
		}
	}
	a.remaining -= filled
	a.contributions = append(a.contributions, contribution(len(a.contributions), c, filled))
	return nil
}

// Complete reports whether every sample is settled; further folds are
// no-ops.
func (a *Accumulator) Complete() bool { return a.remaining == 0 }

// Skip records a candidate that was not read because the composite was
// already complete.
func (a *Accumulator) Skip(c Candidate) {
	a.contributions = append(a.contributions, contribution(len(a.contributions), c, 0))
}

// Result returns the composite. The accumulator must not be used after.
func (a *Accumulator) Result() *Composite {
	total := a.value.TotalSamples()
	return &Composite{
		Value:         a.value,
		Provenance:    a.provenance,
		Cloud:         a.cloud,
		Contributions: a.contributions,
		ValidSamples:  total - a.remaining,
		TotalSamples:  total,
	}
}

func (a *Accumulator) checkShape(c Candidate) error {
	want := a.value.Profile
	check := func(buf *raster.Buffer, bands int) error {
		p := buf.Profile
		if !p.SameGrid(want) || len(buf.Bands) < bands {
			return &raster.ShapeMismatchError{
				Want:   [2]int{want.Width, want.Height},
				Got:    [2]int{p.Width, p.Height},
				Reason: fmt.Sprintf("candidate %s", c.ObservationID),
			}
		}
		return nil
	}
	if err := check(c.Value, len(a.value.Bands)); err != nil {
		return err
	}
	if a.track.Provenance {
		if err := check(c.Provenance, len(a.value.Bands)); err != nil {
			return err
		}
	}
	if a.track.Cloud {
		if err := check(c.Cloud, 1); err != nil {
			return err
		}
	}
	return nil
}

func checkCandidate(c Candidate, track Tracking) error {
	switch {
	case c.Value == nil:
		return fmt.Errorf("candidate %s: no value raster", c.ObservationID)
	case track.Provenance && c.Provenance == nil:
		return fmt.Errorf("candidate %s: no provenance raster", c.ObservationID)
	case track.Cloud && c.Cloud == nil:
		return fmt.Errorf("candidate %s: no cloud raster", c.ObservationID)
	}
	return nil
}

func contribution(pos int, c Candidate, samples int) Contribution {
	return Contribution{
		Position:      pos,
		ObservationID: c.ObservationID,
		Key:           c.Key,
		Fallback:      c.Fallback,
		Samples:       samples,
	}
}

// Fold runs a whole candidate sequence in memory.
func Fold(candidates []Candidate, track Tracking) (*Composite, error) {
	if len(candidates) == 0 {
		return nil, &EmptyCandidateListError{}
	}
	acc, err := NewAccumulator(candidates[0], track)
	if err != nil {
		return nil, err
	}
	for _, c := range candidates[1:] {
		if err := acc.Fold(c); err != nil {
			return nil, err
		}
	}
	return acc.Result(), nil
}
