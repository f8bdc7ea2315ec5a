// Package raster holds in-memory raster buffers and their I/O.
//
// A Buffer keeps one gonum dense matrix per band (rows are y, columns are x)
// together with an immutable Profile describing its grid and nodata rule.
package raster

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// DType is the on-disk sample type of a raster.
type DType string

const (
	Uint8   DType = "Byte"
	Uint16  DType = "UInt16"
	Int16   DType = "Int16"
	Float32 DType = "Float32"
	Float64 DType = "Float64"
)

// NoData is a raster's nodata designation. An undefined NoData makes every
// sample valid.
type NoData struct {
	Value   float64
	Defined bool
}

// NoDataValue returns a defined NoData.
func NoDataValue(v float64) NoData { return NoData{Value: v, Defined: true} }

// Valid applies the nodata rule to one sample.
func (n NoData) Valid(sample float64) bool {
	switch {
	case !n.Defined:
		return true
	case math.IsNaN(n.Value):
		return !math.IsNaN(sample)
	default:
		return sample != n.Value
	}
}

func (n NoData) String() string {
	if !n.Defined {
		return "none"
	}
	return fmt.Sprint(n.Value)
}

// Profile is the metadata of a raster. It is a value type: derive a new
// profile with the With* methods rather than mutating a shared one.
type Profile struct {
	Width        int
	Height       int
	Count        int
	DType        DType
	NoData       NoData
	GeoTransform [6]float64
	CRS          string
}

// WithNoData returns a copy of p with a different nodata.
func (p Profile) WithNoData(n NoData) Profile {
	p.NoData = n
	return p
}

// WithDType returns a copy of p with a different sample type.
func (p Profile) WithDType(d DType) Profile {
	p.DType = d
	return p
}

// WithCount returns a copy of p with a different band count.
func (p Profile) WithCount(n int) Profile {
	p.Count = n
	return p
}

// SameGrid reports whether two profiles describe the same pixel grid size.
func (p Profile) SameGrid(o Profile) bool {
	return p.Width == o.Width && p.Height == o.Height
}

// Buffer is a raster held fully in memory.
type Buffer struct {
	Profile Profile
	Bands   []*mat.Dense
}

// New allocates a buffer for profile p filled with fill.
func New(p Profile, fill float64) *Buffer {
	b := &Buffer{Profile: p, Bands: make([]*mat.Dense, p.Count)}
	for i := range b.Bands {
		data := make([]float64, p.Width*p.Height)
		if fill != 0 {
			for j := range data {
				data[j] = fill
			}
		}
		b.Bands[i] = mat.NewDense(p.Height, p.Width, data)
	}
	return b
}

// FromRows builds a single-band buffer from row-major samples. It is used
// by codecs and tests.
func FromRows(p Profile, rows [][]float64) *Buffer {
	p.Height = len(rows)
	if p.Height > 0 {
		p.Width = len(rows[0])
	}
	p.Count = 1
	b := New(p, 0)
	for y, row := range rows {
		b.Bands[0].SetRow(y, row)
	}
	return b
}

// Clone deep-copies the buffer.
func (b *Buffer) Clone() *Buffer {
	c := &Buffer{Profile: b.Profile, Bands: make([]*mat.Dense, len(b.Bands))}
	for i, band := range b.Bands {
		c.Bands[i] = mat.DenseCopyOf(band)
	}
	return c
}

// At returns the sample of band at (x, y).
func (b *Buffer) At(band, x, y int) float64 { return b.Bands[band].At(y, x) }

// Set stores a sample of band at (x, y).
func (b *Buffer) Set(band, x, y int, v float64) { b.Bands[band].Set(y, x, v) }

// Raw returns the backing row-major slice of one band.
func (b *Buffer) Raw(band int) []float64 { return b.Bands[band].RawMatrix().Data }

// Validity returns one mask per band, true where the sample is valid under
// the buffer's nodata rule.
func (b *Buffer) Validity() [][]bool {
	masks := make([][]bool, len(b.Bands))
	for i := range b.Bands {
		raw := b.Raw(i)
		mask := make([]bool, len(raw))
		for j, v := range raw {
			mask[j] = b.Profile.NoData.Valid(v)
		}
		masks[i] = mask
	}
	return masks
}

// CountValid counts valid samples across all bands.
func (b *Buffer) CountValid() int {
	n := 0
	for i := range b.Bands {
		for _, v := range b.Raw(i) {
			if b.Profile.NoData.Valid(v) {
				n++
			}
		}
	}
	return n
}

// CountValue counts samples of band 0 equal to target.
func (b *Buffer) CountValue(target float64) int {
	n := 0
	for _, v := range b.Raw(0) {
		if v == target || (math.IsNaN(target) && math.IsNaN(v)) {
			n++
		}
	}
	return n
}

// Samples returns the number of samples per band.
func (b *Buffer) Samples() int { return b.Profile.Width * b.Profile.Height }

// TotalSamples returns the number of samples across all bands, the
// denominator of CountValid.
func (b *Buffer) TotalSamples() int { return b.Samples() * len(b.Bands) }
