package raster

import (
	"image"
	"math"

	"golang.org/x/image/draw"
	"gonum.org/v1/gonum/mat"
)

// ResampleNearest resamples src onto a width x height grid with
// nearest-neighbour sampling. It is meant for classification rasters, whose
// samples must be integer codes in [0, 65535] (NaN is carried as nodata).
func ResampleNearest(src *Buffer, width, height int) (*Buffer, error) {
	sp := src.Profile
	if width <= 0 || height <= 0 || sp.Width <= 0 || sp.Height <= 0 {
		return nil, &ShapeMismatchError{
			Want:   [2]int{width, height},
			Got:    [2]int{sp.Width, sp.Height},
			Reason: "empty grid",
		}
	}
	if sp.Width == width && sp.Height == height {
		return src.Clone(), nil
	}

	dp := sp
	dp.Width, dp.Height = width, height
	dp.GeoTransform[1] = sp.GeoTransform[1] * float64(sp.Width) / float64(width)
	dp.GeoTransform[2] = sp.GeoTransform[2] * float64(sp.Height) / float64(height)
	dp.GeoTransform[4] = sp.GeoTransform[4] * float64(sp.Width) / float64(width)
	dp.GeoTransform[5] = sp.GeoTransform[5] * float64(sp.Height) / float64(height)

	dst := &Buffer{Profile: dp, Bands: make([]*mat.Dense, len(src.Bands))}
	for i := range src.Bands {
		srcImg := image.NewGray16(image.Rect(0, 0, sp.Width, sp.Height))
		used := make(map[int]bool)
		hasNaN := false
		raw := src.Raw(i)
		for _, v := range raw {
			if math.IsNaN(v) {
				hasNaN = true
				continue
			}
			if v != math.Trunc(v) || v < 0 || v > math.MaxUint16 {
				return nil, &ShapeMismatchError{
					Want:   [2]int{width, height},
					Got:    [2]int{sp.Width, sp.Height},
					Reason: "samples are not 16-bit classification codes",
				}
			}
			used[int(v)] = true
		}
		// NaN has no 16-bit code; park it on a code unused in this band so
		// it survives the round trip.
		nanCode := -1
		if hasNaN {
			for c := math.MaxUint16; c >= 0; c-- {
				if !used[c] {
					nanCode = c
					break
				}
			}
		}
		for j, v := range raw {
			var code uint16
			if math.IsNaN(v) {
				code = uint16(nanCode)
			} else {
				code = uint16(v)
			}
			srcImg.Pix[2*j] = uint8(code >> 8)
			srcImg.Pix[2*j+1] = uint8(code)
		}

		dstImg := image.NewGray16(image.Rect(0, 0, width, height))
		draw.NearestNeighbor.Scale(dstImg, dstImg.Bounds(), srcImg, srcImg.Bounds(), draw.Src, nil)

		out := make([]float64, width*height)
		for j := range out {
			code := int(dstImg.Pix[2*j])<<8 | int(dstImg.Pix[2*j+1])
			if hasNaN && code == nanCode {
				out[j] = math.NaN()
				continue
			}
			out[j] = float64(code)
		}
		dst.Bands[i] = mat.NewDense(height, width, out)
	}
	return dst, nil
}
