package composite

import (
	"github.com/lox/smosaic/internal/raster"
)

// Sentinel-2 processing baselines from 04.00 on add a radiometric offset of
// 1000 to L2A reflectances.
const (
	offsetBaseline = 400
	boaAddOffset   = 1000
)

// HarmonizeBaseline removes the reflectance offset from observations
// processed with baseline 04.00 or later, so they composite alongside older
// acquisitions. The result is int16. Nodata samples (0 when nodata is
// undefined) are left untouched. Older baselines are returned as is.
func HarmonizeBaseline(buf *raster.Buffer, baseline int) *raster.Buffer {
	if baseline <= offsetBaseline {
		return buf
	}

	nodata := buf.Profile.NoData
	if !nodata.Defined {
		nodata = raster.NoDataValue(0)
	}

	out := buf.Clone()
	out.Profile = out.Profile.WithDType(raster.Int16)
	for b := range out.Bands {
		raw := out.Raw(b)
		for i, v := range raw {
			if nodata.Valid(v) {
				raw[i] = v - boaAddOffset
			}
		}
	}
	return out
}
