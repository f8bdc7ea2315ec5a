//go:build gdal

package raster

import (
	"fmt"

	"github.com/airbusgeo/godal"
	"gonum.org/v1/gonum/mat"
)

func init() {
	godal.RegisterAll()
}

// GDALStore reads and writes GeoTIFFs through GDAL on the local
// filesystem. Unlike TIFFStore it handles multi-band and floating point
// rasters, and keeps georeferencing inside the file.
type GDALStore struct {
	CreationOptions []string
}

// NewGDALStore returns a store writing tiled, deflate-compressed GeoTIFFs.
func NewGDALStore() *GDALStore {
	return &GDALStore{CreationOptions: []string{"TILED=YES", "COMPRESS=DEFLATE", "BIGTIFF=IF_SAFER"}}
}

func (s *GDALStore) Read(path string) (*Buffer, error) {
	ds, err := godal.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open raster %s: %w", path, err)
	}
	defer ds.Close()

	st := ds.Structure()
	bands := ds.Bands()
	if len(bands) == 0 {
		return nil, fmt.Errorf("open raster %s: no bands", path)
	}

	p := Profile{
		Width:  st.SizeX,
		Height: st.SizeY,
		Count:  len(bands),
		DType:  fromGDALType(bands[0].Structure().DataType),
		CRS:    ds.Projection(),
	}
	if gt, err := ds.GeoTransform(); err == nil {
		p.GeoTransform = gt
	}
	if nd, ok := bands[0].NoData(); ok {
		p.NoData = NoDataValue(nd)
	}

	buf := &Buffer{Profile: p, Bands: make([]*mat.Dense, len(bands))}
	for i, band := range bands {
		data := make([]float64, p.Width*p.Height)
		if err := band.Read(0, 0, data, p.Width, p.Height); err != nil {
			return nil, fmt.Errorf("read band %d of %s: %w", i+1, path, err)
		}
		buf.Bands[i] = mat.NewDense(p.Height, p.Width, data)
	}
	return buf, nil
}

func (s *GDALStore) Write(path string, buf *Buffer) error {
	p := buf.Profile
	ds, err := godal.Create(godal.GTiff, path, len(buf.Bands), toGDALType(p.DType), p.Width, p.Height,
		godal.CreationOption(s.CreationOptions...))
	if err != nil {
		return fmt.Errorf("create raster %s: %w", path, err)
	}

	if err := ds.SetGeoTransform(p.GeoTransform); err != nil {
		ds.Close()
		return fmt.Errorf("set geotransform on %s: %w", path, err)
	}
	if p.CRS != "" {
		if err := ds.SetProjection(p.CRS); err != nil {
			ds.Close()
			return fmt.Errorf("set projection on %s: %w", path, err)
		}
	}
	for i, band := range ds.Bands() {
		if p.NoData.Defined {
			if err := band.SetNoData(p.NoData.Value); err != nil {
				ds.Close()
				return fmt.Errorf("set nodata on %s: %w", path, err)
			}
		}
		if err := band.Write(0, 0, buf.Raw(i), p.Width, p.Height); err != nil {
			ds.Close()
			return fmt.Errorf("write band %d of %s: %w", i+1, path, err)
		}
	}
	return ds.Close()
}

func toGDALType(d DType) godal.DataType {
	switch d {
	case Uint8:
		return godal.Byte
	case Uint16:
		return godal.UInt16
	case Int16:
		return godal.Int16
	case Float32:
		return godal.Float32
	default:
		return godal.Float64
	}
}

func fromGDALType(d godal.DataType) DType {
	switch d {
	case godal.Byte:
		return Uint8
	case godal.UInt16:
		return Uint16
	case godal.Int16:
		return Int16
	case godal.Float32:
		return Float32
	default:
		return Float64
	}
}
