package raster

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"golang.org/x/image/tiff"
	"gonum.org/v1/gonum/mat"
)

// TIFFStore persists single-band integer rasters as GeoTIFF files on a
// billy filesystem. Georeferencing, nodata and the sample format are kept
// in the GeoTIFF and GDAL_NODATA tags. A GDAL PAM sidecar (<file>.aux.xml)
// is written alongside and, when present on read, overrides the tags as it
// does in GDAL.
type TIFFStore struct {
	fs billy.Filesystem
}

// NewTIFFStore returns a store rooted at fs.
func NewTIFFStore(fs billy.Filesystem) *TIFFStore {
	return &TIFFStore{fs: fs}
}

// Filesystem exposes the underlying filesystem.
func (s *TIFFStore) Filesystem() billy.Filesystem { return s.fs }

func (s *TIFFStore) Read(path string) (*Buffer, error) {
	f, err := s.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open raster %s: %w", path, err)
	}
	data, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("read raster %s: %w", path, err)
	}

	meta, err := readGeoTIFF(data)
	if err != nil {
		return nil, fmt.Errorf("read tags of %s: %w", path, err)
	}
	if meta.sampleFormat == sampleFloat {
		return nil, fmt.Errorf("decode raster %s: %d-bit float: %w", path, meta.bits, ErrUnsupportedDType)
	}

	img, err := tiff.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode raster %s: %w", path, err)
	}

	bounds := img.Bounds()
	p := Profile{
		Width:        bounds.Dx(),
		Height:       bounds.Dy(),
		Count:        1,
		DType:        meta.dtype(),
		NoData:       meta.noData,
		GeoTransform: meta.geoTransform,
		CRS:          meta.crs,
	}
	if p.Width == 0 || p.Height == 0 {
		return nil, fmt.Errorf("decode raster %s: empty image", path)
	}
	if err := s.readSidecar(path, &p); err != nil {
		return nil, err
	}

	samples := make([]float64, p.Width*p.Height)
	switch m := img.(type) {
	case *image.Gray:
		if p.DType == "" {
			p.DType = Uint8
		}
		for y := 0; y < p.Height; y++ {
			for x := 0; x < p.Width; x++ {
				samples[y*p.Width+x] = float64(m.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y)
			}
		}
	case *image.Gray16:
		if p.DType == "" {
			p.DType = Uint16
		}
		for y := 0; y < p.Height; y++ {
			for x := 0; x < p.Width; x++ {
				v := m.Gray16At(bounds.Min.X+x, bounds.Min.Y+y).Y
				if p.DType == Int16 {
					samples[y*p.Width+x] = float64(int16(v))
				} else {
					samples[y*p.Width+x] = float64(v)
				}
			}
		}
	default:
		return nil, fmt.Errorf("decode raster %s: %T: %w", path, img, ErrUnsupportedDType)
	}

	return &Buffer{Profile: p, Bands: []*mat.Dense{mat.NewDense(p.Height, p.Width, samples)}}, nil
}

func (s *TIFFStore) readSidecar(path string, p *Profile) error {
	f, err := s.fs.Open(sidecarPath(path))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open sidecar for %s: %w", path, err)
	}
	defer f.Close()
	if err := decodePAM(f, p); err != nil {
		return fmt.Errorf("sidecar for %s: %w", path, err)
	}
	return nil
}

func (s *TIFFStore) Write(path string, buf *Buffer) error {
	p := buf.Profile
	if p.Count != 1 || len(buf.Bands) != 1 {
		return fmt.Errorf("write raster %s: %d bands: %w", path, len(buf.Bands), ErrUnsupportedDType)
	}

	img, err := encodeImage(buf)
	if err != nil {
		return fmt.Errorf("write raster %s: %w", path, err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := s.fs.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create dir %s: %w", dir, err)
		}
	}

	var encoded bytes.Buffer
	if err := tiff.Encode(&encoded, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true}); err != nil {
		return fmt.Errorf("encode raster %s: %w", path, err)
	}
	data, err := writeGeoTIFF(encoded.Bytes(), p)
	if err != nil {
		return fmt.Errorf("tag raster %s: %w", path, err)
	}

	f, err := s.fs.Create(path)
	if err != nil {
		return fmt.Errorf("create raster %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write raster %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close raster %s: %w", path, err)
	}

	side, err := s.fs.Create(sidecarPath(path))
	if err != nil {
		return fmt.Errorf("create sidecar for %s: %w", path, err)
	}
	if err := encodePAM(side, p); err != nil {
		side.Close()
		return fmt.Errorf("sidecar for %s: %w", path, err)
	}
	return side.Close()
}

func encodeImage(buf *Buffer) (image.Image, error) {
	p := buf.Profile
	raw := buf.Raw(0)
	rect := image.Rect(0, 0, p.Width, p.Height)

	switch p.DType {
	case Uint8:
		img := image.NewGray(rect)
		for i, v := range raw {
			s, err := integerSample(v, 0, math.MaxUint8)
			if err != nil {
				return nil, err
			}
			img.Pix[i] = uint8(s)
		}
		return img, nil
	case Uint16, Int16:
		lo, hi := 0.0, float64(math.MaxUint16)
		if p.DType == Int16 {
			lo, hi = math.MinInt16, math.MaxInt16
		}
		img := image.NewGray16(rect)
		for i, v := range raw {
			s, err := integerSample(v, lo, hi)
			if err != nil {
				return nil, err
			}
			u := uint16(int64(s))
			img.Pix[2*i] = uint8(u >> 8)
			img.Pix[2*i+1] = uint8(u)
		}
		return img, nil
	default:
		return nil, fmt.Errorf("%s: %w", p.DType, ErrUnsupportedDType)
	}
}

func integerSample(v, lo, hi float64) (float64, error) {
	if math.IsNaN(v) {
		return 0, fmt.Errorf("NaN sample in integer raster")
	}
	v = math.Round(v)
	return math.Max(lo, math.Min(hi, v)), nil
}
