package raster

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
)

func TestNoDataValid(t *testing.T) {
	tests := []struct {
		name   string
		nodata NoData
		sample float64
		want   bool
	}{
		{"undefined accepts zero", NoData{}, 0, true},
		{"undefined accepts NaN", NoData{}, math.NaN(), true},
		{"NaN nodata rejects NaN", NoDataValue(math.NaN()), math.NaN(), false},
		{"NaN nodata accepts number", NoDataValue(math.NaN()), 0, true},
		{"finite nodata rejects equal", NoDataValue(0), 0, false},
		{"finite nodata accepts other", NoDataValue(0), 12, true},
		{"finite nodata accepts NaN", NoDataValue(-9999), math.NaN(), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.nodata.Valid(tt.sample); got != tt.want {
				t.Errorf("Valid(%v) = %v, want %v", tt.sample, got, tt.want)
			}
		})
	}
}

func TestBufferValidityAndCounts(t *testing.T) {
	buf := FromRows(Profile{DType: Uint16, NoData: NoDataValue(0)}, [][]float64{
		{0, 5, 5},
		{7, 0, 5},
	})

	if got := buf.CountValid(); got != 4 {
		t.Errorf("CountValid = %d, want 4", got)
	}
	if got := buf.CountValue(5); got != 3 {
		t.Errorf("CountValue(5) = %d, want 3", got)
	}
	if got := buf.TotalSamples(); got != 6 {
		t.Errorf("TotalSamples = %d, want 6", got)
	}
	multi := New(Profile{Width: 2, Height: 1, Count: 3, DType: Uint16}, 0)
	if got := multi.TotalSamples(); got != 6 {
		t.Errorf("TotalSamples(3 bands) = %d, want 6", got)
	}
	mask := buf.Validity()[0]
	want := []bool{false, true, true, true, false, true}
	for i := range want {
		if mask[i] != want[i] {
			t.Errorf("mask[%d] = %v, want %v", i, mask[i], want[i])
		}
	}
}

func TestCloneIsDeep(t *testing.T) {
	buf := FromRows(Profile{DType: Uint16}, [][]float64{{1, 2}})
	c := buf.Clone()
	c.Set(0, 0, 0, 99)
	if buf.At(0, 0, 0) != 1 {
		t.Errorf("original changed to %v after mutating clone", buf.At(0, 0, 0))
	}
}

func TestResampleNearest_Upsample(t *testing.T) {
	src := FromRows(Profile{DType: Uint8, GeoTransform: [6]float64{100, 20, 0, 200, 0, -20}}, [][]float64{
		{4, 8},
		{9, 5},
	})

	dst, err := ResampleNearest(src, 4, 4)
	if err != nil {
		t.Fatalf("ResampleNearest: %v", err)
	}
	want := [][]float64{
		{4, 4, 8, 8},
		{4, 4, 8, 8},
		{9, 9, 5, 5},
		{9, 9, 5, 5},
	}
	for y := range want {
		for x := range want[y] {
			if got := dst.At(0, x, y); got != want[y][x] {
				t.Errorf("dst(%d,%d) = %v, want %v", x, y, got, want[y][x])
			}
		}
	}
	if dst.Profile.GeoTransform[1] != 10 || dst.Profile.GeoTransform[5] != -10 {
		t.Errorf("pixel size = %v,%v, want 10,-10", dst.Profile.GeoTransform[1], dst.Profile.GeoTransform[5])
	}
}

func TestResampleNearest_KeepsNaN(t *testing.T) {
	src := FromRows(Profile{DType: Float32, NoData: NoDataValue(math.NaN())}, [][]float64{
		{math.NaN(), 4},
	})
	dst, err := ResampleNearest(src, 4, 2)
	if err != nil {
		t.Fatalf("ResampleNearest: %v", err)
	}
	if !math.IsNaN(dst.At(0, 0, 0)) || !math.IsNaN(dst.At(0, 1, 1)) {
		t.Errorf("left half = %v,%v, want NaN", dst.At(0, 0, 0), dst.At(0, 1, 1))
	}
	if dst.At(0, 3, 0) != 4 {
		t.Errorf("right half = %v, want 4", dst.At(0, 3, 0))
	}
}

func TestResampleNearest_Errors(t *testing.T) {
	src := FromRows(Profile{DType: Float32}, [][]float64{{0.5, 1}})

	var shapeErr *ShapeMismatchError
	if _, err := ResampleNearest(src, 4, 4); !errors.As(err, &shapeErr) {
		t.Errorf("fractional codes: err = %v, want *ShapeMismatchError", err)
	}
	if _, err := ResampleNearest(src, 0, 4); !errors.As(err, &shapeErr) {
		t.Errorf("empty target: err = %v, want *ShapeMismatchError", err)
	}
}

func TestResampleNearest_SameShapeClones(t *testing.T) {
	src := FromRows(Profile{DType: Float32}, [][]float64{{0.5, 1}})
	dst, err := ResampleNearest(src, 2, 1)
	if err != nil {
		t.Fatalf("ResampleNearest: %v", err)
	}
	dst.Set(0, 0, 0, 3)
	if src.At(0, 0, 0) != 0.5 {
		t.Error("same-shape resample aliases the source")
	}
}

func TestTIFFStore_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		p    Profile
		rows [][]float64
	}{
		{
			name: "uint16 reflectance",
			p: Profile{
				DType:        Uint16,
				NoData:       NoDataValue(0),
				GeoTransform: [6]float64{499980, 10, 0, 9200020, 0, -10},
				CRS:          "EPSG:32722",
			},
			rows: [][]float64{{0, 1200, 65535}, {3, 4, 5}},
		},
		{
			name: "int16 after baseline offset",
			p:    Profile{DType: Int16, NoData: NoDataValue(0)},
			rows: [][]float64{{-1000, 0, 2400}},
		},
		{
			name: "uint8 classification",
			p:    Profile{DType: Uint8},
			rows: [][]float64{{4, 8}, {9, 255}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewTIFFStore(memfs.New())
			buf := FromRows(tt.p, tt.rows)
			if err := store.Write("out/r.tif", buf); err != nil {
				t.Fatalf("Write: %v", err)
			}
			got, err := store.Read("out/r.tif")
			if err != nil {
				t.Fatalf("Read: %v", err)
			}

			if got.Profile != buf.Profile {
				t.Errorf("Profile = %+v, want %+v", got.Profile, buf.Profile)
			}
			for y := range tt.rows {
				for x := range tt.rows[y] {
					if got.At(0, x, y) != tt.rows[y][x] {
						t.Errorf("sample(%d,%d) = %v, want %v", x, y, got.At(0, x, y), tt.rows[y][x])
					}
				}
			}
		})
	}
}

func TestTIFFStore_TagsWithoutSidecar(t *testing.T) {
	tests := []struct {
		name string
		p    Profile
		rows [][]float64
	}{
		{
			name: "projected int16",
			p: Profile{
				DType:        Int16,
				NoData:       NoDataValue(-9999),
				GeoTransform: [6]float64{499980, 10, 0, 9200020, 0, -10},
				CRS:          "EPSG:32722",
			},
			rows: [][]float64{{-9999, -1000, 2400}},
		},
		{
			name: "geographic uint16",
			p: Profile{
				DType:        Uint16,
				NoData:       NoDataValue(0),
				GeoTransform: [6]float64{-54.5, 0.0001, 0, -10.25, 0, -0.0001},
				CRS:          "EPSG:4326",
			},
			rows: [][]float64{{0, 1200}},
		},
		{
			name: "rotated grid",
			p: Profile{
				DType:        Uint16,
				GeoTransform: [6]float64{100, 10, 1, 200, 2, -10},
			},
			rows: [][]float64{{1, 2}, {3, 4}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := memfs.New()
			store := NewTIFFStore(fs)
			buf := FromRows(tt.p, tt.rows)
			if err := store.Write("r.tif", buf); err != nil {
				t.Fatalf("Write: %v", err)
			}
			if err := fs.Remove("r.tif.aux.xml"); err != nil {
				t.Fatal(err)
			}
			got, err := store.Read("r.tif")
			if err != nil {
				t.Fatalf("Read: %v", err)
			}
			if got.Profile != buf.Profile {
				t.Errorf("Profile = %+v, want %+v", got.Profile, buf.Profile)
			}
			for y := range tt.rows {
				for x := range tt.rows[y] {
					if got.At(0, x, y) != tt.rows[y][x] {
						t.Errorf("sample(%d,%d) = %v, want %v", x, y, got.At(0, x, y), tt.rows[y][x])
					}
				}
			}
		})
	}
}

func TestTIFFStore_WritesSignedSampleFormat(t *testing.T) {
	fs := memfs.New()
	store := NewTIFFStore(fs)
	buf := FromRows(Profile{DType: Int16, NoData: NoDataValue(0)}, [][]float64{{-1000, 500}})
	if err := store.Write("r.tif", buf); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, err := util.ReadFile(fs, "r.tif")
	if err != nil {
		t.Fatal(err)
	}
	order, entries, err := readIFD(data)
	if err != nil {
		t.Fatalf("readIFD: %v", err)
	}

	var format []uint32
	var nodata string
	for _, e := range entries {
		switch e.tag {
		case tagSampleFormat:
			format = e.uints(order)
		case tagGDALNoData:
			nodata = e.ascii()
		}
	}
	if len(format) != 1 || format[0] != sampleSigned {
		t.Errorf("SampleFormat = %v, want [%d]", format, sampleSigned)
	}
	if nodata != "0" {
		t.Errorf("GDAL_NODATA = %q, want %q", nodata, "0")
	}
}

// buildGeoTIFF lays out an uncompressed single-strip signed 16-bit GeoTIFF
// as GDAL writes it: georeferencing in the tiepoint, pixel scale and
// GeoKey tags and nodata in GDAL_NODATA.
func buildGeoTIFF(order binary.ByteOrder, width int, samples []int16, rasterType uint16) []byte {
	shorts := func(v ...uint16) []byte {
		b := make([]byte, 2*len(v))
		for i, x := range v {
			order.PutUint16(b[2*i:], x)
		}
		return b
	}
	longs := func(v uint32) []byte {
		b := make([]byte, 4)
		order.PutUint32(b, v)
		return b
	}
	doubles := func(v ...float64) []byte {
		b := make([]byte, 8*len(v))
		for i, x := range v {
			order.PutUint64(b[8*i:], math.Float64bits(x))
		}
		return b
	}

	pixels := make([]byte, 2*len(samples))
	for i, v := range samples {
		order.PutUint16(pixels[2*i:], uint16(v))
	}
	height := uint16(len(samples) / width)

	type field struct {
		tag, typ uint16
		count    uint32
		value    []byte
	}
	fields := []field{
		{256, dtShort, 1, shorts(uint16(width))},
		{257, dtShort, 1, shorts(height)},
		{258, dtShort, 1, shorts(16)},
		{259, dtShort, 1, shorts(1)},
		{262, dtShort, 1, shorts(1)},
		{273, dtLong, 1, nil},
		{277, dtShort, 1, shorts(1)},
		{278, dtShort, 1, shorts(height)},
		{279, dtLong, 1, longs(uint32(len(pixels)))},
		{tagSampleFormat, dtShort, 1, shorts(sampleSigned)},
		{tagModelPixelScale, dtDouble, 3, doubles(10, 10, 0)},
		{tagModelTiepoint, dtDouble, 6, doubles(0, 0, 0, 499980, 9200020, 0)},
		{tagGeoKeyDirectory, dtShort, 16, shorts(1, 1, 0, 3, 1024, 0, 1, 1, 1025, 0, 1, rasterType, 3072, 0, 1, 32722)},
		{tagGDALNoData, dtASCII, 6, []byte("-9999\x00")},
	}

	ifd := make([]byte, 2+12*len(fields)+4)
	valuesOff := 8 + len(ifd)
	var values []byte
	offsets := make([]uint32, len(fields))
	for i, f := range fields {
		if len(f.value) > 4 {
			offsets[i] = uint32(valuesOff + len(values))
			values = append(values, f.value...)
		}
	}
	fields[5].value = longs(uint32(valuesOff + len(values)))

	order.PutUint16(ifd, uint16(len(fields)))
	for i, f := range fields {
		pos := 2 + 12*i
		order.PutUint16(ifd[pos:], f.tag)
		order.PutUint16(ifd[pos+2:], f.typ)
		order.PutUint32(ifd[pos+4:], f.count)
		if len(f.value) > 4 {
			order.PutUint32(ifd[pos+8:], offsets[i])
		} else {
			copy(ifd[pos+8:], f.value)
		}
	}

	header := []byte("II\x00\x00\x00\x00\x00\x00")
	if order == binary.ByteOrder(binary.BigEndian) {
		copy(header, "MM")
	}
	order.PutUint16(header[2:], 42)
	order.PutUint32(header[4:], 8)

	out := append(header, ifd...)
	out = append(out, values...)
	return append(out, pixels...)
}

func TestTIFFStore_ReadsGeoTIFFWithoutSidecar(t *testing.T) {
	tests := []struct {
		name       string
		order      binary.ByteOrder
		rasterType uint16
		origin     [2]float64
	}{
		{"little endian pixel area", binary.LittleEndian, rasterPixelArea, [2]float64{499980, 9200020}},
		{"big endian pixel is point", binary.BigEndian, rasterPoint, [2]float64{499975, 9200025}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := memfs.New()
			data := buildGeoTIFF(tt.order, 2, []int16{-1000, -9999}, tt.rasterType)
			if err := util.WriteFile(fs, "in.tif", data, 0644); err != nil {
				t.Fatal(err)
			}

			got, err := NewTIFFStore(fs).Read("in.tif")
			if err != nil {
				t.Fatalf("Read: %v", err)
			}
			want := Profile{
				Width:        2,
				Height:       1,
				Count:        1,
				DType:        Int16,
				NoData:       NoDataValue(-9999),
				GeoTransform: [6]float64{tt.origin[0], 10, 0, tt.origin[1], 0, -10},
				CRS:          "EPSG:32722",
			}
			if got.Profile != want {
				t.Errorf("Profile = %+v, want %+v", got.Profile, want)
			}
			if got.At(0, 0, 0) != -1000 || got.At(0, 1, 0) != -9999 {
				t.Errorf("samples = %v, want [-1000 -9999]", got.Raw(0))
			}
			if n := got.CountValid(); n != 1 {
				t.Errorf("CountValid = %d, want 1", n)
			}
		})
	}
}

func TestTIFFStore_Unsupported(t *testing.T) {
	store := NewTIFFStore(memfs.New())

	float := FromRows(Profile{DType: Float32, NoData: NoDataValue(math.NaN())}, [][]float64{{1}})
	if err := store.Write("f.tif", float); !errors.Is(err, ErrUnsupportedDType) {
		t.Errorf("float write err = %v, want ErrUnsupportedDType", err)
	}

	multi := New(Profile{Width: 1, Height: 1, Count: 2, DType: Uint16}, 0)
	if err := store.Write("m.tif", multi); !errors.Is(err, ErrUnsupportedDType) {
		t.Errorf("multi-band write err = %v, want ErrUnsupportedDType", err)
	}

	nan := FromRows(Profile{DType: Uint16}, [][]float64{{math.NaN()}})
	if err := store.Write("n.tif", nan); err == nil {
		t.Error("NaN in uint16 raster written without error")
	}
}
