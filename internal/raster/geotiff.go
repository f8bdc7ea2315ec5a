package raster

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// TIFF tags carrying the metadata GDAL writes into a GeoTIFF.
const (
	tagBitsPerSample   = 258
	tagSampleFormat    = 339
	tagModelPixelScale = 33550
	tagModelTiepoint   = 33922
	tagModelTransform  = 34264
	tagGeoKeyDirectory = 34735
	tagGDALNoData      = 42113
)

// GeoKeys inside the GeoKeyDirectory.
const (
	geoKeyModelType      = 1024
	geoKeyRasterType     = 1025
	geoKeyGeographicType = 2048
	geoKeyProjectedType  = 3072

	modelProjected  = 1
	modelGeographic = 2
	rasterPixelArea = 1
	rasterPoint     = 2
	userDefined     = 32767
)

const (
	sampleUnsigned = 1
	sampleSigned   = 2
	sampleFloat    = 3
)

// TIFF field types.
const (
	dtByte   = 1
	dtASCII  = 2
	dtShort  = 3
	dtLong   = 4
	dtDouble = 12
)

var fieldSize = map[uint16]int{
	1: 1, 2: 1, 3: 2, 4: 4, 5: 8, 6: 1, 7: 1, 8: 2, 9: 4, 10: 8, 11: 4, 12: 8,
}

var errNotTIFF = errors.New("not a classic TIFF")

// ifdEntry is one field of the first IFD. raw holds the value bytes in the
// file's byte order.
type ifdEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	raw   []byte
}

func (e ifdEntry) uints(order binary.ByteOrder) []uint32 {
	size := fieldSize[e.typ]
	if size == 0 {
		return nil
	}
	out := make([]uint32, 0, e.count)
	for i := 0; i+size <= len(e.raw); i += size {
		switch e.typ {
		case dtByte:
			out = append(out, uint32(e.raw[i]))
		case dtShort:
			out = append(out, uint32(order.Uint16(e.raw[i:])))
		case dtLong:
			out = append(out, order.Uint32(e.raw[i:]))
		default:
			return nil
		}
	}
	return out
}

func (e ifdEntry) doubles(order binary.ByteOrder) []float64 {
	if e.typ != dtDouble {
		return nil
	}
	out := make([]float64, 0, e.count)
	for i := 0; i+8 <= len(e.raw); i += 8 {
		out = append(out, math.Float64frombits(order.Uint64(e.raw[i:])))
	}
	return out
}

func (e ifdEntry) ascii() string {
	return strings.TrimRight(string(e.raw), "\x00 ")
}

// readIFD parses the first IFD of a classic TIFF. Entries of unknown type
// are skipped. The raw slices alias data.
func readIFD(data []byte) (binary.ByteOrder, []ifdEntry, error) {
	if len(data) < 8 {
		return nil, nil, errNotTIFF
	}
	var order binary.ByteOrder
	switch string(data[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, nil, errNotTIFF
	}
	if order.Uint16(data[2:]) != 42 {
		return nil, nil, errNotTIFF
	}

	off := int(order.Uint32(data[4:]))
	if off+2 > len(data) {
		return nil, nil, fmt.Errorf("IFD offset %d beyond %d bytes", off, len(data))
	}
	n := int(order.Uint16(data[off:]))
	entries := make([]ifdEntry, 0, n)
	for i := 0; i < n; i++ {
		pos := off + 2 + 12*i
		if pos+12 > len(data) {
			return nil, nil, fmt.Errorf("IFD truncated at entry %d", i)
		}
		e := ifdEntry{
			tag:   order.Uint16(data[pos:]),
			typ:   order.Uint16(data[pos+2:]),
			count: order.Uint32(data[pos+4:]),
		}
		size, ok := fieldSize[e.typ]
		if !ok {
			continue
		}
		length := int64(size) * int64(e.count)
		start := int64(pos + 8)
		if length > 4 {
			start = int64(order.Uint32(data[pos+8:]))
		}
		if start+length > int64(len(data)) {
			return nil, nil, fmt.Errorf("tag %d value beyond end of file", e.tag)
		}
		e.raw = data[start : start+length]
		entries = append(entries, e)
	}
	return order, entries, nil
}

// tiffMeta is what the tags say about a raster.
type tiffMeta struct {
	bits         int
	sampleFormat int
	geoTransform [6]float64
	crs          string
	noData       NoData
}

func (m tiffMeta) dtype() DType {
	switch {
	case m.bits == 8 && m.sampleFormat == sampleUnsigned:
		return Uint8
	case m.bits == 16 && m.sampleFormat == sampleUnsigned:
		return Uint16
	case m.bits == 16 && m.sampleFormat == sampleSigned:
		return Int16
	case m.bits == 32 && m.sampleFormat == sampleFloat:
		return Float32
	case m.bits == 64 && m.sampleFormat == sampleFloat:
		return Float64
	}
	return ""
}

// readGeoTIFF extracts sample type, georeferencing and nodata from the tags
// of data. A signed SampleFormat is rewritten to unsigned in place so the
// pixel decoder accepts the file; callers reinterpret the samples through
// the returned dtype.
func readGeoTIFF(data []byte) (tiffMeta, error) {
	order, entries, err := readIFD(data)
	if err != nil {
		return tiffMeta{}, err
	}
	byTag := make(map[uint16]ifdEntry, len(entries))
	for _, e := range entries {
		byTag[e.tag] = e
	}

	m := tiffMeta{sampleFormat: sampleUnsigned}
	if e, ok := byTag[tagBitsPerSample]; ok {
		if v := e.uints(order); len(v) > 0 {
			m.bits = int(v[0])
		}
	}
	if e, ok := byTag[tagSampleFormat]; ok {
		if v := e.uints(order); len(v) > 0 {
			m.sampleFormat = int(v[0])
		}
		if m.sampleFormat == sampleSigned && e.typ == dtShort {
			for i := 0; i+2 <= len(e.raw); i += 2 {
				order.PutUint16(e.raw[i:], sampleUnsigned)
			}
		}
	}

	keys := geoKeys(byTag[tagGeoKeyDirectory].uints(order))
	m.crs = keys.crs()

	if e, ok := byTag[tagModelTransform]; ok {
		if t := e.doubles(order); len(t) >= 8 {
			m.geoTransform = [6]float64{t[3], t[0], t[1], t[7], t[4], t[5]}
		}
	} else if tp, sc := byTag[tagModelTiepoint].doubles(order), byTag[tagModelPixelScale].doubles(order); len(tp) >= 6 && len(sc) >= 2 {
		gt := [6]float64{tp[3] - tp[0]*sc[0], sc[0], 0, tp[4] + tp[1]*sc[1], 0, -sc[1]}
		if keys[geoKeyRasterType] == rasterPoint {
			gt[0] -= gt[1] / 2
			gt[3] -= gt[5] / 2
		}
		m.geoTransform = gt
	}

	if e, ok := byTag[tagGDALNoData]; ok && e.typ == dtASCII {
		s := e.ascii()
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return m, fmt.Errorf("parse GDAL_NODATA %q: %w", s, err)
		}
		m.noData = NoDataValue(v)
	}
	return m, nil
}

// geoKeyMap maps inline SHORT GeoKeys to their values.
type geoKeyMap map[int]int

func geoKeys(dir []uint32) geoKeyMap {
	keys := make(geoKeyMap)
	if len(dir) < 4 {
		return keys
	}
	n := int(dir[3])
	for i := 0; i < n && 4+4*i+3 < len(dir); i++ {
		k := dir[4+4*i:]
		if k[1] != 0 || k[2] != 1 {
			continue
		}
		keys[int(k[0])] = int(k[3])
	}
	return keys
}

func (k geoKeyMap) crs() string {
	for _, key := range []int{geoKeyProjectedType, geoKeyGeographicType} {
		if code := k[key]; code != 0 && code != userDefined {
			return "EPSG:" + strconv.Itoa(code)
		}
	}
	return ""
}

// epsgCode parses an "EPSG:<code>" CRS.
func epsgCode(crs string) (int, bool) {
	rest, ok := strings.CutPrefix(strings.ToUpper(strings.TrimSpace(crs)), "EPSG:")
	if !ok {
		return 0, false
	}
	code, err := strconv.Atoi(rest)
	if err != nil || code <= 0 || code >= userDefined {
		return 0, false
	}
	return code, true
}

// geoEntries are the tags writeGeoTIFF adds for profile p.
func geoEntries(order binary.ByteOrder, p Profile) []ifdEntry {
	format := uint16(sampleUnsigned)
	if p.DType == Int16 {
		format = sampleSigned
	}
	entries := []ifdEntry{shortsEntry(order, tagSampleFormat, format)}

	gt := p.GeoTransform
	switch {
	case gt == [6]float64{}:
	case gt[2] == 0 && gt[4] == 0:
		entries = append(entries,
			doublesEntry(order, tagModelPixelScale, gt[1], -gt[5], 0),
			doublesEntry(order, tagModelTiepoint, 0, 0, 0, gt[0], gt[3], 0))
	default:
		entries = append(entries, doublesEntry(order, tagModelTransform,
			gt[1], gt[2], 0, gt[0],
			gt[4], gt[5], 0, gt[3],
			0, 0, 0, 0,
			0, 0, 0, 1))
	}

	if code, ok := epsgCode(p.CRS); ok {
		// EPSG geographic CRS codes live in 4000-4999.
		model, key := uint16(modelProjected), uint16(geoKeyProjectedType)
		if code >= 4000 && code < 5000 {
			model, key = modelGeographic, geoKeyGeographicType
		}
		entries = append(entries, shortsEntry(order, tagGeoKeyDirectory,
			1, 1, 0, 3,
			geoKeyModelType, 0, 1, model,
			geoKeyRasterType, 0, 1, rasterPixelArea,
			key, 0, 1, uint16(code)))
	}

	if p.NoData.Defined {
		entries = append(entries, ifdEntry{
			tag:   tagGDALNoData,
			typ:   dtASCII,
			count: uint32(len(formatNoData(p.NoData.Value)) + 1),
			raw:   append([]byte(formatNoData(p.NoData.Value)), 0),
		})
	}
	return entries
}

func shortsEntry(order binary.ByteOrder, tag uint16, vals ...uint16) ifdEntry {
	raw := make([]byte, 2*len(vals))
	for i, v := range vals {
		order.PutUint16(raw[2*i:], v)
	}
	return ifdEntry{tag: tag, typ: dtShort, count: uint32(len(vals)), raw: raw}
}

func doublesEntry(order binary.ByteOrder, tag uint16, vals ...float64) ifdEntry {
	raw := make([]byte, 8*len(vals))
	for i, v := range vals {
		order.PutUint64(raw[8*i:], math.Float64bits(v))
	}
	return ifdEntry{tag: tag, typ: dtDouble, count: uint32(len(vals)), raw: raw}
}

// writeGeoTIFF returns data with a replacement first IFD appended that
// carries the GeoTIFF tags of p next to the encoder's own. Pixel data and
// the values the old IFD points at stay where they are.
func writeGeoTIFF(data []byte, p Profile) ([]byte, error) {
	order, entries, err := readIFD(data)
	if err != nil {
		return nil, err
	}
	byTag := make(map[uint16]ifdEntry, len(entries))
	for _, e := range entries {
		byTag[e.tag] = e
	}
	for _, e := range geoEntries(order, p) {
		byTag[e.tag] = e
	}
	merged := make([]ifdEntry, 0, len(byTag))
	for _, e := range byTag {
		merged = append(merged, e)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].tag < merged[j].tag })

	out := append([]byte(nil), data...)
	if len(out)%2 == 1 {
		out = append(out, 0)
	}
	ifdOff := len(out)
	ifd := make([]byte, 2+12*len(merged)+4)
	valuesOff := ifdOff + len(ifd)
	var values []byte

	order.PutUint16(ifd, uint16(len(merged)))
	for i, e := range merged {
		pos := 2 + 12*i
		order.PutUint16(ifd[pos:], e.tag)
		order.PutUint16(ifd[pos+2:], e.typ)
		order.PutUint32(ifd[pos+4:], e.count)
		if len(e.raw) <= 4 {
			copy(ifd[pos+8:], e.raw)
			continue
		}
		order.PutUint32(ifd[pos+8:], uint32(valuesOff+len(values)))
		values = append(values, e.raw...)
		if len(values)%2 == 1 {
			values = append(values, 0)
		}
	}

	out = append(out, ifd...)
	out = append(out, values...)
	order.PutUint32(out[4:], uint32(ifdOff))
	return out, nil
}
