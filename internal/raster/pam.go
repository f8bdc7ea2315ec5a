package raster

import (
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// pamDataset is the subset of GDAL's persistent auxiliary metadata
// (<file>.aux.xml) needed to carry georeferencing and nodata next to a
// plain TIFF.
type pamDataset struct {
	XMLName      xml.Name     `xml:"PAMDataset"`
	SRS          string       `xml:"SRS,omitempty"`
	GeoTransform string       `xml:"GeoTransform,omitempty"`
	Metadata     *pamMetadata `xml:"Metadata,omitempty"`
	Bands        []pamBand    `xml:"PAMRasterBand"`
}

type pamMetadata struct {
	Domain string    `xml:"domain,attr,omitempty"`
	Items  []pamItem `xml:"MDI"`
}

type pamItem struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

type pamBand struct {
	Band        int    `xml:"band,attr"`
	NoDataValue string `xml:"NoDataValue,omitempty"`
}

const pamDomain = "SMOSAIC"

func sidecarPath(path string) string { return path + ".aux.xml" }

func encodePAM(w io.Writer, p Profile) error {
	doc := pamDataset{
		SRS:          p.CRS,
		GeoTransform: formatGeoTransform(p.GeoTransform),
		Metadata: &pamMetadata{
			Domain: pamDomain,
			Items:  []pamItem{{Key: "DATA_TYPE", Value: string(p.DType)}},
		},
	}
	for i := 0; i < p.Count; i++ {
		band := pamBand{Band: i + 1}
		if p.NoData.Defined {
			band.NoDataValue = formatNoData(p.NoData.Value)
		}
		doc.Bands = append(doc.Bands, band)
	}

	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode aux.xml: %w", err)
	}
	return enc.Flush()
}

func decodePAM(r io.Reader, p *Profile) error {
	var doc pamDataset
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return fmt.Errorf("decode aux.xml: %w", err)
	}
	if doc.SRS != "" {
		p.CRS = doc.SRS
	}
	if doc.GeoTransform != "" {
		gt, err := parseGeoTransform(doc.GeoTransform)
		if err != nil {
			return err
		}
		p.GeoTransform = gt
	}
	if doc.Metadata != nil {
		for _, item := range doc.Metadata.Items {
			if item.Key == "DATA_TYPE" {
				p.DType = DType(strings.TrimSpace(item.Value))
			}
		}
	}
	for _, band := range doc.Bands {
		if band.Band != 1 || band.NoDataValue == "" {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(band.NoDataValue), 64)
		if err != nil {
			return fmt.Errorf("parse nodata %q: %w", band.NoDataValue, err)
		}
		p.NoData = NoDataValue(v)
	}
	return nil
}

func formatNoData(v float64) string {
	if math.IsNaN(v) {
		return "nan"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func formatGeoTransform(gt [6]float64) string {
	parts := make([]string, len(gt))
	for i, v := range gt {
		parts[i] = strconv.FormatFloat(v, 'e', 16, 64)
	}
	return strings.Join(parts, ", ")
}

func parseGeoTransform(s string) ([6]float64, error) {
	var gt [6]float64
	parts := strings.Split(s, ",")
	if len(parts) != 6 {
		return gt, fmt.Errorf("geotransform %q: want 6 values, got %d", s, len(parts))
	}
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return gt, fmt.Errorf("geotransform %q: %w", s, err)
		}
		gt[i] = v
	}
	return gt, nil
}
