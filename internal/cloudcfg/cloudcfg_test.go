package cloudcfg

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultLookup(t *testing.T) {
	cfg, err := Default().Lookup("S2_L2A-1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if cfg.CloudBand != "SCL" {
		t.Errorf("CloudBand = %q, want SCL", cfg.CloudBand)
	}
	if cfg.NoDataValue != 0 {
		t.Errorf("NoDataValue = %v, want 0", cfg.NoDataValue)
	}
	for _, code := range []float64{4, 5, 6, 11} {
		if !cfg.IsClear(code) {
			t.Errorf("IsClear(%v) = false, want true", code)
		}
	}
	for _, code := range []float64{0, 1, 3, 8, 9, 10, 4.5} {
		if cfg.IsClear(code) {
			t.Errorf("IsClear(%v) = true, want false", code)
		}
	}
}

func TestLookup_UnknownCollection(t *testing.T) {
	_, err := Default().Lookup("LANDSAT-9")
	var unknown *UnknownCollectionError
	if !errors.As(err, &unknown) {
		t.Fatalf("err = %v, want *UnknownCollectionError", err)
	}
	if unknown.Collection != "LANDSAT-9" {
		t.Errorf("Collection = %q, want LANDSAT-9", unknown.Collection)
	}
}

func TestLookup_ReturnsCopy(t *testing.T) {
	cfg, err := Default().Lookup("S2_L2A-1")
	if err != nil {
		t.Fatal(err)
	}
	cfg.NonCloudValues[0] = 99

	again, err := Default().Lookup("S2_L2A-1")
	if err != nil {
		t.Fatal(err)
	}
	if again.NonCloudValues[0] == 99 {
		t.Error("mutating a lookup result changed the registry")
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"missing band", "X-1:\n  non_cloud_values: [1]\n"},
		{"missing values", "X-1:\n  cloud_band: QA\n"},
		{"not yaml map", "- a\n- b\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.data)); err == nil {
				t.Error("Parse succeeded, want error")
			}
		})
	}
}

func TestLoadFileAndMerge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extra.yaml")
	data := "LANDSAT-2:\n  cloud_band: qa_pixel\n  non_cloud_values: [21824, 21952]\n  no_data_value: 1\n" +
		"S2_L2A-1:\n  cloud_band: SCL\n  non_cloud_values: [4, 5]\n  no_data_value: 0\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	extra, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	merged := Default().Merge(extra)

	got := merged.Collections()
	want := []string{"LANDSAT-2", "S2_L1C_BUNDLE-1", "S2_L2A-1"}
	if len(got) != len(want) {
		t.Fatalf("Collections = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Collections[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	s2, err := merged.Lookup("S2_L2A-1")
	if err != nil {
		t.Fatal(err)
	}
	if s2.IsClear(6) {
		t.Error("override not applied: code 6 still clear")
	}
	if orig, _ := Default().Lookup("S2_L2A-1"); !orig.IsClear(6) {
		t.Error("Merge mutated the default table")
	}
}
