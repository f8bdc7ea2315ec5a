package workspace

import (
	"sort"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
)

func writeFile(t *testing.T, fs billy.Filesystem, name string) {
	t.Helper()
	if err := util.WriteFile(fs, name, []byte("x"), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func exists(fs billy.Filesystem, name string) bool {
	_, err := fs.Stat(name)
	return err == nil
}

func TestCleanup(t *testing.T) {
	fs := memfs.New()
	for _, name := range []string{
		"work/clear_S2A_B04_20250115T135701_22MCC.tif",
		"work/provenance_S2A_B04_20250115T135701_22MCC.tif",
		"work/clear_S2A_B04_20250131T135701_22MCC.tif",
		"work/clear_S2A_B04_20250216T135701_22MCC.tif",
	} {
		writeFile(t, fs, name)
	}

	removed, err := Cleanup(fs, "work", []string{"20250115", "20250131"})
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	sort.Strings(removed)
	if len(removed) != 3 {
		t.Fatalf("removed = %v, want 3 files", removed)
	}
	if !exists(fs, "work/clear_S2A_B04_20250216T135701_22MCC.tif") {
		t.Error("file with unrelated key was removed")
	}
	if exists(fs, "work/clear_S2A_B04_20250115T135701_22MCC.tif") {
		t.Error("file with key 20250115 survived")
	}
}

func TestCleanup_MissingDirAndNoKeys(t *testing.T) {
	fs := memfs.New()
	if removed, err := Cleanup(fs, "nope", []string{"20250115"}); err != nil || len(removed) != 0 {
		t.Errorf("Cleanup(missing) = %v, %v; want nothing", removed, err)
	}
	writeFile(t, fs, "work/a_20250115T.tif")
	if removed, err := Cleanup(fs, "work", nil); err != nil || len(removed) != 0 {
		t.Errorf("Cleanup(no keys) = %v, %v; want nothing", removed, err)
	}
}

func TestTracker_Release(t *testing.T) {
	fs := memfs.New()
	tr, err := NewTracker(fs, "work/B04")
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}

	clearPath := tr.Path("clear_S2A_B04_20250115T135701_22MCC.tif")
	writeFile(t, fs, clearPath)
	writeFile(t, fs, clearPath+".aux.xml")
	tr.Track(clearPath, "20250115")
	tr.Track(tr.Path("provenance_S2A_B04_20250115T135701_22MCC.tif"), "20250115") // never written

	// Written by a step that failed before tracking it.
	stray := tr.Path("clear_cloud-band_S2A_SCL_20250115T135701_22MCC.tif")
	writeFile(t, fs, stray)

	if got := tr.Keys(); len(got) != 1 || got[0] != "20250115" {
		t.Errorf("Keys = %v, want [20250115]", got)
	}

	if err := tr.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	for _, p := range []string{clearPath, clearPath + ".aux.xml", stray} {
		if exists(fs, p) {
			t.Errorf("%s survived Release", p)
		}
	}
	if err := tr.Release(); err != nil {
		t.Errorf("second Release: %v", err)
	}
}
