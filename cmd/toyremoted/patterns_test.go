package main

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"toyremote/remote"
)

func testLibrary(t *testing.T) *PatternLibrary {
	t.Helper()
	return NewPatternLibrary(filepath.Join(t.TempDir(), "patterns"), slog.Default())
}

func samplePattern(name string, samples ...float64) remote.Pattern {
	return remote.Pattern{
		ID:   remote.NewPatternID(),
		Name: name,
		Tracks: []remote.Track{
			{Brand: "Lovense", MotorIndex: 0, MotorType: remote.MotorVibration, Samples: samples},
		},
	}
}

func TestPatternLibrary_SaveAndReload(t *testing.T) {
	lib := testLibrary(t)
	if err := lib.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	p := samplePattern("Wave", 0, 0.5, 1)
	path, err := lib.Save(p)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if filepath.Base(path) != p.ID+".yaml" {
		t.Fatalf("path got %q, want %s.yaml", path, p.ID)
	}

	fresh := NewPatternLibrary(lib.Dir(), slog.Default())
	if err := fresh.Load(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	got, err := fresh.Get(p.ID)
	if err != nil {
		t.Fatalf("Get by id: %v", err)
	}
	if got.Name != "Wave" || got.Length() != 3 {
		t.Fatalf("reloaded pattern got %+v", got)
	}
	if _, err := fresh.Get("wave"); err != nil {
		t.Fatalf("Get by name (case-insensitive): %v", err)
	}
}

func TestPatternLibrary_SkipsInvalidFiles(t *testing.T) {
	lib := testLibrary(t)
	if err := os.MkdirAll(lib.Dir(), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(lib.Dir(), "broken.yaml"), []byte("id: nope\ntracks: []\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := lib.Save(samplePattern("Good", 1)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := lib.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := len(lib.List()); got != 1 {
		t.Fatalf("patterns got %d, want 1", got)
	}
}

func TestPatternLibrary_GetMissing(t *testing.T) {
	lib := testLibrary(t)
	if _, err := lib.Get("nothing"); !errors.Is(err, ErrPatternNotFound) {
		t.Fatalf("got %v, want ErrPatternNotFound", err)
	}
}

func TestPatternLibrary_ListSortedWithDuration(t *testing.T) {
	lib := testLibrary(t)
	for _, name := range []string{"b", "a"} {
		if _, err := lib.Save(samplePattern(name, make([]float64, 50)...)); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	list := lib.List()
	if len(list) != 2 || list[0].Name != "a" || list[1].Name != "b" {
		t.Fatalf("list got %+v", list)
	}
	if list[0].DurationMS != 1000 {
		t.Fatalf("duration got %d ms, want 1000", list[0].DurationMS)
	}
}

func TestPatternLibrary_SaveRejectsInvalid(t *testing.T) {
	lib := testLibrary(t)
	if _, err := lib.Save(remote.Pattern{ID: "x"}); err == nil {
		t.Fatalf("expected validation error")
	}
}
