package sprites

import (
	"image/color"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/Faultbox/spriteforge/internal/pipeline"
)

func TestPlanBatch(t *testing.T) {
	root := filepath.Join("assets", "sprites")
	p := func(parts ...string) string {
		return filepath.Join(append([]string{root}, parts...)...)
	}

	tests := []struct {
		name  string
		batch []pipeline.FileEvent
		want  BatchPlan
	}{
		{
			name:  "member update marks sheet dirty",
			batch: []pipeline.FileEvent{{Path: p("hero", "walk.ase"), Op: pipeline.OpUpdate}},
			want:  BatchPlan{Dirty: []string{"hero"}},
		},
		{
			name:  "member remove still marks sheet dirty",
			batch: []pipeline.FileEvent{{Path: p("hero", "walk.ase"), Op: pipeline.OpRemove}},
			want:  BatchPlan{Dirty: []string{"hero"}},
		},
		{
			name:  "sheet directory remove",
			batch: []pipeline.FileEvent{{Path: p("hero"), Op: pipeline.OpRemove}},
			want:  BatchPlan{Removed: []string{"hero"}},
		},
		{
			name:  "sheet directory create",
			batch: []pipeline.FileEvent{{Path: p("hero"), Op: pipeline.OpCreate}},
			want:  BatchPlan{Dirty: []string{"hero"}},
		},
		{
			name:  "unrecognized extension ignored",
			batch: []pipeline.FileEvent{{Path: p("hero", "walk.ase.swp"), Op: pipeline.OpUpdate}},
			want:  BatchPlan{},
		},
		{
			name: "each sheet classified once, first-seen order",
			batch: []pipeline.FileEvent{
				{Path: p("b", "x.png"), Op: pipeline.OpUpdate},
				{Path: p("a", "y.png"), Op: pipeline.OpUpdate},
				{Path: p("b", "z.png"), Op: pipeline.OpUpdate},
			},
			want: BatchPlan{Dirty: []string{"b", "a"}},
		},
		{
			name: "later event overrides classification",
			batch: []pipeline.FileEvent{
				{Path: p("hero", "walk.ase"), Op: pipeline.OpUpdate},
				{Path: p("hero"), Op: pipeline.OpRemove},
			},
			want: BatchPlan{Removed: []string{"hero"}},
		},
		{
			name:  "paths outside the root ignored",
			batch: []pipeline.FileEvent{{Path: filepath.Join("elsewhere", "x.png"), Op: pipeline.OpUpdate}},
			want:  BatchPlan{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PlanBatch(root, tt.batch)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("PlanBatch() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestNeedsRebuild(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()
	sheetDir := filepath.Join(src, "hero")
	if err := os.Mkdir(sheetDir, 0755); err != nil {
		t.Fatal(err)
	}
	writeStripPNG(t, filepath.Join(sheetDir, "hero-16x16.png"), 16, 16, color.RGBA{A: 255})

	if !NeedsRebuild(sheetDir, out, "hero", false, false) {
		t.Error("missing artifacts must force a rebuild")
	}

	// Fake a complete artifact set newer than the source.
	for _, name := range artifactNames("hero") {
		if err := os.WriteFile(filepath.Join(out, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(filepath.Join(sheetDir, "hero-16x16.png"), past, past); err != nil {
		t.Fatal(err)
	}

	if NeedsRebuild(sheetDir, out, "hero", false, false) {
		t.Error("fresh artifacts with an older source should not rebuild")
	}
	if !NeedsRebuild(sheetDir, out, "hero", true, false) {
		t.Error("a clean build rebuilds unconditionally")
	}
	if !NeedsRebuild(sheetDir, out, "hero", false, true) {
		t.Error("an event-dirty sheet rebuilds unconditionally")
	}

	// Touch the source past the artifacts: stale again.
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(filepath.Join(sheetDir, "hero-16x16.png"), future, future); err != nil {
		t.Fatal(err)
	}
	if !NeedsRebuild(sheetDir, out, "hero", false, false) {
		t.Error("source newer than artifacts must rebuild")
	}

	// One artifact gone: stale regardless of mtimes.
	if err := os.Chtimes(filepath.Join(sheetDir, "hero-16x16.png"), past, past); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(out, descriptorFileName("hero"))); err != nil {
		t.Fatal(err)
	}
	if !NeedsRebuild(sheetDir, out, "hero", false, false) {
		t.Error("a missing artifact must force a rebuild")
	}
}

func TestRecognizedSourceExt(t *testing.T) {
	for path, want := range map[string]bool{
		"hero.png":      true,
		"hero.ase":      true,
		"hero.aseprite": true,
		"hero.ASE":      true,
		"hero.txt":      false,
		"hero.ase.swp":  false,
		"hero":          false,
	} {
		if got := recognizedSourceExt(path); got != want {
			t.Errorf("recognizedSourceExt(%q) = %v, want %v", path, got, want)
		}
	}
}
