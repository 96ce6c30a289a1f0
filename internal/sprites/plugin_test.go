package sprites

import (
	"encoding/json"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Faultbox/spriteforge/internal/pipeline"
)

// eventRecorder collects bus events; handleBatch emits from worker
// goroutines, so access is locked.
type eventRecorder struct {
	mu     sync.Mutex
	events []pipeline.Event
}

func (r *eventRecorder) record(e pipeline.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *eventRecorder) named(name string) []pipeline.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []pipeline.Event
	for _, e := range r.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

func newTestPlugin(t *testing.T) (*Plugin, *pipeline.Context, *eventRecorder, string, string) {
	t.Helper()
	src := t.TempDir()
	out := t.TempDir()
	p := New(src, out)
	ctx := pipeline.NewContext(false, false)
	rec := &eventRecorder{}
	ctx.Events.Subscribe(rec.record)
	if ok, err := p.Init(ctx); err != nil || !ok {
		t.Fatalf("Init() = %v, %v", ok, err)
	}
	return p, ctx, rec, src, out
}

func writeHeroSheet(t *testing.T, src string) string {
	t.Helper()
	dir := filepath.Join(src, "hero")
	if err := os.Mkdir(dir, 0755); err != nil {
		t.Fatal(err)
	}
	writeStripPNG(t, filepath.Join(dir, "hero-16x32.png"), 64, 32, color.RGBA{R: 99, A: 255})
	return dir
}

func TestPluginInit_InapplicableWithoutSpriteRoot(t *testing.T) {
	p := New(filepath.Join(t.TempDir(), "nope"), t.TempDir())
	ok, err := p.Init(pipeline.NewContext(false, false))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("plugin should report inapplicable when the sprite root is absent")
	}
}

func TestPluginBuild_EmitsArtifactsAndEvent(t *testing.T) {
	p, ctx, rec, src, out := newTestPlugin(t)
	writeHeroSheet(t, src)

	if err := p.Build(ctx); err != nil {
		t.Fatal(err)
	}

	for _, name := range artifactNames("hero") {
		if _, err := os.Stat(filepath.Join(out, name)); err != nil {
			t.Errorf("artifact %s missing: %v", name, err)
		}
	}

	updated := rec.named(pipeline.EventSheetUpdated)
	if len(updated) != 1 {
		t.Fatalf("got %d sheet-updated events, want 1", len(updated))
	}
	desc, ok := updated[0].Payload.(*SheetDescriptor)
	if !ok {
		t.Fatalf("payload type %T, want *SheetDescriptor", updated[0].Payload)
	}
	if desc.Name != "hero" || desc.Width != 64 || desc.Height != 32 {
		t.Errorf("descriptor = %s %dx%d", desc.Name, desc.Width, desc.Height)
	}

	// Descriptor on disk matches the emitted one and honors the reserved
	// index slot and bottom-left frame origin.
	data, err := os.ReadFile(filepath.Join(out, descriptorFileName("hero")))
	if err != nil {
		t.Fatal(err)
	}
	var onDisk SheetDescriptor
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatal(err)
	}
	if len(onDisk.Index) != 2 || onDisk.Index[0] != "" || onDisk.Index[1] != "hero" {
		t.Errorf("index = %v, want [\"\" hero]", onDisk.Index)
	}
	meta := onDisk.Sprites["hero"]
	if meta.Index != 1 || len(meta.Frames) != 4 {
		t.Fatalf("sprite meta = %+v", meta)
	}
	// Source rect top=0..bottom=32 in a 32-high atlas flips onto itself.
	if f := meta.Frames[0]; f.Top != 0 || f.Bottom != 32 {
		t.Errorf("flipped frame = %+v", f)
	}
	for _, url := range onDisk.Atlases {
		if len(url) < len("?v=")+8 {
			t.Errorf("atlas URL %q missing cache-busting hash", url)
		}
	}
}

func TestPluginBuild_SecondPassIsWriteFree(t *testing.T) {
	p, ctx, _, src, out := newTestPlugin(t)
	dir := writeHeroSheet(t, src)

	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(filepath.Join(dir, "hero-16x32.png"), past, past); err != nil {
		t.Fatal(err)
	}

	if err := p.Build(ctx); err != nil {
		t.Fatal(err)
	}

	mtimes := make(map[string]time.Time)
	for _, name := range artifactNames("hero") {
		info, err := os.Stat(filepath.Join(out, name))
		if err != nil {
			t.Fatal(err)
		}
		mtimes[name] = info.ModTime()
	}

	if err := p.Build(ctx); err != nil {
		t.Fatal(err)
	}
	for name, before := range mtimes {
		info, err := os.Stat(filepath.Join(out, name))
		if err != nil {
			t.Fatal(err)
		}
		if !info.ModTime().Equal(before) {
			t.Errorf("artifact %s rewritten on an up-to-date pass", name)
		}
	}
}

func TestPluginBuild_CleanRebuildsUpToDateSheet(t *testing.T) {
	p, _, rec, src, _ := newTestPlugin(t)
	dir := writeHeroSheet(t, src)
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(filepath.Join(dir, "hero-16x32.png"), past, past); err != nil {
		t.Fatal(err)
	}

	ctx := pipeline.NewContext(false, false)
	ctx.Events.Subscribe(rec.record)
	if err := p.Build(ctx); err != nil {
		t.Fatal(err)
	}

	cleanCtx := pipeline.NewContext(false, true)
	cleanCtx.Events.Subscribe(rec.record)
	if err := p.Build(cleanCtx); err != nil {
		t.Fatal(err)
	}

	if got := len(rec.named(pipeline.EventSheetUpdated)); got != 2 {
		t.Errorf("got %d sheet-updated events, want 2 (clean build must not skip)", got)
	}
}

func TestPluginBuild_FailingSheetKeepsPriorArtifacts(t *testing.T) {
	p, ctx, _, src, out := newTestPlugin(t)
	dir := writeHeroSheet(t, src)
	if err := p.Build(ctx); err != nil {
		t.Fatal(err)
	}
	before, err := os.ReadFile(filepath.Join(out, descriptorFileName("hero")))
	if err != nil {
		t.Fatal(err)
	}

	// A layered document without a diffuse layer poisons the sheet.
	bad := buildTestASE(
		[]string{"height"},
		[][]testCel{{{layer: 0, w: 16, h: 16, rgba: [4]byte{1, 1, 1, 255}}}},
		nil,
	)
	if err := os.WriteFile(filepath.Join(dir, "broken.ase"), bad, 0644); err != nil {
		t.Fatal(err)
	}

	if err := p.Build(ctx); err != nil {
		t.Fatalf("per-sheet failures must not abort the phase: %v", err)
	}
	if ctx.Log.ErrorCount() == 0 {
		t.Error("failed sheet should be counted as an error")
	}

	after, err := os.ReadFile(filepath.Join(out, descriptorFileName("hero")))
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Error("failed rebuild must leave prior artifacts untouched")
	}
}

func TestHandleBatch_CoalescedUpdatesRebuildOnce(t *testing.T) {
	p, ctx, rec, src, _ := newTestPlugin(t)
	dir := writeHeroSheet(t, src)

	member := filepath.Join(dir, "hero-16x32.png")
	p.handleBatch(ctx, []pipeline.FileEvent{
		{Path: member, Op: pipeline.OpUpdate},
		{Path: member, Op: pipeline.OpUpdate},
		{Path: member, Op: pipeline.OpUpdate},
	})

	if got := len(rec.named(pipeline.EventSheetUpdated)); got != 1 {
		t.Errorf("three updates in one batch should rebuild once, got %d events", got)
	}
}

func TestHandleBatch_RepeatedRebuildIsByteIdentical(t *testing.T) {
	p, ctx, _, src, out := newTestPlugin(t)
	dir := writeHeroSheet(t, src)
	member := filepath.Join(dir, "hero-16x32.png")

	read := func() map[string][]byte {
		files := make(map[string][]byte)
		for _, name := range artifactNames("hero") {
			data, err := os.ReadFile(filepath.Join(out, name))
			if err != nil {
				t.Fatal(err)
			}
			files[name] = data
		}
		return files
	}

	p.handleBatch(ctx, []pipeline.FileEvent{{Path: member, Op: pipeline.OpUpdate}})
	first := read()
	p.handleBatch(ctx, []pipeline.FileEvent{{Path: member, Op: pipeline.OpUpdate}})
	second := read()

	for name, data := range first {
		if string(second[name]) != string(data) {
			t.Errorf("artifact %s differs between identical rebuilds", name)
		}
	}
}

func TestHandleBatch_SheetDirectoryRemoved(t *testing.T) {
	p, ctx, rec, src, out := newTestPlugin(t)
	dir := writeHeroSheet(t, src)
	if err := p.Build(ctx); err != nil {
		t.Fatal(err)
	}

	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}
	p.handleBatch(ctx, []pipeline.FileEvent{{Path: dir, Op: pipeline.OpRemove}})

	for _, name := range artifactNames("hero") {
		if _, err := os.Stat(filepath.Join(out, name)); !os.IsNotExist(err) {
			t.Errorf("artifact %s should be deleted", name)
		}
	}
	if got := len(rec.named(pipeline.EventSheetRemoved)); got != 1 {
		t.Errorf("got %d sheet-removed events, want 1", got)
	}
}

func TestHandleBatch_MemberRemovalRebuildsSheet(t *testing.T) {
	p, ctx, rec, src, out := newTestPlugin(t)
	dir := writeHeroSheet(t, src)
	writeStripPNG(t, filepath.Join(dir, "villain-16x32.png"), 32, 32, color.RGBA{B: 99, A: 255})
	if err := p.Build(ctx); err != nil {
		t.Fatal(err)
	}

	if err := os.Remove(filepath.Join(dir, "villain-16x32.png")); err != nil {
		t.Fatal(err)
	}
	p.handleBatch(ctx, []pipeline.FileEvent{
		{Path: filepath.Join(dir, "villain-16x32.png"), Op: pipeline.OpRemove},
	})

	if got := len(rec.named(pipeline.EventSheetUpdated)); got != 2 {
		t.Fatalf("expected a rebuild after member removal, got %d updates", got)
	}

	data, err := os.ReadFile(filepath.Join(out, descriptorFileName("hero")))
	if err != nil {
		t.Fatal(err)
	}
	var desc SheetDescriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		t.Fatal(err)
	}
	if _, gone := desc.Sprites["villain"]; gone {
		t.Error("removed member still present in rebuilt descriptor")
	}
}

func TestHandleBatch_DirtyButVanishedSheetTreatedAsRemoved(t *testing.T) {
	p, ctx, rec, src, _ := newTestPlugin(t)
	dir := writeHeroSheet(t, src)
	if err := p.Build(ctx); err != nil {
		t.Fatal(err)
	}

	member := filepath.Join(dir, "hero-16x32.png")
	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}
	// The batch only saw a member change, but the directory is already gone.
	p.handleBatch(ctx, []pipeline.FileEvent{{Path: member, Op: pipeline.OpRemove}})

	if got := len(rec.named(pipeline.EventSheetRemoved)); got != 1 {
		t.Errorf("got %d sheet-removed events, want 1", got)
	}
}

func TestPluginClean_RemovesAllArtifacts(t *testing.T) {
	p, ctx, _, src, out := newTestPlugin(t)
	writeHeroSheet(t, src)
	if err := p.Build(ctx); err != nil {
		t.Fatal(err)
	}

	if err := p.Clean(ctx); err != nil {
		t.Fatal(err)
	}
	for _, name := range artifactNames("hero") {
		if _, err := os.Stat(filepath.Join(out, name)); !os.IsNotExist(err) {
			t.Errorf("artifact %s survived Clean", name)
		}
	}
}
