package sprites

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/Faultbox/spriteforge/internal/pipeline"
)

// PluginName is what downstream plugins declare in their Requires list.
const PluginName = "sprites"

// Plugin is the sprite compositor: one subdirectory per sheet under the
// source root becomes four atlas images plus lookup metadata in the output
// directory.
type Plugin struct {
	sourceRoot string
	outputDir  string
}

// New returns the compositor plugin for the given roots. The source root is
// made absolute up front so that watch event paths, which arrive absolute,
// classify against it.
func New(sourceRoot, outputDir string) *Plugin {
	if abs, err := filepath.Abs(sourceRoot); err == nil {
		sourceRoot = abs
	}
	return &Plugin{sourceRoot: sourceRoot, outputDir: outputDir}
}

// Name implements pipeline.Plugin.
func (p *Plugin) Name() string { return PluginName }

// Requires implements pipeline.Plugin. The compositor is a pipeline leaf.
func (p *Plugin) Requires() []string { return nil }

// Init reports the plugin inapplicable when the sprite root is absent.
func (p *Plugin) Init(ctx *pipeline.Context) (bool, error) {
	if _, err := os.Stat(p.sourceRoot); err != nil {
		return false, nil
	}
	if err := os.MkdirAll(p.outputDir, 0755); err != nil {
		return false, err
	}
	return true, nil
}

// Build compiles every stale sheet. Per-sheet failures are logged and
// counted; they never abort the other sheets.
func (p *Plugin) Build(ctx *pipeline.Context) error {
	sheets, err := p.listSheets()
	if err != nil {
		return err
	}

	ctx.Log.Push(PluginName)
	defer ctx.Log.Pop()

	for _, sheet := range sheets {
		dir := filepath.Join(p.sourceRoot, sheet)
		if !NeedsRebuild(dir, p.outputDir, sheet, ctx.CleanBuild, false) {
			ctx.Log.Debugf("%s up to date", sheet)
			continue
		}
		if err := p.rebuildSheet(ctx, sheet); err != nil {
			ctx.Log.Errorf("sheet %s: %v", sheet, err)
		}
	}
	return nil
}

// Watch registers the sprite root; each event batch is classified into
// dirty and removed sheets. Distinct sheets rebuild concurrently; the
// router serializes batches per plugin, so a rebuild of one sheet always
// finishes before the next batch touches it.
func (p *Plugin) Watch(ctx *pipeline.Context, router pipeline.WatchRouter) error {
	return router.Register(p.sourceRoot, func(batch []pipeline.FileEvent) {
		p.handleBatch(ctx, batch)
	})
}

// Clean removes every sheet's artifacts, best effort.
func (p *Plugin) Clean(ctx *pipeline.Context) error {
	sheets, err := p.listSheets()
	if err != nil {
		return err
	}
	for _, sheet := range sheets {
		p.removeArtifacts(sheet)
	}
	return nil
}

func (p *Plugin) listSheets() ([]string, error) {
	entries, err := os.ReadDir(p.sourceRoot)
	if err != nil {
		return nil, err
	}
	var sheets []string
	for _, e := range entries {
		if e.IsDir() {
			sheets = append(sheets, e.Name())
		}
	}
	return sheets, nil
}

// rebuildSheet runs the full per-sheet pipeline and emits a "sheet updated"
// event on success. Sheet state is rebuilt from scratch on every call.
func (p *Plugin) rebuildSheet(ctx *pipeline.Context, sheet string) error {
	ctx.Log.Push(sheet)
	defer ctx.Log.Pop()

	dir := filepath.Join(p.sourceRoot, sheet)
	s, queues, err := BuildSheet(dir, sheet)
	if err != nil {
		return err
	}

	desc, err := FinalizeSheet(s, queues, p.outputDir, ctx.Production)
	if err != nil {
		return err
	}
	if desc == nil {
		ctx.Log.Debugf("empty sheet, nothing to emit")
		return nil
	}

	ctx.Log.Infof("built %d sprites (%dx%d)", len(s.Names()), s.Width, s.Height)
	ctx.Events.Emit(pipeline.Event{Name: pipeline.EventSheetUpdated, Payload: desc})
	return nil
}

// handleBatch reprocesses each distinct dirty sheet exactly once and
// deletes artifacts for removed sheets. Dirty sheets run concurrently; the
// handler waits for all of them so the next batch never overlaps an
// in-flight rebuild of the same sheet.
func (p *Plugin) handleBatch(ctx *pipeline.Context, batch []pipeline.FileEvent) {
	plan := PlanBatch(p.sourceRoot, batch)

	ctx.Log.Push(PluginName)
	defer ctx.Log.Pop()

	for _, sheet := range plan.Removed {
		p.removeArtifacts(sheet)
		ctx.Log.Infof("sheet %s removed", sheet)
		ctx.Events.Emit(pipeline.Event{Name: pipeline.EventSheetRemoved, Payload: sheet})
	}

	var wg sync.WaitGroup
	for _, sheet := range plan.Dirty {
		wg.Add(1)
		go func(sheet string) {
			defer wg.Done()
			dir := filepath.Join(p.sourceRoot, sheet)
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				// Dirty-marked but already gone: treat as removal.
				p.removeArtifacts(sheet)
				ctx.Events.Emit(pipeline.Event{Name: pipeline.EventSheetRemoved, Payload: sheet})
				return
			}
			if err := p.rebuildSheet(ctx, sheet); err != nil {
				ctx.Log.Errorf("sheet %s: %v", sheet, err)
			}
		}(sheet)
	}
	wg.Wait()
}

func (p *Plugin) removeArtifacts(sheet string) {
	for _, name := range artifactNames(sheet) {
		// Best effort; a missing artifact is fine.
		_ = os.Remove(filepath.Join(p.outputDir, name))
	}
}
