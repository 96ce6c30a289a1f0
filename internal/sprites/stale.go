package sprites

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Faultbox/spriteforge/internal/pipeline"
)

// recognizedSourceExt filters out editor temp files and other noise. Only
// these extensions count as sprite sources, both during a build walk and
// when classifying watch events.
func recognizedSourceExt(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".ase", ".aseprite":
		return true
	default:
		return false
	}
}

// NeedsRebuild is the single staleness predicate shared by full-build and
// watch mode. A clean build rebuilds unconditionally; a watch event batch
// that marked the sheet dirty is proof of staleness; otherwise outputs are
// compared against the newest source modification time.
func NeedsRebuild(sheetDir, outDir, sheet string, clean, eventDirty bool) bool {
	if clean || eventDirty {
		return true
	}
	return stale(sheetDir, outDir, sheet)
}

// stale reports whether any artifact is missing or older than the newest
// source file in the sheet directory.
func stale(sheetDir, outDir, sheet string) bool {
	var latest time.Time
	err := filepath.WalkDir(sheetDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !recognizedSourceExt(path) {
			return nil
		}
		if info, err := d.Info(); err == nil && info.ModTime().After(latest) {
			latest = info.ModTime()
		}
		return nil
	})
	if err != nil {
		return true
	}

	for _, name := range artifactNames(sheet) {
		info, err := os.Stat(filepath.Join(outDir, name))
		if err != nil {
			return true
		}
		if info.ModTime().Before(latest) {
			return true
		}
	}
	return false
}

// BatchPlan is the outcome of classifying one watch event batch: which
// sheets must rebuild and which were removed entirely. Each sheet appears
// at most once, in first-seen order; a later event for the same sheet
// overrides its classification.
type BatchPlan struct {
	Dirty   []string
	Removed []string
}

const (
	actionNone = iota
	actionDirty
	actionRemoved
)

// PlanBatch classifies filesystem events by path depth relative to the
// sprite-source root:
//
//	depth 1, create/update: member changed, sheet dirty
//	depth 1, remove:        whole sheet removed
//	depth >1:               sheet dirty, but only for recognized source
//	                        extensions (membership loss still changes
//	                        composition, so removes count too)
func PlanBatch(root string, batch []pipeline.FileEvent) BatchPlan {
	actions := make(map[string]int)
	var order []string

	for _, ev := range batch {
		rel, err := filepath.Rel(root, ev.Path)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}
		parts := strings.Split(rel, string(filepath.Separator))
		sheet := parts[0]

		var action int
		if len(parts) == 1 {
			if ev.Op == pipeline.OpRemove {
				action = actionRemoved
			} else {
				action = actionDirty
			}
		} else {
			if !recognizedSourceExt(ev.Path) {
				continue
			}
			action = actionDirty
		}

		if _, seen := actions[sheet]; !seen {
			order = append(order, sheet)
		}
		actions[sheet] = action
	}

	var plan BatchPlan
	for _, sheet := range order {
		switch actions[sheet] {
		case actionDirty:
			plan.Dirty = append(plan.Dirty, sheet)
		case actionRemoved:
			plan.Removed = append(plan.Removed, sheet)
		}
	}
	return plan
}
