// Package watch routes filesystem events to pipeline plugins. Events under
// a registered root are coalesced into batches; batches for one handler are
// delivered serially on a dedicated goroutine.
package watch

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Faultbox/spriteforge/internal/pipeline"
)

// Router implements pipeline.WatchRouter on top of fsnotify. fsnotify
// watches are not recursive, so every subdirectory under a root is watched
// individually and directories created later are picked up on the fly.
type Router struct {
	fw       *fsnotify.Watcher
	debounce time.Duration

	mu   sync.Mutex
	regs []*registration

	wg      sync.WaitGroup
	closing chan struct{}
}

type registration struct {
	root    string
	handler func([]pipeline.FileEvent)
	events  chan pipeline.FileEvent
}

// NewRouter creates a router with the given batch window.
func NewRouter(debounce time.Duration) (*Router, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Router{
		fw:       fw,
		debounce: debounce,
		closing:  make(chan struct{}),
	}, nil
}

// Register watches root (recursively) and delivers event batches to handler.
// Implements pipeline.WatchRouter.
func (r *Router) Register(root string, handler func(batch []pipeline.FileEvent)) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	if err := r.addRecursive(abs); err != nil {
		return err
	}

	reg := &registration{
		root:    abs,
		handler: handler,
		events:  make(chan pipeline.FileEvent, 256),
	}
	r.mu.Lock()
	r.regs = append(r.regs, reg)
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		reg.loop(r.debounce)
	}()
	return nil
}

// Start begins dispatching filesystem events. Returns immediately.
func (r *Router) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.dispatch()
	}()
}

// Close stops watching and waits for in-flight batches to drain.
func (r *Router) Close() error {
	close(r.closing)
	err := r.fw.Close()
	r.mu.Lock()
	for _, reg := range r.regs {
		close(reg.events)
	}
	r.regs = nil
	r.mu.Unlock()
	r.wg.Wait()
	return err
}

func (r *Router) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return r.fw.Add(path)
		}
		return nil
	})
}

func (r *Router) dispatch() {
	for {
		select {
		case <-r.closing:
			return
		case ev, ok := <-r.fw.Events:
			if !ok {
				return
			}
			r.route(ev)
		case _, ok := <-r.fw.Errors:
			if !ok {
				return
			}
			// Watcher errors are transient (e.g. a root briefly vanishing
			// during an editor save); the next event batch recovers.
		}
	}
}

func (r *Router) route(ev fsnotify.Event) {
	var op pipeline.FileOp
	switch {
	case ev.Has(fsnotify.Create):
		op = pipeline.OpCreate
		// A directory created under a root needs its own watch before
		// events inside it can be seen.
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			_ = r.addRecursive(ev.Name)
		}
	case ev.Has(fsnotify.Write):
		op = pipeline.OpUpdate
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		op = pipeline.OpRemove
	default:
		return // chmod noise
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, reg := range r.regs {
		if underRoot(reg.root, ev.Name) {
			select {
			case reg.events <- pipeline.FileEvent{Path: ev.Name, Op: op}:
			default:
				// Queue full: drop rather than block the dispatch loop. The
				// staleness check on the next batch catches anything missed.
			}
		}
	}
}

func underRoot(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// loop batches events with a quiet-period timer and hands each batch to the
// handler. Running on one goroutine serializes handler re-entry per plugin.
func (reg *registration) loop(debounce time.Duration) {
	var batch []pipeline.FileEvent
	var timer <-chan time.Time

	for {
		select {
		case ev, ok := <-reg.events:
			if !ok {
				if len(batch) > 0 {
					reg.handler(batch)
				}
				return
			}
			batch = append(batch, ev)
			timer = time.After(debounce)
		case <-timer:
			b := batch
			batch = nil
			timer = nil
			reg.handler(b)
		}
	}
}
