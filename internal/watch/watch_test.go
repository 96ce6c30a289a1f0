package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Faultbox/spriteforge/internal/pipeline"
)

type capture struct {
	batches chan []pipeline.FileEvent
}

func newCapture() *capture {
	return &capture{batches: make(chan []pipeline.FileEvent, 16)}
}

func (c *capture) handler(batch []pipeline.FileEvent) {
	c.batches <- batch
}

func (c *capture) wait(t *testing.T) []pipeline.FileEvent {
	t.Helper()
	select {
	case b := <-c.batches:
		return b
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event batch")
		return nil
	}
}

func startRouter(t *testing.T, root string, c *capture) *Router {
	t.Helper()
	r, err := NewRouter(200 * time.Millisecond)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	if err := r.Register(root, c.handler); err != nil {
		t.Fatalf("Register: %v", err)
	}
	r.Start()
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRapidWritesCoalesceIntoOneBatch(t *testing.T) {
	root := t.TempDir()
	c := newCapture()
	startRouter(t, root, c)

	for _, name := range []string{"a.png", "b.png", "c.png"} {
		if err := os.WriteFile(filepath.Join(root, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	batch := c.wait(t)
	seen := map[string]bool{}
	for _, ev := range batch {
		seen[filepath.Base(ev.Path)] = true
	}
	for _, name := range []string{"a.png", "b.png", "c.png"} {
		if !seen[name] {
			t.Errorf("batch missing %s: %+v", name, batch)
		}
	}

	// The three writes happened inside one debounce window; there must not
	// be a second batch.
	select {
	case extra := <-c.batches:
		t.Errorf("unexpected second batch: %+v", extra)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestRemoveEventIsRouted(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "gone.png")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	c := newCapture()
	startRouter(t, root, c)

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	batch := c.wait(t)
	found := false
	for _, ev := range batch {
		if ev.Path == path && ev.Op == pipeline.OpRemove {
			found = true
		}
	}
	if !found {
		t.Errorf("expected remove event for %s, got %+v", path, batch)
	}
}

func TestNewSubdirectoryIsWatched(t *testing.T) {
	root := t.TempDir()
	c := newCapture()
	startRouter(t, root, c)

	sub := filepath.Join(root, "heroes")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}
	c.wait(t) // batch for the directory create

	if err := os.WriteFile(filepath.Join(sub, "hero.ase"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	batch := c.wait(t)
	found := false
	for _, ev := range batch {
		if filepath.Base(ev.Path) == "hero.ase" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected event inside new subdirectory, got %+v", batch)
	}
}

func TestEventsOutsideRootIgnored(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "watched")
	if err := os.Mkdir(root, 0755); err != nil {
		t.Fatal(err)
	}

	c := newCapture()
	startRouter(t, root, c)

	if !underRoot(root, filepath.Join(root, "x", "y.png")) {
		t.Error("path under root misclassified")
	}
	if underRoot(root, filepath.Join(parent, "other", "y.png")) {
		t.Error("sibling path classified as under root")
	}
}
