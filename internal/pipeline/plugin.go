// Package pipeline drives build plugins through their lifecycle in
// dependency order and routes filesystem events to them in watch mode.
package pipeline

// Phase is one stage of the plugin lifecycle.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseBuild
	PhaseWatch
	PhaseClean
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhaseBuild:
		return "build"
	case PhaseWatch:
		return "watch"
	case PhaseClean:
		return "clean"
	default:
		return "unknown"
	}
}

// Plugin is one unit of the build pipeline.
//
// Init reports whether the plugin is applicable to the current project
// (typically: its source directory exists). An inapplicable plugin is skipped
// in later phases without failing plugins that depend on it; dependents must
// tolerate absent upstream output.
type Plugin interface {
	Name() string
	// Requires lists the names of plugins whose corresponding phase must
	// complete before this plugin's phase runs.
	Requires() []string
	Init(ctx *Context) (applicable bool, err error)
	Build(ctx *Context) error
	// Watch registers the plugin's filesystem roots with the router. The
	// router re-enters the registered handler once per matching event batch,
	// never concurrently for the same plugin.
	Watch(ctx *Context, router WatchRouter) error
	Clean(ctx *Context) error
}

// FileOp classifies a filesystem event.
type FileOp int

const (
	OpCreate FileOp = iota
	OpUpdate
	OpRemove
)

// String returns the op name.
func (op FileOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// FileEvent is one filesystem change observed under a registered root.
type FileEvent struct {
	Path string // absolute path
	Op   FileOp
}

// WatchRouter registers filesystem roots on behalf of plugins. Events under
// a root are batched and delivered to the handler; deliveries for one
// handler are serialized.
type WatchRouter interface {
	Register(root string, handler func(batch []FileEvent)) error
}
