package pipeline

import (
	"errors"
	"fmt"
)

// Topology errors. Both abort the run before any plugin executes.
var (
	ErrCyclicDependency  = errors.New("cyclic plugin dependency")
	ErrUnknownDependency = errors.New("unknown plugin dependency")
	ErrDuplicatePlugin   = errors.New("plugin registered twice")
	ErrNoWatchRouter     = errors.New("watch phase needs a router")
)

// Orchestrator owns the registered plugins and drives them through lifecycle
// phases in topological dependency order.
type Orchestrator struct {
	ctx    *Context
	router WatchRouter

	plugins []Plugin
	byName  map[string]Plugin

	inapplicable map[string]bool
	failed       map[string]bool
}

// NewOrchestrator returns an orchestrator bound to the given context.
// router may be nil if the watch phase is never run.
func NewOrchestrator(ctx *Context, router WatchRouter) *Orchestrator {
	return &Orchestrator{
		ctx:          ctx,
		router:       router,
		byName:       make(map[string]Plugin),
		inapplicable: make(map[string]bool),
		failed:       make(map[string]bool),
	}
}

// Register adds a plugin. Registration order breaks ties between plugins
// with no dependency relationship.
func (o *Orchestrator) Register(p Plugin) error {
	if _, dup := o.byName[p.Name()]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicatePlugin, p.Name())
	}
	o.plugins = append(o.plugins, p)
	o.byName[p.Name()] = p
	return nil
}

// Run executes one lifecycle phase across all registered plugins.
func (o *Orchestrator) Run(phase Phase) error {
	order, err := o.resolveOrder()
	if err != nil {
		return err
	}

	switch phase {
	case PhaseInit:
		return o.runInit(order)
	case PhaseBuild:
		return o.runBuild(order)
	case PhaseWatch:
		return o.runWatch(order)
	case PhaseClean:
		return o.runClean(order)
	default:
		return fmt.Errorf("unknown phase %d", phase)
	}
}

// resolveOrder topologically sorts the plugins by their declared
// dependencies using Kahn's algorithm. Registration order is preserved
// among ready plugins so runs are deterministic.
func (o *Orchestrator) resolveOrder() ([]Plugin, error) {
	indegree := make(map[string]int, len(o.plugins))
	dependents := make(map[string][]string, len(o.plugins))

	for _, p := range o.plugins {
		if _, ok := indegree[p.Name()]; !ok {
			indegree[p.Name()] = 0
		}
		for _, dep := range p.Requires() {
			if _, ok := o.byName[dep]; !ok {
				return nil, fmt.Errorf("%w: %s requires %s", ErrUnknownDependency, p.Name(), dep)
			}
			indegree[p.Name()]++
			dependents[dep] = append(dependents[dep], p.Name())
		}
	}

	var ready []string
	for _, p := range o.plugins {
		if indegree[p.Name()] == 0 {
			ready = append(ready, p.Name())
		}
	}

	order := make([]Plugin, 0, len(o.plugins))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, o.byName[name])
		for _, dep := range dependents[name] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(order) != len(o.plugins) {
		var stuck []string
		for name, deg := range indegree {
			if deg > 0 {
				stuck = append(stuck, name)
			}
		}
		return nil, fmt.Errorf("%w: involving %v", ErrCyclicDependency, stuck)
	}

	return order, nil
}

func (o *Orchestrator) runInit(order []Plugin) error {
	for _, p := range order {
		applicable, err := p.Init(o.ctx)
		if err != nil {
			o.ctx.Log.Errorf("init %s: %v", p.Name(), err)
			o.failed[p.Name()] = true
			continue
		}
		if !applicable {
			o.ctx.Log.Debugf("plugin %s not applicable, skipping", p.Name())
			o.inapplicable[p.Name()] = true
		}
	}
	return nil
}

func (o *Orchestrator) runBuild(order []Plugin) error {
	// Failures from this pass; a failed plugin poisons its transitive
	// dependents because their inputs are unreliable. Inapplicable plugins
	// do not: dependents must tolerate absent upstream output.
	for _, p := range order {
		if o.inapplicable[p.Name()] {
			continue
		}
		if dep, bad := o.failedUpstream(p); bad {
			o.ctx.Log.Warnf("skipping %s: depends on failed plugin %s", p.Name(), dep)
			o.failed[p.Name()] = true
			continue
		}
		if o.failed[p.Name()] {
			continue
		}
		if err := invoke(p.Build, o.ctx, p.Name()); err != nil {
			o.ctx.Log.Errorf("build %s: %v", p.Name(), err)
			o.failed[p.Name()] = true
		}
	}
	return nil
}

// failedUpstream reports whether any direct dependency failed. Transitive
// propagation happens naturally: a skipped dependent is itself marked failed
// before its own dependents are considered, since order is topological.
func (o *Orchestrator) failedUpstream(p Plugin) (string, bool) {
	for _, dep := range p.Requires() {
		if o.failed[dep] {
			return dep, true
		}
	}
	return "", false
}

func (o *Orchestrator) runWatch(order []Plugin) error {
	if o.router == nil {
		return ErrNoWatchRouter
	}
	for _, p := range order {
		if o.inapplicable[p.Name()] || o.failed[p.Name()] {
			continue
		}
		if err := p.Watch(o.ctx, o.router); err != nil {
			o.ctx.Log.Errorf("watch %s: %v", p.Name(), err)
		}
	}
	return nil
}

func (o *Orchestrator) runClean(order []Plugin) error {
	for _, p := range order {
		if o.inapplicable[p.Name()] {
			continue
		}
		if err := invoke(p.Clean, o.ctx, p.Name()); err != nil {
			// Best effort: a half-missing output tree is fine.
			o.ctx.Log.Warnf("clean %s: %v", p.Name(), err)
		}
	}
	return nil
}

// invoke calls a lifecycle function, converting a panic into an error so a
// misbehaving plugin cannot take down the whole run.
func invoke(fn func(*Context) error, ctx *Context, name string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin %s panicked: %v", name, r)
		}
	}()
	return fn(ctx)
}
