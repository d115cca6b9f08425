// Package workflow defines the units of logic the engine matches to events
// and the registry that resolves an event to its ordered set of workflows.
package workflow

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/c360studio/agentcore/event"
)

// ExecuteFunc runs a workflow against the shared state document. It returns
// the replacement state; emitting events through the sink feeds them back
// into the engine's queue.
type ExecuteFunc func(ctx context.Context, ev *event.Event, state string, sink event.Sink) (string, error)

// Definition describes a registered workflow. Definitions are registered
// once at startup and immutable afterward.
type Definition struct {
	// Name uniquely identifies the workflow.
	Name string

	// Description is a human-readable summary.
	Description string

	// TriggerTypes lists the event types this workflow runs for. Entries
	// may be doublestar glob patterns (e.g. "issue.*").
	TriggerTypes []string

	// TriggerPriority orders workflows when several match one event.
	// Higher runs first.
	TriggerPriority int

	// Condition optionally narrows matching beyond the event type.
	Condition func(*event.Event) bool

	// Execute runs the workflow. Required.
	Execute ExecuteFunc
}

// matchesType reports whether the definition's trigger types cover the
// given event type. Exact strings match exactly; patterns containing glob
// metacharacters are matched with doublestar.
func (d *Definition) matchesType(eventType string) bool {
	for _, trigger := range d.TriggerTypes {
		if trigger == eventType {
			return true
		}
		if strings.ContainsAny(trigger, "*?[{") {
			if ok, err := doublestar.Match(trigger, eventType); err == nil && ok {
				return true
			}
		}
	}
	return false
}

// Registry holds registered workflow definitions and resolves events to the
// ordered list of workflows that should run for them.
type Registry struct {
	mu   sync.RWMutex
	defs []*Definition
	byName map[string]*Definition
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Definition)}
}

// Register adds a workflow definition. Registering a name twice fails with
// a *DuplicateNameError.
func (r *Registry) Register(def *Definition) error {
	if def == nil {
		return &ValidationError{Field: "definition", Message: "definition is required"}
	}
	if def.Name == "" {
		return &ValidationError{Field: "name", Message: "name is required"}
	}
	if len(def.TriggerTypes) == 0 {
		return &ValidationError{Field: "trigger_types", Message: "at least one trigger type is required"}
	}
	if def.Execute == nil {
		return &ValidationError{Field: "execute", Message: "executor is required"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[def.Name]; exists {
		return &DuplicateNameError{Name: def.Name}
	}
	r.byName[def.Name] = def
	r.defs = append(r.defs, def)
	return nil
}

// Get returns the definition with the given name, or nil.
func (r *Registry) Get(name string) *Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName[name]
}

// Names returns the registered workflow names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.defs))
	for _, def := range r.defs {
		names = append(names, def.Name)
	}
	return names
}

// Resolve returns the definitions that should run for the event, ordered by
// descending trigger priority with ties broken by registration order. Zero
// matches is a normal outcome.
func (r *Registry) Resolve(ev *event.Event) []*Definition {
	if ev == nil {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	type ranked struct {
		def *Definition
		pos int
	}

	var matched []ranked
	for i, def := range r.defs {
		if !def.matchesType(ev.Type) {
			continue
		}
		if def.Condition != nil && !def.Condition(ev) {
			continue
		}
		matched = append(matched, ranked{def: def, pos: i})
	}

	sort.SliceStable(matched, func(a, b int) bool {
		if matched[a].def.TriggerPriority != matched[b].def.TriggerPriority {
			return matched[a].def.TriggerPriority > matched[b].def.TriggerPriority
		}
		return matched[a].pos < matched[b].pos
	})

	result := make([]*Definition, len(matched))
	for i, m := range matched {
		result[i] = m.def
	}
	return result
}
