package plugin

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// ErrDuplicateAction is returned when an action name is registered twice.
var ErrDuplicateAction = errors.New("action already registered")

// Action is a named, registry-resolved handler.
type Action struct {
	Name    string
	Handler Handler
	// Plugin is the executable plugin serving the action, nil for in-process handlers.
	Plugin *Plugin
}

// Registry holds actions indexed by name.
//
// It is populated once at startup and only read afterwards, so lookups need
// no locking. Do not call Register once the broker is serving.
type Registry struct {
	actions map[string]Action
}

// NewRegistry creates an empty action registry.
func NewRegistry() *Registry {
	return &Registry{
		actions: make(map[string]Action),
	}
}

// Register adds a handler under name.
func (r *Registry) Register(name string, h Handler, p *Plugin) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("action name is required")
	}
	if strings.ContainsFunc(name, unicode.IsSpace) {
		return fmt.Errorf("action name %q contains whitespace", name)
	}
	if h == nil {
		return fmt.Errorf("action %q: handler is nil", name)
	}
	if _, exists := r.actions[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateAction, name)
	}
	r.actions[name] = Action{Name: name, Handler: h, Plugin: p}
	return nil
}

// Get retrieves an action by name.
func (r *Registry) Get(name string) (Action, bool) {
	a, ok := r.actions[name]
	return a, ok
}

// All returns every registered action sorted by name.
func (r *Registry) All() []Action {
	out := make([]Action, 0, len(r.actions))
	for _, a := range r.actions {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered actions.
func (r *Registry) Len() int {
	return len(r.actions)
}
