package plugin

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cuemby/burrow/pkg/types"
)

// Registration is a registered plugin with its declared stages
type Registration struct {
	Plugin       Plugin
	Stages       map[types.Stage]bool
	Dependencies []string
}

// Name returns the plugin name
func (r *Registration) Name() string {
	return r.Plugin.Name()
}

// Registry holds the registered plugins in dependency order. It is immutable
// after NewRegistry returns.
type Registry struct {
	byName map[string]*Registration
	order  []*Registration
}

// NewRegistry validates plugins and orders them so that every plugin comes
// after its dependencies. Duplicate names, unknown dependencies and cycles
// are rejected.
func NewRegistry(plugins ...Plugin) (*Registry, error) {
	r := &Registry{byName: make(map[string]*Registration, len(plugins))}

	for _, p := range plugins {
		name := p.Name()
		if name == "" {
			return nil, fmt.Errorf("plugin with empty name")
		}
		if _, dup := r.byName[name]; dup {
			return nil, fmt.Errorf("plugin %s registered twice", name)
		}
		reg := &Registration{
			Plugin:       p,
			Stages:       make(map[types.Stage]bool),
			Dependencies: append([]string(nil), p.Dependencies()...),
		}
		for _, s := range p.Stages() {
			reg.Stages[s] = true
		}
		r.byName[name] = reg
	}

	for name, reg := range r.byName {
		for _, dep := range reg.Dependencies {
			if dep == name {
				return nil, fmt.Errorf("plugin %s depends on itself", name)
			}
			if _, ok := r.byName[dep]; !ok {
				return nil, fmt.Errorf("plugin %s depends on unknown plugin %s", name, dep)
			}
		}
	}

	order, err := r.sort()
	if err != nil {
		return nil, err
	}
	r.order = order
	return r, nil
}

// sort is Kahn's algorithm. Ready plugins are taken in name order so the
// result does not depend on registration order.
func (r *Registry) sort() ([]*Registration, error) {
	indegree := make(map[string]int, len(r.byName))
	dependents := make(map[string][]string)
	for name, reg := range r.byName {
		indegree[name] += 0
		for _, dep := range reg.Dependencies {
			indegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var ready []string
	for name, n := range indegree {
		if n == 0 {
			ready = append(ready, name)
		}
	}

	order := make([]*Registration, 0, len(r.byName))
	for len(ready) > 0 {
		sort.Strings(ready)
		name := ready[0]
		ready = ready[1:]
		order = append(order, r.byName[name])
		for _, d := range dependents[name] {
			indegree[d]--
			if indegree[d] == 0 {
				ready = append(ready, d)
			}
		}
	}

	if len(order) != len(r.byName) {
		var cyclic []string
		for name, n := range indegree {
			if n > 0 {
				cyclic = append(cyclic, name)
			}
		}
		sort.Strings(cyclic)
		return nil, fmt.Errorf("plugin dependency cycle among %s", strings.Join(cyclic, ", "))
	}
	return order, nil
}

// Get returns the registration of the named plugin
func (r *Registry) Get(name string) (*Registration, bool) {
	reg, ok := r.byName[name]
	return reg, ok
}

// Names returns plugin names in dependency order
func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	for i, reg := range r.order {
		names[i] = reg.Name()
	}
	return names
}

// ForStage returns the plugins declaring stage, in dependency order
func (r *Registry) ForStage(stage types.Stage) []*Registration {
	var out []*Registration
	for _, reg := range r.order {
		if reg.Stages[stage] {
			out = append(out, reg)
		}
	}
	return out
}
