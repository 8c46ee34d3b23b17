package tatara

import (
	"fmt"
	"sort"
)

// BuildGraph is the set of targets plus the "must be built before" edges
// declared by each target's DependsOn list.
type BuildGraph struct {
	targets []*Target
	byName  map[string]*Target
}

func newBuildGraph(targets []*Target) (*BuildGraph, error) {
	g := &BuildGraph{
		targets: targets,
		byName:  make(map[string]*Target, len(targets)),
	}
	for _, t := range targets {
		if _, dup := g.byName[t.Name]; dup {
			return nil, fmt.Errorf("duplicate target %q", t.Name)
		}
		g.byName[t.Name] = t
	}
	for _, t := range targets {
		for _, dep := range t.DependsOn {
			if _, ok := g.byName[dep]; !ok {
				return nil, fmt.Errorf("target %q depends on unknown target %q", t.Name, dep)
			}
		}
	}
	return g, nil
}

// deps resolves a target's dependency names to targets.
func (g *BuildGraph) deps(t *Target) []*Target {
	out := make([]*Target, 0, len(t.DependsOn))
	for _, name := range t.DependsOn {
		out = append(out, g.byName[name])
	}
	return out
}

// topoOrder returns the targets sorted so every dependency precedes its
// dependents (Kahn's algorithm). Ties keep declaration order so runs are
// reproducible. A cycle is a configuration error.
func (g *BuildGraph) topoOrder() ([]*Target, error) {
	indegree := make(map[string]int, len(g.targets))
	dependents := make(map[string][]string, len(g.targets))
	for _, t := range g.targets {
		indegree[t.Name] += 0
		for _, dep := range t.DependsOn {
			indegree[t.Name]++
			dependents[dep] = append(dependents[dep], t.Name)
		}
	}

	// Seed the ready list in declaration order.
	var ready []string
	for _, t := range g.targets {
		if indegree[t.Name] == 0 {
			ready = append(ready, t.Name)
		}
	}

	order := make([]*Target, 0, len(g.targets))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, g.byName[name])

		next := dependents[name]
		sort.Strings(next)
		for _, dep := range next {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(order) != len(g.targets) {
		var stuck []string
		for name, d := range indegree {
			if d > 0 {
				stuck = append(stuck, name)
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("%w: %v", errCycle, stuck)
	}
	return order, nil
}
