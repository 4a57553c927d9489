/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package graph

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

var ErrFrozen = errors.New("graph registry is frozen")

type (
	// Registry holds every graph of a process. It is created by the bootstrap and passed
	// to whoever wires graphs.
	Registry struct {
		mutex  sync.RWMutex
		graphs map[string]*Graph
		order  []*Graph
		// bridges[a][b] is set when some node of a bridges into b
		bridges map[string]map[string]struct{}
		frozen  bool
	}

	Description struct {
		ID    string            `json:"id"`
		Kind  string            `json:"kind"`
		Nodes []NodeDescription `json:"nodes"`
	}

	NodeDescription struct {
		Name    string   `json:"name"`
		Next    []string `json:"next,omitempty"`
		Bridges []string `json:"bridges,omitempty"`
	}
)

func NewRegistry() *Registry {
	return &Registry{
		graphs:  make(map[string]*Graph),
		bridges: make(map[string]map[string]struct{}),
	}
}

// CreateIfAbsent returns the graph id, creating it for records shaped like sample.
// Asking again for the same id with another record type is an error.
func (r *Registry) CreateIfAbsent(id string, sample interface{}) (*Graph, error) {
	kind := kindOf(sample)

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if g, ok := r.graphs[id]; ok {
		if g.kind != kind {
			return nil, errors.Errorf("graph %s exists for %s, not %s", id, g.kind, kind)
		}
		return g, nil
	}
	if r.frozen {
		return nil, ErrFrozen
	}
	g := &Graph{id: id, kind: kind, registry: r}
	r.graphs[id] = g
	r.order = append(r.order, g)
	return g, nil
}

func (r *Registry) Find(id string) (*Graph, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	g, ok := r.graphs[id]
	return g, ok
}

// Graphs returns the graphs in creation order.
func (r *Registry) Graphs() []*Graph {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return append([]*Graph(nil), r.order...)
}

// Freeze ends the build phase.
func (r *Registry) Freeze() {
	r.mutex.Lock()
	r.frozen = true
	r.mutex.Unlock()
}

func (r *Registry) mustBuilding() {
	r.mutex.RLock()
	frozen := r.frozen
	r.mutex.RUnlock()
	if frozen {
		panic(ErrFrozen)
	}
}

func (r *Registry) addBridge(b *Bridge) error {
	from, to := b.from.graph.id, b.target.id

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.frozen {
		return ErrFrozen
	}
	if b.target.registry != r {
		return errors.Errorf("bridge %s: target graph belongs to another registry", b.name)
	}
	if r.reaches(to, from) {
		return errors.Errorf("bridge %s would close a cycle", b.name)
	}
	edges, ok := r.bridges[from]
	if !ok {
		edges = make(map[string]struct{})
		r.bridges[from] = edges
	}
	edges[to] = struct{}{}
	return nil
}

// reaches reports whether dst is reachable from src over bridges, src itself included.
func (r *Registry) reaches(src, dst string) bool {
	visited := make(map[string]bool)
	stack := []string{src}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == dst {
			return true
		}
		if visited[cur] {
			continue
		}
		visited[cur] = true
		for next := range r.bridges[cur] {
			stack = append(stack, next)
		}
	}
	return false
}

// Describe lists graphs, nodes and edges for the admin API.
func (r *Registry) Describe() []Description {
	graphs := r.Graphs()
	ret := make([]Description, 0, len(graphs))
	for _, g := range graphs {
		d := Description{ID: g.id, Kind: g.kind}
		for _, n := range g.nodes {
			nd := NodeDescription{Name: n.name}
			for _, next := range n.next.nodes {
				nd.Next = append(nd.Next, next.name)
			}
			for _, b := range n.next.bridges {
				nd.Bridges = append(nd.Bridges, b.name)
			}
			sort.Strings(nd.Bridges)
			d.Nodes = append(d.Nodes, nd)
		}
		ret = append(ret, d)
	}
	return ret
}
