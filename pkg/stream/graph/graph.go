/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

// Package graph composes processors into per-metric pipelines.
//
// A Graph is built once at startup: AddNode creates its head, AddNext appends successors
// (several AddNext calls on one node broadcast to all of them) and BridgeTo feeds another
// graph. After Registry.Freeze the topology is read only and may be used from any number
// of goroutines.
package graph

import (
	"fmt"
	"reflect"

	"github.com/pkg/errors"
	"github.com/traas-stack/holoinsight-collector/pkg/logger"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/data"
	"go.uber.org/zap"
)

type (
	// Processor handles one record and forwards whatever it produces to next.
	// Processors backed by workers forward later, from their own goroutine.
	Processor interface {
		Process(record interface{}, next *Next)
	}

	// Binder is implemented by processors that emit outside of Process (on a worker
	// flush for example). Bind hands them the successors of their node once, at build time.
	Binder interface {
		Bind(next *Next)
	}

	// Named processors show up in Describe under their name.
	Named interface {
		Name() string
	}

	ProcessorFunc func(record interface{}, next *Next)

	// Next is the set of successors of a node.
	Next struct {
		nodes   []*Node
		bridges []*Bridge
	}

	Node struct {
		graph     *Graph
		name      string
		processor Processor
		next      *Next
	}

	// Bridge is a named edge from a node of one graph into the entry of another graph.
	Bridge struct {
		name    string
		from    *Node
		target  *Graph
		convert func(record interface{}) (interface{}, bool)
	}

	Graph struct {
		id       string
		kind     string
		registry *Registry
		head     *Node
		nodes    []*Node
	}
)

func (f ProcessorFunc) Process(record interface{}, next *Next) {
	f(record, next)
}

// Emit forwards record to every successor node then every bridge.
func (n *Next) Emit(record interface{}) {
	if n == nil {
		return
	}
	for _, node := range n.nodes {
		node.process(record)
	}
	for _, b := range n.bridges {
		b.pass(record)
	}
}

// Len is the number of successors, bridges included.
func (n *Next) Len() int {
	if n == nil {
		return 0
	}
	return len(n.nodes) + len(n.bridges)
}

func (g *Graph) ID() string {
	return g.id
}

// AddNode sets the head of the graph. Calling it twice or after Freeze panics: graphs
// are wired once at startup.
func (g *Graph) AddNode(p Processor) *Node {
	g.registry.mustBuilding()
	if g.head != nil {
		panic(errors.Errorf("graph %s already has a head node", g.id))
	}
	g.head = g.newNode(p)
	return g.head
}

func (g *Graph) newNode(p Processor) *Node {
	n := &Node{
		graph:     g,
		name:      fmt.Sprintf("%s#%d:%s", g.id, len(g.nodes), processorName(p)),
		processor: p,
		next:      &Next{},
	}
	if b, ok := p.(Binder); ok {
		b.Bind(n.next)
	}
	g.nodes = append(g.nodes, n)
	return n
}

// Start pushes record through the head node and its whole fan-out on the calling goroutine.
func (g *Graph) Start(record interface{}) error {
	if g.head == nil {
		return errors.Errorf("graph %s has no node", g.id)
	}
	if kind := kindOf(record); kind != g.kind {
		return errors.Errorf("graph %s accepts %s, got %s", g.id, g.kind, kind)
	}
	g.head.process(record)
	return nil
}

func (n *Node) Name() string {
	return n.name
}

// AddNext appends a successor. A record reaching n is handed to every successor.
func (n *Node) AddNext(p Processor) *Node {
	n.graph.registry.mustBuilding()
	next := n.graph.newNode(p)
	n.next.nodes = append(n.next.nodes, next)
	return next
}

// BridgeTo feeds the records reaching n into target. convert maps them to the record type
// of target; returning false skips the record. A nil convert passes records unchanged.
// Bridges that would close a cycle between graphs are rejected.
func (n *Node) BridgeTo(target *Graph, convert func(record interface{}) (interface{}, bool)) (*Bridge, error) {
	if convert == nil {
		convert = func(record interface{}) (interface{}, bool) {
			return record, true
		}
	}
	b := &Bridge{
		name:    n.graph.id + "->" + target.id,
		from:    n,
		target:  target,
		convert: convert,
	}
	if err := n.graph.registry.addBridge(b); err != nil {
		return nil, err
	}
	n.next.bridges = append(n.next.bridges, b)
	return b, nil
}

func (n *Node) process(record interface{}) {
	n.processor.Process(record, n.next)
}

func (b *Bridge) Name() string {
	return b.name
}

func (b *Bridge) pass(record interface{}) {
	converted, ok := b.convert(record)
	if !ok {
		return
	}
	if err := b.target.Start(converted); err != nil {
		logger.Warnz("[graph] bridge error", zap.String("bridge", b.name), zap.Error(err))
	}
}

// kindOf names the record type a graph accepts. Records of the data model share one Go
// type, so their define name is part of the kind.
func kindOf(record interface{}) string {
	if d, ok := record.(*data.Data); ok {
		return "*data.Data(" + d.Define().Name() + ")"
	}
	t := reflect.TypeOf(record)
	if t == nil {
		return "nil"
	}
	return t.String()
}

func processorName(p Processor) string {
	if n, ok := p.(Named); ok {
		return n.Name()
	}
	return reflect.TypeOf(p).String()
}
