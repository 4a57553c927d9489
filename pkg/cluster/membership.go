/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

// Package cluster keeps the list of collector nodes. Every node sorts the list the same
// way, so a stable selector over it places a key on the same node everywhere.
package cluster

import (
	"sort"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/google/uuid"
	"github.com/traas-stack/holoinsight-collector/pkg/logger"
	"go.uber.org/zap"
)

type (
	Node struct {
		ID      string `json:"id"`
		Address string `json:"address"`
		Self    bool   `json:"self"`
	}

	// Listener is called with the new node list after each effective change.
	Listener func(nodes []Node)

	Membership struct {
		mutex     sync.RWMutex
		self      Node
		nodes     []Node
		listeners []Listener
		pending   []string
		debounce  func(f func())
	}
)

// New creates the membership of a node. An empty selfID is replaced with a random uuid.
// Peer updates are coalesced over debounceWait; 0 applies them at once.
func New(selfID, selfAddress string, peers []string, debounceWait time.Duration) *Membership {
	if selfID == "" {
		selfID = uuid.New().String()
	}
	m := &Membership{
		self: Node{ID: selfID, Address: selfAddress, Self: true},
	}
	if debounceWait > 0 {
		m.debounce = debounce.New(debounceWait)
	}
	m.nodes = m.build(peers)
	return m
}

func (m *Membership) Self() Node {
	return m.self
}

// Nodes returns every node, self included, sorted by address.
func (m *Membership) Nodes() []Node {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.nodes
}

// OnChange registers l. It is not called for the current list.
func (m *Membership) OnChange(l Listener) {
	m.mutex.Lock()
	m.listeners = append(m.listeners, l)
	m.mutex.Unlock()
}

// Update replaces the peers. The self address may be listed or not.
func (m *Membership) Update(peers []string) {
	m.mutex.Lock()
	m.pending = append([]string(nil), peers...)
	m.mutex.Unlock()

	if m.debounce == nil {
		m.apply()
		return
	}
	m.debounce(m.apply)
}

func (m *Membership) apply() {
	m.mutex.Lock()
	nodes := m.build(m.pending)
	if equal(nodes, m.nodes) {
		m.mutex.Unlock()
		return
	}
	m.nodes = nodes
	listeners := append([]Listener(nil), m.listeners...)
	m.mutex.Unlock()

	logger.Infoz("[cluster] membership changed", zap.Int("nodes", len(nodes)), zap.Any("list", nodes))
	for _, l := range listeners {
		l(nodes)
	}
}

func (m *Membership) build(peers []string) []Node {
	seen := map[string]struct{}{m.self.Address: {}}
	nodes := []Node{m.self}
	for _, addr := range peers {
		if addr == "" {
			continue
		}
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		nodes = append(nodes, Node{ID: addr, Address: addr})
	}
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].Address < nodes[j].Address
	})
	return nodes
}

func equal(a, b []Node) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
