/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

// Package selector picks one worker instance (or one cluster node) out of a pool for a
// message key. Selectors are safe for concurrent use by any number of producers.
package selector

import (
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

const nodeSalt = "node/"

type (
	Selector interface {
		Name() string
		// Select returns an index in [0, size). size <= 1 always gives 0.
		Select(key string, size int) int
	}

	// NodeSelector is implemented by selectors that place keys on cluster nodes apart from
	// instances. A node then receives keys spread over all of its instances.
	NodeSelector interface {
		SelectNode(key string, size int) int
	}

	// Rolling hands messages to the pool round-robin. Use it only when any instance may
	// handle any message.
	Rolling struct {
		last uint64
	}

	// HashCode routes equal keys to the same index: xxHash64 (seed 0) of the UTF-8 bytes
	// of the key, unsigned modulo size. The hash does not depend on the process, so every
	// node of a cluster computes the same placement.
	HashCode struct{}
)

func NewRolling() *Rolling {
	// start at -1 so the first message lands on index 0
	return &Rolling{last: ^uint64(0)}
}

func (r *Rolling) Name() string {
	return "rolling"
}

func (r *Rolling) Select(_ string, size int) int {
	if size <= 1 {
		return 0
	}
	return int(atomic.AddUint64(&r.last, 1) % uint64(size))
}

func NewHashCode() HashCode {
	return HashCode{}
}

func (HashCode) Name() string {
	return "hashcode"
}

func (HashCode) Select(key string, size int) int {
	if size <= 1 {
		return 0
	}
	return int(Hash(key) % uint64(size))
}

// SelectNode hashes key salted with a node prefix, so the node of a key says nothing
// about its instance index.
func (HashCode) SelectNode(key string, size int) int {
	if size <= 1 {
		return 0
	}
	return int(NodeHash(key) % uint64(size))
}

// Hash is the placement hash used by HashCode.
func Hash(key string) uint64 {
	return xxhash.Sum64String(key)
}

// NodeHash is the node placement hash used by HashCode.
func NodeHash(key string) uint64 {
	d := xxhash.New()
	d.WriteString(nodeSalt)
	d.WriteString(key)
	return d.Sum64()
}

// Node picks the node of key out of size nodes with s.
func Node(s Selector, key string, size int) int {
	if ns, ok := s.(NodeSelector); ok {
		return ns.SelectNode(key, size)
	}
	return s.Select(key, size)
}

// ByName returns a fresh selector; unknown names fall back to HashCode, which is always
// correct, only less balanced for fan-out stages.
func ByName(name string) Selector {
	if name == "rolling" {
		return NewRolling()
	}
	return NewHashCode()
}
