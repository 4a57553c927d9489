/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

// Package worker is the local asynchronous worker runtime.
//
// A role is a kind of worker. Registering a Provider builds a pool of instances of the
// role; each instance owns a bounded mailbox drained by exactly one goroutine, in
// arrival order. Everything an instance keeps (its merge table for example) is only
// touched by that goroutine, which is the only concurrency control worker bodies need.
//
// Flushes are delivered to the same goroutine: a per-role aligned timer raises a
// coalescing flush signal on every instance and the consumer runs Flush between two
// messages. A flush therefore never overlaps OnWork.
package worker

import (
	"time"

	"github.com/traas-stack/holoinsight-collector/pkg/stream/data"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/selector"
)

const (
	DefaultQueueSize = 1024
	DefaultPoolSize  = 1
)

type (
	// Role identifies a kind of worker. Define is set for roles that receive records from
	// other cluster nodes; it fixes the wire layout of their payload.
	Role struct {
		Name     string
		Selector selector.Selector
		Define   *data.Define
	}

	// Worker handles the messages of one instance. OnWork is never called concurrently
	// for the same instance.
	Worker interface {
		OnWork(msg interface{}) error
	}

	// Flusher is implemented by workers that buffer state between timer ticks.
	Flusher interface {
		Flush()
	}

	// Closer is implemented by workers that own resources. Close runs on the consumer
	// goroutine after the final flush.
	Closer interface {
		Close() error
	}

	Options struct {
		PoolSize  int
		QueueSize int
		// FlushInterval enables the flush timer when > 0 and the worker is a Flusher.
		FlushInterval time.Duration
	}

	// Provider builds the instances of a role.
	Provider interface {
		Role() Role
		Options() Options
		Create(ctx *Context) (Worker, error)
	}

	// Ref addresses exactly one instance.
	Ref interface {
		Role() string
		Index() int
		Tell(msg interface{}) error
	}

	// Context is handed to Create. It lets an instance address itself and its role.
	Context struct {
		Role    Role
		Index   int
		Runtime *Runtime
		self    Ref
	}
)

// Self returns the reference of the instance being created.
func (c *Context) Self() Ref {
	return c.self
}

// Tell routes msg through the role's own selector, which is how a worker requeues a
// message to whichever instance owns key (itself, for a stable selector).
func (c *Context) Tell(key string, msg interface{}) error {
	return c.Runtime.Tell(c.Role.Name, key, msg)
}

func (o Options) withDefaults() Options {
	if o.PoolSize <= 0 {
		o.PoolSize = DefaultPoolSize
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	return o
}
