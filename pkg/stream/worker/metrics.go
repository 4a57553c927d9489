/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package worker

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const metricNamespace = "collector"

type (
	roleMetrics struct {
		handled *prometheus.CounterVec
		dropped *prometheus.CounterVec
		errors  *prometheus.CounterVec
		flushes *prometheus.CounterVec
	}

	// counters caches counter vectors created on behalf of worker packages, so several
	// providers of the same kind share one vector.
	counters struct {
		mutex    sync.Mutex
		registry *prometheus.Registry
		vecs     map[string]*prometheus.CounterVec
	}
)

func newRoleMetrics(registry *prometheus.Registry) *roleMetrics {
	m := &roleMetrics{
		handled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Subsystem: "worker",
			Name:      "messages_total",
			Help:      "Messages handled by workers.",
		}, []string{"role"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Subsystem: "worker",
			Name:      "dropped_total",
			Help:      "Messages dropped before reaching a worker.",
		}, []string{"role", "reason"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Subsystem: "worker",
			Name:      "errors_total",
			Help:      "Errors and panics raised by workers.",
		}, []string{"role"}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Subsystem: "worker",
			Name:      "flushes_total",
			Help:      "Flushes run by workers.",
		}, []string{"role"}),
	}
	registry.MustRegister(m.handled, m.dropped, m.errors, m.flushes)
	return m
}

func (c *counters) get(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	key := subsystem + "_" + name
	if v, ok := c.vecs[key]; ok {
		return v
	}
	v := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricNamespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
	c.registry.MustRegister(v)
	c.vecs[key] = v
	return v
}
