/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package worker

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/traas-stack/holoinsight-collector/pkg/logger"
	"github.com/traas-stack/holoinsight-collector/pkg/util"
	"github.com/traas-stack/holoinsight-collector/pkg/util/throttle"
	"go.uber.org/zap"
)

const logThrottleInterval = 10 * time.Second

type (
	// Runtime owns every worker pool of a collector process. It replaces process wide
	// registries: components receive it at construction and use it for lookups.
	Runtime struct {
		mutex    sync.RWMutex
		pools    map[string]*pool
		order    []*pool
		failed   map[string]error
		stopped  int32
		registry *prometheus.Registry
		metrics  *roleMetrics
		counters *counters
		throttle *throttle.Keyed
	}

	pool struct {
		role      Role
		options   Options
		instances []*instance
		timerStop chan struct{}
		timerDone chan struct{}
	}

	// PoolStats is a point in time view of one role.
	PoolStats struct {
		Role          string        `json:"role"`
		Selector      string        `json:"selector"`
		Remote        bool          `json:"remote"`
		PoolSize      int           `json:"poolSize"`
		QueueSize     int           `json:"queueSize"`
		FlushInterval time.Duration `json:"flushInterval"`
		Depths        []int         `json:"depths"`
	}
)

func NewRuntime() *Runtime {
	registry := prometheus.NewRegistry()
	return &Runtime{
		pools:    make(map[string]*pool),
		failed:   make(map[string]error),
		registry: registry,
		metrics:  newRoleMetrics(registry),
		counters: &counters{registry: registry, vecs: make(map[string]*prometheus.CounterVec)},
		throttle: throttle.NewKeyed(logThrottleInterval),
	}
}

// Registry is the prometheus registry of this runtime and of every worker built on it.
func (r *Runtime) Registry() *prometheus.Registry {
	return r.registry
}

// CounterVec returns a counter vector registered on the runtime registry, creating it on
// first use.
func (r *Runtime) CounterVec(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return r.counters.get(subsystem, name, help, labels...)
}

// Throttle is the log throttle shared by the runtime and its workers.
func (r *Runtime) Throttle() *throttle.Keyed {
	return r.throttle
}

// Register builds and starts the pool of a provider. If any instance fails to build the
// role is marked failed: the error is returned and later lookups of the role get a
// ProviderNotFoundError.
func (r *Runtime) Register(p Provider) error {
	role := p.Role()
	if role.Name == "" {
		return errors.New("role name is empty")
	}
	if role.Selector == nil {
		return errors.Errorf("role %s has no selector", role.Name)
	}
	options := p.Options().withDefaults()

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if atomic.LoadInt32(&r.stopped) == 1 {
		return &WorkerInvokeError{Role: role.Name, Cause: ErrWorkerStopped}
	}
	if _, ok := r.pools[role.Name]; ok {
		return errors.Errorf("role %s is already registered", role.Name)
	}
	if _, ok := r.failed[role.Name]; ok {
		return errors.Errorf("role %s is already registered", role.Name)
	}

	pl := &pool{
		role:      role,
		options:   options,
		instances: make([]*instance, options.PoolSize),
	}
	for idx := 0; idx < options.PoolSize; idx++ {
		inst := newInstance(r, role.Name, idx, options.QueueSize, r.metrics)
		w, err := p.Create(&Context{Role: role, Index: idx, Runtime: r, self: inst})
		if err == nil && w == nil {
			err = errors.New("provider returned nil worker")
		}
		if err != nil {
			r.failed[role.Name] = err
			logger.Errorz("[worker] create worker error", zap.String("role", role.Name), zap.Int("index", idx), zap.Error(err))
			return &ProviderNotFoundError{Role: role.Name, Cause: err}
		}
		inst.worker = w
		pl.instances[idx] = inst
	}

	r.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   metricNamespace,
		Subsystem:   "worker",
		Name:        "mailbox_depth",
		Help:        "Messages waiting in the mailboxes of a role.",
		ConstLabels: prometheus.Labels{"role": role.Name},
	}, func() float64 {
		total := 0
		for _, inst := range pl.instances {
			total += inst.depth()
		}
		return float64(total)
	}))

	for _, inst := range pl.instances {
		go inst.run()
	}
	if options.FlushInterval > 0 {
		if _, ok := pl.instances[0].worker.(Flusher); ok {
			pl.timerStop = make(chan struct{})
			pl.timerDone = make(chan struct{})
			go pl.flushLoop()
		}
	}

	r.pools[role.Name] = pl
	r.order = append(r.order, pl)
	logger.Infoz("[worker] register",
		zap.String("role", role.Name),
		zap.String("selector", role.Selector.Name()),
		zap.Int("poolSize", options.PoolSize),
		zap.Int("queueSize", options.QueueSize),
		zap.Duration("flushInterval", options.FlushInterval))
	return nil
}

// flushLoop raises the flush signal of every instance once per aligned window.
func (p *pool) flushLoop() {
	defer close(p.timerDone)
	timer := util.NewAlignedTimer(p.options.FlushInterval, 0)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			for _, inst := range p.instances {
				inst.signalFlush()
			}
			timer.Next()
		case <-p.timerStop:
			return
		}
	}
}

// Lookup resolves role to the instance owning key.
func (r *Runtime) Lookup(role string, key string) (Ref, error) {
	r.mutex.RLock()
	pl, ok := r.pools[role]
	if !ok {
		cause, failed := r.failed[role]
		r.mutex.RUnlock()
		if failed {
			return nil, &ProviderNotFoundError{Role: role, Cause: cause}
		}
		return nil, &WorkerNotFoundError{Role: role}
	}
	r.mutex.RUnlock()

	idx := pl.role.Selector.Select(key, len(pl.instances))
	return pl.instances[idx], nil
}

// Tell is Lookup followed by Ref.Tell.
func (r *Runtime) Tell(role string, key string, msg interface{}) error {
	ref, err := r.Lookup(role, key)
	if err != nil {
		return err
	}
	return ref.Tell(msg)
}

// Role returns the registered role by name.
func (r *Runtime) Role(name string) (Role, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	pl, ok := r.pools[name]
	if !ok {
		return Role{}, false
	}
	return pl.role, true
}

// Stats lists every registered role sorted by name.
func (r *Runtime) Stats() []PoolStats {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	ret := make([]PoolStats, 0, len(r.pools))
	for _, pl := range r.pools {
		st := PoolStats{
			Role:          pl.role.Name,
			Selector:      pl.role.Selector.Name(),
			Remote:        pl.role.Define != nil,
			PoolSize:      len(pl.instances),
			QueueSize:     pl.options.QueueSize,
			FlushInterval: pl.options.FlushInterval,
			Depths:        make([]int, len(pl.instances)),
		}
		for i, inst := range pl.instances {
			st.Depths[i] = inst.depth()
		}
		ret = append(ret, st)
	}
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].Role < ret[j].Role
	})
	return ret
}

// Flush asks every instance of role to flush now. Used by tests and by the admin API.
func (r *Runtime) Flush(role string) error {
	r.mutex.RLock()
	pl, ok := r.pools[role]
	r.mutex.RUnlock()
	if !ok {
		return &WorkerNotFoundError{Role: role}
	}
	for _, inst := range pl.instances {
		inst.signalFlush()
	}
	return nil
}

// Shutdown stops the pools in registration order. Each pool drains its mailboxes, flushes
// and closes before the next one stops, so records flushed by an upstream role still
// reach downstream roles registered after it.
func (r *Runtime) Shutdown(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&r.stopped, 0, 1) {
		return nil
	}
	r.mutex.RLock()
	order := append([]*pool(nil), r.order...)
	r.mutex.RUnlock()

	var result *multierror.Error
	for _, pl := range order {
		if err := pl.stop(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	logger.Infoz("[worker] runtime stopped", zap.Int("roles", len(order)))
	return result.ErrorOrNil()
}

func (p *pool) stop(ctx context.Context) error {
	if p.timerStop != nil {
		close(p.timerStop)
		<-p.timerDone
	}
	for _, inst := range p.instances {
		atomic.StoreInt32(&inst.state, instanceStopping)
		close(inst.stopCh)
	}
	var result *multierror.Error
	for _, inst := range p.instances {
		select {
		case <-inst.done:
		case <-ctx.Done():
			result = multierror.Append(result, errors.Wrapf(ctx.Err(), "stop worker %s#%d", inst.role, inst.index))
		}
	}
	return result.ErrorOrNil()
}
