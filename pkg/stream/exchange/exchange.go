/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

// Package exchange resolves names pending registration into ids before a record may be
// aggregated. An unresolved message goes back to the instance owning its key with its
// counter increased, until it resolves or runs out of attempts and is dropped.
//
// With a retry interval, unresolved messages wait in a bounded per-instance retry queue
// instead of the mailbox. The queue is drained by the instance's own flush timer, so the
// payloads an instance holds never exceed its mailbox plus MaxPending.
package exchange

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/traas-stack/holoinsight-collector/pkg/logger"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/graph"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/selector"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/worker"
	"go.uber.org/zap"
)

const DefaultMaxRetry = 10

const (
	Unresolved State = iota
	Resolved
	Dropped
)

type (
	State uint8

	// Exchangeable is a payload waiting for ids. Key routes all attempts of a payload to
	// the same instance.
	Exchangeable interface {
		Key() string
	}

	// Exchanger resolves a payload. It returns a new value and never modifies payload.
	Exchanger interface {
		Exchange(payload Exchangeable) (resolved interface{}, ok bool)
	}

	ExchangerFunc func(payload Exchangeable) (interface{}, bool)

	Message struct {
		Payload Exchangeable
		// Times counts the requeues so far.
		Times int
		// NotBefore is when a delayed retry becomes due.
		NotBefore time.Time
	}

	Options struct {
		worker.Options
		// MaxRetry is the number of requeues before a payload is dropped.
		MaxRetry int
		// RetryInterval delays each requeue when > 0.
		RetryInterval time.Duration
		// MaxPending caps the delayed retries of one instance. It defaults to the queue
		// size; retries beyond it are dropped.
		MaxPending int
	}

	Provider struct {
		rt        *worker.Runtime
		name      string
		exchanger Exchanger
		options   Options
		next      *graph.Next
		resolved  prometheus.Counter
		retries   prometheus.Counter
		exhausted prometheus.Counter
		dropped   *prometheus.CounterVec
	}

	Worker struct {
		ctx      *worker.Context
		provider *Provider
		// delayed retries in due order; every retry waits the same interval
		pending []Message
	}
)

func (f ExchangerFunc) Exchange(payload Exchangeable) (interface{}, bool) {
	return f(payload)
}

func (s State) String() string {
	switch s {
	case Unresolved:
		return "unresolved"
	case Resolved:
		return "resolved"
	case Dropped:
		return "dropped"
	}
	return "unknown"
}

func NewProvider(rt *worker.Runtime, name string, exchanger Exchanger, options Options) *Provider {
	if options.MaxRetry <= 0 {
		options.MaxRetry = DefaultMaxRetry
	}
	if options.MaxPending <= 0 {
		options.MaxPending = options.QueueSize
		if options.MaxPending <= 0 {
			options.MaxPending = worker.DefaultQueueSize
		}
	}
	if options.RetryInterval > 0 && options.FlushInterval <= 0 {
		// the flush timer releases delayed retries
		options.FlushInterval = options.RetryInterval
	}
	return &Provider{
		rt:        rt,
		name:      name,
		exchanger: exchanger,
		options:   options,
		resolved:  rt.CounterVec("exchange", "resolved_total", "Payloads resolved.", "role").WithLabelValues(name),
		retries:   rt.CounterVec("exchange", "retries_total", "Payloads requeued unresolved.", "role").WithLabelValues(name),
		exhausted: rt.CounterVec("exchange", "exhausted_total", "Payloads dropped after the last retry.", "role").WithLabelValues(name),
		dropped:   rt.CounterVec("exchange", "dropped_total", "Payloads dropped before their last retry.", "role", "reason"),
	}
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) Role() worker.Role {
	return worker.Role{Name: p.name, Selector: selector.NewHashCode()}
}

func (p *Provider) Options() worker.Options {
	return p.options.Options
}

func (p *Provider) Create(ctx *worker.Context) (worker.Worker, error) {
	return &Worker{ctx: ctx, provider: p}, nil
}

func (p *Provider) Bind(next *graph.Next) {
	p.next = next
}

// Process starts the exchange of record, which must be Exchangeable.
func (p *Provider) Process(record interface{}, _ *graph.Next) {
	payload, ok := record.(Exchangeable)
	if !ok {
		logger.Warnz("[exchange] unexpected record", zap.String("role", p.name))
		return
	}
	if err := p.rt.Tell(p.name, payload.Key(), Message{Payload: payload}); err != nil {
		p.rt.Throttle().Do(p.name+"/tell", func(suppressed int64) {
			logger.Warnz("[exchange] drop payload", zap.String("role", p.name), zap.Int64("suppressed", suppressed), zap.Error(err))
		})
	}
}

func (w *Worker) OnWork(msg interface{}) error {
	m, ok := msg.(Message)
	if !ok {
		return errors.Errorf("exchange %s: unexpected message %T", w.provider.name, msg)
	}
	w.Step(m)
	w.retryDue(time.Now())
	return nil
}

// Flush runs the delayed retries that are due.
func (w *Worker) Flush() {
	w.retryDue(time.Now())
}

// Close gives every retry still waiting one last attempt. What does not resolve is lost
// with the instance.
func (w *Worker) Close() error {
	p := w.provider
	lost := 0
	for _, m := range w.pending {
		if resolved, ok := p.exchanger.Exchange(m.Payload); ok {
			p.resolved.Inc()
			p.next.Emit(resolved)
			continue
		}
		lost++
	}
	w.pending = nil
	if lost > 0 {
		p.dropped.WithLabelValues(p.name, "stopped").Add(float64(lost))
		logger.Warnz("[exchange] stop with unresolved retries", zap.String("role", p.name), zap.Int("dropped", lost))
	}
	return nil
}

// Pending counts the delayed retries of this instance.
func (w *Worker) Pending() int {
	return len(w.pending)
}

func (w *Worker) retryDue(now time.Time) {
	// retries queued by these attempts wait for a later round
	for n := len(w.pending); n > 0 && !w.pending[0].NotBefore.After(now); n-- {
		m := w.pending[0]
		w.pending[0] = Message{}
		w.pending = w.pending[1:]
		w.Step(m)
	}
}

// Step runs one attempt of m and returns the state it left m in.
func (w *Worker) Step(m Message) State {
	p := w.provider
	if resolved, ok := p.exchanger.Exchange(m.Payload); ok {
		p.resolved.Inc()
		p.next.Emit(resolved)
		return Resolved
	}
	if m.Times >= p.options.MaxRetry {
		p.exhausted.Inc()
		p.rt.Throttle().Do(p.name+"/exhausted", func(suppressed int64) {
			logger.Warnz("[exchange] retries exhausted, drop payload",
				zap.String("role", p.name),
				zap.String("key", m.Payload.Key()),
				zap.Int("times", m.Times),
				zap.Int64("suppressed", suppressed))
		})
		return Dropped
	}

	retry := Message{Payload: m.Payload, Times: m.Times + 1}
	if p.options.RetryInterval <= 0 {
		p.retries.Inc()
		w.requeue(retry)
		return Unresolved
	}
	if len(w.pending) >= p.options.MaxPending {
		p.dropped.WithLabelValues(p.name, "retry_queue_full").Inc()
		p.rt.Throttle().Do(p.name+"/pending", func(suppressed int64) {
			logger.Warnz("[exchange] retry queue full, drop payload",
				zap.String("role", p.name),
				zap.Int("capacity", p.options.MaxPending),
				zap.Int64("suppressed", suppressed))
		})
		return Dropped
	}
	p.retries.Inc()
	retry.NotBefore = time.Now().Add(p.options.RetryInterval)
	w.pending = append(w.pending, retry)
	return Unresolved
}

func (w *Worker) requeue(m Message) {
	if err := w.ctx.Tell(m.Payload.Key(), m); err != nil {
		p := w.provider
		p.rt.Throttle().Do(p.name+"/requeue", func(suppressed int64) {
			logger.Warnz("[exchange] requeue failed, drop payload",
				zap.String("role", p.name),
				zap.Int64("suppressed", suppressed),
				zap.Error(err))
		})
	}
}
