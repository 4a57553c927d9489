/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

// Package remote moves records between collector nodes. A record is owned by the node its
// key selects; the dispatcher delivers it there, locally or through a Transport.
package remote

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/traas-stack/holoinsight-collector/pkg/cluster"
	"github.com/traas-stack/holoinsight-collector/pkg/logger"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/data"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/selector"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/worker"
	"github.com/traas-stack/holoinsight-collector/pkg/util/batch"
	"go.uber.org/zap"
)

type (
	// Transport delivers a batch to the node listening on address. Delivery is at most once.
	Transport interface {
		Send(ctx context.Context, address string, batch []Envelope) error
	}

	DispatcherOptions struct {
		// BufferSize bounds the envelopes waiting for all peers together.
		BufferSize int
		BatchSize  int
		// BatchBytes flushes a peer batch once its payloads reach that many bytes.
		BatchBytes  int
		BatchWait   time.Duration
		SendTimeout time.Duration
	}

	Dispatcher struct {
		rt         *worker.Runtime
		membership *cluster.Membership
		transport  Transport
		options    DispatcherOptions
		batcher    batch.KeyBatchProcessor
		sent       *prometheus.CounterVec
	}
)

func (o DispatcherOptions) withDefaults() DispatcherOptions {
	if o.BufferSize <= 0 {
		o.BufferSize = 8192
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 512
	}
	if o.BatchBytes <= 0 {
		o.BatchBytes = 4 << 20
	}
	if o.BatchWait <= 0 {
		o.BatchWait = 200 * time.Millisecond
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 3 * time.Second
	}
	return o
}

func NewDispatcher(rt *worker.Runtime, membership *cluster.Membership, transport Transport, options DispatcherOptions) *Dispatcher {
	options = options.withDefaults()
	d := &Dispatcher{
		rt:         rt,
		membership: membership,
		transport:  transport,
		options:    options,
		sent:       rt.CounterVec("remote", "sent_total", "Records sent to other nodes.", "peer", "result"),
	}
	d.batcher = batch.NewBatchProcessorWithKey(options.BufferSize, batch.KeyConsumerFunc(d.consume),
		batch.WithMaxSize(options.BatchSize),
		batch.WithMaxWait(options.BatchWait),
		batch.WithMaxWeight(func(i interface{}) int {
			return len(i.(Envelope).Payload)
		}, options.BatchBytes))
	return d
}

func (d *Dispatcher) Start() {
	d.batcher.Run()
}

// Stop sends what is still batched.
func (d *Dispatcher) Stop() {
	d.batcher.Shutdown()
}

// Dispatch delivers record to the instance of role owning key, wherever it lives. It never
// blocks: records that can not be queued are dropped with a WorkerInvokeError.
func (d *Dispatcher) Dispatch(role string, key string, record *data.Data) error {
	r, ok := d.rt.Role(role)
	if !ok {
		return &worker.WorkerNotFoundError{Role: role}
	}
	nodes := d.membership.Nodes()
	node := nodes[selector.Node(r.Selector, key, len(nodes))]
	if node.Self {
		return d.rt.Tell(role, key, record)
	}

	if r.Define == nil {
		return errors.Errorf("role %s has no define and can not be sent to %s", role, node.Address)
	}
	payload, err := r.Define.Encode(record)
	if err != nil {
		return &worker.WorkerInvokeError{Role: role, Index: -1, Cause: errors.Wrap(err, "encode")}
	}
	if !d.batcher.TryPut(node.Address, Envelope{Role: role, Key: key, Payload: payload}) {
		d.sent.WithLabelValues(node.Address, "buffer_full").Inc()
		return &worker.WorkerInvokeError{Role: role, Index: -1, Cause: errors.Wrapf(worker.ErrRemoteSend, "buffer to %s is full", node.Address)}
	}
	return nil
}

func (d *Dispatcher) consume(address string, items []interface{}) {
	envelopes := make([]Envelope, len(items))
	for i, item := range items {
		envelopes[i] = item.(Envelope)
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.options.SendTimeout)
	defer cancel()
	if err := d.transport.Send(ctx, address, envelopes); err != nil {
		d.sent.WithLabelValues(address, "error").Add(float64(len(envelopes)))
		werr := &worker.WorkerInvokeError{Role: envelopes[0].Role, Index: -1, Cause: errors.Wrap(worker.ErrRemoteSend, err.Error())}
		d.rt.Throttle().Do("remote/send/"+address, func(suppressed int64) {
			logger.Warnz("[remote] send error, drop batch",
				zap.String("peer", address),
				zap.Int("size", len(envelopes)),
				zap.Int64("suppressed", suppressed),
				zap.Error(werr))
		})
		return
	}
	d.sent.WithLabelValues(address, "ok").Add(float64(len(envelopes)))
	if logger.IsDebugEnabled() {
		logger.Debugz("[remote] send batch", zap.String("peer", address), zap.Int("size", len(envelopes)))
	}
}
