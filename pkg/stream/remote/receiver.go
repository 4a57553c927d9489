/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package remote

import (
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/traas-stack/holoinsight-collector/pkg/logger"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/worker"
	"go.uber.org/zap"
)

// Receiver hands envelopes arriving from other nodes to the local roles they address.
type Receiver struct {
	rt       *worker.Runtime
	received *prometheus.CounterVec
}

func NewReceiver(rt *worker.Runtime) *Receiver {
	return &Receiver{
		rt:       rt,
		received: rt.CounterVec("remote", "received_total", "Records received from other nodes.", "role", "result"),
	}
}

// Receive delivers every envelope it can. The returned error lists the ones it could not;
// those records are lost.
func (r *Receiver) Receive(batch []Envelope) error {
	var result *multierror.Error
	for i := range batch {
		if err := r.receive(&batch[i]); err != nil {
			r.received.WithLabelValues(batch[i].Role, "error").Inc()
			result = multierror.Append(result, err)
			continue
		}
		r.received.WithLabelValues(batch[i].Role, "ok").Inc()
	}
	if err := result.ErrorOrNil(); err != nil {
		r.rt.Throttle().Do("remote/receive", func(suppressed int64) {
			logger.Warnz("[remote] receive error", zap.Int("batch", len(batch)), zap.Int64("suppressed", suppressed), zap.Error(err))
		})
		return err
	}
	return nil
}

func (r *Receiver) receive(e *Envelope) error {
	role, ok := r.rt.Role(e.Role)
	if !ok {
		return &worker.WorkerNotFoundError{Role: e.Role}
	}
	if role.Define == nil {
		return errors.Errorf("role %s does not accept remote records", e.Role)
	}
	d, err := role.Define.Decode(e.Payload)
	if err != nil {
		return err
	}
	return r.rt.Tell(e.Role, e.Key, d)
}
