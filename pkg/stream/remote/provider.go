/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package remote

import (
	"github.com/pkg/errors"
	"github.com/traas-stack/holoinsight-collector/pkg/logger"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/data"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/graph"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/selector"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/worker"
	"go.uber.org/zap"
)

type (
	// Provider is the remote stage of a metric graph. As a processor it dispatches records
	// to the node owning their id; as a worker role it receives them there and hands them
	// to the successors of its node.
	Provider struct {
		rt         *worker.Runtime
		name       string
		define     *data.Define
		dispatcher *Dispatcher
		options    worker.Options
		next       *graph.Next
	}

	Worker struct {
		provider *Provider
	}
)

func NewProvider(rt *worker.Runtime, name string, define *data.Define, dispatcher *Dispatcher, options worker.Options) *Provider {
	return &Provider{
		rt:         rt,
		name:       name,
		define:     define,
		dispatcher: dispatcher,
		options:    options,
	}
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) Role() worker.Role {
	return worker.Role{Name: p.name, Selector: selector.NewHashCode(), Define: p.define}
}

func (p *Provider) Options() worker.Options {
	return p.options
}

func (p *Provider) Create(ctx *worker.Context) (worker.Worker, error) {
	return &Worker{provider: p}, nil
}

func (p *Provider) Bind(next *graph.Next) {
	p.next = next
}

func (p *Provider) Process(record interface{}, _ *graph.Next) {
	d, ok := record.(*data.Data)
	if !ok {
		logger.Warnz("[remote] unexpected record", zap.String("role", p.name))
		return
	}
	if err := p.dispatcher.Dispatch(p.name, d.Key(), d); err != nil {
		p.rt.Throttle().Do(p.name+"/dispatch", func(suppressed int64) {
			logger.Warnz("[remote] drop record", zap.String("role", p.name), zap.Int64("suppressed", suppressed), zap.Error(err))
		})
	}
}

func (w *Worker) OnWork(msg interface{}) error {
	d, ok := msg.(*data.Data)
	if !ok {
		return errors.Errorf("remote %s: unexpected message %T", w.provider.name, msg)
	}
	w.provider.next.Emit(d)
	return nil
}
