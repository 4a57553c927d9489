/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

// Package aggregation merges records by id in memory and forwards the merged values on
// every flush.
package aggregation

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
	Options struct {
		worker.Options
		// FlushSize triggers an early flush once an instance holds that many ids. 0 disables it.
		FlushSize int
	}

	// Provider is both the worker provider of an aggregation role and the graph
	// processor that routes records to it.
	Provider struct {
		rt      *worker.Runtime
		name    string
		define  *data.Define
		options Options
		next    *graph.Next
	}

	Worker struct {
		provider *Provider
		table    *Table
	}
)

// NewProvider creates the provider of role name. Register it on rt before starting graphs.
func NewProvider(rt *worker.Runtime, name string, define *data.Define, options Options) *Provider {
	return &Provider{
		rt:      rt,
		name:    name,
		define:  define,
		options: options,
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
	return &Worker{provider: p, table: NewTable()}, nil
}

func (p *Provider) Bind(next *graph.Next) {
	p.next = next
}

// Process routes the record to the instance owning its id. Failures drop the record.
func (p *Provider) Process(record interface{}, _ *graph.Next) {
	d, ok := record.(*data.Data)
	if !ok {
		logger.Warnz("[aggregation] unexpected record", zap.String("role", p.name))
		return
	}
	if err := p.rt.Tell(p.name, d.Key(), d); err != nil {
		p.rt.Throttle().Do(p.name+"/tell", func(suppressed int64) {
			logger.Warnz("[aggregation] drop record", zap.String("role", p.name), zap.Int64("suppressed", suppressed), zap.Error(err))
		})
	}
}

func (w *Worker) OnWork(msg interface{}) error {
	d, ok := msg.(*data.Data)
	if !ok {
		return errors.Errorf("aggregation %s: unexpected message %T", w.provider.name, msg)
	}
	if d.Define() != w.provider.define {
		return errors.Errorf("aggregation %s: record of %s", w.provider.name, d.Define().Name())
	}
	if err := w.table.Put(d); err != nil {
		return err
	}
	if w.provider.options.FlushSize > 0 && w.table.Len() >= w.provider.options.FlushSize {
		w.Flush()
	}
	return nil
}

// Flush swaps the table for an empty one, then emits every merged record.
func (w *Worker) Flush() {
	if w.table.Len() == 0 {
		return
	}
	for _, d := range w.table.Swap() {
		w.provider.next.Emit(d)
	}
}
