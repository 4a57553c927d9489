/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

// Package persistence merges records by id like an aggregation worker and writes the merged
// batch to a table on every flush.
package persistence

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/traas-stack/holoinsight-collector/pkg/logger"
	"github.com/traas-stack/holoinsight-collector/pkg/storage"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/aggregation"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/data"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/graph"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/selector"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/worker"
	"go.uber.org/zap"
)

const defaultWriteTimeout = 10 * time.Second

type (
	Options struct {
		worker.Options
		WriteTimeout time.Duration
	}

	Provider struct {
		rt      *worker.Runtime
		name    string
		table   string
		define  *data.Define
		dao     storage.MetricDAO
		options Options
		rows    *prometheus.CounterVec
	}

	Worker struct {
		provider *Provider
		table    *aggregation.Table
	}
)

// NewProvider creates the persistence role name writing records of define to table.
func NewProvider(rt *worker.Runtime, name string, table string, define *data.Define, dao storage.MetricDAO, options Options) *Provider {
	if options.WriteTimeout <= 0 {
		options.WriteTimeout = defaultWriteTimeout
	}
	return &Provider{
		rt:      rt,
		name:    name,
		table:   table,
		define:  define,
		dao:     dao,
		options: options,
		rows:    rt.CounterVec("persistence", "rows_total", "Rows written by persistence workers.", "table", "result"),
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
	if p.dao == nil {
		return nil, errors.Errorf("persistence %s has no storage", p.name)
	}
	return &Worker{provider: p, table: aggregation.NewTable()}, nil
}

func (p *Provider) Process(record interface{}, _ *graph.Next) {
	d, ok := record.(*data.Data)
	if !ok {
		logger.Warnz("[persistence] unexpected record", zap.String("role", p.name))
		return
	}
	if err := p.rt.Tell(p.name, d.Key(), d); err != nil {
		p.rt.Throttle().Do(p.name+"/tell", func(suppressed int64) {
			logger.Warnz("[persistence] drop record", zap.String("role", p.name), zap.Int64("suppressed", suppressed), zap.Error(err))
		})
	}
}

func (w *Worker) OnWork(msg interface{}) error {
	d, ok := msg.(*data.Data)
	if !ok {
		return errors.Errorf("persistence %s: unexpected message %T", w.provider.name, msg)
	}
	if d.Define() != w.provider.define {
		return errors.Errorf("persistence %s: record of %s", w.provider.name, d.Define().Name())
	}
	return w.table.Put(d)
}

// Flush writes the merged records. A failed write is logged and the batch dropped; the
// next flush writes newer values of the same buckets.
func (w *Worker) Flush() {
	if w.table.Len() == 0 {
		return
	}
	m := w.table.Swap()
	records := make([]*data.Data, 0, len(m))
	for _, d := range m {
		records = append(records, d)
	}

	p := w.provider
	ctx, cancel := context.WithTimeout(context.Background(), p.options.WriteTimeout)
	defer cancel()
	begin := time.Now()
	if err := p.dao.Upsert(ctx, p.table, p.define, records); err != nil {
		p.rows.WithLabelValues(p.table, "error").Add(float64(len(records)))
		p.rt.Throttle().Do(p.name+"/upsert", func(suppressed int64) {
			logger.Errorz("[persistence] upsert error, drop batch",
				zap.String("table", p.table),
				zap.Int("size", len(records)),
				zap.Int64("suppressed", suppressed),
				zap.Error(err))
		})
		return
	}
	p.rows.WithLabelValues(p.table, "ok").Add(float64(len(records)))
	if logger.IsDebugEnabled() {
		logger.Debugz("[persistence] upsert", zap.String("table", p.table), zap.Int("size", len(records)), zap.Duration("cost", time.Since(begin)))
	}
}
