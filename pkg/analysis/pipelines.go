/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

// Package analysis wires the metric graphs of the collector and feeds them with parsed
// segments.
//
// Every metric kind gets the same graph:
//
//	aggregation -> remote -> persistence(minute)
//	                      -> transform(hour)  -> persistence(hour)
//	                      -> transform(day)   -> persistence(day)
//	                      -> transform(month) -> persistence(month)
//
// Service references first wait in an exchange until their names have ids, then bridge
// into the service reference graph, which rolls up into instance references and those
// into application references.
package analysis

import (
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/traas-stack/holoinsight-collector/pkg/analysis/listener"
	"github.com/traas-stack/holoinsight-collector/pkg/analysis/metric"
	"github.com/traas-stack/holoinsight-collector/pkg/logger"
	"github.com/traas-stack/holoinsight-collector/pkg/storage"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/aggregation"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/data"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/exchange"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/graph"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/persistence"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/remote"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/timebucket"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/worker"
	"go.uber.org/zap"
)

const exchangeGraphID = metric.NameServiceReference + "_exchange"

type (
	Options struct {
		Aggregation aggregation.Options
		Remote      worker.Options
		Persistence persistence.Options
		Exchange    exchange.Options
		// RollUps are the coarser granularities every metric is persisted at.
		RollUps  []timebucket.Granularity
		Location *time.Location
	}

	Pipelines struct {
		rt         *worker.Runtime
		registry   *graph.Registry
		dispatcher *remote.Dispatcher
		dao        storage.MetricDAO
		options    Options
		listener   *listener.Listener

		roles      []string
		components *graph.Graph
		exchange   *graph.Graph
	}
)

// Build registers every role on rt and every graph on registry, then freezes registry.
func Build(rt *worker.Runtime, registry *graph.Registry, dispatcher *remote.Dispatcher, dao storage.MetricDAO, resolver listener.Resolver, options Options) (*Pipelines, error) {
	if options.RollUps == nil {
		options.RollUps = []timebucket.Granularity{timebucket.Hour, timebucket.Day, timebucket.Month}
	}
	p := &Pipelines{
		rt:         rt,
		registry:   registry,
		dispatcher: dispatcher,
		dao:        dao,
		options:    options,
		listener:   listener.New(resolver, options.Location),
	}

	var err error
	if p.components, _, err = p.metricGraph(metric.ApplicationComponent); err != nil {
		return nil, err
	}

	if p.exchange, err = registry.CreateIfAbsent(exchangeGraphID, &metric.ServiceReferenceRecord{}); err != nil {
		return nil, err
	}
	exchanger := exchange.NewProvider(rt, exchangeGraphID, &referenceExchanger{resolver: resolver}, options.Exchange)
	if err := p.register(exchanger); err != nil {
		return nil, err
	}
	exchangeHead := p.exchange.AddNode(exchanger)

	services, servicesHead, err := p.metricGraph(metric.ServiceReference)
	if err != nil {
		return nil, err
	}
	if _, err := exchangeHead.BridgeTo(services, func(record interface{}) (interface{}, bool) {
		r, ok := record.(*metric.ServiceReferenceRecord)
		if !ok {
			return nil, false
		}
		return r.ToData(), true
	}); err != nil {
		return nil, err
	}

	instances, instancesHead, err := p.metricGraph(metric.InstanceReference)
	if err != nil {
		return nil, err
	}
	if _, err := servicesHead.BridgeTo(instances, rollUp(metric.ToInstanceReference)); err != nil {
		return nil, err
	}

	applications, _, err := p.metricGraph(metric.ApplicationReference)
	if err != nil {
		return nil, err
	}
	if _, err := instancesHead.BridgeTo(applications, rollUp(metric.ToApplicationReference)); err != nil {
		return nil, err
	}

	registry.Freeze()
	logger.Infoz("[analysis] pipelines built", zap.Int("graphs", len(registry.Graphs())), zap.Strings("roles", p.roles))
	return p, nil
}

func rollUp(f func(d *data.Data) (*data.Data, bool)) func(record interface{}) (interface{}, bool) {
	return func(record interface{}) (interface{}, bool) {
		d, ok := record.(*data.Data)
		if !ok {
			return nil, false
		}
		return f(d)
	}
}

// metricGraph builds the graph of define and returns it with its aggregation node.
func (p *Pipelines) metricGraph(define *data.Define) (*graph.Graph, *graph.Node, error) {
	name := define.Name()
	g, err := p.registry.CreateIfAbsent(name, define.New())
	if err != nil {
		return nil, nil, err
	}

	agg := aggregation.NewProvider(p.rt, name+"_aggregation", define, p.options.Aggregation)
	rem := remote.NewProvider(p.rt, name+"_remote", define, p.dispatcher, p.options.Remote)
	if err := p.register(agg, rem); err != nil {
		return nil, nil, err
	}
	head := g.AddNode(agg)
	remoteNode := head.AddNext(rem)

	minute := storage.TableName(define, timebucket.Minute)
	pm := persistence.NewProvider(p.rt, minute, minute, define, p.dao, p.options.Persistence)
	if err := p.register(pm); err != nil {
		return nil, nil, err
	}
	remoteNode.AddNext(pm)

	for _, to := range p.options.RollUps {
		table := storage.TableName(define, to)
		pp := persistence.NewProvider(p.rt, table, table, define, p.dao, p.options.Persistence)
		if err := p.register(pp); err != nil {
			return nil, nil, err
		}
		remoteNode.AddNext(graph.NewTransform(to)).AddNext(pp)
	}
	return g, head, nil
}

func (p *Pipelines) register(providers ...worker.Provider) error {
	for _, provider := range providers {
		if err := p.rt.Register(provider); err != nil {
			return errors.Wrap(err, "build pipelines")
		}
		p.roles = append(p.roles, provider.Role().Name)
	}
	return nil
}

// Roles lists the roles of the pipelines, upstream first.
func (p *Pipelines) Roles() []string {
	return append([]string(nil), p.roles...)
}

// Ingest parses seg and starts its records on their graphs.
func (p *Pipelines) Ingest(seg *listener.Segment) error {
	result := p.listener.Parse(seg)
	var errs *multierror.Error
	for _, d := range result.Components {
		if err := p.components.Start(d); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	for _, r := range result.References {
		if err := p.exchange.Start(r); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// Start feeds a record straight into the graph of its kind.
func (p *Pipelines) Start(record interface{}) error {
	if d, ok := record.(*data.Data); ok {
		g, ok := p.registry.Find(d.Define().Name())
		if !ok {
			return errors.Errorf("no graph for %s", d.Define().Name())
		}
		return g.Start(d)
	}
	return p.exchange.Start(record)
}

// Flush raises a flush on every role, upstream first. Flushes run asynchronously on the
// worker goroutines.
func (p *Pipelines) Flush() error {
	var errs *multierror.Error
	for _, role := range p.roles {
		if err := p.rt.Flush(role); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}
