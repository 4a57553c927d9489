/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package analysis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/traas-stack/holoinsight-collector/pkg/analysis/listener"
	"github.com/traas-stack/holoinsight-collector/pkg/analysis/metric"
	"github.com/traas-stack/holoinsight-collector/pkg/cluster"
	"github.com/traas-stack/holoinsight-collector/pkg/register"
	"github.com/traas-stack/holoinsight-collector/pkg/storage"
	"github.com/traas-stack/holoinsight-collector/pkg/storage/memory"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/data"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/exchange"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/graph"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/remote"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/timebucket"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/worker"
)

type env struct {
	rt        *worker.Runtime
	store     *memory.Storage
	register  *register.Service
	pipelines *Pipelines
}

func setup(t *testing.T, options Options) *env {
	rt := worker.NewRuntime()
	store := memory.New()
	membership := cluster.New("", "127.0.0.1:7000", nil, 0)
	dispatcher := remote.NewDispatcher(rt, membership, remote.NewLoopback(0), remote.DispatcherOptions{})
	dispatcher.Start()

	reg, err := register.New(store, register.Options{})
	require.NoError(t, err)
	reg.Start()

	if options.Location == nil {
		options.Location = time.UTC
	}
	p, err := Build(rt, graph.NewRegistry(), dispatcher, store, reg, options)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, rt.Shutdown(ctx))
		dispatcher.Stop()
		reg.Stop()
	})
	return &env{rt: rt, store: store, register: reg, pipelines: p}
}

// stored flushes the pipelines until id shows up in the table of define at g.
func (e *env) stored(t *testing.T, define *data.Define, g timebucket.Granularity, id string, check func(d *data.Data) bool) {
	table := storage.TableName(define, g)
	assert.Eventually(t, func() bool {
		if err := e.pipelines.Flush(); err != nil {
			return false
		}
		d, ok, err := e.store.Get(context.Background(), table, define, id)
		return err == nil && ok && check(d)
	}, 5*time.Second, 20*time.Millisecond, "%s %s", table, id)
}

func times(n int64) func(d *data.Data) bool {
	return func(d *data.Data) bool {
		return metric.Times(d) == n
	}
}

func TestApplicationComponentEndToEnd(t *testing.T) {
	e := setup(t, Options{})

	require.NoError(t, e.pipelines.Start(metric.NewApplicationComponent(202401011200, 2, 5, 1)))
	require.NoError(t, e.pipelines.Start(metric.NewApplicationComponent(202401011200, 2, 5, 1)))

	e.stored(t, metric.ApplicationComponent, timebucket.Minute, "202401011200.2.5", times(2))
	e.stored(t, metric.ApplicationComponent, timebucket.Hour, "2024010112.2.5", times(2))

	// a second minute pair of the same hour merges into the same hour record
	require.NoError(t, e.pipelines.Start(metric.NewApplicationComponent(202401011201, 2, 5, 1)))
	require.NoError(t, e.pipelines.Start(metric.NewApplicationComponent(202401011201, 2, 5, 1)))

	e.stored(t, metric.ApplicationComponent, timebucket.Minute, "202401011201.2.5", times(2))
	e.stored(t, metric.ApplicationComponent, timebucket.Hour, "2024010112.2.5", times(4))
	e.stored(t, metric.ApplicationComponent, timebucket.Day, "20240101.2.5", times(4))
	e.stored(t, metric.ApplicationComponent, timebucket.Month, "202401.2.5", times(4))

	minute, ok, err := e.store.Get(context.Background(), storage.TableName(metric.ApplicationComponent, timebucket.Minute), metric.ApplicationComponent, "202401011200.2.5")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), metric.Times(minute))
}

func TestReferencesResolveThroughExchange(t *testing.T) {
	e := setup(t, Options{
		Exchange: exchange.Options{RetryInterval: 50 * time.Millisecond},
	})

	start := time.Date(2024, 1, 1, 12, 0, 5, 0, time.UTC).UnixMilli()
	seg := &listener.Segment{
		ApplicationID: 5,
		InstanceID:    50,
		Spans: []listener.Span{
			listener.NewSpan(0, listener.SpanKindEntry, "/orders").
				WithComponentID(2).
				WithTimes(start, start+120).
				WithRefs(listener.Reference{ParentApplicationID: 4, ParentInstanceID: 40, ParentServiceName: "/checkout"}),
		},
	}
	require.NoError(t, e.pipelines.Ingest(seg))

	calls := func(n int64) func(d *data.Data) bool {
		return func(d *data.Data) bool {
			return metric.CallOf(d).Calls == n
		}
	}
	e.stored(t, metric.ApplicationComponent, timebucket.Minute, "202401011200.2.5", times(1))
	e.stored(t, metric.InstanceReference, timebucket.Minute, "202401011200.40.50.1", calls(1))
	e.stored(t, metric.ApplicationReference, timebucket.Minute, "202401011200.4.5.1", calls(1))
	e.stored(t, metric.ApplicationReference, timebucket.Hour, "2024010112.4.5.1", calls(1))

	front := e.register.GetOrCreate(register.KindService, ServiceKey(4, "/checkout"))
	behind := e.register.GetOrCreate(register.KindService, ServiceKey(5, "/orders"))
	require.NotEqual(t, register.Unresolved, front)
	require.NotEqual(t, register.Unresolved, behind)
	e.stored(t, metric.ServiceReference, timebucket.Minute, "202401011200."+data.JoinMetricID(front, behind, metric.SourceCallee), func(d *data.Data) bool {
		return metric.AvgDuration(d) == 120
	})
}

func TestBuildRegistersRolesUpstreamFirst(t *testing.T) {
	e := setup(t, Options{RollUps: []timebucket.Granularity{timebucket.Hour}})
	roles := e.pipelines.Roles()
	assert.Equal(t, []string{
		"application_component_aggregation",
		"application_component_remote",
		"application_component_minute",
		"application_component_hour",
		"service_reference_exchange",
		"service_reference_aggregation",
	}, roles[:6])
	assert.Len(t, roles, 4*4+1)

	err := e.pipelines.Start(metric.InstanceReference.NewRecord(202401011200, "1.2.0"))
	assert.NoError(t, err)
	assert.Error(t, e.pipelines.Start("not a record"))
}

func TestExchangerDoesNotModifyPayload(t *testing.T) {
	store := memory.New()
	reg, err := register.New(store, register.Options{})
	require.NoError(t, err)
	require.NoError(t, reg.Load(context.Background()))

	x := &referenceExchanger{resolver: reg}
	r := &metric.ServiceReferenceRecord{FrontServiceName: "User", BehindServiceName: "/home", BehindApplicationID: 5}
	_, ok := x.Exchange(r)
	assert.False(t, ok)
	assert.Equal(t, int32(0), r.FrontServiceID)
}
