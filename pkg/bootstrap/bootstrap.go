/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

// Package bootstrap assembles a collector from its configuration and runs it.
package bootstrap

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/oklog/run"
	"github.com/pkg/errors"
	"github.com/traas-stack/holoinsight-collector/pkg/analysis"
	"github.com/traas-stack/holoinsight-collector/pkg/appconfig"
	"github.com/traas-stack/holoinsight-collector/pkg/cluster"
	"github.com/traas-stack/holoinsight-collector/pkg/logger"
	"github.com/traas-stack/holoinsight-collector/pkg/register"
	"github.com/traas-stack/holoinsight-collector/pkg/server/admin"
	"github.com/traas-stack/holoinsight-collector/pkg/storage"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/aggregation"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/exchange"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/graph"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/persistence"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/remote"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/worker"
	"github.com/traas-stack/holoinsight-collector/pkg/util/stat"
	"go.uber.org/zap"
)

const (
	shutdownTimeout = 30 * time.Second
	statInterval    = time.Minute
)

type (
	StopComponent interface {
		Stop()
	}

	// Collector owns every component of a running node.
	Collector struct {
		configPath string
		config     *appconfig.CollectorConfig

		store      storage.Storage
		register   *register.Service
		runtime    *worker.Runtime
		graphs     *graph.Registry
		membership *cluster.Membership
		transport  *remote.GRPCTransport
		dispatcher *remote.Dispatcher
		pipelines  *analysis.Pipelines
		grpcServer *remote.Server
		admin      *admin.Server
		stat       *stat.Manager
	}
)

// New builds a collector. Nothing is served until Run. When New fails, what it already
// built is released.
func New(configPath string, config *appconfig.CollectorConfig) (c *Collector, err error) {
	begin := time.Now()
	c = &Collector{configPath: configPath, config: config}
	defer func() {
		if err != nil {
			c.release()
			c = nil
		}
	}()

	if c.store, err = storage.Open(storage.Config{Type: config.Storage.Type, Path: config.Storage.Path}); err != nil {
		return nil, err
	}
	logger.Infoz("[bootstrap] storage", zap.String("type", config.Storage.Type), zap.String("path", config.Storage.Path))

	if c.register, err = register.New(c.store, register.Options{
		RatePerSecond: config.Register.RatePerSecond,
		CacheSize:     config.Register.CacheSize,
		QueueSize:     config.Register.QueueSize,
	}); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	err = c.register.Load(ctx, register.KindService, register.KindEndpoint, register.KindPeer)
	cancel()
	if err != nil {
		return nil, err
	}
	c.register.Start()

	c.runtime = worker.NewRuntime()
	c.graphs = graph.NewRegistry()

	cc := config.Cluster
	c.membership = cluster.New(cc.NodeID, cc.Address, cc.Peers, cc.PeersDebounce.Get(3*time.Second))
	c.transport = remote.NewGRPCTransport(remote.GRPCOptions{
		PoolSize:          cc.ConnPoolSize,
		CompressThreshold: cc.CompressThreshold,
	})
	if err := c.transport.Sync(c.membership.Nodes()); err != nil {
		// peers that are down now are dialed again on the next send
		logger.Warnz("[bootstrap] dial peers error", zap.Error(err))
	}
	c.membership.OnChange(func(nodes []cluster.Node) {
		if err := c.transport.Sync(nodes); err != nil {
			logger.Warnz("[bootstrap] dial peers error", zap.Error(err))
		}
	})
	c.dispatcher = remote.NewDispatcher(c.runtime, c.membership, c.transport, remote.DispatcherOptions{
		BufferSize:  cc.BufferSize,
		BatchSize:   cc.BatchSize,
		BatchWait:   cc.BatchWait.Get(0),
		SendTimeout: cc.SendTimeout.Get(0),
	})
	c.dispatcher.Start()

	wc := config.Worker
	workerOptions := worker.Options{
		PoolSize:      wc.PoolSize,
		QueueSize:     wc.QueueSize,
		FlushInterval: wc.FlushInterval.Get(time.Second),
	}
	if c.pipelines, err = analysis.Build(c.runtime, c.graphs, c.dispatcher, c.store, c.register, analysis.Options{
		Aggregation: aggregation.Options{Options: workerOptions, FlushSize: wc.FlushSize},
		Remote:      worker.Options{PoolSize: wc.PoolSize, QueueSize: wc.QueueSize},
		Persistence: persistence.Options{
			Options: worker.Options{
				PoolSize:      wc.PoolSize,
				QueueSize:     wc.QueueSize,
				FlushInterval: config.Storage.FlushInterval.Get(5 * time.Second),
			},
			WriteTimeout: config.Storage.WriteTimeout.Get(0),
		},
		Exchange: exchange.Options{
			Options:       worker.Options{PoolSize: wc.PoolSize, QueueSize: wc.QueueSize},
			MaxRetry:      config.Exchange.MaxRetry,
			RetryInterval: config.Exchange.RetryInterval.Get(0),
		},
		Location: config.Location(),
	}); err != nil {
		return nil, err
	}

	if c.grpcServer, err = remote.NewServer(cc.Listen, remote.NewReceiver(c.runtime)); err != nil {
		return nil, err
	}
	if c.admin, err = admin.New(config.Admin.Listen, admin.Sources{
		Runtime:    c.runtime,
		Graphs:     c.graphs,
		Membership: c.membership,
		Pipelines:  c.pipelines,
	}); err != nil {
		return nil, err
	}

	c.stat = stat.NewStatManager(statInterval, nil)
	c.stat.Gauge("worker", workerGauge(c.runtime))
	c.stat.Gauge("register", func() []stat.GaugeSubItem {
		return []stat.GaugeSubItem{{Keys: []string{"pending"}, Values: []int64{int64(c.register.Pending())}}}
	})
	c.stat.Start()

	logger.Infoz("[bootstrap] collector built",
		zap.String("node", c.membership.Self().ID),
		zap.Int("nodes", len(c.membership.Nodes())),
		zap.Int("roles", len(c.pipelines.Roles())),
		zap.Duration("cost", time.Since(begin)))
	return c, nil
}

// workerGauge reports pool size, queued records and the deepest mailbox per role.
func workerGauge(rt *worker.Runtime) stat.Gauger {
	return func() []stat.GaugeSubItem {
		var items []stat.GaugeSubItem
		for _, st := range rt.Stats() {
			var total, deepest int
			for _, d := range st.Depths {
				total += d
				if d > deepest {
					deepest = d
				}
			}
			items = append(items, stat.GaugeSubItem{
				Keys:   []string{st.Role},
				Values: []int64{int64(st.PoolSize), int64(total), int64(deepest)},
			})
		}
		return items
	}
}

func (c *Collector) Pipelines() *analysis.Pipelines {
	return c.pipelines
}

// Run serves until ctx is done, SIGINT or SIGTERM arrives, or a server fails, then stops
// everything. SIGHUP reloads the peer list from the config file.
func (c *Collector) Run(ctx context.Context) error {
	var g run.Group
	g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))
	{
		stop := make(chan struct{})
		g.Add(func() error {
			c.watchReload(stop)
			return nil
		}, func(error) {
			close(stop)
		})
	}
	g.Add(c.grpcServer.Serve, func(error) {
		c.grpcServer.Stop()
	})
	g.Add(c.admin.Serve, func(error) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.admin.Shutdown(ctx)
	})

	err := g.Run()
	var signalErr run.SignalError
	if errors.As(err, &signalErr) || errors.Is(err, context.Canceled) {
		logger.Infoz("[bootstrap] stop", zap.Error(err))
		err = nil
	}
	if stopErr := c.stop(); stopErr != nil {
		err = multierror.Append(err, stopErr).ErrorOrNil()
	}
	return err
}

func (c *Collector) watchReload(stop chan struct{}) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-stop:
			return
		case <-hup:
			config, err := appconfig.Load(c.configPath)
			if err != nil {
				logger.Errorz("[bootstrap] reload config error", zap.Error(err))
				continue
			}
			logger.Infoz("[bootstrap] reload peers", zap.Strings("peers", config.Cluster.Peers))
			c.membership.Update(config.Cluster.Peers)
		}
	}
}

// stop runs after the servers stopped accepting: the runtime drains and flushes upstream
// roles first, then what is still batched for peers is sent and storage is closed.
func (c *Collector) stop() error {
	begin := time.Now()
	err := c.release()
	logger.Infoz("[bootstrap] stopped", zap.Duration("cost", time.Since(begin)), zap.Error(err))
	return err
}

// release stops whatever New built, in dependency order. Components never built are skipped.
func (c *Collector) release() error {
	var result *multierror.Error
	if c.stat != nil {
		c.stat.Stop()
	}
	if c.admin != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		c.admin.Shutdown(ctx)
		cancel()
	}
	if c.grpcServer != nil {
		c.grpcServer.Stop()
	}
	if c.runtime != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := c.runtime.Shutdown(ctx); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "runtime"))
		}
		cancel()
	}
	var components []StopComponent
	if c.dispatcher != nil {
		components = append(components, c.dispatcher)
	}
	if c.register != nil {
		components = append(components, c.register)
	}
	for _, sc := range components {
		sc.Stop()
	}
	if c.transport != nil {
		c.transport.Close()
	}
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "storage"))
		}
	}
	return result.ErrorOrNil()
}
