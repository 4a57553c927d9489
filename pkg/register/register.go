/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

// Package register turns names into compact integer ids. Lookups never block: a name
// without an id yet gets 0 and is queued for registration, and a later lookup finds it.
package register

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/jpillora/backoff"
	"github.com/pkg/errors"
	"github.com/traas-stack/holoinsight-collector/pkg/logger"
	"github.com/traas-stack/holoinsight-collector/pkg/storage"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"
)

// Unresolved is what lookups return before an id is assigned. It is never a valid id.
const Unresolved int32 = 0

const (
	KindService  = "service"
	KindEndpoint = "endpoint"
	KindPeer     = "peer"
)

const maxAttempts = 5

type (
	Options struct {
		// RatePerSecond caps registrations sent to storage.
		RatePerSecond int
		CacheSize     int
		QueueSize     int
		Timeout       time.Duration
	}

	request struct {
		kind string
		name string
	}

	Service struct {
		dao     storage.InventoryDAO
		options Options
		limiter ratelimit.Limiter

		mutex     sync.Mutex
		caches    map[string]*lru.Cache
		pending   map[request]struct{}
		instances *lru.Cache

		queue    chan request
		started  int32
		stopOnce sync.Once
		stopCh   chan struct{}
		done     chan struct{}
	}
)

func (o Options) withDefaults() Options {
	if o.RatePerSecond <= 0 {
		o.RatePerSecond = 1000
	}
	if o.CacheSize <= 0 {
		o.CacheSize = 100000
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 10000
	}
	if o.Timeout <= 0 {
		o.Timeout = 3 * time.Second
	}
	return o
}

func New(dao storage.InventoryDAO, options Options) (*Service, error) {
	options = options.withDefaults()
	instances, err := lru.New(options.CacheSize)
	if err != nil {
		return nil, err
	}
	return &Service{
		dao:       dao,
		options:   options,
		limiter:   ratelimit.New(options.RatePerSecond),
		caches:    make(map[string]*lru.Cache),
		pending:   make(map[request]struct{}),
		instances: instances,
		queue:     make(chan request, options.QueueSize),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

func (s *Service) cache(kind string) *lru.Cache {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	c, ok := s.caches[kind]
	if !ok {
		// size is positive, lru.New can not fail
		c, _ = lru.New(s.options.CacheSize)
		s.caches[kind] = c
	}
	return c
}

// Load fills the caches of kinds from storage.
func (s *Service) Load(ctx context.Context, kinds ...string) error {
	for _, kind := range kinds {
		ids, err := s.dao.Load(ctx, kind)
		if err != nil {
			return errors.Wrapf(err, "load %s", kind)
		}
		c := s.cache(kind)
		for name, id := range ids {
			c.Add(name, id)
		}
		logger.Infoz("[register] load", zap.String("kind", kind), zap.Int("size", len(ids)))
	}
	return nil
}

// GetOrCreate returns the id of name, or Unresolved after queueing its registration.
func (s *Service) GetOrCreate(kind, name string) int32 {
	if v, ok := s.cache(kind).Get(name); ok {
		return v.(int32)
	}
	req := request{kind: kind, name: name}

	s.mutex.Lock()
	if _, ok := s.pending[req]; ok {
		s.mutex.Unlock()
		return Unresolved
	}
	s.pending[req] = struct{}{}
	s.mutex.Unlock()

	select {
	case s.queue <- req:
	default:
		s.finish(req)
		logger.Warnz("[register] queue full", zap.String("kind", kind), zap.String("name", name))
	}
	return Unresolved
}

// BindInstance records the application an instance belongs to.
func (s *Service) BindInstance(instanceID, applicationID int32) {
	if instanceID == Unresolved || applicationID == Unresolved {
		return
	}
	s.instances.Add(instanceID, applicationID)
}

// GetApplicationID returns the application of instanceID, or Unresolved.
func (s *Service) GetApplicationID(instanceID int32) int32 {
	if v, ok := s.instances.Get(instanceID); ok {
		return v.(int32)
	}
	return Unresolved
}

// Pending counts names waiting for an id.
func (s *Service) Pending() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.pending)
}

func (s *Service) Start() {
	if atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		go s.loop()
	}
}

// Stop ends the registration loop. Queued names are dropped; they are queued again on
// their next lookup.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	if atomic.LoadInt32(&s.started) == 1 {
		<-s.done
	}
}

func (s *Service) finish(req request) {
	s.mutex.Lock()
	delete(s.pending, req)
	s.mutex.Unlock()
}

func (s *Service) loop() {
	defer close(s.done)
	for {
		select {
		case <-s.stopCh:
			return
		case req := <-s.queue:
			s.limiter.Take()
			s.register(req)
			s.finish(req)
		}
	}
}

func (s *Service) register(req request) {
	b := &backoff.Backoff{
		Factor: 2,
		Jitter: true,
		Min:    50 * time.Millisecond,
		Max:    2 * time.Second,
	}
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), s.options.Timeout)
		id, err := s.dao.Register(ctx, req.kind, req.name)
		cancel()
		if err == nil && id != Unresolved {
			s.cache(req.kind).Add(req.name, id)
			logger.Debugz("[register] registered", zap.String("kind", req.kind), zap.String("name", req.name), zap.Int32("id", id))
			return
		}
		if err == nil {
			err = errors.New("storage returned id 0")
		}
		if attempt >= maxAttempts {
			logger.Errorz("[register] give up", zap.String("kind", req.kind), zap.String("name", req.name), zap.Error(err))
			return
		}
		logger.Warnz("[register] register error, retry", zap.String("kind", req.kind), zap.String("name", req.name), zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-time.After(b.Duration()):
		case <-s.stopCh:
			return
		}
	}
}
