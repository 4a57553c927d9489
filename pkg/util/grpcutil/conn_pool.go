/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package grpcutil

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/traas-stack/holoinsight-collector/pkg/logger"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

type (
	CreateConnFunc func() (*grpc.ClientConn, error)

	// ConnPool spreads calls over size connections to one target and replaces all of them
	// every reconnectInterval, so long lived streams get rebalanced across server replicas.
	// Replaced connections are closed after closeDelay to let in-flight calls finish.
	ConnPool struct {
		create            CreateConnFunc
		size              int
		conns             atomic.Value // []*grpc.ClientConn
		index             int64
		mutex             sync.Mutex
		stopCh            chan struct{}
		reconnectInterval time.Duration
		closeDelay        time.Duration
	}
)

var ErrPoolStopped = errors.New("conn pool is stopped")

func NewConnPool(create CreateConnFunc, size int, reconnectInterval time.Duration, closeDelay time.Duration) *ConnPool {
	if size <= 0 {
		size = 1
	}
	return &ConnPool{
		create:            create,
		size:              size,
		stopCh:            make(chan struct{}),
		reconnectInterval: reconnectInterval,
		closeDelay:        closeDelay,
	}
}

// Get returns the next connection round-robin.
func (p *ConnPool) Get() (*grpc.ClientConn, error) {
	if p.isStopped() {
		return nil, ErrPoolStopped
	}
	conns, _ := p.conns.Load().([]*grpc.ClientConn)
	if len(conns) == 0 {
		return nil, errors.New("conn pool is not started")
	}
	i := atomic.AddInt64(&p.index, 1)
	return conns[int(i%int64(len(conns)))], nil
}

func (p *ConnPool) Start() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if err := p.rebuild(); err != nil {
		return err
	}
	if p.reconnectInterval > 0 {
		go p.loop()
	}
	return nil
}

func (p *ConnPool) isStopped() bool {
	select {
	case <-p.stopCh:
		return true
	default:
		return false
	}
}

func (p *ConnPool) Stop() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.isStopped() {
		return
	}

	close(p.stopCh)
	conns, _ := p.conns.Load().([]*grpc.ClientConn)
	p.delayClose(conns)
}

func (p *ConnPool) rebuild() error {
	old, _ := p.conns.Load().([]*grpc.ClientConn)
	conns := make([]*grpc.ClientConn, p.size)
	for i := 0; i < p.size; i++ {
		conn, err := p.create()
		if err != nil {
			for _, c := range conns[:i] {
				c.Close()
			}
			return errors.Wrap(err, "create grpc conn")
		}
		conn.Connect()
		conns[i] = conn
	}
	p.conns.Store(conns)

	p.delayClose(old)
	return nil
}

func (p *ConnPool) delayClose(conns []*grpc.ClientConn) {
	if len(conns) == 0 {
		return
	}
	if p.closeDelay <= 0 {
		for _, conn := range conns {
			conn.Close()
		}
		return
	}
	time.AfterFunc(p.closeDelay, func() {
		for _, conn := range conns {
			conn.Close()
		}
	})
}

func (p *ConnPool) loop() {
	timer := time.NewTimer(p.reconnectInterval)
	defer timer.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-timer.C:
			func() {
				p.mutex.Lock()
				defer p.mutex.Unlock()
				if p.isStopped() {
					return
				}
				if err := p.rebuild(); err != nil {
					logger.Errorz("[grpc] rebuild conn pool error", zap.Error(err))
				}
			}()
			timer.Reset(p.reconnectInterval)
		}
	}
}
