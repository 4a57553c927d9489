/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package worker

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/traas-stack/holoinsight-collector/pkg/logger"
	"go.uber.org/zap"
)

type (
	// instance is one registered worker: a mailbox and the goroutine draining it.
	instance struct {
		rt      *Runtime
		role    string
		index   int
		worker  Worker
		mailbox chan interface{}
		flushCh chan struct{}
		stopCh  chan struct{}
		done    chan struct{}
		state   int32
		m       *roleMetrics
	}
)

const (
	instanceRunning = iota
	instanceStopping
)

func newInstance(rt *Runtime, role string, index int, queueSize int, m *roleMetrics) *instance {
	return &instance{
		rt:      rt,
		role:    role,
		index:   index,
		mailbox: make(chan interface{}, queueSize),
		flushCh: make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
		m:       m,
	}
}

func (i *instance) Role() string {
	return i.role
}

func (i *instance) Index() int {
	return i.index
}

// Tell enqueues msg without blocking. A full mailbox is a hard failure: the message is
// dropped so memory stays bounded under overload.
func (i *instance) Tell(msg interface{}) error {
	if atomic.LoadInt32(&i.state) != instanceRunning {
		i.m.dropped.WithLabelValues(i.role, "stopped").Inc()
		return &WorkerInvokeError{Role: i.role, Index: i.index, Cause: ErrWorkerStopped}
	}
	select {
	case i.mailbox <- msg:
		return nil
	default:
		i.m.dropped.WithLabelValues(i.role, "mailbox_full").Inc()
		i.rt.throttle.Do(i.role+"/full", func(suppressed int64) {
			logger.Warnz("[worker] mailbox full, drop message",
				zap.String("role", i.role),
				zap.Int("index", i.index),
				zap.Int("capacity", cap(i.mailbox)),
				zap.Int64("suppressed", suppressed))
		})
		return &WorkerInvokeError{Role: i.role, Index: i.index, Cause: ErrMailboxFull}
	}
}

// signalFlush asks the consumer to flush. Pending signals coalesce.
func (i *instance) signalFlush() {
	select {
	case i.flushCh <- struct{}{}:
	default:
	}
}

func (i *instance) depth() int {
	return len(i.mailbox)
}

func (i *instance) run() {
	defer close(i.done)
	for {
		select {
		case msg := <-i.mailbox:
			i.handle(msg)
		case <-i.flushCh:
			// a flush covers everything queued before it was raised
			i.drain(len(i.mailbox))
			i.flush()
		case <-i.stopCh:
			i.drain(-1)
			i.flush()
			i.close()
			return
		}
	}
}

// drain handles up to n queued messages, all of them when n < 0. Producers racing with
// the stop may still slip a message in after the final drain; those are lost, shutdown is
// best-effort.
func (i *instance) drain(n int) {
	for ; n != 0; n-- {
		select {
		case msg := <-i.mailbox:
			i.handle(msg)
		default:
			return
		}
	}
}

func (i *instance) handle(msg interface{}) {
	defer i.recover("work")
	if err := i.worker.OnWork(msg); err != nil {
		i.fail(err)
		return
	}
	i.m.handled.WithLabelValues(i.role).Inc()
}

func (i *instance) flush() {
	f, ok := i.worker.(Flusher)
	if !ok {
		return
	}
	defer i.recover("flush")
	f.Flush()
	i.m.flushes.WithLabelValues(i.role).Inc()
}

func (i *instance) close() {
	c, ok := i.worker.(Closer)
	if !ok {
		return
	}
	defer i.recover("close")
	if err := c.Close(); err != nil {
		i.fail(err)
	}
}

func (i *instance) fail(err error) {
	werr := &WorkerError{Role: i.role, Index: i.index, Cause: err}
	i.m.errors.WithLabelValues(i.role).Inc()
	i.rt.throttle.Do(i.role+"/error", func(suppressed int64) {
		logger.Errorz("[worker] worker error", zap.Error(werr), zap.Int64("suppressed", suppressed))
	})
}

func (i *instance) recover(phase string) {
	if r := recover(); r != nil {
		const size = 64 << 10
		buf := make([]byte, size)
		buf = buf[:runtime.Stack(buf, false)]
		i.m.errors.WithLabelValues(i.role).Inc()
		logger.Errorz("[worker] panic",
			zap.String("role", i.role),
			zap.Int("index", i.index),
			zap.String("phase", phase),
			zap.Error(&WorkerError{Role: i.role, Index: i.index, Cause: fmt.Errorf("panic: %v", r)}),
			zap.String("stack", string(buf)))
	}
}
