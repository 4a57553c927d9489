/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package batch

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/traas-stack/holoinsight-collector/pkg/logger"
)

type (
	batchProcessorWithKey struct {
		stopChan chan struct{}
		done     chan struct{}
		buffer   chan interface{}
		keyNum   int64
		stopOnce sync.Once
		started  int32

		options      *options
		batchMaxWait int64
		batchMaxSize int64

		consumer KeyConsumer
	}

	withKey struct {
		key  string
		data interface{}
	}

	withWeight struct {
		itemsWeight int
		data        []interface{}
	}

	timerSig struct{}
)

// NewBatchProcessorWithKey creates a processor buffering at most s items.
func NewBatchProcessorWithKey(s int, c KeyConsumer, opts ...OptionFunc) KeyBatchProcessor {
	opt := newOptions(s, opts...)

	return &batchProcessorWithKey{
		stopChan:     make(chan struct{}),
		done:         make(chan struct{}),
		buffer:       make(chan interface{}, s),
		options:      &opt,
		batchMaxSize: int64(opt.maxSize),
		batchMaxWait: int64(opt.maxWait),
		consumer:     c,
	}
}

func (b *batchProcessorWithKey) TryPut(s string, i interface{}) bool {
	select {
	case <-b.stopChan:
		return false
	default:
	}
	select {
	case b.buffer <- &withKey{key: s, data: i}:
		return true
	default:
		return false
	}
}

func (b *batchProcessorWithKey) Run() {
	if !atomic.CompareAndSwapInt32(&b.started, 0, 1) {
		return
	}
	go b.notify()
	go b.timerSignal()
}

func (b *batchProcessorWithKey) KeyNum() int {
	return int(atomic.LoadInt64(&b.keyNum))
}

func (b *batchProcessorWithKey) BufferNum() int {
	return len(b.buffer)
}

func (b *batchProcessorWithKey) Shutdown() {
	b.stopOnce.Do(func() {
		close(b.stopChan)
		if atomic.LoadInt32(&b.started) == 0 {
			return
		}
		// nil tells notify to flush everything and quit
		b.buffer <- nil
		<-b.done
	})
}

func (b *batchProcessorWithKey) AdjustBatchMaxSize(i int) {
	logger.Infof("[batchProc] adjust batchMaxSize to %d", i)
	atomic.StoreInt64(&b.batchMaxSize, int64(i))
}

func (b *batchProcessorWithKey) AdjustBatchMaxWait(d time.Duration) {
	logger.Infof("[batchProc] adjust batchMaxWait to %s", d)
	atomic.StoreInt64(&b.batchMaxWait, int64(d))
}

func (b *batchProcessorWithKey) maxWait() time.Duration {
	return time.Duration(atomic.LoadInt64(&b.batchMaxWait))
}

func (b *batchProcessorWithKey) notify() {
	defer close(b.done)
	batchWithKey := make(map[string]*withWeight)

	flush := func(k string, v *withWeight) {
		if len(v.data) == 0 {
			return
		}
		data := v.data
		v.data = make([]interface{}, 0, len(data))
		v.itemsWeight = 0
		b.consumer.Consume(k, data)
	}

	flushAll := func() {
		for k, v := range batchWithKey {
			flush(k, v)
		}
	}

	for obj := range b.buffer {
		switch x := obj.(type) {
		case nil:
			if logger.IsDebugEnabled() {
				logger.Debugf("[batchProc] quit and force flush(keyN %d, size %d)", len(batchWithKey), totalSize(batchWithKey))
			}
			// items put between the stop and the nil marker are still in the buffer
		drain:
			for {
				select {
				case rest := <-b.buffer:
					if item, ok := rest.(*withKey); ok {
						b.add(batchWithKey, item, flush)
					}
				default:
					break drain
				}
			}
			flushAll()
			return
		case *timerSig:
			if logger.IsDebugEnabled() {
				logger.Debugf("[batchProc] timeout and force flush(keyN %d, size %d)", len(batchWithKey), totalSize(batchWithKey))
			}
			flushAll()
			batchWithKey = b.cleanKey(batchWithKey)
		case *withKey:
			b.add(batchWithKey, x, flush)
		default:
			logger.Errorf("[batchProc] unknown obj type: %T", obj)
		}
	}
}

func (b *batchProcessorWithKey) add(m map[string]*withWeight, x *withKey, flush func(string, *withWeight)) {
	batch, exist := m[x.key]
	if !exist {
		batch = &withWeight{}
		m[x.key] = batch
		atomic.AddInt64(&b.keyNum, 1)
	}
	batch.data = append(batch.data, x.data)

	batch.itemsWeight += b.options.weight(x.data)
	if b.options.overweight(batch.itemsWeight) {
		logger.Debugf("[batchProc] over weight and flush(size %d, weight %d)", len(batch.data), batch.itemsWeight)
		flush(x.key, batch)
		return
	}
	if int64(len(batch.data)) >= atomic.LoadInt64(&b.batchMaxSize) {
		logger.Debugf("[batchProc] size out and flush(size %d, weight %d)", len(batch.data), batch.itemsWeight)
		flush(x.key, batch)
	}
}

func (b *batchProcessorWithKey) timerSignal() {
	timer := time.NewTimer(b.maxWait())
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			select {
			case b.buffer <- new(timerSig):
			case <-b.stopChan:
				return
			}
			timer.Reset(b.maxWait())
		case <-b.stopChan:
			return
		}
	}
}

func (b *batchProcessorWithKey) cleanKey(m map[string]*withWeight) map[string]*withWeight {
	for k, v := range m {
		if len(v.data) == 0 {
			delete(m, k)
			atomic.AddInt64(&b.keyNum, -1)
		}
	}
	if len(m) == 0 {
		return make(map[string]*withWeight)
	}
	return m
}

func totalSize(m map[string]*withWeight) int {
	s := 0
	for _, v := range m {
		s += len(v.data)
	}
	return s
}
