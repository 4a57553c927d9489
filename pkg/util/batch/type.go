/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package batch

import "time"

type (
	// KeyBatchProcessor groups items by key and hands each group to a KeyConsumer when the
	// group reaches the size or weight threshold, or when the max wait elapses.
	KeyBatchProcessor interface {
		// TryPut never blocks. It returns false when the buffer is full.
		TryPut(key string, item interface{}) bool

		Run()
		// Shutdown flushes what is buffered and returns once the consumer has seen it.
		Shutdown()

		KeyNum() int
		BufferNum() int

		AdjustBatchMaxSize(int)
		AdjustBatchMaxWait(time.Duration)
	}

	KeyConsumer interface {
		// Consume is called from a single goroutine. batch is not reused after it returns.
		Consume(key string, batch []interface{})
	}

	KeyConsumerFunc func(key string, batch []interface{})
)

func (f KeyConsumerFunc) Consume(key string, batch []interface{}) {
	f(key, batch)
}
