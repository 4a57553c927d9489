/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package batch

import "time"

const defaultMaxWait = time.Second

type (
	// options decide when the group of a key is handed to the consumer: whichever of
	// maxSize items, maxWeight summed weight or maxWait comes first.
	options struct {
		maxWait time.Duration
		maxSize int

		weigh     func(item interface{}) int
		maxWeight int
	}

	OptionFunc func(*options)
)

// WithMaxWait bounds how long an item waits for its group to fill.
func WithMaxWait(d time.Duration) OptionFunc {
	return func(o *options) {
		o.maxWait = d
	}
}

// WithMaxSize flushes a group once it holds n items.
func WithMaxSize(n int) OptionFunc {
	return func(o *options) {
		o.maxSize = n
	}
}

// WithMaxWeight flushes a group once the weights of its items add up to max, e.g. payload
// bytes so a group always fits one request.
func WithMaxWeight(weigh func(item interface{}) int, max int) OptionFunc {
	return func(o *options) {
		o.weigh = weigh
		o.maxWeight = max
	}
}

// newOptions applies opts. A group never holds more items than the whole buffer.
func newOptions(bufferSize int, opts ...OptionFunc) options {
	o := options{maxWait: defaultMaxWait}
	for _, f := range opts {
		f(&o)
	}
	if o.maxWait <= 0 {
		o.maxWait = defaultMaxWait
	}
	if o.maxSize <= 0 || o.maxSize > bufferSize {
		o.maxSize = bufferSize
	}
	return o
}

// weight is the weight of item, 0 without a weight strategy.
func (o *options) weight(item interface{}) int {
	if o.weigh == nil {
		return 0
	}
	return o.weigh(item)
}

func (o *options) overweight(weight int) bool {
	return o.weigh != nil && weight >= o.maxWeight
}
