/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package throttle

import (
	"sync"
	"time"
)

type (
	// Keyed runs a callback at most once per interval for each key.
	// Calls in between are counted and the count is handed to the next run,
	// so hot drop paths can log "dropped N messages" instead of one line per message.
	Keyed struct {
		interval time.Duration
		mutex    sync.Mutex
		entries  map[string]*keyedEntry
		now      func() time.Time
	}
	keyedEntry struct {
		last       time.Time
		suppressed int64
	}
)

func NewKeyed(interval time.Duration) *Keyed {
	return &Keyed{
		interval: interval,
		entries:  make(map[string]*keyedEntry),
		now:      time.Now,
	}
}

// Do calls f(suppressed) if key has not run within the interval, otherwise counts the call.
// f runs on the caller goroutine without the lock held.
func (k *Keyed) Do(key string, f func(suppressed int64)) {
	now := k.now()

	k.mutex.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &keyedEntry{}
		k.entries[key] = e
	}
	if ok && now.Sub(e.last) < k.interval {
		e.suppressed++
		k.mutex.Unlock()
		return
	}
	suppressed := e.suppressed
	e.suppressed = 0
	e.last = now
	k.mutex.Unlock()

	f(suppressed)
}
