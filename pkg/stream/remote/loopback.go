/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package remote

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// Loopback connects the runtimes of one process as if they were cluster nodes. Batches go
// through the same encoding as on the wire.
type Loopback struct {
	mutex             sync.RWMutex
	receivers         map[string]*Receiver
	compressThreshold int
}

func NewLoopback(compressThreshold int) *Loopback {
	return &Loopback{
		receivers:         make(map[string]*Receiver),
		compressThreshold: compressThreshold,
	}
}

// Join makes r reachable at address.
func (l *Loopback) Join(address string, r *Receiver) {
	l.mutex.Lock()
	l.receivers[address] = r
	l.mutex.Unlock()
}

func (l *Loopback) Leave(address string) {
	l.mutex.Lock()
	delete(l.receivers, address)
	l.mutex.Unlock()
}

func (l *Loopback) Send(ctx context.Context, address string, batch []Envelope) error {
	l.mutex.RLock()
	r, ok := l.receivers[address]
	l.mutex.RUnlock()
	if !ok {
		return errors.Errorf("no node at %s", address)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := EncodeBatch(batch, l.compressThreshold)
	if err != nil {
		return err
	}
	decoded, err := DecodeBatch(b)
	if err != nil {
		return err
	}
	return r.Receive(decoded)
}
