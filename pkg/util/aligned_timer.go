/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package util

import (
	"time"
)

type (
	// AlignedTimer fires at wall clock aligned instants [n*align+offset, (n+1)*align+offset, ...].
	// Flush timers use it so every worker instance of a role, on every node, flushes
	// around the same instant and a bucket is rarely split across two flush cycles.
	// When a fire is handled late and the next instant is already in the past, that
	// window is skipped instead of firing twice in a row.
	AlignedTimer struct {
		timer        *time.Timer
		align        time.Duration
		offset       time.Duration
		nextEmitTime time.Time
		// C receives once per window. Call Next after handling each receive.
		C <-chan time.Time
	}
)

// NewAlignedTimer creates a timer whose first emit is the next aligned instant after now.
func NewAlignedTimer(align, offset time.Duration) *AlignedTimer {
	if align <= 0 {
		align = time.Second
	}
	now := time.Now()
	next := nextAligned(now, align, offset)
	timer := time.NewTimer(next.Sub(now))
	return &AlignedTimer{
		timer:        timer,
		align:        align,
		offset:       offset,
		nextEmitTime: next,
		C:            timer.C,
	}
}

func nextAligned(now time.Time, align, offset time.Duration) time.Time {
	t := now.Truncate(align).Add(offset)
	if !t.After(now) {
		t = t.Add(align)
	}
	return t
}

// Next arms the timer for the next window and returns its emit time.
func (t *AlignedTimer) Next() time.Time {
	now := time.Now()
	t.nextEmitTime = nextAligned(now, t.align, t.offset)
	t.timer.Reset(t.nextEmitTime.Sub(now))
	return t.nextEmitTime
}

func (t *AlignedTimer) NextEmitTime() time.Time {
	return t.nextEmitTime
}

func (t *AlignedTimer) Stop() {
	t.timer.Stop()
}
