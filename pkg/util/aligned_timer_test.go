/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextAligned(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, base.Add(time.Second), nextAligned(base, time.Second, 0))
	assert.Equal(t, base.Add(200*time.Millisecond), nextAligned(base, time.Second, 200*time.Millisecond))
	assert.Equal(t, base.Add(1200*time.Millisecond), nextAligned(base.Add(300*time.Millisecond), time.Second, 200*time.Millisecond))
}

func TestAlignedTimer(t *testing.T) {
	at := NewAlignedTimer(100*time.Millisecond, 0)
	defer at.Stop()

	for i := 0; i < 3; i++ {
		select {
		case now := <-at.C:
			assert.True(t, !now.Before(at.NextEmitTime().Add(-time.Millisecond)))
			next := at.Next()
			assert.Equal(t, time.Duration(0), next.Sub(next.Truncate(100*time.Millisecond)))
		case <-time.After(time.Second):
			t.Fatal("timer did not fire")
		}
	}
}
