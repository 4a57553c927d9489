/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package stat

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type capture struct {
	mutex  sync.Mutex
	events []StatEvent
}

func (c *capture) Print(st StatEvent) {
	c.mutex.Lock()
	c.events = append(c.events, st)
	c.mutex.Unlock()
}

func (c *capture) len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.events)
}

func TestCollect(t *testing.T) {
	m := NewStatManager(time.Minute, nil)
	assert.True(t, m.Gauge("worker", func() []GaugeSubItem {
		return []GaugeSubItem{{Keys: []string{"agg"}, Values: []int64{4, 10}}}
	}))
	assert.True(t, m.Gauge("register", func() []GaugeSubItem {
		return []GaugeSubItem{{Values: []int64{3}}}
	}))
	assert.False(t, m.Gauge("worker", nil))

	st := m.Collect()
	if assert.Len(t, st.GaugeItems, 2) {
		assert.Equal(t, "register", st.GaugeItems[0].Name)
		assert.Equal(t, "worker,agg,4,10", Line("worker", st.GaugeItems[1].SubItems[0]))
	}
}

func TestPrintsPeriodically(t *testing.T) {
	c := &capture{}
	m := NewStatManager(20*time.Millisecond, c)
	m.Gauge("g", func() []GaugeSubItem {
		return []GaugeSubItem{{Values: []int64{1}}}
	})
	m.Start()
	assert.Eventually(t, func() bool { return c.len() >= 2 }, time.Second, 5*time.Millisecond)
	m.Stop()
	n := c.len()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, c.len())
}
