/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

// Package stat prints the state of long running components to the log at a fixed,
// wall clock aligned period.
package stat

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/traas-stack/holoinsight-collector/pkg/logger"
	"github.com/traas-stack/holoinsight-collector/pkg/util"
	"go.uber.org/zap"
)

type (
	// Gauger returns the current values of a gauge, one sub item per key set.
	Gauger func() []GaugeSubItem

	GaugeSubItem struct {
		Keys   []string
		Values []int64
	}

	GaugeItem struct {
		Name     string
		SubItems []GaugeSubItem
	}

	StatEvent struct {
		Now        time.Time
		GaugeItems []GaugeItem
	}

	Printer interface {
		Print(st StatEvent)
	}

	Manager struct {
		interval time.Duration
		printer  Printer
		mutex    sync.Mutex
		gauges   map[string]Gauger
		stopCh   chan struct{}
		done     chan struct{}
		stopOnce sync.Once
	}

	loggerPrinter struct{}
)

// NewStatManager prints through printer every interval; a nil printer writes "[stat]" log lines.
func NewStatManager(interval time.Duration, printer Printer) *Manager {
	if printer == nil {
		printer = loggerPrinter{}
	}
	return &Manager{
		interval: interval,
		printer:  printer,
		gauges:   make(map[string]Gauger),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Gauge registers gauger under name. It returns false when name is taken.
func (m *Manager) Gauge(name string, gauger Gauger) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.gauges[name]; ok {
		return false
	}
	m.gauges[name] = gauger
	return true
}

func (m *Manager) Start() {
	go m.run()
}

func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	<-m.done
}

func (m *Manager) run() {
	defer close(m.done)
	timer := util.NewAlignedTimer(m.interval, 0)
	defer timer.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-timer.C:
			m.printer.Print(m.Collect())
			timer.Next()
		}
	}
}

// Collect reads every gauge now, sorted by name.
func (m *Manager) Collect() StatEvent {
	m.mutex.Lock()
	names := make([]string, 0, len(m.gauges))
	for name := range m.gauges {
		names = append(names, name)
	}
	gauges := make([]Gauger, 0, len(names))
	sort.Strings(names)
	for _, name := range names {
		gauges = append(gauges, m.gauges[name])
	}
	m.mutex.Unlock()

	st := StatEvent{Now: time.Now(), GaugeItems: make([]GaugeItem, len(names))}
	for i, g := range gauges {
		st.GaugeItems[i] = GaugeItem{Name: names[i], SubItems: g()}
	}
	return st
}

// Line renders a sub item as "name,key1,key2,value1,value2".
func Line(name string, item GaugeSubItem) string {
	sb := strings.Builder{}
	sb.WriteString(name)
	for _, key := range item.Keys {
		sb.WriteByte(',')
		sb.WriteString(key)
	}
	for _, value := range item.Values {
		sb.WriteByte(',')
		sb.WriteString(strconv.FormatInt(value, 10))
	}
	return sb.String()
}

func (loggerPrinter) Print(st StatEvent) {
	for _, g := range st.GaugeItems {
		for _, item := range g.SubItems {
			if len(item.Values) == 0 {
				continue
			}
			logger.Infoz("[stat]", zap.String("line", Line(g.Name, item)))
		}
	}
}
