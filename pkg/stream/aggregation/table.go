/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package aggregation

import (
	"github.com/traas-stack/holoinsight-collector/pkg/stream/data"
)

// Table merges records by id. It is owned by a single worker goroutine and has no locking.
type Table struct {
	records map[string]*data.Data
}

func NewTable() *Table {
	return &Table{records: make(map[string]*data.Data)}
}

// Put merges r into the record stored under its id, or stores a copy of r.
func (t *Table) Put(r *data.Data) error {
	if cur, ok := t.records[r.ID()]; ok {
		return cur.Merge(r)
	}
	t.records[r.ID()] = r.Copy()
	return nil
}

func (t *Table) Len() int {
	return len(t.records)
}

// Swap hands out the current content and starts over with an empty table.
func (t *Table) Swap() map[string]*data.Data {
	m := t.records
	t.records = make(map[string]*data.Data, len(m))
	return m
}
