/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

// Package data holds the positional record model shared by every metric kind.
// A Define fixes the column layout of one metric kind; every Data of that kind has
// exactly that layout, so merges and wire serialization can work by position.
package data

import (
	"github.com/pkg/errors"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/column"
)

const (
	ColumnID         = "id"
	ColumnMetricID   = "metric_id"
	ColumnTimeBucket = "time_bucket"

	// positions of the standard columns inside their type groups
	idIndex         = 0
	metricIDIndex   = 1
	timeBucketIndex = 0
)

type (
	// Define is the immutable column layout of one metric kind.
	Define struct {
		name     string
		columns  []column.Column
		layout   []slot
		byName   map[string]slot
		counts   [4]int
		formulas []formulaSlots
	}

	slot struct {
		typ   column.Type
		index int
		op    column.Operation
	}

	formulaSlots struct {
		target      int
		numerator   int
		denominator int
		formula     column.Formula
	}

	// Handle addresses one column of a Define.
	Handle struct {
		Type  column.Type
		Index int
	}
)

// NewDefine builds a layout. The standard columns id, metric_id and time_bucket are
// prepended, so they must not be declared again.
func NewDefine(name string, columns []column.Column, formulas ...column.Formula) (*Define, error) {
	if name == "" {
		return nil, errors.New("define name is empty")
	}
	all := make([]column.Column, 0, len(columns)+3)
	all = append(all,
		column.NewString(ColumnID, column.Non),
		column.NewString(ColumnMetricID, column.Non),
		column.NewLong(ColumnTimeBucket, column.Non),
	)
	all = append(all, columns...)

	d := &Define{
		name:    name,
		columns: all,
		layout:  make([]slot, 0, len(all)),
		byName:  make(map[string]slot, len(all)),
	}
	for _, c := range all {
		if err := c.Validate(); err != nil {
			return nil, errors.Wrapf(err, "define %s", name)
		}
		if _, ok := d.byName[c.Name]; ok {
			return nil, errors.Errorf("define %s: duplicated column %s", name, c.Name)
		}
		s := slot{typ: c.Type, index: d.counts[c.Type], op: c.Operation}
		d.counts[c.Type]++
		d.layout = append(d.layout, s)
		d.byName[c.Name] = s
	}

	for _, f := range formulas {
		target, ok1 := d.byName[f.Target]
		num, ok2 := d.byName[f.Numerator]
		den, ok3 := d.byName[f.Denominator]
		if !ok1 || !ok2 || !ok3 {
			return nil, errors.Errorf("define %s: formula %s references unknown columns", name, f.Target)
		}
		if target.typ != column.Double || num.typ != column.Long || den.typ != column.Long {
			return nil, errors.Errorf("define %s: formula %s must be double = long / long", name, f.Target)
		}
		d.formulas = append(d.formulas, formulaSlots{
			target:      target.index,
			numerator:   num.index,
			denominator: den.index,
			formula:     f,
		})
	}
	return d, nil
}

// MustDefine is NewDefine for package level layouts.
func MustDefine(name string, columns []column.Column, formulas ...column.Formula) *Define {
	d, err := NewDefine(name, columns, formulas...)
	if err != nil {
		panic(err)
	}
	return d
}

func (d *Define) Name() string {
	return d.name
}

// Columns returns a copy of the full layout including the standard columns.
func (d *Define) Columns() []column.Column {
	return append([]column.Column(nil), d.columns...)
}

// Handle returns the position of a named column.
func (d *Define) Handle(name string) (Handle, bool) {
	s, ok := d.byName[name]
	if !ok {
		return Handle{}, false
	}
	return Handle{Type: s.typ, Index: s.index}, true
}

// MustIndex returns the index of a named column inside its type group and panics when
// the column does not exist or has another type.
func (d *Define) MustIndex(name string, typ column.Type) int {
	s, ok := d.byName[name]
	if !ok || s.typ != typ {
		panic(errors.Errorf("define %s has no %s column %s", d.name, typ, name))
	}
	return s.index
}

// New returns an empty record of this kind.
func (d *Define) New() *Data {
	return &Data{
		define:  d,
		strings: make([]string, d.counts[column.String]),
		ints:    make([]int32, d.counts[column.Int]),
		longs:   make([]int64, d.counts[column.Long]),
		doubles: make([]float64, d.counts[column.Double]),
	}
}

// NewRecord returns a record with its standard columns set.
func (d *Define) NewRecord(timeBucket int64, metricID string) *Data {
	r := d.New()
	r.strings[idIndex] = BuildID(timeBucket, metricID)
	r.strings[metricIDIndex] = metricID
	r.longs[timeBucketIndex] = timeBucket
	return r
}
