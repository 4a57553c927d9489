/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package data

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/column"
)

// IDSplit separates the time bucket from the metric id inside a record id.
const IDSplit = "."

type (
	// Data is one aggregation bucket of a metric kind.
	// It is not safe for concurrent use; a record belongs to exactly one worker at a time.
	Data struct {
		define  *Define
		strings []string
		ints    []int32
		longs   []int64
		doubles []float64
	}
)

// BuildID returns the id of the bucket of metricID at timeBucket.
func BuildID(timeBucket int64, metricID string) string {
	return strconv.FormatInt(timeBucket, 10) + IDSplit + metricID
}

// JoinMetricID joins dimension ids into a metric id, e.g. "2.5".
func JoinMetricID(parts ...int32) string {
	sb := strings.Builder{}
	for i, p := range parts {
		if i > 0 {
			sb.WriteString(IDSplit)
		}
		sb.WriteString(strconv.FormatInt(int64(p), 10))
	}
	return sb.String()
}

func (d *Data) Define() *Define {
	return d.define
}

func (d *Data) ID() string {
	return d.strings[idIndex]
}

// Key is the routing key of the record.
func (d *Data) Key() string {
	return d.strings[idIndex]
}

func (d *Data) MetricID() string {
	return d.strings[metricIDIndex]
}

func (d *Data) TimeBucket() int64 {
	return d.longs[timeBucketIndex]
}

// WithTimeBucket returns a copy of the record moved to another time bucket; the id is
// rebuilt from the metric id.
func (d *Data) WithTimeBucket(timeBucket int64) *Data {
	c := d.Copy()
	c.longs[timeBucketIndex] = timeBucket
	c.strings[idIndex] = BuildID(timeBucket, c.strings[metricIDIndex])
	return c
}

func (d *Data) GetString(i int) string { return d.strings[i] }
func (d *Data) GetInt(i int) int32 { return d.ints[i] }
func (d *Data) GetLong(i int) int64 { return d.longs[i] }
func (d *Data) GetDouble(i int) float64 { return d.doubles[i] }
func (d *Data) SetString(i int, v string) { d.strings[i] = v }
func (d *Data) SetInt(i int, v int32) { d.ints[i] = v }
func (d *Data) SetLong(i int, v int64) { d.longs[i] = v }
func (d *Data) SetDouble(i int, v float64) { d.doubles[i] = v }

// Copy returns a deep copy bound to the same Define.
func (d *Data) Copy() *Data {
	return &Data{
		define:  d.define,
		strings: append([]string(nil), d.strings...),
		ints:    append([]int32(nil), d.ints...),
		longs:   append([]int64(nil), d.longs...),
		doubles: append([]float64(nil), d.doubles...),
	}
}

// Merge folds other into d column by column, then recomputes formula columns.
func (d *Data) Merge(other *Data) error {
	if d.define != other.define {
		return errors.Errorf("can not merge %s into %s", other.define.name, d.define.name)
	}
	for _, s := range d.define.layout {
		switch s.typ {
		case column.String:
			d.strings[s.index] = s.op.String(d.strings[s.index], other.strings[s.index])
		case column.Int:
			d.ints[s.index] = s.op.Int(d.ints[s.index], other.ints[s.index])
		case column.Long:
			d.longs[s.index] = s.op.Long(d.longs[s.index], other.longs[s.index])
		case column.Double:
			d.doubles[s.index] = s.op.Double(d.doubles[s.index], other.doubles[s.index])
		}
	}
	d.Calculate()
	return nil
}

// Calculate recomputes the formula columns.
func (d *Data) Calculate() {
	for _, f := range d.define.formulas {
		d.doubles[f.target] = f.formula.Calculate(d.longs[f.numerator], d.longs[f.denominator])
	}
}

func (d *Data) Equal(other *Data) bool {
	if other == nil || d.define != other.define {
		return false
	}
	for i := range d.strings {
		if d.strings[i] != other.strings[i] {
			return false
		}
	}
	for i := range d.ints {
		if d.ints[i] != other.ints[i] {
			return false
		}
	}
	for i := range d.longs {
		if d.longs[i] != other.longs[i] {
			return false
		}
	}
	for i := range d.doubles {
		if d.doubles[i] != other.doubles[i] {
			return false
		}
	}
	return true
}

func (d *Data) String() string {
	sb := strings.Builder{}
	sb.WriteString(d.define.name)
	sb.WriteByte('{')
	for i, c := range d.define.columns {
		if i > 0 {
			sb.WriteByte(' ')
		}
		s := d.define.layout[i]
		sb.WriteString(c.Name)
		sb.WriteByte('=')
		switch s.typ {
		case column.String:
			sb.WriteString(d.strings[s.index])
		case column.Int:
			sb.WriteString(strconv.FormatInt(int64(d.ints[s.index]), 10))
		case column.Long:
			sb.WriteString(strconv.FormatInt(d.longs[s.index], 10))
		case column.Double:
			sb.WriteString(fmt.Sprintf("%g", d.doubles[s.index]))
		}
	}
	sb.WriteByte('}')
	return sb.String()
}
