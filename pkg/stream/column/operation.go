/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package column

import "strings"

type (
	// Operation merges the incoming value of a column into the current one.
	// Implementations are pure; the result replaces the current value.
	// Within one time bucket every operation must be associative and commutative
	// (Cover and Non are order dependent by nature and are only used for fields that
	// carry the same value for every record of a bucket).
	Operation interface {
		Name() string
		SupportsString() bool

		String(cur, in string) string
		Int(cur, in int32) int32
		Long(cur, in int64) int64
		Double(cur, in float64) float64
	}

	coverOp struct{}
	addOp   struct{}
	minOp   struct{}
	maxOp   struct{}
	nonOp   struct{}
)

var (
	// Cover replaces the current value with the incoming one.
	Cover Operation = coverOp{}
	// Add accumulates numeric values.
	Add Operation = addOp{}
	// Min keeps the smaller value.
	Min Operation = minOp{}
	// Max keeps the larger value.
	Max Operation = maxOp{}
	// Non keeps the first written value. Later writes are ignored.
	Non Operation = nonOp{}
)

// GetOperation resolves an operation by its case-insensitive name.
func GetOperation(name string) (Operation, bool) {
	switch strings.ToUpper(name) {
	case "COVER":
		return Cover, true
	case "ADD", "SUM":
		return Add, true
	case "MIN":
		return Min, true
	case "MAX":
		return Max, true
	case "NON", "NONE":
		return Non, true
	default:
		return nil, false
	}
}

func (coverOp) Name() string { return "cover" }
func (coverOp) SupportsString() bool { return true }
func (coverOp) String(_, in string) string { return in }
func (coverOp) Int(_, in int32) int32 { return in }
func (coverOp) Long(_, in int64) int64 { return in }
func (coverOp) Double(_, in float64) float64 { return in }
func (addOp) Name() string { return "add" }
func (addOp) SupportsString() bool { return false }
func (addOp) String(cur, _ string) string { return cur }
func (addOp) Int(cur, in int32) int32 { return cur + in }
func (addOp) Long(cur, in int64) int64 { return cur + in }
func (addOp) Double(cur, in float64) float64 { return cur + in }
func (nonOp) Name() string { return "non" }
func (nonOp) SupportsString() bool { return true }
func (nonOp) String(cur, _ string) string { return cur }
func (nonOp) Int(cur, _ int32) int32 { return cur }
func (nonOp) Long(cur, _ int64) int64 { return cur }
func (nonOp) Double(cur, _ float64) float64 { return cur }
func (minOp) Name() string { return "min" }
func (minOp) SupportsString() bool { return false }
func (minOp) String(cur, _ string) string { return cur }
func (maxOp) Name() string { return "max" }
func (maxOp) SupportsString() bool { return false }
func (maxOp) String(cur, _ string) string { return cur }

func (minOp) Int(cur, in int32) int32 {
	if in < cur {
		return in
	}
	return cur
}

func (minOp) Long(cur, in int64) int64 {
	if in < cur {
		return in
	}
	return cur
}

func (minOp) Double(cur, in float64) float64 {
	if in < cur {
		return in
	}
	return cur
}

func (maxOp) Int(cur, in int32) int32 {
	if in > cur {
		return in
	}
	return cur
}

func (maxOp) Long(cur, in int64) int64 {
	if in > cur {
		return in
	}
	return cur
}

func (maxOp) Double(cur, in float64) float64 {
	if in > cur {
		return in
	}
	return cur
}
