/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package column

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCover(t *testing.T) {
	assert.Equal(t, "b", Cover.String("a", "b"))
	assert.Equal(t, int32(2), Cover.Int(1, 2))
	assert.Equal(t, int64(2), Cover.Long(1, 2))
	assert.Equal(t, 2.5, Cover.Double(1, 2.5))
}

func TestAdd(t *testing.T) {
	assert.Equal(t, int32(3), Add.Int(1, 2))
	assert.Equal(t, int64(3), Add.Long(1, 2))
	assert.Equal(t, 3.5, Add.Double(1, 2.5))
}

func TestMinMax(t *testing.T) {
	assert.Equal(t, int64(1), Min.Long(1, 2))
	assert.Equal(t, int64(1), Min.Long(2, 1))
	assert.Equal(t, int64(2), Max.Long(1, 2))
	assert.Equal(t, int64(2), Max.Long(2, 1))
	assert.Equal(t, int32(-3), Min.Int(-3, 4))
	assert.Equal(t, 4.0, Max.Double(-3, 4))
}

func TestNonKeepsFirstValue(t *testing.T) {
	assert.Equal(t, "first", Non.String("first", "second"))
	assert.Equal(t, int32(1), Non.Int(1, 9))
	assert.Equal(t, int64(1), Non.Long(1, 9))
	assert.Equal(t, 1.0, Non.Double(1, 9))
}

// Folding the same values in any order must give the same result for the numeric operations.
func TestOrderIndependentFold(t *testing.T) {
	values := []int64{5, -3, 17, 0, 42, 8, 8, -100}

	fold := func(op Operation, vs []int64) int64 {
		acc := vs[0]
		for _, v := range vs[1:] {
			acc = op.Long(acc, v)
		}
		return acc
	}

	for _, op := range []Operation{Add, Min, Max} {
		expected := fold(op, values)
		for i := 0; i < 20; i++ {
			shuffled := append([]int64(nil), values...)
			rand.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
			assert.Equal(t, expected, fold(op, shuffled), op.Name())
		}
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, NewString("name", Cover).Validate())
	assert.NoError(t, NewString("id", Non).Validate())
	assert.Error(t, NewString("name", Add).Validate())
	assert.Error(t, NewString("name", Max).Validate())
	assert.Error(t, NewLong("x", nil).Validate())
	assert.Error(t, NewLong("", Add).Validate())
	assert.NoError(t, NewDouble("avg", Cover).Validate())
}

func TestGetOperation(t *testing.T) {
	op, ok := GetOperation("sum")
	assert.True(t, ok)
	assert.Equal(t, Add, op)

	_, ok = GetOperation("avg")
	assert.False(t, ok)
}

func TestRatio(t *testing.T) {
	f := Ratio("avg", "sum", "calls")
	assert.Equal(t, 2.5, f.Calculate(5, 2))
	assert.Equal(t, 0.0, f.Calculate(5, 0))
}
