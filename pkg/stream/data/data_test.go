/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package data

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/column"
)

var testDefine = MustDefine("test_metric", []column.Column{
	column.NewString("name", column.Cover),
	column.NewInt("app_id", column.Non),
	column.NewLong("calls", column.Add),
	column.NewLong("duration_sum", column.Add),
	column.NewLong("min_duration", column.Min),
	column.NewLong("max_duration", column.Max),
	column.NewDouble("avg_duration", column.Cover),
}, column.Ratio("avg_duration", "duration_sum", "calls"))

var (
	nameIdx  = testDefine.MustIndex("name", column.String)
	appIdx   = testDefine.MustIndex("app_id", column.Int)
	callsIdx = testDefine.MustIndex("calls", column.Long)
	sumIdx   = testDefine.MustIndex("duration_sum", column.Long)
	minIdx   = testDefine.MustIndex("min_duration", column.Long)
	maxIdx   = testDefine.MustIndex("max_duration", column.Long)
	avgIdx   = testDefine.MustIndex("avg_duration", column.Double)
)

func newTestRecord(appID int32, duration int64) *Data {
	r := testDefine.NewRecord(202401011200, "7.8")
	r.SetString(nameIdx, "svc")
	r.SetInt(appIdx, appID)
	r.SetLong(callsIdx, 1)
	r.SetLong(sumIdx, duration)
	r.SetLong(minIdx, duration)
	r.SetLong(maxIdx, duration)
	r.Calculate()
	return r
}

func TestStandardColumns(t *testing.T) {
	r := testDefine.NewRecord(202401011200, "2.5")
	assert.Equal(t, "202401011200.2.5", r.ID())
	assert.Equal(t, "2.5", r.MetricID())
	assert.Equal(t, int64(202401011200), r.TimeBucket())
	assert.Equal(t, r.ID(), r.Key())

	hour := r.WithTimeBucket(2024010112)
	assert.Equal(t, "2024010112.2.5", hour.ID())
	assert.Equal(t, "202401011200.2.5", r.ID())
}

func TestJoinMetricID(t *testing.T) {
	assert.Equal(t, "2.5", JoinMetricID(2, 5))
	assert.Equal(t, "1.2.3", JoinMetricID(1, 2, 3))
}

func TestMergeAnyOrder(t *testing.T) {
	durations := []int64{30, 10, 50, 20, 40}

	var records []*Data
	for i, d := range durations {
		records = append(records, newTestRecord(int32(i+1), d))
	}

	for round := 0; round < 10; round++ {
		rand.Shuffle(len(records), func(a, b int) { records[a], records[b] = records[b], records[a] })
		acc := records[0].Copy()
		for _, r := range records[1:] {
			require.NoError(t, acc.Merge(r))
		}
		assert.Equal(t, int64(5), acc.GetLong(callsIdx))
		assert.Equal(t, int64(150), acc.GetLong(sumIdx))
		assert.Equal(t, int64(10), acc.GetLong(minIdx))
		assert.Equal(t, int64(50), acc.GetLong(maxIdx))
		assert.Equal(t, 30.0, acc.GetDouble(avgIdx))
		// Non keeps the value of the record the fold started with
		assert.Equal(t, records[0].GetInt(appIdx), acc.GetInt(appIdx))
	}
}

func TestMergeDifferentDefine(t *testing.T) {
	other := MustDefine("other", []column.Column{column.NewLong("calls", column.Add)})
	err := newTestRecord(1, 1).Merge(other.NewRecord(1, "1"))
	assert.Error(t, err)
}

func TestDefineValidation(t *testing.T) {
	_, err := NewDefine("bad", []column.Column{column.NewString("name", column.Add)})
	assert.Error(t, err)

	_, err = NewDefine("dup", []column.Column{column.NewLong(ColumnTimeBucket, column.Add)})
	assert.Error(t, err)

	_, err = NewDefine("formula", []column.Column{column.NewLong("a", column.Add)}, column.Ratio("avg", "a", "b"))
	assert.Error(t, err)

	_, err = NewDefine("", nil)
	assert.Error(t, err)
}

func TestRemoteData(t *testing.T) {
	r := newTestRecord(3, 25)

	b, err := testDefine.Encode(r)
	require.NoError(t, err)

	back, err := testDefine.Decode(b)
	require.NoError(t, err)
	assert.True(t, r.Equal(back))
	assert.Equal(t, r.String(), back.String())

	rd, err := testDefine.Serialize(r)
	require.NoError(t, err)
	rd.Longs = rd.Longs[:1]
	_, err = testDefine.Deserialize(rd)
	assert.Error(t, err)

	rd.Define = "another"
	_, err = testDefine.Deserialize(rd)
	assert.Error(t, err)
}

func TestCopyIsDeep(t *testing.T) {
	r := newTestRecord(1, 10)
	c := r.Copy()
	c.SetLong(callsIdx, 100)
	assert.Equal(t, int64(1), r.GetLong(callsIdx))
}
