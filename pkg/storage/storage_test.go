/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package storage

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/column"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/data"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/timebucket"
)

var testDefine = data.MustDefine("storage_test", []column.Column{
	column.NewLong("times", column.Add),
	column.NewLong("max", column.Max),
	column.NewInt("app_id", column.Non),
})

var (
	timesIdx = testDefine.MustIndex("times", column.Long)
	maxIdx   = testDefine.MustIndex("max", column.Long)
	appIdx   = testDefine.MustIndex("app_id", column.Int)
)

func record(metricID string, times, max int64, appID int32) *data.Data {
	d := testDefine.NewRecord(202401011200, metricID)
	d.SetLong(timesIdx, times)
	d.SetLong(maxIdx, max)
	d.SetInt(appIdx, appID)
	return d
}

func engines(t *testing.T) map[string]Storage {
	dir := t.TempDir()
	ret := make(map[string]Storage)
	for _, c := range []Config{
		{Type: TypeMemory},
		{Type: TypeSqlite, Path: filepath.Join(dir, "collector.db")},
		{Type: TypeBadger},
	} {
		s, err := Open(c)
		require.NoError(t, err, c.Type)
		ret[c.Type] = s
		t.Cleanup(func() {
			assert.NoError(t, s.Close())
		})
	}
	return ret
}

func TestUpsertMergesWithStoredRecord(t *testing.T) {
	ctx := context.Background()
	table := TableName(testDefine, timebucket.Minute)
	assert.Equal(t, "storage_test_minute", table)

	for name, s := range engines(t) {
		require.NoError(t, s.Upsert(ctx, table, testDefine, []*data.Data{
			record("2.5", 1, 10, 7),
			record("3.5", 1, 1, 7),
		}), name)
		// the same bucket written by a later flush, twice in one batch
		require.NoError(t, s.Upsert(ctx, table, testDefine, []*data.Data{
			record("2.5", 2, 4, 9),
			record("2.5", 1, 30, 9),
		}), name)

		got, ok, err := s.Get(ctx, table, testDefine, "202401011200.2.5")
		require.NoError(t, err, name)
		require.True(t, ok, name)
		assert.Equal(t, int64(4), got.GetLong(timesIdx), name)
		assert.Equal(t, int64(30), got.GetLong(maxIdx), name)
		assert.Equal(t, int32(7), got.GetInt(appIdx), name)
		assert.Equal(t, "2.5", got.MetricID(), name)

		_, ok, err = s.Get(ctx, table, testDefine, "202401011200.9.9")
		require.NoError(t, err, name)
		assert.False(t, ok, name)

		// tables are independent
		_, ok, err = s.Get(ctx, TableName(testDefine, timebucket.Hour), testDefine, "202401011200.2.5")
		require.NoError(t, err, name)
		assert.False(t, ok, name)
	}
}

func TestUpsertLargeFlush(t *testing.T) {
	ctx := context.Background()
	table := TableName(testDefine, timebucket.Minute)

	const n = 60000
	records := make([]*data.Data, 0, n+1)
	for i := 0; i < n; i++ {
		records = append(records, record(strconv.Itoa(i), 1, int64(i), 1))
	}
	// the same id again at the end of the flush, in a later write chunk than the first
	records = append(records, record("0", 2, 5, 1))

	for name, s := range engines(t) {
		require.NoError(t, s.Upsert(ctx, table, testDefine, records), name)

		got, ok, err := s.Get(ctx, table, testDefine, "202401011200.0")
		require.NoError(t, err, name)
		require.True(t, ok, name)
		assert.Equal(t, int64(3), got.GetLong(timesIdx), name)
		assert.Equal(t, int64(5), got.GetLong(maxIdx), name)

		got, ok, err = s.Get(ctx, table, testDefine, "202401011200."+strconv.Itoa(n-1))
		require.NoError(t, err, name)
		require.True(t, ok, name)
		assert.Equal(t, int64(n-1), got.GetLong(maxIdx), name)
	}
}

func TestRegisterIsIdempotent(t *testing.T) {
	ctx := context.Background()
	for name, s := range engines(t) {
		a, err := s.Register(ctx, "service", "order-service")
		require.NoError(t, err, name)
		b, err := s.Register(ctx, "service", "pay-service")
		require.NoError(t, err, name)
		again, err := s.Register(ctx, "service", "order-service")
		require.NoError(t, err, name)
		other, err := s.Register(ctx, "endpoint", "order-service")
		require.NoError(t, err, name)

		assert.NotZero(t, a, name)
		assert.NotZero(t, b, name)
		assert.NotZero(t, other, name)
		assert.NotEqual(t, a, b, name)
		assert.Equal(t, a, again, name)

		loaded, err := s.Load(ctx, "service")
		require.NoError(t, err, name)
		assert.Equal(t, map[string]int32{"order-service": a, "pay-service": b}, loaded, name)
	}
}

func TestOpenUnknown(t *testing.T) {
	_, err := Open(Config{Type: "elasticsearch"})
	assert.Error(t, err)
	_, err = Open(Config{Type: TypeSqlite})
	assert.Error(t, err)
}
