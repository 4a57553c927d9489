/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package timebucket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromTime(t *testing.T) {
	ts := time.Date(2024, 1, 1, 12, 7, 33, 0, time.UTC)
	assert.Equal(t, int64(202401011207), FromTime(ts, Minute))
	assert.Equal(t, int64(2024010112), FromTime(ts, Hour))
	assert.Equal(t, int64(20240101), FromTime(ts, Day))
	assert.Equal(t, int64(202401), FromTime(ts, Month))
}

func TestConvert(t *testing.T) {
	b, err := Convert(202401011200, Minute, Hour)
	assert.Nil(t, err)
	assert.Equal(t, int64(2024010112), b)

	b, err = Convert(202401011259, Minute, Month)
	assert.Nil(t, err)
	assert.Equal(t, int64(202401), b)

	b, err = Convert(2024010112, Hour, Day)
	assert.Nil(t, err)
	assert.Equal(t, int64(20240101), b)

	b, err = Convert(2024010112, Hour, Hour)
	assert.Nil(t, err)
	assert.Equal(t, int64(2024010112), b)

	_, err = Convert(20240101, Day, Minute)
	assert.Error(t, err)
}

func TestToTime(t *testing.T) {
	ts, err := ToTime(202401011207, Minute, time.UTC)
	assert.Nil(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 12, 7, 0, 0, time.UTC), ts)

	ts, err = ToTime(202402, Month, time.UTC)
	assert.Nil(t, err)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), ts)

	_, err = ToTime(202413, Month, time.UTC)
	assert.Error(t, err)
}

func TestDetect(t *testing.T) {
	g, err := Detect(202401011207)
	assert.Nil(t, err)
	assert.Equal(t, Minute, g)

	g, err = Detect(202401)
	assert.Nil(t, err)
	assert.Equal(t, Month, g)

	_, err = Detect(1)
	assert.Error(t, err)
}

func TestParseGranularity(t *testing.T) {
	g, err := ParseGranularity("day")
	assert.Nil(t, err)
	assert.Equal(t, Day, g)
	assert.Equal(t, "day", g.String())

	_, err = ParseGranularity("week")
	assert.Error(t, err)
}
