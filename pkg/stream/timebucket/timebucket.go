/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

// Package timebucket encodes calendar periods as sortable integers:
// minute yyyyMMddHHmm, hour yyyyMMddHH, day yyyyMMdd, month yyyyMM.
package timebucket

import (
	"strconv"
	"time"

	"github.com/pkg/errors"
)

const (
	Minute Granularity = iota
	Hour
	Day
	Month
)

type (
	Granularity uint8
)

var (
	layouts = [...]string{"200601021504", "2006010215", "20060102", "200601"}
	names   = [...]string{"minute", "hour", "day", "month"}
)

func (g Granularity) String() string {
	if int(g) < len(names) {
		return names[g]
	}
	return "unknown"
}

func (g Granularity) Valid() bool {
	return g <= Month
}

// All returns every granularity from the finest to the coarsest.
func All() []Granularity {
	return []Granularity{Minute, Hour, Day, Month}
}

func ParseGranularity(s string) (Granularity, error) {
	for i, name := range names {
		if name == s {
			return Granularity(i), nil
		}
	}
	return 0, errors.Errorf("unknown granularity %q", s)
}

// FromTime returns the bucket of t in its own location.
func FromTime(t time.Time, g Granularity) int64 {
	switch g {
	case Minute:
		return int64(t.Year())*1e8 + int64(t.Month())*1e6 + int64(t.Day())*1e4 + int64(t.Hour())*1e2 + int64(t.Minute())
	case Hour:
		return int64(t.Year())*1e6 + int64(t.Month())*1e4 + int64(t.Day())*1e2 + int64(t.Hour())
	case Day:
		return int64(t.Year())*1e4 + int64(t.Month())*1e2 + int64(t.Day())
	default:
		return int64(t.Year())*1e2 + int64(t.Month())
	}
}

// FromMillis returns the bucket of a unix millisecond timestamp in loc.
func FromMillis(ms int64, g Granularity, loc *time.Location) int64 {
	return FromTime(time.UnixMilli(ms).In(loc), g)
}

// ToTime parses a bucket back to the start of its period.
func ToTime(bucket int64, g Granularity, loc *time.Location) (time.Time, error) {
	if !g.Valid() {
		return time.Time{}, errors.Errorf("invalid granularity %d", g)
	}
	t, err := time.ParseInLocation(layouts[g], strconv.FormatInt(bucket, 10), loc)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "invalid %s bucket %d", g, bucket)
	}
	return t, nil
}

// Convert rolls a bucket up to a coarser (or equal) granularity.
func Convert(bucket int64, from, to Granularity) (int64, error) {
	if !from.Valid() || !to.Valid() {
		return 0, errors.Errorf("invalid granularity %d -> %d", from, to)
	}
	if to < from {
		return 0, errors.Errorf("can not convert %s bucket to finer %s", from, to)
	}
	for g := from; g < to; g++ {
		bucket /= 100
	}
	return bucket, nil
}

// Detect guesses the granularity of a bucket from its number of digits.
func Detect(bucket int64) (Granularity, error) {
	switch len(strconv.FormatInt(bucket, 10)) {
	case 12:
		return Minute, nil
	case 10:
		return Hour, nil
	case 8:
		return Day, nil
	case 6:
		return Month, nil
	default:
		return 0, errors.Errorf("bucket %d matches no granularity", bucket)
	}
}
