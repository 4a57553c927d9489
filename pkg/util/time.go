/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package util

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

// ParseDuration reads config durations: "1m30s" style strings, or bare numbers of
// milliseconds ("250", "250.0", 250).
func ParseDuration(v interface{}) (time.Duration, error) {
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if d, err := time.ParseDuration(s); err == nil {
			if d < 0 {
				return 0, errors.Errorf("negative duration %s", s)
			}
			return d, nil
		}
		v = s
	}
	ms, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, errors.Wrapf(err, "parse duration %v", v)
	}
	if ms < 0 {
		return 0, errors.Errorf("negative duration %v", v)
	}
	return time.Duration(ms * float64(time.Millisecond)), nil
}

// ParseDurationDefault is ParseDuration with def for empty or malformed input.
func ParseDurationDefault(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
