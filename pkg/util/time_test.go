/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseDuration(t *testing.T) {
	for input, want := range map[interface{}]time.Duration{
		"1m30s":  90 * time.Second,
		" 200ms": 200 * time.Millisecond,
		"250":    250 * time.Millisecond,
		"1.5":    1500 * time.Microsecond,
		100:      100 * time.Millisecond,
	} {
		d, err := ParseDuration(input)
		if assert.NoError(t, err, "%v", input) {
			assert.Equal(t, want, d, "%v", input)
		}
	}

	_, err := ParseDuration("-1s")
	assert.Error(t, err)
	_, err = ParseDuration("-100")
	assert.Error(t, err)
	_, err = ParseDuration("soon")
	assert.Error(t, err)
}

func TestParseDurationDefault(t *testing.T) {
	assert.Equal(t, 3*time.Second, ParseDurationDefault("3s", time.Second))
	assert.Equal(t, time.Second, ParseDurationDefault("", time.Second))
	assert.Equal(t, time.Second, ParseDurationDefault("abc", time.Second))
	assert.Equal(t, 500*time.Millisecond, ParseDurationDefault("500", time.Second))
}
