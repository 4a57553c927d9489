/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package throttle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyed(t *testing.T) {
	k := NewKeyed(time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	k.now = func() time.Time { return now }

	var runs []int64
	f := func(suppressed int64) { runs = append(runs, suppressed) }

	k.Do("a", f)
	k.Do("a", f)
	k.Do("a", f)
	k.Do("b", f)
	assert.Equal(t, []int64{0, 0}, runs)

	now = now.Add(time.Minute)
	k.Do("a", f)
	assert.Equal(t, []int64{0, 0, 2}, runs)
}
