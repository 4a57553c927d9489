/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestDebugSwitch(t *testing.T) {
	defer SetDebugEnabled(false)

	SetDebugEnabled(true)
	assert.True(t, IsDebugEnabled())
	Debugz("[logger] debug on", zap.Int("n", 1))

	SetDebugEnabled(false)
	assert.False(t, IsDebugEnabled())
	Debugf("[logger] debug off %d", 1)
}

func TestSetupJson(t *testing.T) {
	defer Setup(Options{})
	Setup(Options{Json: true})
	Infoz("[logger] json", zap.String("k", "v"))
	Sync()
}
