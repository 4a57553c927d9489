/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package bootstrap

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/traas-stack/holoinsight-collector/pkg/analysis/metric"
	"github.com/traas-stack/holoinsight-collector/pkg/appconfig"
	"github.com/traas-stack/holoinsight-collector/pkg/storage"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/timebucket"
)

func testConfig(t *testing.T) *appconfig.CollectorConfig {
	c := appconfig.Default()
	c.Cluster.Listen = "127.0.0.1:0"
	c.Admin.Listen = "127.0.0.1:0"
	c.Storage.Type = storage.TypeSqlite
	c.Storage.Path = filepath.Join(t.TempDir(), "collector.db")
	c.Worker.FlushInterval = "100ms"
	c.Storage.FlushInterval = "100ms"
	return c
}

func TestRunAndStopFlushesEverything(t *testing.T) {
	config := testConfig(t)
	c, err := New("", config)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx)
	}()

	require.NoError(t, c.Pipelines().Start(metric.NewApplicationComponent(202401011200, 2, 5, 1)))
	require.NoError(t, c.Pipelines().Start(metric.NewApplicationComponent(202401011200, 2, 5, 1)))
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("collector did not stop")
	}

	// the runtime flushed on shutdown; reopen the database to read it
	store, err := storage.Open(storage.Config{Type: storage.TypeSqlite, Path: config.Storage.Path})
	require.NoError(t, err)
	defer store.Close()
	d, ok, err := store.Get(context.Background(), storage.TableName(metric.ApplicationComponent, timebucket.Hour), metric.ApplicationComponent, "2024010112.2.5")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), metric.Times(d))
}

func TestNewReleasesOnError(t *testing.T) {
	config := testConfig(t)
	config.Cluster.Listen = "256.0.0.1:1"
	_, err := New("", config)
	assert.Error(t, err)

	// the database was closed, so it can be opened again
	store, err := storage.Open(storage.Config{Type: storage.TypeSqlite, Path: config.Storage.Path})
	require.NoError(t, err)
	assert.NoError(t, store.Close())
}
