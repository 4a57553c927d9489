/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package appconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadYaml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collector.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
cluster:
  address: 10.0.0.1:11800
  peers: [10.0.0.2:11800, 10.0.0.3:11800]
worker:
  poolSize: 8
  flushInterval: 2s
exchange:
  retryInterval: 500
storage:
  type: sqlite
  path: data/collector.db
`), 0644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:11800", c.Cluster.Address)
	assert.Equal(t, []string{"10.0.0.2:11800", "10.0.0.3:11800"}, c.Cluster.Peers)
	assert.Equal(t, 8, c.Worker.PoolSize)
	assert.Equal(t, 2*time.Second, c.Worker.FlushInterval.Get(0))
	assert.Equal(t, 500*time.Millisecond, c.Exchange.RetryInterval.Get(0))
	assert.Equal(t, "sqlite", c.Storage.Type)
	// untouched sections keep their defaults
	assert.Equal(t, 1024, c.Worker.QueueSize)
	assert.Equal(t, 10, c.Exchange.MaxRetry)
}

func TestLoadToml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collector.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[storage]
type = "badger"
path = "data/badger"

[admin]
listen = ":9000"
`), 0644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "badger", c.Storage.Type)
	assert.Equal(t, ":9000", c.Admin.Listen)
}

func TestEnvOverrides(t *testing.T) {
	env := map[string]string{
		"HOLOINSIGHT_CLUSTER_PEERS":         "a:1, b:2,,",
		"HOLOINSIGHT_WORKER_QUEUE_SIZE":     "64",
		"HOLOINSIGHT_EXCHANGE_MAX_RETRY":    "3",
		"HOLOINSIGHT_STORAGE_TYPE":          "badger",
		"HOLOINSIGHT_LOG_DEBUG":             "true",
		"HOLOINSIGHT_WORKER_FLUSH_INTERVAL": "250ms",
	}
	c := Default()
	require.NoError(t, c.loadEnv(func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}))
	assert.Equal(t, []string{"a:1", "b:2"}, c.Cluster.Peers)
	assert.Equal(t, 64, c.Worker.QueueSize)
	assert.Equal(t, 3, c.Exchange.MaxRetry)
	assert.Equal(t, "badger", c.Storage.Type)
	assert.True(t, c.Log.Debug)
	assert.Equal(t, 250*time.Millisecond, c.Worker.FlushInterval.Get(time.Second))

	err := c.loadEnv(func(key string) (string, bool) {
		if key == "HOLOINSIGHT_WORKER_POOL_SIZE" {
			return "many", true
		}
		return "", false
	})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	c := Default()
	assert.NoError(t, c.Validate())
	assert.Equal(t, time.Local, c.Location())

	c.Worker.Timezone = "Not/AZone"
	assert.Error(t, c.Validate())

	c = Default()
	c.Cluster.Address = ""
	assert.Error(t, c.Validate())
}

func TestDurationFallback(t *testing.T) {
	assert.Equal(t, time.Second, Duration("").Get(time.Second))
	assert.Equal(t, time.Second, Duration("soon").Get(time.Second))
	assert.Equal(t, 3*time.Second, Duration("3s").Get(time.Second))
}
