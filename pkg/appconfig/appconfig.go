/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

// Package appconfig is the collector configuration. It is loaded first and must not depend
// on other business packages.
package appconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"github.com/traas-stack/holoinsight-collector/pkg/util"
	"gopkg.in/yaml.v3"
)

var collectorVersion string
var collectorBuildTime string
var gitcommit string

const envPrefix = "HOLOINSIGHT_"

type (
	// Duration accepts "1s" style strings or bare milliseconds.
	Duration string

	CollectorConfig struct {
		Cluster  ClusterConfig  `json:"cluster" yaml:"cluster" toml:"cluster"`
		Worker   WorkerConfig   `json:"worker" yaml:"worker" toml:"worker"`
		Exchange ExchangeConfig `json:"exchange" yaml:"exchange" toml:"exchange"`
		Storage  StorageConfig  `json:"storage" yaml:"storage" toml:"storage"`
		Register RegisterConfig `json:"register" yaml:"register" toml:"register"`
		Admin    AdminConfig    `json:"admin" yaml:"admin" toml:"admin"`
		Log      LogConfig      `json:"log" yaml:"log" toml:"log"`
	}
	ClusterConfig struct {
		NodeID string `json:"nodeId" yaml:"nodeId" toml:"nodeId"`
		// Address is how peers reach this node. It must appear verbatim in their peer lists.
		Address string   `json:"address" yaml:"address" toml:"address"`
		Listen  string   `json:"listen" yaml:"listen" toml:"listen"`
		Peers   []string `json:"peers" yaml:"peers" toml:"peers"`
		// PeersDebounce coalesces peer list changes.
		PeersDebounce     Duration `json:"peersDebounce" yaml:"peersDebounce" toml:"peersDebounce"`
		BatchSize         int      `json:"batchSize" yaml:"batchSize" toml:"batchSize"`
		BatchWait         Duration `json:"batchWait" yaml:"batchWait" toml:"batchWait"`
		BufferSize        int      `json:"bufferSize" yaml:"bufferSize" toml:"bufferSize"`
		SendTimeout       Duration `json:"sendTimeout" yaml:"sendTimeout" toml:"sendTimeout"`
		CompressThreshold int      `json:"compressThreshold" yaml:"compressThreshold" toml:"compressThreshold"`
		ConnPoolSize      int      `json:"connPoolSize" yaml:"connPoolSize" toml:"connPoolSize"`
	}
	WorkerConfig struct {
		PoolSize      int      `json:"poolSize" yaml:"poolSize" toml:"poolSize"`
		QueueSize     int      `json:"queueSize" yaml:"queueSize" toml:"queueSize"`
		FlushInterval Duration `json:"flushInterval" yaml:"flushInterval" toml:"flushInterval"`
		FlushSize     int      `json:"flushSize" yaml:"flushSize" toml:"flushSize"`
		// Timezone buckets span times, e.g. "Asia/Shanghai". Empty means local time.
		Timezone string `json:"timezone" yaml:"timezone" toml:"timezone"`
	}
	ExchangeConfig struct {
		MaxRetry      int      `json:"maxRetry" yaml:"maxRetry" toml:"maxRetry"`
		RetryInterval Duration `json:"retryInterval" yaml:"retryInterval" toml:"retryInterval"`
	}
	StorageConfig struct {
		// Type is memory, sqlite or badger.
		Type          string   `json:"type" yaml:"type" toml:"type"`
		Path          string   `json:"path" yaml:"path" toml:"path"`
		FlushInterval Duration `json:"flushInterval" yaml:"flushInterval" toml:"flushInterval"`
		WriteTimeout  Duration `json:"writeTimeout" yaml:"writeTimeout" toml:"writeTimeout"`
	}
	RegisterConfig struct {
		RatePerSecond int `json:"ratePerSecond" yaml:"ratePerSecond" toml:"ratePerSecond"`
		CacheSize     int `json:"cacheSize" yaml:"cacheSize" toml:"cacheSize"`
		QueueSize     int `json:"queueSize" yaml:"queueSize" toml:"queueSize"`
	}
	AdminConfig struct {
		Listen string `json:"listen" yaml:"listen" toml:"listen"`
	}
	LogConfig struct {
		Debug bool `json:"debug" yaml:"debug" toml:"debug"`
	}
)

// Get parses d, falling back to def when d is empty or invalid.
func (d Duration) Get(def time.Duration) time.Duration {
	return util.ParseDurationDefault(string(d), def)
}

// Default is a single node collector keeping everything in memory.
func Default() *CollectorConfig {
	return &CollectorConfig{
		Cluster: ClusterConfig{
			Address:           "127.0.0.1:11800",
			Listen:            ":11800",
			PeersDebounce:     "3s",
			BatchSize:         512,
			BatchWait:         "200ms",
			BufferSize:        8192,
			SendTimeout:       "3s",
			CompressThreshold: 4096,
			ConnPoolSize:      2,
		},
		Worker: WorkerConfig{
			PoolSize:      4,
			QueueSize:     1024,
			FlushInterval: "1s",
		},
		Exchange: ExchangeConfig{
			MaxRetry:      10,
			RetryInterval: "1s",
		},
		Storage: StorageConfig{
			Type:          "memory",
			FlushInterval: "5s",
			WriteTimeout:  "10s",
		},
		Register: RegisterConfig{
			RatePerSecond: 1000,
			CacheSize:     100000,
			QueueSize:     10000,
		},
		Admin: AdminConfig{
			Listen: ":12800",
		},
	}
}

// Load reads path, or the first of collector.yaml, conf/collector.yaml, collector.toml and
// conf/collector.toml that exists when path is empty, then applies environment overrides.
// No file at all is fine: defaults and environment make a working collector.
func Load(path string) (*CollectorConfig, error) {
	c := Default()
	if path == "" {
		for _, candidate := range []string{"collector.yaml", "conf/collector.yaml", "collector.toml", "conf/collector.toml"} {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	if path != "" {
		if err := c.loadFile(path); err != nil {
			return nil, err
		}
		fmt.Println("read " + path)
	}
	if err := c.loadEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return c, c.Validate()
}

func (c *CollectorConfig) loadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read %s", path)
	}
	switch filepath.Ext(path) {
	case ".toml":
		err = toml.Unmarshal(b, c)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, c)
	default:
		return errors.Errorf("unsupported config file %s", path)
	}
	return errors.Wrapf(err, "parse %s", path)
}

// loadEnv applies HOLOINSIGHT_<SECTION>_<KEY> overrides.
func (c *CollectorConfig) loadEnv(lookup func(string) (string, bool)) error {
	var err error
	str := func(key string, dst *string) {
		if s, ok := lookup(envPrefix + key); ok && s != "" {
			*dst = s
		}
	}
	dur := func(key string, dst *Duration) {
		if s, ok := lookup(envPrefix + key); ok && s != "" {
			*dst = Duration(s)
		}
	}
	num := func(key string, dst *int) {
		if s, ok := lookup(envPrefix + key); ok && s != "" {
			v, e := cast.ToIntE(s)
			if e != nil {
				err = errors.Wrapf(e, "env %s%s", envPrefix, key)
				return
			}
			*dst = v
		}
	}

	str("CLUSTER_NODE_ID", &c.Cluster.NodeID)
	str("CLUSTER_ADDRESS", &c.Cluster.Address)
	str("CLUSTER_LISTEN", &c.Cluster.Listen)
	if s, ok := lookup(envPrefix + "CLUSTER_PEERS"); ok {
		c.Cluster.Peers = splitList(s)
	}
	dur("CLUSTER_BATCH_WAIT", &c.Cluster.BatchWait)
	num("CLUSTER_BATCH_SIZE", &c.Cluster.BatchSize)
	num("CLUSTER_COMPRESS_THRESHOLD", &c.Cluster.CompressThreshold)

	num("WORKER_POOL_SIZE", &c.Worker.PoolSize)
	num("WORKER_QUEUE_SIZE", &c.Worker.QueueSize)
	dur("WORKER_FLUSH_INTERVAL", &c.Worker.FlushInterval)
	num("WORKER_FLUSH_SIZE", &c.Worker.FlushSize)
	str("WORKER_TIMEZONE", &c.Worker.Timezone)

	num("EXCHANGE_MAX_RETRY", &c.Exchange.MaxRetry)
	dur("EXCHANGE_RETRY_INTERVAL", &c.Exchange.RetryInterval)

	str("STORAGE_TYPE", &c.Storage.Type)
	str("STORAGE_PATH", &c.Storage.Path)
	dur("STORAGE_FLUSH_INTERVAL", &c.Storage.FlushInterval)

	num("REGISTER_RATE_PER_SECOND", &c.Register.RatePerSecond)
	num("REGISTER_CACHE_SIZE", &c.Register.CacheSize)

	str("ADMIN_LISTEN", &c.Admin.Listen)

	if s, ok := lookup(envPrefix + "LOG_DEBUG"); ok && s != "" {
		c.Log.Debug = cast.ToBool(s)
	}
	return err
}

func splitList(s string) []string {
	var ret []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			ret = append(ret, item)
		}
	}
	return ret
}

// Validate rejects settings the collector can not start with.
func (c *CollectorConfig) Validate() error {
	if c.Cluster.Address == "" {
		return errors.New("cluster.address is empty")
	}
	if c.Exchange.MaxRetry < 0 {
		return errors.New("exchange.maxRetry < 0")
	}
	if c.Worker.Timezone != "" {
		if _, err := time.LoadLocation(c.Worker.Timezone); err != nil {
			return errors.Wrap(err, "worker.timezone")
		}
	}
	return nil
}

// Location is the time zone time buckets are computed in.
func (c *CollectorConfig) Location() *time.Location {
	if c.Worker.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Worker.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
