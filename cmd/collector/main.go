/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"github.com/traas-stack/holoinsight-collector/pkg/appconfig"
	"github.com/traas-stack/holoinsight-collector/pkg/bootstrap"
	"github.com/traas-stack/holoinsight-collector/pkg/logger"
	"go.uber.org/zap"
)

// collector entry
func main() {
	configPath := pflag.StringP("config", "c", "", "config file, collector.yaml or collector.toml")
	debug := pflag.Bool("debug", false, "enable debug logs")
	jsonLog := pflag.Bool("log-json", false, "log as json")
	version := pflag.BoolP("version", "v", false, "print version and exit")
	pflag.Parse()

	if *version {
		fmt.Println(appconfig.Version())
		return
	}

	config, err := appconfig.Load(*configPath)
	if err != nil {
		fmt.Printf("load config error %+v\n", err)
		os.Exit(1)
	}

	logger.Setup(logger.Options{Json: *jsonLog})
	logger.SetDebugEnabled(*debug || config.Log.Debug)
	defer logger.Sync()
	logger.Infoz("[bootstrap] config", zap.Any("config", config))

	c, err := bootstrap.New(*configPath, config)
	if err != nil {
		logger.Errorz("[bootstrap] build error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	if err := c.Run(context.Background()); err != nil {
		logger.Errorz("[bootstrap] stop with error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}
