/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package appconfig

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"
)

var uptime = time.Now()

func Version() string {
	return collectorVersion
}

// VersionHandler serves the build information of the binary.
func VersionHandler(writer http.ResponseWriter, request *http.Request) {
	r := map[string]interface{}{
		"goversion": runtime.Version(),
		"version":   collectorVersion,
		"buildTime": collectorBuildTime,
		"commit":    gitcommit,
		"uptime":    uptime.Format(time.RFC3339),
	}
	writer.Header().Set("Content-Type", "application/json")
	json.NewEncoder(writer).Encode(r)
}
