/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package logger

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
)

// debugAutoOff bounds how long debug logging stays on after it was enabled remotely.
const debugAutoOff = 10 * time.Hour

// RegisterHttpHandlers mounts the debug switches on the admin router.
func RegisterHttpHandlers(r *mux.Router) {
	var mutex sync.Mutex
	var timer *time.Timer
	r.HandleFunc("/api/log/debug/start", func(writer http.ResponseWriter, request *http.Request) {
		SetDebugEnabled(true)
		mutex.Lock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debugAutoOff, func() {
			SetDebugEnabled(false)
		})
		mutex.Unlock()
		writer.Write([]byte("OK"))
	}).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/api/log/debug/stop", func(writer http.ResponseWriter, request *http.Request) {
		SetDebugEnabled(false)
		writer.Write([]byte("OK"))
	}).Methods(http.MethodGet, http.MethodPost)
}
