/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

// Package admin is the HTTP surface operators use to inspect a running collector.
package admin

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/traas-stack/holoinsight-collector/pkg/appconfig"
	"github.com/traas-stack/holoinsight-collector/pkg/cluster"
	"github.com/traas-stack/holoinsight-collector/pkg/logger"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/graph"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/worker"
	"go.uber.org/zap"
)

type (
	// Flusher flushes every pipeline role.
	Flusher interface {
		Flush() error
	}

	Sources struct {
		Runtime    *worker.Runtime
		Graphs     *graph.Registry
		Membership *cluster.Membership
		Pipelines  Flusher
	}

	Server struct {
		sources  Sources
		router   *mux.Router
		server   *http.Server
		listener net.Listener
	}
)

// New listens on address and builds the router. Serve starts answering.
func New(address string, sources Sources) (*Server, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, errors.Wrapf(err, "admin listen %s", address)
	}
	s := &Server{
		sources:  sources,
		listener: ln,
	}
	s.router = s.routes()
	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s, nil
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()

	process := prometheus.NewRegistry()
	process.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	gatherers := prometheus.Gatherers{s.sources.Runtime.Registry(), process}
	r.Handle("/metrics", promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	r.HandleFunc("/version", appconfig.VersionHandler).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/workers", func(writer http.ResponseWriter, request *http.Request) {
		writeJSON(writer, s.sources.Runtime.Stats())
	}).Methods(http.MethodGet)
	api.HandleFunc("/graphs", func(writer http.ResponseWriter, request *http.Request) {
		writeJSON(writer, s.sources.Graphs.Describe())
	}).Methods(http.MethodGet)
	api.HandleFunc("/cluster", func(writer http.ResponseWriter, request *http.Request) {
		writeJSON(writer, s.sources.Membership.Nodes())
	}).Methods(http.MethodGet)
	api.HandleFunc("/flush", func(writer http.ResponseWriter, request *http.Request) {
		if err := s.sources.Pipelines.Flush(); err != nil {
			http.Error(writer, err.Error(), http.StatusInternalServerError)
			return
		}
		writer.Write([]byte("OK"))
	}).Methods(http.MethodPost)
	logger.RegisterHttpHandlers(r)
	return r
}

func writeJSON(writer http.ResponseWriter, v interface{}) {
	writer.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(writer).Encode(v); err != nil {
		logger.Warnz("[admin] write response error", zap.Error(err))
	}
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve blocks until Shutdown.
func (s *Server) Serve() error {
	logger.Infoz("[admin] listen", zap.String("addr", s.Addr()))
	if err := s.server.Serve(s.listener); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	err := s.server.Shutdown(ctx)
	// Serve may never have run
	s.listener.Close()
	return err
}
