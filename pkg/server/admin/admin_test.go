/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/traas-stack/holoinsight-collector/pkg/cluster"
	"github.com/traas-stack/holoinsight-collector/pkg/logger"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/graph"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/selector"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/worker"
)

type countingFlusher struct {
	calls int
}

func (f *countingFlusher) Flush() error {
	f.calls++
	return nil
}

type noopProvider struct{}

func (noopProvider) Role() worker.Role {
	return worker.Role{Name: "admin_test", Selector: selector.NewRolling()}
}

func (noopProvider) Options() worker.Options {
	return worker.Options{PoolSize: 2}
}

func (noopProvider) Create(ctx *worker.Context) (worker.Worker, error) {
	return noopWorker{}, nil
}

type noopWorker struct{}

func (noopWorker) OnWork(msg interface{}) error {
	return nil
}

func newServer(t *testing.T) (*Server, *countingFlusher) {
	rt := worker.NewRuntime()
	require.NoError(t, rt.Register(noopProvider{}))
	graphs := graph.NewRegistry()
	_, err := graphs.CreateIfAbsent("admin_graph", "sample")
	require.NoError(t, err)

	f := &countingFlusher{}
	s, err := New("127.0.0.1:0", Sources{
		Runtime:    rt,
		Graphs:     graphs,
		Membership: cluster.New("n1", "127.0.0.1:11800", []string{"127.0.0.1:11801"}, 0),
		Pipelines:  f,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		s.Shutdown(context.Background())
		rt.Shutdown(context.Background())
	})
	return s, f
}

func do(s *Server, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestWorkersAndGraphs(t *testing.T) {
	s, _ := newServer(t)

	rec := do(s, http.MethodGet, "/api/workers")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats []worker.PoolStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Len(t, stats, 1)
	assert.Equal(t, "admin_test", stats[0].Role)
	assert.Equal(t, 2, stats[0].PoolSize)

	rec = do(s, http.MethodGet, "/api/graphs")
	require.Equal(t, http.StatusOK, rec.Code)
	var graphs []graph.Description
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &graphs))
	require.Len(t, graphs, 1)
	assert.Equal(t, "admin_graph", graphs[0].ID)

	rec = do(s, http.MethodGet, "/api/cluster")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "127.0.0.1:11801")
}

func TestMetrics(t *testing.T) {
	s, _ := newServer(t)
	rec := do(s, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "collector_worker_mailbox_depth"), body)
	assert.Contains(t, body, "go_goroutines")
}

func TestFlushAndDebugSwitch(t *testing.T) {
	s, f := newServer(t)

	assert.Equal(t, http.StatusMethodNotAllowed, do(s, http.MethodGet, "/api/flush").Code)
	assert.Equal(t, http.StatusOK, do(s, http.MethodPost, "/api/flush").Code)
	assert.Equal(t, 1, f.calls)

	defer logger.SetDebugEnabled(false)
	assert.Equal(t, http.StatusOK, do(s, http.MethodPost, "/api/log/debug/start").Code)
	assert.True(t, logger.IsDebugEnabled())
	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/api/log/debug/stop").Code)
	assert.False(t, logger.IsDebugEnabled())
}
