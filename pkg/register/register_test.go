/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package register

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/traas-stack/holoinsight-collector/pkg/storage/memory"
)

type flakyDAO struct {
	*memory.Storage
	mutex    sync.Mutex
	failures int
	calls    int
}

func (f *flakyDAO) Register(ctx context.Context, kind, name string) (int32, error) {
	f.mutex.Lock()
	f.calls++
	fail := f.calls <= f.failures
	f.mutex.Unlock()
	if fail {
		return 0, errors.New("connection refused")
	}
	return f.Storage.Register(ctx, kind, name)
}

func (f *flakyDAO) Calls() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.calls
}

func start(t *testing.T, dao *flakyDAO) *Service {
	s, err := New(dao, Options{})
	require.NoError(t, err)
	s.Start()
	t.Cleanup(s.Stop)
	return s
}

func TestGetOrCreate(t *testing.T) {
	dao := &flakyDAO{Storage: memory.New()}
	s := start(t, dao)

	assert.Equal(t, Unresolved, s.GetOrCreate(KindService, "order-service"))
	var id int32
	require.Eventually(t, func() bool {
		id = s.GetOrCreate(KindService, "order-service")
		return id != Unresolved
	}, 3*time.Second, 10*time.Millisecond)

	stored, err := dao.Storage.Load(context.Background(), KindService)
	require.NoError(t, err)
	assert.Equal(t, id, stored["order-service"])
}

func TestGetOrCreateRetriesStorageErrors(t *testing.T) {
	dao := &flakyDAO{Storage: memory.New(), failures: 2}
	s := start(t, dao)

	s.GetOrCreate(KindEndpoint, "/orders")
	assert.Eventually(t, func() bool {
		return s.GetOrCreate(KindEndpoint, "/orders") != Unresolved
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 3, dao.Calls())
}

func TestPendingNamesAreQueuedOnce(t *testing.T) {
	dao := &flakyDAO{Storage: memory.New()}
	s, err := New(dao, Options{})
	require.NoError(t, err)

	// not started, so everything stays pending
	for i := 0; i < 10; i++ {
		assert.Equal(t, Unresolved, s.GetOrCreate(KindPeer, "mysql:3306"))
	}
	assert.Len(t, s.queue, 1)

	s.Start()
	defer s.Stop()
	assert.Eventually(t, func() bool {
		return s.GetOrCreate(KindPeer, "mysql:3306") != Unresolved
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, dao.Calls())
}

func TestLoad(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	id, err := store.Register(ctx, KindService, "pay-service")
	require.NoError(t, err)

	s, err := New(store, Options{})
	require.NoError(t, err)
	require.NoError(t, s.Load(ctx, KindService))
	assert.Equal(t, id, s.GetOrCreate(KindService, "pay-service"))
	assert.Empty(t, s.queue)
}

func TestInstanceBinding(t *testing.T) {
	s, err := New(memory.New(), Options{})
	require.NoError(t, err)

	assert.Equal(t, Unresolved, s.GetApplicationID(3))
	s.BindInstance(3, 7)
	s.BindInstance(4, Unresolved)
	assert.Equal(t, int32(7), s.GetApplicationID(3))
	assert.Equal(t, Unresolved, s.GetApplicationID(4))
}
