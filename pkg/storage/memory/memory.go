/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

// Package memory is a storage engine for tests and single node trials. Nothing survives
// a restart.
package memory

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/data"
)

type Storage struct {
	mutex     sync.RWMutex
	tables    map[string]map[string]*data.Data
	inventory map[string]map[string]int32
	lastID    int32
}

func New() *Storage {
	return &Storage{
		tables:    make(map[string]map[string]*data.Data),
		inventory: make(map[string]map[string]int32),
	}
}

func (s *Storage) Upsert(ctx context.Context, table string, define *data.Define, records []*data.Data) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()

	t, ok := s.tables[table]
	if !ok {
		t = make(map[string]*data.Data)
		s.tables[table] = t
	}
	for _, r := range records {
		if r.Define() != define {
			return errors.Errorf("table %s: record of %s", table, r.Define().Name())
		}
		if cur, ok := t[r.ID()]; ok {
			if err := cur.Merge(r); err != nil {
				return err
			}
			continue
		}
		t[r.ID()] = r.Copy()
	}
	return nil
}

func (s *Storage) Get(ctx context.Context, table string, define *data.Define, id string) (*data.Data, bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	d, ok := s.tables[table][id]
	if !ok {
		return nil, false, nil
	}
	return d.Copy(), true, nil
}

// Len is the number of rows of table.
func (s *Storage) Len(table string) int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.tables[table])
}

func (s *Storage) Register(ctx context.Context, kind, name string) (int32, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	names, ok := s.inventory[kind]
	if !ok {
		names = make(map[string]int32)
		s.inventory[kind] = names
	}
	if id, ok := names[name]; ok {
		return id, nil
	}
	s.lastID++
	names[name] = s.lastID
	return s.lastID, nil
}

func (s *Storage) Load(ctx context.Context, kind string) (map[string]int32, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	ret := make(map[string]int32, len(s.inventory[kind]))
	for k, v := range s.inventory[kind] {
		ret[k] = v
	}
	return ret, nil
}

func (s *Storage) Close() error {
	return nil
}
