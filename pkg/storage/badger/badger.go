/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

// Package badger stores metrics and inventory in BadgerDB.
//
// Keys:
//
//	m/<table>/<id>        CBOR wire form of a record
//	i/<kind>/<name>       4 byte big endian id
//	s/<kind>              id sequence of a kind
package badger

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/data"
)

const (
	sequenceBandwidth = 100
	maxConflictRetry  = 3
	// upsertBatchSize keeps one transaction well below the badger txn size limit
	upsertBatchSize = 1000
)

type (
	Config struct {
		Path     string
		InMemory bool
	}

	Storage struct {
		db        *badger.DB
		mutex     sync.Mutex
		sequences map[string]*badger.Sequence
	}
)

func New(cfg Config) (*Storage, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}
	opts = opts.
		WithLogger(nil).
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "open badger")
	}
	return &Storage{db: db, sequences: make(map[string]*badger.Sequence)}, nil
}

func metricKey(table, id string) []byte {
	return []byte("m/" + table + "/" + id)
}

func inventoryKey(kind, name string) []byte {
	return []byte("i/" + kind + "/" + name)
}

// Upsert writes records in transactions of at most upsertBatchSize records. A failed
// chunk fails the call; chunks before it stay written.
func (s *Storage) Upsert(ctx context.Context, table string, define *data.Define, records []*data.Data) error {
	for begin := 0; begin < len(records); begin += upsertBatchSize {
		end := begin + upsertBatchSize
		if end > len(records) {
			end = len(records)
		}
		if err := s.upsertChunk(ctx, table, define, records[begin:end]); err != nil {
			return errors.Wrapf(err, "table %s: upsert %d-%d of %d", table, begin, end, len(records))
		}
	}
	return ctx.Err()
}

func (s *Storage) upsertChunk(ctx context.Context, table string, define *data.Define, records []*data.Data) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var err error
	for i := 0; i < maxConflictRetry; i++ {
		err = s.db.Update(func(txn *badger.Txn) error {
			return upsert(ctx, txn, table, define, records)
		})
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func upsert(ctx context.Context, txn *badger.Txn, table string, define *data.Define, records []*data.Data) error {
	merged := make(map[string]*data.Data, len(records))
	for i, r := range records {
		if i%100 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if r.Define() != define {
			return errors.Errorf("table %s: record of %s", table, r.Define().Name())
		}
		if cur, ok := merged[r.ID()]; ok {
			if err := cur.Merge(r); err != nil {
				return err
			}
			continue
		}

		key := metricKey(table, r.ID())
		item, err := txn.Get(key)
		switch {
		case err == nil:
			var stored *data.Data
			err = item.Value(func(val []byte) error {
				var derr error
				stored, derr = define.Decode(val)
				return derr
			})
			if err != nil {
				return errors.Wrapf(err, "table %s: decode %s", table, r.ID())
			}
			if err := stored.Merge(r); err != nil {
				return err
			}
			merged[r.ID()] = stored
		case errors.Is(err, badger.ErrKeyNotFound):
			merged[r.ID()] = r.Copy()
		default:
			return err
		}
	}

	for id, r := range merged {
		value, err := define.Encode(r)
		if err != nil {
			return err
		}
		if err := txn.Set(metricKey(table, id), value); err != nil {
			return err
		}
	}
	return nil
}

func (s *Storage) Get(ctx context.Context, table string, define *data.Define, id string) (*data.Data, bool, error) {
	var d *data.Data
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metricKey(table, id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var derr error
			d, derr = define.Decode(val)
			return derr
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return d, true, nil
}

func (s *Storage) sequence(kind string) (*badger.Sequence, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if seq, ok := s.sequences[kind]; ok {
		return seq, nil
	}
	seq, err := s.db.GetSequence([]byte("s/"+kind), sequenceBandwidth)
	if err != nil {
		return nil, err
	}
	s.sequences[kind] = seq
	return seq, nil
}

func (s *Storage) Register(ctx context.Context, kind, name string) (int32, error) {
	if id, ok, err := s.lookup(kind, name); err != nil || ok {
		return id, err
	}
	seq, err := s.sequence(kind)
	if err != nil {
		return 0, err
	}

	for i := 0; i < maxConflictRetry; i++ {
		var id int32
		err = s.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get(inventoryKey(kind, name))
			if err == nil {
				return item.Value(func(val []byte) error {
					id = int32(binary.BigEndian.Uint32(val))
					return nil
				})
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			next, err := seq.Next()
			if err != nil {
				return err
			}
			// sequences start at 0, ids at 1
			id = int32(next + 1)
			buf := make([]byte, 4)
			binary.BigEndian.PutUint32(buf, uint32(id))
			return txn.Set(inventoryKey(kind, name), buf)
		})
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	return 0, errors.Wrapf(err, "register %s %s", kind, name)
}

func (s *Storage) lookup(kind, name string) (int32, bool, error) {
	var id int32
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(inventoryKey(kind, name))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			id = int32(binary.BigEndian.Uint32(val))
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	return id, err == nil, err
}

func (s *Storage) Load(ctx context.Context, kind string) (map[string]int32, error) {
	ret := make(map[string]int32)
	prefix := []byte("i/" + kind + "/")
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			name := string(item.Key()[len(prefix):])
			err := item.Value(func(val []byte) error {
				ret[name] = int32(binary.BigEndian.Uint32(val))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return ret, err
}

func (s *Storage) Close() error {
	var result *multierror.Error
	s.mutex.Lock()
	for kind, seq := range s.sequences {
		if err := seq.Release(); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "release sequence %s", kind))
		}
		delete(s.sequences, kind)
	}
	s.mutex.Unlock()
	if err := s.db.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
