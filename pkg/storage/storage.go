/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

// Package storage defines what the pipeline needs from persistence and opens the
// configured engine.
package storage

import (
	"context"

	"github.com/pkg/errors"
	"github.com/traas-stack/holoinsight-collector/pkg/storage/badger"
	"github.com/traas-stack/holoinsight-collector/pkg/storage/memory"
	"github.com/traas-stack/holoinsight-collector/pkg/storage/sqlite"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/data"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/timebucket"
)

const (
	TypeMemory = "memory"
	TypeSqlite = "sqlite"
	TypeBadger = "badger"
)

type (
	// MetricDAO stores merged records by id. Upsert merges incoming records into stored
	// ones with the column operations of their define, so writing the same bucket on
	// every flush converges to the total.
	MetricDAO interface {
		Upsert(ctx context.Context, table string, define *data.Define, records []*data.Data) error
		Get(ctx context.Context, table string, define *data.Define, id string) (*data.Data, bool, error)
	}

	// InventoryDAO assigns ids to names. Register is idempotent and never returns 0.
	InventoryDAO interface {
		Register(ctx context.Context, kind, name string) (int32, error)
		Load(ctx context.Context, kind string) (map[string]int32, error)
	}

	Storage interface {
		MetricDAO
		InventoryDAO
		Close() error
	}

	Config struct {
		Type string
		// Path is the sqlite file or the badger directory.
		Path string
	}
)

// Open returns the engine named by config.Type; empty means memory.
func Open(config Config) (Storage, error) {
	switch config.Type {
	case "", TypeMemory:
		return memory.New(), nil
	case TypeSqlite:
		if config.Path == "" {
			return nil, errors.New("sqlite storage needs a path")
		}
		return sqlite.New(config.Path)
	case TypeBadger:
		return badger.New(badger.Config{Path: config.Path, InMemory: config.Path == ""})
	default:
		return nil, errors.Errorf("unknown storage type %q", config.Type)
	}
}

// TableName is the table of define at granularity g, e.g. service_relation_hour.
func TableName(define *data.Define, g timebucket.Granularity) string {
	return define.Name() + "_" + g.String()
}
