/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

// Package sqlite stores metrics and inventory in a sqlite file through gorm. A db file can
// be copied off a node and opened with any sqlite client, which makes it the engine of
// choice when a node needs to be inspected.
package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/data"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

const (
	upsertBatchSize = 200
	selectBatchSize = 500
)

type (
	// MetricDO is one record of one table. Payload is the CBOR wire form of the record.
	MetricDO struct {
		ID          int64 `gorm:"primarykey"`
		GmtCreate   time.Time
		GmtModified time.Time
		MetricTable string `gorm:"uniqueIndex:idx_metric_record;not null"`
		RecordID    string `gorm:"uniqueIndex:idx_metric_record;not null"`
		TimeBucket  int64  `gorm:"index"`
		Payload     []byte
	}

	InventoryDO struct {
		ID        int64 `gorm:"primarykey"`
		GmtCreate time.Time
		Kind      string `gorm:"uniqueIndex:idx_inventory_name;not null"`
		Name      string `gorm:"uniqueIndex:idx_inventory_name;not null"`
	}

	Storage struct {
		db *gorm.DB
	}
)

func (MetricDO) TableName() string {
	return "metrics"
}

func (InventoryDO) TableName() string {
	return "inventory"
}

func New(path string) (*Storage, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open sqlite %s", path)
	}
	err = db.AutoMigrate(&MetricDO{}, &InventoryDO{})
	if err != nil {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
		return nil, errors.Wrap(err, "migrate sqlite")
	}
	return &Storage{
		db: db,
	}, nil
}

func (s *Storage) Upsert(ctx context.Context, table string, define *data.Define, records []*data.Data) error {
	if len(records) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ids := make([]string, 0, len(records))
		merged := make(map[string]*data.Data, len(records))
		for _, r := range records {
			if r.Define() != define {
				return errors.Errorf("table %s: record of %s", table, r.Define().Name())
			}
			if cur, ok := merged[r.ID()]; ok {
				if err := cur.Merge(r); err != nil {
					return err
				}
				continue
			}
			ids = append(ids, r.ID())
			merged[r.ID()] = r.Copy()
		}

		// select * from metrics where metric_table = ? and record_id in ...
		// sqlite caps bound variables, so ids are looked up in chunks
		for begin := 0; begin < len(ids); begin += selectBatchSize {
			end := begin + selectBatchSize
			if end > len(ids) {
				end = len(ids)
			}
			var existing []*MetricDO
			err := tx.Where("metric_table = ? AND record_id IN ?", table, ids[begin:end]).Find(&existing).Error
			if err != nil {
				return err
			}
			for _, do := range existing {
				stored, err := define.Decode(do.Payload)
				if err != nil {
					return errors.Wrapf(err, "table %s: decode %s", table, do.RecordID)
				}
				if err := stored.Merge(merged[do.RecordID]); err != nil {
					return err
				}
				merged[do.RecordID] = stored
			}
		}

		now := time.Now()
		rows := make([]*MetricDO, 0, len(ids))
		for _, id := range ids {
			r := merged[id]
			payload, err := define.Encode(r)
			if err != nil {
				return err
			}
			rows = append(rows, &MetricDO{
				GmtCreate:   now,
				GmtModified: now,
				MetricTable: table,
				RecordID:    id,
				TimeBucket:  r.TimeBucket(),
				Payload:     payload,
			})
		}

		// insert into ... on conflict do update ...
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "metric_table"}, {Name: "record_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload", "time_bucket", "gmt_modified"}),
		}).CreateInBatches(rows, upsertBatchSize).Error
	})
}

func (s *Storage) Get(ctx context.Context, table string, define *data.Define, id string) (*data.Data, bool, error) {
	var do MetricDO
	err := s.db.WithContext(ctx).Where("metric_table = ? AND record_id = ?", table, id).Take(&do).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	d, err := define.Decode(do.Payload)
	if err != nil {
		return nil, false, err
	}
	return d, true, nil
}

func (s *Storage) Register(ctx context.Context, kind, name string) (int32, error) {
	var id int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		do := InventoryDO{
			GmtCreate: time.Now(),
			Kind:      kind,
			Name:      name,
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&do).Error; err != nil {
			return err
		}
		var stored InventoryDO
		if err := tx.Where("kind = ? AND name = ?", kind, name).Take(&stored).Error; err != nil {
			return err
		}
		id = stored.ID
		return nil
	})
	if err != nil {
		return 0, errors.Wrapf(err, "register %s %s", kind, name)
	}
	return int32(id), nil
}

func (s *Storage) Load(ctx context.Context, kind string) (map[string]int32, error) {
	var dos []*InventoryDO
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Where("kind = ?", kind).Find(&dos).Error
	}, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	ret := make(map[string]int32, len(dos))
	for _, do := range dos {
		ret[do.Name] = int32(do.ID)
	}
	return ret, nil
}

func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
