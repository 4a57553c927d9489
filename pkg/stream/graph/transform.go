/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package graph

import (
	"github.com/traas-stack/holoinsight-collector/pkg/logger"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/data"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/timebucket"
	"go.uber.org/zap"
)

// Transform rolls records up to a coarser time bucket: the bucket is truncated to the
// target granularity and the id rebuilt from the metric id, so records of the same
// metric falling in the same coarser period share an id.
type Transform struct {
	To timebucket.Granularity
}

func NewTransform(to timebucket.Granularity) *Transform {
	return &Transform{To: to}
}

func (t *Transform) Name() string {
	return "transform-" + t.To.String()
}

func (t *Transform) Process(record interface{}, next *Next) {
	d, ok := record.(*data.Data)
	if !ok {
		logger.Warnz("[graph] transform skips non metric record", zap.String("to", t.To.String()))
		return
	}
	out, err := t.Apply(d)
	if err != nil {
		logger.Warnz("[graph] transform error", zap.String("id", d.ID()), zap.Error(err))
		return
	}
	next.Emit(out)
}

// Apply returns the rolled-up copy of d. d is not modified.
func (t *Transform) Apply(d *data.Data) (*data.Data, error) {
	from, err := timebucket.Detect(d.TimeBucket())
	if err != nil {
		return nil, err
	}
	bucket, err := timebucket.Convert(d.TimeBucket(), from, t.To)
	if err != nil {
		return nil, err
	}
	return d.WithTimeBucket(bucket), nil
}
