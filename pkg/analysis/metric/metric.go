/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

// Package metric declares the metric kinds the collector aggregates.
package metric

import (
	"github.com/traas-stack/holoinsight-collector/pkg/stream/column"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/data"
)

const (
	NameApplicationComponent = "application_component"
	NameServiceReference     = "service_reference"
	NameInstanceReference    = "instance_reference"
	NameApplicationReference = "application_reference"
)

const (
	ColumnComponentID         = "component_id"
	ColumnApplicationID       = "application_id"
	ColumnTimes               = "times"
	ColumnFrontServiceID      = "front_service_id"
	ColumnBehindServiceID     = "behind_service_id"
	ColumnFrontInstanceID     = "front_instance_id"
	ColumnBehindInstanceID    = "behind_instance_id"
	ColumnFrontApplicationID  = "front_application_id"
	ColumnBehindApplicationID = "behind_application_id"
	ColumnSourceValue         = "source_value"
	ColumnCalls               = "calls"
	ColumnErrorCalls          = "error_calls"
	ColumnDurationSum         = "duration_sum"
	ColumnErrorDurationSum    = "error_duration_sum"
	ColumnMinDuration         = "min_duration"
	ColumnMaxDuration         = "max_duration"
	ColumnAvgDuration         = "avg_duration"
)

// Source values tell which side of a call reported a reference.
const (
	SourceCaller int32 = 0
	SourceCallee int32 = 1
)

var ApplicationComponent = data.MustDefine(NameApplicationComponent, []column.Column{
	column.NewInt(ColumnComponentID, column.Cover),
	column.NewInt(ColumnApplicationID, column.Cover),
	column.NewLong(ColumnTimes, column.Add),
})

var (
	componentIDIdx   = ApplicationComponent.MustIndex(ColumnComponentID, column.Int)
	applicationIDIdx = ApplicationComponent.MustIndex(ColumnApplicationID, column.Int)
	timesIdx         = ApplicationComponent.MustIndex(ColumnTimes, column.Long)
)

// NewApplicationComponent returns the record counting times uses of component by
// application; its metric id is "<component>.<application>".
func NewApplicationComponent(timeBucket int64, componentID, applicationID int32, times int64) *data.Data {
	d := ApplicationComponent.NewRecord(timeBucket, data.JoinMetricID(componentID, applicationID))
	d.SetInt(componentIDIdx, componentID)
	d.SetInt(applicationIDIdx, applicationID)
	d.SetLong(timesIdx, times)
	return d
}

// Times returns the times column of an ApplicationComponent record.
func Times(d *data.Data) int64 {
	return d.GetLong(timesIdx)
}

// ComponentID returns the component column of an ApplicationComponent record.
func ComponentID(d *data.Data) int32 {
	return d.GetInt(componentIDIdx)
}
