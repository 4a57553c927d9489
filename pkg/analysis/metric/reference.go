/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package metric

import (
	"strconv"

	"github.com/traas-stack/holoinsight-collector/pkg/stream/column"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/data"
)

type (
	// Call is the numeric part shared by every reference kind.
	Call struct {
		Calls            int64
		ErrorCalls       int64
		DurationSum      int64
		ErrorDurationSum int64
		MinDuration      int64
		MaxDuration      int64
	}

	// ServiceReferenceRecord is a call between two services as parsed from a segment.
	// Service names may not be registered yet; ids stay 0 until an exchange resolves them.
	ServiceReferenceRecord struct {
		TimeBucket          int64
		FrontServiceName    string
		BehindServiceName   string
		FrontServiceID      int32
		BehindServiceID     int32
		FrontInstanceID     int32
		BehindInstanceID    int32
		FrontApplicationID  int32
		BehindApplicationID int32
		// Peer is the address an exit span called; it names the behind application when
		// that one is unknown.
		Peer        string
		SourceValue int32
		Call        Call
	}

	referenceIndexes struct {
		calls, errorCalls, durationSum, errorDurationSum, min, max int
	}
)

// NewCall describes one call of duration ms.
func NewCall(duration int64, isError bool) Call {
	c := Call{
		Calls:       1,
		DurationSum: duration,
		MinDuration: duration,
		MaxDuration: duration,
	}
	if isError {
		c.ErrorCalls = 1
		c.ErrorDurationSum = duration
	}
	return c
}

func callColumns(dimensions ...string) []column.Column {
	cols := make([]column.Column, 0, len(dimensions)+8)
	for _, d := range dimensions {
		cols = append(cols, column.NewInt(d, column.Cover))
	}
	return append(cols,
		column.NewInt(ColumnSourceValue, column.Cover),
		column.NewLong(ColumnCalls, column.Add),
		column.NewLong(ColumnErrorCalls, column.Add),
		column.NewLong(ColumnDurationSum, column.Add),
		column.NewLong(ColumnErrorDurationSum, column.Add),
		column.NewLong(ColumnMinDuration, column.Min),
		column.NewLong(ColumnMaxDuration, column.Max),
		column.NewDouble(ColumnAvgDuration, column.Cover),
	)
}

func avgFormula() column.Formula {
	return column.Ratio(ColumnAvgDuration, ColumnDurationSum, ColumnCalls)
}

var (
	ServiceReference = data.MustDefine(NameServiceReference, callColumns(
		ColumnFrontServiceID, ColumnBehindServiceID,
		ColumnFrontInstanceID, ColumnBehindInstanceID,
		ColumnFrontApplicationID, ColumnBehindApplicationID,
	), avgFormula())

	InstanceReference = data.MustDefine(NameInstanceReference, callColumns(
		ColumnFrontInstanceID, ColumnBehindInstanceID,
		ColumnFrontApplicationID, ColumnBehindApplicationID,
	), avgFormula())

	ApplicationReference = data.MustDefine(NameApplicationReference, callColumns(
		ColumnFrontApplicationID, ColumnBehindApplicationID,
	), avgFormula())

	serviceIdx     = indexesOf(ServiceReference)
	instanceIdx    = indexesOf(InstanceReference)
	applicationIdx = indexesOf(ApplicationReference)
)

func indexesOf(d *data.Define) referenceIndexes {
	return referenceIndexes{
		calls:            d.MustIndex(ColumnCalls, column.Long),
		errorCalls:       d.MustIndex(ColumnErrorCalls, column.Long),
		durationSum:      d.MustIndex(ColumnDurationSum, column.Long),
		errorDurationSum: d.MustIndex(ColumnErrorDurationSum, column.Long),
		min:              d.MustIndex(ColumnMinDuration, column.Long),
		max:              d.MustIndex(ColumnMaxDuration, column.Long),
	}
}

func (x referenceIndexes) set(d *data.Data, c Call) {
	d.SetLong(x.calls, c.Calls)
	d.SetLong(x.errorCalls, c.ErrorCalls)
	d.SetLong(x.durationSum, c.DurationSum)
	d.SetLong(x.errorDurationSum, c.ErrorDurationSum)
	d.SetLong(x.min, c.MinDuration)
	d.SetLong(x.max, c.MaxDuration)
	d.Calculate()
}

func (x referenceIndexes) get(d *data.Data) Call {
	return Call{
		Calls:            d.GetLong(x.calls),
		ErrorCalls:       d.GetLong(x.errorCalls),
		DurationSum:      d.GetLong(x.durationSum),
		ErrorDurationSum: d.GetLong(x.errorDurationSum),
		MinDuration:      d.GetLong(x.min),
		MaxDuration:      d.GetLong(x.max),
	}
}

// Key routes every exchange attempt of r to the same worker.
func (r *ServiceReferenceRecord) Key() string {
	return strconv.FormatInt(int64(r.FrontApplicationID), 10) + "/" + r.FrontServiceName +
		"->" + strconv.FormatInt(int64(r.BehindApplicationID), 10) + "/" + r.BehindServiceName
}

// Resolved reports whether every id needed to aggregate r is known.
func (r *ServiceReferenceRecord) Resolved() bool {
	return r.FrontServiceID != 0 && r.BehindServiceID != 0 && r.BehindApplicationID != 0
}

// ToData returns the ServiceReference record of r, keyed
// "<front service>.<behind service>.<source value>".
func (r *ServiceReferenceRecord) ToData() *data.Data {
	d := ServiceReference.NewRecord(r.TimeBucket, data.JoinMetricID(r.FrontServiceID, r.BehindServiceID, r.SourceValue))
	setInt(d, ServiceReference, ColumnFrontServiceID, r.FrontServiceID)
	setInt(d, ServiceReference, ColumnBehindServiceID, r.BehindServiceID)
	setInt(d, ServiceReference, ColumnFrontInstanceID, r.FrontInstanceID)
	setInt(d, ServiceReference, ColumnBehindInstanceID, r.BehindInstanceID)
	setInt(d, ServiceReference, ColumnFrontApplicationID, r.FrontApplicationID)
	setInt(d, ServiceReference, ColumnBehindApplicationID, r.BehindApplicationID)
	setInt(d, ServiceReference, ColumnSourceValue, r.SourceValue)
	serviceIdx.set(d, r.Call)
	return d
}

// ToInstanceReference rolls a ServiceReference record up to its instance pair.
func ToInstanceReference(d *data.Data) (*data.Data, bool) {
	if d.Define() != ServiceReference {
		return nil, false
	}
	front := getInt(d, ColumnFrontInstanceID)
	behind := getInt(d, ColumnBehindInstanceID)
	source := getInt(d, ColumnSourceValue)
	out := InstanceReference.NewRecord(d.TimeBucket(), data.JoinMetricID(front, behind, source))
	setInt(out, InstanceReference, ColumnFrontInstanceID, front)
	setInt(out, InstanceReference, ColumnBehindInstanceID, behind)
	setInt(out, InstanceReference, ColumnFrontApplicationID, getInt(d, ColumnFrontApplicationID))
	setInt(out, InstanceReference, ColumnBehindApplicationID, getInt(d, ColumnBehindApplicationID))
	setInt(out, InstanceReference, ColumnSourceValue, source)
	instanceIdx.set(out, serviceIdx.get(d))
	return out, true
}

// ToApplicationReference rolls an InstanceReference record up to its application pair.
func ToApplicationReference(d *data.Data) (*data.Data, bool) {
	if d.Define() != InstanceReference {
		return nil, false
	}
	front := getInt(d, ColumnFrontApplicationID)
	behind := getInt(d, ColumnBehindApplicationID)
	source := getInt(d, ColumnSourceValue)
	out := ApplicationReference.NewRecord(d.TimeBucket(), data.JoinMetricID(front, behind, source))
	setInt(out, ApplicationReference, ColumnFrontApplicationID, front)
	setInt(out, ApplicationReference, ColumnBehindApplicationID, behind)
	setInt(out, ApplicationReference, ColumnSourceValue, source)
	applicationIdx.set(out, instanceIdx.get(d))
	return out, true
}

// CallOf returns the numeric columns of any reference record.
func CallOf(d *data.Data) Call {
	switch d.Define() {
	case ServiceReference:
		return serviceIdx.get(d)
	case InstanceReference:
		return instanceIdx.get(d)
	case ApplicationReference:
		return applicationIdx.get(d)
	}
	return Call{}
}

// AvgDuration returns the average duration of any reference record.
func AvgDuration(d *data.Data) float64 {
	return d.GetDouble(d.Define().MustIndex(ColumnAvgDuration, column.Double))
}

func setInt(d *data.Data, define *data.Define, name string, v int32) {
	d.SetInt(define.MustIndex(name, column.Int), v)
}

func getInt(d *data.Data, name string) int32 {
	return d.GetInt(d.Define().MustIndex(name, column.Int))
}
