/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

// Package listener turns decoded segments into metric records.
package listener

import (
	"time"

	"github.com/traas-stack/holoinsight-collector/pkg/analysis/metric"
	"github.com/traas-stack/holoinsight-collector/pkg/register"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/data"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/timebucket"
)

// UserService is the front service of calls entering the system from outside.
const UserService = "User"

type (
	// Resolver is the part of the register service the listener needs.
	Resolver interface {
		GetOrCreate(kind, name string) int32
		BindInstance(instanceID, applicationID int32)
	}

	Result struct {
		Components []*data.Data
		References []*metric.ServiceReferenceRecord
	}

	Listener struct {
		resolver Resolver
		location *time.Location
	}
)

// New returns a listener bucketing span start times in location (local time when nil).
func New(resolver Resolver, location *time.Location) *Listener {
	if location == nil {
		location = time.Local
	}
	return &Listener{resolver: resolver, location: location}
}

// Parse derives the component usages and the service references of seg. Names are not
// resolved here: references leave the listener with the ids that were known when parsed.
func (l *Listener) Parse(seg *Segment) Result {
	var result Result
	if seg == nil || len(seg.Spans) == 0 {
		return result
	}
	l.resolver.BindInstance(seg.InstanceID, seg.ApplicationID)

	entry := ""
	for _, span := range seg.Spans {
		if span.Kind() == SpanKindEntry {
			entry = span.OperationName()
			break
		}
	}

	for _, span := range seg.Spans {
		bucket := timebucket.FromMillis(span.StartTime(), timebucket.Minute, l.location)
		switch span.Kind() {
		case SpanKindEntry:
			if span.ComponentID() != 0 {
				result.Components = append(result.Components,
					metric.NewApplicationComponent(bucket, span.ComponentID(), seg.ApplicationID, 1))
			}
			result.References = append(result.References, l.entryReferences(seg, span, bucket)...)
		case SpanKindExit:
			if span.Peer() == "" {
				continue
			}
			if span.ComponentID() != 0 {
				if peerApp := l.resolver.GetOrCreate(register.KindPeer, span.Peer()); peerApp != register.Unresolved {
					result.Components = append(result.Components,
						metric.NewApplicationComponent(bucket, span.ComponentID(), peerApp, 1))
				}
			}
			front := entry
			if front == "" {
				front = span.OperationName()
			}
			result.References = append(result.References, &metric.ServiceReferenceRecord{
				TimeBucket:         bucket,
				FrontServiceName:   front,
				BehindServiceName:  span.OperationName(),
				FrontInstanceID:    seg.InstanceID,
				FrontApplicationID: seg.ApplicationID,
				Peer:               span.Peer(),
				SourceValue:        metric.SourceCaller,
				Call:               metric.NewCall(span.Duration(), span.IsError()),
			})
		}
	}
	return result
}

func (l *Listener) entryReferences(seg *Segment, span Span, bucket int64) []*metric.ServiceReferenceRecord {
	call := metric.NewCall(span.Duration(), span.IsError())
	refs := span.Refs()
	if len(refs) == 0 {
		return []*metric.ServiceReferenceRecord{{
			TimeBucket:          bucket,
			FrontServiceName:    UserService,
			BehindServiceName:   span.OperationName(),
			BehindInstanceID:    seg.InstanceID,
			BehindApplicationID: seg.ApplicationID,
			SourceValue:         metric.SourceCallee,
			Call:                call,
		}}
	}
	ret := make([]*metric.ServiceReferenceRecord, 0, len(refs))
	for _, ref := range refs {
		ret = append(ret, &metric.ServiceReferenceRecord{
			TimeBucket:          bucket,
			FrontServiceName:    ref.ParentServiceName,
			BehindServiceName:   span.OperationName(),
			FrontInstanceID:     ref.ParentInstanceID,
			BehindInstanceID:    seg.InstanceID,
			FrontApplicationID:  ref.ParentApplicationID,
			BehindApplicationID: seg.ApplicationID,
			SourceValue:         metric.SourceCallee,
			Call:                call,
		})
	}
	return ret
}
