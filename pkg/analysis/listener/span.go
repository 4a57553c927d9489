/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package listener

type (
	SpanKind uint8

	// Reference points at the span of another segment that called this one.
	Reference struct {
		ParentApplicationID int32
		ParentInstanceID    int32
		ParentServiceName   string
	}

	// Span is a decoded span. It is a value: the With methods return modified copies and
	// never touch the receiver, so a span can be shared between parsers.
	Span struct {
		spanID        int32
		parentSpanID  int32
		kind          SpanKind
		componentID   int32
		operationName string
		peer          string
		isError       bool
		startTime     int64
		endTime       int64
		refs          []Reference
	}

	// Segment is the part of a trace one instance reports.
	Segment struct {
		TraceSegmentID string
		ApplicationID  int32
		InstanceID     int32
		Spans          []Span
	}
)

const (
	SpanKindLocal SpanKind = iota
	SpanKindEntry
	SpanKindExit
)

func (k SpanKind) String() string {
	switch k {
	case SpanKindEntry:
		return "entry"
	case SpanKindExit:
		return "exit"
	}
	return "local"
}

func NewSpan(spanID int32, kind SpanKind, operationName string) Span {
	return Span{spanID: spanID, parentSpanID: -1, kind: kind, operationName: operationName}
}

func (s Span) SpanID() int32         { return s.spanID }
func (s Span) ParentSpanID() int32   { return s.parentSpanID }
func (s Span) Kind() SpanKind        { return s.kind }
func (s Span) ComponentID() int32    { return s.componentID }
func (s Span) OperationName() string { return s.operationName }
func (s Span) Peer() string          { return s.peer }
func (s Span) IsError() bool         { return s.isError }
func (s Span) StartTime() int64      { return s.startTime }
func (s Span) EndTime() int64        { return s.endTime }

// Refs returns a copy of the references.
func (s Span) Refs() []Reference {
	return append([]Reference(nil), s.refs...)
}

// Duration is the span length in milliseconds.
func (s Span) Duration() int64 {
	return s.endTime - s.startTime
}

func (s Span) WithParentSpanID(id int32) Span {
	s.parentSpanID = id
	return s
}

func (s Span) WithComponentID(id int32) Span {
	s.componentID = id
	return s
}

func (s Span) WithOperationName(name string) Span {
	s.operationName = name
	return s
}

func (s Span) WithPeer(peer string) Span {
	s.peer = peer
	return s
}

func (s Span) WithError(isError bool) Span {
	s.isError = isError
	return s
}

func (s Span) WithTimes(start, end int64) Span {
	s.startTime = start
	s.endTime = end
	return s
}

func (s Span) WithRefs(refs ...Reference) Span {
	s.refs = append([]Reference(nil), refs...)
	return s
}
