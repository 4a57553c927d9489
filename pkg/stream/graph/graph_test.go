/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/column"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/data"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/timebucket"
)

var componentDefine = data.MustDefine("component_test", []column.Column{
	column.NewLong("times", column.Add),
})

type collect struct {
	records []interface{}
}

func (c *collect) Process(record interface{}, next *Next) {
	c.records = append(c.records, record)
	next.Emit(record)
}

type bound struct {
	next *Next
}

func (b *bound) Bind(next *Next) {
	b.next = next
}

func (b *bound) Process(record interface{}, next *Next) {}

func TestFanOutBroadcasts(t *testing.T) {
	r := NewRegistry()
	g, err := r.CreateIfAbsent("fanout", 0)
	require.NoError(t, err)

	a, b, c := &collect{}, &collect{}, &collect{}
	head := g.AddNode(a)
	head.AddNext(b)
	head.AddNext(c)
	r.Freeze()

	require.NoError(t, g.Start(1))
	require.NoError(t, g.Start(2))
	assert.Equal(t, []interface{}{1, 2}, a.records)
	assert.Equal(t, []interface{}{1, 2}, b.records)
	assert.Equal(t, []interface{}{1, 2}, c.records)
}

func TestCreateIfAbsentIsIdempotent(t *testing.T) {
	r := NewRegistry()
	g1, err := r.CreateIfAbsent("g", "sample")
	require.NoError(t, err)
	g2, err := r.CreateIfAbsent("g", "other sample")
	require.NoError(t, err)
	assert.Same(t, g1, g2)

	_, err = r.CreateIfAbsent("g", 1)
	assert.Error(t, err)

	found, ok := r.Find("g")
	assert.True(t, ok)
	assert.Same(t, g1, found)
}

func TestStartChecksRecordType(t *testing.T) {
	r := NewRegistry()
	g, err := r.CreateIfAbsent("typed", componentDefine.New())
	require.NoError(t, err)
	g.AddNode(&collect{})

	assert.NoError(t, g.Start(componentDefine.NewRecord(202401011200, "2.5")))
	assert.Error(t, g.Start("not a record"))

	other := data.MustDefine("other_test", nil)
	assert.Error(t, g.Start(other.NewRecord(202401011200, "2.5")))
}

func TestBinderGetsSuccessors(t *testing.T) {
	r := NewRegistry()
	g, err := r.CreateIfAbsent("bind", 0)
	require.NoError(t, err)

	b := &bound{}
	sink := &collect{}
	g.AddNode(b).AddNext(sink)
	r.Freeze()

	require.NotNil(t, b.next)
	assert.Equal(t, 1, b.next.Len())
	b.next.Emit(42)
	assert.Equal(t, []interface{}{42}, sink.records)
}

func TestHourTransformGivesEqualIDs(t *testing.T) {
	r := NewRegistry()
	g, err := r.CreateIfAbsent("transform", componentDefine.New())
	require.NoError(t, err)
	sink := &collect{}
	g.AddNode(&collect{}).AddNext(NewTransform(timebucket.Hour)).AddNext(sink)
	r.Freeze()

	m1 := componentDefine.NewRecord(202401011200, "2.5")
	m2 := componentDefine.NewRecord(202401011237, "2.5")
	require.NoError(t, g.Start(m1))
	require.NoError(t, g.Start(m2))

	require.Len(t, sink.records, 2)
	h1 := sink.records[0].(*data.Data)
	h2 := sink.records[1].(*data.Data)
	assert.Equal(t, "2024010112.2.5", h1.ID())
	assert.Equal(t, h1.ID(), h2.ID())
	assert.Equal(t, int64(2024010112), h1.TimeBucket())
	// source records are untouched
	assert.Equal(t, "202401011200.2.5", m1.ID())
}

func TestTransformChain(t *testing.T) {
	d := componentDefine.NewRecord(202401311259, "2.5")
	day, err := NewTransform(timebucket.Day).Apply(d)
	require.NoError(t, err)
	assert.Equal(t, "20240131.2.5", day.ID())

	month, err := NewTransform(timebucket.Month).Apply(day)
	require.NoError(t, err)
	assert.Equal(t, "202401.2.5", month.ID())

	_, err = NewTransform(timebucket.Hour).Apply(month)
	assert.Error(t, err)
}

func TestBridgeConvertsAndStartsTarget(t *testing.T) {
	r := NewRegistry()
	src, err := r.CreateIfAbsent("src", 0)
	require.NoError(t, err)
	dst, err := r.CreateIfAbsent("dst", "")
	require.NoError(t, err)

	sink := &collect{}
	dst.AddNode(sink)
	head := src.AddNode(&collect{})
	_, err = head.BridgeTo(dst, func(record interface{}) (interface{}, bool) {
		n := record.(int)
		if n < 0 {
			return nil, false
		}
		return "v" + string(rune('0'+n)), true
	})
	require.NoError(t, err)
	r.Freeze()

	require.NoError(t, src.Start(1))
	require.NoError(t, src.Start(-1))
	require.NoError(t, src.Start(2))
	assert.Equal(t, []interface{}{"v1", "v2"}, sink.records)
}

func TestBridgeCycleRejected(t *testing.T) {
	r := NewRegistry()
	a, _ := r.CreateIfAbsent("a", 0)
	b, _ := r.CreateIfAbsent("b", 0)
	c, _ := r.CreateIfAbsent("c", 0)
	an, bn, cn := a.AddNode(&collect{}), b.AddNode(&collect{}), c.AddNode(&collect{})

	_, err := an.BridgeTo(b, nil)
	require.NoError(t, err)
	_, err = bn.BridgeTo(c, nil)
	require.NoError(t, err)

	_, err = cn.BridgeTo(a, nil)
	assert.Error(t, err)
	_, err = an.BridgeTo(a, nil)
	assert.Error(t, err)
	// a diamond is fine
	_, err = an.BridgeTo(c, nil)
	assert.NoError(t, err)
}

func TestFrozenRegistryRejectsChanges(t *testing.T) {
	r := NewRegistry()
	a, _ := r.CreateIfAbsent("a", 0)
	b, _ := r.CreateIfAbsent("b", 0)
	head := a.AddNode(&collect{})
	b.AddNode(&collect{})
	r.Freeze()

	assert.Panics(t, func() { head.AddNext(&collect{}) })
	_, err := head.BridgeTo(b, nil)
	assert.ErrorIs(t, err, ErrFrozen)
	_, err = r.CreateIfAbsent("c", 0)
	assert.ErrorIs(t, err, ErrFrozen)
}

func TestDescribe(t *testing.T) {
	r := NewRegistry()
	a, _ := r.CreateIfAbsent("a", 0)
	b, _ := r.CreateIfAbsent("b", 0)
	head := a.AddNode(&collect{})
	head.AddNext(NewTransform(timebucket.Hour))
	b.AddNode(&collect{})
	_, err := head.BridgeTo(b, nil)
	require.NoError(t, err)

	desc := r.Describe()
	require.Len(t, desc, 2)
	assert.Equal(t, "a", desc[0].ID)
	require.Len(t, desc[0].Nodes, 2)
	assert.Equal(t, []string{"a#1:transform-hour"}, desc[0].Nodes[0].Next)
	assert.Equal(t, []string{"a->b"}, desc[0].Nodes[0].Bridges)
}
