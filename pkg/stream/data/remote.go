/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package data

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/column"
)

type (
	// RemoteData is the positional wire form of a Data.
	// The layout is implied by the Define named in it.
	RemoteData struct {
		Define  string    `cbor:"1,keyasint"`
		Strings []string  `cbor:"2,keyasint,omitempty"`
		Ints    []int32   `cbor:"3,keyasint,omitempty"`
		Longs   []int64   `cbor:"4,keyasint,omitempty"`
		Doubles []float64 `cbor:"5,keyasint,omitempty"`
	}
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	// deterministic encoding, equal records give equal bytes
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("data: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("data: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v with the collector's CBOR settings.
func Marshal(v interface{}) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR produced by Marshal.
func Unmarshal(b []byte, v interface{}) error {
	return decMode.Unmarshal(b, v)
}

// Serialize converts a record of this kind to its wire form.
func (d *Define) Serialize(r *Data) (*RemoteData, error) {
	if r.define != d {
		return nil, errors.Errorf("define %s can not serialize %s", d.name, r.define.name)
	}
	return &RemoteData{
		Define:  d.name,
		Strings: append([]string(nil), r.strings...),
		Ints:    append([]int32(nil), r.ints...),
		Longs:   append([]int64(nil), r.longs...),
		Doubles: append([]float64(nil), r.doubles...),
	}, nil
}

// Deserialize rebuilds a record from its wire form. The layout must match exactly.
func (d *Define) Deserialize(rd *RemoteData) (*Data, error) {
	if rd.Define != d.name {
		return nil, errors.Errorf("define %s can not deserialize %s", d.name, rd.Define)
	}
	if len(rd.Strings) != d.counts[column.String] ||
		len(rd.Ints) != d.counts[column.Int] ||
		len(rd.Longs) != d.counts[column.Long] ||
		len(rd.Doubles) != d.counts[column.Double] {
		return nil, errors.Errorf("define %s: layout mismatch strings=%d ints=%d longs=%d doubles=%d",
			d.name, len(rd.Strings), len(rd.Ints), len(rd.Longs), len(rd.Doubles))
	}
	r := d.New()
	copy(r.strings, rd.Strings)
	copy(r.ints, rd.Ints)
	copy(r.longs, rd.Longs)
	copy(r.doubles, rd.Doubles)
	return r, nil
}

// Encode serializes and marshals a record in one step.
func (d *Define) Encode(r *Data) ([]byte, error) {
	rd, err := d.Serialize(r)
	if err != nil {
		return nil, err
	}
	return Marshal(rd)
}

// Decode is the reverse of Encode.
func (d *Define) Decode(b []byte) (*Data, error) {
	rd := &RemoteData{}
	if err := Unmarshal(b, rd); err != nil {
		return nil, errors.Wrapf(err, "define %s: decode", d.name)
	}
	return d.Deserialize(rd)
}
