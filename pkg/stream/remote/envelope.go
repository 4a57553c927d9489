/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package remote

import (
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/data"
)

const (
	codecRaw  byte = 0
	codecZstd byte = 1
)

type (
	// Envelope addresses one serialized record to a role on the receiving node.
	Envelope struct {
		Role    string `cbor:"1,keyasint"`
		Key     string `cbor:"2,keyasint"`
		Payload []byte `cbor:"3,keyasint"`
	}
)

// zstd encoder and decoder are safe for concurrent use
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("remote: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("remote: zstd decoder initialization failed: " + err.Error())
	}
}

// EncodeBatch marshals envelopes to CBOR behind a one byte codec marker. Bodies of at
// least compressThreshold bytes are zstd compressed; a threshold <= 0 never compresses.
func EncodeBatch(batch []Envelope, compressThreshold int) ([]byte, error) {
	body, err := data.Marshal(batch)
	if err != nil {
		return nil, errors.Wrap(err, "marshal batch")
	}
	if compressThreshold > 0 && len(body) >= compressThreshold {
		out := make([]byte, 1, len(body)/2+1)
		out[0] = codecZstd
		return zstdEncoder.EncodeAll(body, out), nil
	}
	out := make([]byte, 0, len(body)+1)
	out = append(out, codecRaw)
	return append(out, body...), nil
}

func DecodeBatch(b []byte) ([]Envelope, error) {
	if len(b) == 0 {
		return nil, errors.New("empty batch")
	}
	body := b[1:]
	switch b[0] {
	case codecRaw:
	case codecZstd:
		var err error
		body, err = zstdDecoder.DecodeAll(body, nil)
		if err != nil {
			return nil, errors.Wrap(err, "zstd decompress")
		}
	default:
		return nil, errors.Errorf("unknown batch codec %d", b[0])
	}
	var batch []Envelope
	if err := data.Unmarshal(body, &batch); err != nil {
		return nil, errors.Wrap(err, "unmarshal batch")
	}
	return batch, nil
}
