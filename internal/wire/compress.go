// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import "github.com/klauspost/compress/zstd"

// compressThresholdBytes is the CBOR payload size above which
// EncodeResponse zstd-compresses the body before framing it. introspect
// is the only RPC likely to cross this on a core tracking many pips;
// every other response payload is small enough that compression would
// cost more CPU than the bytes it would save.
const compressThresholdBytes = 8 * 1024

// zstdEncoder and zstdDecoder are reused across calls, same as
// lib/artifactstore's package-level zstd encoder/decoder: both types
// are documented safe for concurrent use, and repeated construction
// would re-pay zstd's initialization cost on every RPC.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("wire: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("wire: zstd decoder initialization failed: " + err.Error())
	}
}

// maybeCompress zstd-compresses payload when it is large enough for
// compression to plausibly pay for itself, returning the (possibly
// unchanged) bytes and whether it compressed them.
func maybeCompress(payload []byte) ([]byte, bool) {
	if len(payload) < compressThresholdBytes {
		return payload, false
	}
	compressed := zstdEncoder.EncodeAll(payload, nil)
	if len(compressed) >= len(payload) {
		return payload, false
	}
	return compressed, true
}

func decompress(payload []byte) ([]byte, error) {
	return zstdDecoder.DecodeAll(payload, nil)
}
