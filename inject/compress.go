package inject

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

// shared coders, EncodeAll and DecodeAll are safe for concurrent use
func zstdCoders() (*zstd.Encoder, *zstd.Decoder) {
	zstdOnce.Do(func() {
		var err error
		zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression), zstd.WithEncoderConcurrency(1))
		if err != nil {
			panic(err) // only fails on invalid options
		}
		zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0), zstd.WithDecoderMaxMemory(maxStoredValue*16))
		if err != nil {
			panic(err)
		}
	})
	return zstdEncoder, zstdDecoder
}

// ZstdCompress appends the zstd compressed data to dst.
func ZstdCompress(dst, data []byte) []byte {
	enc, _ := zstdCoders()
	return enc.EncodeAll(data, dst)
}

// ZstdDecompress appends the decompressed data to dst.
func ZstdDecompress(dst, data []byte) ([]byte, error) {
	_, dec := zstdCoders()
	return dec.DecodeAll(data, dst)
}
