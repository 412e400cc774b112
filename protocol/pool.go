package protocol

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// zstd 编解码器较重，按 goroutine 复用；单个实例不并发使用。
var (
	zstdWriters = sync.Pool{New: func() any {
		w, _ := zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.SpeedFastest),
			zstd.WithEncoderConcurrency(1))
		return w
	}}
	zstdReaders = sync.Pool{New: func() any {
		r, _ := zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderMaxMemory(maxDecoded))
		return r
	}}
)

// compress 返回 src 的压缩结果；压缩后不变小时 ok 为 false。
func compress(src []byte) (out []byte, ok bool) {
	if len(src) < compressThreshold {
		return src, false
	}
	w := zstdWriters.Get().(*zstd.Encoder)
	out = w.EncodeAll(src, make([]byte, 0, len(src)/2))
	zstdWriters.Put(w)
	if len(out) >= len(src) {
		return src, false
	}
	return out, true
}

func decompress(src []byte) ([]byte, error) {
	r := zstdReaders.Get().(*zstd.Decoder)
	defer zstdReaders.Put(r)
	out, err := r.DecodeAll(src, nil)
	if err != nil {
		return nil, fmt.Errorf("protocol: decompress: %w", err)
	}
	return out, nil
}
