package protocol

import "errors"

// 压缩模式下每帧正文的首字节为 flags（在转义之前）：
//   bit0: Compressed，正文其余部分为 zstd 压缩数据
//   bit1..7: 保留，必须为 0

const (
	flagCompressed = 1 << 0
	flagReserved   = ^uint8(flagCompressed)
)

var errBadFlags = errors.New("protocol: reserved flag bits set")

func encodeFlags(compressed bool) byte {
	var f byte
	if compressed {
		f |= flagCompressed
	}
	return f
}

func decodeFlags(b byte) (compressed bool, _ error) {
	if b&flagReserved != 0 {
		return false, errBadFlags
	}
	return b&flagCompressed != 0, nil
}
