// Package protocol 实现基于单字节分隔符的成帧。
//
// 线上格式：payload || DELIMITER。默认不转义、不压缩，payload 不得包含分隔符。
// 启用转义后任意字节都可以传输；启用压缩（隐含转义）后较大的 payload 以 zstd 压缩。
package protocol

import (
	"bytes"
	"errors"
	"fmt"
)

// DefaultDelimiter 是 NUL 字节。
const DefaultDelimiter byte = 0x00

// EscapeByte 是转义前缀；被转义的字节与 escapeMask 异或。
const (
	EscapeByte byte = 0x1B
	escapeMask byte = 0x20
)

const (
	// 小于该长度的 payload 不尝试压缩
	compressThreshold = 128
	// 解压后的最大字节数
	maxDecoded = 16 << 20
)

var (
	ErrDelimiterInPayload = errors.New("protocol: payload contains delimiter")
	ErrBadEscape          = errors.New("protocol: invalid escape sequence")
	ErrEmptyFrame         = errors.New("protocol: empty frame")
)

// Option 配置 Codec。
type Option func(*Codec)

// WithDelimiter 指定分隔符。
func WithDelimiter(b byte) Option { return func(c *Codec) { c.delim = b } }

// WithEscape 启用字节填充转义，允许 payload 包含分隔符。
func WithEscape() Option { return func(c *Codec) { c.escape = true } }

// WithCompression 启用 zstd 压缩，隐含转义。
func WithCompression() Option {
	return func(c *Codec) {
		c.escape = true
		c.compress = true
	}
}

// Codec 负责单帧的编码与解码，不持有流状态；流切分由调用方按分隔符完成。
type Codec struct {
	delim    byte
	escape   bool
	compress bool
}

// NewCodec 构造 Codec。启用转义时分隔符不能与转义字节冲突。
func NewCodec(opts ...Option) (*Codec, error) {
	c := &Codec{delim: DefaultDelimiter}
	for _, o := range opts {
		o(c)
	}
	if c.escape && (c.delim == EscapeByte || c.delim == EscapeByte^escapeMask) {
		return nil, fmt.Errorf("protocol: delimiter 0x%02x conflicts with escape byte", c.delim)
	}
	return c, nil
}

func (c *Codec) Delimiter() byte  { return c.delim }
func (c *Codec) Escaped() bool    { return c.escape }
func (c *Codec) Compressed() bool { return c.compress }

// Encode 把 payload 编码为一帧（含结尾分隔符）追加到 dst。
func (c *Codec) Encode(dst, payload []byte) ([]byte, error) {
	if !c.escape {
		if bytes.IndexByte(payload, c.delim) >= 0 {
			return dst, ErrDelimiterInPayload
		}
		dst = append(dst, payload...)
		return append(dst, c.delim), nil
	}
	body := payload
	if c.compress {
		var compressed bool
		body, compressed = compress(payload)
		dst = c.appendEscaped(dst, []byte{encodeFlags(compressed)})
	}
	dst = c.appendEscaped(dst, body)
	return append(dst, c.delim), nil
}

func (c *Codec) appendEscaped(dst, p []byte) []byte {
	for _, b := range p {
		if b == c.delim || b == EscapeByte {
			dst = append(dst, EscapeByte, b^escapeMask)
			continue
		}
		dst = append(dst, b)
	}
	return dst
}

// Decode 把一帧（不含分隔符）解码为 payload，返回新分配的切片。
func (c *Codec) Decode(frame []byte) ([]byte, error) {
	if !c.escape {
		out := make([]byte, len(frame))
		copy(out, frame)
		return out, nil
	}
	out := make([]byte, 0, len(frame))
	for i := 0; i < len(frame); i++ {
		b := frame[i]
		if b != EscapeByte {
			out = append(out, b)
			continue
		}
		i++
		if i == len(frame) {
			return nil, ErrBadEscape
		}
		out = append(out, frame[i]^escapeMask)
	}
	if !c.compress {
		return out, nil
	}
	if len(out) == 0 {
		return nil, ErrEmptyFrame
	}
	compressed, err := decodeFlags(out[0])
	if err != nil {
		return nil, err
	}
	body := out[1:]
	if !compressed {
		return body, nil
	}
	return decompress(body)
}
