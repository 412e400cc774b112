package lobbynet

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Config 为多路复用器配置。零值字段在 New 中以 DefaultConfig 的值补齐（Delimiter 的零值即 NUL）。
type Config struct {
	ReadChunk      int           // 每个可读 tick 单次读取的字节数
	MaxFrameSize   int           // 入站缓冲中未遇到分隔符的字节数达到该值即强制关闭；一帧含分隔符最多 MaxFrameSize 字节
	ConnectTimeout time.Duration // 待定连接的截止时间；负数表示不限
	LingerTicks    int           // 对端关闭后残留帧最多保留的 tick 数；<=0 表示保留到被取走
	AcceptBurst    int           // 每 tick 最多 accept 的连接数
	Delimiter      byte          // 帧分隔符
	Escape         bool          // 启用分隔符转义（线上格式扩展，对端必须一致）
	Compress       bool          // 启用 zstd 压缩，隐含 Escape

	Logger     *zap.Logger
	Clock      clock.Clock
	Registerer prometheus.Registerer // nil 时指标不注册
	Namespace  string
	Observer   Observer
}

// DefaultConfig 提供一组可工作的默认值。
func DefaultConfig() Config {
	return Config{
		ReadChunk:      4096,
		MaxFrameSize:   64 << 10, // 64 KiB
		ConnectTimeout: 5 * time.Second,
		AcceptBurst:    1,
		Delimiter:      0x00,
		Namespace:      "lobbynet",
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ReadChunk <= 0 {
		c.ReadChunk = def.ReadChunk
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = def.MaxFrameSize
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.AcceptBurst <= 0 {
		c.AcceptBurst = def.AcceptBurst
	}
	if c.Namespace == "" {
		c.Namespace = def.Namespace
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Observer == nil {
		c.Observer = NopObserver{}
	}
	return c
}
