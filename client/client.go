// Package client 是阻塞式的成帧客户端，供主循环之外的工具与互通测试使用。
// 与 Mux 使用同一套线上格式（protocol.Codec）。
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/legamerdc/lobbynet/protocol"
)

// 单帧（含分隔符）的默认上限，与 Mux 的 MaxFrameSize 默认值一致
const defaultMaxFrame = 64 << 10

var (
	ErrClosed        = errors.New("client: connection closed before reply")
	ErrFrameTooLarge = errors.New("client: frame exceeds buffer")

	// ErrBadFrame 包装单帧解码失败；连接仍可继续读取。
	ErrBadFrame = errors.New("client: bad frame")
)

type Handler interface {
	OnOpen(c *Client)
	OnMessage(c *Client, msg []byte)
	OnClose(c *Client, err error)
}

type Client struct {
	nc    net.Conn
	br    *bufio.Reader
	codec *protocol.Codec
	log   *zap.Logger
	max   int
	wmu   sync.Mutex
}

// Option 配置 Client。
type Option func(*Client)

func WithCodec(c *protocol.Codec) Option { return func(cl *Client) { cl.codec = c } }

func WithLogger(l *zap.Logger) Option { return func(cl *Client) { cl.log = l } }

// WithMaxFrame 设置可接收的最大帧长。
func WithMaxFrame(n int) Option { return func(cl *Client) { cl.max = n } }

func wrap(nc net.Conn, opts []Option) (*Client, error) {
	c := &Client{nc: nc, log: zap.NewNop(), max: defaultMaxFrame}
	for _, o := range opts {
		o(c)
	}
	if c.codec == nil {
		codec, err := protocol.NewCodec()
		if err != nil {
			return nil, err
		}
		c.codec = codec
	}
	c.br = bufio.NewReaderSize(nc, c.max)
	return c, nil
}

func dial(ctx context.Context, address string, opts []Option) (*Client, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	c, err := wrap(nc, opts)
	if err != nil {
		_ = nc.Close()
		return nil, err
	}
	return c, nil
}

// Dial 建立连接并在后台 goroutine 中读取，回调 h。
func Dial(ctx context.Context, address string, h Handler, opts ...Option) (*Client, error) {
	c, err := dial(ctx, address, opts)
	if err != nil {
		return nil, err
	}
	go h.OnOpen(c)
	go c.readLoop(h)
	return c, nil
}

func (c *Client) readLoop(h Handler) {
	for {
		msg, err := c.ReadFrame()
		switch {
		case err == nil:
			h.OnMessage(c, msg)
		case errors.Is(err, ErrBadFrame):
			c.log.Warn("client: decode frame", zap.Error(err))
		default:
			h.OnClose(c, err)
			return
		}
	}
}

// ReadFrame 阻塞读取并解码下一帧。帧超过上限时返回 ErrFrameTooLarge，连接不再可用。
func (c *Client) ReadFrame() ([]byte, error) {
	raw, err := c.br.ReadSlice(c.codec.Delimiter())
	if err != nil {
		if errors.Is(err, bufio.ErrBufferFull) {
			return nil, ErrFrameTooLarge
		}
		return nil, err
	}
	msg, err := c.codec.Decode(raw[:len(raw)-1])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadFrame, err)
	}
	return msg, nil
}

func (c *Client) Write(msg []byte) error {
	frame, err := c.codec.Encode(nil, msg)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err = c.nc.Write(frame)
	return err
}

func (c *Client) Close() error { return c.nc.Close() }

// Query 发送一帧并同步等待第一条回复帧；超时由 ctx 控制。
func Query(ctx context.Context, address string, msg []byte, opts ...Option) ([]byte, error) {
	c, err := dial(ctx, address, opts)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	dl, _ := ctx.Deadline()
	_ = c.nc.SetDeadline(dl) // 无截止时间时为零值，即不限
	stop := context.AfterFunc(ctx, func() { _ = c.nc.SetDeadline(time.Now()) })
	defer stop()

	if err := c.Write(msg); err != nil {
		return nil, err
	}
	for {
		reply, err := c.ReadFrame()
		switch {
		case err == nil:
			return reply, nil
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(err, io.EOF):
			return nil, ErrClosed
		case errors.Is(err, ErrBadFrame):
			c.log.Debug("client: skip bad frame", zap.Error(err))
		default:
			return nil, err
		}
	}
}
