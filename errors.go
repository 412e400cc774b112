package lobbynet

import "errors"

var (
	// ErrInvalidArgument 参数非法
	ErrInvalidArgument = errors.New("lobbynet: invalid argument")

	// ErrBind 监听端点打开失败（端口被占用、权限不足等）
	ErrBind = errors.New("lobbynet: bind/listen failed")

	// ErrAlreadyListening 重复调用 Init
	ErrAlreadyListening = errors.New("lobbynet: already listening")

	// ErrNotConnected 没有对应的已建立连接
	ErrNotConnected = errors.New("lobbynet: not connected")

	// ErrClosing 连接已请求关闭，不再接受新的出站消息
	ErrClosing = errors.New("lobbynet: connection is closing")

	// ErrShutdown 多路复用器已关闭
	ErrShutdown = errors.New("lobbynet: mux is shut down")

	// ErrConnectTimeout 待定连接超过截止时间
	ErrConnectTimeout = errors.New("lobbynet: connect timed out")

	// ErrFrameTooLarge 入站缓冲超过上限仍未出现分隔符
	ErrFrameTooLarge = errors.New("lobbynet: inbound frame exceeds limit")
)
