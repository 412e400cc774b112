// Package presence 是建立在成帧层之上的在线状态约定：
// 询问方发送 QueryToken，应答方回复自己的状态 token，随后双方关闭连接。
// 每条连接只承载一次询问。
package presence

import (
	"bytes"
	"strconv"

	"github.com/legamerdc/lobbynet"
)

const (
	QueryToken   = "get_state"
	TokenOnline  = "state_online"
	TokenPlaying = "state_playing"
	TokenOffline = "state_offline"
)

type State uint8

const (
	Unknown State = iota
	Online
	Playing
	Offline
)

func (s State) String() string {
	switch s {
	case Unknown:
		return "unknown"
	case Online:
		return "online"
	case Playing:
		return "playing"
	case Offline:
		return "offline"
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

// Token 返回应答用的线上 token；Unknown 没有 token。
func (s State) Token() []byte {
	switch s {
	case Online:
		return []byte(TokenOnline)
	case Playing:
		return []byte(TokenPlaying)
	case Offline:
		return []byte(TokenOffline)
	}
	return nil
}

// ParseState 把一帧解析为状态；帧必须与 token 完全一致。
func ParseState(frame []byte) (State, bool) {
	switch string(frame) {
	case TokenOnline:
		return Online, true
	case TokenPlaying:
		return Playing, true
	case TokenOffline:
		return Offline, true
	}
	return Unknown, false
}

// ParseName 解析命令行/配置里的状态名（online、playing、offline）。
func ParseName(s string) (State, bool) {
	switch s {
	case "online":
		return Online, true
	case "playing":
		return Playing, true
	case "offline":
		return Offline, true
	}
	return Unknown, false
}

// IsQuery 报告帧是否为询问。只比较前缀，与旧客户端附带尾随字节的询问兼容。
func IsQuery(frame []byte) bool {
	return bytes.HasPrefix(frame, []byte(QueryToken))
}

// Network 是 presence 所需的多路复用器能力，*lobbynet.Mux 满足该接口。
type Network interface {
	RequestConnect(addr lobbynet.Address)
	IsConnected(addr lobbynet.Address) bool
	IsPending(addr lobbynet.Address) bool
	SendTo(addr lobbynet.Address, msg []byte) error
	FramesFrom(addr lobbynet.Address) [][]byte
	RequestCloseAddr(addr lobbynet.Address) error
	Refused() []lobbynet.Address

	Conns() []*lobbynet.Conn
	Frames(id lobbynet.ConnID) [][]byte
	Send(id lobbynet.ConnID, msg []byte) error
	RequestClose(id lobbynet.ConnID) error
}

var _ Network = (*lobbynet.Mux)(nil)
