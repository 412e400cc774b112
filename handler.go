package lobbynet

// Observer 接收生命周期通知，在 Update 内同步调用，要求无阻塞返回。
// 回调中不得调用 Update 或 Shutdown。
type Observer interface {
	OnOpen(c *Conn)
	OnClose(c *Conn, err error)
	OnRefused(addr Address, err error)
}

// NopObserver 忽略所有通知。
type NopObserver struct{}

func (NopObserver) OnOpen(*Conn)             {}
func (NopObserver) OnClose(*Conn, error)     {}
func (NopObserver) OnRefused(Address, error) {}
