package lobbynet

import (
	"context"
	"time"
)

// Run 以固定间隔驱动 Update，每个 tick 之后调用 onTick（可为 nil）。
// ctx 取消时返回 ctx.Err()；不调用 Shutdown，由调用方决定何时释放。
func (m *Mux) Run(ctx context.Context, interval time.Duration, onTick func()) error {
	if interval <= 0 {
		return ErrInvalidArgument
	}
	t := m.clock.Ticker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if m.down {
			return ErrShutdown
		}
		m.Update()
		if onTick != nil {
			onTick()
		}
	}
}

// FPS 把帧率换算为 tick 间隔。
func FPS(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Second / time.Duration(n)
}
