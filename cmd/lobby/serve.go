package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/legamerdc/lobbynet"
	"github.com/legamerdc/lobbynet/presence"
	"github.com/legamerdc/lobbynet/transport"
)

// muxFlags 是 serve 与 watch 共用的多路复用器参数。
type muxFlags struct {
	listen         string
	fps            int
	connectTimeout time.Duration
	escape         bool
	compress       bool
}

func (f *muxFlags) register(cmd *cobra.Command, listen string) {
	cmd.Flags().StringVarP(&f.listen, "listen", "l", listen, "Listen address (host:port, \"*\" or empty host for any)")
	cmd.Flags().IntVar(&f.fps, "fps", 60, "Update ticks per second")
	cmd.Flags().DurationVar(&f.connectTimeout, "connect-timeout", 5*time.Second, "Give up on pending connects after this long (negative disables)")
	cmd.Flags().BoolVar(&f.escape, "escape", false, "Escape the delimiter inside frames (all peers must agree)")
	cmd.Flags().BoolVar(&f.compress, "compress", false, "zstd-compress large frames, implies --escape (all peers must agree)")
}

// open 构造并初始化 Mux；listen 为空时不监听。
func (f *muxFlags) open(g *globalFlags, log *zap.Logger) (*lobbynet.Mux, error) {
	cfg := lobbynet.DefaultConfig()
	cfg.ConnectTimeout = f.connectTimeout
	cfg.Escape = f.escape
	cfg.Compress = f.compress
	cfg.Logger = log
	cfg.Registerer = newRegistry(g.metricsAddr, log)

	tr, err := transport.NewSocket()
	if err != nil {
		return nil, err
	}
	m, err := lobbynet.New(cfg, tr)
	if err != nil {
		return nil, multierr.Append(err, tr.Shutdown())
	}
	if f.listen == "" {
		return m, nil
	}
	bind, err := lobbynet.ParseAddress(f.listen)
	if err != nil {
		return nil, multierr.Append(err, m.Shutdown())
	}
	if err := m.Init(bind); err != nil {
		return nil, multierr.Append(err, m.Shutdown())
	}
	return m, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func serveCmd(g *globalFlags) *cobra.Command {
	var (
		mf    muxFlags
		state string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Answer presence queries",
		Long:  `Listen for peers and answer every presence query with the local state.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, ok := presence.ParseName(state)
			if !ok {
				return fmt.Errorf("unknown state %q (want online, playing or offline)", state)
			}
			log, err := newLogger(g.verbose)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			m, err := mf.open(g, log)
			if err != nil {
				return err
			}
			resp := presence.NewResponder(m, s, log)
			log.Info("serving presence", zap.Stringer("addr", m.ListenAddr()), zap.Stringer("state", s))

			ctx, cancel := signalContext()
			defer cancel()
			err = m.Run(ctx, lobbynet.FPS(mf.fps), func() {
				if n := resp.Update(); n > 0 {
					log.Debug("answered queries", zap.Int("count", n))
				}
			})
			if errors.Is(err, context.Canceled) {
				err = nil
			}
			return multierr.Append(err, m.Shutdown())
		},
	}
	mf.register(cmd, ":9999")
	cmd.Flags().StringVarP(&state, "state", "s", "online", "State to report: online, playing or offline")
	return cmd
}
