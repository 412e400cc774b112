package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/legamerdc/lobbynet"
	"github.com/legamerdc/lobbynet/presence"
)

func watchCmd(g *globalFlags) *cobra.Command {
	var (
		mf      muxFlags
		file    string
		state   string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Query the state of every friend",
		Long: `Connect to every friend in the friends list, ask for its state and print
each answer. Unreachable friends are reported offline. Exits once every friend
has answered or the timeout expires.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			friends, err := loadFriends(file)
			if err != nil {
				return err
			}
			var local presence.State
			if state != "" {
				s, ok := presence.ParseName(state)
				if !ok {
					return fmt.Errorf("unknown state %q (want online, playing or offline)", state)
				}
				local = s
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
			ctx, cancel := signalContext()
			defer cancel()
			if timeout > 0 {
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			err = watch(ctx, m, friends, local, cmd.OutOrStdout(), mf.fps, log, nil)
			return multierr.Append(err, m.Shutdown())
		},
	}
	mf.register(cmd, "")
	cmd.Flags().StringVarP(&file, "friends", "f", "friends.csv", "Friends CSV (nickname, ip, port)")
	cmd.Flags().StringVarP(&state, "state", "s", "", "Also answer queries with this state while watching")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 10*time.Second, "Stop waiting after this long (0 waits forever)")
	return cmd
}

// watch 驱动 Tracker 直到全部好友有结果；超时时把仍未知的好友打印为 unknown。
// onTick 在每个 tick 的 presence 处理之前调用，可为 nil。
func watch(ctx context.Context, m *lobbynet.Mux, friends []Friend, local presence.State, out io.Writer, fps int, log *zap.Logger, onTick func()) error {
	names := make(map[lobbynet.Address]string, len(friends))
	tr := presence.NewTracker(m, log)
	for _, f := range friends {
		names[f.Addr] = f.Nickname
		tr.Watch(f.Addr)
	}
	var resp *presence.Responder
	if local != presence.Unknown {
		resp = presence.NewResponder(m, local, log)
	}
	if tr.Resolved() {
		return nil
	}
	done, stop := context.WithCancel(ctx)
	defer stop()
	err := m.Run(done, lobbynet.FPS(fps), func() {
		if onTick != nil {
			onTick()
		}
		if resp != nil {
			resp.Update()
		}
		for _, c := range tr.Update() {
			fmt.Fprintf(out, "%-16s %-21s %s\n", names[c.Addr], c.Addr, c.State)
		}
		if tr.Resolved() {
			stop()
		}
	})
	if tr.Resolved() {
		return nil
	}
	for _, f := range friends {
		if tr.State(f.Addr) == presence.Unknown {
			fmt.Fprintf(out, "%-16s %-21s %s\n", f.Nickname, f.Addr, presence.Unknown)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
