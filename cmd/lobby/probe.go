package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/legamerdc/lobbynet/client"
	"github.com/legamerdc/lobbynet/presence"
	"github.com/legamerdc/lobbynet/protocol"
)

func probeCmd(g *globalFlags) *cobra.Command {
	var (
		timeout  time.Duration
		escape   bool
		compress bool
	)
	cmd := &cobra.Command{
		Use:   "probe <host:port>",
		Short: "Ask a single peer for its state (blocking)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(g.verbose)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			var opts []protocol.Option
			if escape {
				opts = append(opts, protocol.WithEscape())
			}
			if compress {
				opts = append(opts, protocol.WithCompression())
			}
			codec, err := protocol.NewCodec(opts...)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			reply, err := client.Query(ctx, args[0], []byte(presence.QueryToken), client.WithCodec(codec), client.WithLogger(log))
			if err != nil {
				log.Debug("probe failed", zap.String("addr", args[0]), zap.Error(err))
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", args[0], presence.Offline)
				return nil
			}
			s, ok := presence.ParseState(reply)
			if !ok {
				return fmt.Errorf("unexpected reply %q", reply)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", args[0], s)
			return nil
		},
	}
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 3*time.Second, "Give up after this long")
	cmd.Flags().BoolVar(&escape, "escape", false, "Escape the delimiter inside frames")
	cmd.Flags().BoolVar(&compress, "compress", false, "zstd-compress large frames, implies --escape")
	return cmd
}
