package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Version information set at build time.
var version = "dev"

// globalFlags 由所有子命令共享。
type globalFlags struct {
	verbose     bool
	metricsAddr string
}

func main() {
	var g globalFlags
	rootCmd := &cobra.Command{
		Use:   "lobby",
		Short: "LAN lobby presence over plain TCP",
		Long: `lobby answers and queries peer presence ("online", "playing",
"offline") on a local network, using NUL-delimited frames over TCP.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&g.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9100)")

	rootCmd.AddCommand(
		serveCmd(&g),
		watchCmd(&g),
		probeCmd(&g),
		friendsCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	cfg.DisableStacktrace = true
	return cfg.Build()
}

// newRegistry 在指定了 --metrics-addr 时返回注册表并在后台暴露 /metrics；否则返回 nil。
func newRegistry(addr string, log *zap.Logger) prometheus.Registerer {
	if addr == "" {
		return nil
	}
	reg := prometheus.NewRegistry()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Warn("metrics server stopped", zap.String("addr", addr), zap.Error(err))
		}
	}()
	log.Info("serving metrics", zap.String("addr", addr))
	return reg
}
