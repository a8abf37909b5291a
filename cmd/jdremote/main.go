package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/italolelis/jdownloader_remote/internal/config"
	"github.com/italolelis/jdownloader_remote/internal/logctx"
	"github.com/italolelis/jdownloader_remote/internal/telemetry"
	"github.com/italolelis/jdownloader_remote/internal/upstream"
	"github.com/italolelis/jdownloader_remote/internal/upstream/myjd"
	"github.com/italolelis/jdownloader_remote/internal/upstream/putio"
)

// version is set at build time.
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("fatal error", "err", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:   "jdremote",
		Short: "Remote control for JDownloader devices",
		Long: `jdremote keeps a session with your MyJDownloader account and exposes a small
HTTP API plus an installable web client to queue links and watch downloads.

Running it without a subcommand is the same as "jdremote serve".`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), envFile)
		},
	}

	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional env file loaded before the environment")

	root.AddCommand(newServeCmd(&envFile))
	root.AddCommand(newStatusCmd(&envFile))
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "jdremote %s\n", version)
		},
	})

	return root
}

// bootstrap loads the configuration and installs the root logger. The
// returned function flushes the log pipeline.
func bootstrap(ctx context.Context, envFile string) (context.Context, *config.Config, func(), error) {
	cfg, err := config.LoadConfig(envFile)
	if err != nil {
		return ctx, nil, nil, fmt.Errorf("config error: %w", err)
	}

	handler, shutdownLogs, err := telemetry.NewLogHandler(ctx, telemetry.LogConfig{
		Writer:       os.Stdout,
		Level:        cfg.SlogLevel(),
		ServiceName:  cfg.Telemetry.ServiceName,
		OTLPEndpoint: cfg.OTLPEndpoint,
	})
	if err != nil {
		return ctx, nil, nil, fmt.Errorf("failed to set up logging: %w", err)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	flush := func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		if err := shutdownLogs(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "failed to flush logs: %v\n", err)
		}
	}

	return logctx.WithLogger(ctx, logger), cfg, flush, nil
}

// This is an abstract factory for the upstream client.
func buildUpstreamClient(cfg *config.Config) (upstream.Client, error) {
	switch cfg.UpstreamBackend {
	case "myjd":
		return myjd.NewClient(cfg.MyJDAPIURL, cfg.MyJDAppKey, cfg.UpstreamTimeout), nil
	case "putio":
		return putio.NewClient(cfg.PutioToken, cfg.UpstreamTimeout), nil
	}

	return nil, fmt.Errorf("invalid upstream backend: %s", cfg.UpstreamBackend)
}

func credentials(cfg *config.Config) upstream.Credentials {
	return upstream.Credentials{Email: cfg.Email, Password: cfg.Password}
}
