package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"

	"github.com/italolelis/jdownloader_remote/internal/cleanup"
	"github.com/italolelis/jdownloader_remote/internal/config"
	"github.com/italolelis/jdownloader_remote/internal/http/rest"
	"github.com/italolelis/jdownloader_remote/internal/logctx"
	"github.com/italolelis/jdownloader_remote/internal/notifier"
	"github.com/italolelis/jdownloader_remote/internal/schedule"
	"github.com/italolelis/jdownloader_remote/internal/session"
	"github.com/italolelis/jdownloader_remote/internal/storage"
	"github.com/italolelis/jdownloader_remote/internal/storage/sqlite"
	"github.com/italolelis/jdownloader_remote/internal/telemetry"
	"github.com/italolelis/jdownloader_remote/internal/upstream"
	"github.com/italolelis/jdownloader_remote/internal/web"
)

const disconnectTimeout = 10 * time.Second

func newServeCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and web client",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), *envFile)
		},
	}
}

func runServe(ctx context.Context, envFile string) error {
	ctx, cfg, flushLogs, err := bootstrap(ctx, envFile)
	if err != nil {
		return err
	}
	defer flushLogs()

	logger := logctx.LoggerFromContext(ctx)
	logger.InfoContext(ctx, "jdownloader remote starting...",
		"log_level", cfg.LogLevel,
		"backend", cfg.UpstreamBackend,
		"version", version,
	)

	return run(ctx, cfg)
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// Background tasks stop with this context, on a signal or when the server fails.
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		DiskPath:       diskPath(cfg.DBPath),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := tel.Shutdown(ctx); err != nil {
			logger.ErrorContext(ctx, "failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Journal
	var journal storage.SubmissionRepository

	if cfg.DBPath != "" {
		database, err := sqlite.InitDB(cfg.DBPath)
		if err != nil {
			logger.ErrorContext(ctx, "DB error", "err", err)

			return err
		}
		defer database.Close()

		repo := sqlite.NewInstrumentedSubmissionRepository(database, tel)
		journal = repo

		cleanupDone := setupCleanup(ctx, repo, cfg)

		// Runs before database.Close.
		defer func() {
			stop()
			<-cleanupDone
		}()
	}

	// =========================================================================
	// Start Upstream Session
	client, err := buildUpstreamClient(cfg)
	if err != nil {
		return fmt.Errorf("failed to build upstream client: %w", err)
	}

	instrumented := upstream.NewInstrumentedClient(client, tel, cfg.UpstreamBackend)

	manager := session.NewManager(instrumented, credentials(cfg), session.Options{
		PreferredDevice: cfg.PreferredDevice,
		RenewInterval:   cfg.RenewInterval,
		MonitorInterval: cfg.MonitorInterval,
		Telemetry:       tel,
	})

	setupNotifications(ctx, manager.Events(), buildNotifier(cfg), tel)

	monitorDone := manager.Monitor(ctx, schedule.RealClock)
	renewDone := manager.RenewPeriodically(ctx, schedule.RealClock)

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server, err := setupServer(ctx, cfg, rest.NewHandler(manager, instrumented, journal, tel), tel)
	if err != nil {
		return fmt.Errorf("failed to setup server: %w", err)
	}

	go func() {
		logger.InfoContext(ctx, "Initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.InfoContext(ctx, "waiting for requests...",
		"preferred_device", cfg.PreferredDevice,
		"monitor_interval", cfg.MonitorInterval.String(),
		"renew_interval", cfg.RenewInterval.String(),
		"journal", cfg.DBPath != "",
	)

	var runErr error

	select {
	case err := <-serverErrors:
		runErr = fmt.Errorf("server error: %w", err)
		stop()
	case <-ctx.Done():
		logger.InfoContext(ctx, "start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.ErrorContext(ctx, "failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				runErr = fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}
	}

	<-monitorDone
	<-renewDone

	disconnectCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), disconnectTimeout)
	defer cancel()

	manager.Disconnect(disconnectCtx)

	return runErr
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(ctx context.Context, cfg *config.Config, api *rest.Handler, tel *telemetry.Telemetry) (*http.Server, error) {
	assets, err := web.NewHandler(cfg.AssetVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to load web assets: %w", err)
	}

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      newRouter(api, assets, tel),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}, nil
}

func newRouter(api *rest.Handler, assets http.Handler, tel *telemetry.Telemetry) http.Handler {
	r := chi.NewRouter()

	r.Use(telemetry.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", telemetry.RequestIDHeader},
		ExposedHeaders: []string{telemetry.RequestIDHeader},
		MaxAge:         300,
	}))
	r.Use(middleware.Recoverer)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)
	r.Use(telemetry.HTTPLogging)

	r.Handle("/metrics", tel.Handler())

	// Anything the API does not route is a static asset. Set before Mount so
	// the API router inherits it.
	r.NotFound(assets.ServeHTTP)
	r.Mount("/", api.Routes())

	return r
}

func buildNotifier(cfg *config.Config) notifier.Notifier {
	if cfg.DiscordWebhookURL == "" {
		return notifier.Nop{}
	}

	return &notifier.DiscordNotifier{WebhookURL: cfg.DiscordWebhookURL}
}

func setupNotifications(ctx context.Context, events <-chan session.StateChange, notif notifier.Notifier, tel *telemetry.Telemetry) {
	logger := logctx.LoggerFromContext(ctx)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event := <-events:
				logger.InfoContext(ctx, "session state changed",
					"connected", event.Connected,
					"device", event.Target.Name,
				)

				if err := notif.Notify(ctx, stateChangeMessage(event)); err != nil {
					logger.ErrorContext(ctx, "failed to send notification", "err", err)
					tel.RecordSystemError(ctx, "notifier", "notify_failed")
				}
			}
		}
	}()
}

func stateChangeMessage(event session.StateChange) string {
	if event.Connected {
		return "✅ Connected to JDownloader device: " + event.Target.Name
	}

	if event.Err != nil {
		var reason string
		if errors.Is(event.Err, session.ErrNoDevicesAvailable) {
			reason = "no devices available"
		} else {
			reason = event.Err.Error()
		}

		return "❌ Lost connection to JDownloader: " + reason
	}

	return "⚠️ Disconnected from JDownloader"
}

func setupCleanup(ctx context.Context, repo storage.SubmissionWriteRepository, cfg *config.Config) <-chan struct{} {
	return schedule.Start(ctx, schedule.RealClock, schedule.Task{
		Name:     "journal_cleanup",
		Interval: cfg.CleanupInterval,
		Run: func(ctx context.Context) error {
			return cleanup.DeleteExpiredSubmissions(ctx, repo, cfg.KeepHistoryFor)
		},
	})
}

// diskPath is the directory whose usage telemetry reports.
func diskPath(dbPath string) string {
	if dbPath == "" {
		return "."
	}

	dir, err := filepath.Abs(filepath.Dir(dbPath))
	if err != nil {
		return "."
	}

	return dir
}
