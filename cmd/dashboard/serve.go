package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"github.com/zengyi-thinking/Agent-team-dashboard/adapter/inbound/rest"
	"github.com/zengyi-thinking/Agent-team-dashboard/adapter/inbound/websocket"
	"github.com/zengyi-thinking/Agent-team-dashboard/adapter/outbound/filewatcher"
	"github.com/zengyi-thinking/Agent-team-dashboard/adapter/outbound/logging"
	"github.com/zengyi-thinking/Agent-team-dashboard/adapter/outbound/machineid"
	"github.com/zengyi-thinking/Agent-team-dashboard/config"
	"github.com/zengyi-thinking/Agent-team-dashboard/domain/port/outbound"
	"github.com/zengyi-thinking/Agent-team-dashboard/domain/service"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Watch the agent directories and broadcast change notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.HTTP.Port = port
			}

			logger := logging.NewSlogAdapter(cfg)
			defer logger.Shutdown()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServer(ctx, cfg, logger)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Override the configured HTTP port")

	return cmd
}

func runServer(ctx context.Context, cfg *config.Config, logger outbound.Logger) error {
	if cfg.General.InstanceID == "" {
		cfg.General.InstanceID = machineid.NewInstanceIDProvider(logger).InstanceID()
	}

	logger.Info("Starting dashboard notifier",
		"instance", cfg.General.InstanceID,
		"baseDir", cfg.General.BaseDir)

	watcher, err := filewatcher.NewFSWatcher(cfg.Watch.SettleWindow, logger)
	if err != nil {
		return err
	}

	classifier, err := service.NewClassifier(service.ClassifierConfig{
		TeamsDir:         cfg.Watch.TeamsDir,
		TasksDir:         cfg.Watch.TasksDir,
		ConversationsDir: cfg.Watch.ConversationsDir,
		TeamConfigFile:   cfg.Watch.TeamConfigFile,
		TaskLockSuffix:   cfg.Watch.TaskLockSuffix,
		IgnorePatterns:   cfg.Watch.IgnorePatterns,
	})
	if err != nil {
		watcher.Stop()
		return err
	}

	// a root that cannot be watched does not prevent watching the others
	for _, root := range classifier.Roots() {
		if err := watcher.Watch(ctx, root); err != nil {
			logger.Error("Failed to watch root", "root", root, "error", err)
		}
	}

	hub := websocket.NewHub(cfg.Broadcast.HeartbeatInterval, logger)

	dispatcher := service.NewDispatcherService(watcher, classifier, hub, cfg.Watch.DebounceWindow, logger)
	if err := dispatcher.Start(ctx); err != nil {
		watcher.Stop()
		return err
	}

	handshake := service.NewHandshakeService(cfg.Security.TokenSecret, cfg.Security.TokenTTL, logger)
	if handshake.Enabled() {
		logger.Info("Broadcast handshake enabled")
	}

	wsHandler := websocket.NewHandler(hub, websocket.HandlerOptions{
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		WriteTimeout:   cfg.Broadcast.WriteTimeout,
		SendQueueSize:  cfg.Broadcast.SendQueueSize,
	}, logger)

	router := mux.NewRouter()
	router.Use(rest.RequestLogger(logger))
	rest.NewHandler(cfg, dispatcher, watcher, hub, logger).
		SetupRoutes(router, rest.NewHandshakeMiddleware(handshake, logger).Middleware(wsHandler))

	server := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go hub.Run(ctx)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", server.Addr, "wsPath", cfg.HTTP.WSPath)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutting down gracefully")
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("HTTP server error: %w", err)
		}
	}

	// stop producing first, then drop the sessions, then the listener
	if err := dispatcher.Stop(); err != nil {
		logger.Error("Error stopping dispatcher", "error", err)
	}
	hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}

	logger.Info("Server shutdown complete")
	return runErr
}
