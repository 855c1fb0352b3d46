// Tapedeck server - silence-gated audio recording with live monitoring and
// a WebSocket control surface
package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/soundlab/tapedeck/internal/audio"
	"github.com/soundlab/tapedeck/internal/config"
	"github.com/soundlab/tapedeck/internal/recorder"
	"github.com/soundlab/tapedeck/internal/server"
	"github.com/soundlab/tapedeck/internal/settings"
)

func main() {
	cfg := config.Load()

	// Setup structured logging, optionally mirrored to a rotating file
	var sink io.Writer = os.Stdout
	if cfg.LogFile != "" {
		sink = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    20, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		})
	}
	logger := slog.New(slog.NewTextHandler(sink, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)

	store, err := settings.Open(cfg.SettingsPath, settings.Defaults(cfg.OutputDir))
	if err != nil {
		slog.Error("failed to load settings", "path", cfg.SettingsPath, "error", err)
		os.Exit(1)
	}

	backend, err := audio.NewPortAudio()
	if err != nil {
		slog.Error("failed to initialize audio host", "error", err)
		os.Exit(1)
	}
	defer func() { _ = backend.Close() }()

	// Create engine
	engine := recorder.New(cfg, backend, store)
	if err := engine.Start(); err != nil {
		slog.Error("engine start failed", "error", err)
		os.Exit(1)
	}

	// Create HTTP/WebSocket server
	srv := server.New(engine)

	// Run engine in background
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		engine.Run(ctx)
	}()

	// Start HTTP server
	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("tapedeck server starting", "http", cfg.HTTPAddr, "output", cfg.OutputDir)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	// Engine finalizes any active recording on the way out.
	<-engineDone
	slog.Info("shutdown complete")
}
