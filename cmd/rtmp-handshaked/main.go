// Command rtmp-handshaked accepts RTMP connections, performs the simple
// handshake and reports each outcome via logs, metrics and hooks.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alxayo/go-rtmp-handshake/internal/logger"
	srv "github.com/alxayo/go-rtmp-handshake/internal/rtmp/server"
	"github.com/alxayo/go-rtmp-handshake/internal/rtmp/server/hooks"
)

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if cfg.showVersion {
		fmt.Println(version)
		return
	}

	// Initialize global logger and set level based on flag
	logger.Init()
	if err := logger.SetLevel(cfg.logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: invalid log level %q, using default\n", cfg.logLevel)
	}
	log := logger.Logger().With("component", "cli")

	server := srv.New(srv.Config{
		ListenAddr:       cfg.listenAddr,
		MetricsAddr:      cfg.metricsAddr,
		HandshakeTimeout: cfg.handshakeTimeout,
		Hooks: hooks.Config{
			Timeout:     cfg.hookTimeout,
			Concurrency: cfg.hookConcurrency,
			StdioFormat: cfg.hookStdioFormat,
		},
		Webhooks: cfg.webhooks,
	})

	if err := server.Start(); err != nil {
		log.Error("failed to start server", "error", err)
		os.Exit(1)
	}

	log.Info("server started", "addr", server.Addr().String(), "version", version)

	// Set up signal handling for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		if err := server.Stop(); err != nil {
			log.Error("server stop error", "error", err)
		}
		close(done)
	}()

	select {
	case <-done:
		log.Info("server stopped cleanly")
	case <-shutdownCtx.Done():
		log.Error("forced exit after timeout")
	}
}
