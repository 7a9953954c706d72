// Command rendezvousd is the rendezvous core: a session/host directory with a
// REST API, a WebSocket signaling relay, and a UDP reflexive-address probe,
// all on two listeners (one TCP, one UDP).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/castbridge/rendezvous/internal/config"
	"github.com/castbridge/rendezvous/internal/directory"
	"github.com/castbridge/rendezvous/internal/discovery"
	"github.com/castbridge/rendezvous/internal/httpapi"
	"github.com/castbridge/rendezvous/internal/registry"
	signalhub "github.com/castbridge/rendezvous/internal/signal"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load(args)
	if err != nil {
		return err
	}
	logger, err := config.NewLogger(cfg)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	dir := directory.New(directory.Config{
		SessionTTL:  cfg.SessionTTL,
		HostTimeout: cfg.HostTimeout,
	}, nil, logger)

	sessionSweeper := registry.NewSweeper("sessions", cfg.SessionSweepInterval, nil, logger, dir.SweepSessions)
	hostSweeper := registry.NewSweeper("hosts", cfg.HostSweepInterval, nil, logger, dir.SweepHosts)
	sessionSweeper.Run()
	hostSweeper.Run()
	defer sessionSweeper.Close()
	defer hostSweeper.Close()

	hub := signalhub.NewHub(signalhub.Config{
		MaxMessageBytes:      cfg.MaxSignalMessageBytes,
		MaxMessagesPerSecond: cfg.MaxSignalMessagesPerSecond,
		PingInterval:         cfg.SignalPingInterval,
		IdleTimeout:          cfg.SignalIdleTimeout,
		AllowedOrigins:       cfg.AllowedOrigins,
	}, dir, logger)

	disco, err := discovery.New(cfg.DiscoveryAddr, hub, logger)
	if err != nil {
		return fmt.Errorf("failed to bind discovery socket on %s: %w", cfg.DiscoveryAddr, err)
	}
	go func() {
		if err := disco.Serve(); err != nil {
			logger.Error("discovery listener failed", "err", err)
		}
	}()

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: httpapi.NewRouter(dir, hub, logger),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("rendezvous server listening",
			"addr", cfg.ListenAddr,
			"discovery_addr", cfg.DiscoveryAddr,
			"mode", cfg.Mode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", cfg.ShutdownTimeout)
	if err := disco.Close(); err != nil {
		logger.Warn("failed to close discovery socket", "err", err)
	}
	hub.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
