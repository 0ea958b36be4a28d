package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rutomatrix/lab-console/internal/booking"
	"github.com/rutomatrix/lab-console/internal/config"
	"github.com/rutomatrix/lab-console/internal/httpapi"
	"github.com/rutomatrix/lab-console/internal/logging"
	"github.com/rutomatrix/lab-console/internal/popup"
	"github.com/rutomatrix/lab-console/internal/session"
	"github.com/rutomatrix/lab-console/internal/storage"
	"github.com/rutomatrix/lab-console/internal/window"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)

	if err := os.MkdirAll(cfg.DBDir(), 0o755); err != nil {
		logger.Error("failed to create db directory", "err", err)
		os.Exit(1)
	}

	repo, err := storage.New(ctx, cfg.DBPath, logger)
	if err != nil {
		logger.Error("failed to initialize storage", "err", err)
		os.Exit(1)
	}
	defer repo.Close()

	renderer, err := popup.NewRenderer()
	if err != nil {
		logger.Error("failed to load popup templates", "err", err)
		os.Exit(1)
	}

	bookingClient := booking.NewClient(cfg.BookingAPIBase)
	bookings := booking.NewManager(bookingClient, repo, logging.Component(logger, "booking"))
	bookings.Restore(ctx)

	hub := session.NewHub(logging.Component(logger, "hub"))
	registry := window.NewRegistry(repo, cfg.WindowAttachGrace, logging.Component(logger, "window"))
	sessions := session.NewManager(bookings, hub, registry, repo, session.Options{
		ReservationsURL: cfg.ReservationsURL,
		AlertSoundURL:   cfg.AlertSoundURL,
		AlertAckTimeout: cfg.AlertAckTimeout,
	}, logging.Component(logger, "session"))

	registry.SetBlockedNotifier(sessions.NotifyWindowBlocked)

	bookingPoller := booking.NewPoller(bookings, cfg.BookingPollInterval, func() {
		sessions.Resync(context.Background())
	}, logging.Component(logger, "poller"))

	go bookingPoller.Run(ctx)
	bookingPoller.TriggerRefresh()
	go sessions.Run(ctx, cfg.ConsoleResyncInterval)
	go registry.Run(ctx)

	api := httpapi.New(
		bookings,
		bookingPoller,
		sessions,
		hub,
		registry,
		renderer,
		repo,
		cfg.AllowedOrigins,
		cfg.FrontendDist,
		logging.Component(logger, "http"),
	)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("server starting", "addr", httpServer.Addr)
	err = httpapi.RunServer(ctx, httpServer, logger)
	sessions.Shutdown()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated with error", "err", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
