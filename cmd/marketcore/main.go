// Package main runs the marketcore server: the value token ledger and the
// insight marketplace behind a single HTTP API.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	app "github.com/insightmesh/market_layer/internal/app"
	"github.com/insightmesh/market_layer/internal/app/domain/token"
	"github.com/insightmesh/market_layer/internal/app/httpapi"
	"github.com/insightmesh/market_layer/internal/app/metrics"
	"github.com/insightmesh/market_layer/internal/config"
	"github.com/insightmesh/market_layer/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "Path to optional YAML config file")
	flag.Parse()

	log := logger.NewDefault("marketcore")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	cap, err := cfg.Cap()
	if err != nil {
		log.WithError(err).Error("Invalid supply cap")
		os.Exit(1)
	}

	minters := make([]token.Address, 0, len(cfg.MinterList()))
	for _, m := range cfg.MinterList() {
		minters = append(minters, token.Address(m))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	application, err := app.New(ctx, app.Options{
		Admin:           token.Address(cfg.AdminAddress),
		Reserve:         token.Address(cfg.ReserveAddress),
		Cap:             cap,
		FeePercent:      cfg.FeePercent,
		Minters:         minters,
		EventBufferSize: cfg.EventBufferSize,
	}, app.Stores{}, log)
	if err != nil {
		log.WithError(err).Error("Failed to initialise application")
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", httpapi.NewHandler(application))

	server := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      metrics.InstrumentHandler(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.WithField("address", cfg.ListenAddress).Info("Marketcore listening")
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.WithError(err).Error("Server error")
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server shutdown error")
	}

	log.Info("Marketcore stopped")
}
