package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/securedrop-lan/securedrop/internal/config"
	"github.com/securedrop-lan/securedrop/internal/coordinator"
	"github.com/securedrop-lan/securedrop/internal/logging"
	"github.com/securedrop-lan/securedrop/internal/metrics"
	"github.com/securedrop-lan/securedrop/internal/store"
)

func main() {
	flags, err := config.ParseCoordinatorFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	cfg, err := config.LoadCoordinator(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	var collector metrics.Collector = &metrics.NoopCollector{}
	if cfg.Metrics.Enabled {
		collector = metrics.NewPrometheusCollector(prometheus.DefaultRegisterer)
		metricsServer := metrics.NewPrometheusServer(cfg.Metrics.Address, cfg.Metrics.Path)
		go func() {
			if err := metricsServer.Start(ctx); err != nil && err != context.Canceled {
				logger.Error("metrics server error", "error", err)
			}
		}()
	}

	st, err := store.Open(cfg.StoreFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening account store: %v\n", err)
		os.Exit(1)
	}
	logger.Info("account store loaded", "path", cfg.StoreFile, "accounts", st.Len())

	coord, err := coordinator.New(cfg, st, logger, collector)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error starting coordinator: %v\n", err)
		os.Exit(1)
	}

	if err := coord.Run(ctx); err != nil && err != context.Canceled {
		fmt.Fprintf(os.Stderr, "coordinator error: %v\n", err)
		os.Exit(1)
	}
}
