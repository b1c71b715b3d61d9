package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zeusync/smartspawner/internal/config"
	"github.com/zeusync/smartspawner/internal/core/observability/log"
	"github.com/zeusync/smartspawner/internal/injector"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to config.yaml (defaults when empty)")
		addr       = flag.String("addr", "", "http listen address (overrides config)")
		dbPath     = flag.String("db", "", "sqlite database path (overrides config)")
		grace      = flag.Duration("shutdown_timeout", 10*time.Second, "graceful shutdown timeout")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error loading config:", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}
	if *dbPath != "" {
		cfg.Storage.Path = *dbPath
	}

	app, err := injector.InitializeApp(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error initializing:", err)
		os.Exit(1)
	}
	logger := app.Logger.Named("main")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Start the server
	if err = app.Start(ctx); err != nil {
		logger.Error("Error starting", log.Error(err))
		_ = app.Stop(context.Background())
		os.Exit(1)
	}
	logger.Info("Running", log.String("addr", app.Server.Addr().String()), log.String("db", cfg.Storage.Path))

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), *grace)
	defer stopCancel()
	if err = app.Stop(stopCtx); err != nil {
		logger.Error("Error stopping", log.Error(err))
		os.Exit(1)
	}
}
