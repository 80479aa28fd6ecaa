package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"linkcheck/internal/api"
	"linkcheck/internal/config"
	"linkcheck/internal/exclusion"
	identhttp "linkcheck/internal/identstore/http"
	"linkcheck/internal/loop"
	"linkcheck/internal/rowstore"
	"linkcheck/internal/rowstore/postgres"
	"linkcheck/internal/rowstore/sqlite"
	"linkcheck/internal/verdictsink"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("application failed: %v", err)
	}
	log.Println("application shut down gracefully")
}

// passthroughResolver treats an exclusion file's username column as already
// being the owner handle. This repo does not implement identity
// resolution (spec's §1 out-of-scope collaborator); a deployment with a
// real username-to-owner mapping supplies its own exclusion.OwnerResolver.
type passthroughResolver struct{}

func (passthroughResolver) OwnerForUsername(username string) (string, bool) {
	if username == "" {
		return "", false
	}
	return username, true
}

func run() error {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: link-checker <exclusion-file>")
		os.Exit(1)
	}
	exclusionFile := os.Args[1]

	cfg := config.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Printf("initializing %s row store connection...", cfg.DatabaseDriver)
	rows, closeRows, err := openRowStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize row store: %w", err)
	}
	defer closeRows()
	log.Println("row store connection successful")

	log.Println("initializing notification sink...")
	sink, err := verdictsink.NewSQLiteSink(ctx, cfg.NotificationsDatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize notification sink: %w", err)
	}
	defer sink.Close()

	source := identhttp.New(cfg.IdentifierStoreURL, cfg.IdentifierStoreAPIKey)
	excl := exclusion.New(exclusionFile, passthroughResolver{})
	if err := excl.Refresh(time.Now()); err != nil {
		log.Printf("initial exclusion refresh: %v", err)
	}

	loopSvc := loop.New(cfg, rows, source, excl, sink)
	apiServer := api.NewServer(cfg.OperatorPort, loopSvc, sink)

	go loopSvc.Run(ctx)
	apiServer.Start()

	log.Println("application is running...")
	<-ctx.Done()

	log.Println("shutdown signal received, starting graceful shutdown...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown error: %w", err)
	}

	return nil
}

// historyCap sizes a row's verdict ring one past the notification
// threshold, so a run of NotifyThresh+1 consecutive failures both fits in
// the ring and satisfies row.Row.NotificationWorthy's strict inequality.
func historyCap(cfg *config.Config) int {
	return cfg.NotifyThresh + 1
}

func openRowStore(ctx context.Context, cfg *config.Config) (rowstore.Store, func() error, error) {
	switch cfg.DatabaseDriver {
	case "postgres":
		store, err := postgres.New(ctx, cfg.DatabaseURL, historyCap(cfg))
		if err != nil {
			return nil, nil, err
		}
		return store, func() error { store.Close(); return nil }, nil
	default:
		store, err := sqlite.New(ctx, cfg.DatabaseURL, historyCap(cfg))
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	}
}
