package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/capstack/origination/cmd/autofill-worker/worker"
	"github.com/capstack/origination/common/autofill"
	"github.com/capstack/origination/common/bootstrap"
	"github.com/capstack/origination/common/metrics"
	"github.com/capstack/origination/common/notify"
	"github.com/capstack/origination/common/store"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bootstrap service components
	components, err := bootstrap.Setup(ctx, "autofill-worker",
		bootstrap.WithoutCache(),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to setup service: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	log := components.Logger
	cfg := components.Config

	log.Info("autofill-worker starting")
	components.Telemetry.RecordEvent("host_profile", metrics.GetSystemInfo().ToMap())

	// Wire the run pipeline: load, extract, merge, persist, announce
	st := store.NewPostgresStore(components.DB, log)
	feed := notify.NewRedisFeed(components.Redis, log)
	extractor := autofill.NewHTTPExtractor(cfg, log)

	// A run gets the same budget as the slot reservation, so the slot
	// cannot expire under a run that is still making progress.
	orch := autofill.NewOrchestrator(st, extractor, feed, components.Bus, log, cfg.Autofill.JobTTL)

	autofillWorker := worker.NewAutofillWorker(components.Redis, orch, cfg, log)

	// Start worker in goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := autofillWorker.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("autofill worker error: %w", err)
		}
	}()

	log.Info("autofill-worker started successfully")

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		log.Error("worker failed", "error", err)
		components.Shutdown(ctx)
		os.Exit(1)
	case sig := <-sigChan:
		log.Info("received shutdown signal", "signal", sig.String())
		cancel()
	}

	log.Info("autofill-worker shutting down gracefully")
}
