package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"shortgen/internal/bootstrap"
	"shortgen/internal/dispatch"
	"shortgen/internal/infra"
	"shortgen/internal/pipeline"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	if cfg.StoreDriver == infra.StoreDriverMemory {
		logger.Fatal().Msg("worker: STORE_DRIVER=memory is private to the api process; the api runs its own watchdog")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to wire pipeline")
	}
	defer svc.Close()

	// Continuations started by the watchdog run here, off the sweep goroutines.
	dispatcher, err := dispatch.New(cfg.DispatchWorkers, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to start dispatcher")
	}
	runner := pipeline.NewAsyncRunner(svc.Orchestrator, dispatcher, logger)

	wd, err := svc.Watchdog(runner)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure watchdog")
	}
	defer wd.Close()

	logger.Info().
		Dur("interval", cfg.WatchdogInterval).
		Dur("max_pending_age", cfg.WatchdogMaxPendingAge).
		Msg("worker: started")
	if err := wd.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker: stopped with error")
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := dispatcher.Close(drainCtx); err != nil {
		logger.Warn().Err(err).Msg("worker: runs still in flight at shutdown")
	}
	logger.Info().Msg("worker: stopped")
}
