package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"shortgen/internal/bootstrap"
	"shortgen/internal/dispatch"
	"shortgen/internal/http/handlers"
	httpapi "shortgen/internal/http/httpapi"
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to wire pipeline")
	}
	defer svc.Close()

	dispatcher, err := dispatch.New(cfg.DispatchWorkers, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to start dispatcher")
	}
	runner := pipeline.NewAsyncRunner(svc.Orchestrator, dispatcher, logger)
	gateway := pipeline.NewGateway(svc.Store, svc.Clips, svc.Resolver(runner), logger)

	// The worker binary cannot see an in-process store, so the API sweeps it.
	if cfg.StoreDriver == infra.StoreDriverMemory {
		wd, err := svc.Watchdog(runner)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: failed to configure watchdog")
		}
		defer wd.Close()
		go func() {
			if err := wd.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("api: watchdog stopped")
			}
		}()
	}

	app := handlers.NewApp(svc.Store, runner, gateway, svc.Signer, dispatcher, logger)
	opts := httpapi.Options{Logger: logger, RateLimitPerMin: cfg.RateLimitPerMin}
	if cfg.StorageDriver == infra.StorageDriverFilesystem {
		opts.StaticDir = cfg.StoragePath
	}
	server := infra.NewHTTPServer(cfg, httpapi.NewRouter(app, opts))

	go func() {
		logger.Info().Str("addr", server.Addr()).Str("clip_provider", cfg.ClipProvider).Msg("api listening")
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Warn().Err(err).Int("running", dispatcher.Running()).Msg("pipeline runs still in flight at shutdown")
	}
	logger.Info().Msg("server stopped")
}
