// Package bootstrap assembles the pipeline from configuration for the binaries.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"shortgen/internal/adapter/memstore"
	"shortgen/internal/adapter/repo"
	"shortgen/internal/domain"
	"shortgen/internal/infra"
	"shortgen/internal/infra/credentials"
	"shortgen/internal/lock"
	"shortgen/internal/pipeline"
	"shortgen/internal/providers/assembly"
	"shortgen/internal/providers/callguard"
	"shortgen/internal/providers/speech"
	"shortgen/internal/providers/text"
	"shortgen/internal/providers/video"
	"shortgen/internal/storage"
)

const (
	TextProviderSynthetic = "synthetic"
	TextProviderOpenAI    = "openai"

	syntheticClipDelay = 3 * time.Second
)

// Services holds everything the binaries share.
type Services struct {
	Config *infra.Config
	Logger zerolog.Logger

	Store       domain.Store
	SQL         infra.SQLExecutor
	Credentials *credentials.Store
	Locker      lock.Locker
	Media       *storage.Rehoster
	Clips       *video.Registry
	Guards      *callguard.Set
	Signer      *pipeline.CallbackSigner
	Events      *pipeline.Emitter

	Orchestrator *pipeline.Orchestrator

	closers []func()
}

// Build connects the configured backends and wires the orchestrator.
func Build(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) (_ *Services, err error) {
	s := &Services{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	if err := s.openStore(ctx); err != nil {
		return nil, err
	}
	if err := s.openLocker(ctx); err != nil {
		return nil, err
	}
	if err := s.openMedia(); err != nil {
		return nil, err
	}

	s.Signer, err = pipeline.NewCallbackSigner(cfg.PublicBaseURL, cfg.WebhookSecret)
	if err != nil {
		return nil, err
	}
	s.Guards = callguard.NewSet(callguard.DefaultPolicy(), logger)
	s.Events = pipeline.NewEmitter(s.Store.Events, logger)

	completer, err := s.textProvider(ctx)
	if err != nil {
		return nil, err
	}
	if s.Clips, err = s.clipProviders(ctx); err != nil {
		return nil, err
	}

	steps := pipeline.NewSteps(pipeline.StepDeps{
		Store:     s.Store,
		Text:      completer,
		Speech:    speech.NewSyntheticSynthesizer(),
		Clips:     s.Clips,
		Assembler: assembly.NewManifestAssembler(),
		Media:     s.Media,
		Guards:    s.Guards,
		Signer:    s.Signer,
		Events:    s.Events,
		Logger:    logger,
	})
	s.Orchestrator, err = pipeline.NewOrchestrator(s.Store, s.Locker, steps, s.Events, pipeline.Config{
		MaxResumes: cfg.PipelineMaxResumes,
		LockWait:   cfg.PipelineLockWait,
	}, logger)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Resolver returns a clip resolver that continues jobs through runner.
func (s *Services) Resolver(runner pipeline.Runner) *pipeline.ClipResolver {
	return pipeline.NewClipResolver(s.Store, s.Media, s.Events, runner, s.Logger)
}

// Watchdog builds the reconciler, continuing jobs through runner.
func (s *Services) Watchdog(runner pipeline.Runner) (*pipeline.Watchdog, error) {
	cfg := s.Config
	return pipeline.NewWatchdog(pipeline.WatchdogDeps{
		Store:    s.Store,
		Clips:    s.Clips,
		Guards:   s.Guards,
		Resolver: s.Resolver(runner),
		Runner:   runner,
		Locker:   s.Locker,
		Logger:   s.Logger,
	}, pipeline.WatchdogConfig{
		Interval:      cfg.WatchdogInterval,
		MaxPendingAge: cfg.WatchdogMaxPendingAge,
		StallAfter:    cfg.WatchdogStallAfter,
		Workers:       cfg.WatchdogWorkers,
	})
}

// Close releases connections in reverse order of opening.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

func (s *Services) openStore(ctx context.Context) error {
	if s.Config.StoreDriver == infra.StoreDriverMemory {
		s.Logger.Warn().Msg("using in-memory store; state is lost on restart")
		s.Store = memstore.New().Repositories()
		return nil
	}
	pool, err := infra.NewDBPool(ctx, s.Config)
	if err != nil {
		return err
	}
	s.closers = append(s.closers, pool.Close)
	s.SQL = infra.NewSQLRunner(pool, s.Logger)
	s.Store = repo.NewStore(s.SQL)
	s.Credentials = credentials.NewStore(s.SQL)
	return nil
}

func (s *Services) openLocker(ctx context.Context) error {
	rc, err := infra.NewRedisClient(ctx, s.Config)
	if err != nil {
		return err
	}
	if rc == nil {
		s.Locker = lock.NewMemory()
		return nil
	}
	s.closers = append(s.closers, func() { _ = rc.Close() })
	s.Locker = lock.NewRedis(rc, s.Logger)
	return nil
}

func (s *Services) openMedia() error {
	cfg := s.Config
	client := &http.Client{Timeout: 2 * time.Minute}
	switch cfg.StorageDriver {
	case infra.StorageDriverS3:
		store, err := storage.NewS3StoreFromConfig(storage.S3Config{
			Bucket:   cfg.S3Bucket,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
		}, s.Logger)
		if err != nil {
			return err
		}
		s.Media = storage.NewRehoster(store, client)
	default:
		store, err := storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
		if err != nil {
			return err
		}
		s.Media = storage.NewRehoster(store, client)
	}
	return nil
}

func (s *Services) textProvider(ctx context.Context) (text.Completer, error) {
	cfg := s.Config
	switch cfg.TextProvider {
	case TextProviderSynthetic:
		return text.NewSyntheticCompleter(), nil
	case TextProviderOpenAI:
		key, err := s.Credentials.Resolve(ctx, credentials.ProviderText, cfg.TextAPIKey)
		if err != nil {
			s.Logger.Warn().Err(err).Msg("load text provider key from store")
		}
		if key == "" {
			s.Logger.Warn().Str("model", cfg.TextModel).Msg("text api key missing, using synthetic completions")
			return text.NewSyntheticCompleter(), nil
		}
		c, err := text.NewOpenAICompleter(text.OpenAIOptions{
			APIKey:     key,
			Model:      cfg.TextModel,
			BaseURL:    cfg.TextBaseURL,
			HTTPClient: &http.Client{Timeout: 90 * time.Second},
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("%w: unsupported TEXT_PROVIDER %q", domain.ErrMisconfigured, cfg.TextProvider)
	}
}

// clipProviders registers every provider that can be built so webhooks and
// the watchdog keep working for clips submitted before a provider switch.
func (s *Services) clipProviders(ctx context.Context) (*video.Registry, error) {
	cfg := s.Config
	reg := video.NewRegistry()
	reg.Register(video.NewSyntheticCallback(video.SyntheticCallbackOptions{
		ConcurrencyLimit: cfg.ClipConcurrency,
		Delay:            syntheticClipDelay,
		Notify:           true,
		Logger:           s.Logger,
	}))
	reg.Register(video.NewSyntheticPolling(video.PollPolicy{
		Interval: cfg.ClipPollInterval,
		Timeout:  cfg.ClipPollTimeout,
	}, 3))

	if cfg.ClipBaseURL != "" {
		key, err := s.Credentials.Resolve(ctx, credentials.ProviderClip, cfg.ClipAPIKey)
		if err != nil {
			s.Logger.Warn().Err(err).Msg("load clip provider key from store")
		}
		hc, err := video.NewHTTPCallback(video.HTTPCallbackOptions{
			BaseURL:          cfg.ClipBaseURL,
			APIKey:           key,
			ConcurrencyLimit: cfg.ClipConcurrency,
			HTTPClient:       &http.Client{Timeout: 60 * time.Second},
		})
		if err != nil {
			return nil, err
		}
		reg.Register(hc)
	}

	if err := reg.SetActive(cfg.ClipProvider); err != nil {
		return nil, err
	}
	s.Logger.Info().Str("provider", cfg.ClipProvider).Strs("registered", reg.Names()).Msg("clip providers ready")
	return reg, nil
}
