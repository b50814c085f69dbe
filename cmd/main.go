package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/MimeLyc/live-caption-translator/internal/config"
	"github.com/MimeLyc/live-caption-translator/internal/httpapi"
	"github.com/MimeLyc/live-caption-translator/internal/llm"
	"github.com/MimeLyc/live-caption-translator/internal/message"
	"github.com/MimeLyc/live-caption-translator/internal/overlay"
	"github.com/MimeLyc/live-caption-translator/internal/persistence"
	"github.com/MimeLyc/live-caption-translator/internal/router"
	"github.com/MimeLyc/live-caption-translator/internal/scraper"
	"github.com/MimeLyc/live-caption-translator/internal/translator"
	"github.com/MimeLyc/live-caption-translator/pkg/log"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Fatal("Failed to load .env: %v", err)
	}
	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}
	log.InitLogger(log.ParseLevel(cfg.System.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal("Exited with error: %v", err)
	}
	log.Info("Shutdown complete")
}

func run(ctx context.Context, cfg *config.Config) error {
	store, err := persistence.NewSQLiteStore(cfg.System.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	settings, err := config.NewRuntimeSettingsStore(ctx, store, cfg.Settings)
	if err != nil {
		return fmt.Errorf("load runtime settings: %w", err)
	}
	current := settings.GetRuntimeSettings()

	client, err := newTranslator(cfg)
	if err != nil {
		return fmt.Errorf("create translator: %w", err)
	}

	bus := message.NewBus()
	defer bus.Close()

	rt := router.New(client,
		router.WithStore(store),
		router.WithHistory(store),
		router.WithSettingsStore(settings),
		router.WithPublisher(bus),
		router.WithTimeout(cfg.Translator.Timeout),
		router.WithSettings(current.TranslationEnabled, current.TargetLanguage),
	)
	if err := rt.Init(ctx); err != nil {
		return fmt.Errorf("init router: %w", err)
	}
	rt.Register(bus)

	scheduler := cron.New()
	schedule := func(expr string) error {
		for _, entry := range scheduler.Entries() {
			scheduler.Remove(entry.ID)
		}
		return rt.Schedule(ctx, scheduler, expr)
	}
	if err := schedule(current.SelfCheckCron); err != nil {
		return err
	}

	ov := overlay.New(bus, overlay.WithSettings(overlay.Settings{
		ShowOriginal:   current.ShowOriginal,
		TargetLanguage: current.TargetLanguage,
		FontSize:       current.FontSize,
		Opacity:        current.Opacity,
	}))

	server := httpapi.NewServer(bus,
		httpapi.WithOverlay(ov),
		httpapi.WithRuntimeSettingsStore(settings),
		httpapi.WithCaptionHistory(store),
		httpapi.WithRuntimeSettingsApplier(func(next config.Settings) error {
			return schedule(next.SelfCheckCron)
		}),
	)

	workers := []func(context.Context) error{
		func(ctx context.Context) error {
			return ov.Run(ctx, bus, "overlay")
		},
	}
	for _, src := range cfg.Sources {
		engine, err := newEngine(src, bus)
		if err != nil {
			return err
		}
		workers = append(workers, engine.Run)
	}

	err = runWithComponents(ctx, cfg.HTTP.Addr, scheduler, server, workers...)
	rt.Wait()
	return err
}

type cronEngine interface {
	Start()
	Stop() context.Context
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

// runWithComponents starts the scheduler, the workers and the HTTP server
// and blocks until ctx is done or one of them fails.
func runWithComponents(
	ctx context.Context,
	addr string,
	scheduler cronEngine,
	httpSrv httpServer,
	workers ...func(context.Context) error,
) error {
	scheduler.Start()
	defer scheduler.Stop()

	g, gctx := errgroup.WithContext(ctx)
	for _, work := range workers {
		g.Go(func() error {
			return work(gctx)
		})
	}

	g.Go(func() error {
		log.Info("HTTP API listening on %s", addr)
		if err := httpSrv.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// newTranslator builds the cached translator for the configured backend.
func newTranslator(cfg *config.Config) (*translator.Client, error) {
	opts := []translator.Option{
		translator.WithCache(translator.NewMemoryCache()),
		translator.WithRateLimit(cfg.Translator.RPS, cfg.Translator.Burst),
	}
	if cfg.Translator.Backend == config.BackendLLM {
		backend, err := llm.NewClient(&llm.Config{
			APIKey:      cfg.LLM.APIKey,
			APIURL:      cfg.LLM.APIURL,
			Model:       cfg.LLM.Model,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
			Timeout:     cfg.LLM.Timeout,
			AppName:     cfg.LLM.AppName,
		})
		if err != nil {
			return nil, err
		}
		log.Info("Translating with %s via %s", cfg.LLM.Model, cfg.LLM.APIURL)
		return translator.NewClient(nil, append(opts, translator.WithBackend(backend))...)
	}
	return translator.NewClient(&translator.Config{
		APIURL:  cfg.Translator.APIURL,
		APIKey:  cfg.Translator.APIKey,
		Region:  cfg.Translator.Region,
		Timeout: int(cfg.Translator.Timeout / time.Second),
	}, opts...)
}

func newEngine(src config.Source, bus *message.Bus) (*scraper.Engine, error) {
	platformCfg, ok := scraper.ConfigFor(src.Platform)
	if !ok {
		return nil, fmt.Errorf("no scraper for platform %s", src.Platform)
	}
	page, err := scraper.NewHTTPPage(src.URL, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("caption source %s: %w", src.URL, err)
	}
	return scraper.NewEngine(platformCfg, page, bus, scraper.WithAnnouncement(true))
}
