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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dkeye/voiceplay/internal/adapters/engine"
	router "github.com/dkeye/voiceplay/internal/adapters/http"
	"github.com/dkeye/voiceplay/internal/adapters/notify"
	"github.com/dkeye/voiceplay/internal/app"
	"github.com/dkeye/voiceplay/internal/app/orch"
	"github.com/dkeye/voiceplay/internal/config"
	"github.com/dkeye/voiceplay/internal/core"
	"github.com/dkeye/voiceplay/internal/media"
	"github.com/dkeye/voiceplay/internal/metrics"
	"github.com/dkeye/voiceplay/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	flags := pflag.NewFlagSet("voiceplay", pflag.ExitOnError)
	configFile := flags.String("config", config.FileName(), "path to the yaml config")
	flags.Int("port", 8080, "http listen port")
	flags.String("log-level", "info", "trace, debug, info, warn or error")
	_ = flags.Parse(os.Args[1:])

	v := viper.New()
	_ = v.BindPFlag("port", flags.Lookup("port"))
	_ = v.BindPFlag("log.level", flags.Lookup("log-level"))

	cfg, err := config.Load(v, *configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogging(cfg.Log)

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
	log.Info().Msg("Server exited gracefully")
}

func setupLogging(cfg config.LogConfig) {
	if !cfg.Pretty {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	if lvl, err := zerolog.ParseLevel(cfg.Level); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	st, err := store.New(cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	resolver, err := buildResolver(ctx, cfg, m)
	if err != nil {
		return err
	}

	dispatcher := app.NewDispatcher()
	defer dispatcher.Close()

	clients := make([]core.Transport, 0, len(cfg.Engine.Assistants))
	for _, url := range cfg.Engine.Assistants {
		c := engine.NewClient(url, dispatcher, engine.Options{
			PingPeriod:  cfg.Engine.PingPeriod,
			CallTimeout: cfg.Engine.CallTimeout,
			ReadLimit:   cfg.Engine.ReadLimit,
		})
		go c.Run(ctx)
		clients = append(clients, c)
	}
	if len(clients) == 0 {
		log.Warn().Str("module", "main").Msg("no engine assistants configured, play requests will fail")
	}
	pool := app.NewAssistantPool(st, clients...)

	policy := app.SimplePolicy{}
	hub := notify.NewHub(policy)
	defer hub.Close()

	o := orch.New(orch.Deps{
		Assistants: pool,
		Clients:    pool,
		Resolver:   resolver,
		Store:      st,
		Observer:   core.Observers{core.LogObserver{}, hub},
		Policy:     policy,
		Recorder:   m,
		Active:     m.SessionsActive(),
	})
	o.BindEvents(dispatcher)
	o.Reconcile(ctx)

	limiter := router.NewRequesterRateLimiter(cfg.RateLimit.Limit, cfg.RateLimit.Interval)
	var catalog router.Catalog
	if cfg.Catalog.Enabled {
		catalog = media.NewCatalog(cfg.Extractor.Binary, cfg.Catalog.Timeout, media.ExecRunner{})
	}
	handlers := router.NewHandlers(o, hub, limiter, catalog, cfg.Catalog.PlaylistLimit)
	r := router.SetupRouter(cfg, handlers, reg, log.Logger)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("voiceplay server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	o.StopAll(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	return nil
}

func buildResolver(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*media.Resolver, error) {
	cache, err := media.NewCache(cfg.Cache.Dir, cfg.Cache.MinSize, m)
	if err != nil {
		return nil, err
	}
	strategies := []media.Strategy{media.NewCacheStrategy(cache)}
	client := &http.Client{}

	if cfg.Bypass.Enabled {
		ep := media.NewEndpoint(cfg.Bypass.BaseURL)
		if cfg.Bypass.DiscoveryURL != "" {
			if err := ep.Discover(ctx, client, cfg.Bypass.DiscoveryURL, cfg.Bypass.DiscoveryTimeout); err != nil {
				log.Warn().Err(err).Str("module", "main").Str("base", ep.Base()).Msg("endpoint discovery failed, using default")
			}
		}
		opts := media.BypassOptions{
			Mode:            cfg.Bypass.Mode,
			QueryTimeout:    cfg.Bypass.QueryTimeout,
			TransferTimeout: cfg.Bypass.TransferTimeout,
		}
		strategies = append(strategies, media.NewPrimarySource(ep, cache, client, opts))
		if len(cfg.Bypass.Mirrors) > 0 {
			strategies = append(strategies, media.NewMirrorSet(cfg.Bypass.Mirrors, cache, client, opts))
		}
	}

	if cfg.Extractor.Enabled {
		creds, err := media.LoadCredentials(cfg.Credentials.Dir, m)
		if err != nil {
			log.Warn().Err(err).Str("module", "main").Msg("no credentials loaded")
			creds = media.NewCredentialPool()
		}
		strategies = append(strategies, media.NewExtractor(cfg.Extractor.Binary, cfg.Extractor.Timeout, cache, creds, media.ExecRunner{}))
	}

	return media.NewResolver(cache, cfg.Cache.Limit, m, strategies...), nil
}
