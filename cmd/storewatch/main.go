// Package main wires together the storewatch service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/storewatch/internal/api"
	"github.com/JakeFAU/storewatch/internal/breaker"
	"github.com/JakeFAU/storewatch/internal/cache"
	"github.com/JakeFAU/storewatch/internal/classify"
	"github.com/JakeFAU/storewatch/internal/clock/system"
	"github.com/JakeFAU/storewatch/internal/config"
	"github.com/JakeFAU/storewatch/internal/detect"
	"github.com/JakeFAU/storewatch/internal/evidence"
	"github.com/JakeFAU/storewatch/internal/hash/sha256"
	"github.com/JakeFAU/storewatch/internal/id/uuid"
	"github.com/JakeFAU/storewatch/internal/logging"
	"github.com/JakeFAU/storewatch/internal/metrics"
	"github.com/JakeFAU/storewatch/internal/monitor"
	"github.com/JakeFAU/storewatch/internal/notify"
	pubsubpublisher "github.com/JakeFAU/storewatch/internal/notify/pubsub"
	"github.com/JakeFAU/storewatch/internal/probe"
	"github.com/JakeFAU/storewatch/internal/probe/foodpanda"
	"github.com/JakeFAU/storewatch/internal/probe/grabfood"
	"github.com/JakeFAU/storewatch/internal/render"
	"github.com/JakeFAU/storewatch/internal/review"
	"github.com/JakeFAU/storewatch/internal/scheduler"
	"github.com/JakeFAU/storewatch/internal/sku"
	memorystore "github.com/JakeFAU/storewatch/internal/storage/memory"
	"github.com/JakeFAU/storewatch/internal/storage/postgres"
	"github.com/JakeFAU/storewatch/internal/targets"
	"github.com/JakeFAU/storewatch/internal/telemetry"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	targetsPath := flag.String("targets", "", "Path to the target list (overrides monitor.targets_file)")
	once := flag.Bool("once", false, "Run a single cycle and exit")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	if *targetsPath != "" {
		cfg.Monitor.TargetsFile = *targetsPath
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *once, logger); err != nil {
		logger.Error("storewatch exited with error", zap.Error(err))
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, once bool, logger *zap.Logger) error {
	metrics.Init()
	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("trace shutdown failed", zap.Error(err))
		}
	}()
	clock := system.New()
	hasher := sha256.New()

	identities := probe.NewIdentityPool(cfg.Probe.UserAgents)
	resolveCache := cache.New[string, string](
		cfg.Probe.ResolveCacheSize,
		time.Duration(cfg.Probe.ResolveCacheTTLMin)*time.Minute,
	)
	resolver := probe.NewLinkResolver(
		time.Duration(cfg.Probe.ResolveTimeoutSeconds)*time.Second,
		resolveCache,
		identities,
	)
	registry := targets.New(cfg.Platforms.Rules, resolver, logger.Named("targets"))
	fleet, err := registry.LoadFile(ctx, cfg.Monitor.TargetsFile)
	if err != nil {
		return fmt.Errorf("load targets: %w", err)
	}

	store, ready, closeStore, err := buildStore(ctx, cfg.DB, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	blobs, err := buildBlobStore(ctx, cfg.Evidence)
	if err != nil {
		return err
	}
	var archive *evidence.Archive
	if blobs != nil {
		archive = evidence.NewArchive(blobs, hasher, cfg.Evidence.Prefix)
	}

	notifier, closeNotifier, err := buildNotifier(ctx, cfg.Notify, clock, logger)
	if err != nil {
		return err
	}
	defer closeNotifier()

	client := probe.NewClient(probe.Client{
		Fetcher:    probe.NewHTTPFetcher(probe.FetcherConfig{Timeout: cfg.ProbeTimeout()}),
		Identities: identities,
		Pacer: probe.NewPacer(
			time.Duration(cfg.Probe.MinDelayMs)*time.Millisecond,
			time.Duration(cfg.Probe.MaxDelayMs)*time.Millisecond,
		),
		Limiter: probe.NewLimiter(probe.LimiterConfig{
			DefaultRPS:   cfg.Probe.DefaultRPS,
			DefaultBurst: cfg.Probe.Burst,
			PlatformRPS:  cfg.PlatformRPS(),
		}),
		Retry: probe.RetryPolicy{
			MaxAttempts: cfg.Probe.MaxAttempts,
			BaseDelay:   time.Duration(cfg.Probe.BackoffBaseMs) * time.Millisecond,
			MaxDelay:    time.Duration(cfg.Probe.BackoffMaxMs) * time.Millisecond,
		},
		Clock:  clock,
		Logger: logger.Named("probe"),
	})

	var renderer monitor.Renderer
	if cfg.Render.Enabled {
		chrome, err := render.NewChromedp(render.Config{
			MaxParallel:       cfg.Render.MaxParallel,
			NavigationTimeout: time.Duration(cfg.Render.NavTimeoutSeconds) * time.Second,
			Settle:            time.Duration(cfg.Render.SettleMs) * time.Millisecond,
			AcceptLanguage:    cfg.Render.AcceptLanguage,
		}, logger)
		if err != nil {
			logger.Warn("renderer init failed, falling back to plain fetch", zap.Error(err))
		} else {
			defer chrome.Close()
			renderer = chrome
		}
	}

	var catalog *sku.Catalog
	if cfg.Monitor.CatalogFile != "" {
		catalog, err = sku.LoadCatalog(cfg.Monitor.CatalogFile)
		if err != nil {
			return fmt.Errorf("load catalog: %w", err)
		}
	}

	circuits := breaker.New(
		breaker.WithThreshold(cfg.Breaker.Threshold),
		breaker.WithCooldown(time.Duration(cfg.Breaker.CooldownSeconds)*time.Second),
		breaker.WithShards(cfg.Breaker.Shards),
		breaker.WithLogger(logger),
		breaker.WithTransitionHook(func(_ string, _, to breaker.State) {
			metrics.ObserveBreakerTransition(string(to))
		}),
	)

	sched, err := scheduler.New(scheduler.Config{
		Concurrency:  cfg.Monitor.Concurrency,
		ProbeTimeout: cfg.ProbeTimeout(),
		MaxAttempts:  cfg.Probe.MaxAttempts,
		Slack:        time.Duration(cfg.Monitor.SlackSeconds) * time.Second,
		CycleTimeout: time.Duration(cfg.Monitor.CycleTimeoutSeconds) * time.Second,
	}, scheduler.Deps{
		Probers: map[monitor.Platform]monitor.Prober{
			monitor.PlatformGrabFood:  grabfood.New(client, cfg.Platforms.GrabFoodEndpoint, logger),
			monitor.PlatformFoodpanda: foodpanda.New(client, renderer, logger),
		},
		Detector:   detect.New(hasher),
		Classifier: classify.New(cfg.Classifier),
		Breaker:    circuits,
		Store:      store,
		Notifier:   notifier,
		Archive:    archive,
		Catalog:    catalog,
		Matcher:    sku.NewMatcher(cfg.SKU.Threshold, cfg.SKU.StripTokens),
		IDs:        uuid.New(),
		Clock:      clock,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("build scheduler: %w", err)
	}

	fleet, err = sched.RegisterTargets(ctx, fleet)
	if err != nil {
		return err
	}
	logger.Info("targets registered", zap.Int("count", len(fleet)))

	if once {
		summary := sched.RunCycle(ctx, fleet)
		if catalog != nil {
			sched.RunSKUCycle(ctx, fleet)
		}
		logger.Info("single cycle complete",
			zap.Int("online", summary.Online()),
			zap.Int("offline", summary.Offline()))
		return nil
	}

	apiServer := api.NewServer(api.Deps{
		Review:   review.NewQueue(store, logger, sched),
		Cycles:   sched,
		Circuits: circuits,
		Targets:  fleet,
		Ready:    ready,
	}, cfg.Server, logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	loopCtx, cancelLoop := context.WithCancel(ctx)
	defer cancelLoop()
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		logger.Info("scheduler started",
			zap.Duration("interval", cfg.Interval()),
			zap.Duration("sku_interval", cfg.SKUInterval()))
		sched.Run(loopCtx, fleet, cfg.Interval(), cfg.SKUInterval())
	}()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		runErr = fmt.Errorf("http server: %w", err)
	}
	logger.Info("shutdown initiated")

	cancelLoop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	<-loopDone
	logger.Info("shutdown complete")
	return runErr
}

func buildStore(
	ctx context.Context,
	cfg config.DBConfig,
	logger *zap.Logger,
) (monitor.Store, func(context.Context) error, func(), error) {
	if cfg.DSN == "" {
		logger.Info("using in-memory store")
		return memorystore.NewStore(nil), nil, func() {}, nil
	}
	pg, err := postgres.New(ctx, postgres.Config{
		DSN:             cfg.DSN,
		MaxConns:        cfg.MaxConns,
		MinConns:        cfg.MinConns,
		MaxConnLifetime: time.Duration(cfg.MaxConnLifetimeMinutes) * time.Minute,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect store: %w", err)
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		pg.Close()
		return nil, nil, nil, err
	}
	logger.Info("using postgres store")
	return pg, pg.Ping, pg.Close, nil
}

func buildBlobStore(ctx context.Context, cfg config.EvidenceConfig) (monitor.BlobStore, error) {
	switch cfg.Backend {
	case "none":
		return nil, nil
	case "local":
		s, err := evidence.NewLocalStore(cfg.BaseDir)
		if err != nil {
			return nil, fmt.Errorf("local evidence store: %w", err)
		}
		return s, nil
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		s, err := evidence.NewGCSStore(client, cfg.Bucket)
		if err != nil {
			return nil, fmt.Errorf("gcs evidence store: %w", err)
		}
		return s, nil
	default:
		return evidence.NewMemoryStore(), nil
	}
}

func buildNotifier(
	ctx context.Context,
	cfg config.NotifyConfig,
	clock monitor.Clock,
	logger *zap.Logger,
) (monitor.Notifier, func(), error) {
	logNotifier := notify.NewLog(logger)
	if cfg.Backend != "pubsub" {
		return logNotifier, func() {}, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub client: %w", err)
	}
	topic := client.Topic(cfg.Topic)
	publishing, err := notify.NewPublishing(pubsubpublisher.New(topic), cfg.Topic, clock, logger)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	closeFn := func() {
		topic.Stop()
		if err := client.Close(); err != nil {
			logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	return notify.Multi{logNotifier, publishing}, closeFn, nil
}
