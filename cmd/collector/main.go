// Package main wires together the collector service binary.
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

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/asolovev/wb-collector/internal/api"
	"github.com/asolovev/wb-collector/internal/auth"
	"github.com/asolovev/wb-collector/internal/cache"
	"github.com/asolovev/wb-collector/internal/clock/system"
	"github.com/asolovev/wb-collector/internal/collector"
	"github.com/asolovev/wb-collector/internal/config"
	"github.com/asolovev/wb-collector/internal/dispatcher"
	collyfetcher "github.com/asolovev/wb-collector/internal/fetcher/colly"
	"github.com/asolovev/wb-collector/internal/id/uuid"
	"github.com/asolovev/wb-collector/internal/identity"
	"github.com/asolovev/wb-collector/internal/logging"
	"github.com/asolovev/wb-collector/internal/metrics"
	"github.com/asolovev/wb-collector/internal/proxypool"
	memorypublisher "github.com/asolovev/wb-collector/internal/publisher/memory"
	pubsubpublisher "github.com/asolovev/wb-collector/internal/publisher/pubsub"
	"github.com/asolovev/wb-collector/internal/queue"
	"github.com/asolovev/wb-collector/internal/router"
	memorystorage "github.com/asolovev/wb-collector/internal/storage/memory"
	"github.com/asolovev/wb-collector/internal/storage/postgres"
	"github.com/asolovev/wb-collector/internal/wb"
	"github.com/asolovev/wb-collector/internal/worker"
	"github.com/asolovev/wb-collector/internal/ws"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
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
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	idGen := uuid.New()

	var (
		taskStore     collector.TaskStore
		proxyStore    collector.ProxyStore
		identityStore collector.IdentityStore
		catalogStore  collector.CatalogStore
	)
	if cfg.DB.DSN == "" {
		logger.Info("db.dsn not set, using in-memory stores")
		taskStore = memorystorage.NewTaskStore(clock)
		proxyStore = memorystorage.NewProxyStore(nil)
		identityStore = memorystorage.NewIdentityStore()
		catalogStore = memorystorage.NewCatalogStore()
	} else {
		pool, err := postgres.Connect(ctx, cfg.DB)
		if err != nil {
			logger.Fatal("database connect failed", zap.Error(err))
		}
		defer pool.Close()
		if taskStore, err = postgres.NewTaskStore(pool); err != nil {
			logger.Fatal("task store init failed", zap.Error(err))
		}
		if proxyStore, err = postgres.NewProxyStore(pool); err != nil {
			logger.Fatal("proxy store init failed", zap.Error(err))
		}
		if identityStore, err = postgres.NewIdentityStore(pool); err != nil {
			logger.Fatal("identity store init failed", zap.Error(err))
		}
		if catalogStore, err = postgres.NewCatalogStore(pool); err != nil {
			logger.Fatal("catalog store init failed", zap.Error(err))
		}
	}

	var publisher collector.EventPublisher
	switch cfg.Publisher.Provider {
	case "pubsub":
		pub, err := pubsubpublisher.New(ctx, cfg.Publisher.ProjectID, cfg.Publisher.TopicName)
		if err != nil {
			logger.Fatal("pubsub publisher init failed", zap.Error(err))
		}
		defer func() {
			if closeErr := pub.Close(); closeErr != nil {
				logger.Warn("pubsub publisher close failed", zap.Error(closeErr))
			}
		}()
		publisher = pub
	case "memory":
		publisher = memorypublisher.New()
	default:
		// noop: task completion events stay internal.
	}

	fetcher := collyfetcher.New()

	proxies := proxypool.New(proxyStore, clock, logger, cfg.Proxy)
	if err := proxies.Load(ctx); err != nil {
		logger.Warn("initial proxy load failed", zap.Error(err))
	}
	go proxies.Run(ctx)
	go proxies.Check(ctx, fetcher)

	identities := identity.New(identityStore, clock, logger, cfg.Identity)
	if err := identities.Load(ctx); err != nil {
		logger.Warn("initial identity load failed", zap.Error(err))
	}
	go identities.Run(ctx)

	respCache := cache.New(clock, nil)

	handlerDeps := wb.Deps{
		Fetcher:    fetcher,
		Proxies:    proxies,
		Identities: identities,
		Cache:      respCache,
		Catalog:    catalogStore,
		Endpoints:  wb.EndpointsFromConfig(cfg.Fetch),
		Logger:     logger,
	}
	handlers := map[collector.QueryKind]collector.Handler{
		collector.KindSuggest: wb.NewSuggestHandler(handlerDeps),
		collector.KindSearch:  wb.NewSearchHandler(handlerDeps),
		collector.KindProduct: wb.NewProductHandler(handlerDeps),
		collector.KindBrand:   wb.NewBrandHandler(handlerDeps),
		collector.KindSeller:  wb.NewSellerHandler(handlerDeps),
	}
	rtr := router.New(handlers, idGen, logger)

	taskQueue := queue.NewMemory(cfg.Queue.Depth)
	limit := rate.Limit(float64(cfg.Queue.RateMax) / cfg.Queue.RateWindow().Seconds())
	limiter := rate.NewLimiter(limit, cfg.Queue.RateMax)

	workers := make([]*worker.Worker, 0, cfg.Queue.Concurrency)
	for i := 0; i < cfg.Queue.Concurrency; i++ {
		workers = append(workers, worker.New(
			i,
			taskQueue,
			taskStore,
			rtr,
			publisher,
			cfg.Publisher.TopicName,
			limiter,
			logger,
		))
	}
	dispatch := dispatcher.New(taskQueue, taskStore, idGen, clock, cfg.Queue.DefaultPriority, workers, logger)

	var verifier collector.Authenticator = auth.AnonymousVerifier{}
	if cfg.Auth.Enabled && cfg.Auth.JWTSecret != "" {
		jwtVerifier, err := auth.NewJWTVerifier(cfg.Auth.JWTSecret)
		if err != nil {
			logger.Fatal("jwt verifier init failed", zap.Error(err))
		}
		verifier = jwtVerifier
	}
	realtime := ws.New(verifier, rtr, dispatch, clock, logger)

	apiServer := api.NewServer(api.Deps{
		Tasks:      taskStore,
		Submitter:  dispatch,
		Queue:      taskQueue,
		Cache:      respCache,
		Proxies:    proxies,
		Identities: identities,
		Realtime:   realtime,
		CheckProxies: func(ctx context.Context) {
			proxies.Check(ctx, fetcher)
		},
		Logger: logger,
	}, cfg)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("worker pool started", zap.Int("concurrency", cfg.Queue.Concurrency))
		dispatch.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
