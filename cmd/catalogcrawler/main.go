// Package main wires together the catalog crawler service binary.
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

	gpubsub "cloud.google.com/go/pubsub"
	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/dealhound/catalog-crawler/internal/api"
	"github.com/dealhound/catalog-crawler/internal/catalog"
	"github.com/dealhound/catalog-crawler/internal/clock/system"
	"github.com/dealhound/catalog-crawler/internal/config"
	"github.com/dealhound/catalog-crawler/internal/engine"
	"github.com/dealhound/catalog-crawler/internal/logging"
	"github.com/dealhound/catalog-crawler/internal/metrics"
	"github.com/dealhound/catalog-crawler/internal/partnerapi"
	pubsubpublisher "github.com/dealhound/catalog-crawler/internal/publisher/pubsub"
	gcsstorage "github.com/dealhound/catalog-crawler/internal/storage/gcs"
	localstorage "github.com/dealhound/catalog-crawler/internal/storage/local"
	memorystorage "github.com/dealhound/catalog-crawler/internal/storage/memory"
	"github.com/dealhound/catalog-crawler/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.NewWithLevel(cfg.Logging.Development, cfg.Logging.Level)
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

	var store catalog.Store
	if cfg.DB.DSN != "" {
		pgStore, err := postgres.NewCatalogStore(ctx, postgres.CatalogStoreConfig{
			DSN:             cfg.DB.DSN,
			MaxConns:        int32(cfg.DB.MaxConns),
			MinConns:        int32(cfg.DB.MinConns),
			MaxConnLifetime: time.Duration(cfg.DB.MaxConnLifetimeMins) * time.Minute,
		}, clock, logger.Named("postgres"))
		if err != nil {
			logger.Fatal("connect database failed", zap.Error(err))
		}
		defer pgStore.Close()
		store = pgStore
	} else {
		logger.Warn("db.dsn not set, using in-memory store")
		store = memorystorage.NewCatalogStore(clock)
	}

	var blobs catalog.BlobStore
	switch cfg.Storage.Provider {
	case "gcs":
		gcs, err := gcsclient.NewClient(ctx)
		if err != nil {
			logger.Fatal("gcs client init failed", zap.Error(err))
		}
		defer gcs.Close()
		gcsBlobs, err := gcsstorage.New(gcs, gcsstorage.Config{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			logger.Fatal("gcs blob store init failed", zap.Error(err))
		}
		blobs = gcsBlobs
	case "local":
		local, err := localstorage.New(localstorage.Config{BaseDir: cfg.Storage.LocalDir})
		if err != nil {
			logger.Fatal("local blob store init failed", zap.Error(err))
		}
		blobs = local
	case "memory":
		blobs = memorystorage.NewBlobStore()
	}

	var publisher catalog.Publisher
	if cfg.PubSub.Enabled {
		psClient, err := gpubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("pubsub client init failed", zap.Error(err))
		}
		defer psClient.Close()
		psPublisher, err := pubsubpublisher.New(psClient)
		if err != nil {
			logger.Fatal("pubsub publisher init failed", zap.Error(err))
		}
		publisher = psPublisher
	}

	apiClient, err := partnerapi.New(partnerapi.Config{
		BaseURL:     cfg.API.BaseURL,
		UserAgent:   cfg.API.UserAgent,
		Timeout:     cfg.APITimeout(),
		MaxAttempts: cfg.API.MaxAttempts,
		BaseDelay:   cfg.APIDelay(),
	}, logger.Named("partnerapi"))
	if err != nil {
		logger.Fatal("api client init failed", zap.Error(err))
	}

	eng := engine.New(apiClient, store, publisher, blobs, clock, engine.Config{
		BreakerThreshold: cfg.Crawler.BreakerThreshold,
		EventTopic:       cfg.Crawler.EventTopic,
		ArchivePrefix:    cfg.Crawler.ArchivePrefix,
	}, logger.Named("engine"))

	apiServer := api.NewServer(ctx, eng, apiClient, api.Config{
		RequestTimeout: cfg.RequestTimeout(),
	}, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	eng.RequestStop()
	eng.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
