package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"

	"github.com/buildsense/buildsense-backend/internal/api/rest"
	"github.com/buildsense/buildsense-backend/internal/api/websocket"
	"github.com/buildsense/buildsense-backend/internal/config"
	"github.com/buildsense/buildsense-backend/internal/engine/cache"
	"github.com/buildsense/buildsense-backend/internal/engine/classify"
	"github.com/buildsense/buildsense-backend/internal/engine/confidence"
	"github.com/buildsense/buildsense-backend/internal/engine/correlate"
	"github.com/buildsense/buildsense-backend/internal/engine/risk"
	"github.com/buildsense/buildsense-backend/internal/ingest"
	"github.com/buildsense/buildsense-backend/internal/models"
	"github.com/buildsense/buildsense-backend/internal/pkg/logger"
	"github.com/buildsense/buildsense-backend/internal/pkg/tracing"
	"github.com/buildsense/buildsense-backend/internal/repository"
	"github.com/buildsense/buildsense-backend/internal/service"
	"github.com/buildsense/buildsense-backend/migrations"
)

func main() {
	log.Println("🚀 BuildSense detection engine starting...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}
	log.Printf("📋 Configuration loaded: port=%d, db=%s", cfg.Port, cfg.DBDriver)

	slogger := logger.StdLogger()

	// Tracing (no-op when endpoint is empty)
	shutdownTracing, err := tracing.Init("buildsense-detection", cfg.OTLPEndpoint, cfg.TraceSamplingRate)
	if err != nil {
		log.Printf("⚠️  Warning: Failed to init tracing: %v", err)
		shutdownTracing = func() {}
	}
	defer shutdownTracing()

	// Storage
	log.Println("💾 Initializing database...")
	var repo repository.Repository
	switch cfg.DBDriver {
	case "postgres":
		repo, err = repository.NewPostgresRepository(cfg.DatabaseDSN)
	default:
		repo, err = repository.NewSQLiteRepository(cfg.DatabaseDSN)
	}
	if err != nil {
		log.Fatalf("❌ Failed to initialize database: %v", err)
	}
	defer repo.Close()

	migrationSQL, err := migrations.FS.ReadFile("001_initial_schema.sql")
	if err != nil {
		log.Fatalf("❌ Could not read embedded migration: %v", err)
	}
	if err := repo.RunMigrations(string(migrationSQL)); err != nil {
		log.Fatalf("❌ Failed to run migrations: %v", err)
	}
	log.Println("✅ Database migrations completed")

	// Optional Redis read-through cache for reading windows
	var store repository.ReadingStore = repo
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		store = repository.NewCachedReadingStore(store, redisClient, time.Duration(cfg.RedisCacheTTLSec)*time.Second)
		log.Printf("✅ Redis reading cache enabled at %s", cfg.RedisAddr)
	}

	// Engine stages
	classifier := classify.New(classify.Config{
		SigmaThreshold:        cfg.SigmaThreshold,
		MinReadings:           cfg.MinReadings,
		MinSustainedDuration:  time.Duration(cfg.MinSustainedDurationSec) * time.Second,
		IntermittentRate:      cfg.IntermittentRate,
		DegradationWindows:    cfg.DegradationWindows,
		DegradationDriftSigma: cfg.DegradationDriftSigma,
		CascadeWindow:         time.Duration(cfg.CascadeWindowSec) * time.Second,
	})
	scorer := risk.New(risk.Config{
		Weights: risk.Weights{
			Severity:    cfg.RiskWeightSeverity,
			DataQuality: cfg.RiskWeightDataQuality,
			Temporal:    cfg.RiskWeightTemporal,
			Impact:      cfg.RiskWeightImpact,
		},
	})
	analyzer := correlate.New(correlate.Config{
		MinOverlap:      cfg.MinOverlap,
		ZScoreThreshold: cfg.ZScoreThreshold,
	})
	confEngine := confidence.New(confidence.Config{
		MinSampleSize: cfg.MinSampleSize,
	})
	resultCache := cache.New[*models.DetectionResult](cache.Config{
		TTL:            time.Duration(cfg.CacheTTLSec) * time.Second,
		Capacity:       cfg.CacheCapacity,
		ComputeTimeout: time.Duration(cfg.ComputeTimeoutSec) * time.Second,
	})
	defer resultCache.Close()

	// WebSocket alert hub
	wsHub := websocket.NewHub(ctx)
	go wsHub.Run()
	log.Println("✅ WebSocket hub started")

	detectionService := service.NewDetectionService(
		store,
		repo,
		classifier,
		scorer,
		analyzer,
		confEngine,
		resultCache,
		wsHub,
		slogger,
		service.Config{
			Workers:             cfg.DetectionWorkers,
			ConfidenceLevel:     cfg.ConfidenceLevel,
			ConfidenceThreshold: cfg.ConfidenceThreshold,
			ZScoreThreshold:     cfg.ZScoreThreshold,
		},
	)

	// Kafka ingest (disabled without brokers)
	var consumer *ingest.Consumer
	if len(cfg.KafkaBrokers) > 0 {
		consumer = ingest.NewConsumer(ingest.Config{
			Brokers:       cfg.KafkaBrokers,
			Topic:         cfg.KafkaTopic,
			GroupID:       cfg.KafkaGroupID,
			BatchSize:     cfg.IngestBatchSize,
			FlushInterval: time.Duration(cfg.IngestFlushIntervalSec) * time.Second,
		}, repo)
		go func() {
			if err := consumer.Run(ctx); err != nil && err != context.Canceled {
				log.Printf("⚠️  Ingest consumer stopped: %v", err)
			}
		}()
		log.Printf("✅ Kafka ingest consuming %s", cfg.KafkaTopic)
	}

	// HTTP surface
	handler := rest.NewHandler(detectionService, repo)
	healthz := rest.NewHealthzHandler(repo)
	wsHandler := websocket.NewHandler(ctx, wsHub)
	router := rest.NewRouter(handler, healthz, wsHandler)

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	requestTimeout := time.Duration(cfg.RequestTimeoutSec) * time.Second
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      c.Handler(router),
		ReadTimeout:  requestTimeout,
		WriteTimeout: requestTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("🌐 Server listening on port %d", cfg.Port)
		log.Printf("📡 API available at http://localhost:%d/api/v1", cfg.Port)
		log.Printf("🔌 Alerts at ws://localhost:%d/ws/alerts", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutting down server...")
	cancel()

	if consumer != nil {
		if err := consumer.Close(); err != nil {
			log.Printf("⚠️  Ingest consumer close: %v", err)
		}
	}
	wsHub.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeoutSec)*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️  Server forced to shutdown: %v", err)
	}

	log.Println("✅ Server exited gracefully")
}
