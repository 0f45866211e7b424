// Command aqcore runs the air-quality ingestion and risk-scoring service:
// the twice-daily ingestion scheduler, the algorithm registry, and the HTTP
// surface for probes, metrics, manual triggers, and engine queries.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	"github.com/breathsafe/airquality-core/internal/adapter/apininjas"
	httpadapter "github.com/breathsafe/airquality-core/internal/adapter/http"
	kafkaadapter "github.com/breathsafe/airquality-core/internal/adapter/kafka"
	"github.com/breathsafe/airquality-core/internal/config"
	"github.com/breathsafe/airquality-core/internal/ingest"
	"github.com/breathsafe/airquality-core/internal/observability"
	"github.com/breathsafe/airquality-core/internal/risk"
	"github.com/breathsafe/airquality-core/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.New(cfg.StoreDriver, cfg.StoreDSN)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	if err := st.Init(ctx); err != nil {
		logger.Error("failed to init store", "error", err)
		os.Exit(1)
	}

	if err := seedAlgorithms(ctx, cfg, st, logger); err != nil {
		logger.Error("failed to seed algorithms", "error", err)
		os.Exit(1)
	}

	registry := risk.NewRegistry(st, logger, metrics)
	if err := registry.Refresh(ctx); err != nil {
		logger.Error("failed to load algorithm registry", "error", err)
		os.Exit(1)
	}

	client := apininjas.NewClient(cfg.ProviderAPIKey, cfg.ProviderBaseURL, cfg.ProviderTimeout, clock, logger)
	fetcher := ingest.NewFetcher(client, cfg.FetchDelay, clock, logger, metrics)

	var publisher ingest.MeasurementPublisher
	var kafkaWriter *kafkaadapter.Writer
	if cfg.KafkaEnabled {
		kafkaWriter = kafkaadapter.NewWriter(cfg, logger)
		publisher = kafkaWriter
		logger.Info("kafka measurement forwarding enabled", "topic", cfg.KafkaTopic)
	} else {
		logger.Info("kafka measurement forwarding disabled")
	}

	scheduler := ingest.NewScheduler(fetcher, st, publisher, cfg.Cities, ingest.Policy{
		RetryBaseDelay:    cfg.RetryBaseDelay,
		RetryAttempts:     cfg.RetryAttempts,
		RateLimitCooldown: cfg.RateLimitCooldown,
	}, clock, logger, metrics)

	engine := risk.NewEngine(risk.EngineParams{
		Cities: cfg.Cities,
		Guidelines: risk.Guidelines{
			PM25Daily:    cfg.PM25Guideline24h,
			PM25LongTerm: cfg.PM25GuidelineLongTerm,
			PM10Daily:    cfg.PM10Guideline24h,
		},
		Measurements: st,
		Registry:     registry,
		Clock:        clock,
		Logger:       logger,
		Metrics:      metrics,
	})

	srv := httpadapter.NewServer(cfg.HTTPAddr, scheduler, scheduler, engine, logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	go scheduler.Start(ctx, cfg.StartupDelay, cfg.IngestInterval)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if kafkaWriter != nil {
		if err := kafkaWriter.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}
	if err := st.Close(); err != nil {
		logger.Error("store close error", "error", err)
	}

	logger.Info("shutdown complete")
}

// seedAlgorithms populates an empty algorithms table from the configured YAML
// seed file, falling back to the built-in catalog.
func seedAlgorithms(ctx context.Context, cfg *config.Config, st store.Store, logger *slog.Logger) error {
	existing, err := st.ListAlgorithms(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	defs := risk.DefaultSeed()
	if cfg.AlgorithmSeedFile != "" {
		defs, err = risk.LoadSeedFile(cfg.AlgorithmSeedFile)
		if err != nil {
			return err
		}
	}
	logger.Info("seeding algorithm definitions", "count", len(defs))
	return st.SeedAlgorithms(ctx, defs)
}
