package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/synaptica-ai/medrecords/pkg/common/config"
	"github.com/synaptica-ai/medrecords/pkg/common/database"
	"github.com/synaptica-ai/medrecords/pkg/common/kafka"
	"github.com/synaptica-ai/medrecords/pkg/common/logger"
	"github.com/synaptica-ai/medrecords/pkg/features"
	"github.com/synaptica-ai/medrecords/pkg/pipeline"
	"github.com/synaptica-ai/medrecords/pkg/storage"
	"github.com/synaptica-ai/medrecords/pkg/table"
)

func main() {
	logger.Init()
	cfg := config.Load()

	policy, err := features.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to load feature policy")
	}

	db, err := database.GetPostgres(cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}
	defer database.ClosePostgres()

	var (
		loader  table.Loader
		sink    storage.Sink
		sources = cfg.Sources()
	)
	switch cfg.SourceMode {
	case "csv":
		loader = table.NewCSVLoader(cfg.InputDir)
		sink = storage.NewTableSink(db, cfg.PersistBatch)
		if cfg.PersistMode == "copy" {
			pool, err := database.NewPool(context.Background(), cfg)
			if err != nil {
				logger.Log.WithError(err).Fatal("failed to open copy pool")
			}
			defer pool.Close()
			sink = storage.NewCopySink(pool)
		}
	case "db":
		// Re-derive from rows already stored; nothing is appended.
		loader = storage.NewQueryLoader(db, 0)
		for domain := range sources {
			sources[domain] = domain
		}
	default:
		logger.Log.WithField("source", cfg.SourceMode).Fatal("unknown pipeline source, expected csv or db")
	}

	featureStore := storage.NewFeatureStore(db, database.GetRedis(cfg), cfg.FeatureOnlinePrefix, cfg.FeatureCacheTTL)
	defer database.CloseRedis()
	if err := featureStore.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate feature store table")
	}

	runLog := storage.NewRunLog(db)
	if err := runLog.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate pipeline run table")
	}

	topic := cfg.FeaturesTopic
	if !cfg.DeriveFeatures {
		topic = cfg.RecordsUpdatedTopic
	}
	producer := kafka.NewProducer(topic)
	defer producer.Close()

	runner := pipeline.NewRunner(loader, sink, featureStore, producer, policy, pipeline.Options{
		Sources:        sources,
		Workers:        cfg.Workers,
		DeriveFeatures: cfg.DeriveFeatures,
		EventSource:    "pipeline",
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Log.WithFields(map[string]interface{}{
		"source":  cfg.SourceMode,
		"persist": cfg.PersistMode,
		"derive":  cfg.DeriveFeatures,
		"workers": cfg.Workers,
	}).Info("Starting pipeline run")

	res, err := runner.Run(ctx)
	if res != nil {
		if logErr := runLog.Record(context.Background(), res.Summary, err); logErr != nil {
			logger.Log.WithError(logErr).Warn("failed to record pipeline run")
		}
	}
	if err != nil {
		logger.Log.WithError(err).Error("pipeline run failed")
		stop()
		database.CloseRedis()
		database.ClosePostgres()
		os.Exit(1)
	}

	logger.Log.WithFields(map[string]interface{}{
		"run_id":       res.RunID,
		"rows":         res.Summary.Rows,
		"failed_loads": res.Summary.FailedLoads,
		"patients":     res.Summary.Patients,
	}).Info("Pipeline finished")
}
