package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/synaptica-ai/medrecords/pkg/common/config"
	"github.com/synaptica-ai/medrecords/pkg/common/database"
	"github.com/synaptica-ai/medrecords/pkg/common/kafka"
	"github.com/synaptica-ai/medrecords/pkg/common/logger"
	"github.com/synaptica-ai/medrecords/pkg/features"
	"github.com/synaptica-ai/medrecords/pkg/observability/metrics"
	"github.com/synaptica-ai/medrecords/pkg/pipeline"
	"github.com/synaptica-ai/medrecords/pkg/storage"
)

const healthPort = "8086"

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

	featureStore := storage.NewFeatureStore(db, database.GetRedis(cfg), cfg.FeatureOnlinePrefix, cfg.FeatureCacheTTL)
	defer database.CloseRedis()
	if err := featureStore.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate feature store table")
	}

	producer := kafka.NewProducer(cfg.FeaturesTopic)
	defer producer.Close()

	people := pipeline.NewPersonService(storage.NewQueryLoader(db, 0), policy)
	recomputer := pipeline.NewRecomputer(people, featureStore, producer, "feature-service")

	consumer := kafka.NewConsumer(cfg.RecordsUpdatedTopic, "feature-service")
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := consumer.Consume(ctx, recomputer.HandleEvent); err != nil && ctx.Err() == nil {
			logger.Log.WithError(err).Fatal("consumer stopped on an event it could not process")
		}
	}()

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)
	router.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w)
	}).Methods(http.MethodGet)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%s", cfg.ServerHost, healthPort),
		Handler: router,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host":  cfg.ServerHost,
			"port":  healthPort,
			"topic": cfg.RecordsUpdatedTopic,
		}).Info("Feature Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Feature Service...")
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}

	logger.Log.Info("Feature Service stopped")
}
