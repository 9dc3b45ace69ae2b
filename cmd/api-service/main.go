package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/synaptica-ai/medrecords/pkg/api"
	"github.com/synaptica-ai/medrecords/pkg/common/config"
	"github.com/synaptica-ai/medrecords/pkg/common/database"
	"github.com/synaptica-ai/medrecords/pkg/common/logger"
	"github.com/synaptica-ai/medrecords/pkg/features"
	"github.com/synaptica-ai/medrecords/pkg/pipeline"
	"github.com/synaptica-ai/medrecords/pkg/storage"
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

	featureStore := storage.NewFeatureStore(db, database.GetRedis(cfg), cfg.FeatureOnlinePrefix, cfg.FeatureCacheTTL)
	defer database.CloseRedis()
	if err := featureStore.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate feature store table")
	}

	people := pipeline.NewPersonService(storage.NewQueryLoader(db, 0), policy)
	handler := api.NewHTTPHandler(people, featureStore, policy, cfg.MaxRequestBody).
		WithRunLog(storage.NewRunLog(db))

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      handler.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": cfg.ServerPort,
		}).Info("API Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down API Service...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}

	logger.Log.Info("API Service stopped")
}
