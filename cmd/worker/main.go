package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"

	"github.com/zapvendas/zapfunnel/cmd/mainconfig"
	"github.com/zapvendas/zapfunnel/internal/app/bootstrap"
	appconfig "github.com/zapvendas/zapfunnel/internal/config"
	"github.com/zapvendas/zapfunnel/internal/pipeline"
	"github.com/zapvendas/zapfunnel/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting zapfunnel pipeline worker", "env", cfg.Env)

	if cfg.UseMemoryQueue {
		logger.Error("worker cannot run with USE_MEMORY_QUEUE=true; the API process runs inline workers instead")
		os.Exit(1)
	}
	if cfg.PipelineQueueURL == "" {
		logger.Error("PIPELINE_QUEUE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build application", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	queue := pipeline.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.PipelineQueueURL)

	worker := pipeline.NewWorker(app.Service, queue, logger,
		pipeline.WithWorkerCount(cfg.WorkerCount),
		pipeline.WithReceiveWaitSeconds(10),
	)
	worker.Start(ctx)
	logger.Info("pipeline workers started", "count", cfg.WorkerCount, "queue_url", cfg.PipelineQueueURL)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down worker...")
	cancel()
	worker.Wait()
	logger.Info("worker stopped")
}
