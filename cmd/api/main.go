package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zapvendas/zapfunnel/cmd/mainconfig"
	"github.com/zapvendas/zapfunnel/internal/api/router"
	"github.com/zapvendas/zapfunnel/internal/app/bootstrap"
	"github.com/zapvendas/zapfunnel/internal/channel"
	"github.com/zapvendas/zapfunnel/internal/commerce"
	appconfig "github.com/zapvendas/zapfunnel/internal/config"
	"github.com/zapvendas/zapfunnel/internal/conversation"
	"github.com/zapvendas/zapfunnel/internal/http/handlers"
	"github.com/zapvendas/zapfunnel/internal/live"
	"github.com/zapvendas/zapfunnel/internal/pipeline"
	"github.com/zapvendas/zapfunnel/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting zapfunnel API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build application", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	var (
		publisher *pipeline.Publisher
		worker    *pipeline.Worker
	)
	if cfg.UseMemoryQueue {
		memQueue := pipeline.NewMemoryQueue(256)
		publisher = pipeline.NewPublisher(memQueue, logger)
		worker = pipeline.NewWorker(app.Service, memQueue, logger,
			pipeline.WithWorkerCount(cfg.WorkerCount),
		)
		worker.Start(ctx)
		logger.Info("inline pipeline workers started", "count", cfg.WorkerCount)
	} else {
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		sqsQueue := pipeline.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.PipelineQueueURL)
		publisher = pipeline.NewPublisher(sqsQueue, logger)
		logger.Info("pipeline jobs published to SQS", "queue_url", cfg.PipelineQueueURL)
	}

	debouncer := conversation.NewDebouncer(cfg.DebounceWindow, publisher.FireFunc(), logger).
		WithMetrics(app.Metrics)
	defer debouncer.Stop()

	inboundWebhook := channel.NewWebhookHandler(app.Store, app.Guard, debouncer, app.Hub, app.Metrics, logger)
	commerceWebhook := commerce.NewHandler(app.Ingestor, logger)
	adminConversations := handlers.NewAdminConversationsHandler(app.SQLDB, app.Store, app.Guard, app.Channel, app.Hub, logger)
	liveHandler := live.NewHandler(app.Hub, logger)

	r := router.New(&router.Config{
		Logger:             logger,
		InboundWebhook:     inboundWebhook,
		CommerceWebhook:    commerceWebhook,
		AdminConversations: adminConversations,
		LiveHandler:        liveHandler,
		MetricsHandler:     promhttp.Handler(),
		AdminAuthSecret:    cfg.AdminJWTSecret,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	// Flush pending bursts before the workers stop so an observed message is
	// never silently dropped.
	debouncer.Flush(shutdownCtx)
	cancel()
	if worker != nil {
		worker.Wait()
	}

	logger.Info("server stopped")
}
