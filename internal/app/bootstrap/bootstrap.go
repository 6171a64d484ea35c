// Package bootstrap wires the application graph shared by the API and worker
// binaries.
package bootstrap

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/zapvendas/zapfunnel/internal/assets"
	"github.com/zapvendas/zapfunnel/internal/channel"
	"github.com/zapvendas/zapfunnel/internal/commerce"
	appconfig "github.com/zapvendas/zapfunnel/internal/config"
	"github.com/zapvendas/zapfunnel/internal/conversation"
	"github.com/zapvendas/zapfunnel/internal/dispatch"
	"github.com/zapvendas/zapfunnel/internal/funnel"
	"github.com/zapvendas/zapfunnel/internal/live"
	"github.com/zapvendas/zapfunnel/internal/llm"
	"github.com/zapvendas/zapfunnel/internal/notify"
	"github.com/zapvendas/zapfunnel/internal/observability/metrics"
	"github.com/zapvendas/zapfunnel/internal/pipeline"
	"github.com/zapvendas/zapfunnel/pkg/logging"
)

// App is the wired object graph minus the queue, which differs between
// single-process and split deployments.
type App struct {
	Logger     *logging.Logger
	DBPool     *pgxpool.Pool
	SQLDB      *sql.DB
	Redis      *redis.Client
	Metrics    *metrics.FunnelMetrics
	Hub        *live.Hub
	Store      *conversation.Store
	Guard      *conversation.Guard
	Transcript *conversation.TranscriptCache
	Catalog    *assets.Catalog
	Channel    *channel.Client
	Dispatcher *dispatch.Dispatcher
	Gateway    *llm.Gateway
	Service    *pipeline.Service
	Ingestor   *commerce.Ingestor
}

// Close releases the database and redis handles.
func (a *App) Close() {
	if a.SQLDB != nil {
		_ = a.SQLDB.Close()
	}
	if a.DBPool != nil {
		a.DBPool.Close()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
}

// Build constructs the shared application graph from configuration.
func Build(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*App, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("bootstrap: DATABASE_URL is required")
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap: ping postgres: %w", err)
	}
	sqlDB := stdlib.OpenDBFromPool(pool)

	redisClient := buildRedis(cfg)
	if redisClient != nil {
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, transcript cache and catalog overrides disabled", "error", err)
		}
	}

	m := metrics.NewFunnelMetrics(prometheus.DefaultRegisterer)
	hub := live.NewHub()
	transcript := conversation.NewTranscriptCache(redisClient)
	store := conversation.NewStore(sqlDB).WithTranscript(transcript)
	guard := conversation.NewGuard()
	catalog := assets.NewCatalog(redisClient, logger)

	waClient := channel.NewClient(cfg.WhatsAppBaseURL, cfg.WhatsAppAPIToken, cfg.WhatsAppInstanceID, logger)

	dispatcher := dispatch.NewDispatcher(waClient, catalog, store, hub, m, dispatch.Delays{
		AfterAudio:    cfg.AudioDelay,
		BetweenImages: cfg.ImageGapDelay,
		AfterImageRun: cfg.ImageRunDelay,
	}, logger)

	modelClient, err := buildModelClient(ctx, cfg, logger)
	if err != nil {
		sqlDB.Close()
		pool.Close()
		return nil, err
	}
	gateway := llm.NewGateway(modelClient, catalog, llm.GatewayConfig{
		MaxRetries:     cfg.LLMMaxRetries,
		BaseBackoff:    cfg.LLMBaseBackoff,
		Timeout:        cfg.LLMTimeout,
		ToolIterations: cfg.LLMToolIterations,
	}, m, logger)

	var emailSender notify.EmailSender
	if sender := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger); sender != nil {
		emailSender = sender
	} else {
		emailSender = notify.NewStubEmailSender(logger)
	}
	notifier := notify.NewHandoffNotifier(emailSender, cfg.OperatorEmail, logger)

	service := pipeline.NewService(store, guard, funnel.NewMachine(), dispatcher, gateway, catalog, notifier, m, logger).
		WithTranscript(transcript)

	eventStore := commerce.NewEventStore(pool)
	allowUnsigned := cfg.AllowUnsignedWebhooks && !cfg.IsProduction()
	ingestor := commerce.NewIngestor(cfg.CommerceWebhookSecret, allowUnsigned, eventStore, store, service, m, logger)

	return &App{
		Logger:     logger,
		DBPool:     pool,
		SQLDB:      sqlDB,
		Redis:      redisClient,
		Metrics:    m,
		Hub:        hub,
		Store:      store,
		Guard:      guard,
		Transcript: transcript,
		Catalog:    catalog,
		Channel:    waClient,
		Dispatcher: dispatcher,
		Gateway:    gateway,
		Service:    service,
		Ingestor:   ingestor,
	}, nil
}

func buildRedis(cfg *appconfig.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	opts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return redis.NewClient(opts)
}

func buildModelClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (llm.Client, error) {
	primary, err := llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModel)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: openai client: %w", err)
	}
	if cfg.GeminiAPIKey == "" {
		return primary, nil
	}
	fallback, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		logger.Warn("gemini fallback unavailable, continuing with primary only", "error", err)
		return primary, nil
	}
	return llm.NewFallbackClient(primary, fallback, logger), nil
}
