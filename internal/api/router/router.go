package router

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zapvendas/zapfunnel/internal/channel"
	"github.com/zapvendas/zapfunnel/internal/commerce"
	"github.com/zapvendas/zapfunnel/internal/http/handlers"
	httpmiddleware "github.com/zapvendas/zapfunnel/internal/http/middleware"
	"github.com/zapvendas/zapfunnel/internal/live"
	"github.com/zapvendas/zapfunnel/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger             *logging.Logger
	InboundWebhook     *channel.WebhookHandler
	CommerceWebhook    *commerce.Handler
	AdminConversations *handlers.AdminConversationsHandler
	LiveHandler        *live.Handler
	MetricsHandler     http.Handler
	AdminAuthSecret    string
}

// New creates a Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints: webhooks and health checks carry their own
	// authentication (HMAC signatures), not the admin JWT.
	r.Group(func(public chi.Router) {
		public.Get("/health", handleHealth)
		if cfg.InboundWebhook != nil {
			public.Post("/webhooks/whatsapp", cfg.InboundWebhook.Handle)
		}
		if cfg.CommerceWebhook != nil {
			public.Post("/webhooks/commerce/{source}", cfg.CommerceWebhook.Handle)
			public.Post("/webhooks/commerce", cfg.CommerceWebhook.Handle)
		}
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	if cfg.AdminAuthSecret != "" {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))

			if cfg.AdminConversations != nil {
				admin.Get("/conversations", cfg.AdminConversations.ListConversations)
				admin.Route("/conversations/{conversationID}", func(conv chi.Router) {
					conv.Get("/", cfg.AdminConversations.GetConversation)
					conv.Post("/takeover", cfg.AdminConversations.SetTakeover)
					conv.Post("/messages", cfg.AdminConversations.SendMessage)
				})
			}
			if cfg.LiveHandler != nil {
				admin.Get("/live", cfg.LiveHandler.HandleWebSocket)
			}
		})
	}

	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
