package llm

import (
	"context"
	"encoding/json"
	"math/rand"
	"strings"
	"time"

	"github.com/zapvendas/zapfunnel/internal/assets"
	"github.com/zapvendas/zapfunnel/internal/conversation"
	"github.com/zapvendas/zapfunnel/internal/dispatch"
	"github.com/zapvendas/zapfunnel/internal/observability/metrics"
	"github.com/zapvendas/zapfunnel/pkg/logging"
)

// FallbackReply is dispatched when every model attempt fails. The
// conversation must never be left without a reply.
const FallbackReply = "Poxa, tive um probleminha técnico aqui 😅 Me manda sua mensagem de novo em instantes que eu te respondo, combinado?"

const defaultSystemPrompt = `Você é a assistente comercial da ZapVendas no WhatsApp.

Regras:
- Responda sempre em português brasileiro, no máximo 3 frases, tom leve e direto.
- Nunca invente preço: quando precisar de valores, use a ferramenta lookup_plan_price.
- Quando o cliente pedir o link de pagamento ou de acesso, use a ferramenta lookup_asset_link.
- Ao citar os planos, cite sempre os dois: Plano Essencial e Plano Completo.
- Nunca confirme pagamento por conta própria; a confirmação chega pelo sistema.
- Dúvidas de suporte ou reclamações: diga que vai acionar o time e não tente resolver.`

// GatewayConfig bounds the retry and tool-loop behavior.
type GatewayConfig struct {
	MaxRetries     int
	BaseBackoff    time.Duration
	Timeout        time.Duration
	ToolIterations int
}

// Gateway wraps the model call with timeout, retry/backoff, a bounded
// tool-calling loop and stage-conformance validation. Generate never returns
// an error: exhaustion degrades to FallbackReply.
type Gateway struct {
	client  Client
	catalog *assets.Catalog
	cfg     GatewayConfig
	metrics *metrics.FunnelMetrics
	logger  *logging.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewGateway wires the gateway. metrics may be nil.
func NewGateway(client Client, catalog *assets.Catalog, cfg GatewayConfig, m *metrics.FunnelMetrics, logger *logging.Logger) *Gateway {
	if client == nil {
		panic("llm: client required")
	}
	if catalog == nil {
		panic("llm: asset catalog required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 500 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ToolIterations <= 0 {
		cfg.ToolIterations = 4
	}
	return &Gateway{
		client:  client,
		catalog: catalog,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
		sleep:   sleepContext,
	}
}

// WithSleeper overrides backoff sleeping for tests.
func (g *Gateway) WithSleeper(sleep func(ctx context.Context, d time.Duration) error) *Gateway {
	if sleep != nil {
		g.sleep = sleep
	}
	return g
}

var gatewayTools = []ToolDef{
	{
		Name:        "lookup_plan_price",
		Description: "Retorna o preço atual de um plano pelo nome exato.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"plan":{"type":"string","description":"Nome do plano, ex.: Plano Essencial"}},"required":["plan"]}`),
	},
	{
		Name:        "lookup_asset_link",
		Description: "Retorna a URL de um link oficial (checkout, acesso).",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"id":{"type":"string","description":"Identificador do link: checkout ou acesso"}},"required":["id"]}`),
	},
}

// Generate produces the reply plan for an open-ended burst. The returned
// plan is always non-empty.
func (g *Gateway) Generate(ctx context.Context, conv *conversation.Conversation, history []conversation.Message) dispatch.Plan {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	messages := buildMessages(history)
	if len(messages) == 0 {
		return dispatch.Text(FallbackReply)
	}

	for iteration := 0; iteration < g.cfg.ToolIterations; iteration++ {
		req := Request{
			System:      []string{defaultSystemPrompt},
			Messages:    messages,
			Temperature: 0.7,
		}
		// The last iteration withholds tools so the model must answer.
		if iteration < g.cfg.ToolIterations-1 {
			req.Tools = gatewayTools
		}

		resp, err := g.completeWithRetry(ctx, req)
		if err != nil {
			g.metrics.ObserveModelFallback()
			g.logger.Error("model exhausted retries, using fallback reply",
				"conversation_id", conv.ID,
				"error", err,
			)
			return dispatch.Text(FallbackReply)
		}

		if len(resp.ToolCalls) == 0 {
			content, conformant := ValidateForStage(conv.Stage, resp.Content)
			if content == "" {
				g.logger.Warn("model output rejected by validator",
					"conversation_id", conv.ID,
					"stage", conv.Stage,
				)
				return dispatch.Text(FallbackReply)
			}
			if !conformant {
				g.logger.Warn("model output corrected by validator",
					"conversation_id", conv.ID,
					"stage", conv.Stage,
				)
			}
			return dispatch.Text(content)
		}

		messages = append(messages, ChatMessage{
			Role:      ChatRoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			messages = append(messages, ChatMessage{
				Role:       ChatRoleTool,
				ToolCallID: call.ID,
				Name:       call.Name,
				Content:    g.runTool(ctx, call),
			})
		}
	}

	g.metrics.ObserveModelFallback()
	g.logger.Error("tool loop exceeded iteration cap", "conversation_id", conv.ID)
	return dispatch.Text(FallbackReply)
}

func (g *Gateway) completeWithRetry(ctx context.Context, req Request) (Response, error) {
	var lastErr error
	for attempt := 0; attempt < g.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			g.metrics.ObserveModelRetry()
			backoff := g.cfg.BaseBackoff << (attempt - 1)
			backoff += time.Duration(rand.Int63n(int64(g.cfg.BaseBackoff)))
			if err := g.sleep(ctx, backoff); err != nil {
				return Response{}, err
			}
		}
		resp, err := g.client.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		g.logger.Warn("model call failed", "attempt", attempt+1, "error", err)
	}
	return Response{}, lastErr
}

func (g *Gateway) runTool(ctx context.Context, call ToolCall) string {
	switch call.Name {
	case "lookup_plan_price":
		var args struct {
			Plan string `json:"plan"`
		}
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return "erro: argumentos inválidos"
		}
		if price, ok := g.catalog.PlanPrice(args.Plan); ok {
			return price
		}
		return "plano não encontrado"
	case "lookup_asset_link":
		var args struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return "erro: argumentos inválidos"
		}
		url, err := g.catalog.Resolve(ctx, "link."+strings.TrimSpace(args.ID))
		if err != nil {
			return "link não encontrado"
		}
		return url
	default:
		return "ferramenta desconhecida"
	}
}

// buildMessages converts the stored history into role-tagged model turns.
// Creation order defines the transcript fed to the model.
func buildMessages(history []conversation.Message) []ChatMessage {
	messages := make([]ChatMessage, 0, len(history))
	for _, msg := range history {
		if strings.TrimSpace(msg.Body) == "" {
			continue
		}
		switch msg.Role {
		case conversation.RoleInbound:
			messages = append(messages, ChatMessage{Role: ChatRoleUser, Content: msg.Body})
		case conversation.RoleAutomated, conversation.RoleHuman:
			if msg.Kind != conversation.KindText {
				// Media sends appear in history as URLs; they add noise, not
				// context, to the prompt.
				continue
			}
			messages = append(messages, ChatMessage{Role: ChatRoleAssistant, Content: msg.Body})
		case conversation.RoleSystemNote:
			messages = append(messages, ChatMessage{Role: ChatRoleSystem, Content: msg.Body})
		}
	}
	return messages
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
