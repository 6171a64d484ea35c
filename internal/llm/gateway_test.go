package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/zapvendas/zapfunnel/internal/assets"
	"github.com/zapvendas/zapfunnel/internal/conversation"
)

type recordingClient struct {
	scriptedClient
	requests []Request
}

func (c *recordingClient) Complete(ctx context.Context, req Request) (Response, error) {
	c.requests = append(c.requests, req)
	return c.scriptedClient.Complete(ctx, req)
}

func newTestGateway(client Client, cfg GatewayConfig) *Gateway {
	g := NewGateway(client, assets.NewCatalog(nil, nil), cfg, nil, nil)
	return g.WithSleeper(func(context.Context, time.Duration) error { return nil })
}

func inboundHistory(bodies ...string) []conversation.Message {
	history := make([]conversation.Message, 0, len(bodies))
	for i, body := range bodies {
		history = append(history, conversation.Message{
			Role: conversation.RoleInbound,
			Kind: conversation.KindText,
			Body: body,
			Seq:  int64(i + 1),
		})
	}
	return history
}

func testConv() *conversation.Conversation {
	return &conversation.Conversation{ID: uuid.New(), Stage: conversation.StageWarming}
}

func TestGeneratePassesContentThrough(t *testing.T) {
	client := &recordingClient{scriptedClient: scriptedClient{
		responses: []Response{{Content: "Claro! Me conta mais sobre sua rotina."}},
	}}
	g := newTestGateway(client, GatewayConfig{})

	plan := g.Generate(context.Background(), testConv(), inboundHistory("oi, como funciona?"))
	require.Len(t, plan, 1)
	require.Equal(t, "Claro! Me conta mais sobre sua rotina.", plan[0].Body)
	require.Len(t, client.requests, 1)
	require.NotEmpty(t, client.requests[0].Tools)
	require.NotEmpty(t, client.requests[0].System)
}

func TestGenerateRetriesThenSucceeds(t *testing.T) {
	client := &recordingClient{scriptedClient: scriptedClient{
		errs:      []error{errors.New("timeout"), nil},
		responses: []Response{{}, {Content: "Consegui agora!"}},
	}}
	g := newTestGateway(client, GatewayConfig{MaxRetries: 3})

	plan := g.Generate(context.Background(), testConv(), inboundHistory("oi"))
	require.Equal(t, "Consegui agora!", plan[0].Body)
	require.Equal(t, 2, client.calls)
}

func TestGenerateExhaustionDegradesToFallbackReply(t *testing.T) {
	client := &recordingClient{scriptedClient: scriptedClient{
		errs: []error{errors.New("down"), errors.New("down"), errors.New("down")},
	}}
	g := newTestGateway(client, GatewayConfig{MaxRetries: 3})

	plan := g.Generate(context.Background(), testConv(), inboundHistory("oi"))
	require.Equal(t, FallbackReply, plan[0].Body)
	require.Equal(t, 3, client.calls)
}

func TestGenerateRunsToolLoop(t *testing.T) {
	client := &recordingClient{scriptedClient: scriptedClient{
		responses: []Response{
			{ToolCalls: []ToolCall{{ID: "call-1", Name: "lookup_plan_price", Arguments: `{"plan":"Plano Essencial"}`}}},
			{Content: "O Plano Essencial sai por R$97/mês e o Plano Completo por R$197/mês."},
		},
	}}
	g := newTestGateway(client, GatewayConfig{})

	plan := g.Generate(context.Background(), testConv(), inboundHistory("quanto custa?"))
	require.Contains(t, plan[0].Body, "R$97/mês")
	require.Equal(t, 2, client.calls)

	// The second request carries the tool result back to the model.
	second := client.requests[1].Messages
	last := second[len(second)-1]
	require.Equal(t, ChatRoleTool, last.Role)
	require.Equal(t, "call-1", last.ToolCallID)
	require.Equal(t, "R$97/mês", last.Content)
}

func TestGenerateToolLookupAssetLink(t *testing.T) {
	client := &recordingClient{scriptedClient: scriptedClient{
		responses: []Response{
			{ToolCalls: []ToolCall{{ID: "call-1", Name: "lookup_asset_link", Arguments: `{"id":"checkout"}`}}},
			{Content: "Aqui está: https://pay.zapvendas.com.br/checkout"},
		},
	}}
	g := newTestGateway(client, GatewayConfig{})

	g.Generate(context.Background(), testConv(), inboundHistory("me manda o link"))
	second := client.requests[1].Messages
	require.Equal(t, "https://pay.zapvendas.com.br/checkout", second[len(second)-1].Content)
}

func TestGenerateToolIterationCap(t *testing.T) {
	// The model keeps asking for tools; the loop must not run forever.
	loop := Response{ToolCalls: []ToolCall{{ID: "c", Name: "lookup_plan_price", Arguments: `{"plan":"Plano Essencial"}`}}}
	client := &recordingClient{scriptedClient: scriptedClient{
		responses: []Response{loop, loop, loop},
	}}
	g := newTestGateway(client, GatewayConfig{ToolIterations: 3})

	plan := g.Generate(context.Background(), testConv(), inboundHistory("oi"))
	require.Equal(t, FallbackReply, plan[0].Body)
	require.Equal(t, 3, client.calls)

	// The last iteration withholds the tool definitions.
	require.Empty(t, client.requests[2].Tools)
	require.NotEmpty(t, client.requests[0].Tools)
}

func TestGenerateValidatorRejectionFallsBack(t *testing.T) {
	client := &recordingClient{scriptedClient: scriptedClient{
		responses: []Response{{Content: "Paga aqui: {link:checkout}"}},
	}}
	g := newTestGateway(client, GatewayConfig{})

	plan := g.Generate(context.Background(), testConv(), inboundHistory("quero pagar"))
	require.Equal(t, FallbackReply, plan[0].Body)
}

func TestGenerateValidatorCorrection(t *testing.T) {
	conv := testConv()
	conv.Stage = conversation.StageWarm
	client := &recordingClient{scriptedClient: scriptedClient{
		responses: []Response{{Content: "O Plano Completo é R$197/mês."}},
	}}
	g := newTestGateway(client, GatewayConfig{})

	plan := g.Generate(context.Background(), conv, inboundHistory("quanto custa?"))
	require.Contains(t, plan[0].Body, "Plano Essencial")
	require.Contains(t, plan[0].Body, "Plano Completo")
}

func TestGenerateEmptyHistoryFallsBack(t *testing.T) {
	client := &recordingClient{}
	g := newTestGateway(client, GatewayConfig{})

	plan := g.Generate(context.Background(), testConv(), nil)
	require.Equal(t, FallbackReply, plan[0].Body)
	require.Equal(t, 0, client.calls)
}

func TestBuildMessagesSkipsMediaAndEmpty(t *testing.T) {
	history := []conversation.Message{
		{Role: conversation.RoleInbound, Kind: conversation.KindText, Body: "oi"},
		{Role: conversation.RoleAutomated, Kind: conversation.KindAudio, Body: "https://cdn.example.com/a.ogg"},
		{Role: conversation.RoleAutomated, Kind: conversation.KindText, Body: "olá!"},
		{Role: conversation.RoleInbound, Kind: conversation.KindText, Body: "   "},
		{Role: conversation.RoleSystemNote, Kind: conversation.KindText, Body: "pagamento aprovado"},
	}
	messages := buildMessages(history)
	require.Len(t, messages, 3)
	require.Equal(t, ChatRoleUser, messages[0].Role)
	require.Equal(t, ChatRoleAssistant, messages[1].Role)
	require.Equal(t, ChatRoleSystem, messages[2].Role)
}
