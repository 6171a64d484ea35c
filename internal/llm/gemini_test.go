package llm

import (
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/require"
)

func TestGeminiTurnsSplitsOnLastUserMessage(t *testing.T) {
	history, last := geminiTurns([]ChatMessage{
		{Role: ChatRoleUser, Content: "oi"},
		{Role: ChatRoleAssistant, Content: "olá! como posso ajudar?"},
		{Role: ChatRoleUser, Content: "quanto custa o plano?"},
	})

	require.Equal(t, "quanto custa o plano?", last)
	require.Len(t, history, 2)
	require.Equal(t, "user", history[0].Role)
	require.Equal(t, "model", history[1].Role)
	require.Equal(t, genai.Text("olá! como posso ajudar?"), history[1].Parts[0])
}

func TestGeminiTurnsDropsTrailingAssistantTurn(t *testing.T) {
	history, last := geminiTurns([]ChatMessage{
		{Role: ChatRoleUser, Content: "vocês parcelam?"},
		{Role: ChatRoleAssistant, Content: "parcelamos em até 12x"},
	})

	require.Equal(t, "vocês parcelam?", last)
	require.Empty(t, history)
}

func TestGeminiTurnsDropsTrailingToolTurn(t *testing.T) {
	history, last := geminiTurns([]ChatMessage{
		{Role: ChatRoleUser, Content: "qual o link?"},
		{Role: ChatRoleAssistant, Content: "vou buscar"},
		{Role: ChatRoleTool, Content: `{"url":"https://exemplo"}`},
	})

	require.Equal(t, "qual o link?", last)
	require.Empty(t, history)
}

func TestGeminiTurnsSkipsSystemAndEmptyMessages(t *testing.T) {
	history, last := geminiTurns([]ChatMessage{
		{Role: ChatRoleSystem, Content: "persona"},
		{Role: ChatRoleUser, Content: "   "},
		{Role: ChatRoleUser, Content: "bom dia"},
	})

	require.Equal(t, "bom dia", last)
	require.Empty(t, history)
}

func TestGeminiTurnsNoUserMessage(t *testing.T) {
	history, last := geminiTurns([]ChatMessage{
		{Role: ChatRoleAssistant, Content: "mensagem solta"},
	})

	require.Empty(t, last)
	require.Nil(t, history)
}
