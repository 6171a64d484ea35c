package llm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zapvendas/zapfunnel/internal/conversation"
)

func TestValidateForStage(t *testing.T) {
	t.Run("passes conformant content through", func(t *testing.T) {
		content, ok := ValidateForStage(conversation.StageWarming, "Claro! Me conta um pouco mais do seu dia a dia.")
		require.True(t, ok)
		require.Equal(t, "Claro! Me conta um pouco mais do seu dia a dia.", content)
	})

	t.Run("rejects empty output", func(t *testing.T) {
		content, ok := ValidateForStage(conversation.StageWarm, "   \n ")
		require.False(t, ok)
		require.Empty(t, content)
	})

	t.Run("rejects unexpanded link tokens", func(t *testing.T) {
		content, ok := ValidateForStage(conversation.StageHot, "Finaliza por aqui: {link:checkout}")
		require.False(t, ok)
		require.Empty(t, content)
	})

	t.Run("restores plan disclosure when only one plan is named", func(t *testing.T) {
		content, ok := ValidateForStage(conversation.StageWarm, "O Plano Completo custa R$197/mês, quer fechar?")
		require.False(t, ok)
		require.Contains(t, content, "Plano Essencial")
		require.Contains(t, content, "Plano Completo")
	})

	t.Run("both plans named is conformant", func(t *testing.T) {
		in := "Temos o Plano Essencial por R$97/mês e o Plano Completo por R$197/mês."
		content, ok := ValidateForStage(conversation.StageHot, in)
		require.True(t, ok)
		require.Equal(t, in, content)
	})

	t.Run("plan mention rules only apply to warm and hot stages", func(t *testing.T) {
		in := "O Plano Completo já está ativo pra você!"
		content, ok := ValidateForStage(conversation.StagePostPurchase, in)
		require.True(t, ok)
		require.Equal(t, in, content)
	})
}
