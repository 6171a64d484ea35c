package llm

import (
	"strings"

	"github.com/zapvendas/zapfunnel/internal/conversation"
	"github.com/zapvendas/zapfunnel/internal/funnel"
)

// canonicalPlans is the substitute reply when the model explains plans but
// omits one of them. Quoting only one plan misrepresents the offer, so the
// disclosure is restored rather than surfaced as an error.
const canonicalPlans = "Só pra deixar claro os dois formatos que temos hoje:\n\n• " +
	funnel.PlanEssencial + " — R$97/mês\n• " + funnel.PlanCompleto + " — R$197/mês\n\nQual deles faz mais sentido pra você?"

// ValidateForStage enforces the stage's required elements on generated
// content. It returns the content to dispatch and whether the original was
// conformant. Non-conformant content is corrected or replaced, never shown
// to the end user as-is.
func ValidateForStage(stage conversation.Stage, content string) (string, bool) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", false
	}

	// Leftover link tokens mean the model echoed scripted copy without the
	// URL substituted; that must never reach a customer.
	if strings.Contains(trimmed, "{link:") {
		return "", false
	}

	switch stage {
	case conversation.StageWarm, conversation.StageHot:
		mentionsEssencial := strings.Contains(trimmed, funnel.PlanEssencial)
		mentionsCompleto := strings.Contains(trimmed, funnel.PlanCompleto)
		if mentionsEssencial != mentionsCompleto {
			// Talking about plans while naming only one of them.
			return canonicalPlans, false
		}
	}
	return trimmed, true
}
