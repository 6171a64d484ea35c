package funnel

import (
	"strings"

	"github.com/zapvendas/zapfunnel/internal/conversation"
)

// Intent is the classified meaning of an inbound burst. Classification is a
// pure function of the text and current metadata so the state machine stays
// deterministic and unit-testable.
type Intent string

const (
	IntentGreeting      Intent = "greeting"
	IntentPainPoint     Intent = "pain_point"
	IntentPlanQuestion  Intent = "plan_question"
	IntentPriceQuestion Intent = "price_question"
	IntentBuySignal     Intent = "buy_signal"
	IntentPaymentClaim  Intent = "payment_claim"
	IntentSupport       Intent = "support"
	IntentUnknown       Intent = "unknown"
)

var supportKeywords = []string{
	"reclama", "suporte", "problema", "cancelar", "cancelamento",
	"reembolso", "estorno", "nao funciona", "nao consigo acessar",
	"atendente", "falar com humano", "falar com alguem", "erro no",
}

var paymentClaimKeywords = []string{
	"paguei", "ja paguei", "comprovante", "ja fiz o pix",
	"pagamento feito", "fiz o pagamento", "transferi",
}

var buySignalKeywords = []string{
	"quero comprar", "quero assinar", "como pago", "como faco pra pagar",
	"link de pagamento", "manda o link", "pode mandar o pix",
	"vou fechar", "quero fechar", "bora", "aceita cartao", "parcel",
}

var priceKeywords = []string{
	"quanto custa", "quanto e", "quanto fica", "preco", "valor",
	"investimento", "quanto sai",
}

var planKeywords = []string{
	"plano", "planos", "como funciona", "o que ta incluso", "incluso",
	"o que vem", "beneficio", "diferenca entre",
}

var painKeywords = []string{
	"dor", "sofro", "cansad", "nao aguento", "dificuldade", "frustra",
	"sem tempo", "nao consigo", "travad", "perdid",
}

var greetingTokens = map[string]struct{}{
	"oi": {}, "ola": {}, "opa": {}, "eai": {}, "hey": {}, "oii": {},
}

var greetingPhrases = []string{"bom dia", "boa tarde", "boa noite", "tudo bem"}

// Detect classifies an inbound burst. Keyword checks are order-independent;
// when several intents match, the highest-priority one wins. Support always
// outranks every sales intent. A payment claim only registers once the
// metadata shows the contact received a checkout link or a pending nudge.
func Detect(text string, meta conversation.Metadata) Intent {
	normalized := Normalize(text)
	if normalized == "" {
		return IntentUnknown
	}

	switch {
	case containsAny(normalized, supportKeywords):
		return IntentSupport
	case containsAny(normalized, paymentClaimKeywords) && canClaimPayment(meta):
		return IntentPaymentClaim
	case containsAny(normalized, buySignalKeywords):
		return IntentBuySignal
	case containsAny(normalized, priceKeywords):
		return IntentPriceQuestion
	case containsAny(normalized, planKeywords):
		return IntentPlanQuestion
	case containsAny(normalized, painKeywords):
		return IntentPainPoint
	case isGreeting(normalized):
		return IntentGreeting
	}
	return IntentUnknown
}

// Normalize lowercases and folds the accented characters common in pt-BR so
// keyword lists stay small.
func Normalize(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	replacer := strings.NewReplacer(
		"á", "a", "à", "a", "ã", "a", "â", "a",
		"é", "e", "ê", "e",
		"í", "i",
		"ó", "o", "õ", "o", "ô", "o",
		"ú", "u", "ü", "u",
		"ç", "c",
	)
	return replacer.Replace(text)
}

// canClaimPayment reports whether the contact was ever given a way to pay.
// "já paguei" before any checkout link means something else, usually a
// question for the model to untangle.
func canClaimPayment(meta conversation.Metadata) bool {
	return meta.CheckoutLinkSent || meta.PendingInvoiceNudged
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// isGreeting matches only short salutations; "oi" buried in a long question
// should not classify the burst as a greeting.
func isGreeting(text string) bool {
	for _, phrase := range greetingPhrases {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
	if len(fields) > 4 {
		return false
	}
	for _, f := range fields {
		if _, ok := greetingTokens[f]; ok {
			return true
		}
	}
	return false
}
