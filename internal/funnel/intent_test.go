package funnel

import (
	"testing"

	"github.com/zapvendas/zapfunnel/internal/conversation"
)

func TestDetect(t *testing.T) {
	cases := []struct {
		name string
		text string
		meta conversation.Metadata
		want Intent
	}{
		{"short greeting", "oi", conversation.Metadata{}, IntentGreeting},
		{"greeting phrase", "Boa tarde! Tudo bem?", conversation.Metadata{}, IntentGreeting},
		{"greeting buried in long question is not greeting", "oi queria entender direito o que voces oferecem nesse programa de voces", conversation.Metadata{}, IntentUnknown},
		{"pain point", "Tô cansada de tentar sozinha e não conseguir", conversation.Metadata{}, IntentPainPoint},
		{"plan question", "como funciona o plano de vocês?", conversation.Metadata{}, IntentPlanQuestion},
		{"price with accents", "Quanto é o investimento?", conversation.Metadata{}, IntentPriceQuestion},
		{"buy signal", "quero assinar, manda o link", conversation.Metadata{}, IntentBuySignal},
		{"payment claim after checkout", "já paguei, segue o comprovante", conversation.Metadata{CheckoutLinkSent: true}, IntentPaymentClaim},
		{"payment claim after pending nudge", "fiz o pagamento agora", conversation.Metadata{PendingInvoiceNudged: true}, IntentPaymentClaim},
		{"payment claim without a link is not a claim", "já paguei, segue o comprovante", conversation.Metadata{}, IntentUnknown},
		{"support", "não consigo acessar a plataforma", conversation.Metadata{}, IntentSupport},
		{"refund request", "quero cancelamento e reembolso", conversation.Metadata{}, IntentSupport},
		{"empty", "   ", conversation.Metadata{}, IntentUnknown},
		{"gibberish", "asdf qwer", conversation.Metadata{}, IntentUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Detect(tc.text, tc.meta); got != tc.want {
				t.Errorf("Detect(%q) = %q, want %q", tc.text, got, tc.want)
			}
		})
	}
}

func TestDetectPriority(t *testing.T) {
	// Support outranks sales intents even when both match.
	text := "quero comprar mas o site dá erro no pagamento, me passa um atendente"
	if got := Detect(text, conversation.Metadata{}); got != IntentSupport {
		t.Fatalf("Detect() = %q, want %q", got, IntentSupport)
	}

	// Payment claim outranks buy signal once the checkout link went out.
	text = "já fiz o pix, manda o link de acesso"
	if got := Detect(text, conversation.Metadata{CheckoutLinkSent: true}); got != IntentPaymentClaim {
		t.Fatalf("Detect() = %q, want %q", got, IntentPaymentClaim)
	}
}

func TestNormalize(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Olá, TUDO BEM?", "ola, tudo bem?"},
		{"  preço à vista  ", "preco a vista"},
		{"você não", "voce nao"},
	}
	for _, tc := range cases {
		if got := Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
