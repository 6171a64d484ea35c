package funnel

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/zapvendas/zapfunnel/internal/dispatch"
)

// Fixed package names. These stages carry wording that must never be
// delegated to a model.
const (
	PackageWelcome        = "welcome"
	PackagePainAck        = "pain_ack"
	PackagePlansOverview  = "plans_overview"
	PackageCheckoutLink   = "checkout_link"
	PackagePostPurchase   = "post_purchase"
	PackagePendingInvoice = "pending_invoice"
)

// Plan names referenced by scripted copy and enforced by the model output
// validator.
const (
	PlanEssencial = "Plano Essencial"
	PlanCompleto  = "Plano Completo"
)

// packages maps each name to its ordered content units. Text bodies may
// contain {link:<id>} tokens expanded against the asset catalogue before
// dispatch, so URLs live in one place.
var packages = map[string]dispatch.Plan{
	PackageWelcome: {
		{Kind: dispatch.UnitAudio, AssetID: "audio.boas_vindas"},
		{Kind: dispatch.UnitText, Body: "Oi! Que bom te ver por aqui 😊 Me conta: o que te trouxe até a gente hoje?"},
	},
	PackagePainAck: {
		{Kind: dispatch.UnitAudio, AssetID: "audio.dor_reconhecimento"},
		{Kind: dispatch.UnitImage, AssetID: "img.resultado_1"},
		{Kind: dispatch.UnitImage, AssetID: "img.resultado_2"},
		{Kind: dispatch.UnitText, Body: "Isso que você descreveu é muito mais comum do que parece — e tem solução. Quer que eu te mostre como o programa resolve isso na prática?"},
	},
	PackagePlansOverview: {
		{Kind: dispatch.UnitText, Body: "Hoje a gente trabalha com dois formatos:\n\n• " + PlanEssencial + " — R$97/mês: acompanhamento em grupo, treinos e materiais na plataforma.\n• " + PlanCompleto + " — R$197/mês: tudo do Essencial + acompanhamento individual semanal.\n\nQual deles faz mais sentido pra você?"},
		{Kind: dispatch.UnitImage, AssetID: "img.tabela_planos"},
	},
	PackageCheckoutLink: {
		{Kind: dispatch.UnitText, Body: "Fechado! 🎉 É só finalizar por aqui: {link:checkout}\n\nQualquer dúvida no pagamento me chama."},
	},
	PackagePostPurchase: {
		{Kind: dispatch.UnitAudio, AssetID: "audio.pos_compra"},
		{Kind: dispatch.UnitText, Body: "Pagamento confirmado! 🙌 Seu acesso já está liberado: {link:acesso}\n\nGuarda esse link — é por ele que você entra na plataforma."},
	},
	PackagePendingInvoice: {
		{Kind: dispatch.UnitText, Body: "Vi aqui que seu pagamento ainda está pendente. Se o boleto ou pix expirou, consigo gerar outro pra você: {link:checkout}"},
	},
}

// Package returns a copy of the named plan so callers can expand tokens
// without mutating the table.
func Package(name string) (dispatch.Plan, bool) {
	plan, ok := packages[name]
	if !ok {
		return nil, false
	}
	out := make(dispatch.Plan, len(plan))
	copy(out, plan)
	return out, true
}

// LinkResolver maps a symbolic link id to a URL.
type LinkResolver interface {
	Resolve(ctx context.Context, id string) (string, error)
}

var linkToken = regexp.MustCompile(`\{link:([a-z0-9_.-]+)\}`)

// ExpandLinks substitutes {link:<id>} tokens in text units using the asset
// catalogue. An unresolvable link fails the expansion: sending copy with a
// literal token to a customer is worse than not sending.
func ExpandLinks(ctx context.Context, plan dispatch.Plan, resolver LinkResolver) (dispatch.Plan, error) {
	out := make(dispatch.Plan, len(plan))
	copy(out, plan)
	for i, unit := range out {
		if unit.Kind != dispatch.UnitText || !strings.Contains(unit.Body, "{link:") {
			continue
		}
		var expandErr error
		out[i].Body = linkToken.ReplaceAllStringFunc(unit.Body, func(token string) string {
			id := linkToken.FindStringSubmatch(token)[1]
			url, err := resolver.Resolve(ctx, "link."+id)
			if err != nil {
				expandErr = fmt.Errorf("funnel: resolve link %q: %w", id, err)
				return token
			}
			return url
		})
		if expandErr != nil {
			return nil, expandErr
		}
	}
	return out, nil
}
