package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zapvendas/zapfunnel/internal/conversation"
	"github.com/zapvendas/zapfunnel/pkg/logging"
)

// HandoffNotifier alerts the human operator when the automation steps aside
// or when money moves. Failures are logged and returned but never block the
// conversation pipeline.
type HandoffNotifier struct {
	email         EmailSender
	operatorEmail string
	logger        *logging.Logger
}

// NewHandoffNotifier creates the notifier. email may be nil, in which case
// every notification is a logged no-op.
func NewHandoffNotifier(email EmailSender, operatorEmail string, logger *logging.Logger) *HandoffNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &HandoffNotifier{
		email:         email,
		operatorEmail: operatorEmail,
		logger:        logger,
	}
}

// NotifyHandoff tells the operator a conversation needs a human, including
// the last few inbound lines for context.
func (n *HandoffNotifier) NotifyHandoff(ctx context.Context, conv *conversation.Conversation, reason string, recent []conversation.Message) error {
	if n.email == nil || n.operatorEmail == "" {
		n.logger.Warn("handoff notification skipped, email not configured",
			"conversation_id", conv.ID, "reason", reason)
		return nil
	}

	var transcript strings.Builder
	for _, msg := range recent {
		if msg.Role != conversation.RoleInbound {
			continue
		}
		fmt.Fprintf(&transcript, "[%s] %s\n", msg.CreatedAt.Format("02/01 15:04"), msg.Body)
	}

	subject := fmt.Sprintf("🙋 Atendimento humano solicitado - %s", conv.Address)
	body := fmt.Sprintf(`Um contato pediu atendimento humano no WhatsApp.

Contato: %s
Etapa do funil: %s
Motivo: %s
Quando: %s

Últimas mensagens do contato:
%s
A automação está pausada para esta conversa até você liberar no painel.

— ZapVendas`, conv.Address, conv.Stage, reason, time.Now().Format("02/01/2006 15:04"), transcript.String())

	msg := EmailMessage{
		To:      n.operatorEmail,
		Subject: subject,
		Body:    body,
	}
	if err := n.email.Send(ctx, msg); err != nil {
		n.logger.Error("handoff notification failed", "error", err, "conversation_id", conv.ID)
		return fmt.Errorf("notify: handoff email: %w", err)
	}
	n.logger.Info("handoff notification sent", "conversation_id", conv.ID, "to", n.operatorEmail)
	return nil
}

// NotifyPaymentApproved tells the operator a sale closed.
func (n *HandoffNotifier) NotifyPaymentApproved(ctx context.Context, conv *conversation.Conversation, product string, amountCents int64) error {
	if n.email == nil || n.operatorEmail == "" {
		return nil
	}

	amount := fmt.Sprintf("R$ %.2f", float64(amountCents)/100)
	subject := fmt.Sprintf("💰 Pagamento aprovado - %s", conv.Address)
	body := fmt.Sprintf(`Venda confirmada no WhatsApp!

Contato: %s
Produto: %s
Valor: %s
Quando: %s

O contato já recebeu a mensagem de boas-vindas com o link de acesso.

— ZapVendas`, conv.Address, product, amount, time.Now().Format("02/01/2006 15:04"))

	msg := EmailMessage{
		To:      n.operatorEmail,
		Subject: subject,
		Body:    body,
	}
	if err := n.email.Send(ctx, msg); err != nil {
		n.logger.Error("payment notification failed", "error", err, "conversation_id", conv.ID)
		return fmt.Errorf("notify: payment email: %w", err)
	}
	return nil
}
