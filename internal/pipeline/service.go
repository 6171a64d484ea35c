package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zapvendas/zapfunnel/internal/commerce"
	"github.com/zapvendas/zapfunnel/internal/conversation"
	"github.com/zapvendas/zapfunnel/internal/dispatch"
	"github.com/zapvendas/zapfunnel/internal/funnel"
	"github.com/zapvendas/zapfunnel/internal/observability/metrics"
	"github.com/zapvendas/zapfunnel/pkg/logging"
)

const (
	defaultHistoryLimit = 40

	handoffReply = "Entendi! Vou chamar alguém do time pra te ajudar pessoalmente, só um instante 🙏"
)

// conversationStore is the persistence surface the pipeline reads and writes.
type conversationStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*conversation.Conversation, error)
	UpdateStage(ctx context.Context, id uuid.UUID, stage conversation.Stage) error
	SetHumanTakeover(ctx context.Context, id uuid.UUID, takeover bool) error
	UpdateMetadata(ctx context.Context, id uuid.UUID, meta conversation.Metadata) error
	AppendMessage(ctx context.Context, convID uuid.UUID, role conversation.Role, kind conversation.ContentKind, body string) (*conversation.Message, error)
	History(ctx context.Context, convID uuid.UUID, limit int) ([]conversation.Message, error)
}

// planDispatcher delivers a plan to the contact.
type planDispatcher interface {
	Dispatch(ctx context.Context, conv *conversation.Conversation, plan dispatch.Plan) error
}

// replyGenerator produces a model-written reply plan.
type replyGenerator interface {
	Generate(ctx context.Context, conv *conversation.Conversation, history []conversation.Message) dispatch.Plan
}

// operatorNotifier alerts the human operator out-of-band.
type operatorNotifier interface {
	NotifyHandoff(ctx context.Context, conv *conversation.Conversation, reason string, recent []conversation.Message) error
	NotifyPaymentApproved(ctx context.Context, conv *conversation.Conversation, product string, amountCents int64) error
}

// Service is the funnel pipeline: one pass per debounced burst or payment
// event, strictly serialized per conversation by the guard. It also fronts
// the commerce ingestor as its payment processor.
type Service struct {
	store      conversationStore
	guard      *conversation.Guard
	machine    *funnel.Machine
	dispatcher planDispatcher
	gateway    replyGenerator
	links      funnel.LinkResolver
	notifier   operatorNotifier
	transcript *conversation.TranscriptCache
	metrics    *metrics.FunnelMetrics
	logger     *logging.Logger

	historyLimit int
}

// NewService wires the pipeline. notifier and metrics may be nil.
func NewService(
	store conversationStore,
	guard *conversation.Guard,
	machine *funnel.Machine,
	dispatcher planDispatcher,
	gateway replyGenerator,
	links funnel.LinkResolver,
	notifier operatorNotifier,
	m *metrics.FunnelMetrics,
	logger *logging.Logger,
) *Service {
	if store == nil {
		panic("pipeline: conversation store required")
	}
	if guard == nil {
		panic("pipeline: guard required")
	}
	if machine == nil {
		panic("pipeline: funnel machine required")
	}
	if dispatcher == nil {
		panic("pipeline: dispatcher required")
	}
	if gateway == nil {
		panic("pipeline: reply generator required")
	}
	if links == nil {
		panic("pipeline: link resolver required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		store:        store,
		guard:        guard,
		machine:      machine,
		dispatcher:   dispatcher,
		gateway:      gateway,
		links:        links,
		notifier:     notifier,
		metrics:      m,
		logger:       logger,
		historyLimit: defaultHistoryLimit,
	}
}

// WithTranscript reads model prompt history from the redis transcript cache,
// falling back to Postgres on a miss.
func (s *Service) WithTranscript(cache *conversation.TranscriptCache) *Service {
	s.transcript = cache
	return s
}

// ProcessBurst runs one funnel pass for a debounced burst of inbound text.
// The conversation state is re-read under the guard, so a pass always sees
// the outcome of the pass before it.
func (s *Service) ProcessBurst(ctx context.Context, convID uuid.UUID, burst string) error {
	s.guard.Lock(convID)
	defer s.guard.Unlock(convID)

	start := time.Now()

	conv, err := s.store.GetByID(ctx, convID)
	if err != nil {
		return fmt.Errorf("pipeline: load conversation %s: %w", convID, err)
	}

	decision := s.machine.Handle(conv, burst)
	defer func() {
		s.metrics.ObservePipelinePass(string(decision.Action.Kind), time.Since(start).Seconds())
	}()

	s.logger.Info("funnel pass",
		"conversation_id", convID,
		"stage", conv.Stage,
		"intent", decision.Intent,
		"action", decision.Action.Kind,
		"next_stage", decision.NextStage,
	)

	switch decision.Action.Kind {
	case funnel.ActionNone:
		return nil

	case funnel.ActionHandoff:
		return s.handoff(ctx, conv, decision.Action.Reason)

	case funnel.ActionPackage:
		plan, ok := funnel.Package(decision.Action.Package)
		if !ok {
			return fmt.Errorf("pipeline: unknown package %q", decision.Action.Package)
		}
		plan, err = funnel.ExpandLinks(ctx, plan, s.links)
		if err != nil {
			return fmt.Errorf("pipeline: expand package %q: %w", decision.Action.Package, err)
		}
		if err := s.dispatcher.Dispatch(ctx, conv, plan); err != nil {
			// Dispatch failed before anything reached the contact; keep the
			// stage so the next burst retries the same transition.
			return fmt.Errorf("pipeline: dispatch package %q: %w", decision.Action.Package, err)
		}
		s.recordPackageSent(ctx, conv, decision.Action.Package)

	case funnel.ActionModel:
		history, err := s.modelHistory(ctx, convID)
		if err != nil {
			return fmt.Errorf("pipeline: load history: %w", err)
		}
		plan := s.gateway.Generate(ctx, conv, history)
		if err := s.dispatcher.Dispatch(ctx, conv, plan); err != nil {
			return fmt.Errorf("pipeline: dispatch model reply: %w", err)
		}

	default:
		return fmt.Errorf("pipeline: unknown action %q", decision.Action.Kind)
	}

	if decision.NextStage != conv.Stage {
		if err := s.store.UpdateStage(ctx, convID, decision.NextStage); err != nil {
			return fmt.Errorf("pipeline: update stage: %w", err)
		}
	}
	return nil
}

// modelHistory prefers the cached transcript for the prompt; the
// authoritative Postgres history serves misses and errors.
func (s *Service) modelHistory(ctx context.Context, convID uuid.UUID) ([]conversation.Message, error) {
	entries, err := s.transcript.Recent(ctx, convID, int64(s.historyLimit))
	if err != nil {
		s.logger.Warn("transcript read failed, using database history",
			"conversation_id", convID,
			"error", err,
		)
	}
	if len(entries) == 0 {
		return s.store.History(ctx, convID, s.historyLimit)
	}

	history := make([]conversation.Message, 0, len(entries))
	for _, entry := range entries {
		id, _ := uuid.Parse(entry.ID)
		history = append(history, conversation.Message{
			ID:             id,
			ConversationID: convID,
			Role:           entry.Role,
			Kind:           entry.Kind,
			Body:           entry.Body,
			CreatedAt:      entry.Timestamp,
		})
	}
	return history, nil
}

// handoff pauses the automation, leaves an audit note in the history, tells
// the contact a human is coming and alerts the operator.
func (s *Service) handoff(ctx context.Context, conv *conversation.Conversation, reason string) error {
	if err := s.store.SetHumanTakeover(ctx, conv.ID, true); err != nil {
		return fmt.Errorf("pipeline: set takeover: %w", err)
	}
	if _, err := s.store.AppendMessage(ctx, conv.ID, conversation.RoleSystemNote, conversation.KindText,
		"automação pausada: "+reason); err != nil {
		s.logger.Error("failed to record handoff note", "conversation_id", conv.ID, "error", err)
	}

	if err := s.dispatcher.Dispatch(ctx, conv, dispatch.Text(handoffReply)); err != nil {
		// The operator is coming either way; the courtesy line failing must
		// not undo the takeover.
		s.logger.Error("failed to send handoff reply", "conversation_id", conv.ID, "error", err)
	}

	if s.notifier != nil {
		recent, err := s.store.History(ctx, conv.ID, 10)
		if err != nil {
			s.logger.Warn("failed to load history for handoff notice", "error", err)
		}
		if err := s.notifier.NotifyHandoff(ctx, conv, reason, recent); err != nil {
			s.logger.Error("handoff notification failed", "conversation_id", conv.ID, "error", err)
		}
	}
	return nil
}

// recordPackageSent persists the metadata flags that suppress repeat sends.
func (s *Service) recordPackageSent(ctx context.Context, conv *conversation.Conversation, name string) {
	meta := conv.Metadata
	changed := false
	switch name {
	case funnel.PackageCheckoutLink:
		if !meta.CheckoutLinkSent {
			meta.CheckoutLinkSent = true
			changed = true
		}
	case funnel.PackagePainAck:
		if !meta.PainAcknowledged {
			meta.PainAcknowledged = true
			changed = true
		}
	}
	if !changed {
		return
	}
	if err := s.store.UpdateMetadata(ctx, conv.ID, meta); err != nil {
		s.logger.Error("failed to update conversation metadata",
			"conversation_id", conv.ID,
			"package", name,
			"error", err,
		)
	}
}

// HandlePaymentApproved runs the post-purchase path for a confirmed payment.
// Called synchronously by the webhook ingestor; an error leaves the event
// unprocessed so a provider retry can complete it.
func (s *Service) HandlePaymentApproved(ctx context.Context, conv *conversation.Conversation, evt *commerce.Event) error {
	s.guard.Lock(conv.ID)
	defer s.guard.Unlock(conv.ID)

	start := time.Now()
	defer func() {
		s.metrics.ObservePipelinePass("payment_approved", time.Since(start).Seconds())
	}()

	// Re-read under the lock; the row may have moved while we waited.
	conv, err := s.store.GetByID(ctx, conv.ID)
	if err != nil {
		return fmt.Errorf("pipeline: reload conversation: %w", err)
	}

	decision := s.machine.HandlePaymentApproved(conv)
	if decision.Action.Kind == funnel.ActionNone {
		// Takeover active: the operator closes the sale by hand. Record the
		// event in history so they see it.
		if _, err := s.store.AppendMessage(ctx, conv.ID, conversation.RoleSystemNote, conversation.KindText,
			fmt.Sprintf("pagamento aprovado (%s, R$ %.2f) durante atendimento humano", evt.Product, float64(evt.AmountCents)/100)); err != nil {
			s.logger.Error("failed to record payment note", "conversation_id", conv.ID, "error", err)
		}
		s.notifyPayment(ctx, conv, evt)
		return nil
	}

	plan, ok := funnel.Package(decision.Action.Package)
	if !ok {
		return fmt.Errorf("pipeline: unknown package %q", decision.Action.Package)
	}
	plan, err = funnel.ExpandLinks(ctx, plan, s.links)
	if err != nil {
		return fmt.Errorf("pipeline: expand package %q: %w", decision.Action.Package, err)
	}
	if err := s.dispatcher.Dispatch(ctx, conv, plan); err != nil {
		return fmt.Errorf("pipeline: dispatch post-purchase: %w", err)
	}

	if err := s.store.UpdateStage(ctx, conv.ID, decision.NextStage); err != nil {
		return fmt.Errorf("pipeline: update stage: %w", err)
	}

	meta := conv.Metadata
	meta.AccessLinkSent = true
	if meta.Email == "" && evt.BuyerEmail != "" {
		meta.Email = evt.BuyerEmail
	}
	if err := s.store.UpdateMetadata(ctx, conv.ID, meta); err != nil {
		s.logger.Error("failed to update metadata after payment", "conversation_id", conv.ID, "error", err)
	}

	s.notifyPayment(ctx, conv, evt)
	return nil
}

// HandlePaymentPending moves the conversation to the pending-invoice stage
// and nudges the buyer once.
func (s *Service) HandlePaymentPending(ctx context.Context, conv *conversation.Conversation, evt *commerce.Event) error {
	s.guard.Lock(conv.ID)
	defer s.guard.Unlock(conv.ID)

	start := time.Now()
	defer func() {
		s.metrics.ObservePipelinePass("payment_pending", time.Since(start).Seconds())
	}()

	conv, err := s.store.GetByID(ctx, conv.ID)
	if err != nil {
		return fmt.Errorf("pipeline: reload conversation: %w", err)
	}

	decision := s.machine.HandlePaymentPending(conv)

	if decision.Action.Kind == funnel.ActionPackage {
		plan, ok := funnel.Package(decision.Action.Package)
		if !ok {
			return fmt.Errorf("pipeline: unknown package %q", decision.Action.Package)
		}
		plan, err = funnel.ExpandLinks(ctx, plan, s.links)
		if err != nil {
			return fmt.Errorf("pipeline: expand package %q: %w", decision.Action.Package, err)
		}
		if err := s.dispatcher.Dispatch(ctx, conv, plan); err != nil {
			return fmt.Errorf("pipeline: dispatch pending nudge: %w", err)
		}
		meta := conv.Metadata
		meta.PendingInvoiceNudged = true
		if err := s.store.UpdateMetadata(ctx, conv.ID, meta); err != nil {
			s.logger.Error("failed to update metadata after pending nudge", "conversation_id", conv.ID, "error", err)
		}
	}

	if decision.NextStage != conv.Stage {
		if err := s.store.UpdateStage(ctx, conv.ID, decision.NextStage); err != nil {
			return fmt.Errorf("pipeline: update stage: %w", err)
		}
	}
	return nil
}

func (s *Service) notifyPayment(ctx context.Context, conv *conversation.Conversation, evt *commerce.Event) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyPaymentApproved(ctx, conv, evt.Product, evt.AmountCents); err != nil {
		s.logger.Error("payment notification failed", "conversation_id", conv.ID, "error", err)
	}
}

var _ commerce.PaymentProcessor = (*Service)(nil)
