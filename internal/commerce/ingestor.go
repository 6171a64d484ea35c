package commerce

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"

	"github.com/zapvendas/zapfunnel/internal/conversation"
	"github.com/zapvendas/zapfunnel/internal/observability/metrics"
	"github.com/zapvendas/zapfunnel/pkg/logging"
)

// Status classifies the outcome of one webhook delivery.
type Status string

const (
	StatusUnauthorized Status = "unauthorized"
	StatusIgnored      Status = "ignored"   // recognized delivery, nothing to act on
	StatusDuplicate    Status = "duplicate" // idempotency key already processed
	StatusProcessed    Status = "processed" // side effects ran to completion
	StatusDeferred     Status = "deferred"  // recorded, side effects failed; retry can complete
)

// Result is returned to the HTTP layer. Only authentication failures map to
// a non-success response; everything else is success-shaped so at-least-once
// senders do not retry events we intentionally ignore.
type Result struct {
	Status  Status
	Kind    EventKind
	EventID string
	Err     error
}

// conversationFinder resolves the paying contact to a conversation.
type conversationFinder interface {
	FindByContact(ctx context.Context, address, email string) (*conversation.Conversation, error)
}

// PaymentProcessor runs the funnel's post-purchase and pending-invoice paths
// under the conversation guard.
type PaymentProcessor interface {
	HandlePaymentApproved(ctx context.Context, conv *conversation.Conversation, evt *Event) error
	HandlePaymentPending(ctx context.Context, conv *conversation.Conversation, evt *Event) error
}

// eventRecorder is the EventStore surface the ingestor uses.
type eventRecorder interface {
	Insert(ctx context.Context, evt *Event) (bool, error)
	Get(ctx context.Context, source, eventID string) (*Event, error)
	Claim(ctx context.Context, source, eventID string) (bool, error)
	Release(ctx context.Context, source, eventID string) error
	MarkProcessed(ctx context.Context, source, eventID string) error
	MarkOutcomeRecorded(ctx context.Context, source, eventID string) error
}

// Ingestor validates, deduplicates and executes commerce events exactly once.
type Ingestor struct {
	secret        string
	allowUnsigned bool
	store         eventRecorder
	conversations conversationFinder
	processor     PaymentProcessor
	metrics       *metrics.FunnelMetrics
	logger        *logging.Logger
}

// NewIngestor wires a webhook ingestor. allowUnsigned tolerates a missing
// signature and must only be set outside production.
func NewIngestor(secret string, allowUnsigned bool, store eventRecorder, conversations conversationFinder, processor PaymentProcessor, m *metrics.FunnelMetrics, logger *logging.Logger) *Ingestor {
	if store == nil {
		panic("commerce: event store required")
	}
	if conversations == nil {
		panic("commerce: conversation finder required")
	}
	if processor == nil {
		panic("commerce: payment processor required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Ingestor{
		secret:        secret,
		allowUnsigned: allowUnsigned,
		store:         store,
		conversations: conversations,
		processor:     processor,
		metrics:       m,
		logger:        logger,
	}
}

// Ingest processes one delivery from the named source.
func (i *Ingestor) Ingest(ctx context.Context, source string, rawBody []byte, signature string) Result {
	if !i.verifySignature(rawBody, signature) {
		i.metrics.ObserveWebhook(source, string(StatusUnauthorized))
		return Result{Status: StatusUnauthorized, Err: errors.New("commerce: invalid webhook signature")}
	}

	var doc map[string]any
	if err := json.Unmarshal(rawBody, &doc); err != nil {
		i.logger.Warn("commerce webhook: unparseable payload", "source", source, "error", err)
		i.metrics.ObserveWebhook(source, string(StatusIgnored))
		return Result{Status: StatusIgnored, Err: err}
	}

	eventID := ExtractString(doc, eventIDPaths...)
	if eventID == "" {
		i.logger.Warn("commerce webhook: missing event id", "source", source)
		i.metrics.ObserveWebhook(source, string(StatusIgnored))
		return Result{Status: StatusIgnored}
	}

	rawKind := ExtractString(doc, kindPaths...)
	evt := &Event{
		Source:       source,
		EventID:      eventID,
		Kind:         NormalizeKind(rawKind),
		RawKind:      rawKind,
		BuyerAddress: conversation.NormalizeAddress(ExtractString(doc, buyerPhonePaths...)),
		BuyerEmail:   strings.ToLower(ExtractString(doc, buyerEmailPaths...)),
		AmountCents:  ExtractAmountCents(doc, amountPaths...),
		Product:      ExtractString(doc, productPaths...),
		Raw:          rawBody,
	}

	inserted, err := i.store.Insert(ctx, evt)
	if err != nil {
		i.logger.Error("commerce webhook: persist failed", "source", source, "event_id", eventID, "error", err)
		i.metrics.ObserveWebhook(source, string(StatusDeferred))
		return Result{Status: StatusDeferred, Kind: evt.Kind, EventID: eventID, Err: err}
	}
	if !inserted {
		existing, err := i.store.Get(ctx, source, eventID)
		if err != nil {
			i.metrics.ObserveWebhook(source, string(StatusDeferred))
			return Result{Status: StatusDeferred, Kind: evt.Kind, EventID: eventID, Err: err}
		}
		if existing.Processed {
			i.logger.Info("commerce webhook: duplicate delivery",
				"source", source,
				"event_id", eventID,
			)
			i.metrics.ObserveWebhook(source, string(StatusDuplicate))
			return Result{Status: StatusDuplicate, Kind: existing.Kind, EventID: eventID}
		}
		// Recorded before but not completed: a retried delivery gets another
		// chance to run the side effects. The row itself is never re-inserted.
		evt = existing
	}

	switch evt.Kind {
	case KindApproved, KindPending:
		// The claim is the real dedup gate: two concurrent deliveries of the
		// same (source, event_id) both get past Get above, but only one of
		// them flips the processed flag.
		claimed, err := i.store.Claim(ctx, source, eventID)
		if err != nil {
			i.metrics.ObserveWebhook(source, string(StatusDeferred))
			return Result{Status: StatusDeferred, Kind: evt.Kind, EventID: eventID, Err: err}
		}
		if !claimed {
			i.logger.Info("commerce webhook: concurrent duplicate delivery",
				"source", source,
				"event_id", eventID,
			)
			i.metrics.ObserveWebhook(source, string(StatusDuplicate))
			return Result{Status: StatusDuplicate, Kind: evt.Kind, EventID: eventID}
		}
		res := i.execute(ctx, evt)
		if res.Status == StatusDeferred {
			// Reopen the event so a provider retry can complete the action.
			if err := i.store.Release(ctx, source, eventID); err != nil {
				i.logger.Error("commerce webhook: release claim failed", "source", source, "event_id", eventID, "error", err)
			}
		}
		return res
	default:
		// Audit-only kinds are marked processed immediately so replays dedup.
		if err := i.store.MarkProcessed(ctx, source, eventID); err != nil {
			i.logger.Error("commerce webhook: mark processed failed", "source", source, "event_id", eventID, "error", err)
		}
		i.metrics.ObserveWebhook(source, string(StatusIgnored))
		return Result{Status: StatusIgnored, Kind: evt.Kind, EventID: eventID}
	}
}

func (i *Ingestor) execute(ctx context.Context, evt *Event) Result {
	conv, err := i.conversations.FindByContact(ctx, evt.BuyerAddress, evt.BuyerEmail)
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			// No conversation to act on; the claim already closed the event
			// and the audit row stays.
			i.logger.Warn("commerce webhook: no conversation for buyer",
				"source", evt.Source,
				"event_id", evt.EventID,
			)
			i.metrics.ObserveWebhook(evt.Source, string(StatusIgnored))
			return Result{Status: StatusIgnored, Kind: evt.Kind, EventID: evt.EventID}
		}
		i.metrics.ObserveWebhook(evt.Source, string(StatusDeferred))
		return Result{Status: StatusDeferred, Kind: evt.Kind, EventID: evt.EventID, Err: err}
	}

	switch evt.Kind {
	case KindApproved:
		err = i.processor.HandlePaymentApproved(ctx, conv, evt)
	case KindPending:
		err = i.processor.HandlePaymentPending(ctx, conv, evt)
	}
	if err != nil {
		// The caller releases the claim on a deferred result so a retried
		// delivery can complete the action.
		i.logger.Error("commerce webhook: post-payment action failed",
			"source", evt.Source,
			"event_id", evt.EventID,
			"error", err,
		)
		i.metrics.ObserveWebhook(evt.Source, string(StatusDeferred))
		return Result{Status: StatusDeferred, Kind: evt.Kind, EventID: evt.EventID, Err: err}
	}

	if err := i.store.MarkOutcomeRecorded(ctx, evt.Source, evt.EventID); err != nil {
		i.logger.Error("commerce webhook: mark outcome failed", "error", err)
	}
	i.metrics.ObserveWebhook(evt.Source, string(StatusProcessed))
	return Result{Status: StatusProcessed, Kind: evt.Kind, EventID: evt.EventID}
}

// verifySignature checks the HMAC-SHA256 hex digest of the raw body. An
// empty header is tolerated (and logged) only when allowUnsigned is set or
// no secret is configured.
func (i *Ingestor) verifySignature(body []byte, signature string) bool {
	if i.secret == "" {
		return true
	}
	signature = strings.TrimSpace(strings.TrimPrefix(signature, "sha256="))
	if signature == "" {
		if i.allowUnsigned {
			i.logger.Warn("commerce webhook: accepting unsigned delivery (non-production mode)")
			return true
		}
		return false
	}
	mac := hmac.New(sha256.New, []byte(i.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}
