package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zapvendas/zapfunnel/internal/conversation"
	"github.com/zapvendas/zapfunnel/internal/live"
	"github.com/zapvendas/zapfunnel/internal/observability/metrics"
	"github.com/zapvendas/zapfunnel/pkg/logging"
)

// ErrFirstUnitFailed aborts a plan whose opening unit could not be sent; a
// silently skipped opening line looks broken to the user, so the whole plan
// is surfaced as an error instead.
var ErrFirstUnitFailed = errors.New("dispatch: first unit failed")

// Channel sends one unit of content to the external messaging provider. A
// call returns only after the provider has confirmed the send.
type Channel interface {
	SendText(ctx context.Context, address, body string) (string, error)
	SendAudio(ctx context.Context, address, url string) (string, error)
	SendImage(ctx context.Context, address, url string) (string, error)
}

// AssetResolver maps a symbolic content id to a deliverable URL.
type AssetResolver interface {
	Resolve(ctx context.Context, id string) (string, error)
}

// Recorder persists sent units into the conversation history.
type Recorder interface {
	AppendMessage(ctx context.Context, convID uuid.UUID, role conversation.Role, kind conversation.ContentKind, body string) (*conversation.Message, error)
}

// Delays holds the inter-unit pauses. The transport does not preserve
// ordering under back-to-back sends, so pacing is part of correctness here,
// not politeness.
type Delays struct {
	AfterAudio    time.Duration
	BetweenImages time.Duration
	AfterImageRun time.Duration
}

// Dispatcher sends plans strictly sequentially with per-kind pacing.
type Dispatcher struct {
	channel Channel
	assets  AssetResolver
	store   Recorder
	hub     *live.Hub
	metrics *metrics.FunnelMetrics
	delays  Delays
	sleep   func(ctx context.Context, d time.Duration) error
	logger  *logging.Logger
}

// NewDispatcher wires a dispatcher. hub and metrics may be nil.
func NewDispatcher(channel Channel, assets AssetResolver, store Recorder, hub *live.Hub, m *metrics.FunnelMetrics, delays Delays, logger *logging.Logger) *Dispatcher {
	if channel == nil {
		panic("dispatch: channel required")
	}
	if assets == nil {
		panic("dispatch: asset resolver required")
	}
	if store == nil {
		panic("dispatch: recorder required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{
		channel: channel,
		assets:  assets,
		store:   store,
		hub:     hub,
		metrics: m,
		delays:  delays,
		sleep:   sleepContext,
		logger:  logger,
	}
}

// WithSleeper overrides the pacing sleep. Tests use it to observe delays
// without waiting for them.
func (d *Dispatcher) WithSleeper(sleep func(ctx context.Context, dur time.Duration) error) *Dispatcher {
	if sleep != nil {
		d.sleep = sleep
	}
	return d
}

// Dispatch delivers every unit of the plan to the conversation's address in
// order. Each successfully sent unit is persisted immediately so a crash mid
// sequence leaves a correct partial history. The first unit failing aborts
// the plan; later failures are logged and skipped.
func (d *Dispatcher) Dispatch(ctx context.Context, conv *conversation.Conversation, plan Plan) error {
	if conv == nil {
		return errors.New("dispatch: conversation required")
	}
	if len(plan) == 0 {
		return nil
	}

	convID := conv.ID.String()
	d.publish(live.Event{Type: "typing.start", ConversationID: convID})
	defer d.publish(live.Event{Type: "typing.stop", ConversationID: convID})

	for i, unit := range plan {
		body, err := d.sendUnit(ctx, conv.Address, unit)
		if err != nil {
			d.metrics.ObserveDispatchUnit(string(unit.Kind), "error")
			if i == 0 {
				return fmt.Errorf("%w: %v", ErrFirstUnitFailed, err)
			}
			d.logger.Error("dispatch unit failed, continuing plan",
				"conversation_id", convID,
				"unit", i,
				"kind", unit.Kind,
				"error", err,
			)
			continue
		}
		d.metrics.ObserveDispatchUnit(string(unit.Kind), "sent")

		msg, err := d.store.AppendMessage(ctx, conv.ID, conversation.RoleAutomated, contentKind(unit.Kind), body)
		if err != nil {
			// The unit reached the user; losing the history row is bad but
			// must not stop the remaining plan.
			d.logger.Error("failed to persist dispatched unit",
				"conversation_id", convID,
				"kind", unit.Kind,
				"error", err,
			)
		} else {
			event := live.NewEvent("message.created", convID)
			event.Role = string(msg.Role)
			event.Kind = string(msg.Kind)
			event.Body = msg.Body
			d.publish(event)
		}

		if i < len(plan)-1 {
			if err := d.sleep(ctx, d.delayAfter(plan, i)); err != nil {
				return fmt.Errorf("dispatch: interrupted between units: %w", err)
			}
		}
	}
	return nil
}

func (d *Dispatcher) sendUnit(ctx context.Context, address string, unit Unit) (string, error) {
	switch unit.Kind {
	case UnitText:
		if _, err := d.channel.SendText(ctx, address, unit.Body); err != nil {
			return "", err
		}
		return unit.Body, nil
	case UnitAudio:
		url, err := d.assets.Resolve(ctx, unit.AssetID)
		if err != nil {
			return "", fmt.Errorf("resolve audio asset %q: %w", unit.AssetID, err)
		}
		if _, err := d.channel.SendAudio(ctx, address, url); err != nil {
			return "", err
		}
		return url, nil
	case UnitImage:
		url, err := d.assets.Resolve(ctx, unit.AssetID)
		if err != nil {
			return "", fmt.Errorf("resolve image asset %q: %w", unit.AssetID, err)
		}
		if _, err := d.channel.SendImage(ctx, address, url); err != nil {
			return "", err
		}
		return url, nil
	default:
		return "", fmt.Errorf("dispatch: unknown unit kind %q", unit.Kind)
	}
}

// delayAfter picks the pause between plan[i] and plan[i+1]. Images sent
// back-to-back and immediately followed by text can arrive out of order on
// some transports, so the last image of a run gets the longer pause.
func (d *Dispatcher) delayAfter(plan Plan, i int) time.Duration {
	switch plan[i].Kind {
	case UnitAudio:
		return d.delays.AfterAudio
	case UnitImage:
		if plan[i+1].Kind == UnitImage {
			return d.delays.BetweenImages
		}
		return d.delays.AfterImageRun
	default:
		return 0
	}
}

func (d *Dispatcher) publish(event live.Event) {
	if d.hub == nil {
		return
	}
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	d.hub.Publish(event.ConversationID, event)
}

func contentKind(kind UnitKind) conversation.ContentKind {
	switch kind {
	case UnitAudio:
		return conversation.KindAudio
	case UnitImage:
		return conversation.KindImage
	default:
		return conversation.KindText
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
