package funnel

import (
	"github.com/zapvendas/zapfunnel/internal/conversation"
)

// ActionKind is what the pipeline should do after a transition.
type ActionKind string

const (
	ActionNone    ActionKind = "none"
	ActionPackage ActionKind = "package"
	ActionModel   ActionKind = "model"
	ActionHandoff ActionKind = "handoff"
)

// Action is the side of a decision describing what to run.
type Action struct {
	Kind    ActionKind
	Package string // set when Kind == ActionPackage
	Reason  string // set when Kind == ActionHandoff
}

// Decision is the outcome of handling one inbound burst.
type Decision struct {
	Intent    Intent
	NextStage conversation.Stage
	Action    Action
}

type stageIntent struct {
	stage  conversation.Stage
	intent Intent
}

type transition struct {
	next   conversation.Stage
	action Action
}

func pkg(next conversation.Stage, name string) transition {
	return transition{next: next, action: Action{Kind: ActionPackage, Package: name}}
}

func model(next conversation.Stage) transition {
	return transition{next: next, action: Action{Kind: ActionModel}}
}

func handoff(next conversation.Stage, reason string) transition {
	return transition{next: next, action: Action{Kind: ActionHandoff, Reason: reason}}
}

// transitions is the static funnel table. Combinations absent here fall
// through to the model, which keeps the table honest about what wording is
// actually scripted.
var transitions = map[stageIntent]transition{
	{conversation.StageNew, IntentGreeting}:      pkg(conversation.StageWarming, PackageWelcome),
	{conversation.StageNew, IntentPainPoint}:     pkg(conversation.StageWarming, PackagePainAck),
	{conversation.StageNew, IntentPlanQuestion}:  pkg(conversation.StageWarm, PackagePlansOverview),
	{conversation.StageNew, IntentPriceQuestion}: pkg(conversation.StageWarm, PackagePlansOverview),
	{conversation.StageNew, IntentBuySignal}:     pkg(conversation.StageHot, PackageCheckoutLink),

	{conversation.StageWarming, IntentPainPoint}:     pkg(conversation.StageWarm, PackagePainAck),
	{conversation.StageWarming, IntentPlanQuestion}:  pkg(conversation.StageWarm, PackagePlansOverview),
	{conversation.StageWarming, IntentPriceQuestion}: pkg(conversation.StageWarm, PackagePlansOverview),
	{conversation.StageWarming, IntentBuySignal}:     pkg(conversation.StageHot, PackageCheckoutLink),

	{conversation.StageWarm, IntentBuySignal}:    pkg(conversation.StageHot, PackageCheckoutLink),
	{conversation.StageWarm, IntentPlanQuestion}: pkg(conversation.StageWarm, PackagePlansOverview),

	{conversation.StageHot, IntentBuySignal}:    pkg(conversation.StageHot, PackageCheckoutLink),
	{conversation.StageHot, IntentPaymentClaim}: handoff(conversation.StageHot, "customer reports payment, needs manual verification"),

	{conversation.StagePendingInvoice, IntentBuySignal}:    pkg(conversation.StagePendingInvoice, PackageCheckoutLink),
	{conversation.StagePendingInvoice, IntentPaymentClaim}: handoff(conversation.StagePendingInvoice, "customer reports payment while invoice pending"),
}

// Machine decides stage transitions and actions for inbound bursts.
type Machine struct{}

// NewMachine creates the funnel state machine.
func NewMachine() *Machine {
	return &Machine{}
}

// Handle classifies the burst and resolves the transition table.
//
// Rules, in priority order: an active human takeover freezes everything
// before any classification runs; a support intent forces a handoff from any
// stage; otherwise the static table decides, and unmatched combinations
// defer wording to the model at the current stage.
func (m *Machine) Handle(conv *conversation.Conversation, text string) Decision {
	if conv.HumanTakeover {
		return Decision{
			Intent:    IntentUnknown,
			NextStage: conv.Stage,
			Action:    Action{Kind: ActionNone},
		}
	}

	intent := Detect(text, conv.Metadata)

	if intent == IntentSupport {
		return Decision{
			Intent:    intent,
			NextStage: conv.Stage,
			Action:    Action{Kind: ActionHandoff, Reason: "support or complaint intent"},
		}
	}

	tr, ok := transitions[stageIntent{conv.Stage, intent}]
	if !ok {
		return Decision{
			Intent:    intent,
			NextStage: conv.Stage,
			Action:    Action{Kind: ActionModel},
		}
	}

	// Repeating the checkout script at someone who already has the link reads
	// like a bot; let the model answer instead.
	if tr.action.Kind == ActionPackage && tr.action.Package == PackageCheckoutLink && conv.Metadata.CheckoutLinkSent {
		return Decision{
			Intent:    intent,
			NextStage: tr.next,
			Action:    Action{Kind: ActionModel},
		}
	}

	return Decision{Intent: intent, NextStage: tr.next, Action: tr.action}
}

// HandlePaymentApproved is the post-purchase path driven by the webhook
// ingestor rather than by inbound text.
func (m *Machine) HandlePaymentApproved(conv *conversation.Conversation) Decision {
	if conv.HumanTakeover {
		return Decision{NextStage: conv.Stage, Action: Action{Kind: ActionNone}}
	}
	return Decision{
		NextStage: conversation.StagePostPurchase,
		Action:    Action{Kind: ActionPackage, Package: PackagePostPurchase},
	}
}

// HandlePaymentPending moves the conversation to the pending-invoice stage
// and nudges once.
func (m *Machine) HandlePaymentPending(conv *conversation.Conversation) Decision {
	if conv.HumanTakeover {
		return Decision{NextStage: conv.Stage, Action: Action{Kind: ActionNone}}
	}
	if conv.Stage == conversation.StagePostPurchase {
		// A pending event arriving after approval is stale; keep the stage.
		return Decision{NextStage: conv.Stage, Action: Action{Kind: ActionNone}}
	}
	action := Action{Kind: ActionPackage, Package: PackagePendingInvoice}
	if conv.Metadata.PendingInvoiceNudged {
		action = Action{Kind: ActionNone}
	}
	return Decision{NextStage: conversation.StagePendingInvoice, Action: action}
}
