package conversation

import (
	"time"

	"github.com/google/uuid"
)

// Stage is a conversation's position in the sales funnel.
type Stage string

const (
	StageNew            Stage = "new"
	StageWarming        Stage = "warming"
	StageWarm           Stage = "warm"
	StageHot            Stage = "hot"
	StagePendingInvoice Stage = "pending_invoice"
	StagePostPurchase   Stage = "post_purchase"
)

// ValidStage reports whether s is a known funnel stage.
func ValidStage(s Stage) bool {
	switch s {
	case StageNew, StageWarming, StageWarm, StageHot, StagePendingInvoice, StagePostPurchase:
		return true
	}
	return false
}

// Role classifies who produced a message.
type Role string

const (
	RoleInbound    Role = "inbound"
	RoleAutomated  Role = "automated"
	RoleHuman      Role = "human"
	RoleSystemNote Role = "system_note"
)

// ContentKind is the media type of a message.
type ContentKind string

const (
	KindText  ContentKind = "text"
	KindAudio ContentKind = "audio"
	KindImage ContentKind = "image"
)

// Metadata carries the small set of flags the funnel logic reads, plus a
// passthrough bag for fields recorded but never inspected.
type Metadata struct {
	PlanInterest         string            `json:"plan_interest,omitempty"`
	PainAcknowledged     bool              `json:"pain_acknowledged,omitempty"`
	CheckoutLinkSent     bool              `json:"checkout_link_sent,omitempty"`
	AccessLinkSent       bool              `json:"access_link_sent,omitempty"`
	PendingInvoiceNudged bool              `json:"pending_invoice_nudged,omitempty"`
	Email                string            `json:"email,omitempty"`
	Extra                map[string]string `json:"extra,omitempty"`
}

// Conversation is one WhatsApp contact's funnel state.
type Conversation struct {
	ID            uuid.UUID
	Address       string // external WhatsApp address, digits only
	Stage         Stage
	Metadata      Metadata
	HumanTakeover bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Message is an immutable entry in a conversation's history, ordered by Seq.
type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	Role           Role
	Kind           ContentKind
	Body           string
	Seq            int64
	CreatedAt      time.Time
}
