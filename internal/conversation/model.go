package conversation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// State is the conversation state machine position.
type State string

const (
	StatePending                  State = "pending"
	StateAwaitingAvailability     State = "awaiting_availability"
	StateAwaitingHadirotQuestion  State = "awaiting_hadirot_question"
	StateAwaitingListingSelection State = "awaiting_listing_selection"
	StateAwaitingReportResponse   State = "awaiting_report_response"
	StateCallbackSent             State = "callback_sent"
	StateAwaitingDisambiguation   State = "awaiting_disambiguation"
	StateCompleted                State = "completed"
	StateExpiredLink              State = "expired_link"
)

// Terminal reports whether no further transition may leave this state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateExpiredLink
}

// AwaitsYesNo reports whether the state expects a yes/no answer about the
// listing itself.
func (s State) AwaitsYesNo() bool {
	return s == StateAwaitingAvailability || s == StateAwaitingReportResponse
}

// Kind labels what started the conversation.
type Kind string

const (
	KindRenewal        Kind = "renewal"
	KindCallback       Kind = "callback"
	KindReportRented   Kind = "report_rented"
	KindDisambiguation Kind = "disambiguation"
)

// Label renders the kind for disambiguation menus.
func (k Kind) Label() string {
	switch k {
	case KindRenewal:
		return "renewal"
	case KindCallback:
		return "callback"
	case KindReportRented:
		return "report rented"
	case KindDisambiguation:
		return "disambiguation"
	default:
		return string(k)
	}
}

// Action records what a finished conversation did.
type Action string

const (
	ActionExtended      Action = "extended"
	ActionDeactivated   Action = "deactivated"
	ActionKeptActive    Action = "kept_active"
	ActionDisambiguated Action = "disambiguated"
	ActionAcknowledged  Action = "acknowledged"
	ActionExpiredLink   Action = "expired_link"
)

// ListingCandidate is one numbered option in a listing-selection menu.
type ListingCandidate struct {
	ListingID  uuid.UUID `json:"listing_id"`
	Descriptor string    `json:"descriptor"`
}

// SelectionMetadata carries the listings offered in an
// awaiting_listing_selection conversation.
type SelectionMetadata struct {
	Candidates []ListingCandidate `json:"candidates"`
}

// DisambiguationCandidate is one numbered option in a disambiguation menu,
// pointing at the conversation it would select.
type DisambiguationCandidate struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	Descriptor     string    `json:"descriptor"`
}

// DisambiguationMetadata records the ambiguous reply and the candidates it
// could have been meant for. The original reply is replayed against the
// selected conversation once the owner picks a number.
type DisambiguationMetadata struct {
	OriginalReply string                    `json:"original_reply"`
	Candidates    []DisambiguationCandidate `json:"candidates"`
}

// Metadata is a tagged variant: at most one branch is set, matching the
// conversation state that consumes it.
type Metadata struct {
	Selection      *SelectionMetadata      `json:"selection,omitempty"`
	Disambiguation *DisambiguationMetadata `json:"disambiguation,omitempty"`
}

// Empty reports whether no variant is populated.
func (m Metadata) Empty() bool {
	return m.Selection == nil && m.Disambiguation == nil
}

// Conversation is one tracked SMS dialogue for a phone number, scoped to one
// listing or to a disambiguation decision.
type Conversation struct {
	ID              uuid.UUID
	Phone           string
	ListingID       *uuid.UUID
	BatchID         *uuid.UUID
	BatchPosition   int
	BatchSize       int
	State           State
	Kind            Kind
	ExpiresAt       time.Time
	Metadata        Metadata
	LastReply       string
	ActionTaken     Action
	FoundViaHadirot *bool
	PromptSentAt    *time.Time
	ReplyReceivedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Expired reports whether the conversation's reply window has passed.
func (c *Conversation) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// InBatch reports whether this conversation belongs to a renewal batch.
func (c *Conversation) InBatch() bool {
	return c.BatchID != nil
}

// InboundMessage is one webhook delivery after transport parsing.
type InboundMessage struct {
	Phone             string
	Body              string
	ProviderMessageID string
}

// OutboundReply is a message the engine wants delivered.
type OutboundReply struct {
	To             string
	From           string
	Body           string
	Source         string
	ConversationID *uuid.UUID
	ListingID      *uuid.UUID
	Metadata       map[string]string
}

// ReplyMessenger delivers outbound SMS. Implementations live in the
// messaging package; sends are fire-and-forget from the engine's view.
type ReplyMessenger interface {
	SendReply(ctx context.Context, reply OutboundReply) error
}
