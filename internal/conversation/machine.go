package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hadirot/renewal-engine/internal/listings"
	"github.com/hadirot/renewal-engine/pkg/logging"
)

// ListingStore is the slice of the listing store the engine mutates through.
type ListingStore interface {
	GetByID(ctx context.Context, q listings.Querier, id uuid.UUID) (*listings.Listing, error)
	ActiveApprovedByPhone(ctx context.Context, q listings.Querier, phone string) ([]listings.Listing, error)
	Extend(ctx context.Context, q listings.Querier, id uuid.UUID, newExpiry, now time.Time) error
	Deactivate(ctx context.Context, q listings.Querier, id uuid.UUID, now time.Time) error
	SetAttribution(ctx context.Context, q listings.Querier, id uuid.UUID, foundViaHadirot bool) error
}

// Outcome describes what a transition did. The caller persists the mutated
// conversation and sends Reply after the transaction commits.
type Outcome struct {
	Reply          string
	ReplySource    string
	ListingMutated bool
	// AdvanceBatch is set when the conversation completed via the extended
	// or deactivated-then-attributed paths, which hand off to the sequencer.
	AdvanceBatch bool
}

const (
	// SourceWebhookReply tags inbound owner messages in the log.
	SourceWebhookReply = "webhook_reply"
	// SourceSystemResponse tags replies the state machine produces.
	SourceSystemResponse = "system_response"
	// SourceRenewalReminder tags availability prompts sent by the sequencer.
	SourceRenewalReminder = "renewal_reminder"
	// SourceFallback tags rate-limited replies to unrecognized senders.
	SourceFallback = "fallback"
)

// Machine applies state transitions for a single conversation. All listing
// mutations go through the supplied Querier so the caller can commit the
// listing change and the conversation update as one transaction.
type Machine struct {
	listings      ListingStore
	templates     *Templates
	renewalWindow time.Duration
	now           func() time.Time
	logger        *logging.Logger
}

func NewMachine(listingStore ListingStore, templates *Templates, renewalWindow time.Duration, logger *logging.Logger) *Machine {
	if logger == nil {
		logger = logging.Default()
	}
	return &Machine{
		listings:      listingStore,
		templates:     templates,
		renewalWindow: renewalWindow,
		now:           time.Now,
		logger:        logger,
	}
}

// Apply advances conv for one inbound message. conv is mutated in memory;
// persisting it is the caller's job. Terminal conversations are never
// advanced, which makes webhook redelivery a no-op.
func (m *Machine) Apply(ctx context.Context, q Querier, conv *Conversation, body string, cls Classification) (Outcome, error) {
	if conv.State.Terminal() {
		return Outcome{}, nil
	}

	now := m.now()

	// Expiry check precedes all other transition logic.
	if conv.Expired(now) {
		conv.State = StateExpiredLink
		conv.ActionTaken = ActionExpiredLink
		conv.LastReply = body
		conv.ReplyReceivedAt = &now
		return Outcome{Reply: m.templates.ExpiredRedirect(), ReplySource: SourceSystemResponse}, nil
	}

	conv.LastReply = body
	conv.ReplyReceivedAt = &now

	switch conv.State {
	case StateAwaitingAvailability:
		return m.applyAvailability(ctx, q, conv, cls, now)
	case StateAwaitingHadirotQuestion:
		return m.applyHadirotQuestion(ctx, q, conv, cls, now)
	case StateAwaitingListingSelection:
		return m.applyListingSelection(ctx, q, conv, cls, now)
	case StateAwaitingReportResponse:
		return m.applyReportResponse(ctx, q, conv, cls, now)
	case StateCallbackSent:
		return m.applyCallbackSent(ctx, q, conv, cls, now)
	default:
		return Outcome{}, fmt.Errorf("conversation: no transition table for state %q", conv.State)
	}
}

func (m *Machine) applyAvailability(ctx context.Context, q Querier, conv *Conversation, cls Classification, now time.Time) (Outcome, error) {
	listing, err := m.conversationListing(ctx, q, conv)
	if err != nil {
		return Outcome{}, err
	}

	switch cls.Intent {
	case IntentAffirmative:
		newExpiry := m.extendedExpiry(listing, now)
		if err := m.listings.Extend(ctx, q, listing.ID, newExpiry, now); err != nil {
			return Outcome{}, err
		}
		conv.State = StateCompleted
		conv.ActionTaken = ActionExtended
		m.logger.Info("listing renewed",
			"listing_id", listing.ID,
			"conversation_id", conv.ID,
			"new_expiry", newExpiry,
		)
		return Outcome{
			Reply:          m.templates.RenewalConfirmation(listing.Descriptor(), newExpiry),
			ReplySource:    SourceSystemResponse,
			ListingMutated: true,
			AdvanceBatch:   true,
		}, nil

	case IntentNegative, IntentDeactivation:
		if err := m.listings.Deactivate(ctx, q, listing.ID, now); err != nil {
			return Outcome{}, err
		}
		conv.State = StateAwaitingHadirotQuestion
		return Outcome{
			Reply:          m.templates.AttributionQuestion(listing.ClosedVerb()),
			ReplySource:    SourceSystemResponse,
			ListingMutated: true,
		}, nil

	case IntentHelp:
		if conv.InBatch() {
			return Outcome{
				Reply:       m.templates.BatchSummary(listing.Descriptor(), conv.BatchPosition, conv.BatchSize),
				ReplySource: SourceSystemResponse,
			}, nil
		}
		return Outcome{
			Reply:       m.templates.AvailabilityPrompt(listing.Descriptor(), 1, 1),
			ReplySource: SourceSystemResponse,
		}, nil

	default:
		return Outcome{
			Reply:       m.templates.YesNoReprompt(listing.Descriptor()),
			ReplySource: SourceSystemResponse,
		}, nil
	}
}

func (m *Machine) applyHadirotQuestion(ctx context.Context, q Querier, conv *Conversation, cls Classification, now time.Time) (Outcome, error) {
	switch cls.Intent {
	case IntentAffirmative, IntentNegative:
		listing, err := m.conversationListing(ctx, q, conv)
		if err != nil {
			return Outcome{}, err
		}
		found := cls.Intent == IntentAffirmative
		if err := m.listings.SetAttribution(ctx, q, listing.ID, found); err != nil {
			return Outcome{}, err
		}
		conv.FoundViaHadirot = &found
		conv.State = StateCompleted
		conv.ActionTaken = ActionDeactivated
		return Outcome{
			Reply:          m.templates.AttributionThanks(),
			ReplySource:    SourceSystemResponse,
			ListingMutated: true,
			AdvanceBatch:   true,
		}, nil
	default:
		// This state deliberately never re-prompts; wait for a clean yes/no.
		return Outcome{}, nil
	}
}

func (m *Machine) applyListingSelection(ctx context.Context, q Querier, conv *Conversation, cls Classification, now time.Time) (Outcome, error) {
	meta := conv.Metadata.Selection
	if meta == nil || len(meta.Candidates) == 0 {
		return Outcome{}, errors.New("conversation: selection conversation missing candidates")
	}

	index := SelectionIndex(conv.LastReply)
	if cls.Intent != IntentSelection || index < 1 || index > len(meta.Candidates) {
		return Outcome{
			Reply:       m.templates.SelectionMenu(candidateDescriptors(meta.Candidates)),
			ReplySource: SourceSystemResponse,
		}, nil
	}

	chosen := meta.Candidates[index-1]
	listing, err := m.listings.GetByID(ctx, q, chosen.ListingID)
	if err != nil {
		return Outcome{}, err
	}
	if err := m.listings.Deactivate(ctx, q, listing.ID, now); err != nil {
		return Outcome{}, err
	}
	listingID := listing.ID
	conv.ListingID = &listingID
	conv.State = StateAwaitingHadirotQuestion
	return Outcome{
		Reply:          m.templates.AttributionQuestion(listing.ClosedVerb()),
		ReplySource:    SourceSystemResponse,
		ListingMutated: true,
	}, nil
}

func (m *Machine) applyReportResponse(ctx context.Context, q Querier, conv *Conversation, cls Classification, now time.Time) (Outcome, error) {
	listing, err := m.conversationListing(ctx, q, conv)
	if err != nil {
		return Outcome{}, err
	}

	switch cls.Intent {
	case IntentAffirmative:
		conv.State = StateCompleted
		conv.ActionTaken = ActionKeptActive
		return Outcome{
			Reply:       m.templates.KeptActiveConfirmation(listing.Descriptor()),
			ReplySource: SourceSystemResponse,
		}, nil
	case IntentNegative, IntentDeactivation:
		if err := m.listings.Deactivate(ctx, q, listing.ID, now); err != nil {
			return Outcome{}, err
		}
		conv.State = StateAwaitingHadirotQuestion
		return Outcome{
			Reply:          m.templates.AttributionQuestion(listing.ClosedVerb()),
			ReplySource:    SourceSystemResponse,
			ListingMutated: true,
		}, nil
	default:
		return Outcome{
			Reply:       m.templates.ReportPrompt(listing.Descriptor(), listing.ClosedVerb()),
			ReplySource: SourceSystemResponse,
		}, nil
	}
}

func (m *Machine) applyCallbackSent(ctx context.Context, q Querier, conv *Conversation, cls Classification, now time.Time) (Outcome, error) {
	if cls.Intent == IntentDeactivation {
		listing, err := m.conversationListing(ctx, q, conv)
		if err != nil {
			return Outcome{}, err
		}
		if err := m.listings.Deactivate(ctx, q, listing.ID, now); err != nil {
			return Outcome{}, err
		}
		conv.State = StateAwaitingHadirotQuestion
		return Outcome{
			Reply:          m.templates.AttributionQuestion(listing.ClosedVerb()),
			ReplySource:    SourceSystemResponse,
			ListingMutated: true,
		}, nil
	}

	// Anything else closes the callback quietly.
	conv.State = StateCompleted
	conv.ActionTaken = ActionAcknowledged
	return Outcome{}, nil
}

// extendedExpiry measures the renewal window from the later of now and the
// current expiration, so renewing early never shortens the extension.
func (m *Machine) extendedExpiry(listing *listings.Listing, now time.Time) time.Time {
	base := now
	if listing.ExpiresAt != nil && listing.ExpiresAt.After(now) {
		base = *listing.ExpiresAt
	}
	return base.Add(m.renewalWindow)
}

func (m *Machine) conversationListing(ctx context.Context, q Querier, conv *Conversation) (*listings.Listing, error) {
	if conv.ListingID == nil {
		return nil, fmt.Errorf("conversation: %s conversation %s has no listing", conv.State, conv.ID)
	}
	return m.listings.GetByID(ctx, q, *conv.ListingID)
}

func candidateDescriptors(candidates []ListingCandidate) []string {
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.Descriptor
	}
	return out
}
