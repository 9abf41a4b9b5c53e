package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/hadirot/renewal-engine/pkg/logging"
)

// maxSelectionListings is the largest portfolio offered as an SMS menu;
// above it owners go to the dashboard.
const maxSelectionListings = 3

// AdminAlerter notifies operators about anomalies. Implemented by
// notify.Service; alert delivery and throttling live there.
type AdminAlerter interface {
	NotifyAdmin(ctx context.Context, subject, details string)
}

// UnsolicitedFlow handles messages from phone numbers with no active
// conversation: deactivation requests are honored against the sender's
// listings, everything else gets a rate-limited pointer to the dashboard.
type UnsolicitedFlow struct {
	convs            *Store
	listings         ListingStore
	templates        *Templates
	limiter          ReplyLimiter
	alerter          AdminAlerter
	fallbackInterval time.Duration
	selectionExpiry  time.Duration
	now              func() time.Time
	logger           *logging.Logger
}

func NewUnsolicitedFlow(convs *Store, listingStore ListingStore, templates *Templates, limiter ReplyLimiter, alerter AdminAlerter, fallbackInterval time.Duration, logger *logging.Logger) *UnsolicitedFlow {
	if logger == nil {
		logger = logging.Default()
	}
	if fallbackInterval <= 0 {
		fallbackInterval = 24 * time.Hour
	}
	return &UnsolicitedFlow{
		convs:            convs,
		listings:         listingStore,
		templates:        templates,
		limiter:          limiter,
		alerter:          alerter,
		fallbackInterval: fallbackInterval,
		selectionExpiry:  24 * time.Hour,
		now:              time.Now,
		logger:           logger,
	}
}

// Handle processes one unsolicited message and returns the reply to send,
// if any. New conversations it creates are persisted through q.
func (f *UnsolicitedFlow) Handle(ctx context.Context, q Querier, msg InboundMessage) (Outcome, error) {
	cls := Classify(msg.Body, "")
	if cls.Intent == IntentDeactivation {
		return f.handleDeactivation(ctx, q, msg)
	}
	return f.fallback(ctx, q, msg)
}

func (f *UnsolicitedFlow) handleDeactivation(ctx context.Context, q Querier, msg InboundMessage) (Outcome, error) {
	active, err := f.listings.ActiveApprovedByPhone(ctx, q, msg.Phone)
	if err != nil {
		return Outcome{}, err
	}
	now := f.now()

	switch {
	case len(active) == 0:
		f.alerter.NotifyAdmin(ctx, "Deactivation request from number with no active listing",
			fmt.Sprintf("From: %s\nMessage: %s", msg.Phone, msg.Body))
		return Outcome{Reply: f.templates.NoListingFound(), ReplySource: SourceFallback}, nil

	case len(active) == 1:
		listing := active[0]
		if err := f.listings.Deactivate(ctx, q, listing.ID, now); err != nil {
			return Outcome{}, err
		}
		listingID := listing.ID
		conv := &Conversation{
			Phone:           msg.Phone,
			ListingID:       &listingID,
			State:           StateAwaitingHadirotQuestion,
			Kind:            KindReportRented,
			ExpiresAt:       now.Add(f.selectionExpiry),
			LastReply:       msg.Body,
			ReplyReceivedAt: &now,
		}
		if err := f.convs.Insert(ctx, q, conv); err != nil {
			return Outcome{}, err
		}
		f.logger.Info("unsolicited deactivation applied",
			"phone", msg.Phone,
			"listing_id", listing.ID,
		)
		return Outcome{
			Reply:          f.templates.AttributionQuestion(listing.ClosedVerb()),
			ReplySource:    SourceSystemResponse,
			ListingMutated: true,
		}, nil

	case len(active) <= maxSelectionListings:
		meta := &SelectionMetadata{}
		descriptors := make([]string, 0, len(active))
		for _, listing := range active {
			meta.Candidates = append(meta.Candidates, ListingCandidate{
				ListingID:  listing.ID,
				Descriptor: listing.Descriptor(),
			})
			descriptors = append(descriptors, listing.Descriptor())
		}
		conv := &Conversation{
			Phone:           msg.Phone,
			State:           StateAwaitingListingSelection,
			Kind:            KindReportRented,
			ExpiresAt:       now.Add(f.selectionExpiry),
			Metadata:        Metadata{Selection: meta},
			LastReply:       msg.Body,
			ReplyReceivedAt: &now,
		}
		if err := f.convs.Insert(ctx, q, conv); err != nil {
			return Outcome{}, err
		}
		return Outcome{
			Reply:       f.templates.SelectionMenu(descriptors),
			ReplySource: SourceSystemResponse,
		}, nil

	default:
		return Outcome{Reply: f.templates.TooManyListings(), ReplySource: SourceSystemResponse}, nil
	}
}

// fallback replies at most once per phone per interval; unknown numbers also
// alert the admin.
func (f *UnsolicitedFlow) fallback(ctx context.Context, q Querier, msg InboundMessage) (Outcome, error) {
	allowed, err := f.limiter.Allow(ctx, "fallback:"+msg.Phone, f.fallbackInterval)
	if err != nil {
		return Outcome{}, err
	}
	if !allowed {
		f.logger.Debug("fallback reply suppressed by rate limit", "phone", msg.Phone)
		return Outcome{}, nil
	}

	active, err := f.listings.ActiveApprovedByPhone(ctx, q, msg.Phone)
	if err != nil {
		return Outcome{}, err
	}
	if len(active) > 0 {
		return Outcome{Reply: f.templates.GenericFallback(), ReplySource: SourceFallback}, nil
	}

	f.alerter.NotifyAdmin(ctx, "SMS from unrecognized number",
		fmt.Sprintf("From: %s\nMessage: %s", msg.Phone, msg.Body))
	return Outcome{Reply: f.templates.UnknownNumberFallback(), ReplySource: SourceFallback}, nil
}
