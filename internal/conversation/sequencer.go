package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/hadirot/renewal-engine/pkg/logging"
)

// Sequencer activates the next pending conversation in a renewal batch after
// the previous one completes. Batches finish implicitly when no pending
// conversation remains.
type Sequencer struct {
	convs     *Store
	listings  ListingStore
	templates *Templates
	now       func() time.Time
	logger    *logging.Logger
}

func NewSequencer(convs *Store, listingStore ListingStore, templates *Templates, logger *logging.Logger) *Sequencer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Sequencer{
		convs:     convs,
		listings:  listingStore,
		templates: templates,
		now:       time.Now,
		logger:    logger,
	}
}

// Advance promotes the next pending conversation in completed's batch to
// awaiting_availability and returns the availability prompt to send, or a
// zero Outcome when the batch is done or completed was not in a batch.
func (s *Sequencer) Advance(ctx context.Context, q Querier, completed *Conversation) (*Conversation, Outcome, error) {
	if !completed.InBatch() {
		return nil, Outcome{}, nil
	}

	next, err := s.convs.NextPendingInBatch(ctx, q, *completed.BatchID, completed.BatchPosition)
	if err != nil {
		return nil, Outcome{}, err
	}
	if next == nil {
		s.logger.Info("renewal batch finished",
			"batch_id", completed.BatchID,
			"last_position", completed.BatchPosition,
		)
		return nil, Outcome{}, nil
	}

	if next.ListingID == nil {
		return nil, Outcome{}, fmt.Errorf("conversation: pending batch conversation %s has no listing", next.ID)
	}
	listing, err := s.listings.GetByID(ctx, q, *next.ListingID)
	if err != nil {
		return nil, Outcome{}, err
	}

	now := s.now()
	next.State = StateAwaitingAvailability
	next.PromptSentAt = &now
	if err := s.convs.Update(ctx, q, next); err != nil {
		return nil, Outcome{}, err
	}

	s.logger.Info("batch advanced",
		"batch_id", next.BatchID,
		"position", next.BatchPosition,
		"listing_id", listing.ID,
	)
	return next, Outcome{
		Reply:       s.templates.AvailabilityPrompt(listing.Descriptor(), next.BatchPosition, next.BatchSize),
		ReplySource: SourceRenewalReminder,
	}, nil
}
