package conversation

import (
	"context"

	"github.com/hadirot/renewal-engine/pkg/logging"
)

// resolutionKind says what the router decided to do with an inbound message.
type resolutionKind int

const (
	// resolveTarget routes the message to a single conversation.
	resolveTarget resolutionKind = iota
	// resolveAcknowledge closes the most recent conversation silently.
	resolveAcknowledge
	// resolveDisambiguate asks the owner which conversation they meant.
	resolveDisambiguate
	// resolveSilent drops the message without a reply.
	resolveSilent
)

type resolution struct {
	kind   resolutionKind
	target *Conversation
}

// Router picks which conversation an inbound message belongs to. The cascade
// is deterministic and total: for any non-empty conversation set it yields
// exactly one target, one silent acknowledgment, or one disambiguation
// prompt.
type Router struct {
	listings ListingStore
	logger   *logging.Logger
}

func NewRouter(listingStore ListingStore, logger *logging.Logger) *Router {
	if logger == nil {
		logger = logging.Default()
	}
	return &Router{listings: listingStore, logger: logger}
}

// Resolve runs the auto-resolution cascade over the phone number's active
// conversations. Disambiguation conversations are handled before this is
// called; convs never contains one.
func (r *Router) Resolve(ctx context.Context, q Querier, convs []*Conversation, body string) (resolution, error) {
	if len(convs) == 1 {
		return resolution{kind: resolveTarget, target: convs[0]}, nil
	}

	// a. Digit-only reply with exactly one selection menu outstanding.
	if SelectionIndex(body) > 0 {
		if target := soleInState(convs, StateAwaitingListingSelection); target != nil {
			return resolution{kind: resolveTarget, target: target}, nil
		}
	}

	// b. Acknowledgments never need disambiguation: close the most recently
	// updated conversation and stay quiet.
	if IsAcknowledgment(body) {
		return resolution{kind: resolveAcknowledge, target: mostRecentlyUpdated(convs)}, nil
	}

	// c. Deactivation keyword when exactly one candidate still maps to an
	// active listing.
	if IsDeactivation(body) {
		target, err := r.soleWithActiveListing(ctx, q, convs)
		if err != nil {
			return resolution{}, err
		}
		if target != nil {
			return resolution{kind: resolveTarget, target: target}, nil
		}
	}

	// d. Yes/no token when exactly one candidate awaits a yes/no.
	if IsYesNoToken(body) {
		if target := soleYesNo(convs); target != nil {
			return resolution{kind: resolveTarget, target: target}, nil
		}
	}

	// e. Callback conversations are passive; a single non-callback candidate
	// wins by default.
	if target := soleNotInState(convs, StateCallbackSent); target != nil {
		return resolution{kind: resolveTarget, target: target}, nil
	}

	// f. Nothing resolved uniquely; fall back to a disambiguation prompt.
	// Acknowledgments were already absorbed by step b, so the menu only
	// fires for replies that genuinely need one.
	r.logger.Info("reply is ambiguous, prompting for disambiguation",
		"phone", convs[0].Phone,
		"candidates", len(convs),
	)
	return resolution{kind: resolveDisambiguate}, nil
}

// soleWithActiveListing returns the single conversation whose listing is
// still active, or nil when zero or several qualify.
func (r *Router) soleWithActiveListing(ctx context.Context, q Querier, convs []*Conversation) (*Conversation, error) {
	var match *Conversation
	for _, conv := range convs {
		if conv.ListingID == nil {
			continue
		}
		listing, err := r.listings.GetByID(ctx, q, *conv.ListingID)
		if err != nil {
			return nil, err
		}
		if !listing.IsActive {
			continue
		}
		if match != nil {
			return nil, nil
		}
		match = conv
	}
	return match, nil
}

func soleInState(convs []*Conversation, state State) *Conversation {
	var match *Conversation
	for _, conv := range convs {
		if conv.State != state {
			continue
		}
		if match != nil {
			return nil
		}
		match = conv
	}
	return match
}

func soleNotInState(convs []*Conversation, state State) *Conversation {
	var match *Conversation
	for _, conv := range convs {
		if conv.State == state {
			continue
		}
		if match != nil {
			return nil
		}
		match = conv
	}
	return match
}

func soleYesNo(convs []*Conversation) *Conversation {
	var match *Conversation
	for _, conv := range convs {
		if !conv.State.AwaitsYesNo() {
			continue
		}
		if match != nil {
			return nil
		}
		match = conv
	}
	return match
}

func mostRecentlyUpdated(convs []*Conversation) *Conversation {
	best := convs[0]
	for _, conv := range convs[1:] {
		if conv.UpdatedAt.After(best.UpdatedAt) {
			best = conv
		}
	}
	return best
}
