package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hadirot/renewal-engine/pkg/logging"
)

// maxDisambiguationCandidates caps the numbered menu; more than this and the
// SMS becomes unreadable.
const maxDisambiguationCandidates = 5

// Disambiguator builds and resolves "which listing are you talking about"
// sub-conversations. It owns only the which-conversation decision; all state
// transitions remain in the Machine.
type Disambiguator struct {
	convs     *Store
	listings  ListingStore
	machine   *Machine
	templates *Templates
	expiry    time.Duration
	now       func() time.Time
	logger    *logging.Logger
}

func NewDisambiguator(convs *Store, listingStore ListingStore, machine *Machine, templates *Templates, expiry time.Duration, logger *logging.Logger) *Disambiguator {
	if logger == nil {
		logger = logging.Default()
	}
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &Disambiguator{
		convs:     convs,
		listings:  listingStore,
		machine:   machine,
		templates: templates,
		expiry:    expiry,
		now:       time.Now,
		logger:    logger,
	}
}

// Begin creates the disambiguation conversation for an ambiguous reply and
// returns the menu to send. candidates are the phone number's active
// conversations the reply could have been meant for.
func (d *Disambiguator) Begin(ctx context.Context, q Querier, phone, originalReply string, candidates []*Conversation) (*Conversation, Outcome, error) {
	if len(candidates) == 0 {
		return nil, Outcome{}, errors.New("conversation: disambiguation needs candidates")
	}
	if len(candidates) > maxDisambiguationCandidates {
		candidates = candidates[:maxDisambiguationCandidates]
	}

	meta := &DisambiguationMetadata{OriginalReply: originalReply}
	descriptors := make([]string, 0, len(candidates))
	for _, cand := range candidates {
		descriptor, err := d.describe(ctx, q, cand)
		if err != nil {
			return nil, Outcome{}, err
		}
		meta.Candidates = append(meta.Candidates, DisambiguationCandidate{
			ConversationID: cand.ID,
			Descriptor:     descriptor,
		})
		descriptors = append(descriptors, descriptor)
	}

	now := d.now()
	conv := &Conversation{
		Phone:     phone,
		State:     StateAwaitingDisambiguation,
		Kind:      KindDisambiguation,
		ExpiresAt: now.Add(d.expiry),
		Metadata:  Metadata{Disambiguation: meta},
	}
	if err := d.convs.Insert(ctx, q, conv); err != nil {
		return nil, Outcome{}, err
	}

	return conv, Outcome{
		Reply:       d.templates.DisambiguationMenu(descriptors),
		ReplySource: SourceSystemResponse,
	}, nil
}

// Resolve handles a reply to an open disambiguation menu. On a valid pick it
// closes the menu conversation and replays the original ambiguous reply
// through the state machine against the chosen target.
func (d *Disambiguator) Resolve(ctx context.Context, q Querier, disamb *Conversation, body string) (Outcome, error) {
	meta := disamb.Metadata.Disambiguation
	if meta == nil || len(meta.Candidates) == 0 {
		return Outcome{}, errors.New("conversation: disambiguation conversation missing candidates")
	}

	now := d.now()
	disamb.LastReply = body
	disamb.ReplyReceivedAt = &now

	if disamb.Expired(now) {
		disamb.State = StateExpiredLink
		disamb.ActionTaken = ActionExpiredLink
		if err := d.convs.Update(ctx, q, disamb); err != nil {
			return Outcome{}, err
		}
		return Outcome{Reply: d.templates.ExpiredRedirect(), ReplySource: SourceSystemResponse}, nil
	}

	index := SelectionIndex(body)
	if index < 1 || index > len(meta.Candidates) {
		cls := Classify(body, StateAwaitingDisambiguation)
		switch cls.Intent {
		case IntentDeactivation:
			// A deactivation keyword with exactly one still-active candidate
			// is an implicit selection; the owner skipped the numeric step.
			implicit, err := d.soleActiveCandidate(ctx, q, meta.Candidates)
			if err != nil {
				return Outcome{}, err
			}
			if implicit > 0 {
				index = implicit
			}
		case IntentHelp:
			return Outcome{
				Reply:       d.templates.DisambiguationMenu(disambDescriptors(meta.Candidates)),
				ReplySource: SourceSystemResponse,
			}, nil
		}
		if index < 1 || index > len(meta.Candidates) {
			return Outcome{
				Reply:       d.templates.SelectionReprompt(len(meta.Candidates)),
				ReplySource: SourceSystemResponse,
			}, nil
		}
	}

	chosen := meta.Candidates[index-1]
	target, err := d.convs.GetByID(ctx, q, chosen.ConversationID)
	if err != nil {
		return Outcome{}, fmt.Errorf("conversation: load disambiguation target: %w", err)
	}

	disamb.State = StateCompleted
	disamb.ActionTaken = ActionDisambiguated
	if err := d.convs.Update(ctx, q, disamb); err != nil {
		return Outcome{}, err
	}

	if target.State.Terminal() || target.Expired(now) {
		// Target lapsed while the menu was outstanding; redirect, no
		// downstream state change.
		if !target.State.Terminal() {
			target.State = StateExpiredLink
			target.ActionTaken = ActionExpiredLink
			if err := d.convs.Update(ctx, q, target); err != nil {
				return Outcome{}, err
			}
		}
		return Outcome{Reply: d.templates.ExpiredRedirect(), ReplySource: SourceSystemResponse}, nil
	}

	d.logger.Info("disambiguation resolved",
		"disambiguation_id", disamb.ID,
		"target_id", target.ID,
		"original_reply", meta.OriginalReply,
	)

	// Replay the original ambiguous reply, not the selection digit, so the
	// owner's "rented" deactivates the listing they just picked.
	cls := Classify(meta.OriginalReply, target.State)
	outcome, err := d.machine.Apply(ctx, q, target, meta.OriginalReply, cls)
	if err != nil {
		return Outcome{}, err
	}
	if err := d.convs.Update(ctx, q, target); err != nil {
		return Outcome{}, err
	}
	return outcome, nil
}

// describe renders a candidate's menu line: listing descriptor plus the
// conversation kind label.
func (d *Disambiguator) describe(ctx context.Context, q Querier, conv *Conversation) (string, error) {
	if conv.ListingID == nil {
		return conv.Kind.Label(), nil
	}
	listing, err := d.listings.GetByID(ctx, q, *conv.ListingID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s (%s)", listing.Descriptor(), conv.Kind.Label()), nil
}

// soleActiveCandidate returns the 1-based index of the only candidate whose
// listing is still active, or 0 when zero or several are.
func (d *Disambiguator) soleActiveCandidate(ctx context.Context, q Querier, candidates []DisambiguationCandidate) (int, error) {
	match := 0
	for i, cand := range candidates {
		target, err := d.convs.GetByID(ctx, q, cand.ConversationID)
		if err != nil {
			return 0, err
		}
		if target.ListingID == nil {
			continue
		}
		listing, err := d.listings.GetByID(ctx, q, *target.ListingID)
		if err != nil {
			return 0, err
		}
		if !listing.IsActive {
			continue
		}
		if match != 0 {
			return 0, nil
		}
		match = i + 1
	}
	return match, nil
}

func disambDescriptors(candidates []DisambiguationCandidate) []string {
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.Descriptor
	}
	return out
}
