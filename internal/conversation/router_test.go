package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func routeConv(state State, kind Kind, updated time.Time) *Conversation {
	return &Conversation{
		ID:        uuid.New(),
		Phone:     "+17185551234",
		State:     state,
		Kind:      kind,
		ExpiresAt: updated.Add(24 * time.Hour),
		UpdatedAt: updated,
	}
}

func TestResolveSingleConversation(t *testing.T) {
	r := NewRouter(newFakeListings(), nil)
	only := routeConv(StateAwaitingAvailability, KindRenewal, time.Now())

	res, err := r.Resolve(context.Background(), nil, []*Conversation{only}, "anything at all")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.kind != resolveTarget || res.target != only {
		t.Fatalf("res = %+v", res)
	}
}

func TestResolveDigitPicksSoleSelectionMenu(t *testing.T) {
	r := NewRouter(newFakeListings(), nil)
	now := time.Now()
	menu := routeConv(StateAwaitingListingSelection, KindReportRented, now)
	other := routeConv(StateAwaitingAvailability, KindRenewal, now)

	res, err := r.Resolve(context.Background(), nil, []*Conversation{other, menu}, "2")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.kind != resolveTarget || res.target != menu {
		t.Fatalf("digit must route to the selection menu, got %+v", res)
	}
}

func TestResolveAcknowledgmentClosesMostRecent(t *testing.T) {
	r := NewRouter(newFakeListings(), nil)
	now := time.Now()
	older := routeConv(StateAwaitingAvailability, KindRenewal, now.Add(-time.Hour))
	newer := routeConv(StateCallbackSent, KindCallback, now)

	res, err := r.Resolve(context.Background(), nil, []*Conversation{older, newer}, "thanks!")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.kind != resolveAcknowledge || res.target != newer {
		t.Fatalf("res = %+v", res)
	}
}

func TestResolveDeactivationPicksSoleActiveListing(t *testing.T) {
	fl := newFakeListings()
	now := time.Now()

	activeListing := rentalListing("+17185551234")
	inactiveListing := rentalListing("+17185551234")
	inactiveListing.IsActive = false
	fl.add(activeListing)
	fl.byID[inactiveListing.ID] = inactiveListing

	withActive := routeConv(StateAwaitingAvailability, KindRenewal, now)
	withActive.ListingID = &activeListing.ID
	withInactive := routeConv(StateAwaitingReportResponse, KindReportRented, now)
	withInactive.ListingID = &inactiveListing.ID

	r := NewRouter(fl, nil)
	res, err := r.Resolve(context.Background(), nil, []*Conversation{withActive, withInactive}, "it was rented")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.kind != resolveTarget || res.target != withActive {
		t.Fatalf("res = %+v", res)
	}
}

func TestResolveYesNoPicksSoleYesNoState(t *testing.T) {
	r := NewRouter(newFakeListings(), nil)
	now := time.Now()
	yesNo := routeConv(StateAwaitingAvailability, KindRenewal, now)
	menu := routeConv(StateAwaitingListingSelection, KindReportRented, now)

	res, err := r.Resolve(context.Background(), nil, []*Conversation{menu, yesNo}, "yes")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.kind != resolveTarget || res.target != yesNo {
		t.Fatalf("res = %+v", res)
	}
}

func TestResolveCallbackIsPassive(t *testing.T) {
	r := NewRouter(newFakeListings(), nil)
	now := time.Now()
	callback := routeConv(StateCallbackSent, KindCallback, now)
	question := routeConv(StateAwaitingHadirotQuestion, KindRenewal, now)

	res, err := r.Resolve(context.Background(), nil, []*Conversation{callback, question}, "something unclear")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.kind != resolveTarget || res.target != question {
		t.Fatalf("res = %+v", res)
	}
}

func TestResolveAmbiguousFallsToDisambiguation(t *testing.T) {
	fl := newFakeListings()
	now := time.Now()
	first := rentalListing("+17185551234")
	second := rentalListing("+17185551234")
	fl.add(first)
	fl.add(second)

	a := routeConv(StateAwaitingAvailability, KindRenewal, now)
	a.ListingID = &first.ID
	b := routeConv(StateAwaitingReportResponse, KindReportRented, now)
	b.ListingID = &second.ID

	r := NewRouter(fl, nil)
	// "rented" matches two conversations with active listings; "yes" matches
	// two yes/no states. Both must disambiguate.
	for _, body := range []string{"rented", "yes"} {
		res, err := r.Resolve(context.Background(), nil, []*Conversation{a, b}, body)
		if err != nil {
			t.Fatalf("resolve(%q): %v", body, err)
		}
		if res.kind != resolveDisambiguate {
			t.Fatalf("resolve(%q) = %+v, want disambiguation", body, res)
		}
	}
}
