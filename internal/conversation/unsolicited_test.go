package conversation

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
)

type recordingAlerter struct {
	mu       sync.Mutex
	subjects []string
}

func (a *recordingAlerter) NotifyAdmin(_ context.Context, subject, _ string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subjects = append(a.subjects, subject)
}

func testUnsolicited(t *testing.T, fl *fakeListings) (*UnsolicitedFlow, pgxmock.PgxPoolIface, *recordingAlerter) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)

	alerter := &recordingAlerter{}
	flow := NewUnsolicitedFlow(
		&Store{pool: mock}, fl,
		&Templates{DashboardURL: "https://hadirot.test/dashboard"},
		NewMemoryReplyLimiter(), alerter, 24*time.Hour, nil,
	)
	return flow, mock, alerter
}

func TestUnsolicitedDeactivationSingleListing(t *testing.T) {
	fl := newFakeListings()
	l := rentalListing("+17185551234")
	fl.add(l)
	flow, mock, _ := testUnsolicited(t, fl)

	mock.ExpectExec("INSERT INTO conversations").
		WithArgs(anyArgs(17)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	outcome, err := flow.Handle(context.Background(), nil, InboundMessage{
		Phone: "+17185551234",
		Body:  "apartment was rented",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(fl.deactivated) != 1 || fl.deactivated[0] != l.ID {
		t.Fatalf("deactivated = %v", fl.deactivated)
	}
	if !outcome.ListingMutated {
		t.Error("outcome should record the mutation")
	}
	if !strings.Contains(outcome.Reply, "tenant") {
		t.Errorf("reply = %q", outcome.Reply)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestUnsolicitedDeactivationNoListings(t *testing.T) {
	flow, _, alerter := testUnsolicited(t, newFakeListings())

	outcome, err := flow.Handle(context.Background(), nil, InboundMessage{
		Phone: "+17185550000",
		Body:  "please remove my listing",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(alerter.subjects) != 1 {
		t.Fatalf("alerts = %v", alerter.subjects)
	}
	if !strings.Contains(outcome.Reply, "couldn't find an active listing") {
		t.Errorf("reply = %q", outcome.Reply)
	}
}

func TestUnsolicitedDeactivationFewListingsOffersMenu(t *testing.T) {
	fl := newFakeListings()
	first := rentalListing("+17185551234")
	second := rentalListing("+17185551234")
	second.CrossStreet = ""
	second.Neighborhood = "Midwood"
	fl.add(first)
	fl.add(second)
	flow, mock, _ := testUnsolicited(t, fl)

	mock.ExpectExec("INSERT INTO conversations").
		WithArgs(anyArgs(17)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	outcome, err := flow.Handle(context.Background(), nil, InboundMessage{
		Phone: "+17185551234",
		Body:  "rented",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(fl.deactivated) != 0 {
		t.Error("menu path must not deactivate yet")
	}
	if !strings.Contains(outcome.Reply, "1. 3BR on E 15th") || !strings.Contains(outcome.Reply, "2. 3BR in Midwood") {
		t.Errorf("menu = %q", outcome.Reply)
	}
}

func TestUnsolicitedDeactivationTooManyListings(t *testing.T) {
	fl := newFakeListings()
	for i := 0; i < 4; i++ {
		fl.add(rentalListing("+17185551234"))
	}
	flow, _, _ := testUnsolicited(t, fl)

	outcome, err := flow.Handle(context.Background(), nil, InboundMessage{
		Phone: "+17185551234",
		Body:  "rented",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !strings.Contains(outcome.Reply, "several active listings") {
		t.Errorf("reply = %q", outcome.Reply)
	}
}

func TestUnsolicitedFallbackRateLimited(t *testing.T) {
	fl := newFakeListings()
	fl.add(rentalListing("+17185551234"))
	flow, _, _ := testUnsolicited(t, fl)

	first, err := flow.Handle(context.Background(), nil, InboundMessage{
		Phone: "+17185551234",
		Body:  "hello?",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if first.Reply == "" || first.ReplySource != SourceFallback {
		t.Fatalf("first = %+v", first)
	}

	second, err := flow.Handle(context.Background(), nil, InboundMessage{
		Phone: "+17185551234",
		Body:  "hello again",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if second.Reply != "" {
		t.Errorf("second reply within the window must be suppressed, got %q", second.Reply)
	}
}

func TestUnsolicitedUnknownNumberAlertsAdmin(t *testing.T) {
	flow, _, alerter := testUnsolicited(t, newFakeListings())

	outcome, err := flow.Handle(context.Background(), nil, InboundMessage{
		Phone: "+17185559999",
		Body:  "hi there",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(alerter.subjects) != 1 {
		t.Fatalf("alerts = %v", alerter.subjects)
	}
	if !strings.Contains(outcome.Reply, "isn't linked") {
		t.Errorf("reply = %q", outcome.Reply)
	}
}
