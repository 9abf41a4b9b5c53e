package conversation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
)

type fakeMessageLog struct {
	seen      map[string]bool
	inbound   []InboundMessage
	outbound  []OutboundReply
	statuses  []string
	panicNext bool
}

func newFakeMessageLog() *fakeMessageLog {
	return &fakeMessageLog{seen: make(map[string]bool)}
}

func (f *fakeMessageLog) HasProviderMessage(_ context.Context, id string) (bool, error) {
	return f.seen[id], nil
}

func (f *fakeMessageLog) AppendInbound(_ context.Context, msg InboundMessage) error {
	if f.panicNext {
		panic("message log gone")
	}
	f.inbound = append(f.inbound, msg)
	f.seen[msg.ProviderMessageID] = true
	return nil
}

func (f *fakeMessageLog) AppendOutbound(_ context.Context, reply OutboundReply, status string) error {
	f.outbound = append(f.outbound, reply)
	f.statuses = append(f.statuses, status)
	return nil
}

type fakeMessenger struct {
	sent      []OutboundReply
	err       error
	messageID string
}

func (f *fakeMessenger) SendReply(_ context.Context, reply OutboundReply) error {
	if f.err != nil {
		return f.err
	}
	if f.messageID != "" && reply.Metadata != nil {
		reply.Metadata["provider_message_id"] = f.messageID
	}
	f.sent = append(f.sent, reply)
	return nil
}

type countingMetrics struct {
	inbound map[string]int
}

func (m *countingMetrics) ObserveInbound(outcome string) {
	if m.inbound == nil {
		m.inbound = make(map[string]int)
	}
	m.inbound[outcome]++
}

func (m *countingMetrics) ObserveTransition(_, _ string) {}
func (m *countingMetrics) ObserveOutbound(_, _ string)   {}

type engineFixture struct {
	engine    *Engine
	mock      pgxmock.PgxPoolIface
	listings  *fakeListings
	log       *fakeMessageLog
	messenger *fakeMessenger
	alerter   *recordingAlerter
	metrics   *countingMetrics
}

func testEngine(t *testing.T, fl *fakeListings, now time.Time) *engineFixture {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)

	store := &Store{pool: mock}
	templates := &Templates{DashboardURL: "https://hadirot.test/dashboard"}
	machine := testMachine(fl, now)
	alerter := &recordingAlerter{}
	log := newFakeMessageLog()
	messenger := &fakeMessenger{}
	metrics := &countingMetrics{}

	disamb := NewDisambiguator(store, fl, machine, templates, 24*time.Hour, nil)
	unsolicited := NewUnsolicitedFlow(store, fl, templates, NewMemoryReplyLimiter(), alerter, 24*time.Hour, nil)

	engine := NewEngine(EngineParams{
		Conversations: store,
		Machine:       machine,
		Router:        NewRouter(fl, nil),
		Disambiguator: disamb,
		Sequencer:     NewSequencer(store, fl, templates, nil),
		Unsolicited:   unsolicited,
		MessageLog:    log,
		Locker:        NewMemoryPhoneLocker(),
		Messenger:     messenger,
		Metrics:       metrics,
		Alerter:       alerter,
		FromNumber:    "+18885550100",
	})

	return &engineFixture{
		engine:    engine,
		mock:      mock,
		listings:  fl,
		log:       log,
		messenger: messenger,
		alerter:   alerter,
		metrics:   metrics,
	}
}

func TestEngineDuplicateDeliveryIsNoOp(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	fx := testEngine(t, newFakeListings(), now)
	fx.log.seen["SM123"] = true

	err := fx.engine.Process(context.Background(), InboundMessage{
		Phone:             "+17185551234",
		Body:              "yes",
		ProviderMessageID: "SM123",
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(fx.log.inbound) != 0 {
		t.Error("duplicate must not be appended to the log")
	}
	if fx.metrics.inbound["duplicate"] != 1 {
		t.Errorf("inbound metrics = %v", fx.metrics.inbound)
	}
	// No conversation lookup happened.
	if err := fx.mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestEngineProcessYesExtendsAndReplies(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	fl := newFakeListings()
	l := rentalListing("+17185551234")
	fl.add(l)
	fx := testEngine(t, fl, now)

	conv := availabilityConv(l, now)
	fx.mock.ExpectQuery("FROM conversations").
		WithArgs(conv.Phone).
		WillReturnRows(addConvRow(convRows(), conv))
	fx.mock.ExpectBegin()
	fx.mock.ExpectExec("UPDATE conversations").
		WithArgs(anyArgs(10)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	fx.mock.ExpectCommit()

	err := fx.engine.Process(context.Background(), InboundMessage{
		Phone:             conv.Phone,
		Body:              "yes",
		ProviderMessageID: "SM200",
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(fx.listings.extended) != 1 {
		t.Fatalf("extended = %v", fx.listings.extended)
	}
	if len(fx.messenger.sent) != 1 || !strings.Contains(fx.messenger.sent[0].Body, "renewed") {
		t.Fatalf("sent = %+v", fx.messenger.sent)
	}
	if fx.messenger.sent[0].From != "+18885550100" {
		t.Errorf("from = %q", fx.messenger.sent[0].From)
	}
	if len(fx.log.statuses) != 1 || fx.log.statuses[0] != SendStatusSent {
		t.Errorf("outbound statuses = %v", fx.log.statuses)
	}
	if err := fx.mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestEngineOutboundLogCarriesProviderID(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	fl := newFakeListings()
	l := rentalListing("+17185551234")
	fl.add(l)
	fx := testEngine(t, fl, now)
	fx.messenger.messageID = "SMOUT1"

	conv := availabilityConv(l, now)
	fx.mock.ExpectQuery("FROM conversations").
		WithArgs(conv.Phone).
		WillReturnRows(addConvRow(convRows(), conv))
	fx.mock.ExpectBegin()
	fx.mock.ExpectExec("UPDATE conversations").
		WithArgs(anyArgs(10)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	fx.mock.ExpectCommit()

	err := fx.engine.Process(context.Background(), InboundMessage{
		Phone:             conv.Phone,
		Body:              "yes",
		ProviderMessageID: "SM201",
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(fx.log.outbound) != 1 {
		t.Fatalf("outbound = %+v", fx.log.outbound)
	}
	// The sender wrote the transport id into the reply's metadata and the
	// log saw it.
	if got := fx.log.outbound[0].Metadata["provider_message_id"]; got != "SMOUT1" {
		t.Errorf("provider_message_id = %q", got)
	}
}

func TestEngineAcknowledgeExpiredMarksExpiredLink(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	fl := newFakeListings()
	l := rentalListing("+17185551234")
	fl.add(l)
	fx := testEngine(t, fl, now)

	// Two lapsed conversations on the number so the acknowledgment routes
	// through the silent-close branch instead of a direct transition.
	older := availabilityConv(l, now)
	older.ExpiresAt = time.Now().Add(-48 * time.Hour)
	older.UpdatedAt = time.Now().Add(-72 * time.Hour)
	target := availabilityConv(l, now)
	target.ExpiresAt = time.Now().Add(-24 * time.Hour)
	target.UpdatedAt = time.Now().Add(-36 * time.Hour)

	fx.mock.ExpectQuery("FROM conversations").
		WithArgs(target.Phone).
		WillReturnRows(addConvRow(addConvRow(convRows(), older), target))
	fx.mock.ExpectExec("UPDATE conversations").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), StateExpiredLink, pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := fx.engine.Process(context.Background(), InboundMessage{
		Phone:             target.Phone,
		Body:              "thanks",
		ProviderMessageID: "SM250",
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(fx.messenger.sent) != 0 {
		t.Errorf("acknowledgment must stay silent, sent = %+v", fx.messenger.sent)
	}
	if fx.metrics.inbound["expired"] != 1 {
		t.Errorf("inbound metrics = %v", fx.metrics.inbound)
	}
	if err := fx.mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestEngineUnsolicitedFallback(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	fl := newFakeListings()
	fl.add(rentalListing("+17185551234"))
	fx := testEngine(t, fl, now)

	fx.mock.ExpectQuery("FROM conversations").
		WithArgs("+17185551234").
		WillReturnRows(convRows())
	fx.mock.ExpectBegin()
	fx.mock.ExpectCommit()

	err := fx.engine.Process(context.Background(), InboundMessage{
		Phone:             "+17185551234",
		Body:              "hello there",
		ProviderMessageID: "SM300",
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(fx.messenger.sent) != 1 || fx.messenger.sent[0].Source != SourceFallback {
		t.Fatalf("sent = %+v", fx.messenger.sent)
	}
	if err := fx.mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestEngineSendFailureDoesNotFailWebhook(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	fl := newFakeListings()
	l := rentalListing("+17185551234")
	fl.add(l)
	fx := testEngine(t, fl, now)
	fx.messenger.err = errors.New("carrier unreachable")

	conv := availabilityConv(l, now)
	fx.mock.ExpectQuery("FROM conversations").
		WithArgs(conv.Phone).
		WillReturnRows(addConvRow(convRows(), conv))
	fx.mock.ExpectBegin()
	fx.mock.ExpectExec("UPDATE conversations").
		WithArgs(anyArgs(10)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	fx.mock.ExpectCommit()

	err := fx.engine.Process(context.Background(), InboundMessage{
		Phone:             conv.Phone,
		Body:              "yes",
		ProviderMessageID: "SM400",
	})
	if err != nil {
		t.Fatalf("send failure must not surface: %v", err)
	}
	if len(fx.listings.extended) != 1 {
		t.Error("extension must commit regardless of the send")
	}
	if len(fx.log.statuses) != 1 || fx.log.statuses[0] != SendStatusFailed {
		t.Errorf("outbound statuses = %v", fx.log.statuses)
	}
}

func TestEngineRecoversPanic(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	fx := testEngine(t, newFakeListings(), now)
	fx.log.panicNext = true

	err := fx.engine.Process(context.Background(), InboundMessage{
		Phone:             "+17185551234",
		Body:              "yes",
		ProviderMessageID: "SM500",
	})
	if err == nil || !strings.Contains(err.Error(), "panic") {
		t.Fatalf("err = %v", err)
	}
	if len(fx.alerter.subjects) != 1 {
		t.Errorf("alerts = %v", fx.alerter.subjects)
	}
}
