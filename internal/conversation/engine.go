package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hadirot/renewal-engine/pkg/logging"
)

var engineTracer = otel.Tracer("renewal-engine/conversation")

// MessageLog records every inbound and outbound SMS. Implemented by
// messaging.LogStore.
type MessageLog interface {
	HasProviderMessage(ctx context.Context, providerMessageID string) (bool, error)
	AppendInbound(ctx context.Context, msg InboundMessage) error
	AppendOutbound(ctx context.Context, reply OutboundReply, status string) error
}

// Metrics is the slice of the metrics registry the engine reports to.
type Metrics interface {
	ObserveInbound(outcome string)
	ObserveTransition(state, intent string)
	ObserveOutbound(status, source string)
}

// NopMetrics discards all observations; tests and minimal deployments use it.
type NopMetrics struct{}

func (NopMetrics) ObserveInbound(string)         {}
func (NopMetrics) ObserveTransition(_, _ string) {}
func (NopMetrics) ObserveOutbound(_, _ string)   {}

// Outbound send statuses recorded in the message log.
const (
	SendStatusSent   = "sent"
	SendStatusFailed = "failed"
)

// Engine ties webhook input to the state machine: it deduplicates provider
// deliveries, serializes work per phone number, routes the message, runs the
// transition inside a transaction, and sends replies after commit.
type Engine struct {
	convs       *Store
	machine     *Machine
	router      *Router
	disamb      *Disambiguator
	sequencer   *Sequencer
	unsolicited *UnsolicitedFlow
	log         MessageLog
	locker      PhoneLocker
	messenger   ReplyMessenger
	metrics     Metrics
	alerter     AdminAlerter
	fromNumber  string
	logger      *logging.Logger
}

// EngineParams collects the engine's collaborators; all are required except
// Metrics, which defaults to NopMetrics.
type EngineParams struct {
	Conversations *Store
	Machine       *Machine
	Router        *Router
	Disambiguator *Disambiguator
	Sequencer     *Sequencer
	Unsolicited   *UnsolicitedFlow
	MessageLog    MessageLog
	Locker        PhoneLocker
	Messenger     ReplyMessenger
	Metrics       Metrics
	Alerter       AdminAlerter
	FromNumber    string
	Logger        *logging.Logger
}

func NewEngine(p EngineParams) *Engine {
	if p.Logger == nil {
		p.Logger = logging.Default()
	}
	if p.Metrics == nil {
		p.Metrics = NopMetrics{}
	}
	return &Engine{
		convs:       p.Conversations,
		machine:     p.Machine,
		router:      p.Router,
		disamb:      p.Disambiguator,
		sequencer:   p.Sequencer,
		unsolicited: p.Unsolicited,
		log:         p.MessageLog,
		locker:      p.Locker,
		messenger:   p.Messenger,
		metrics:     p.Metrics,
		alerter:     p.Alerter,
		fromNumber:  p.FromNumber,
		logger:      p.Logger,
	}
}

// Process handles one inbound SMS end to end. It never panics: a panic in
// any collaborator is recovered, alerted on, and returned as an error so the
// webhook can still acknowledge the delivery.
func (e *Engine) Process(ctx context.Context, msg InboundMessage) (err error) {
	ctx, span := engineTracer.Start(ctx, "engine.process", trace.WithAttributes(
		attribute.String("sms.provider_message_id", msg.ProviderMessageID),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("conversation: engine panic: %v", r)
			e.logger.Error("engine panicked", "error", err, "phone", msg.Phone)
			e.alerter.NotifyAdmin(ctx, "Renewal engine panic",
				fmt.Sprintf("From: %s\nMessage: %s\nPanic: %v", msg.Phone, msg.Body, r))
			e.metrics.ObserveInbound("panic")
		}
	}()

	unlock, err := e.locker.Lock(ctx, msg.Phone)
	if err != nil {
		return fmt.Errorf("conversation: lock phone: %w", err)
	}
	defer unlock()

	// Providers redeliver webhooks; the message id makes retries no-ops.
	if msg.ProviderMessageID != "" {
		seen, err := e.log.HasProviderMessage(ctx, msg.ProviderMessageID)
		if err != nil {
			return err
		}
		if seen {
			e.logger.Debug("duplicate delivery ignored", "provider_message_id", msg.ProviderMessageID)
			e.metrics.ObserveInbound("duplicate")
			return nil
		}
	}
	if err := e.log.AppendInbound(ctx, msg); err != nil {
		return err
	}

	convs, err := e.convs.ActiveByPhone(ctx, nil, msg.Phone)
	if err != nil {
		return err
	}

	// An open disambiguation menu swallows every reply from its number until
	// answered or expired.
	if disamb := openDisambiguation(convs); disamb != nil {
		return e.processDisambiguation(ctx, disamb, msg)
	}

	if len(convs) == 0 {
		return e.processUnsolicited(ctx, msg)
	}

	res, err := e.router.Resolve(ctx, nil, convs, msg.Body)
	if err != nil {
		return err
	}

	switch res.kind {
	case resolveTarget:
		return e.processTarget(ctx, res.target, msg)
	case resolveAcknowledge:
		return e.processAcknowledge(ctx, res.target, msg)
	case resolveDisambiguate:
		return e.processBeginDisambiguation(ctx, convs, msg)
	default:
		e.metrics.ObserveInbound("silent")
		return nil
	}
}

// processTarget runs the state machine against one conversation. The listing
// mutation and the conversation update commit together; the reply goes out
// only after the commit.
func (e *Engine) processTarget(ctx context.Context, target *Conversation, msg InboundMessage) error {
	cls := Classify(msg.Body, target.State)

	tx, err := e.convs.Begin(ctx)
	if err != nil {
		return fmt.Errorf("conversation: begin transition: %w", err)
	}
	defer rollback(ctx, tx)

	outcome, err := e.machine.Apply(ctx, tx, target, msg.Body, cls)
	if err != nil {
		return err
	}
	if err := e.convs.Update(ctx, tx, target); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("conversation: commit transition: %w", err)
	}

	e.metrics.ObserveInbound("routed")
	e.metrics.ObserveTransition(string(target.State), string(cls.Intent))

	e.sendReply(ctx, target.Phone, target, outcome)

	if outcome.AdvanceBatch {
		e.advanceBatch(ctx, target)
	}
	return nil
}

// processAcknowledge closes the most recent conversation without replying.
// The expiry check still comes first: a lapsed conversation may only move to
// expired_link, never to completed.
func (e *Engine) processAcknowledge(ctx context.Context, target *Conversation, msg InboundMessage) error {
	now := time.Now()
	target.LastReply = msg.Body
	target.ReplyReceivedAt = &now

	if target.Expired(now) {
		target.State = StateExpiredLink
		target.ActionTaken = ActionExpiredLink
		if err := e.convs.Update(ctx, nil, target); err != nil {
			return err
		}
		e.metrics.ObserveInbound("expired")
		return nil
	}

	target.State = StateCompleted
	target.ActionTaken = ActionAcknowledged
	if err := e.convs.Update(ctx, nil, target); err != nil {
		return err
	}
	e.logger.Info("acknowledgment closed conversation",
		"conversation_id", target.ID,
		"phone", target.Phone,
	)
	e.metrics.ObserveInbound("acknowledged")
	return nil
}

func (e *Engine) processBeginDisambiguation(ctx context.Context, convs []*Conversation, msg InboundMessage) error {
	tx, err := e.convs.Begin(ctx)
	if err != nil {
		return fmt.Errorf("conversation: begin disambiguation: %w", err)
	}
	defer rollback(ctx, tx)

	disamb, outcome, err := e.disamb.Begin(ctx, tx, msg.Phone, msg.Body, convs)
	if err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("conversation: commit disambiguation: %w", err)
	}

	e.metrics.ObserveInbound("disambiguation_started")
	e.sendReply(ctx, msg.Phone, disamb, outcome)
	return nil
}

func (e *Engine) processDisambiguation(ctx context.Context, disamb *Conversation, msg InboundMessage) error {
	tx, err := e.convs.Begin(ctx)
	if err != nil {
		return fmt.Errorf("conversation: begin disambiguation resolve: %w", err)
	}
	defer rollback(ctx, tx)

	outcome, err := e.disamb.Resolve(ctx, tx, disamb, msg.Body)
	if err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("conversation: commit disambiguation resolve: %w", err)
	}

	e.metrics.ObserveInbound("disambiguation_resolved")
	e.sendReply(ctx, msg.Phone, disamb, outcome)

	if outcome.AdvanceBatch {
		// The replayed reply may have completed a batched conversation.
		if target := e.disambTarget(ctx, disamb); target != nil {
			e.advanceBatch(ctx, target)
		}
	}
	return nil
}

func (e *Engine) processUnsolicited(ctx context.Context, msg InboundMessage) error {
	tx, err := e.convs.Begin(ctx)
	if err != nil {
		return fmt.Errorf("conversation: begin unsolicited: %w", err)
	}
	defer rollback(ctx, tx)

	outcome, err := e.unsolicited.Handle(ctx, tx, msg)
	if err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("conversation: commit unsolicited: %w", err)
	}

	e.metrics.ObserveInbound("unsolicited")
	e.sendReply(ctx, msg.Phone, nil, outcome)
	return nil
}

// advanceBatch activates the next pending conversation in the completed one's
// batch. Failures here are logged and alerted, never propagated: the owner's
// own transition already committed.
func (e *Engine) advanceBatch(ctx context.Context, completed *Conversation) {
	if !completed.InBatch() {
		return
	}
	tx, err := e.convs.Begin(ctx)
	if err != nil {
		e.logger.Error("begin batch advance failed", "error", err, "batch_id", completed.BatchID)
		return
	}
	defer rollback(ctx, tx)

	next, outcome, err := e.sequencer.Advance(ctx, tx, completed)
	if err != nil {
		e.logger.Error("batch advance failed", "error", err, "batch_id", completed.BatchID)
		e.alerter.NotifyAdmin(ctx, "Batch advance failed",
			fmt.Sprintf("Batch: %v\nAfter position: %d\nError: %v", completed.BatchID, completed.BatchPosition, err))
		return
	}
	if next == nil {
		_ = tx.Commit(ctx)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		e.logger.Error("commit batch advance failed", "error", err, "batch_id", completed.BatchID)
		return
	}

	e.sendReply(ctx, next.Phone, next, outcome)
}

// sendReply delivers the outcome's reply best-effort and records the result
// in the message log. A send failure never fails the webhook.
func (e *Engine) sendReply(ctx context.Context, to string, conv *Conversation, outcome Outcome) {
	if outcome.Reply == "" {
		return
	}

	reply := OutboundReply{
		To:     to,
		From:   e.fromNumber,
		Body:   outcome.Reply,
		Source: outcome.ReplySource,
		// Senders record the transport's message id here; AppendOutbound
		// persists it with the log row.
		Metadata: map[string]string{},
	}
	if conv != nil {
		convID := conv.ID
		reply.ConversationID = &convID
		reply.ListingID = conv.ListingID
	}

	status := SendStatusSent
	if err := e.messenger.SendReply(ctx, reply); err != nil {
		status = SendStatusFailed
		e.logger.Error("outbound send failed",
			"error", err,
			"to", reply.To,
			"source", reply.Source,
		)
	} else {
		e.logger.Info("outbound sent", "to", reply.To, "source", reply.Source)
	}
	e.metrics.ObserveOutbound(status, reply.Source)

	if err := e.log.AppendOutbound(ctx, reply, status); err != nil {
		e.logger.Error("append outbound log failed", "error", err, "to", reply.To)
	}
}

// disambTarget reloads the conversation a resolved disambiguation acted on,
// for batch advancement. Best-effort.
func (e *Engine) disambTarget(ctx context.Context, disamb *Conversation) *Conversation {
	meta := disamb.Metadata.Disambiguation
	if meta == nil {
		return nil
	}
	index := SelectionIndex(disamb.LastReply)
	if index < 1 || index > len(meta.Candidates) {
		return nil
	}
	target, err := e.convs.GetByID(ctx, nil, meta.Candidates[index-1].ConversationID)
	if err != nil {
		e.logger.Error("reload disambiguation target failed", "error", err)
		return nil
	}
	return target
}

func openDisambiguation(convs []*Conversation) *Conversation {
	for _, conv := range convs {
		if conv.State == StateAwaitingDisambiguation {
			return conv
		}
	}
	return nil
}

func rollback(ctx context.Context, tx pgx.Tx) {
	_ = tx.Rollback(ctx)
}
