package handlers

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hadirot/renewal-engine/internal/conversation"
	"github.com/hadirot/renewal-engine/internal/messaging"
	observemetrics "github.com/hadirot/renewal-engine/internal/observability/metrics"
	"github.com/hadirot/renewal-engine/pkg/logging"
)

const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

type renewalEngine interface {
	Process(ctx context.Context, msg conversation.InboundMessage) error
}

// SMSWebhookHandler receives inbound SMS webhooks from Twilio and Telnyx and
// feeds them to the renewal engine. The provider is always acknowledged with
// an empty response; only a signature failure is rejected, so providers never
// retry messages we chose not to act on.
type SMSWebhookHandler struct {
	engine          renewalEngine
	twilioAuthToken string
	twilioURL       string
	telnyxSecret    string
	defaultRegion   string
	logger          *logging.Logger
	metrics         *observemetrics.RenewalMetrics
}

type SMSWebhookConfig struct {
	Engine          renewalEngine
	TwilioAuthToken string
	// TwilioWebhookURL is the public URL Twilio signs requests against.
	TwilioWebhookURL string
	TelnyxSecret     string
	DefaultRegion    string
	Logger           *logging.Logger
	Metrics          *observemetrics.RenewalMetrics
}

func NewSMSWebhookHandler(cfg SMSWebhookConfig) *SMSWebhookHandler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &SMSWebhookHandler{
		engine:          cfg.Engine,
		twilioAuthToken: cfg.TwilioAuthToken,
		twilioURL:       cfg.TwilioWebhookURL,
		telnyxSecret:    cfg.TelnyxSecret,
		defaultRegion:   cfg.DefaultRegion,
		logger:          cfg.Logger,
		metrics:         cfg.Metrics,
	}
}

// HandleTwilio processes Twilio's form-encoded message webhook.
func (h *SMSWebhookHandler) HandleTwilio(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		h.metrics.ObserveWebhookLatency("twilio", time.Since(start).Seconds())
	}()

	if h.twilioAuthToken != "" {
		if !messaging.ValidateTwilioSignature(r, h.twilioAuthToken, h.twilioURL) {
			h.logger.Warn("invalid twilio webhook signature", "remote", r.RemoteAddr)
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	inbound, err := messaging.ParseTwilioWebhook(r)
	if err != nil {
		h.logger.Warn("malformed twilio webhook", "error", err)
		h.ack(w)
		return
	}

	h.process(r.Context(), conversation.InboundMessage{
		Phone:             messaging.NormalizeE164(inbound.From, h.defaultRegion),
		Body:              inbound.Body,
		ProviderMessageID: inbound.MessageSid,
	})
	h.ack(w)
}

// HandleTelnyx processes Telnyx V2 message webhooks. Only message.received
// events reach the engine; everything else is acknowledged and dropped.
func (h *SMSWebhookHandler) HandleTelnyx(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		h.metrics.ObserveWebhookLatency("telnyx", time.Since(start).Seconds())
	}()

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		h.logger.Warn("unreadable telnyx webhook body", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	if h.telnyxSecret != "" {
		err := messaging.VerifyTelnyxSignature(
			r.Header.Get("Telnyx-Timestamp"),
			r.Header.Get("Telnyx-Signature"),
			body,
			h.telnyxSecret,
		)
		if err != nil {
			h.logger.Warn("invalid telnyx webhook signature", "error", err)
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	evt, err := messaging.ParseTelnyxEvent(body)
	if err != nil {
		h.logger.Warn("malformed telnyx webhook", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}
	if evt.EventType != "message.received" {
		w.WriteHeader(http.StatusOK)
		return
	}

	h.process(r.Context(), conversation.InboundMessage{
		Phone:             messaging.NormalizeE164(evt.Payload.From.PhoneNumber, h.defaultRegion),
		Body:              evt.Payload.Text,
		ProviderMessageID: evt.Payload.ID,
	})
	w.WriteHeader(http.StatusOK)
}

// process runs the engine and swallows errors: the webhook acknowledgment
// must not depend on downstream success, and the engine alerts on its own
// failures.
func (h *SMSWebhookHandler) process(ctx context.Context, msg conversation.InboundMessage) {
	if msg.Phone == "" {
		h.logger.Warn("inbound message without usable phone number")
		return
	}
	if strings.TrimSpace(msg.Body) == "" {
		// Media-only MMS and delivery pings arrive with no text. Replying
		// would re-prompt the landlord over a message they never typed.
		h.logger.Warn("inbound message without text body", "phone", msg.Phone)
		return
	}
	if err := h.engine.Process(ctx, msg); err != nil {
		h.logger.Error("engine processing failed", "error", err, "phone", msg.Phone)
	}
}

func (h *SMSWebhookHandler) ack(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(emptyTwiML))
}
