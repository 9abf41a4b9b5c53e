package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hadirot/renewal-engine/internal/conversation"
	"github.com/hadirot/renewal-engine/pkg/logging"
)

var telnyxSendTracer = otel.Tracer("renewal-engine/messaging/telnyx_send")

// TelnyxSender posts SMS messages using Telnyx's V2 API.
type TelnyxSender struct {
	apiKey             string
	messagingProfileID string
	httpClient         *http.Client
	logger             *logging.Logger
}

func NewTelnyxSender(apiKey, messagingProfileID string, logger *logging.Logger) *TelnyxSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &TelnyxSender{
		apiKey:             apiKey,
		messagingProfileID: messagingProfileID,
		httpClient:         &http.Client{Timeout: 10 * time.Second},
		logger:             logger,
	}
}

var _ conversation.ReplyMessenger = (*TelnyxSender)(nil)

// SendReply dispatches a single SMS via Telnyx, retrying transient failures.
func (s *TelnyxSender) SendReply(ctx context.Context, reply conversation.OutboundReply) error {
	if s.apiKey == "" {
		return errors.New("messaging: telnyx api key missing")
	}
	if reply.To == "" {
		return errors.New("messaging: to required")
	}
	if reply.From == "" {
		return errors.New("messaging: from required")
	}
	if strings.TrimSpace(reply.Body) == "" {
		return errors.New("messaging: body required")
	}

	ctx, span := telnyxSendTracer.Start(ctx, "messaging.telnyx.send")
	defer span.End()
	span.SetAttributes(
		attribute.String("sms.to", reply.To),
		attribute.String("sms.from", reply.From),
		attribute.String("sms.source", reply.Source),
	)

	payload := map[string]any{
		"from": reply.From,
		"to":   reply.To,
		"text": reply.Body,
	}
	if s.messagingProfileID != "" {
		payload["messaging_profile_id"] = s.messagingProfileID
	}
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("messaging: marshal telnyx payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.telnyx.com/v2/messages", bytes.NewReader(bodyBytes))
		if err != nil {
			lastErr = err
			break
		}
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			lastErr = err
		} else {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				recordTelnyxResult(reply.Metadata, body)
				s.logger.Info("telnyx sms sent", "to", reply.To, "source", reply.Source)
				return nil
			}
			var errorBody map[string]any
			if len(body) > 0 && json.Unmarshal(body, &errorBody) == nil {
				lastErr = fmt.Errorf("telnyx send failed: status %d, body: %v", resp.StatusCode, errorBody)
			} else {
				lastErr = fmt.Errorf("telnyx send failed: status %d", resp.StatusCode)
			}
		}

		if attempt < 3 {
			time.Sleep(time.Duration(200+rand.Intn(300)) * time.Millisecond)
		}
	}

	if lastErr != nil {
		span.RecordError(lastErr)
		s.logger.Error("failed to send telnyx sms", "error", lastErr, "to", reply.To)
	}
	return lastErr
}

func recordTelnyxResult(metadata map[string]string, body []byte) {
	if metadata == nil || len(body) == 0 {
		return
	}
	var parsed struct {
		Data struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return
	}
	if parsed.Data.ID != "" {
		metadata["provider_message_id"] = parsed.Data.ID
	}
	if parsed.Data.Status != "" {
		metadata["provider_status"] = parsed.Data.Status
	}
}
