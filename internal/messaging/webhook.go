package messaging

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// TwilioInbound is one parsed Twilio message webhook.
type TwilioInbound struct {
	MessageSid string
	AccountSid string
	From       string
	To         string
	Body       string
}

// ParseTwilioWebhook decodes Twilio's form-encoded message webhook.
func ParseTwilioWebhook(r *http.Request) (*TwilioInbound, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("messaging: parse twilio form: %w", err)
	}
	return &TwilioInbound{
		MessageSid: r.FormValue("MessageSid"),
		AccountSid: r.FormValue("AccountSid"),
		From:       r.FormValue("From"),
		To:         r.FormValue("To"),
		Body:       r.FormValue("Body"),
	}, nil
}

// TelnyxEvent is the envelope of a Telnyx V2 webhook.
type TelnyxEvent struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Payload   struct {
		ID   string `json:"id"`
		Text string `json:"text"`
		From struct {
			PhoneNumber string `json:"phone_number"`
		} `json:"from"`
		To []struct {
			PhoneNumber string `json:"phone_number"`
		} `json:"to"`
	} `json:"payload"`
}

// ParseTelnyxEvent decodes a Telnyx webhook body. Telnyx nests the event
// under a "data" key.
func ParseTelnyxEvent(body []byte) (*TelnyxEvent, error) {
	var envelope struct {
		Data TelnyxEvent `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("messaging: parse telnyx event: %w", err)
	}
	if envelope.Data.EventType == "" {
		return nil, fmt.Errorf("messaging: telnyx event missing event_type")
	}
	return &envelope.Data, nil
}
