package messaging

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twilioTestToken = "12345678901234567890123456789012"

func TestValidateTwilioSignature(t *testing.T) {
	webhookURL := "https://hadirot.test/webhooks/twilio/sms"
	params := url.Values{}
	params.Set("From", "+17185551234")
	params.Set("Body", "yes")
	params.Set("MessageSid", "SM123")

	r := httptest.NewRequest("POST", "/webhooks/twilio/sms", strings.NewReader(params.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.Header.Set("X-Twilio-Signature", computeTwilioSignature(webhookURL, params, twilioTestToken))

	assert.True(t, ValidateTwilioSignature(r, twilioTestToken, webhookURL))
}

func TestValidateTwilioSignatureRejectsTamperedBody(t *testing.T) {
	webhookURL := "https://hadirot.test/webhooks/twilio/sms"
	params := url.Values{}
	params.Set("From", "+17185551234")
	params.Set("Body", "yes")
	signature := computeTwilioSignature(webhookURL, params, twilioTestToken)

	params.Set("Body", "no")
	r := httptest.NewRequest("POST", "/webhooks/twilio/sms", strings.NewReader(params.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.Header.Set("X-Twilio-Signature", signature)

	assert.False(t, ValidateTwilioSignature(r, twilioTestToken, webhookURL))
}

func TestValidateTwilioSignatureMissingHeader(t *testing.T) {
	r := httptest.NewRequest("POST", "/webhooks/twilio/sms", nil)
	assert.False(t, ValidateTwilioSignature(r, twilioTestToken, "https://hadirot.test/webhooks/twilio/sms"))
}

func signTelnyx(secret, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "." + string(payload)))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyTelnyxSignature(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{"data":{"event_type":"message.received"}}`)
	ts := fmt.Sprintf("%d", time.Now().Unix())

	require.NoError(t, VerifyTelnyxSignature(ts, signTelnyx(secret, ts, payload), payload, secret))
}

func TestVerifyTelnyxSignatureMismatch(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{"data":{}}`)
	ts := fmt.Sprintf("%d", time.Now().Unix())

	err := VerifyTelnyxSignature(ts, signTelnyx("other-secret", ts, payload), payload, secret)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mismatch")
}

func TestVerifyTelnyxSignatureStaleTimestamp(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{}`)
	ts := fmt.Sprintf("%d", time.Now().Add(-time.Hour).Unix())

	err := VerifyTelnyxSignature(ts, signTelnyx(secret, ts, payload), payload, secret)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "skew")
}

func TestVerifyTelnyxSignatureRequiresSecret(t *testing.T) {
	err := VerifyTelnyxSignature("123", "abc", []byte("{}"), "")
	require.Error(t, err)
}
