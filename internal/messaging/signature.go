package messaging

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// telnyxMaxSkew bounds how stale a signed Telnyx webhook may be.
const telnyxMaxSkew = 5 * time.Minute

// ValidateTwilioSignature checks the X-Twilio-Signature header against the
// request's form parameters and the public webhook URL.
func ValidateTwilioSignature(r *http.Request, authToken, webhookURL string) bool {
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" {
		return false
	}
	if err := r.ParseForm(); err != nil {
		return false
	}
	expected := computeTwilioSignature(webhookURL, r.PostForm, authToken)
	return hmac.Equal([]byte(signature), []byte(expected))
}

func computeTwilioSignature(webhookURL string, params url.Values, authToken string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var payload strings.Builder
	payload.WriteString(webhookURL)
	for _, key := range keys {
		for _, value := range params[key] {
			payload.WriteString(key)
			payload.WriteString(value)
		}
	}

	h := hmac.New(sha1.New, []byte(authToken))
	h.Write([]byte(payload.String()))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// VerifyTelnyxSignature checks an HMAC-SHA256 webhook signature over
// "<timestamp>.<payload>" and rejects stale timestamps.
func VerifyTelnyxSignature(timestamp, signature string, payload []byte, secret string) error {
	if secret == "" {
		return errors.New("messaging: telnyx webhook secret not configured")
	}
	ts := strings.TrimSpace(timestamp)
	if ts == "" {
		return errors.New("messaging: missing signature timestamp")
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("messaging: invalid signature timestamp: %w", err)
	}
	sentAt := time.Unix(sec, 0)
	if diff := time.Since(sentAt); diff > telnyxMaxSkew || diff < -telnyxMaxSkew {
		return fmt.Errorf("messaging: signature timestamp skew %s exceeds limit", diff)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + "." + string(payload)))
	expected := hex.EncodeToString(mac.Sum(nil))

	actual := strings.ToLower(strings.TrimSpace(signature))
	if actual == "" {
		return errors.New("messaging: missing signature header")
	}
	if !hmac.Equal([]byte(expected), []byte(actual)) {
		return errors.New("messaging: signature mismatch")
	}
	return nil
}
