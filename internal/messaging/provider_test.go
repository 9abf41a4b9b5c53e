package messaging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildReplyMessengerAutoPrefersFailover(t *testing.T) {
	messenger, provider, reason := BuildReplyMessenger(ProviderSelectionConfig{
		TelnyxAPIKey:     "key",
		TelnyxProfileID:  "profile",
		TwilioAccountSID: "AC123",
		TwilioAuthToken:  "token",
		TwilioFromNumber: "+18885550100",
	}, nil)

	require.Empty(t, reason)
	assert.Equal(t, "telnyx+twilio", provider)
	assert.IsType(t, &FailoverMessenger{}, messenger)
}

func TestBuildReplyMessengerAutoSingleProvider(t *testing.T) {
	messenger, provider, reason := BuildReplyMessenger(ProviderSelectionConfig{
		TwilioAccountSID: "AC123",
		TwilioAuthToken:  "token",
		TwilioFromNumber: "+18885550100",
	}, nil)

	require.Empty(t, reason)
	assert.Equal(t, SMSProviderTwilio, provider)
	assert.NotNil(t, messenger)
}

func TestBuildReplyMessengerForcedProviderMissingCreds(t *testing.T) {
	messenger, provider, reason := BuildReplyMessenger(ProviderSelectionConfig{
		Preference:       SMSProviderTelnyx,
		TwilioAccountSID: "AC123",
		TwilioAuthToken:  "token",
	}, nil)

	assert.Nil(t, messenger)
	assert.Empty(t, provider)
	assert.Contains(t, reason, "TELNYX_API_KEY missing")
}

func TestBuildReplyMessengerNothingConfigured(t *testing.T) {
	messenger, provider, reason := BuildReplyMessenger(ProviderSelectionConfig{}, nil)

	assert.Nil(t, messenger)
	assert.Empty(t, provider)
	assert.Contains(t, reason, "telnyx")
	assert.Contains(t, reason, "twilio")
}
