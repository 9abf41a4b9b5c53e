package messaging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeE164(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		region string
		want   string
	}{
		{"already e164", "+17185551234", "US", "+17185551234"},
		{"national with punctuation", "(718) 555-1234", "US", "+17185551234"},
		{"whitespace trimmed", "  +17185551234 ", "US", "+17185551234"},
		{"default region when empty", "7185551234", "", "+17185551234"},
		{"unparseable digits fall back to strip", "999-99", "US", "+99999"},
		{"empty input", "", "US", ""},
		{"letters only", "hello", "US", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeE164(tt.raw, tt.region))
		})
	}
}
