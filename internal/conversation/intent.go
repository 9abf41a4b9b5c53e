package conversation

import (
	"strings"
	"unicode"
)

// Intent is the coarse meaning assigned to an inbound reply.
type Intent string

const (
	IntentAffirmative    Intent = "affirmative"
	IntentNegative       Intent = "negative"
	IntentDeactivation   Intent = "deactivation"
	IntentHelp           Intent = "help"
	IntentSelection      Intent = "selection"
	IntentAcknowledgment Intent = "acknowledgment"
	IntentUnknown        Intent = "unknown"
)

// Confidence tiers how certain the classifier is about an intent.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Classification pairs an intent with its confidence tier.
type Classification struct {
	Intent     Intent
	Confidence Confidence
}

var affirmativeTokens = map[string]struct{}{
	"yes": {}, "y": {}, "yeah": {}, "yep": {}, "yup": {}, "ya": {},
	"sure": {}, "ok": {}, "okay": {}, "correct": {}, "still available": {},
}

var negativeTokens = map[string]struct{}{
	"no": {}, "n": {}, "nope": {}, "nah": {}, "not anymore": {},
}

var deactivationKeywords = []string{
	"rented", "sold", "taken", "deactivate", "remove", "delete",
	"no longer available", "not available", "off the market", "gone",
}

var acknowledgmentKeywords = []string{
	"thanks", "thank you", "thankyou", "thx", "ty", "got it", "great",
	"will do", "sounds good", "perfect", "ok thanks",
}

var helpKeywords = []string{
	"help", "what is this", "who is this", "what do you mean", "confused",
}

// Classify maps raw reply text plus the current conversation state to an
// intent. Pass an empty State for unsolicited messages. The function is pure:
// the same inputs always yield the same classification.
func Classify(text string, state State) Classification {
	normalized := normalizeReply(text)

	// Digit-only replies are menu selections no matter the state.
	if isDigits(normalized) && normalized != "" {
		return Classification{IntentSelection, ConfidenceHigh}
	}

	switch state {
	case StateAwaitingAvailability, StateAwaitingReportResponse:
		if _, ok := affirmativeTokens[normalized]; ok {
			return Classification{IntentAffirmative, ConfidenceHigh}
		}
		if _, ok := negativeTokens[normalized]; ok {
			return Classification{IntentNegative, ConfidenceHigh}
		}
		if containsAny(normalized, deactivationKeywords) {
			return Classification{IntentNegative, ConfidenceHigh}
		}
		if strings.Contains(text, "?") || containsAny(normalized, helpKeywords) {
			return Classification{IntentHelp, ConfidenceMedium}
		}
		return Classification{IntentUnknown, ConfidenceLow}

	case StateAwaitingHadirotQuestion:
		if _, ok := affirmativeTokens[normalized]; ok {
			return Classification{IntentAffirmative, ConfidenceHigh}
		}
		if _, ok := negativeTokens[normalized]; ok {
			return Classification{IntentNegative, ConfidenceHigh}
		}
		return Classification{IntentUnknown, ConfidenceLow}

	case StateAwaitingListingSelection:
		// Only digits advance a selection. Anything else re-prompts, so the
		// keyword sweeps other states run are skipped here.
		return Classification{IntentUnknown, ConfidenceLow}

	case StateAwaitingDisambiguation:
		if containsAny(normalized, deactivationKeywords) {
			return Classification{IntentDeactivation, ConfidenceMedium}
		}
		// A bare "what" means the landlord lost the thread of the menu.
		if normalized == "what" || strings.Contains(text, "?") || containsAny(normalized, helpKeywords) {
			return Classification{IntentHelp, ConfidenceMedium}
		}
		return Classification{IntentUnknown, ConfidenceLow}

	case StateCallbackSent:
		if containsAny(normalized, deactivationKeywords) {
			return Classification{IntentDeactivation, ConfidenceHigh}
		}
		if _, ok := negativeTokens[normalized]; ok {
			return Classification{IntentDeactivation, ConfidenceMedium}
		}
		if containsAny(normalized, acknowledgmentKeywords) {
			return Classification{IntentAcknowledgment, ConfidenceHigh}
		}
		// Replies after a callback default to a polite close.
		return Classification{IntentAcknowledgment, ConfidenceLow}
	}

	// Unsolicited message, no conversation state.
	if containsAny(normalized, deactivationKeywords) {
		return Classification{IntentDeactivation, ConfidenceHigh}
	}
	if containsAny(normalized, acknowledgmentKeywords) {
		return Classification{IntentAcknowledgment, ConfidenceMedium}
	}
	if strings.Contains(text, "?") || containsAny(normalized, helpKeywords) {
		return Classification{IntentHelp, ConfidenceMedium}
	}
	return Classification{IntentUnknown, ConfidenceLow}
}

// IsAcknowledgment reports whether the text matches an acknowledgment keyword
// regardless of state. The router uses it during auto-resolution.
func IsAcknowledgment(text string) bool {
	return containsAny(normalizeReply(text), acknowledgmentKeywords)
}

// IsDeactivation reports whether the text matches a deactivation keyword
// regardless of state.
func IsDeactivation(text string) bool {
	return containsAny(normalizeReply(text), deactivationKeywords)
}

// IsYesNoToken reports whether the text is a bare affirmative or negative token.
func IsYesNoToken(text string) bool {
	normalized := normalizeReply(text)
	if _, ok := affirmativeTokens[normalized]; ok {
		return true
	}
	_, ok := negativeTokens[normalized]
	return ok
}

// SelectionIndex parses a digit-only reply into a 1-based menu index.
// Returns 0 when the reply is not a plain number.
func SelectionIndex(text string) int {
	normalized := normalizeReply(text)
	if normalized == "" || !isDigits(normalized) || len(normalized) > 2 {
		return 0
	}
	n := 0
	for _, r := range normalized {
		n = n*10 + int(r-'0')
	}
	return n
}

func normalizeReply(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	return strings.TrimFunc(text, func(r rune) bool {
		return unicode.IsPunct(r) && r != '?'
	})
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func containsAny(normalized string, keywords []string) bool {
	if normalized == "" {
		return false
	}
	for _, kw := range keywords {
		if strings.Contains(normalized, kw) {
			return true
		}
	}
	return false
}
