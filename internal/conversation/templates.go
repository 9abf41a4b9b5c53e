package conversation

import (
	"fmt"
	"strings"
	"time"
)

// Templates renders the outbound message bodies. Wording is presentation;
// the data each message carries is fixed by the state machine contracts.
type Templates struct {
	// DashboardURL is included whenever the owner is redirected to the web UI.
	DashboardURL string
}

const alertPrefix = "Alert: "

func (t *Templates) dashboard() string {
	if t.DashboardURL == "" {
		return "your Hadirot dashboard"
	}
	return t.DashboardURL
}

// AvailabilityPrompt asks whether a listing is still available, with batch
// progress context when the conversation is part of a batch.
func (t *Templates) AvailabilityPrompt(descriptor string, position, size int) string {
	if size > 1 {
		return fmt.Sprintf("%sIs your %s still available? Reply YES to renew or NO if it's taken. (%d of %d)",
			alertPrefix, descriptor, position, size)
	}
	return fmt.Sprintf("%sIs your %s still available? Reply YES to renew or NO if it's taken.",
		alertPrefix, descriptor)
}

// RenewalConfirmation announces the new expiration date after an extension.
func (t *Templates) RenewalConfirmation(descriptor string, newExpiry time.Time) string {
	return fmt.Sprintf("%sYour %s has been renewed through %s. Thank you!",
		alertPrefix, descriptor, newExpiry.Format("Jan 2, 2006"))
}

// AttributionQuestion asks whether the tenant or buyer came through Hadirot.
func (t *Templates) AttributionQuestion(closedVerb string) string {
	return fmt.Sprintf("%sGot it, the listing is marked %s. Did the %s find it through Hadirot? Reply YES or NO.",
		alertPrefix, closedVerb, attributionParty(closedVerb))
}

func attributionParty(closedVerb string) string {
	if closedVerb == "sold" {
		return "buyer"
	}
	return "tenant"
}

// AttributionThanks closes out the conversation after the attribution answer.
func (t *Templates) AttributionThanks() string {
	return alertPrefix + "Thanks, that's all we needed. You can relist any time from your dashboard."
}

// KeptActiveConfirmation confirms a listing stays up after a report prompt.
func (t *Templates) KeptActiveConfirmation(descriptor string) string {
	return fmt.Sprintf("%sThanks for confirming. Your %s stays active.", alertPrefix, descriptor)
}

// ReportPrompt re-asks the rented/sold yes-no question.
func (t *Templates) ReportPrompt(descriptor, closedVerb string) string {
	return fmt.Sprintf("%sHas your %s been %s? Reply YES if it's still available or NO if it's %s.",
		alertPrefix, descriptor, closedVerb, closedVerb)
}

// YesNoReprompt is the plain re-prompt for an unrecognized reply in a
// yes/no state.
func (t *Templates) YesNoReprompt(descriptor string) string {
	return fmt.Sprintf("%sSorry, we didn't catch that. Is your %s still available? Reply YES or NO.",
		alertPrefix, descriptor)
}

// BatchSummary re-sends context for an owner who asked for help mid-batch.
func (t *Templates) BatchSummary(descriptor string, position, size int) string {
	if size > 1 {
		return fmt.Sprintf("%sWe're checking on your %d listings one at a time. Right now: is your %s still available? Reply YES or NO. (%d of %d)",
			alertPrefix, size, descriptor, position, size)
	}
	return t.AvailabilityPrompt(descriptor, position, size)
}

// NumberedMenu renders a selection menu over descriptors.
func (t *Templates) NumberedMenu(header string, descriptors []string) string {
	var b strings.Builder
	b.WriteString(alertPrefix)
	b.WriteString(header)
	for i, d := range descriptors {
		fmt.Fprintf(&b, "\n%d. %s", i+1, d)
	}
	return b.String()
}

// SelectionMenu asks which listing a deactivation applies to.
func (t *Templates) SelectionMenu(descriptors []string) string {
	return t.NumberedMenu("Which listing is no longer available? Reply with a number:", descriptors)
}

// DisambiguationMenu asks which conversation an ambiguous reply refers to.
func (t *Templates) DisambiguationMenu(descriptors []string) string {
	return t.NumberedMenu("Which listing are you texting about? Reply with a number:", descriptors)
}

// SelectionReprompt re-asks for a valid menu number.
func (t *Templates) SelectionReprompt(count int) string {
	return fmt.Sprintf("%sPlease reply with a number between 1 and %d.", alertPrefix, count)
}

// ExpiredRedirect tells the owner the SMS link has lapsed.
func (t *Templates) ExpiredRedirect() string {
	return fmt.Sprintf("%sThis text link has expired. Please manage your listing at %s.",
		alertPrefix, t.dashboard())
}

// NoListingFound replies when a deactivation request matches nothing.
func (t *Templates) NoListingFound() string {
	return fmt.Sprintf("%sWe couldn't find an active listing for this number. Please check %s or contact us.",
		alertPrefix, t.dashboard())
}

// TooManyListings redirects owners with large portfolios to the web UI.
func (t *Templates) TooManyListings() string {
	return fmt.Sprintf("%sYou have several active listings. Please deactivate the right one at %s.",
		alertPrefix, t.dashboard())
}

// GenericFallback is the rate-limited reply for unrecognized messages from a
// number that owns listings.
func (t *Templates) GenericFallback() string {
	return fmt.Sprintf("%sText RENTED to deactivate a listing, or manage everything at %s.",
		alertPrefix, t.dashboard())
}

// UnknownNumberFallback is the rate-limited reply for numbers with no listings.
func (t *Templates) UnknownNumberFallback() string {
	return alertPrefix + "This number isn't linked to any Hadirot listing. If that seems wrong, contact us through the website."
}
