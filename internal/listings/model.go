package listings

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes rentals from sales; reply wording differs between them.
type Kind string

const (
	KindRental Kind = "rental"
	KindSale   Kind = "sale"
)

// Listing is the slice of the listing record this engine reads and mutates.
// The engine never creates or deletes listings.
type Listing struct {
	ID              uuid.UUID
	Phone           string
	Bedrooms        int
	CrossStreet     string
	Neighborhood    string
	Kind            Kind
	IsActive        bool
	Approved        bool
	DeactivatedAt   *time.Time
	ExpiresAt       *time.Time
	LastPublishedAt *time.Time
	FoundViaHadirot *bool
}

// ClosedVerb returns the word owners use when this listing is gone:
// "rented" for rentals, "sold" for sales.
func (l *Listing) ClosedVerb() string {
	if l.Kind == KindSale {
		return "sold"
	}
	return "rented"
}

// Descriptor renders a short human-readable label for SMS menus,
// e.g. "3BR on E 15th" or "1BR in Midwood".
func (l *Listing) Descriptor() string {
	var b strings.Builder
	if l.Bedrooms > 0 {
		fmt.Fprintf(&b, "%dBR", l.Bedrooms)
	} else {
		b.WriteString("Studio")
	}
	switch {
	case l.CrossStreet != "":
		fmt.Fprintf(&b, " on %s", l.CrossStreet)
	case l.Neighborhood != "":
		fmt.Fprintf(&b, " in %s", l.Neighborhood)
	}
	return b.String()
}
