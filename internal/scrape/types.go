// Package scrape drives the authenticated browser session: account
// enumeration, account switching, and referral-table extraction.
package scrape

import "time"

// Tab identifies which of the two referral tables to extract.
type Tab int

const (
	// TabReceived is the default view: partners recommending this account.
	TabReceived Tab = iota
	// TabSent requires activating a tab control: this account's own recommendations.
	TabSent
)

func (t Tab) String() string {
	switch t {
	case TabReceived:
		return "received"
	case TabSent:
		return "sent"
	default:
		return "unknown"
	}
}

// AccountIdentity identifies one tenant account visible in the switch menu.
// The contact email is the stable key; display names are not guaranteed unique.
type AccountIdentity struct {
	DisplayName  string `json:"display_name"`
	ContactEmail string `json:"contact_email"`
}

// PartnerRecord is one row of a referral table. SubscriberCount is already
// normalized from the loosely formatted string the page renders.
type PartnerRecord struct {
	CreatorName     string `json:"creator_name"`
	SubscriberCount int    `json:"subscriber_count"`
	ConversionRate  string `json:"conversion_rate"`
}

// Snapshot is the received/sent record pair captured for one account at one
// point in time. It is the unit of persistence and of validation.
type Snapshot struct {
	Account   string          `json:"account"`
	Timestamp time.Time       `json:"timestamp"`
	Received  []PartnerRecord `json:"received"`
	Sent      []PartnerRecord `json:"sent"`
}
