package scrape

import (
	"errors"
	"fmt"
)

// ErrNoAccounts is returned when zero accounts survive allow-list filtering.
// The system always has at least one configured tenant, so this is an anomaly,
// never a legitimate end state.
var ErrNoAccounts = errors.New("no allowed accounts found in switch menu")

// ErrSelectorExhausted is returned when no candidate locator in a fallback
// chain matched the required UI element.
var ErrSelectorExhausted = errors.New("no candidate locator matched")

// SwitchVerificationError reports that the account menu interaction did not
// land on the expected tenant.
type SwitchVerificationError struct {
	Want string
	Got  string
}

func (e *SwitchVerificationError) Error() string {
	return fmt.Sprintf("account switch verification failed: expected %q, got %q", e.Want, e.Got)
}
