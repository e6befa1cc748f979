package scrape

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/refpulse/refpulse/internal/config"
)

// accountMenuLocators open the account-switch dropdown. The avatar button is
// the current markup; the aria variant is an older one that still appears on
// some pages.
var accountMenuLocators = []Locator{
	{Name: "avatar menu button", Query: `//button[contains(@class, 'inline-flex') and .//img[contains(@alt, 'Avatar')]]`, XPath: true},
	{Name: "aria menu button", Query: `//button[@aria-haspopup='true' and contains(@class, 'inline-flex')]`, XPath: true},
}

const menuSettleDelay = 2 * time.Second

// menuEntry is one raw row read from the switch menu before filtering.
type menuEntry struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Directory enumerates the tenant accounts visible to the current session.
type Directory struct {
	logger       *zap.Logger
	allowList    *AllowList
	selectorWait time.Duration
}

// NewDirectory builds a directory reading its allow-list from the configured
// enabled-accounts document.
func NewDirectory(cfg *config.Config, logger *zap.Logger) *Directory {
	return &Directory{
		logger:       logger.Named("directory"),
		allowList:    NewAllowList(cfg.Scrape.AccountsFile),
		selectorWait: cfg.Scrape.SelectorWait,
	}
}

// ListAccounts opens the account-switch menu, reads every candidate entry,
// and returns the allow-listed tenant identities. Zero surviving accounts is
// always an anomaly and returns ErrNoAccounts.
func (d *Directory) ListAccounts(ctx context.Context) ([]AccountIdentity, error) {
	allowed, err := d.allowList.EnabledSet()
	if err != nil {
		return nil, err
	}

	if _, err := ClickFirst(ctx, accountMenuLocators, d.selectorWait, d.logger); err != nil {
		return nil, fmt.Errorf("could not open account menu: %w", err)
	}
	if err := chromedp.Run(ctx, chromedp.Sleep(menuSettleDelay)); err != nil {
		return nil, err
	}

	var entries []menuEntry
	readCtx, cancel := context.WithTimeout(ctx, d.selectorWait)
	defer cancel()
	err = chromedp.Run(readCtx, chromedp.Evaluate(`
		Array.from(document.querySelectorAll("a[role='menuitem']")).map(a => ({
			name: a.getAttribute('data-valuetext') || '',
			email: a.getAttribute('data-account-email') || '',
		}))`, &entries))
	if err != nil {
		return nil, fmt.Errorf("could not read account menu entries: %w", err)
	}

	accounts := filterEntries(entries, allowed)
	if len(accounts) == 0 {
		return nil, fmt.Errorf("%w (menu had %d entries, allow-list has %d names)",
			ErrNoAccounts, len(entries), len(allowed))
	}

	names := make([]string, len(accounts))
	for i, a := range accounts {
		names[i] = a.DisplayName
	}
	d.logger.Info("Enumerated allowed accounts.", zap.Strings("accounts", names))
	return accounts, nil
}

// filterEntries discards navigation items that share the menu-item
// affordance, de-duplicates by contact email, and applies the allow-list.
func filterEntries(entries []menuEntry, allowed map[string]bool) []AccountIdentity {
	seen := make(map[string]bool)
	var accounts []AccountIdentity
	for _, e := range entries {
		name := cleanDisplayName(strings.TrimSpace(e.Name))
		if name == "" || name == "Settings" || name == "Log out" {
			continue
		}
		if !allowed[name] {
			continue
		}
		email := strings.TrimSpace(e.Email)
		if email == "" || seen[email] {
			continue
		}
		seen[email] = true
		accounts = append(accounts, AccountIdentity{DisplayName: name, ContactEmail: email})
	}
	return accounts
}

// cleanDisplayName undoes the menu's accessibility duplication, which renders
// names twice back to back ("Adam GrahamAdam Graham").
func cleanDisplayName(raw string) string {
	if l := len(raw); l > 0 && l%2 == 0 && raw[:l/2] == raw[l/2:] {
		return raw[:l/2]
	}
	return raw
}
