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

const switchSettleDelay = 5 * time.Second

// Switcher transitions the active session between tenant accounts and
// verifies every switch before reporting success.
type Switcher struct {
	logger       *zap.Logger
	retries      int
	retryDelay   time.Duration
	selectorWait time.Duration
	postLoadWait time.Duration
}

// NewSwitcher builds a switcher from configuration.
func NewSwitcher(cfg *config.Config, logger *zap.Logger) *Switcher {
	return &Switcher{
		logger:       logger.Named("switcher"),
		retries:      cfg.Scrape.SwitchRetries,
		retryDelay:   cfg.Scrape.SwitchDelay,
		selectorWait: cfg.Scrape.SelectorWait,
		postLoadWait: cfg.Browser.PostLoadWait,
	}
}

// CurrentAccount reads the display name of the currently active account from
// the avatar button. This is the same identity-read path used for switch
// verification.
func (s *Switcher) CurrentAccount(ctx context.Context) (string, error) {
	readCtx, cancel := context.WithTimeout(ctx, s.selectorWait)
	defer cancel()

	script := fmt.Sprintf(`(() => {
		const btn = %s;
		if (!btn) { return ''; }
		const span = btn.querySelector('span');
		return span ? span.innerText : btn.innerText;
	})()`, accountMenuLocators[0].jsElementExpr())

	var text string
	if err := chromedp.Run(readCtx, chromedp.Evaluate(script, &text)); err != nil {
		return "", fmt.Errorf("could not read active account name: %w", err)
	}

	// The button renders the account name on the first line.
	name := strings.TrimSpace(strings.SplitN(text, "\n", 2)[0])
	if name == "" {
		return "", fmt.Errorf("active account name is empty")
	}
	return name, nil
}

// SwitchTo makes the given account the active tenant context. It no-ops when
// the session is already there, and otherwise retries the whole
// open-select-verify sequence before propagating failure. Selection keys on
// the contact email; display names are not guaranteed unique.
func (s *Switcher) SwitchTo(ctx context.Context, account AccountIdentity) error {
	log := s.logger.With(zap.String("account", account.DisplayName))

	if current, err := s.CurrentAccount(ctx); err == nil && current == account.DisplayName {
		log.Debug("Already on requested account.")
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= s.retries; attempt++ {
		if err := s.switchOnce(ctx, account); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			log.Warn("Account switch attempt failed.", zap.Int("attempt", attempt), zap.Error(err))
			if attempt < s.retries {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(s.retryDelay):
				}
			}
			continue
		}
		log.Info("Switched account.", zap.Int("attempt", attempt))
		return nil
	}
	return fmt.Errorf("failed to switch to account %q after %d attempts: %w",
		account.DisplayName, s.retries, lastErr)
}

// switchOnce performs a single menu-open, select, verify sequence.
func (s *Switcher) switchOnce(ctx context.Context, account AccountIdentity) error {
	if _, err := ClickFirst(ctx, accountMenuLocators, s.selectorWait, s.logger); err != nil {
		return fmt.Errorf("could not open account menu: %w", err)
	}

	entry := Locator{
		Name:  "account menu entry",
		Query: fmt.Sprintf(`a[role='menuitem'][data-account-email='%s']`, account.ContactEmail),
	}
	clickCtx, cancel := context.WithTimeout(ctx, s.selectorWait+switchSettleDelay)
	err := chromedp.Run(clickCtx,
		chromedp.WaitVisible(entry.Query, entry.by()),
		chromedp.Click(entry.Query, entry.by()),
		chromedp.Sleep(switchSettleDelay),
	)
	cancel()
	if err != nil {
		return fmt.Errorf("could not select account entry: %w", err)
	}

	current, err := s.CurrentAccount(ctx)
	if err != nil {
		return err
	}
	if current != account.DisplayName {
		return &SwitchVerificationError{Want: account.DisplayName, Got: current}
	}
	return nil
}
