package scrape

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Locator is one candidate strategy for finding a UI element. The page's
// markup is not stable, so required elements are described by ordered chains
// of locators rather than a single selector; the chain, not control flow, is
// the extension point when the markup changes again.
type Locator struct {
	Name  string
	Query string
	XPath bool
}

func (l Locator) by() chromedp.QueryOption {
	if l.XPath {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

// jsElementExpr returns a JavaScript expression evaluating to the first
// element matched by the locator, or null.
func (l Locator) jsElementExpr() string {
	if l.XPath {
		return fmt.Sprintf(
			`document.evaluate(%q, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue`,
			l.Query,
		)
	}
	return fmt.Sprintf(`document.querySelector(%q)`, l.Query)
}

// ClickFirst tries each locator in order until one becomes visible and is
// clicked, returning the winning locator. Each attempt gets its own timeout so
// a dead strategy cannot stall the whole chain.
func ClickFirst(ctx context.Context, locators []Locator, wait time.Duration, logger *zap.Logger) (Locator, error) {
	for _, loc := range locators {
		attemptCtx, cancel := context.WithTimeout(ctx, wait)
		err := chromedp.Run(attemptCtx,
			chromedp.WaitVisible(loc.Query, loc.by()),
			chromedp.Click(loc.Query, loc.by()),
		)
		cancel()
		if err == nil {
			logger.Debug("Locator matched and clicked.", zap.String("locator", loc.Name))
			return loc, nil
		}
		if ctx.Err() != nil {
			return Locator{}, ctx.Err()
		}
		logger.Debug("Locator failed, trying next.", zap.String("locator", loc.Name), zap.Error(err))
	}
	return Locator{}, fmt.Errorf("%w (tried %d click strategies)", ErrSelectorExhausted, len(locators))
}

// FindFirst waits for the presence of each locator in order and returns the
// first one that matches. Presence, not visibility: data tables may be
// rendered before they finish painting.
func FindFirst(ctx context.Context, locators []Locator, wait time.Duration, logger *zap.Logger) (Locator, error) {
	for _, loc := range locators {
		attemptCtx, cancel := context.WithTimeout(ctx, wait)
		err := chromedp.Run(attemptCtx, chromedp.WaitReady(loc.Query, loc.by()))
		cancel()
		if err == nil {
			logger.Debug("Locator matched.", zap.String("locator", loc.Name))
			return loc, nil
		}
		if ctx.Err() != nil {
			return Locator{}, ctx.Err()
		}
		logger.Debug("Locator failed, trying next.", zap.String("locator", loc.Name), zap.Error(err))
	}
	return Locator{}, fmt.Errorf("%w (tried %d find strategies)", ErrSelectorExhausted, len(locators))
}
