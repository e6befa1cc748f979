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

// sentTabLocators activate the "My Recommendations" tab control. The markup
// for this control has changed across releases; any of these may be current.
var sentTabLocators = []Locator{
	{Name: "sent tab link", Query: `//a[contains(text(), 'My Recommendations')]`, XPath: true},
	{Name: "sent tab button", Query: `//button[contains(text(), 'My Recommendations')]`, XPath: true},
	{Name: "sent tab div", Query: `//div[contains(text(), 'My Recommendations')]`, XPath: true},
	{Name: "sent tab span", Query: `//span[contains(text(), 'My Recommendations')]`, XPath: true},
}

// tableLocators find the referral data table itself.
var tableLocators = []Locator{
	{Name: "plain table", Query: "table"},
	{Name: "xpath table", Query: "//table", XPath: true},
	{Name: "styled div table", Query: `//div[contains(@class, 'table')]`, XPath: true},
	{Name: "aria table", Query: `//div[contains(@role, 'table')]`, XPath: true},
}

// Extractor reads referral tables from the creator-network page of the
// currently active account.
type Extractor struct {
	logger       *zap.Logger
	scrapeCfg    config.ScrapeConfig
	networkURL   string
	networkPath  string
	navTimeout   time.Duration
	postLoadWait time.Duration
}

// NewExtractor builds an extractor from configuration.
func NewExtractor(cfg *config.Config, logger *zap.Logger) *Extractor {
	return &Extractor{
		logger:       logger.Named("extractor"),
		scrapeCfg:    cfg.Scrape,
		networkURL:   cfg.Browser.BaseURL + cfg.Browser.NetworkPath,
		networkPath:  cfg.Browser.NetworkPath,
		navTimeout:   cfg.Browser.NavigationTimeout,
		postLoadWait: cfg.Browser.PostLoadWait,
	}
}

// ExtractPair extracts both directions for the active account: the default
// received view first, then the sent view behind the tab control.
func (e *Extractor) ExtractPair(ctx context.Context) (received, sent []PartnerRecord, err error) {
	received, err = e.ExtractTable(ctx, TabReceived)
	if err != nil {
		return nil, nil, err
	}
	sent, err = e.ExtractTable(ctx, TabSent)
	if err != nil {
		return nil, nil, err
	}
	return received, sent, nil
}

// ExtractTable locates and reads the referral table for the given tab. An
// empty slice is a valid, if suspicious, outcome: plausibility is the
// validator's judgment, not the extractor's. The whole locate-and-read
// sequence is retried with increasing backoff when no acceptable rows are
// found.
func (e *Extractor) ExtractTable(ctx context.Context, tab Tab) ([]PartnerRecord, error) {
	log := e.logger.With(zap.String("tab", tab.String()))

	if err := e.ensureOnNetworkPage(ctx); err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= e.scrapeCfg.TableRetries; attempt++ {
		records, err := e.readOnce(ctx, tab, log)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn("Table read attempt failed.", zap.Int("attempt", attempt), zap.Error(err))
		} else if len(records) > 0 {
			log.Info("Extracted table rows.", zap.Int("rows", len(records)), zap.Int("attempt", attempt))
			return records, nil
		} else {
			log.Warn("No acceptable rows found.", zap.Int("attempt", attempt))
		}

		if attempt < e.scrapeCfg.TableRetries {
			backoff := time.Duration(attempt) * e.scrapeCfg.TableBackoff
			log.Debug("Backing off before retry.", zap.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	log.Warn("Table extraction exhausted retries, settling for an empty result.")
	return []PartnerRecord{}, nil
}

// readOnce performs one locate-and-read pass: activate the tab if needed,
// find the table via the fallback chain, and parse its rows.
func (e *Extractor) readOnce(ctx context.Context, tab Tab, log *zap.Logger) ([]PartnerRecord, error) {
	if tab == TabSent {
		if _, err := ClickFirst(ctx, sentTabLocators, e.scrapeCfg.SelectorWait, log); err != nil {
			return nil, fmt.Errorf("could not activate sent tab: %w", err)
		}
		// Give the table time to swap its contents after the tab switch.
		if err := chromedp.Run(ctx, chromedp.Sleep(e.postLoadWait)); err != nil {
			return nil, err
		}
	}

	loc, err := FindFirst(ctx, tableLocators, e.scrapeCfg.SelectorWait, log)
	if err != nil {
		return nil, fmt.Errorf("could not locate referral table: %w", err)
	}

	var rows [][]string
	script := fmt.Sprintf(`(() => {
		const root = %s;
		if (!root) { return []; }
		return Array.from(root.querySelectorAll('tr')).map(tr =>
			Array.from(tr.querySelectorAll('td')).map(td => td.innerText));
	})()`, loc.jsElementExpr())

	readCtx, cancel := context.WithTimeout(ctx, e.navTimeout)
	defer cancel()
	if err := chromedp.Run(readCtx, chromedp.Evaluate(script, &rows)); err != nil {
		return nil, fmt.Errorf("failed to read table rows: %w", err)
	}

	return parseRows(rows), nil
}

// ensureOnNetworkPage navigates to the creator-network page unless the tab is
// already there.
func (e *Extractor) ensureOnNetworkPage(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, e.navTimeout)
	defer cancel()

	var location string
	if err := chromedp.Run(checkCtx, chromedp.Location(&location)); err != nil {
		return fmt.Errorf("could not read current location: %w", err)
	}
	if strings.Contains(location, e.networkPath) {
		return nil
	}

	e.logger.Debug("Navigating to creator-network page.", zap.String("from", location))
	if err := chromedp.Run(checkCtx,
		chromedp.Navigate(e.networkURL),
		chromedp.Sleep(e.postLoadWait),
	); err != nil {
		return fmt.Errorf("failed to navigate to creator-network page: %w", err)
	}
	return nil
}

// parseRows converts raw cell grids into records. A row is accepted only if
// it has at least 4 cells and the creator, subscriber, and conversion cells
// are all non-empty after trimming; malformed rows are skipped, not fatal.
func parseRows(rows [][]string) []PartnerRecord {
	var records []PartnerRecord
	for _, cells := range rows {
		if len(cells) < 4 {
			continue
		}
		creator := strings.TrimSpace(cells[0])
		subscribers := strings.TrimSpace(cells[2])
		conversion := strings.TrimSpace(cells[3])
		if creator == "" || subscribers == "" || conversion == "" {
			continue
		}
		records = append(records, PartnerRecord{
			CreatorName:     creator,
			SubscriberCount: NormalizeCount(subscribers),
			ConversionRate:  conversion,
		})
	}
	return records
}
