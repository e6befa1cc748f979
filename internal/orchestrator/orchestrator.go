// Package orchestrator drives the daily collection run: session acquisition,
// per-account switch/extract/validate passes, bounded retries, and the single
// terminal notification.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/refpulse/refpulse/internal/browser"
	"github.com/refpulse/refpulse/internal/config"
	"github.com/refpulse/refpulse/internal/notify"
	"github.com/refpulse/refpulse/internal/scrape"
	"github.com/refpulse/refpulse/internal/store"
	"github.com/refpulse/refpulse/internal/validate"
)

// ErrRunInProgress is returned when a trigger fires while a run is active.
var ErrRunInProgress = errors.New("a collection run is already in progress")

// SessionManager owns the browser process and hands out authenticated tab
// contexts.
type SessionManager interface {
	EnsureSession(ctx context.Context) (context.Context, error)
	Restart(ctx context.Context) (context.Context, error)
	Close()
}

// AccountSource lists the enabled tenant accounts visible in the app.
type AccountSource interface {
	ListAccounts(ctx context.Context) ([]scrape.AccountIdentity, error)
}

// AccountSwitcher moves the browser session between tenant accounts.
type AccountSwitcher interface {
	SwitchTo(ctx context.Context, account scrape.AccountIdentity) error
}

// TableExtractor reads both referral tables for the active account.
type TableExtractor interface {
	ExtractPair(ctx context.Context) (received, sent []scrape.PartnerRecord, err error)
}

// SnapshotValidator judges a freshly extracted snapshot.
type SnapshotValidator interface {
	Validate(ctx context.Context, current scrape.Snapshot) (validate.Verdict, error)
}

// Orchestrator coordinates one collection run end to end.
type Orchestrator struct {
	logger    *zap.Logger
	cfg       *config.Config
	session   SessionManager
	accounts  AccountSource
	switcher  AccountSwitcher
	extractor TableExtractor
	validator SnapshotValidator
	store     store.Store
	notifier  notify.Notifier

	now func() time.Time

	mu      sync.Mutex
	running bool
}

// New wires an orchestrator from its collaborators.
func New(
	cfg *config.Config,
	session SessionManager,
	accounts AccountSource,
	switcher AccountSwitcher,
	extractor TableExtractor,
	validator SnapshotValidator,
	st store.Store,
	notifier notify.Notifier,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		logger:    logger.Named("orchestrator"),
		cfg:       cfg,
		session:   session,
		accounts:  accounts,
		switcher:  switcher,
		extractor: extractor,
		validator: validator,
		store:     st,
		notifier:  notifier,
		now:       time.Now,
	}
}

// Run executes one collection run for today. Re-triggers while a run is
// active return ErrRunInProgress without touching the active run. With force
// set, accounts already recorded successful today are attempted again.
func (o *Orchestrator) Run(ctx context.Context, force bool) (err error) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		o.logger.Warn("Run trigger ignored, a run is already in progress")
		return ErrRunInProgress
	}
	o.running = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
	}()

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Run aborted by panic", zap.Any("panic", r))
			o.notifier.Notify(ctx, fmt.Sprintf(":rotating_light: CRITICAL: collection run crashed: %v", r))
			err = fmt.Errorf("run panicked: %v", r)
		}
	}()

	return o.run(ctx, force)
}

func (o *Orchestrator) run(ctx context.Context, force bool) error {
	today := o.now().Format(store.DateLayout)
	log := o.logger.With(
		zap.String("run_date", today),
		zap.String("run_id", uuid.NewString()))

	state, err := o.store.LoadRunState(ctx, today)
	if err != nil {
		err = fmt.Errorf("failed to load run state: %w", err)
		log.Error("Run could not start", zap.Error(err))
		o.notifier.Notify(ctx, fmt.Sprintf(":rotating_light: CRITICAL: collection run could not start: %v", err))
		return err
	}

	tabCtx, err := o.session.EnsureSession(ctx)
	if err != nil {
		if errors.Is(err, browser.ErrLoginRequired) {
			log.Error("Session could not be authenticated, aborting run")
			o.notifier.Notify(ctx,
				":lock: Collection run aborted: manual login required. "+
					"Log in through the browser profile and re-trigger the run.")
			return err
		}
		err = fmt.Errorf("failed to establish browser session: %w", err)
		log.Error("Run could not start", zap.Error(err))
		o.notifier.Notify(ctx, fmt.Sprintf(":rotating_light: CRITICAL: collection run could not start: %v", err))
		return err
	}

	identities, err := o.accounts.ListAccounts(tabCtx)
	if err != nil {
		o.notifier.Notify(ctx, fmt.Sprintf(":x: Collection run failed before scraping: %v", err))
		return fmt.Errorf("failed to list accounts: %w", err)
	}

	targets, current := o.selectTargets(identities, state, today, force)
	if len(targets) == 0 {
		log.Info("All enabled accounts already collected today, nothing to do")
		return nil
	}
	log.Info("Starting collection run",
		zap.Int("targets", len(targets)),
		zap.Bool("force", force),
		zap.Int("already_successful", len(current.Successful)))

	var messages []string
	for attempt := 1; attempt <= o.cfg.Scrape.MaxRunRetries; attempt++ {
		passLog := log.With(zap.Int("pass", attempt))
		passLog.Info("Starting pass", zap.Int("accounts", len(targets)))

		result, loginLost := o.runPass(ctx, tabCtx, targets, passLog)
		current = applyPass(current, result, o.now())
		if saveErr := o.store.SaveRunState(ctx, current); saveErr != nil {
			passLog.Error("Failed to persist run state", zap.Error(saveErr))
			messages = append(messages, fmt.Sprintf("run state not persisted: %v", saveErr))
		}
		messages = append(messages, result.Messages...)

		if loginLost {
			o.notifier.Notify(ctx,
				":lock: Collection run aborted mid-pass: session lost and manual login required. "+
					fmt.Sprintf("%d account(s) remain pending.", len(current.Pending)))
			return browser.ErrLoginRequired
		}
		if len(current.Pending) == 0 {
			break
		}
		targets = filterIdentities(identities, current.Pending)
		if attempt < o.cfg.Scrape.MaxRunRetries {
			passLog.Warn("Pass left accounts pending, retrying",
				zap.Strings("pending", current.Pending),
				zap.Duration("delay", o.cfg.Scrape.RunRetryDelay))
			select {
			case <-time.After(o.cfg.Scrape.RunRetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
			if tabCtx, err = o.session.EnsureSession(ctx); err != nil {
				messages = append(messages, fmt.Sprintf("session unavailable for retry: %v", err))
				break
			}
		}
	}

	o.notifyOutcome(ctx, current, messages)
	return nil
}

// selectTargets computes which identities still need collecting today and the
// state document the passes will fold into.
func (o *Orchestrator) selectTargets(identities []scrape.AccountIdentity, state *store.RunState, today string, force bool) ([]scrape.AccountIdentity, store.RunState) {
	names := make([]string, len(identities))
	for i, id := range identities {
		names[i] = id.DisplayName
	}

	if force || state == nil || state.RunDate != today {
		return identities, newRunState(today, names, o.now())
	}

	done := make(map[string]bool, len(state.Successful))
	for _, name := range state.Successful {
		done[name] = true
	}
	var targets []scrape.AccountIdentity
	for _, id := range identities {
		if !done[id.DisplayName] {
			targets = append(targets, id)
		}
	}
	return targets, *state
}

// runPass attempts every target once. Any switch or extract error is treated
// as a possibly poisoned session: the account is recorded failed and the
// browser is restarted before the next account. A restart that itself fails
// ends the pass, with the untouched accounts recorded as failures. The second
// return value reports that the restart ended in a manual-login requirement,
// which aborts the whole run.
func (o *Orchestrator) runPass(ctx, tabCtx context.Context, targets []scrape.AccountIdentity, log *zap.Logger) (PassResult, bool) {
	var result PassResult

	for i, account := range targets {
		accountLog := log.With(zap.String("account", account.DisplayName))

		err := o.collectAccount(ctx, tabCtx, account, accountLog, &result)
		if err == nil {
			continue
		}

		result.Failed = append(result.Failed, account.DisplayName)
		result.Messages = append(result.Messages,
			fmt.Sprintf("%s: %v", account.DisplayName, err))
		accountLog.Warn("Account collection failed, restarting browser", zap.Error(err))

		freshCtx, restartErr := o.session.Restart(ctx)
		if restartErr != nil {
			for _, remaining := range targets[i+1:] {
				result.Failed = append(result.Failed, remaining.DisplayName)
			}
			result.Messages = append(result.Messages,
				fmt.Sprintf("browser restart failed, pass abandoned: %v", restartErr))
			accountLog.Error("Browser restart failed, abandoning pass", zap.Error(restartErr))
			return result, errors.Is(restartErr, browser.ErrLoginRequired)
		}
		tabCtx = freshCtx
	}
	return result, false
}

// collectAccount runs switch, extract, validate, and persist for one account.
// An invalid verdict is a failure for retry purposes but never an error that
// would trigger a browser restart.
func (o *Orchestrator) collectAccount(ctx, tabCtx context.Context, account scrape.AccountIdentity, log *zap.Logger, result *PassResult) error {
	if err := o.switcher.SwitchTo(tabCtx, account); err != nil {
		return fmt.Errorf("account switch failed: %w", err)
	}

	received, sent, err := o.extractor.ExtractPair(tabCtx)
	if err != nil {
		return fmt.Errorf("table extraction failed: %w", err)
	}

	snap := scrape.Snapshot{
		Account:   account.DisplayName,
		Timestamp: o.now(),
		Received:  received,
		Sent:      sent,
	}

	verdict, err := o.validator.Validate(ctx, snap)
	if err != nil {
		return fmt.Errorf("validation could not complete: %w", err)
	}
	if !verdict.Valid {
		log.Warn("Snapshot rejected by validation", zap.String("reason", verdict.Message))
		result.Failed = append(result.Failed, account.DisplayName)
		result.Messages = append(result.Messages,
			fmt.Sprintf("%s: %s", account.DisplayName, verdict.Message))
		return nil
	}

	if err := o.store.SaveSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("snapshot persistence failed: %w", err)
	}

	log.Info("Account collected",
		zap.Int("received_rows", len(received)),
		zap.Int("sent_rows", len(sent)))
	result.Succeeded = append(result.Succeeded, account.DisplayName)
	return nil
}

func (o *Orchestrator) notifyOutcome(ctx context.Context, state store.RunState, messages []string) {
	if len(state.Pending) == 0 {
		o.notifier.Notify(ctx, fmt.Sprintf(
			":white_check_mark: Collection run complete: %d account(s) collected for %s.",
			len(state.Successful), state.RunDate))
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, ":warning: Collection run finished with failures for %s.\n", state.RunDate)
	fmt.Fprintf(&b, "Collected: %d, failed: %s\n",
		len(state.Successful), strings.Join(state.Pending, ", "))
	if len(messages) > 0 {
		b.WriteString("Details:\n")
		for _, msg := range messages {
			fmt.Fprintf(&b, "- %s\n", msg)
		}
	}
	o.notifier.Notify(ctx, b.String())
}

func filterIdentities(identities []scrape.AccountIdentity, names []string) []scrape.AccountIdentity {
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}
	var out []scrape.AccountIdentity
	for _, id := range identities {
		if wanted[id.DisplayName] {
			out = append(out, id)
		}
	}
	return out
}
