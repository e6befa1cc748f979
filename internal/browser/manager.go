// Package browser owns the Chrome process lifecycle and the authenticated
// session. No other component touches the browser except through the Manager.
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/refpulse/refpulse/internal/config"
)

// ErrLoginRequired signals that neither automated nor manual login reached an
// authenticated state. The caller must abort the run; retrying cannot help
// until a human re-authenticates.
var ErrLoginRequired = errors.New("login required: manual authentication needed")

const loginPollInterval = 1 * time.Second

// Manager handles the browser process lifecycle, login detection, automated
// login, and the interactive manual-login fallback.
type Manager struct {
	logger *zap.Logger
	cfg    *config.Config

	// notify surfaces human-actionable messages (manual login needed).
	// Delivery failures are the notifier's problem, never the Manager's.
	notify func(message string)

	mu          sync.Mutex
	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	headless    bool
}

// NewManager creates a browser manager. The browser process is launched
// lazily on the first EnsureSession call.
func NewManager(cfg *config.Config, logger *zap.Logger, notify func(string)) *Manager {
	if notify == nil {
		notify = func(string) {}
	}
	return &Manager{
		logger:   logger.Named("browser"),
		cfg:      cfg,
		notify:   notify,
		headless: cfg.Browser.Headless,
	}
}

// EnsureSession returns a chromedp tab context in an authenticated state.
// Login success is detected by URL inspection, never by trusting the login
// form submission: the application silently redirects back to the login page
// on rejected credentials.
func (m *Manager) EnsureSession(ctx context.Context) (context.Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tabCtx != nil && m.tabCtx.Err() == nil {
		if m.isAuthenticated(ctx) {
			m.logger.Debug("Reusing live authenticated session.")
			return m.tabCtx, nil
		}
	}

	if err := m.launchLocked(); err != nil {
		return nil, err
	}
	if err := m.loginLocked(ctx); err != nil {
		return nil, err
	}
	return m.tabCtx, nil
}

// Restart tears down the current browser process unconditionally and re-runs
// the full login sequence. Used only as a recovery step; the retry budget
// belongs to the caller.
func (m *Manager) Restart(ctx context.Context) (context.Context, error) {
	m.logger.Info("Restarting browser session.")

	m.mu.Lock()
	defer m.mu.Unlock()

	m.teardownLocked()
	m.headless = m.cfg.Browser.Headless

	if err := m.launchLocked(); err != nil {
		return nil, err
	}
	if err := m.loginLocked(ctx); err != nil {
		return nil, err
	}
	return m.tabCtx, nil
}

// Close terminates the browser process.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked()
}

func (m *Manager) teardownLocked() {
	// Teardown errors are swallowed: the process may already be gone.
	if m.tabCancel != nil {
		m.tabCancel()
		m.tabCancel = nil
		m.tabCtx = nil
	}
	if m.allocCancel != nil {
		m.allocCancel()
		m.allocCancel = nil
		m.allocCtx = nil
	}
}

// launchLocked starts the browser process and opens the working tab. The
// allocator is parented on the background context so the session outlives any
// single run; Close owns its lifetime.
func (m *Manager) launchLocked() error {
	if m.tabCtx != nil && m.tabCtx.Err() == nil {
		return nil
	}
	m.teardownLocked()

	profileDir, err := m.cfg.ResolvedProfileDir()
	if err != nil {
		return err
	}
	if _, statErr := os.Stat(profileDir); os.IsNotExist(statErr) {
		m.logger.Warn("Browser profile directory does not exist yet. First-time setup requires one manual login; the session then persists for weeks.",
			zap.String("profile_dir", profileDir))
	}

	opts := m.allocatorOptions(profileDir)

	m.logger.Info("Launching browser.",
		zap.Bool("headless", m.headless),
		zap.String("profile_dir", profileDir))

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	// Confirm the process is alive and responsive before handing it out.
	probeCtx, probeCancel := context.WithTimeout(tabCtx, 30*time.Second)
	defer probeCancel()
	if err := chromedp.Run(probeCtx, chromedp.Navigate("about:blank")); err != nil {
		tabCancel()
		allocCancel()
		return fmt.Errorf("browser failed to start or respond: %w", err)
	}

	// Headless builds advertise themselves in the user agent, which the app
	// treats as automation. Rewrite it before the first real navigation.
	var ua string
	if err := chromedp.Run(probeCtx, chromedp.Evaluate(`navigator.userAgent`, &ua)); err == nil &&
		strings.Contains(ua, "HeadlessChrome") {
		cleaned := strings.ReplaceAll(ua, "HeadlessChrome", "Chrome")
		if err := chromedp.Run(probeCtx, emulation.SetUserAgentOverride(cleaned)); err != nil {
			m.logger.Warn("Failed to override user agent.", zap.Error(err))
		}
	}

	m.allocCtx = allocCtx
	m.allocCancel = allocCancel
	m.tabCtx = tabCtx
	m.tabCancel = tabCancel

	m.logger.Info("Browser launched and responsive.")
	return nil
}

// allocatorOptions assembles the Chrome flags for a persistent-profile,
// automation-quiet browser instance.
func (m *Manager) allocatorOptions(profileDir string) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	opts = append(opts,
		// The default option set switches this on, which the app detects.
		chromedp.Flag("enable-automation", false),
		chromedp.UserDataDir(profileDir),
		chromedp.Flag("headless", m.headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", m.headless),
		chromedp.WindowSize(1920, 1080),
	)

	for _, arg := range m.cfg.Browser.Args {
		parts := strings.SplitN(strings.TrimPrefix(arg, "--"), "=", 2)
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(parts[0], parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(parts[0], true))
		}
	}

	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
	}
	return opts
}
