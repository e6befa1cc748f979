package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/refpulse/refpulse/internal/browser"
	"github.com/refpulse/refpulse/internal/config"
	"github.com/refpulse/refpulse/internal/scrape"
	"github.com/refpulse/refpulse/internal/store"
	"github.com/refpulse/refpulse/internal/validate"
)

// fakeSession hands back the caller's context as the tab context.
type fakeSession struct {
	ensureErr    error
	restartErr   error
	ensureCalls  int
	restartCalls int
}

func (f *fakeSession) EnsureSession(ctx context.Context) (context.Context, error) {
	f.ensureCalls++
	return ctx, f.ensureErr
}

func (f *fakeSession) Restart(ctx context.Context) (context.Context, error) {
	f.restartCalls++
	return ctx, f.restartErr
}

func (f *fakeSession) Close() {}

type fakeAccounts struct {
	identities []scrape.AccountIdentity
	err        error
}

func (f *fakeAccounts) ListAccounts(context.Context) ([]scrape.AccountIdentity, error) {
	return f.identities, f.err
}

// fakeApp scripts per-account behavior across the switcher, extractor, and
// validator, tracking which account the session is currently on the way the
// real browser does.
type fakeApp struct {
	mu      sync.Mutex
	current string

	switchErrs  map[string][]error // consumed one per attempt
	extractErrs map[string][]error
	rows        map[string]int
	invalid     map[string]bool

	switchAttempts  map[string]int
	extractAttempts map[string]int
}

func newFakeApp() *fakeApp {
	return &fakeApp{
		switchErrs:      map[string][]error{},
		extractErrs:     map[string][]error{},
		rows:            map[string]int{},
		invalid:         map[string]bool{},
		switchAttempts:  map[string]int{},
		extractAttempts: map[string]int{},
	}
}

func (f *fakeApp) SwitchTo(_ context.Context, account scrape.AccountIdentity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.switchAttempts[account.DisplayName]++
	if errs := f.switchErrs[account.DisplayName]; len(errs) > 0 {
		err := errs[0]
		f.switchErrs[account.DisplayName] = errs[1:]
		if err != nil {
			return err
		}
	}
	f.current = account.DisplayName
	return nil
}

func (f *fakeApp) ExtractPair(context.Context) (received, sent []scrape.PartnerRecord, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extractAttempts[f.current]++
	if errs := f.extractErrs[f.current]; len(errs) > 0 {
		err := errs[0]
		f.extractErrs[f.current] = errs[1:]
		if err != nil {
			return nil, nil, err
		}
	}
	n := f.rows[f.current]
	if n == 0 {
		n = 6
	}
	records := make([]scrape.PartnerRecord, n)
	for i := range records {
		records[i] = scrape.PartnerRecord{CreatorName: "creator", SubscriberCount: 10, ConversionRate: "1%"}
	}
	return records, records, nil
}

func (f *fakeApp) Validate(_ context.Context, current scrape.Snapshot) (validate.Verdict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.invalid[current.Account] {
		return validate.Verdict{Valid: false, Message: current.Account + ": looks incomplete"}, nil
	}
	return validate.Verdict{Valid: true, Message: current.Account + ": ok"}, nil
}

// memStore is an in-memory store.Store.
type memStore struct {
	mu           sync.Mutex
	state        *store.RunState
	snapshots    []scrape.Snapshot
	stateSaves   int
	loadStateErr error
}

func (m *memStore) SaveSnapshot(_ context.Context, snap scrape.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = append(m.snapshots, snap)
	return nil
}

func (m *memStore) LatestSnapshot(context.Context, string, time.Time) (*scrape.Snapshot, error) {
	return nil, nil
}

func (m *memStore) LoadRunState(_ context.Context, date string) (*store.RunState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadStateErr != nil {
		return nil, m.loadStateErr
	}
	if m.state == nil || m.state.RunDate != date {
		return nil, nil
	}
	copied := *m.state
	return &copied, nil
}

func (m *memStore) SaveRunState(_ context.Context, state store.RunState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = &state
	m.stateSaves++
	return nil
}

func (m *memStore) Close() {}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeNotifier) Notify(_ context.Context, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
}

func (f *fakeNotifier) all() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages...)
}

type fixture struct {
	orch     *Orchestrator
	session  *fakeSession
	app      *fakeApp
	store    *memStore
	notifier *fakeNotifier
	now      time.Time
}

func identities(names ...string) []scrape.AccountIdentity {
	out := make([]scrape.AccountIdentity, len(names))
	for i, name := range names {
		out[i] = scrape.AccountIdentity{DisplayName: name, ContactEmail: strings.ToLower(name) + "@example.com"}
	}
	return out
}

func newFixture(t *testing.T, accounts ...string) *fixture {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.Scrape.MaxRunRetries = 3
	cfg.Scrape.RunRetryDelay = time.Millisecond

	f := &fixture{
		session:  &fakeSession{},
		app:      newFakeApp(),
		store:    &memStore{},
		notifier: &fakeNotifier{},
		now:      time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC),
	}
	f.orch = New(cfg,
		f.session,
		&fakeAccounts{identities: identities(accounts...)},
		f.app, f.app, f.app,
		f.store, f.notifier, zap.NewNop())
	f.orch.now = func() time.Time { return f.now }
	return f
}

func TestRunHappyPath(t *testing.T) {
	f := newFixture(t, "Alice", "Bob")

	require.NoError(t, f.orch.Run(context.Background(), false))

	assert.Len(t, f.store.snapshots, 2)
	require.NotNil(t, f.store.state)
	assert.Empty(t, f.store.state.Pending)
	assert.ElementsMatch(t, []string{"Alice", "Bob"}, f.store.state.Successful)

	messages := f.notifier.all()
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], "2 account(s)")
}

func TestRunSkipsAlreadySuccessfulAccounts(t *testing.T) {
	f := newFixture(t, "Alice", "Bob", "Charlie")
	f.store.state = &store.RunState{
		RunDate:    "2026-03-10",
		Pending:    []string{"Charlie"},
		Successful: []string{"Alice", "Bob"},
		LastRun:    f.now.Add(-time.Hour),
	}

	require.NoError(t, f.orch.Run(context.Background(), false))

	assert.Zero(t, f.app.switchAttempts["Alice"])
	assert.Zero(t, f.app.switchAttempts["Bob"])
	assert.Equal(t, 1, f.app.switchAttempts["Charlie"])
	assert.ElementsMatch(t, []string{"Alice", "Bob", "Charlie"}, f.store.state.Successful)
}

func TestRunNothingToDoIsSilent(t *testing.T) {
	f := newFixture(t, "Alice")
	f.store.state = &store.RunState{
		RunDate:    "2026-03-10",
		Pending:    []string{},
		Successful: []string{"Alice"},
		LastRun:    f.now.Add(-time.Hour),
	}

	require.NoError(t, f.orch.Run(context.Background(), false))

	assert.Zero(t, f.app.switchAttempts["Alice"])
	assert.Empty(t, f.notifier.all())
	assert.Zero(t, f.store.stateSaves)
}

func TestRunForceReattemptsSuccessfulAccounts(t *testing.T) {
	f := newFixture(t, "Alice")
	f.store.state = &store.RunState{
		RunDate:    "2026-03-10",
		Pending:    []string{},
		Successful: []string{"Alice"},
		LastRun:    f.now.Add(-time.Hour),
	}

	require.NoError(t, f.orch.Run(context.Background(), true))

	assert.Equal(t, 1, f.app.switchAttempts["Alice"])
	assert.Len(t, f.store.snapshots, 1)
}

func TestRunStaleStateFromAnotherDayIsDiscarded(t *testing.T) {
	f := newFixture(t, "Alice")
	f.store.state = &store.RunState{
		RunDate:    "2026-03-09",
		Pending:    []string{},
		Successful: []string{"Alice"},
		LastRun:    f.now.Add(-24 * time.Hour),
	}

	require.NoError(t, f.orch.Run(context.Background(), false))

	assert.Equal(t, 1, f.app.switchAttempts["Alice"])
	assert.Equal(t, "2026-03-10", f.store.state.RunDate)
}

func TestRunRetriesFailedAccountsUpToBound(t *testing.T) {
	f := newFixture(t, "Alice")
	f.app.invalid["Alice"] = true

	require.NoError(t, f.orch.Run(context.Background(), false))

	// One attempt per pass, exactly MaxRunRetries passes.
	assert.Equal(t, 3, f.app.switchAttempts["Alice"])
	assert.Empty(t, f.store.snapshots)
	assert.Equal(t, []string{"Alice"}, f.store.state.Pending)

	messages := f.notifier.all()
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], "Alice")
	assert.Contains(t, messages[0], "looks incomplete")
}

func TestRunSecondPassRecoversFailure(t *testing.T) {
	f := newFixture(t, "Alice", "Bob")
	f.app.extractErrs["Bob"] = []error{errors.New("table vanished")}

	require.NoError(t, f.orch.Run(context.Background(), false))

	assert.Empty(t, f.store.state.Pending)
	assert.ElementsMatch(t, []string{"Alice", "Bob"}, f.store.state.Successful)
	// Alice succeeded in pass one and was not re-attempted.
	assert.Equal(t, 1, f.app.switchAttempts["Alice"])
	assert.Equal(t, 2, f.app.switchAttempts["Bob"])
	// The extract failure triggered one browser restart.
	assert.Equal(t, 1, f.session.restartCalls)

	messages := f.notifier.all()
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], "2 account(s)")
}

func TestRunRestartFailureAbandonsPass(t *testing.T) {
	f := newFixture(t, "Alice", "Bob", "Charlie")
	f.app.switchErrs["Alice"] = []error{
		errors.New("menu never opened"),
		errors.New("menu never opened"),
		errors.New("menu never opened"),
	}
	f.session.restartErr = errors.New("chrome would not start")

	require.NoError(t, f.orch.Run(context.Background(), false))

	// Every pass dies on Alice, and every dead restart turns Bob and Charlie
	// into implicit failures, so nothing ever succeeds.
	require.NotNil(t, f.store.state)
	assert.ElementsMatch(t, []string{"Alice", "Bob", "Charlie"}, f.store.state.Pending)
	assert.Empty(t, f.store.state.Successful)

	messages := f.notifier.all()
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], "failures")
}

func TestRunLoginRequiredAbortsWithoutConsumingRetries(t *testing.T) {
	f := newFixture(t, "Alice")
	f.session.ensureErr = browser.ErrLoginRequired

	err := f.orch.Run(context.Background(), false)
	require.ErrorIs(t, err, browser.ErrLoginRequired)

	assert.Zero(t, f.app.switchAttempts["Alice"])
	assert.Zero(t, f.store.stateSaves)

	messages := f.notifier.all()
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], "manual login required")
}

func TestRunLoginLostMidPassAborts(t *testing.T) {
	f := newFixture(t, "Alice", "Bob")
	f.app.switchErrs["Alice"] = []error{errors.New("session gone")}
	f.session.restartErr = browser.ErrLoginRequired

	err := f.orch.Run(context.Background(), false)
	require.ErrorIs(t, err, browser.ErrLoginRequired)

	// The pass state was still persisted before aborting.
	require.NotNil(t, f.store.state)
	assert.ElementsMatch(t, []string{"Alice", "Bob"}, f.store.state.Pending)
}

func TestRunRejectsConcurrentTrigger(t *testing.T) {
	f := newFixture(t, "Alice")

	f.orch.mu.Lock()
	f.orch.running = true
	f.orch.mu.Unlock()

	err := f.orch.Run(context.Background(), false)
	assert.ErrorIs(t, err, ErrRunInProgress)
}

func TestRunSessionFailureNotifiesCritical(t *testing.T) {
	f := newFixture(t, "Alice")
	f.session.ensureErr = errors.New("chrome failed to start")

	err := f.orch.Run(context.Background(), false)
	require.Error(t, err)

	messages := f.notifier.all()
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], "CRITICAL")
	assert.Contains(t, messages[0], "chrome failed to start")
	assert.Zero(t, f.app.switchAttempts["Alice"])
}

func TestRunStateLoadFailureNotifiesCritical(t *testing.T) {
	f := newFixture(t, "Alice")
	f.store.loadStateErr = errors.New("disk unreadable")

	err := f.orch.Run(context.Background(), false)
	require.Error(t, err)

	messages := f.notifier.all()
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], "CRITICAL")
	assert.Contains(t, messages[0], "disk unreadable")
	assert.Equal(t, 0, f.session.ensureCalls)
}

func TestRunListAccountsFailureNotifies(t *testing.T) {
	f := newFixture(t)
	failing := &fakeAccounts{err: errors.New("menu unreadable")}
	f.orch.accounts = failing

	err := f.orch.Run(context.Background(), false)
	require.Error(t, err)

	messages := f.notifier.all()
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], "failed before scraping")
}

func TestRunPanicBecomesCriticalNotification(t *testing.T) {
	f := newFixture(t, "Alice")
	f.orch.accounts = panickingAccounts{}

	err := f.orch.Run(context.Background(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	messages := f.notifier.all()
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], "CRITICAL")

	// The guard was released despite the panic.
	f.orch.mu.Lock()
	running := f.orch.running
	f.orch.mu.Unlock()
	assert.False(t, running)
}

type panickingAccounts struct{}

func (panickingAccounts) ListAccounts(context.Context) ([]scrape.AccountIdentity, error) {
	panic("boom")
}

func TestRunPersistsStateAfterEveryPass(t *testing.T) {
	f := newFixture(t, "Alice")
	f.app.extractErrs["Alice"] = []error{errors.New("flaky"), errors.New("flaky again")}

	require.NoError(t, f.orch.Run(context.Background(), false))

	// Three passes ran (two failures, one success), each persisted.
	assert.Equal(t, 3, f.store.stateSaves)
	assert.ElementsMatch(t, []string{"Alice"}, f.store.state.Successful)
}
