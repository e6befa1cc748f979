// Package store persists snapshots (append-only history) and the per-day run
// state the orchestrator resumes from.
package store

import (
	"context"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/refpulse/refpulse/internal/scrape"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DateLayout is the canonical run-date key format.
const DateLayout = "2006-01-02"

// RunState is the durable record of which accounts have succeeded or are
// still pending for one calendar day. The two sets are disjoint; an account
// name appears in at most one of them at any time.
type RunState struct {
	RunDate    string    `json:"run_date"`
	Pending    []string  `json:"pending_accounts"`
	Successful []string  `json:"successful_accounts"`
	LastRun    time.Time `json:"last_run"`
}

// Store is the persistence contract the engine depends on. Snapshot writes
// are append-only (history is never overwritten); run-state writes are full
// overwrites of the day's document, last writer wins.
type Store interface {
	// SaveSnapshot appends one validated snapshot to the account's history.
	SaveSnapshot(ctx context.Context, snap scrape.Snapshot) error
	// LatestSnapshot returns the most recent snapshot for the account taken
	// before the given time, or nil when the account has no history.
	LatestSnapshot(ctx context.Context, account string, before time.Time) (*scrape.Snapshot, error)
	// LoadRunState returns the run state stored for the given date, or nil
	// when none exists.
	LoadRunState(ctx context.Context, date string) (*RunState, error)
	// SaveRunState overwrites the day's run state.
	SaveRunState(ctx context.Context, state RunState) error
	// Close releases underlying resources.
	Close()
}
