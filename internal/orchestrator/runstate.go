package orchestrator

import (
	"sort"
	"time"

	"github.com/refpulse/refpulse/internal/store"
)

// PassResult is the immutable outcome of one pass over the target accounts.
type PassResult struct {
	Succeeded []string
	Failed    []string
	Messages  []string
}

// newRunState returns a fresh document for the given date with every target
// pending and nothing successful.
func newRunState(date string, targets []string, at time.Time) store.RunState {
	pending := make([]string, len(targets))
	copy(pending, targets)
	sort.Strings(pending)
	return store.RunState{
		RunDate:    date,
		Pending:    pending,
		Successful: []string{},
		LastRun:    at,
	}
}

// applyPass folds one pass result into the state. Accounts that succeeded
// move from pending to successful; accounts that failed stay (or become)
// pending. The pending and successful sets remain disjoint, and an account
// that has succeeded never moves back.
func applyPass(state store.RunState, result PassResult, at time.Time) store.RunState {
	successful := make(map[string]bool, len(state.Successful)+len(result.Succeeded))
	for _, name := range state.Successful {
		successful[name] = true
	}
	for _, name := range result.Succeeded {
		successful[name] = true
	}

	pending := make(map[string]bool, len(result.Failed))
	for _, name := range result.Failed {
		if !successful[name] {
			pending[name] = true
		}
	}

	next := store.RunState{
		RunDate:    state.RunDate,
		Pending:    sortedKeys(pending),
		Successful: sortedKeys(successful),
		LastRun:    at,
	}
	return next
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
