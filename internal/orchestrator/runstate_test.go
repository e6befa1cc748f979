package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRunState(t *testing.T) {
	at := time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)
	state := newRunState("2026-03-10", []string{"Charlie", "Alice", "Bob"}, at)

	assert.Equal(t, "2026-03-10", state.RunDate)
	assert.Equal(t, []string{"Alice", "Bob", "Charlie"}, state.Pending)
	assert.Empty(t, state.Successful)
	assert.Equal(t, at, state.LastRun)
}

func TestApplyPass(t *testing.T) {
	at := time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)
	later := at.Add(time.Hour)

	t.Run("moves succeeded accounts out of pending", func(t *testing.T) {
		state := newRunState("2026-03-10", []string{"Alice", "Bob", "Charlie"}, at)

		next := applyPass(state, PassResult{
			Succeeded: []string{"Alice", "Charlie"},
			Failed:    []string{"Bob"},
		}, later)

		assert.Equal(t, []string{"Bob"}, next.Pending)
		assert.Equal(t, []string{"Alice", "Charlie"}, next.Successful)
		assert.Equal(t, later, next.LastRun)
	})

	t.Run("success is sticky across passes", func(t *testing.T) {
		state := newRunState("2026-03-10", []string{"Alice", "Bob"}, at)
		state = applyPass(state, PassResult{Succeeded: []string{"Alice"}, Failed: []string{"Bob"}}, at)

		// A later pass reporting Alice failed must not demote her.
		next := applyPass(state, PassResult{Failed: []string{"Alice", "Bob"}}, later)

		assert.Equal(t, []string{"Alice"}, next.Successful)
		assert.Equal(t, []string{"Bob"}, next.Pending)
	})

	t.Run("pending and successful stay disjoint", func(t *testing.T) {
		state := newRunState("2026-03-10", []string{"Alice", "Bob"}, at)

		// Contradictory result: succeeded wins.
		next := applyPass(state, PassResult{Succeeded: []string{"Alice"}, Failed: []string{"Alice", "Bob"}}, later)

		for _, name := range next.Successful {
			assert.NotContains(t, next.Pending, name)
		}
		assert.Equal(t, []string{"Alice"}, next.Successful)
		assert.Equal(t, []string{"Bob"}, next.Pending)
	})

	t.Run("all succeeded empties pending", func(t *testing.T) {
		state := newRunState("2026-03-10", []string{"Alice", "Bob"}, at)

		next := applyPass(state, PassResult{Succeeded: []string{"Alice", "Bob"}}, later)

		require.Empty(t, next.Pending)
		assert.Equal(t, []string{"Alice", "Bob"}, next.Successful)
	})

	t.Run("input state is not mutated", func(t *testing.T) {
		state := newRunState("2026-03-10", []string{"Alice", "Bob"}, at)

		_ = applyPass(state, PassResult{Succeeded: []string{"Alice"}, Failed: []string{"Bob"}}, later)

		assert.Equal(t, []string{"Alice", "Bob"}, state.Pending)
		assert.Empty(t, state.Successful)
	})
}
