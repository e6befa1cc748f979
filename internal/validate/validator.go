// Package validate judges freshly extracted snapshots against history to
// catch partial or corrupted pulls before they are persisted.
package validate

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/refpulse/refpulse/internal/config"
	"github.com/refpulse/refpulse/internal/scrape"
)

// Verdict is the outcome of validating one snapshot. It always carries a
// human-readable message, success included, so the run report is complete.
type Verdict struct {
	Valid   bool
	Message string
}

// SnapshotSource provides the most recent previously validated snapshot for
// an account. Only validated snapshots are ever persisted, so the latest
// stored snapshot is by construction the latest validated one.
type SnapshotSource interface {
	LatestSnapshot(ctx context.Context, account string, before time.Time) (*scrape.Snapshot, error)
}

// Validator applies the regression and completeness checks.
type Validator struct {
	logger *zap.Logger
	cfg    config.ValidationConfig
	source SnapshotSource
}

// New builds a validator reading history from the given source.
func New(cfg config.ValidationConfig, source SnapshotSource, logger *zap.Logger) *Validator {
	return &Validator{
		logger: logger.Named("validator"),
		cfg:    cfg,
		source: source,
	}
}

// Validate compares the current snapshot against the most recent prior one.
// A returned error means history could not be consulted; implausible data is
// reported through the verdict, never as an error.
func (v *Validator) Validate(ctx context.Context, current scrape.Snapshot) (Verdict, error) {
	log := v.logger.With(zap.String("account", current.Account))

	previous, err := v.source.LatestSnapshot(ctx, current.Account, current.Timestamp)
	if err != nil {
		return Verdict{}, fmt.Errorf("failed to load prior snapshot for %s: %w", current.Account, err)
	}

	if previous != nil {
		if verdict, bad := v.checkDrop(current.Account, "received", len(previous.Received), len(current.Received)); bad {
			log.Warn("Suspicious drop detected.", zap.String("message", verdict.Message))
			return verdict, nil
		}
		if verdict, bad := v.checkDrop(current.Account, "sent", len(previous.Sent), len(current.Sent)); bad {
			log.Warn("Suspicious drop detected.", zap.String("message", verdict.Message))
			return verdict, nil
		}
	} else {
		log.Debug("No prior snapshot; skipping regression check.")
	}

	min := v.minimumFor(current.Account)
	received, sent := len(current.Received), len(current.Sent)

	// Deliberately OR, not AND: a direction that is legitimately near-empty
	// (a brand-new sending relationship) must not fail validation on its own.
	// Known weak point: a pull that silently lost one whole tab still passes
	// when the other tab looks populated.
	if received < min && sent < min {
		verdict := Verdict{
			Valid: false,
			Message: fmt.Sprintf(
				"incomplete data for %s: expected at least %d entries in either direction, got received=%d sent=%d",
				current.Account, min, received, sent),
		}
		log.Warn("Snapshot failed completeness check.", zap.String("message", verdict.Message))
		return verdict, nil
	}

	verdict := Verdict{
		Valid: true,
		Message: fmt.Sprintf("validation passed for %s: received=%d sent=%d",
			current.Account, received, sent),
	}
	log.Info("Snapshot validated.", zap.Int("received", received), zap.Int("sent", sent))
	return verdict, nil
}

// checkDrop flags a decrease beyond the drop tolerance between consecutive
// snapshots; the tolerance guards against transient partial page loads being
// mistaken for real partner churn.
func (v *Validator) checkDrop(account, direction string, previous, current int) (Verdict, bool) {
	drop := previous - current
	if drop <= v.cfg.DropTolerance {
		return Verdict{}, false
	}
	return Verdict{
		Valid: false,
		Message: fmt.Sprintf(
			"suspicious drop in %s for %s: previous=%d current=%d drop=%d (tolerance %d)",
			direction, account, previous, current, drop, v.cfg.DropTolerance),
	}, true
}

func (v *Validator) minimumFor(account string) int {
	if min, ok := v.cfg.AccountMinimums[account]; ok {
		return min
	}
	return v.cfg.DefaultMinimum
}
