package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/refpulse/refpulse/internal/browser"
	"github.com/refpulse/refpulse/internal/config"
	"github.com/refpulse/refpulse/internal/notify"
	"github.com/refpulse/refpulse/internal/orchestrator"
	"github.com/refpulse/refpulse/internal/scheduler"
	"github.com/refpulse/refpulse/internal/scrape"
	"github.com/refpulse/refpulse/internal/store"
	"github.com/refpulse/refpulse/internal/validate"
)

// Engine bundles the fully wired components of a running instance.
type Engine struct {
	Orchestrator *orchestrator.Orchestrator
	Scheduler    *scheduler.Scheduler
	Store        store.Store
	Browser      *browser.Manager
	Notifier     notify.Notifier

	logger *zap.Logger
}

// NewEngine builds the complete component graph from configuration.
func NewEngine(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Engine, error) {
	st, err := InitializeStore(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	notifier := InitializeNotifier(cfg.Notify, logger)

	manager := browser.NewManager(cfg, logger, func(message string) {
		notifier.Notify(ctx, message)
	})

	directory := scrape.NewDirectory(cfg, logger)
	switcher := scrape.NewSwitcher(cfg, logger)
	extractor := scrape.NewExtractor(cfg, logger)
	validator := validate.New(cfg.Validation, st, logger)

	orch := orchestrator.New(cfg, manager, directory, switcher, extractor, validator, st, notifier, logger)
	sched := scheduler.New(cfg.Schedule, orch, logger)

	return &Engine{
		Orchestrator: orch,
		Scheduler:    sched,
		Store:        st,
		Browser:      manager,
		Notifier:     notifier,
		logger:       logger.Named("engine"),
	}, nil
}

// Close shuts down the browser and store.
func (e *Engine) Close() {
	e.Browser.Close()
	e.Store.Close()
	e.logger.Info("Engine shut down")
}
