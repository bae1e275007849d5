// Package app wires parley's components together from a loaded config.
package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/pario-ai/parley/pkg/budget"
	"github.com/pario-ai/parley/pkg/cache/disk"
	"github.com/pario-ai/parley/pkg/config"
	"github.com/pario-ai/parley/pkg/ledger"
	"github.com/pario-ai/parley/pkg/orchestrator"
	"github.com/pario-ai/parley/pkg/pricing"
	"github.com/pario-ai/parley/pkg/provider"
	"github.com/pario-ai/parley/pkg/retry"
	"github.com/pario-ai/parley/pkg/router"
)

// Dependencies holds every component built from a Config.
type Dependencies struct {
	Config *config.Config
	Logger *zap.Logger

	Registry *provider.Registry
	Router   *router.Router
	Pricing  *pricing.Estimator
	Ledger   *ledger.SQLiteLedger
	// Cache is nil when caching is disabled.
	Cache *disk.Store
	// Budget is nil when enforcement is disabled.
	Budget *budget.Enforcer

	Orchestrator *orchestrator.Orchestrator
}

// NewDependencies creates and wires up all components. Close releases them.
func NewDependencies(cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dependencies{Config: cfg, Logger: logger}

	if err := d.initProviders(); err != nil {
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}
	if err := d.initPricing(); err != nil {
		return nil, fmt.Errorf("failed to initialize pricing: %w", err)
	}
	if err := d.initLedger(); err != nil {
		return nil, fmt.Errorf("failed to initialize ledger: %w", err)
	}
	if err := d.initCache(); err != nil {
		_ = d.Ledger.Close()
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	if cfg.Budget.Enabled {
		d.Budget = budget.New(cfg.Budget.Policies, d.Ledger)
	}
	d.initOrchestrator()

	logger.Debug("dependencies initialized",
		zap.Strings("providers", d.Registry.IDs()),
		zap.Bool("cache", d.Cache != nil),
		zap.Bool("budget", d.Budget != nil),
	)
	return d, nil
}

// NewLedgerOnly opens just the usage ledger, for commands that only report.
func NewLedgerOnly(cfg *config.Config) (*ledger.SQLiteLedger, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Ledger.Path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating ledger directory: %w", ledger.ErrUnavailable, err)
	}
	return ledger.New(cfg.Ledger.Path)
}

func (d *Dependencies) initProviders() error {
	d.Registry = provider.NewRegistry()
	for _, pc := range d.Config.Providers {
		key := pc.Key()
		if key == "" {
			d.Logger.Warn("provider has no API key; calls will fail", zap.String("provider", pc.ID))
		}
		p, err := provider.New(pc.Vendor, provider.Config{
			ID:               pc.ID,
			Model:            pc.Model,
			APIKey:           key,
			BaseURL:          pc.BaseURL,
			Timeout:          pc.Timeout,
			Modes:            pc.Modes,
			BillsFailedCalls: pc.BillsFailedCalls,
		})
		if err != nil {
			return err
		}
		if err := d.Registry.Register(p); err != nil {
			return err
		}
	}
	d.Router = router.New(d.Registry, d.Config.AliasMap(), d.Config.Review.Providers)
	return nil
}

func (d *Dependencies) initPricing() error {
	d.Pricing = pricing.New()
	if d.Config.Pricing.File != "" {
		if err := d.Pricing.LoadOverrides(d.Config.Pricing.File); err != nil {
			return err
		}
	}
	d.Pricing.Merge(d.Config.Pricing.Prices)
	return nil
}

func (d *Dependencies) initLedger() error {
	l, err := NewLedgerOnly(d.Config)
	if err != nil {
		return err
	}
	d.Ledger = l
	return nil
}

func (d *Dependencies) initCache() error {
	if !d.Config.Cache.Enabled {
		return nil
	}
	c, err := disk.New(d.Config.Cache.Dir, d.Config.Cache.TTL, disk.WithLogger(d.Logger.Named("cache")))
	if err != nil {
		return err
	}
	d.Cache = c
	return nil
}

func (d *Dependencies) initOrchestrator() {
	opts := []orchestrator.Option{
		orchestrator.WithLedger(d.Ledger),
		orchestrator.WithPricing(d.Pricing),
		orchestrator.WithRetry(retry.New(d.Config.Retry, retry.WithLogger(d.Logger.Named("retry")))),
		orchestrator.WithLogger(d.Logger.Named("orchestrator")),
		orchestrator.WithConfig(orchestrator.Config{
			Deadline:          d.Config.Review.Deadline,
			CallTimeout:       d.Config.Review.CallTimeout,
			CacheTTL:          d.Config.Cache.TTL,
			CostWarnThreshold: d.Config.Review.CostWarnThreshold,
			PlanProviders:     d.Config.Review.PlanProviders,
		}),
	}
	if d.Cache != nil {
		opts = append(opts, orchestrator.WithCache(d.Cache))
	}
	if d.Budget != nil {
		opts = append(opts, orchestrator.WithBudget(d.Budget))
	}
	d.Orchestrator = orchestrator.New(d.Router, opts...)
}

// Close drains in-flight provider calls, then closes the ledger.
func (d *Dependencies) Close() error {
	var errs []error
	if d.Orchestrator != nil {
		errs = append(errs, d.Orchestrator.Close())
	}
	if d.Ledger != nil {
		errs = append(errs, d.Ledger.Close())
	}
	return errors.Join(errs...)
}
