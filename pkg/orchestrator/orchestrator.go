// Package orchestrator fans one review request out to several providers,
// serving what it can from the response cache and recording every call in
// the usage ledger.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pario-ai/parley/pkg/budget"
	"github.com/pario-ai/parley/pkg/cache"
	"github.com/pario-ai/parley/pkg/ledger"
	"github.com/pario-ai/parley/pkg/models"
	"github.com/pario-ai/parley/pkg/pricing"
	"github.com/pario-ai/parley/pkg/provider"
	"github.com/pario-ai/parley/pkg/retry"
	"github.com/pario-ai/parley/pkg/router"
)

// BudgetChecker gates dispatch on spend. *budget.Enforcer satisfies it.
type BudgetChecker interface {
	Check(ctx context.Context, providerID string) error
}

// Config holds orchestration limits.
type Config struct {
	// Deadline is used when a request carries none.
	Deadline time.Duration
	// CallTimeout bounds a single provider call, independent of Deadline.
	CallTimeout time.Duration
	// CacheTTL is the lifetime of written entries. Zero uses the store default.
	CacheTTL time.Duration
	// CostWarnThreshold adds a warning when a request's estimated cost exceeds it.
	CostWarnThreshold float64
	// PlanProviders is used by Plan when a request names none. Empty falls
	// back to the router defaults.
	PlanProviders []string
}

// DefaultConfig returns the default limits.
func DefaultConfig() Config {
	return Config{
		Deadline:          3 * time.Minute,
		CallTimeout:       2 * time.Minute,
		CacheTTL:          cache.DefaultTTL,
		CostWarnThreshold: pricing.DefaultWarnThreshold,
	}
}

// Orchestrator coordinates providers, cache and ledger.
type Orchestrator struct {
	router  *router.Router
	cache   cache.Store
	ledger  ledger.Ledger
	budget  BudgetChecker
	pricing *pricing.Estimator
	retry   *retry.Controller
	logger  *zap.Logger
	cfg     Config
	now     func() time.Time

	mu     sync.Mutex
	closed bool
	// tracks provider tasks, including those outliving their request.
	inflight sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCache enables the response cache.
func WithCache(s cache.Store) Option { return func(o *Orchestrator) { o.cache = s } }

// WithLedger enables usage accounting.
func WithLedger(l ledger.Ledger) Option { return func(o *Orchestrator) { o.ledger = l } }

// WithBudget enables budget checks before dispatch.
func WithBudget(b BudgetChecker) Option { return func(o *Orchestrator) { o.budget = b } }

// WithPricing replaces the default cost estimator.
func WithPricing(p *pricing.Estimator) Option { return func(o *Orchestrator) { o.pricing = p } }

// WithRetry replaces the default retry controller.
func WithRetry(c *retry.Controller) Option { return func(o *Orchestrator) { o.retry = c } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// WithConfig replaces the default limits. Zero fields keep their defaults.
func WithConfig(c Config) Option {
	return func(o *Orchestrator) {
		if c.Deadline > 0 {
			o.cfg.Deadline = c.Deadline
		}
		if c.CallTimeout > 0 {
			o.cfg.CallTimeout = c.CallTimeout
		}
		if c.CacheTTL > 0 {
			o.cfg.CacheTTL = c.CacheTTL
		}
		if c.CostWarnThreshold > 0 {
			o.cfg.CostWarnThreshold = c.CostWarnThreshold
		}
		if len(c.PlanProviders) > 0 {
			o.cfg.PlanProviders = c.PlanProviders
		}
	}
}

// New creates an Orchestrator that resolves provider names with r.
func New(r *router.Router, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		router:  r,
		pricing: pricing.New(),
		retry:   retry.New(retry.DefaultPolicy()),
		logger:  zap.NewNop(),
		cfg:     DefaultConfig(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Close waits for every provider task, including those that outlived their
// request deadline, to commit its result. Review fails after Close.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.inflight.Wait()
	return nil
}

// acquire reserves n task slots unless the orchestrator is closed.
func (o *Orchestrator) acquire(n int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	o.inflight.Add(n)
	return nil
}

// call is the per-request state shared by provider tasks.
type call struct {
	requestID string
	prompt    string
	opts      models.Options
	deadline  time.Time
	noCache   bool
	cacheTTL  time.Duration
}

type taskResult struct {
	ProviderResult
	warnings []string
}

// validate checks the request and resolves its providers. No provider is
// contacted before it succeeds.
func (o *Orchestrator) validate(req Request) ([]provider.Provider, models.Options, error) {
	opts := req.Options
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, opts, ErrEmptyPrompt
	}
	if opts.Focus == "" {
		opts.Focus = models.FocusGeneral
	}
	if !opts.Focus.Valid() {
		return nil, opts, fmt.Errorf("%w: %q", ErrInvalidFocus, opts.Focus)
	}
	providers, err := o.router.Resolve(req.Providers)
	if err != nil {
		return nil, opts, err
	}
	if len(providers) == 0 {
		return nil, opts, ErrNoProviders
	}
	return providers, opts, nil
}

// Review sends req to every requested provider concurrently and returns
// when all have settled or the deadline fires. Provider failures are
// reported per provider; an error is returned only for invalid requests.
func (o *Orchestrator) Review(ctx context.Context, req Request) (*Result, error) {
	providers, opts, err := o.validate(req)
	if err != nil {
		return nil, err
	}
	if err := o.acquire(len(providers)); err != nil {
		return nil, err
	}

	start := o.now()
	deadline := req.Deadline
	if deadline.IsZero() {
		deadline = start.Add(o.cfg.Deadline)
	}
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c := &call{
		requestID: uuid.NewString(),
		prompt:    req.Prompt,
		opts:      opts,
		deadline:  deadline,
		noCache:   req.NoCache,
		cacheTTL:  req.CacheTTL,
	}
	log := o.logger.With(zap.String("request_id", c.requestID))
	log.Info("review started",
		zap.Int("providers", len(providers)),
		zap.String("focus", string(opts.Focus)),
		zap.Time("deadline", deadline),
	)

	waitCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	results := make(chan taskResult, len(providers))
	pending := make(map[string]provider.Provider, len(providers))
	for _, p := range providers {
		pending[p.ID()] = p
		go func(p provider.Provider) {
			defer o.inflight.Done()
			results <- o.run(waitCtx, c, p)
		}(p)
	}

	result := &Result{
		RequestID: c.requestID,
		Providers: make(map[string]ProviderResult, len(providers)),
	}

collect:
	for len(pending) > 0 {
		select {
		case r := <-results:
			delete(pending, r.ProviderID)
			result.Providers[r.ProviderID] = r.ProviderResult
			result.Warnings = append(result.Warnings, r.warnings...)
		case <-waitCtx.Done():
			break collect
		}
	}

	for id, p := range pending {
		result.Providers[id] = ProviderResult{
			ProviderID:  id,
			Model:       provider.EffectiveModel(p, opts),
			Status:      StatusDeadlineExceeded,
			Error:       ErrDeadlineExceeded.Error(),
			ErrorKind:   KindDeadlineExceeded,
			Fingerprint: cache.Fingerprint(c.prompt, id, provider.EffectiveModel(p, opts), opts),
			Err:         ErrDeadlineExceeded,
		}
		log.Warn("provider missed deadline; result will be committed when it arrives", zap.String("provider", id))
	}

	for _, pr := range result.Providers {
		result.EstimatedCost += pr.EstimatedCost
	}
	if pricing.ShouldWarn(result.EstimatedCost, o.cfg.CostWarnThreshold) {
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"estimated cost $%.4f exceeds warning threshold $%.2f", result.EstimatedCost, o.cfg.CostWarnThreshold))
	}
	result.LatencyMs = o.now().Sub(start).Milliseconds()

	log.Info("review finished",
		zap.Strings("succeeded", result.Succeeded()),
		zap.Int64("latency_ms", result.LatencyMs),
		zap.Float64("estimated_cost", result.EstimatedCost),
	)
	return result, nil
}

// run handles one provider: cache lookup, gating, retried call, write-through
// and accounting. ctx expires at the request deadline; it stops retries but
// never the call in flight, and never the commit of its result.
func (o *Orchestrator) run(ctx context.Context, c *call, p provider.Provider) taskResult {
	start := o.now()
	caps := p.Capabilities()
	model := provider.EffectiveModel(p, c.opts)
	fp := cache.Fingerprint(c.prompt, p.ID(), model, c.opts)
	log := o.logger.With(
		zap.String("request_id", c.requestID),
		zap.String("provider", p.ID()),
		zap.String("fingerprint", fp[:12]),
	)

	tr := taskResult{ProviderResult: ProviderResult{ProviderID: p.ID(), Model: model, Fingerprint: fp}}
	rec := models.UsageRecord{
		RequestID:   c.requestID,
		ProviderID:  p.ID(),
		Model:       model,
		Fingerprint: fp,
	}
	commit := func() taskResult {
		tr.LatencyMs = o.now().Sub(start).Milliseconds()
		rec.LatencyMs = tr.LatencyMs
		rec.EstimatedCost = tr.EstimatedCost
		rec.CostUnknown = tr.CostUnknown
		if err := o.record(rec); err != nil {
			log.Warn("usage not recorded", zap.Error(err))
			tr.warnings = append(tr.warnings, fmt.Sprintf("%s: %v", p.ID(), err))
		}
		if o.now().After(c.deadline) {
			log.Info("late provider result committed", zap.String("status", string(tr.Status)))
		}
		return tr
	}
	fail := func(status Status, kind string, err error) taskResult {
		tr.Status = status
		tr.Error = err.Error()
		tr.ErrorKind = kind
		tr.Err = err
		rec.Outcome = models.OutcomeFailure
		rec.ErrorKind = kind
		return commit()
	}

	if c.noCache {
		log.Debug("cache lookup skipped by request")
	} else if comp, ok, err := o.lookup(fp); err != nil {
		log.Warn("cache lookup failed", zap.Error(err))
		tr.warnings = append(tr.warnings, fmt.Sprintf("%s: %v", p.ID(), err))
	} else if ok {
		tr.Status = StatusCached
		tr.Completion = &comp
		rec.Outcome = models.OutcomeCacheHit
		log.Debug("served from cache")
		return commit()
	}

	quote := o.pricing.EstimateText(caps.Vendor, model, inputText(c.opts, c.prompt), expectedOutput(c.opts))
	log.Debug("cache miss, dispatching",
		zap.String("model", model),
		zap.Float64("estimated_usd", quote.USD),
		zap.Bool("cost_unknown", quote.Unknown),
	)

	if !caps.Supports(c.opts.Focus) {
		err := &provider.Error{Provider: p.ID(), Kind: provider.Unsupported, Err: fmt.Errorf("focus %q not supported", c.opts.Focus)}
		return fail(StatusSkipped, string(provider.Unsupported), err)
	}

	if o.budget != nil {
		err := o.budget.Check(context.WithoutCancel(ctx), p.ID())
		switch {
		case errors.Is(err, budget.ErrBudgetExceeded):
			log.Info("provider skipped", zap.Error(err))
			return fail(StatusSkipped, KindBudgetExceeded, err)
		case err != nil:
			log.Warn("budget check failed; dispatching anyway", zap.Error(err))
			tr.warnings = append(tr.warnings, fmt.Sprintf("%s: %v", p.ID(), err))
		}
	}

	var comp models.Completion
	attempts, err := o.retry.Do(ctx, func(attempt int) error {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.CallTimeout)
		defer cancel()
		out, err := p.Invoke(callCtx, c.prompt, c.opts)
		if err == nil {
			comp = out
		}
		return err
	})
	tr.Attempts = attempts

	if err != nil {
		kind := string(provider.KindOf(err))
		status := StatusFailed
		if errors.Is(err, retry.ErrDeadline) {
			kind = KindDeadlineExceeded
			if attempts == 0 {
				status = StatusSkipped
			}
		}
		if caps.BillsFailedCalls && attempts > 0 {
			in := pricing.EstimateTokens(inputText(c.opts, c.prompt)) * int64(attempts)
			est := o.pricing.Estimate(caps.Vendor, model, in, 0)
			tr.EstimatedCost, tr.CostUnknown = est.USD, est.Unknown
			rec.InputTokens = in
		}
		log.Warn("provider failed", zap.String("kind", kind), zap.Int("attempts", attempts), zap.Error(err))
		return fail(status, kind, err)
	}

	in, out := int64(comp.InputTokens), int64(comp.OutputTokens)
	if in == 0 && out == 0 {
		in, out = pricing.EstimateTokens(c.prompt), pricing.EstimateTokens(comp.Text)
	}
	est := o.pricing.Estimate(caps.Vendor, model, in, out)
	if est.Unknown && comp.Model != "" && comp.Model != model {
		est = o.pricing.Estimate(caps.Vendor, comp.Model, in, out)
	}

	tr.Status = StatusSuccess
	tr.Completion = &comp
	tr.EstimatedCost, tr.CostUnknown = est.USD, est.Unknown
	rec.Outcome = models.OutcomeSuccess
	rec.InputTokens, rec.OutputTokens = in, out

	if err := o.store(fp, p.ID(), comp, c.cacheTTL); err != nil {
		log.Warn("cache write failed", zap.Error(err))
		tr.warnings = append(tr.warnings, fmt.Sprintf("%s: %v", p.ID(), err))
	}
	return commit()
}

// inputText approximates everything sent to the provider.
func inputText(opts models.Options, prompt string) string {
	if opts.SystemPrompt != "" {
		return opts.SystemPrompt + prompt
	}
	return provider.SystemPrompt(opts.Focus) + prompt
}

func expectedOutput(opts models.Options) int64 {
	if opts.MaxTokens > 0 && opts.MaxTokens < pricing.DefaultExpectedOutputTokens {
		return int64(opts.MaxTokens)
	}
	return pricing.DefaultExpectedOutputTokens
}

// lookup returns the cached completion for fp, if any.
func (o *Orchestrator) lookup(fp string) (models.Completion, bool, error) {
	if o.cache == nil {
		return models.Completion{}, false, nil
	}
	entry, ok, err := o.cache.Get(fp)
	return o.decode(fp, entry, ok, err)
}

// peek is lookup without affecting the store's hit and miss counters.
func (o *Orchestrator) peek(fp string) (models.Completion, bool, error) {
	p, ok := o.cache.(cache.Peeker)
	if !ok {
		return o.lookup(fp)
	}
	entry, ok, err := p.Peek(fp)
	return o.decode(fp, entry, ok, err)
}

func (o *Orchestrator) decode(fp string, entry models.CacheEntry, ok bool, err error) (models.Completion, bool, error) {
	if err != nil {
		return models.Completion{}, false, fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
	}
	if !ok {
		return models.Completion{}, false, nil
	}
	var comp models.Completion
	if err := json.Unmarshal(entry.Payload, &comp); err != nil {
		o.logger.Debug("ignoring undecodable cached payload", zap.String("fingerprint", fp), zap.Error(err))
		return models.Completion{}, false, nil
	}
	return comp, true, nil
}

// store writes comp under fp. ttl <= 0 uses the configured TTL.
func (o *Orchestrator) store(fp, providerID string, comp models.Completion, ttl time.Duration) error {
	if o.cache == nil {
		return nil
	}
	payload, err := json.Marshal(comp)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
	}
	if ttl <= 0 {
		ttl = o.cfg.CacheTTL
	}
	if err := o.cache.Put(fp, providerID, payload, ttl); err != nil {
		return fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
	}
	return nil
}

// record appends rec to the ledger. It runs detached from any request
// context so late results are still accounted for.
func (o *Orchestrator) record(rec models.UsageRecord) error {
	if o.ledger == nil {
		return nil
	}
	rec.Timestamp = o.now()
	if err := o.ledger.Record(context.Background(), rec); err != nil {
		return fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
	}
	return nil
}
