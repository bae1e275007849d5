package orchestrator

import (
	"errors"
	"sort"
	"time"

	"github.com/pario-ai/parley/pkg/models"
)

var (
	// ErrNoProviders is returned when a request resolves to zero providers.
	ErrNoProviders = errors.New("no providers requested")
	// ErrEmptyPrompt is returned for a blank prompt.
	ErrEmptyPrompt = errors.New("empty prompt")
	// ErrInvalidFocus is returned for a focus outside the known set.
	ErrInvalidFocus = errors.New("invalid focus")
	// ErrClosed is returned by Review after Close.
	ErrClosed = errors.New("orchestrator closed")

	// ErrCacheUnavailable marks a non-fatal cache failure reported as a warning.
	ErrCacheUnavailable = errors.New("cache unavailable")
	// ErrLedgerUnavailable marks a non-fatal ledger failure reported as a warning.
	ErrLedgerUnavailable = errors.New("ledger unavailable")
	// ErrDeadlineExceeded marks a provider that did not settle in time.
	ErrDeadlineExceeded = errors.New("deadline exceeded")
)

// Status tells the caller what happened to one provider.
type Status string

const (
	// StatusSuccess means a fresh provider call succeeded.
	StatusSuccess Status = "success"
	// StatusCached means the answer was served from the response cache.
	StatusCached Status = "cached"
	// StatusFailed means the provider was called and failed.
	StatusFailed Status = "failed"
	// StatusSkipped means the provider was never called.
	StatusSkipped Status = "skipped"
	// StatusDeadlineExceeded means the provider had not settled when the
	// request deadline fired. Its result may still be committed later.
	StatusDeadlineExceeded Status = "deadline_exceeded"
)

// Error kinds recorded for failures that do not come from a provider.
const (
	KindBudgetExceeded   = "budget_exceeded"
	KindDeadlineExceeded = "deadline_exceeded"
)

// Request is one logical review request.
type Request struct {
	Prompt  string
	Options models.Options
	// Providers are provider IDs or aliases. Empty uses the router defaults.
	Providers []string
	// Deadline bounds the whole request. Zero uses the configured default.
	Deadline time.Time
	// NoCache skips the cache lookup. Fresh answers are still written through.
	NoCache bool
	// CacheTTL is the lifetime of entries written for this request. Zero uses
	// the configured TTL.
	CacheTTL time.Duration
}

// ProviderResult is the outcome for one provider.
type ProviderResult struct {
	ProviderID    string             `json:"provider_id"`
	Model         string             `json:"model"`
	Status        Status             `json:"status"`
	Completion    *models.Completion `json:"completion,omitempty"`
	Error         string             `json:"error,omitempty"`
	ErrorKind     string             `json:"error_kind,omitempty"`
	Attempts      int                `json:"attempts"`
	LatencyMs     int64              `json:"latency_ms"`
	EstimatedCost float64            `json:"estimated_cost"`
	CostUnknown   bool               `json:"cost_unknown,omitempty"`
	Fingerprint   string             `json:"fingerprint"`

	// Err is the underlying error for errors.Is checks.
	Err error `json:"-"`
}

// OK reports whether the provider produced a completion.
func (r ProviderResult) OK() bool {
	return r.Status == StatusSuccess || r.Status == StatusCached
}

// Result is the merged outcome of a review. A result in which some
// providers failed is still a valid result.
type Result struct {
	RequestID     string                    `json:"request_id"`
	Providers     map[string]ProviderResult `json:"providers"`
	LatencyMs     int64                     `json:"latency_ms"`
	EstimatedCost float64                   `json:"estimated_cost"`
	Warnings      []string                  `json:"warnings,omitempty"`
}

// IDs returns the provider IDs in the result, sorted.
func (r *Result) IDs() []string {
	ids := make([]string, 0, len(r.Providers))
	for id := range r.Providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Succeeded returns the sorted IDs of providers that produced a completion.
func (r *Result) Succeeded() []string {
	var ids []string
	for _, id := range r.IDs() {
		if r.Providers[id].OK() {
			ids = append(ids, id)
		}
	}
	return ids
}
