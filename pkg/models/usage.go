package models

import "time"

// Outcome classifies one ledger record.
type Outcome string

const (
	OutcomeCacheHit Outcome = "cache_hit"
	OutcomeSuccess  Outcome = "success"
	OutcomeFailure  Outcome = "failure"
)

// UsageRecord is a single append-only ledger row describing one provider
// invocation, whether served from cache or from the network.
type UsageRecord struct {
	ID            string    `json:"id"`
	RequestID     string    `json:"request_id"`
	Timestamp     time.Time `json:"timestamp"`
	ProviderID    string    `json:"provider_id"`
	Model         string    `json:"model"`
	Fingerprint   string    `json:"fingerprint"`
	Outcome       Outcome   `json:"outcome"`
	ErrorKind     string    `json:"error_kind,omitempty"`
	LatencyMs     int64     `json:"latency_ms"`
	InputTokens   int64     `json:"input_tokens"`
	OutputTokens  int64     `json:"output_tokens"`
	EstimatedCost float64   `json:"estimated_cost"`
	CostUnknown   bool      `json:"cost_unknown,omitempty"`
}

// UsageSummary aggregates ledger rows per provider and model.
type UsageSummary struct {
	ProviderID   string  `json:"provider_id"`
	Model        string  `json:"model"`
	Calls        int64   `json:"calls"`
	CacheHits    int64   `json:"cache_hits"`
	Failures     int64   `json:"failures"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	TotalCost    float64 `json:"total_cost"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}
