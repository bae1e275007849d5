// Package pricing estimates the monetary cost of provider calls.
package pricing

import (
	"fmt"
	"math"
	"os"
	"sort"
	"sync"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/pario-ai/parley/pkg/models"
)

// DefaultWarnThreshold is the per-request USD estimate above which callers
// should warn before dispatch.
const DefaultWarnThreshold = 0.10

// DefaultExpectedOutputTokens is the output length assumed when estimating
// a call before it is made.
const DefaultExpectedOutputTokens = 1000

// defaultTable is keyed by vendor then model, in USD per 1M tokens.
var defaultTable = []models.ModelPricing{
	{Vendor: "openai", Model: "gpt-5.2-chat-latest", InputPerMillion: 0.40, OutputPerMillion: 1.60},
	{Vendor: "openai", Model: "gpt-5.2", InputPerMillion: 1.75, OutputPerMillion: 14.00},
	{Vendor: "openai", Model: "gpt-5.2-pro", InputPerMillion: 21.00, OutputPerMillion: 84.00},
	{Vendor: "openai", Model: "gpt-4o", InputPerMillion: 2.50, OutputPerMillion: 10.00},
	{Vendor: "openai", Model: "gpt-4", InputPerMillion: 30.00, OutputPerMillion: 60.00},
	{Vendor: "google", Model: "gemini-3-flash-preview", InputPerMillion: 0.075, OutputPerMillion: 0.30},
	{Vendor: "google", Model: "gemini-2.0-flash-exp", InputPerMillion: 0.075, OutputPerMillion: 0.30},
	{Vendor: "google", Model: "gemini-pro", InputPerMillion: 0.50, OutputPerMillion: 1.50},
	{Vendor: "anthropic", Model: "claude-sonnet-4-5-20250929", InputPerMillion: 3.00, OutputPerMillion: 15.00},
	{Vendor: "anthropic", Model: "claude-3-5-sonnet-20241022", InputPerMillion: 3.00, OutputPerMillion: 15.00},
	{Vendor: "anthropic", Model: "claude-3-opus-20240229", InputPerMillion: 15.00, OutputPerMillion: 75.00},
	{Vendor: "anthropic", Model: "claude-3-haiku-20240307", InputPerMillion: 0.25, OutputPerMillion: 1.25},
}

// Estimate is the result of a cost lookup.
type Estimate struct {
	USD float64 `json:"usd"`
	// Unknown is set when no price is known for the vendor and model. USD is
	// then zero and must not be read as "free".
	Unknown bool `json:"unknown,omitempty"`
}

type key struct{ vendor, model string }

// Estimator looks up per-token prices. It is safe for concurrent use.
type Estimator struct {
	mu     sync.RWMutex
	prices map[key]models.ModelPricing
}

// New creates an Estimator seeded with the built-in price table.
func New() *Estimator {
	e := &Estimator{prices: make(map[key]models.ModelPricing, len(defaultTable))}
	e.Merge(defaultTable)
	return e
}

// Merge adds or replaces prices.
func (e *Estimator) Merge(prices []models.ModelPricing) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range prices {
		e.prices[key{p.Vendor, p.Model}] = p
	}
}

type overrideFile struct {
	Pricing []models.ModelPricing `yaml:"pricing"`
}

// LoadOverrides merges prices from a YAML file of the form:
//
//	pricing:
//	  - vendor: openai
//	    model: gpt-4o
//	    input_per_million: 2.5
//	    output_per_million: 10
func (e *Estimator) LoadOverrides(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read pricing overrides: %w", err)
	}
	var f overrideFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse pricing overrides: %w", err)
	}
	for i, p := range f.Pricing {
		if p.Vendor == "" || p.Model == "" {
			return fmt.Errorf("pricing entry %d: vendor and model are required", i)
		}
		if p.InputPerMillion < 0 || p.OutputPerMillion < 0 {
			return fmt.Errorf("pricing entry %d: negative price", i)
		}
	}
	e.Merge(f.Pricing)
	return nil
}

// Estimate returns the cost of a call with the given token counts.
func (e *Estimator) Estimate(vendor, model string, inputTokens, outputTokens int64) Estimate {
	e.mu.RLock()
	p, ok := e.prices[key{vendor, model}]
	e.mu.RUnlock()
	if !ok {
		return Estimate{Unknown: true}
	}
	usd := float64(inputTokens)/1_000_000*p.InputPerMillion +
		float64(outputTokens)/1_000_000*p.OutputPerMillion
	return Estimate{USD: usd}
}

// EstimateText estimates a call whose input is text and whose output is
// expected to be expectedOutput tokens.
func (e *Estimator) EstimateText(vendor, model, text string, expectedOutput int64) Estimate {
	return e.Estimate(vendor, model, EstimateTokens(text), expectedOutput)
}

// Prices returns the current table sorted by vendor then model.
func (e *Estimator) Prices() []models.ModelPricing {
	e.mu.RLock()
	out := make([]models.ModelPricing, 0, len(e.prices))
	for _, p := range e.prices {
		out = append(out, p)
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Vendor != out[j].Vendor {
			return out[i].Vendor < out[j].Vendor
		}
		return out[i].Model < out[j].Model
	})
	return out
}

// EstimateTokens approximates the token count of text at four characters
// per token. Non-empty text is never less than one token.
func EstimateTokens(text string) int64 {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return int64(math.Max(1, float64(n/4)))
}

// ShouldWarn reports whether usd exceeds threshold.
func ShouldWarn(usd, threshold float64) bool {
	return threshold > 0 && usd > threshold
}
