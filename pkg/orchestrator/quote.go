package orchestrator

import (
	"github.com/pario-ai/parley/pkg/cache"
	"github.com/pario-ai/parley/pkg/pricing"
	"github.com/pario-ai/parley/pkg/provider"
)

// Quote is the estimated cost of sending a request to one provider.
type Quote struct {
	ProviderID    string  `json:"provider_id"`
	Model         string  `json:"model"`
	Cached        bool    `json:"cached"`
	InputTokens   int64   `json:"input_tokens"`
	OutputTokens  int64   `json:"output_tokens"`
	EstimatedCost float64 `json:"estimated_cost"`
	CostUnknown   bool    `json:"cost_unknown,omitempty"`
}

// Quote estimates req without calling any provider. Providers whose answer
// is already cached are quoted at zero, unless req.NoCache is set.
func (o *Orchestrator) Quote(req Request) ([]Quote, error) {
	providers, opts, err := o.validate(req)
	if err != nil {
		return nil, err
	}

	quotes := make([]Quote, 0, len(providers))
	for _, p := range providers {
		model := provider.EffectiveModel(p, opts)
		q := Quote{ProviderID: p.ID(), Model: model}

		if !req.NoCache && o.cached(cache.Fingerprint(req.Prompt, p.ID(), model, opts)) {
			q.Cached = true
			quotes = append(quotes, q)
			continue
		}

		q.InputTokens = pricing.EstimateTokens(inputText(opts, req.Prompt))
		q.OutputTokens = expectedOutput(opts)
		est := o.pricing.Estimate(p.Capabilities().Vendor, model, q.InputTokens, q.OutputTokens)
		q.EstimatedCost, q.CostUnknown = est.USD, est.Unknown
		quotes = append(quotes, q)
	}
	return quotes, nil
}

func (o *Orchestrator) cached(fp string) bool {
	_, ok, err := o.peek(fp)
	return err == nil && ok
}
