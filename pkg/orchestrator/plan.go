package orchestrator

import (
	"context"

	"github.com/pario-ai/parley/pkg/provider"
)

// Plan asks for an implementation plan of the goal in req.Prompt. It is a
// Review with the planning system prompt, unless req sets its own, sent to
// the plan providers when req names none.
func (o *Orchestrator) Plan(ctx context.Context, req Request) (*Result, error) {
	return o.Review(ctx, o.PlanRequest(req))
}

// PlanRequest returns req with the planning defaults filled in. Quote it to
// price a plan before sending it.
func (o *Orchestrator) PlanRequest(req Request) Request {
	if req.Options.SystemPrompt == "" {
		req.Options.SystemPrompt = provider.PlanPrompt
	}
	if len(req.Providers) == 0 {
		req.Providers = o.cfg.PlanProviders
	}
	return req
}
