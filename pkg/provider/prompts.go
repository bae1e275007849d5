package provider

import "github.com/pario-ai/parley/pkg/models"

var systemPrompts = map[models.Focus]string{
	models.FocusGeneral:      "You are an expert code reviewer. Provide thorough, actionable feedback.",
	models.FocusSecurity:     "You are a security expert. Focus on security vulnerabilities, input validation, and potential exploits.",
	models.FocusPerformance:  "You are a performance expert. Focus on optimization opportunities, algorithmic efficiency, and resource usage.",
	models.FocusArchitecture: "You are a software architect. Focus on design patterns, modularity, and long-term maintainability.",
}

// PlanPrompt is the system prompt for implementation planning requests.
const PlanPrompt = `You are an expert software architect and planner.
Create a detailed, step-by-step implementation plan.
Include:
- Summary of the goal
- Key assumptions
- Architecture decisions
- Implementation steps
- Potential risks`

// SystemPrompt returns the built-in system prompt for focus.
func SystemPrompt(focus models.Focus) string {
	if p, ok := systemPrompts[focus]; ok {
		return p
	}
	return systemPrompts[models.FocusGeneral]
}

func systemPrompt(opts models.Options) string {
	if opts.SystemPrompt != "" {
		return opts.SystemPrompt
	}
	return SystemPrompt(opts.Focus)
}
