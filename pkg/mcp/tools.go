package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/pario-ai/parley/pkg/models"
	"github.com/pario-ai/parley/pkg/orchestrator"
)

// Tool argument structs.

type reviewArgs struct {
	Prompt          string   `json:"prompt"`
	Providers       []string `json:"providers"`
	Focus           string   `json:"focus"`
	Model           string   `json:"model"`
	SystemPrompt    string   `json:"system_prompt"`
	MaxTokens       int      `json:"max_tokens"`
	DeadlineSeconds int      `json:"deadline_seconds"`
	NoCache         bool     `json:"no_cache"`
}

func (a reviewArgs) request(now time.Time) orchestrator.Request {
	req := orchestrator.Request{
		Prompt:    a.Prompt,
		Providers: a.Providers,
		NoCache:   a.NoCache,
		Options: models.Options{
			Focus:        models.Focus(a.Focus),
			Model:        a.Model,
			SystemPrompt: a.SystemPrompt,
			MaxTokens:    a.MaxTokens,
		},
	}
	if a.DeadlineSeconds > 0 {
		req.Deadline = now.Add(time.Duration(a.DeadlineSeconds) * time.Second)
	}
	return req
}

type usageArgs struct {
	Since string `json:"since"`
}

type providerArgs struct {
	Provider string `json:"provider"`
}

// toolHandler is a function that handles a tool call.
type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

// toolHandlers maps tool names to their handlers.
var toolHandlers = map[string]toolHandler{
	"parley_review":      handleReview,
	"parley_plan":        handlePlan,
	"parley_quote":       handleQuote,
	"parley_usage":       handleUsage,
	"parley_budget":      handleBudget,
	"parley_cache_stats": handleCacheStats,
}

var reviewSchema = map[string]any{
	"type":     "object",
	"required": []string{"prompt"},
	"properties": map[string]any{
		"prompt": map[string]any{
			"type":        "string",
			"description": "The code, diff or plan to review",
		},
		"providers": map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "string"},
			"description": `Provider IDs or aliases, or ["all"]. Omit for the configured defaults.`,
		},
		"focus": map[string]any{
			"type":        "string",
			"enum":        []string{"general", "security", "performance", "architecture"},
			"description": "Review focus (default general)",
		},
		"model": map[string]any{
			"type":        "string",
			"description": "Override every provider's model (optional)",
		},
		"system_prompt": map[string]any{
			"type":        "string",
			"description": "Replace the focus system prompt (optional)",
		},
		"max_tokens": map[string]any{
			"type":        "integer",
			"description": "Maximum output tokens per provider (optional)",
		},
		"deadline_seconds": map[string]any{
			"type":        "integer",
			"description": "Overall deadline; providers still running are reported as deadline_exceeded (optional)",
		},
		"no_cache": map[string]any{
			"type":        "boolean",
			"description": "Ignore cached answers; fresh answers are still cached (optional)",
		},
	},
}

// allTools is the list of tool definitions exposed via tools/list.
var allTools = []ToolDefinition{
	{
		Name:        "parley_review",
		Description: "Send a prompt to several model providers concurrently and return every answer. Failed providers are reported alongside successful ones; repeated prompts are served from cache.",
		InputSchema: reviewSchema,
	},
	{
		Name:        "parley_plan",
		Description: "Ask the planning providers for a step-by-step implementation plan of the goal in prompt: summary, assumptions, architecture decisions, steps and risks.",
		InputSchema: reviewSchema,
	},
	{
		Name:        "parley_quote",
		Description: "Estimate the cost of a parley_review call without contacting any provider.",
		InputSchema: reviewSchema,
	},
	{
		Name:        "parley_usage",
		Description: "Show calls, cache hits, failures, tokens and estimated cost per provider and model.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"since": map[string]any{
					"type":        "string",
					"description": "A duration such as 24h or a date YYYY-MM-DD (optional, omit for all time)",
				},
			},
		},
	},
	{
		Name:        "parley_budget",
		Description: "Show spend against configured budget policies, optionally for one provider.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"provider": map[string]any{
					"type":        "string",
					"description": "Filter by provider ID (optional)",
				},
			},
		},
	},
	{
		Name:        "parley_cache_stats",
		Description: "Show response cache size and hit rate.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func handleReview(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args reviewArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}
	if strings.TrimSpace(args.Prompt) == "" {
		return errorResult("prompt is required")
	}

	res, err := s.reviewer.Review(ctx, args.request(s.now()))
	if err != nil {
		return errorResult("Review failed: " + err.Error())
	}
	out := textResult(formatReview(res))
	out.IsError = len(res.Succeeded()) == 0
	return out
}

func handlePlan(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args reviewArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}
	if strings.TrimSpace(args.Prompt) == "" {
		return errorResult("prompt is required")
	}

	res, err := s.reviewer.Plan(ctx, args.request(s.now()))
	if err != nil {
		return errorResult("Plan failed: " + err.Error())
	}
	out := textResult(formatReview(res))
	out.IsError = len(res.Succeeded()) == 0
	return out
}

func handleQuote(_ context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args reviewArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}
	quotes, err := s.reviewer.Quote(args.request(s.now()))
	if err != nil {
		return errorResult("Quote failed: " + err.Error())
	}
	return textResult(formatQuotes(quotes))
}

// parseSince accepts a Go duration or a YYYY-MM-DD date.
func parseSince(v string, now time.Time) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(v); err == nil && d >= 0 {
		return now.Add(-d), nil
	}
	if t, err := time.ParseInLocation("2006-01-02", v, time.Local); err == nil {
		return t, nil
	}
	return time.Time{}, errors.New("since must be a duration such as 24h or a date YYYY-MM-DD")
}

func handleUsage(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args usageArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}
	since, err := parseSince(args.Since, s.now())
	if err != nil {
		return errorResult(err.Error())
	}
	rows, err := s.usage.Summary(ctx, since)
	if err != nil {
		return errorResult("Error fetching usage: " + err.Error())
	}
	return textResult(formatSummary(rows))
}

func handleBudget(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.budget == nil {
		return textResult("Budget enforcement is not configured.")
	}
	var args providerArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}
	statuses, err := s.budget.Status(ctx, args.Provider)
	if err != nil {
		return errorResult("Error fetching budget status: " + err.Error())
	}
	return textResult(formatBudgetStatus(statuses))
}

func handleCacheStats(_ context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	if s.cache == nil {
		return textResult("Cache is not configured.")
	}
	stats, err := s.cache.Stats()
	if err != nil {
		return errorResult("Error fetching cache stats: " + err.Error())
	}
	return textResult(formatCacheStats(stats))
}
