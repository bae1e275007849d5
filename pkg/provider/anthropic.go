package provider

import (
	"context"
	"strings"

	"github.com/pario-ai/parley/pkg/models"
)

const (
	defaultAnthropicURL   = "https://api.anthropic.com/v1/messages"
	defaultAnthropicModel = "claude-sonnet-4-5-20250929"
	anthropicAPIVersion   = "2023-06-01"
)

// Anthropic adapts the messages API.
type Anthropic struct {
	base
}

// NewAnthropic creates an Anthropic provider.
func NewAnthropic(cfg Config) *Anthropic {
	return &Anthropic{base: newBase(cfg, VendorAnthropic, defaultAnthropicURL, defaultAnthropicModel)}
}

func (a *Anthropic) Invoke(ctx context.Context, prompt string, opts models.Options) (models.Completion, error) {
	if err := a.preflight(opts); err != nil {
		return models.Completion{}, err
	}

	body := anthropicRequest{
		Model:       a.model(opts),
		MaxTokens:   maxTokens(opts),
		System:      systemPrompt(opts),
		Messages:    []anthropicMessage{{Role: "user", Content: prompt}},
		Temperature: temperature(opts),
	}
	headers := map[string]string{
		"x-api-key":         a.cfg.APIKey,
		"anthropic-version": anthropicAPIVersion,
	}

	var result anthropicResponse
	if err := a.postJSON(ctx, a.cfg.BaseURL, headers, body, &result); err != nil {
		return models.Completion{}, err
	}

	var text strings.Builder
	for _, block := range result.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return models.Completion{}, a.emptyResponse()
	}

	model := result.Model
	if model == "" {
		model = body.Model
	}
	return models.Completion{
		Text:         text.String(),
		Model:        model,
		InputTokens:  result.Usage.InputTokens,
		OutputTokens: result.Usage.OutputTokens,
	}, nil
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature *float64           `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Model   string           `json:"model"`
	Content []anthropicBlock `json:"content"`
	Usage   anthropicUsage   `json:"usage"`
}

type anthropicBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
