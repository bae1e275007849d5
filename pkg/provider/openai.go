package provider

import (
	"context"

	"github.com/pario-ai/parley/pkg/models"
)

const (
	defaultOpenAIURL   = "https://api.openai.com/v1/chat/completions"
	defaultOpenAIModel = "gpt-5.2"
)

// OpenAI adapts the chat completions API.
type OpenAI struct {
	base
}

// NewOpenAI creates an OpenAI provider.
func NewOpenAI(cfg Config) *OpenAI {
	return &OpenAI{base: newBase(cfg, VendorOpenAI, defaultOpenAIURL, defaultOpenAIModel)}
}

func (o *OpenAI) Invoke(ctx context.Context, prompt string, opts models.Options) (models.Completion, error) {
	if err := o.preflight(opts); err != nil {
		return models.Completion{}, err
	}

	body := openaiRequest{
		Model: o.model(opts),
		Messages: []openaiMessage{
			{Role: "system", Content: systemPrompt(opts)},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   maxTokens(opts),
		Temperature: temperature(opts),
	}

	var result openaiResponse
	headers := map[string]string{"Authorization": "Bearer " + o.cfg.APIKey}
	if err := o.postJSON(ctx, o.cfg.BaseURL, headers, body, &result); err != nil {
		return models.Completion{}, err
	}
	if len(result.Choices) == 0 || result.Choices[0].Message.Content == "" {
		return models.Completion{}, o.emptyResponse()
	}

	model := result.Model
	if model == "" {
		model = body.Model
	}
	return models.Completion{
		Text:         result.Choices[0].Message.Content,
		Model:        model,
		InputTokens:  result.Usage.PromptTokens,
		OutputTokens: result.Usage.CompletionTokens,
	}, nil
}

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	MaxTokens   int             `json:"max_completion_tokens"`
	Temperature *float64        `json:"temperature,omitempty"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiResponse struct {
	Model   string         `json:"model"`
	Choices []openaiChoice `json:"choices"`
	Usage   openaiUsage    `json:"usage"`
}

type openaiChoice struct {
	Message openaiMessage `json:"message"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}
