package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/pario-ai/parley/pkg/models"
)

const (
	defaultGeminiURL   = "https://generativelanguage.googleapis.com/v1beta/models"
	defaultGeminiModel = "gemini-3-flash-preview"
)

// Gemini adapts the generateContent API.
type Gemini struct {
	base
}

// NewGemini creates a Gemini provider.
func NewGemini(cfg Config) *Gemini {
	return &Gemini{base: newBase(cfg, VendorGoogle, defaultGeminiURL, defaultGeminiModel)}
}

func (g *Gemini) Invoke(ctx context.Context, prompt string, opts models.Options) (models.Completion, error) {
	if err := g.preflight(opts); err != nil {
		return models.Completion{}, err
	}

	model := g.model(opts)
	endpoint := fmt.Sprintf("%s/%s:generateContent?key=%s",
		strings.TrimRight(g.cfg.BaseURL, "/"), url.PathEscape(model), url.QueryEscape(g.cfg.APIKey))

	body := geminiRequest{
		SystemInstruction: &geminiContent{Parts: []geminiPart{{Text: systemPrompt(opts)}}},
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: prompt}}},
		},
		GenerationConfig: &geminiGenConfig{
			MaxOutputTokens: maxTokens(opts),
			Temperature:     temperature(opts),
		},
	}

	var result geminiResponse
	if err := g.postJSON(ctx, endpoint, nil, body, &result); err != nil {
		return models.Completion{}, err
	}

	var text strings.Builder
	if len(result.Candidates) > 0 {
		for _, part := range result.Candidates[0].Content.Parts {
			text.WriteString(part.Text)
		}
	}
	if text.Len() == 0 {
		return models.Completion{}, g.emptyResponse()
	}

	return models.Completion{
		Text:         text.String(),
		Model:        model,
		InputTokens:  result.UsageMetadata.PromptTokenCount,
		OutputTokens: result.UsageMetadata.CandidatesTokenCount,
	}, nil
}

type geminiRequest struct {
	SystemInstruction *geminiContent   `json:"systemInstruction,omitempty"`
	Contents          []geminiContent  `json:"contents"`
	GenerationConfig  *geminiGenConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenConfig struct {
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	UsageMetadata geminiUsage       `json:"usageMetadata"`
}

type geminiCandidate struct {
	Content geminiContent `json:"content"`
}

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}
