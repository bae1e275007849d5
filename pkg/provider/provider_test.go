package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/parley/pkg/models"
)

func TestOpenAI_Invoke(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req openaiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, SystemPrompt(models.FocusSecurity), req.Messages[0].Content)
		assert.Equal(t, "diff X", req.Messages[1].Content)

		_ = json.NewEncoder(w).Encode(openaiResponse{
			Model:   "gpt-4o-2024",
			Choices: []openaiChoice{{Message: openaiMessage{Role: "assistant", Content: "looks fine"}}},
			Usage:   openaiUsage{PromptTokens: 12, CompletionTokens: 3},
		})
	}))
	defer server.Close()

	p := NewOpenAI(Config{ID: "gpt", Model: "gpt-4o", APIKey: "test-key", BaseURL: server.URL, HTTPClient: server.Client()})
	got, err := p.Invoke(context.Background(), "diff X", models.Options{Focus: models.FocusSecurity})
	require.NoError(t, err)
	assert.Equal(t, "looks fine", got.Text)
	assert.Equal(t, "gpt-4o-2024", got.Model)
	assert.Equal(t, 12, got.InputTokens)
	assert.Equal(t, 3, got.OutputTokens)
	assert.Equal(t, "gpt", p.ID())
	assert.Equal(t, VendorOpenAI, p.Capabilities().Vendor)
}

func TestOpenAI_RateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer server.Close()

	p := NewOpenAI(Config{APIKey: "k", BaseURL: server.URL, HTTPClient: server.Client()})
	_, err := p.Invoke(context.Background(), "x", models.Options{})
	require.Error(t, err)

	var pe *Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, RateLimited, pe.Kind)
	assert.Equal(t, http.StatusTooManyRequests, pe.StatusCode)
	assert.Equal(t, 7*time.Second, pe.RetryAfter)
	assert.Equal(t, 7*time.Second, RetryAfterOf(err))
}

func TestOpenAI_AuthErrorIsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer server.Close()

	p := NewOpenAI(Config{APIKey: "k", BaseURL: server.URL, HTTPClient: server.Client()})
	_, err := p.Invoke(context.Background(), "x", models.Options{})
	assert.Equal(t, Fatal, KindOf(err))
}

func TestOpenAI_ServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	p := NewOpenAI(Config{APIKey: "k", BaseURL: server.URL, HTTPClient: server.Client()})
	_, err := p.Invoke(context.Background(), "x", models.Options{})
	assert.Equal(t, Transient, KindOf(err))
}

func TestMissingKeyMakesNoCall(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	for _, vendor := range []string{VendorOpenAI, VendorAnthropic, VendorGoogle} {
		p, err := New(vendor, Config{BaseURL: server.URL, HTTPClient: server.Client()})
		require.NoError(t, err)
		_, err = p.Invoke(context.Background(), "x", models.Options{})
		assert.Equal(t, Fatal, KindOf(err), vendor)
	}
	assert.Zero(t, calls.Load())
}

func TestUnsupportedFocus(t *testing.T) {
	p := NewAnthropic(Config{APIKey: "k", Modes: []models.Focus{models.FocusGeneral}})
	assert.True(t, p.Capabilities().Supports(models.FocusGeneral))
	assert.True(t, p.Capabilities().Supports(""))
	assert.False(t, p.Capabilities().Supports(models.FocusSecurity))

	_, err := p.Invoke(context.Background(), "x", models.Options{Focus: models.FocusSecurity})
	assert.Equal(t, Unsupported, KindOf(err))
}

func TestAnthropic_Invoke(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicAPIVersion, r.Header.Get("anthropic-version"))

		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "custom system", req.System)
		assert.Equal(t, 100, req.MaxTokens)

		_ = json.NewEncoder(w).Encode(anthropicResponse{
			Content: []anthropicBlock{{Type: "text", Text: "part one "}, {Type: "text", Text: "part two"}},
			Usage:   anthropicUsage{InputTokens: 40, OutputTokens: 8},
		})
	}))
	defer server.Close()

	p := NewAnthropic(Config{APIKey: "test-key", BaseURL: server.URL, HTTPClient: server.Client()})
	got, err := p.Invoke(context.Background(), "x", models.Options{SystemPrompt: "custom system", MaxTokens: 100})
	require.NoError(t, err)
	assert.Equal(t, "part one part two", got.Text)
	assert.Equal(t, defaultAnthropicModel, got.Model)
	assert.Equal(t, 40, got.InputTokens)
	assert.Equal(t, 8, got.OutputTokens)
}

func TestGemini_Invoke(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/gemini-pro:generateContent", r.URL.Path)
		assert.Equal(t, "g-key", r.URL.Query().Get("key"))

		_ = json.NewEncoder(w).Encode(geminiResponse{
			Candidates: []geminiCandidate{{Content: geminiContent{Parts: []geminiPart{{Text: "ok"}}}}},
			UsageMetadata: geminiUsage{PromptTokenCount: 5, CandidatesTokenCount: 1},
		})
	}))
	defer server.Close()

	p := NewGemini(Config{ID: "gemini", Model: "gemini-pro", APIKey: "g-key", BaseURL: server.URL, HTTPClient: server.Client()})
	got, err := p.Invoke(context.Background(), "x", models.Options{})
	require.NoError(t, err)
	assert.Equal(t, "ok", got.Text)
	assert.Equal(t, "gemini-pro", got.Model)
	assert.Equal(t, 5, got.InputTokens)
}

func TestEmptyResponseIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer server.Close()

	p := NewGemini(Config{APIKey: "k", BaseURL: server.URL, HTTPClient: server.Client()})
	_, err := p.Invoke(context.Background(), "x", models.Options{})
	assert.Equal(t, Transient, KindOf(err))
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code int
		want Kind
	}{
		{429, RateLimited},
		{500, Transient},
		{503, Transient},
		{408, Transient},
		{400, Fatal},
		{401, Fatal},
		{403, Fatal},
		{404, Fatal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyStatus(tt.code), "status %d", tt.code)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, 3*time.Second, ParseRetryAfter("3", now))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("", now))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("-1", now))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("soon", now))
	assert.Equal(t, 10*time.Second, ParseRetryAfter(now.Add(10*time.Second).Format(http.TimeFormat), now))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, Transient, KindOf(errors.New("boom")))
	wrapped := errors.Join(errors.New("ctx"), &Error{Kind: Fatal, Err: errors.New("x")})
	assert.Equal(t, Fatal, KindOf(wrapped))
	assert.True(t, RateLimited.Retryable())
	assert.False(t, Unsupported.Retryable())
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewOpenAI(Config{ID: "gpt"})))
	require.NoError(t, r.Register(NewGemini(Config{ID: "gemini"})))
	assert.Error(t, r.Register(NewOpenAI(Config{ID: "gpt"})))

	p, ok := r.Get("gemini")
	require.True(t, ok)
	assert.Equal(t, VendorGoogle, p.Capabilities().Vendor)
	_, ok = r.Get("nope")
	assert.False(t, ok)
	assert.Equal(t, []string{"gemini", "gpt"}, r.IDs())
	assert.Equal(t, 2, r.Len())
}

func TestNewUnknownVendor(t *testing.T) {
	_, err := New("ollama", Config{})
	assert.Error(t, err)
}

func TestEffectiveModel(t *testing.T) {
	p := NewOpenAI(Config{Model: "gpt-4o"})
	assert.Equal(t, "gpt-4o", EffectiveModel(p, models.Options{}))
	assert.Equal(t, "gpt-4", EffectiveModel(p, models.Options{Model: "gpt-4"}))
}
