package pricing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateKnownModel(t *testing.T) {
	e := New()
	got := e.Estimate("openai", "gpt-4o", 1_000_000, 500_000)
	assert.False(t, got.Unknown)
	assert.InDelta(t, 2.50+5.00, got.USD, 1e-9)
}

func TestEstimateUnknownIsFlagged(t *testing.T) {
	e := New()
	for _, tc := range [][2]string{{"openai", "gpt-99"}, {"mistral", "large"}, {"google", "gpt-4o"}} {
		got := e.Estimate(tc[0], tc[1], 1000, 1000)
		assert.True(t, got.Unknown, tc)
		assert.Zero(t, got.USD, tc)
	}
}

func TestEstimateZeroTokens(t *testing.T) {
	got := New().Estimate("anthropic", "claude-3-opus-20240229", 0, 0)
	assert.False(t, got.Unknown)
	assert.Zero(t, got.USD)
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricing.yaml")
	data := `pricing:
  - vendor: openai
    model: gpt-4o
    input_per_million: 1
    output_per_million: 2
  - vendor: local
    model: llama
    input_per_million: 0
    output_per_million: 0
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	e := New()
	require.NoError(t, e.LoadOverrides(path))

	assert.InDelta(t, 3.0, e.Estimate("openai", "gpt-4o", 1_000_000, 1_000_000).USD, 1e-9)
	local := e.Estimate("local", "llama", 100, 100)
	assert.False(t, local.Unknown)
	assert.Zero(t, local.USD)
	assert.Len(t, e.Prices(), len(defaultTable)+1)
}

func TestLoadOverridesRejectsBadEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricing.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pricing:\n  - vendor: openai\n    input_per_million: 1\n"), 0o644))
	assert.Error(t, New().LoadOverrides(path))

	assert.Error(t, New().LoadOverrides(filepath.Join(t.TempDir(), "missing.yaml")))
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, int64(0), EstimateTokens(""))
	assert.Equal(t, int64(1), EstimateTokens("ab"))
	assert.Equal(t, int64(2), EstimateTokens("12345678"))
	assert.Equal(t, int64(25), EstimateTokens(string(make([]byte, 100))))
}

func TestShouldWarn(t *testing.T) {
	assert.True(t, ShouldWarn(0.11, DefaultWarnThreshold))
	assert.False(t, ShouldWarn(0.10, DefaultWarnThreshold))
	assert.False(t, ShouldWarn(5, 0))
}

func TestPricesSorted(t *testing.T) {
	prices := New().Prices()
	require.NotEmpty(t, prices)
	assert.Equal(t, "anthropic", prices[0].Vendor)
	assert.Equal(t, "openai", prices[len(prices)-1].Vendor)
}

func TestEstimateText(t *testing.T) {
	e := New()
	text := string(make([]byte, 4000)) // 1000 tokens
	got := e.EstimateText("openai", "gpt-4", text, DefaultExpectedOutputTokens)
	assert.False(t, got.Unknown)
	assert.InDelta(t, 1000.0/1e6*30+1000.0/1e6*60, got.USD, 1e-12)
}
