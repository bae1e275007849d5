package models

import "fmt"

// Focus selects the review lens passed through to providers.
type Focus string

const (
	FocusGeneral      Focus = "general"
	FocusSecurity     Focus = "security"
	FocusPerformance  Focus = "performance"
	FocusArchitecture Focus = "architecture"
)

// Focuses lists every supported focus in display order.
var Focuses = []Focus{FocusGeneral, FocusSecurity, FocusPerformance, FocusArchitecture}

// Valid reports whether f is one of the known focuses.
func (f Focus) Valid() bool {
	switch f {
	case FocusGeneral, FocusSecurity, FocusPerformance, FocusArchitecture:
		return true
	}
	return false
}

// ParseFocus converts s to a Focus. An empty string means FocusGeneral.
func ParseFocus(s string) (Focus, error) {
	if s == "" {
		return FocusGeneral, nil
	}
	f := Focus(s)
	if !f.Valid() {
		return "", fmt.Errorf("invalid focus %q (want general, security, performance or architecture)", s)
	}
	return f, nil
}

// Options are the per-request fields that affect provider output.
// Every field participates in the cache fingerprint.
type Options struct {
	Focus        Focus   `json:"focus,omitempty"`
	Model        string  `json:"model,omitempty"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
}

// Completion is a provider's answer to one prompt.
type Completion struct {
	Text         string `json:"text"`
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}
