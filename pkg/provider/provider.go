// Package provider models external completion services as interchangeable
// capabilities and adapts each vendor's HTTP API to that contract.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/pario-ai/parley/pkg/models"
)

// Provider is a single external completion service.
type Provider interface {
	// ID is the stable identifier used in cache keys and ledger rows.
	ID() string
	// Capabilities describes what the provider can do and how it bills.
	Capabilities() Capabilities
	// Invoke sends prompt to the service. Failures are returned as *Error.
	Invoke(ctx context.Context, prompt string, opts models.Options) (models.Completion, error)
}

// Capabilities is the declared capability set of a provider.
type Capabilities struct {
	Vendor string
	Model  string
	// Modes lists supported focuses. Empty means all.
	Modes []models.Focus
	// BillsFailedCalls is set when the vendor charges for calls that error.
	BillsFailedCalls bool
}

// Supports reports whether the provider accepts focus f.
func (c Capabilities) Supports(f models.Focus) bool {
	if len(c.Modes) == 0 {
		return true
	}
	if f == "" {
		f = models.FocusGeneral
	}
	return slices.Contains(c.Modes, f)
}

// EffectiveModel returns the model a call with opts would use on p.
func EffectiveModel(p Provider, opts models.Options) string {
	if opts.Model != "" {
		return opts.Model
	}
	return p.Capabilities().Model
}

// Config configures an HTTP-backed provider.
type Config struct {
	ID               string
	Model            string
	APIKey           string
	BaseURL          string
	Timeout          time.Duration
	Modes            []models.Focus
	BillsFailedCalls bool
	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

const (
	VendorOpenAI    = "openai"
	VendorAnthropic = "anthropic"
	VendorGoogle    = "google"
)

// New creates a provider for the given vendor type.
func New(vendor string, cfg Config) (Provider, error) {
	switch vendor {
	case VendorOpenAI, "":
		return NewOpenAI(cfg), nil
	case VendorAnthropic:
		return NewAnthropic(cfg), nil
	case VendorGoogle, "gemini":
		return NewGemini(cfg), nil
	default:
		return nil, fmt.Errorf("unknown provider type: %s", vendor)
	}
}

const defaultMaxTokens = 4096

// base holds the configuration shared by every HTTP adapter.
type base struct {
	cfg    Config
	vendor string
	client *http.Client
}

func newBase(cfg Config, vendor, defaultURL, defaultModel string) base {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.ID == "" {
		cfg.ID = vendor
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return base{cfg: cfg, vendor: vendor, client: client}
}

func (b *base) ID() string { return b.cfg.ID }

func (b *base) Capabilities() Capabilities {
	return Capabilities{
		Vendor:           b.vendor,
		Model:            b.cfg.Model,
		Modes:            b.cfg.Modes,
		BillsFailedCalls: b.cfg.BillsFailedCalls,
	}
}

// preflight rejects calls that cannot succeed without touching the network.
func (b *base) preflight(opts models.Options) error {
	if b.cfg.APIKey == "" {
		return &Error{Provider: b.cfg.ID, Kind: Fatal, Err: fmt.Errorf("no API key configured")}
	}
	if !b.Capabilities().Supports(opts.Focus) {
		return &Error{Provider: b.cfg.ID, Kind: Unsupported, Err: fmt.Errorf("focus %q not supported", opts.Focus)}
	}
	return nil
}

func (b *base) model(opts models.Options) string {
	if opts.Model != "" {
		return opts.Model
	}
	return b.cfg.Model
}

func maxTokens(opts models.Options) int {
	if opts.MaxTokens > 0 {
		return opts.MaxTokens
	}
	return defaultMaxTokens
}

func temperature(opts models.Options) *float64 {
	if opts.Temperature > 0 {
		t := opts.Temperature
		return &t
	}
	return nil
}
