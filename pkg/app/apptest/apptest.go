// Package apptest provides fakes for tests that need a fully wired parley.
package apptest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/pario-ai/parley/pkg/config"
)

// Upstream is a fake OpenAI-compatible chat completions endpoint.
type Upstream struct {
	*httptest.Server
	calls atomic.Int64
}

// Calls returns the number of requests served.
func (u *Upstream) Calls() int64 { return u.calls.Load() }

// NewUpstream starts an endpoint answering every request with reply, or
// with status when it is not 200. It is closed when the test ends.
func NewUpstream(t *testing.T, status int, reply string) *Upstream {
	t.Helper()
	u := &Upstream{}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.calls.Add(1)
		var req struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"upstream says no"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model": req.Model,
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": reply}},
			},
			"usage": map[string]int{"prompt_tokens": 120, "completion_tokens": 40},
		})
	}))
	t.Cleanup(u.Close)
	return u
}

// Config returns a config with one provider per upstream, keyed by ID, all
// speaking the OpenAI protocol with the gpt-4o price. State lives under
// t.TempDir and retries do not wait.
func Config(t *testing.T, upstreams map[string]*Upstream) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Providers = nil
	cfg.Review.Providers = nil
	for id, u := range upstreams {
		cfg.Providers = append(cfg.Providers, config.ProviderConfig{
			ID:      id,
			Vendor:  "openai",
			Model:   "gpt-4o",
			APIKey:  "test-key",
			BaseURL: u.URL,
		})
		cfg.Review.Providers = append(cfg.Review.Providers, id)
	}
	cfg.Cache.Dir = filepath.Join(dir, "cache")
	cfg.Ledger.Path = filepath.Join(dir, "data", "usage.db")
	cfg.Retry.BaseDelay = 0
	cfg.Retry.MaxDelay = 0
	cfg.Retry.Jitter = false
	return cfg
}
