package router

import (
	"errors"
	"testing"

	"github.com/pario-ai/parley/pkg/provider"
)

func testRegistry(t *testing.T) *provider.Registry {
	t.Helper()
	reg := provider.NewRegistry()
	for _, p := range []provider.Provider{
		provider.NewOpenAI(provider.Config{ID: "openai"}),
		provider.NewGemini(provider.Config{ID: "google"}),
		provider.NewAnthropic(provider.Config{ID: "anthropic"}),
	} {
		if err := reg.Register(p); err != nil {
			t.Fatal(err)
		}
	}
	return reg
}

func ids(ps []provider.Provider) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.ID()
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestResolveByID(t *testing.T) {
	r := New(testRegistry(t), nil, nil)
	got, err := r.Resolve([]string{"google", "openai"})
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"google", "openai"}; !equal(ids(got), want) {
		t.Errorf("got %v, want %v", ids(got), want)
	}
}

func TestResolveWithAlias(t *testing.T) {
	aliases := map[string]string{"gpt": "openai", "gemini": "google", "claude": "anthropic"}
	r := New(testRegistry(t), aliases, nil)

	got, err := r.Resolve([]string{"GPT", " gemini ", "openai"})
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"openai", "google"}; !equal(ids(got), want) {
		t.Errorf("got %v, want %v (duplicates removed)", ids(got), want)
	}
}

func TestResolveDefaults(t *testing.T) {
	r := New(testRegistry(t), map[string]string{"gpt": "openai"}, []string{"gpt", "anthropic"})
	got, err := r.Resolve(nil)
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"openai", "anthropic"}; !equal(ids(got), want) {
		t.Errorf("got %v, want %v", ids(got), want)
	}
}

func TestResolveNoDefaults(t *testing.T) {
	r := New(testRegistry(t), nil, nil)
	got, err := r.Resolve(nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("expected no providers, got %v", ids(got))
	}
}

func TestResolveAll(t *testing.T) {
	r := New(testRegistry(t), nil, nil)
	got, err := r.Resolve([]string{"all"})
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"anthropic", "google", "openai"}; !equal(ids(got), want) {
		t.Errorf("got %v, want %v", ids(got), want)
	}
}

func TestResolveUnknown(t *testing.T) {
	r := New(testRegistry(t), map[string]string{"broken": "missing"}, nil)
	for _, name := range []string{"mistral", "broken"} {
		_, err := r.Resolve([]string{"openai", name})
		if !errors.Is(err, ErrUnknownProvider) {
			t.Errorf("%s: expected ErrUnknownProvider, got %v", name, err)
		}
	}
}
