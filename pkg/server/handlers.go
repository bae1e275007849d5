package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/pario-ai/parley/pkg/models"
	"github.com/pario-ai/parley/pkg/orchestrator"
	"github.com/pario-ai/parley/pkg/router"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ReviewRequest is the body of POST /v1/review, /v1/plan and /v1/quote.
type ReviewRequest struct {
	Prompt       string   `json:"prompt"`
	Providers    []string `json:"providers,omitempty"`
	Focus        string   `json:"focus,omitempty"`
	Model        string   `json:"model,omitempty"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	MaxTokens    int      `json:"max_tokens,omitempty"`
	Temperature  float64  `json:"temperature,omitempty"`
	// DeadlineMs bounds the review. Zero uses the configured deadline.
	DeadlineMs int64 `json:"deadline_ms,omitempty"`
	NoCache    bool  `json:"no_cache,omitempty"`
	// CacheTTLMs is the lifetime of answers cached by this request.
	CacheTTLMs int64 `json:"cache_ttl_ms,omitempty"`
}

func (rr ReviewRequest) toRequest(now time.Time) orchestrator.Request {
	req := orchestrator.Request{
		Prompt:    rr.Prompt,
		Providers: rr.Providers,
		Options: models.Options{
			Focus:        models.Focus(rr.Focus),
			Model:        rr.Model,
			SystemPrompt: rr.SystemPrompt,
			MaxTokens:    rr.MaxTokens,
			Temperature:  rr.Temperature,
		},
		NoCache:  rr.NoCache,
		CacheTTL: time.Duration(rr.CacheTTLMs) * time.Millisecond,
	}
	if rr.DeadlineMs > 0 {
		req.Deadline = now.Add(time.Duration(rr.DeadlineMs) * time.Millisecond)
	}
	return req
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// respondReviewError maps request-level orchestrator errors to statuses.
func respondReviewError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrEmptyPrompt),
		errors.Is(err, orchestrator.ErrInvalidFocus),
		errors.Is(err, orchestrator.ErrNoProviders),
		errors.Is(err, router.ErrUnknownProvider):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, orchestrator.ErrClosed):
		respondError(w, http.StatusServiceUnavailable, "shutting_down", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func decodeReview(w http.ResponseWriter, r *http.Request) (ReviewRequest, bool) {
	var rr ReviewRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&rr); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return rr, false
	}
	return rr, true
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	rr, ok := decodeReview(w, r)
	if !ok {
		return
	}
	res, err := s.deps.Orchestrator.Review(r.Context(), rr.toRequest(time.Now()))
	if err != nil {
		respondReviewError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	rr, ok := decodeReview(w, r)
	if !ok {
		return
	}
	res, err := s.deps.Orchestrator.Plan(r.Context(), rr.toRequest(time.Now()))
	if err != nil {
		respondReviewError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	rr, ok := decodeReview(w, r)
	if !ok {
		return
	}
	quotes, err := s.deps.Orchestrator.Quote(rr.toRequest(time.Now()))
	if err != nil {
		respondReviewError(w, err)
		return
	}
	var total float64
	for _, q := range quotes {
		total += q.EstimatedCost
	}
	respondJSON(w, http.StatusOK, map[string]any{"quotes": quotes, "estimated_cost": total})
}

// durationParam parses an optional Go duration query parameter.
func durationParam(r *http.Request, name string) (time.Duration, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%s must be a non-negative duration such as 24h", name)
	}
	return d, nil
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	since, err := durationParam(r, "since")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	var from time.Time
	if since > 0 {
		from = time.Now().Add(-since)
	}
	summary, err := s.deps.Ledger.Summary(r.Context(), from)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "ledger_unavailable", err.Error())
		return
	}
	if summary == nil {
		summary = []models.UsageSummary{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"usage": summary})
}

func (s *Server) handleBudget(w http.ResponseWriter, r *http.Request) {
	if s.deps.Budget == nil {
		respondError(w, http.StatusNotFound, "budget_disabled", "budget enforcement is disabled")
		return
	}
	statuses, err := s.deps.Budget.Status(r.Context(), r.URL.Query().Get("provider"))
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "ledger_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"budgets": statuses})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cache == nil {
		respondError(w, http.StatusNotFound, "cache_disabled", "response cache is disabled")
		return
	}
	stats, err := s.deps.Cache.Stats()
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "cache_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cache == nil {
		respondError(w, http.StatusNotFound, "cache_disabled", "response cache is disabled")
		return
	}
	olderThan, err := durationParam(r, "older_than")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	n, err := s.deps.Cache.Clear(olderThan)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "cache_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"providers": s.deps.Registry.IDs(),
	})
}
