// Package mcp serves parley as a Model Context Protocol tool server over
// stdio, one JSON-RPC 2.0 message per line.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/pario-ai/parley/pkg/models"
	"github.com/pario-ai/parley/pkg/orchestrator"
)

// Reviewer runs, plans and quotes reviews. *orchestrator.Orchestrator satisfies it.
type Reviewer interface {
	Review(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
	Plan(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
	Quote(req orchestrator.Request) ([]orchestrator.Quote, error)
}

// UsageSummarizer reports aggregated usage. The ledger satisfies it.
type UsageSummarizer interface {
	Summary(ctx context.Context, since time.Time) ([]models.UsageSummary, error)
}

// CacheStatter provides cache statistics without coupling to a concrete cache implementation.
type CacheStatter interface {
	Stats() (models.CacheStats, error)
}

// BudgetStatuser reports spend against budget policies.
type BudgetStatuser interface {
	Status(ctx context.Context, providerID string) ([]models.BudgetStatus, error)
}

// Server is a minimal MCP server.
type Server struct {
	reviewer Reviewer
	usage    UsageSummarizer
	cache    CacheStatter
	budget   BudgetStatuser
	logger   *zap.Logger
	version  string
	now      func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithCache enables the parley_cache_stats tool.
func WithCache(c CacheStatter) Option { return func(s *Server) { s.cache = c } }

// WithBudget enables the parley_budget tool.
func WithBudget(b BudgetStatuser) Option { return func(s *Server) { s.budget = b } }

// WithLogger sets the logger. It must not write to the protocol stream.
func WithLogger(l *zap.Logger) Option { return func(s *Server) { s.logger = l } }

// New creates a new MCP Server.
func New(reviewer Reviewer, usage UsageSummarizer, version string, opts ...Option) *Server {
	s := &Server{
		reviewer: reviewer,
		usage:    usage,
		logger:   zap.NewNop(),
		version:  version,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run reads JSON-RPC requests from r line-by-line and writes responses to w.
// It blocks until r is closed or ctx is cancelled.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	// Review prompts are whole diffs.
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(w, errorResponse(nil, CodeParseError, "parse error"))
			continue
		}
		if req.JSONRPC != "2.0" || req.Method == "" {
			s.writeResponse(w, errorResponse(req.ID, CodeInvalidRequest, "invalid request"))
			continue
		}

		resp := s.dispatch(ctx, &req)
		if resp == nil || len(req.ID) == 0 {
			continue
		}
		s.writeResponse(w, resp)
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	switch req.Method {
	case "initialize":
		return resultResponse(req.ID, InitializeResult{
			ProtocolVersion: protocolVersion,
			ServerInfo:      ServerInfo{Name: "parley", Version: s.version},
			Capabilities:    map[string]any{"tools": map[string]any{}},
			Instructions:    "Use parley_review to get second opinions on code or plans from several model providers at once.",
		})
	case "notifications/initialized", "notifications/cancelled":
		return nil
	case "ping":
		return resultResponse(req.ID, map[string]any{})
	case "tools/list":
		return resultResponse(req.ID, ToolsListResult{Tools: allTools})
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	default:
		return errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method: %s", req.Method))
	}
}

func (s *Server) handleToolsCall(ctx context.Context, req *Request) *Response {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, CodeInvalidParams, "invalid params")
	}

	handler, ok := toolHandlers[params.Name]
	if !ok {
		return resultResponse(req.ID, errorResult(fmt.Sprintf("unknown tool: %s", params.Name)))
	}

	start := s.now()
	result := handler(ctx, s, params.Arguments)
	s.logger.Debug("tool call",
		zap.String("tool", params.Name),
		zap.Bool("is_error", result.IsError),
		zap.Duration("took", s.now().Sub(start)),
	)
	return resultResponse(req.ID, result)
}

func (s *Server) writeResponse(w io.Writer, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("marshal response", zap.Error(err))
		return
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		s.logger.Error("write response", zap.Error(err))
	}
}
